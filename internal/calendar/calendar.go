// Package calendar decides which days the market trades and walks between
// trading days. Holidays come from an injected HolidaySupply.
package calendar

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mbi/internal/domain"
)

// DefaultMaxSteps bounds a single Next/Previous walk.
const DefaultMaxSteps = 30

// ErrCalendarExhausted is matched by errors returned when a walk runs out of
// steps without finding a trading day.
var ErrCalendarExhausted = errors.New("calendar exhausted")

// ExhaustedError reports a walk that gave up. Reached is the farthest date
// visited, which callers may use as a best-effort answer.
type ExhaustedError struct {
	From    time.Time
	Reached time.Time
	Steps   int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("no trading day within %d days of %s (reached %s)",
		e.Steps, domain.FormatDate(e.From), domain.FormatDate(e.Reached))
}

// Is makes ExhaustedError match ErrCalendarExhausted.
func (e *ExhaustedError) Is(target error) bool { return target == ErrCalendarExhausted }

// HolidaySupply yields the exchange holidays of one calendar year.
type HolidaySupply interface {
	Holidays(year int) ([]time.Time, error)
}

// Calendar answers trading-day questions for one market.
type Calendar struct {
	supply   HolidaySupply
	loc      *time.Location
	maxSteps int
	log      *slog.Logger

	cacheYears bool
	mu         sync.RWMutex
	years      map[int]map[time.Time]struct{}
}

// Option customises a Calendar.
type Option func(*Calendar)

// WithLocation sets the timezone used to normalise instants to days.
func WithLocation(loc *time.Location) Option {
	return func(c *Calendar) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// WithMaxSteps overrides the walk bound.
func WithMaxSteps(n int) Option {
	return func(c *Calendar) {
		if n > 0 {
			c.maxSteps = n
		}
	}
}

// WithYearCache keeps each year's holiday set after the first lookup.
func WithYearCache() Option {
	return func(c *Calendar) { c.cacheYears = true }
}

// WithLogger sets the logger used for supply errors and exhausted walks.
func WithLogger(l *slog.Logger) Option {
	return func(c *Calendar) {
		if l != nil {
			c.log = l
		}
	}
}

// New creates a Calendar backed by supply. A nil supply means weekends are
// the only closures.
func New(supply HolidaySupply, opts ...Option) *Calendar {
	if supply == nil {
		supply = StaticHolidays(nil)
	}
	c := &Calendar{
		supply:   supply,
		loc:      time.UTC,
		maxSteps: DefaultMaxSteps,
		log:      slog.Default().With("component", "calendar"),
		years:    make(map[int]map[time.Time]struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Location returns the calendar's timezone.
func (c *Calendar) Location() *time.Location { return c.loc }

// DayOf converts an instant to the calendar day it falls on in the market's
// timezone.
func (c *Calendar) DayOf(t time.Time) time.Time {
	return domain.Day(t.In(c.loc))
}

// day reduces date to a calendar day. Midnight UTC is already a day;
// any other instant is placed in the market's timezone first.
func (c *Calendar) day(date time.Time) time.Time {
	if date.Location() == time.UTC && date.Equal(domain.Day(date)) {
		return date
	}
	return c.DayOf(date)
}

// Today returns the current calendar day in the market's timezone.
func (c *Calendar) Today() time.Time {
	return c.DayOf(time.Now())
}

// IsTradingDay reports whether the market trades on date. Weekends never
// trade; weekdays trade unless listed by the holiday supply. Any instant may
// be passed; it is read in the market's timezone unless it is a day value.
func (c *Calendar) IsTradingDay(date time.Time) bool {
	d := c.day(date)
	switch d.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, holiday := c.holidays(d.Year())[d]
	return !holiday
}

// holidays returns the holiday set for year. Supply errors are logged and
// the year is treated as having no holidays.
func (c *Calendar) holidays(year int) map[time.Time]struct{} {
	if c.cacheYears {
		c.mu.RLock()
		set, ok := c.years[year]
		c.mu.RUnlock()
		if ok {
			return set
		}
	}

	days, err := c.supply.Holidays(year)
	if err != nil {
		c.log.Warn("holiday supply failed", "year", year, "error", err)
		return nil
	}
	set := make(map[time.Time]struct{}, len(days))
	for _, h := range days {
		set[domain.Day(h)] = struct{}{}
	}

	if c.cacheYears {
		c.mu.Lock()
		c.years[year] = set
		c.mu.Unlock()
	}
	return set
}

// NextTradingDay returns the first trading day strictly after date.
func (c *Calendar) NextTradingDay(date time.Time) (time.Time, error) {
	return c.walk(date, 1)
}

// PreviousTradingDay returns the last trading day strictly before date.
func (c *Calendar) PreviousTradingDay(date time.Time) (time.Time, error) {
	return c.walk(date, -1)
}

func (c *Calendar) walk(date time.Time, dir int) (time.Time, error) {
	from := c.day(date)
	d := from
	for step := 0; step < c.maxSteps; step++ {
		d = d.AddDate(0, 0, dir)
		if c.IsTradingDay(d) {
			return d, nil
		}
	}
	err := &ExhaustedError{From: from, Reached: d, Steps: c.maxSteps}
	c.log.Error("trading calendar walk exhausted, check the holiday supply",
		"from", domain.FormatDate(from),
		"reached", domain.FormatDate(d),
		"steps", c.maxSteps,
	)
	return d, err
}

// TradingDaysInRange lists the trading days in [start, end], ascending.
func (c *Calendar) TradingDaysInRange(start, end time.Time) []time.Time {
	s, e := c.day(start), c.day(end)
	var days []time.Time
	for d := s; !d.After(e); d = d.AddDate(0, 0, 1) {
		if c.IsTradingDay(d) {
			days = append(days, d)
		}
	}
	return days
}
