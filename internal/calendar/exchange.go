package calendar

import (
	"fmt"
	"time"

	xcal "github.com/scmhub/calendar"

	"mbi/internal/domain"
)

var _ HolidaySupply = (*ExchangeHolidays)(nil)

// ExchangeHolidays derives holidays from the exchange rules bundled with
// scmhub/calendar: every weekday that is not a business day.
type ExchangeHolidays struct {
	cal *xcal.Calendar
}

// NewExchangeHolidays loads the calendar for the exchange identified by its
// ISO 10383 MIC, e.g. "xnys".
func NewExchangeHolidays(mic string) (*ExchangeHolidays, error) {
	cal := xcal.GetCalendar(mic)
	if cal == nil {
		return nil, fmt.Errorf("no exchange calendar for MIC %q", mic)
	}
	return &ExchangeHolidays{cal: cal}, nil
}

// Location returns the exchange's timezone.
func (e *ExchangeHolidays) Location() *time.Location { return e.cal.Loc }

// Holidays lists the weekday closures of year.
func (e *ExchangeHolidays) Holidays(year int) ([]time.Time, error) {
	var out []time.Time
	for d := time.Date(year, 1, 1, 12, 0, 0, 0, e.cal.Loc); d.Year() == year; d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		if !e.cal.IsBusinessDay(d) {
			out = append(out, domain.Day(d))
		}
	}
	return out, nil
}
