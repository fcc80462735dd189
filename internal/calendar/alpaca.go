package calendar

import (
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"mbi/internal/domain"
)

var _ HolidaySupply = (*AlpacaHolidays)(nil)

// AlpacaHolidays derives holidays from the Alpaca trading calendar: every
// weekday of the year without a session.
type AlpacaHolidays struct {
	client *alpaca.Client
}

// NewAlpacaHolidays creates a supply using the given Alpaca credentials.
func NewAlpacaHolidays(apiKey, apiSecret, baseURL string) *AlpacaHolidays {
	return &AlpacaHolidays{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
	}
}

// Holidays lists the weekday closures of year.
func (a *AlpacaHolidays) Holidays(year int) ([]time.Time, error) {
	start := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(year, 12, 31, 0, 0, 0, 0, time.UTC)

	sessions, err := a.client.GetCalendar(alpaca.GetCalendarRequest{
		Start: start,
		End:   end,
	})
	if err != nil {
		return nil, fmt.Errorf("GetCalendar %d: %w", year, err)
	}
	// An empty answer means the broker has no calendar for the year, not
	// that every day is closed.
	if len(sessions) == 0 {
		return nil, fmt.Errorf("no sessions returned for %d", year)
	}

	open := make(map[string]struct{}, len(sessions))
	for _, s := range sessions {
		open[s.Date] = struct{}{}
	}
	return weekdaysMissing(year, open), nil
}

// weekdaysMissing returns the weekdays of year whose YYYY-MM-DD key is not in
// open.
func weekdaysMissing(year int, open map[string]struct{}) []time.Time {
	var out []time.Time
	for d := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC); d.Year() == year; d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		if _, ok := open[domain.FormatDate(d)]; !ok {
			out = append(out, d)
		}
	}
	return out
}
