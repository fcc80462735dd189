// Package gather downloads daily bars for the index universe into the bar
// store.
package gather

import (
	"context"
	"fmt"
	"time"

	"mbi/internal/domain"
)

// BarFetcher downloads the daily bars of several symbols in one request.
// Symbols without data are simply absent from the result.
type BarFetcher interface {
	FetchBars(ctx context.Context, symbols []string, start, end time.Time) (map[string][]domain.Bar, error)
}

// DateRange represents a time range for data fetching.
type DateRange struct {
	Start time.Time
	End   time.Time
}

func (r DateRange) String() string {
	return fmt.Sprintf("%s..%s", domain.FormatDate(r.Start), domain.FormatDate(r.End))
}
