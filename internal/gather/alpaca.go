package gather

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"mbi/internal/domain"
)

var _ BarFetcher = (*AlpacaFetcher)(nil)

// AlpacaFetcher fetches daily bars from the Alpaca market-data API.
type AlpacaFetcher struct {
	client *marketdata.Client
	feed   marketdata.Feed
	loc    *time.Location
}

// NewAlpacaFetcher creates a fetcher. Bar timestamps are reduced to days in
// loc, the market's timezone.
func NewAlpacaFetcher(apiKey, apiSecret, dataURL, feed string, loc *time.Location) *AlpacaFetcher {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	if feed == "" {
		feed = "iex"
	}
	if loc == nil {
		loc = time.UTC
	}
	return &AlpacaFetcher{
		client: marketdata.NewClient(opts),
		feed:   marketdata.Feed(feed),
		loc:    loc,
	}
}

// FetchBars fetches daily bars for symbols in a single API call.
func (f *AlpacaFetcher) FetchBars(ctx context.Context, symbols []string, start, end time.Time) (map[string][]domain.Bar, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	multiBars, err := f.client.GetMultiBars(symbols, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     start,
		End:       end.AddDate(0, 0, 1),
		Feed:      f.feed,
	})
	if err != nil {
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}

	out := make(map[string][]domain.Bar, len(multiBars))
	for symbol, alpacaBars := range multiBars {
		bars := make([]domain.Bar, 0, len(alpacaBars))
		for _, ab := range alpacaBars {
			bars = append(bars, domain.Bar{
				Date:   domain.Day(ab.Timestamp.In(f.loc)),
				Open:   ab.Open,
				High:   ab.High,
				Low:    ab.Low,
				Close:  ab.Close,
				Volume: int64(ab.Volume),
			})
		}
		if len(bars) > 0 {
			out[strings.ToUpper(symbol)] = bars
		}
	}
	return out, nil
}
