// Package consolidate builds the per-date cross-sectional snapshot of a
// symbol universe and enforces the minimum-coverage rule.
package consolidate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"mbi/internal/domain"
	"mbi/internal/store"
	"mbi/internal/validate"
	"mbi/internal/window"
)

// SeriesProvider supplies the bar history of one symbol. A missing symbol is
// reported with an error wrapping store.ErrNotFound.
type SeriesProvider interface {
	Series(ctx context.Context, symbol string) (domain.Series, error)
}

var _ SeriesProvider = (*store.ParquetStore)(nil)

// ErrInsufficientCoverage is matched by a *CoverageError.
var ErrInsufficientCoverage = errors.New("insufficient coverage")

// CoverageError rejects a date whose snapshot has too few rows.
type CoverageError struct {
	Date     time.Time
	Rows     int
	Required int
	Universe int
}

func (e *CoverageError) Error() string {
	return fmt.Sprintf("insufficient coverage on %s: %d/%d symbols (minimum %d)",
		domain.FormatDate(e.Date), e.Rows, e.Universe, e.Required)
}

// Is makes CoverageError match ErrInsufficientCoverage.
func (e *CoverageError) Is(target error) bool { return target == ErrInsufficientCoverage }

// Reason says why a symbol contributed nothing.
type Reason string

const (
	ReasonNoSeries      Reason = "no series"
	ReasonEmptySeries   Reason = "empty series"
	ReasonNoBarOnDate   Reason = "no bar on date"
	ReasonProviderError Reason = "provider error"
)

// DataUnavailable records a skipped symbol. Err is set for provider errors.
type DataUnavailable struct {
	Symbol string
	Reason Reason
	Err    error
}

// Result is the outcome of one consolidation.
type Result struct {
	Snapshot    domain.Snapshot
	Unavailable []DataUnavailable
	Issues      int // bar issues found while sanitising series
}

// Consolidator builds snapshots from a SeriesProvider.
type Consolidator struct {
	provider  SeriesProvider
	params    window.Params
	minValid  int
	workers   int
	validator *validate.Validator
	prevClose bool
	log       *slog.Logger
}

// Option customises a Consolidator.
type Option func(*Consolidator)

// WithWorkers bounds the number of symbols processed concurrently.
func WithWorkers(n int) Option {
	return func(c *Consolidator) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithValidator drops invalid bars from each series before windowing.
func WithValidator(v *validate.Validator) Option {
	return func(c *Consolidator) { c.validator = v }
}

// WithPrevClose fills each row's PrevClose from the bar before the date.
func WithPrevClose() Option {
	return func(c *Consolidator) { c.prevClose = true }
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Consolidator) {
		if l != nil {
			c.log = l
		}
	}
}

// New creates a Consolidator. minValid is the coverage threshold.
func New(provider SeriesProvider, params window.Params, minValid int, opts ...Option) *Consolidator {
	c := &Consolidator{
		provider: provider,
		params:   params,
		minValid: minValid,
		workers:  16,
		log:      slog.Default().With("component", "consolidate"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// MinValid returns the coverage threshold.
func (c *Consolidator) MinValid() int { return c.minValid }

// Periods returns the SMA periods computed per row.
func (c *Consolidator) Periods() []int { return c.params.Periods }

type outcome struct {
	row    *domain.SnapshotRow
	skip   *DataUnavailable
	issues int
}

// Consolidate builds the snapshot of universe on date. Symbols without data
// are skipped and listed in the result. When fewer than MinValid rows remain
// the result is still returned, together with a *CoverageError. Only context
// cancellation aborts the run.
func (c *Consolidator) Consolidate(ctx context.Context, date time.Time, universe []string) (Result, error) {
	date = domain.Day(date)
	symbols := dedupe(universe)
	outcomes := make([]outcome, len(symbols))

	sem := make(chan struct{}, c.workers)
	g, gctx := errgroup.WithContext(ctx)

	for i, sym := range symbols {
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			out, err := c.symbol(gctx, date, sym)
			if err != nil {
				return err
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	res := Result{Snapshot: domain.Snapshot{Date: date, Periods: c.params.Periods}}
	for _, o := range outcomes {
		res.Issues += o.issues
		switch {
		case o.row != nil:
			res.Snapshot.Rows = append(res.Snapshot.Rows, *o.row)
		case o.skip != nil:
			res.Unavailable = append(res.Unavailable, *o.skip)
		}
	}
	sort.Slice(res.Snapshot.Rows, func(i, j int) bool {
		return res.Snapshot.Rows[i].Symbol < res.Snapshot.Rows[j].Symbol
	})

	c.log.Debug("consolidated",
		"date", domain.FormatDate(date),
		"universe", len(symbols),
		"rows", res.Snapshot.Len(),
		"unavailable", len(res.Unavailable),
		"issues", res.Issues,
	)

	if n := res.Snapshot.Len(); n < c.minValid {
		return res, &CoverageError{Date: date, Rows: n, Required: c.minValid, Universe: len(symbols)}
	}
	return res, nil
}

// symbol computes one row. The returned error is non-nil only when the
// context is done.
func (c *Consolidator) symbol(ctx context.Context, date time.Time, sym string) (outcome, error) {
	skip := func(r Reason, err error) (outcome, error) {
		return outcome{skip: &DataUnavailable{Symbol: sym, Reason: r, Err: err}}, nil
	}

	s, err := c.provider.Series(ctx, sym)
	if err != nil {
		if ctx.Err() != nil {
			return outcome{}, ctx.Err()
		}
		if errors.Is(err, store.ErrNotFound) {
			return skip(ReasonNoSeries, nil)
		}
		c.log.Warn("series unavailable", "symbol", sym, "error", err)
		return skip(ReasonProviderError, err)
	}

	var issues int
	if c.validator != nil {
		var found []validate.Issue
		s, found = c.validator.Clean(s)
		issues = len(found)
	}
	if s.Len() == 0 {
		return outcome{skip: &DataUnavailable{Symbol: sym, Reason: ReasonEmptySeries}, issues: issues}, nil
	}

	idx := s.IndexOf(date)
	if idx < 0 {
		return outcome{skip: &DataUnavailable{Symbol: sym, Reason: ReasonNoBarOnDate}, issues: issues}, nil
	}

	bars := s.Bars[:idx+1]
	w := window.Over(bars, c.params)
	b := bars[idx]
	row := domain.SnapshotRow{
		Symbol:   sym,
		Open:     b.Open,
		High:     b.High,
		Low:      b.Low,
		Close:    b.Close,
		Volume:   b.Volume,
		High52W:  w.High52W,
		Low52W:   w.Low52W,
		HasRange: w.HasRange,
		SMA:      w.SMA,
	}
	if c.prevClose && idx > 0 {
		row.PrevClose = bars[idx-1].Close
	}
	return outcome{row: &row, issues: issues}, nil
}

func dedupe(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
