package gather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"mbi/internal/domain"
	"mbi/internal/metrics"
	"mbi/internal/store"
	"mbi/internal/util"
)

// ErrIncomplete is returned when some batches could not be downloaded. The
// bars of the successful batches are stored.
var ErrIncomplete = errors.New("download incomplete")

// Options tunes a DailyBarJob.
type Options struct {
	BatchSize       int
	Workers         int
	RateLimitPerMin int
	MaxAttempts     int
	RetryDelay      time.Duration
	ProgressDir     string // holds the per-range progress journal
}

// Summary reports one run.
type Summary struct {
	Range     DateRange
	Symbols   int
	Batches   int
	Hits      int
	Empty     int
	Failed    int
	Bars      int
	Completed bool // an earlier run already finished this range
	Elapsed   time.Duration
}

// DailyBarJob downloads the daily bars of a universe in batches and merges
// them into a BarStore. It is resumable and idempotent per date range.
type DailyBarJob struct {
	fetcher BarFetcher
	store   store.BarStore
	opts    Options
	limiter *util.RateLimiter
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewDailyBarJob creates a job. m may be nil.
func NewDailyBarJob(f BarFetcher, s store.BarStore, opts Options, m *metrics.Metrics) *DailyBarJob {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	return &DailyBarJob{
		fetcher: f,
		store:   s,
		opts:    opts,
		limiter: util.NewRateLimiter(opts.RateLimitPerMin),
		metrics: m,
		log:     slog.Default().With("component", "gather"),
	}
}

// Run fetches bars for universe over rng.
func (j *DailyBarJob) Run(ctx context.Context, universe []string, rng DateRange) (Summary, error) {
	sum := Summary{Range: rng, Symbols: len(universe)}
	runStart := time.Now()

	var jr *journal
	if j.opts.ProgressDir != "" {
		var err error
		jr, err = openJournal(j.opts.ProgressDir, rng)
		if err != nil {
			return sum, fmt.Errorf("opening progress journal: %w", err)
		}
		defer jr.Close()

		if jr.Completed() {
			j.log.Info("range already downloaded", "range", rng.String())
			sum.Completed = true
			return sum, nil
		}
	}

	var remaining []string
	for _, sym := range universe {
		if jr != nil && jr.Seen(sym) {
			continue
		}
		remaining = append(remaining, sym)
	}
	if jr != nil && len(remaining) < len(universe) {
		fetched, empty := jr.Counts()
		j.log.Info("resuming download", "range", rng.String(), "fetched", fetched, "empty", empty)
	}

	batches := Batches(remaining, j.opts.BatchSize)
	sum.Batches = len(batches)
	j.log.Info("starting download",
		"range", rng.String(),
		"symbols", len(universe),
		"remaining", len(remaining),
		"batches", len(batches),
	)

	batchCh := make(chan int, len(batches))
	for i := range batches {
		batchCh <- i
	}
	close(batchCh)

	var (
		wg                       sync.WaitGroup
		hits, empty, failed, nbs atomic.Int64
	)
	workers := min(j.opts.Workers, len(batches))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range batchCh {
				if ctx.Err() != nil {
					return
				}
				h, e, n, err := j.batch(ctx, batches[idx], rng, jr)
				j.metrics.Fetched(n, err)
				if err != nil {
					failed.Add(1)
					j.log.Error("batch failed",
						"batch", fmt.Sprintf("%d/%d", idx+1, len(batches)),
						"error", err,
					)
					continue
				}
				hits.Add(int64(h))
				empty.Add(int64(e))
				nbs.Add(int64(n))
				j.log.Debug("batch done",
					"batch", fmt.Sprintf("%d/%d", idx+1, len(batches)),
					"hits", h,
					"empty", e,
				)
			}
		}()
	}
	wg.Wait()

	sum.Hits, sum.Empty = int(hits.Load()), int(empty.Load())
	sum.Failed, sum.Bars = int(failed.Load()), int(nbs.Load())
	sum.Elapsed = time.Since(runStart).Round(time.Millisecond)

	if ctx.Err() != nil {
		return sum, ctx.Err()
	}
	if sum.Failed > 0 {
		return sum, fmt.Errorf("%w: %d of %d batches failed", ErrIncomplete, sum.Failed, sum.Batches)
	}
	if jr != nil {
		if err := jr.Complete(); err != nil {
			return sum, fmt.Errorf("marking range complete: %w", err)
		}
	}

	j.log.Info("download complete",
		"hits", sum.Hits,
		"empty", sum.Empty,
		"bars", sum.Bars,
		"elapsed", sum.Elapsed,
	)
	return sum, nil
}

// batch downloads one batch with rate limiting and retries, then stores it.
func (j *DailyBarJob) batch(ctx context.Context, symbols []string, rng DateRange, jr *journal) (hits, empty, bars int, err error) {
	var got map[string][]domain.Bar
	err = util.Retry(ctx, j.opts.MaxAttempts, j.opts.RetryDelay, func() error {
		if err := j.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		var ferr error
		got, ferr = j.fetcher.FetchBars(ctx, symbols, rng.Start, rng.End)
		return ferr
	})
	if err != nil {
		return 0, 0, 0, err
	}

	var fetched, emptySymbols []string
	defer func() {
		if jr == nil {
			return
		}
		if jerr := jr.Record(outcomeFetched, fetched); jerr != nil {
			j.log.Error("journal write failed", "error", jerr)
		}
		if jerr := jr.Record(outcomeEmpty, emptySymbols); jerr != nil {
			j.log.Error("journal write failed", "error", jerr)
		}
	}()

	for _, sym := range symbols {
		bs, ok := got[sym]
		if !ok || len(bs) == 0 {
			emptySymbols = append(emptySymbols, sym)
			continue
		}
		if err := j.store.WriteBars(ctx, sym, bs); err != nil {
			return hits, len(emptySymbols), bars, fmt.Errorf("writing %s: %w", sym, err)
		}
		fetched = append(fetched, sym)
		hits++
		bars += len(bs)
	}
	return hits, len(emptySymbols), bars, nil
}
