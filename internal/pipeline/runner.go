// Package pipeline drives the breadth computation over trading dates:
// download, consolidate, reduce and upsert into the ledger.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"mbi/internal/breadth"
	"mbi/internal/calendar"
	"mbi/internal/consolidate"
	"mbi/internal/domain"
	"mbi/internal/gather"
	"mbi/internal/ledger"
	"mbi/internal/metrics"
	"mbi/internal/publish"
	"mbi/internal/store"
	"mbi/internal/validate"
	"mbi/internal/window"
)

var (
	// ErrNotTradingDay is returned when a single date is requested that the
	// market does not trade.
	ErrNotTradingDay = errors.New("not a trading day")

	// ErrInvalidSnapshot is returned when a snapshot fails the pre-flight
	// check before breadth is computed.
	ErrInvalidSnapshot = errors.New("invalid snapshot")

	// ErrBusy is returned when another run holds the runner.
	ErrBusy = errors.New("pipeline already running")
)

// Deps are the collaborators of a Runner. Archive, Validator, Gatherer,
// Publisher and Metrics are optional.
type Deps struct {
	Calendar  *calendar.Calendar
	Bars      store.BarStore
	Archive   store.SnapshotStore
	Engine    *breadth.Engine
	Ledger    *ledger.Ledger
	Universe  []string
	Window    window.Params
	MinValid  int
	Workers   int
	Validator *validate.Validator
	Gatherer  *gather.DailyBarJob
	Publisher publish.Publisher
	Metrics   *metrics.Metrics

	// HistoricalDays is the default look-back of Init, in calendar days.
	HistoricalDays int
	// Paths lists directories reported by Status, keyed by label.
	Paths map[string]string
}

// Runner executes pipeline commands. Only one command runs at a time.
type Runner struct {
	d   Deps
	log *slog.Logger
	mu  sync.Mutex
	now func() time.Time
}

// NewRunner creates a Runner.
func NewRunner(d Deps) *Runner {
	if d.Publisher == nil {
		d.Publisher = publish.Nop{}
	}
	if d.HistoricalDays <= 0 {
		d.HistoricalDays = 365
	}
	if d.Window.Trailing <= 0 {
		d.Window.Trailing = window.DefaultTrailing
	}
	return &Runner{
		d:   d,
		log: slog.Default().With("component", "pipeline"),
		now: time.Now,
	}
}

// Universe returns the configured symbols.
func (r *Runner) Universe() []string { return r.d.Universe }

// Ledger returns the ledger the runner writes to.
func (r *Runner) Ledger() *ledger.Ledger { return r.d.Ledger }

// Rejection records a date skipped for lack of usable data.
type Rejection struct {
	Date time.Time
	Err  error
}

// Report summarises one command.
type Report struct {
	RunID     string
	Command   string
	Start     time.Time // first date considered
	End       time.Time // last date considered
	Dates     int       // trading days considered
	Written   []time.Time
	Rejected  []Rejection
	Fetch     *gather.Summary
	UpToDate  bool
	Cancelled bool
	Started   time.Time
	Finished  time.Time
}

func (r *Runner) begin(command string) (*Report, *slog.Logger, error) {
	if !r.mu.TryLock() {
		return nil, nil, ErrBusy
	}
	rep := &Report{RunID: uuid.NewString(), Command: command, Started: time.Now()}
	return rep, r.log.With("run_id", rep.RunID, "command", command), nil
}

func (r *Runner) finish(rep *Report, log *slog.Logger, err error) {
	rep.Finished = time.Now()
	r.d.Metrics.Run(rep.Command, err)
	latest, _ := r.d.Ledger.LatestDate()
	r.d.Metrics.Ledger(r.d.Ledger.Len(), latest)
	log.Info("run finished",
		"written", len(rep.Written),
		"rejected", len(rep.Rejected),
		"dates", rep.Dates,
		"elapsed", rep.Finished.Sub(rep.Started).Round(time.Millisecond),
		"error", err,
	)
	r.mu.Unlock()
}

// RunDate computes and stores the record of one trading date from the bars
// already in the store.
func (r *Runner) RunDate(ctx context.Context, date time.Time) (domain.BreadthRecord, error) {
	rep, log, err := r.begin("run-date")
	if err != nil {
		return domain.BreadthRecord{}, err
	}
	date = domain.Day(date)
	rep.Start, rep.End = date, date

	var rec domain.BreadthRecord
	if !r.d.Calendar.IsTradingDay(date) {
		err = fmt.Errorf("%s: %w", domain.FormatDate(date), ErrNotTradingDay)
	} else {
		rep.Dates = 1
		rec, err = r.date(ctx, r.consolidator(r.d.Bars), date, log)
		if err == nil {
			rep.Written = append(rep.Written, date)
		}
	}
	r.finish(rep, log, err)
	return rec, err
}

// RunRange computes every trading date in [start, end] from stored bars.
func (r *Runner) RunRange(ctx context.Context, start, end time.Time) (Report, error) {
	rep, log, err := r.begin("run-range")
	if err != nil {
		return Report{}, err
	}
	err = r.runRange(ctx, rep, log, domain.Day(start), domain.Day(end))
	r.finish(rep, log, err)
	return *rep, err
}

// Init downloads history and computes every trading date of the last days
// calendar days up to the previous trading day. days <= 0 uses the default.
func (r *Runner) Init(ctx context.Context, days int) (Report, error) {
	rep, log, err := r.begin("init")
	if err != nil {
		return Report{}, err
	}
	err = r.init(ctx, rep, log, days)
	r.finish(rep, log, err)
	return *rep, err
}

func (r *Runner) init(ctx context.Context, rep *Report, log *slog.Logger, days int) error {
	if days <= 0 {
		days = r.d.HistoricalDays
	}
	end, err := r.d.Calendar.PreviousTradingDay(r.d.Calendar.DayOf(r.now()))
	if err != nil {
		return err
	}
	start := end.AddDate(0, 0, -days)

	if err := r.fetch(ctx, rep, start.AddDate(0, 0, -lookbackDays(r.d.Window)), end); err != nil {
		return err
	}
	return r.runRange(ctx, rep, log, start, end)
}

// Daily downloads and computes one date. A zero date means the previous
// trading day.
func (r *Runner) Daily(ctx context.Context, date time.Time) (Report, error) {
	rep, log, err := r.begin("daily")
	if err != nil {
		return Report{}, err
	}

	err = func() error {
		if date.IsZero() {
			d, err := r.d.Calendar.PreviousTradingDay(r.d.Calendar.DayOf(r.now()))
			if err != nil {
				return err
			}
			date = d
		}
		date = domain.Day(date)
		rep.Start, rep.End = date, date
		if !r.d.Calendar.IsTradingDay(date) {
			return fmt.Errorf("%s: %w", domain.FormatDate(date), ErrNotTradingDay)
		}
		if err := r.fetch(ctx, rep, date.AddDate(0, 0, -7), date); err != nil {
			return err
		}
		return r.runRange(ctx, rep, log, date, date)
	}()

	r.finish(rep, log, err)
	return *rep, err
}

// Update fills the ledger from the day after its latest persisted date up to
// the previous trading day. An empty ledger runs Init.
func (r *Runner) Update(ctx context.Context) (Report, error) {
	rep, log, err := r.begin("update")
	if err != nil {
		return Report{}, err
	}

	err = func() error {
		if err := r.d.Ledger.Reload(ctx); err != nil {
			return err
		}
		latest, ok := r.d.Ledger.LatestDate()
		if !ok {
			log.Info("ledger is empty, running full initialisation")
			rep.Command = "init"
			return r.init(ctx, rep, log, 0)
		}

		target, err := r.d.Calendar.PreviousTradingDay(r.d.Calendar.DayOf(r.now()))
		if err != nil {
			return err
		}
		if !latest.Before(target) {
			rep.UpToDate = true
			rep.Start, rep.End = target, target
			log.Info("ledger is up to date", "latest", domain.FormatDate(latest))
			return nil
		}

		start, err := r.d.Calendar.NextTradingDay(latest)
		if err != nil {
			return err
		}
		if err := r.fetch(ctx, rep, start.AddDate(0, 0, -7), target); err != nil {
			return err
		}
		return r.runRange(ctx, rep, log, start, target)
	}()

	r.finish(rep, log, err)
	return *rep, err
}

// fetch downloads bars over [start, end] when a gatherer is configured. An
// incomplete download is logged; the coverage gate decides what it costs.
func (r *Runner) fetch(ctx context.Context, rep *Report, start, end time.Time) error {
	if r.d.Gatherer == nil {
		return nil
	}
	sum, err := r.d.Gatherer.Run(ctx, r.d.Universe, gather.DateRange{Start: start, End: end})
	rep.Fetch = &sum
	switch {
	case errors.Is(err, gather.ErrIncomplete):
		r.log.Warn("bar download incomplete", "run_id", rep.RunID, "error", err)
		return nil
	case err != nil:
		return fmt.Errorf("downloading bars: %w", err)
	}
	return nil
}

// runRange walks the trading days of [start, end]. Cancellation stops new
// dates; the date in flight completes. Coverage failures are collected, any
// other failure aborts.
func (r *Runner) runRange(ctx context.Context, rep *Report, log *slog.Logger, start, end time.Time) error {
	days := r.d.Calendar.TradingDaysInRange(start, end)
	rep.Start, rep.End, rep.Dates = start, end, len(days)
	if len(days) == 0 {
		return nil
	}

	cons := r.consolidator(r.d.Bars)
	if len(days) > 1 {
		cons = r.consolidator(consolidate.NewMemo(r.d.Bars))
	}
	log.Info("processing dates",
		"start", domain.FormatDate(start),
		"end", domain.FormatDate(end),
		"dates", len(days),
	)

	for i, d := range days {
		if ctx.Err() != nil {
			rep.Cancelled = true
			log.Warn("cancelled", "remaining", len(days)-i)
			return ctx.Err()
		}
		_, err := r.date(context.WithoutCancel(ctx), cons, d, log)
		switch {
		case err == nil:
			rep.Written = append(rep.Written, d)
		case rejectable(err):
			rep.Rejected = append(rep.Rejected, Rejection{Date: d, Err: err})
			log.Warn("date rejected", "date", domain.FormatDate(d), "error", err)
		default:
			return err
		}
		if (i+1)%50 == 0 {
			log.Info("progress", "done", i+1, "dates", len(days))
		}
	}
	return nil
}

func rejectable(err error) bool {
	return errors.Is(err, consolidate.ErrInsufficientCoverage) ||
		errors.Is(err, ErrInvalidSnapshot) ||
		errors.Is(err, breadth.ErrEmptySnapshot)
}

// date runs one trading date end to end.
func (r *Runner) date(ctx context.Context, cons *consolidate.Consolidator, date time.Time, log *slog.Logger) (domain.BreadthRecord, error) {
	t0 := time.Now()
	res, err := cons.Consolidate(ctx, date, r.d.Universe)
	if err != nil {
		r.d.Metrics.Date("coverage", res.Snapshot.Len(), len(res.Unavailable), time.Since(t0))
		return domain.BreadthRecord{}, err
	}
	if ok, reason := validate.Snapshot(res.Snapshot, len(r.d.Universe), cons.MinValid()); !ok {
		r.d.Metrics.Date("invalid", res.Snapshot.Len(), len(res.Unavailable), time.Since(t0))
		return domain.BreadthRecord{}, fmt.Errorf("%s: %w: %s", domain.FormatDate(date), ErrInvalidSnapshot, reason)
	}

	if r.d.Archive != nil {
		if err := r.d.Archive.WriteSnapshot(ctx, res.Snapshot); err != nil {
			log.Warn("archiving snapshot failed", "date", domain.FormatDate(date), "error", err)
		}
	}

	rec, err := r.d.Engine.Compute(res.Snapshot, date)
	if err != nil {
		return domain.BreadthRecord{}, err
	}
	if err := r.d.Ledger.Upsert(ctx, rec); err != nil {
		return domain.BreadthRecord{}, err
	}
	r.d.Metrics.Date("ok", res.Snapshot.Len(), len(res.Unavailable), time.Since(t0))

	if err := r.d.Publisher.Publish(ctx, rec); err != nil {
		log.Warn("publishing record failed", "date", domain.FormatDate(date), "error", err)
	}
	log.Debug("date stored",
		"date", domain.FormatDate(date),
		"rows", res.Snapshot.Len(),
		"unavailable", len(res.Unavailable),
	)
	return rec, nil
}

func (r *Runner) consolidator(p consolidate.SeriesProvider) *consolidate.Consolidator {
	opts := []consolidate.Option{consolidate.WithWorkers(r.d.Workers)}
	if r.d.Validator != nil {
		opts = append(opts, consolidate.WithValidator(r.d.Validator))
	}
	if r.d.Engine.PrevCloseBase {
		opts = append(opts, consolidate.WithPrevClose())
	}
	return consolidate.New(p, r.d.Window, r.d.MinValid, opts...)
}

// lookbackDays is the calendar span holding enough bars for the trailing
// range and the longest SMA before the first computed date.
func lookbackDays(p window.Params) int {
	bars := p.Trailing
	for _, period := range p.Periods {
		bars = max(bars, period)
	}
	return bars*366/252 + 10
}
