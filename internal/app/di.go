// Package app assembles the pipeline and the daemon from configuration.
// The providers are consumed by the Wire injectors under cmd/.
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"

	"mbi/internal/api"
	"mbi/internal/breadth"
	"mbi/internal/calendar"
	"mbi/internal/config"
	"mbi/internal/gather"
	"mbi/internal/ledger"
	"mbi/internal/metrics"
	"mbi/internal/pipeline"
	"mbi/internal/publish"
	"mbi/internal/schedule"
	"mbi/internal/store"
	"mbi/internal/validate"
	"mbi/internal/window"
)

// Universe is the configured symbol list.
type Universe []string

// PipelineSet provides a *pipeline.Runner and its collaborators from a
// *config.Config and a context.Context.
var PipelineSet = wire.NewSet(
	ProvideLocation,
	ProvideHolidaySupply,
	ProvideCalendar,
	ProvideEngine,
	ProvideSchema,
	ProvideMetrics,
	ProvideLedger,
	ProvideBarStore,
	ProvideArchive,
	ProvideValidator,
	ProvideUniverse,
	ProvideGatherer,
	ProvidePublisher,
	ProvideRunner,
)

// DaemonSet adds the network and scheduling layers on top of PipelineSet.
var DaemonSet = wire.NewSet(
	PipelineSet,
	ProvideAPIServer,
	ProvideScheduler,
	wire.Struct(new(Daemon), "*"),
)

// ProvideLocation resolves the market timezone (for Wire).
func ProvideLocation(cfg *config.Config) (*time.Location, error) {
	return cfg.Location()
}

// ProvideHolidaySupply selects the holiday source named by
// cfg.Calendar.Source (for Wire).
func ProvideHolidaySupply(cfg *config.Config) (calendar.HolidaySupply, error) {
	switch cfg.Calendar.Source {
	case "file":
		return calendar.NewFileHolidays(cfg.Calendar.HolidayDir), nil
	case "exchange":
		return calendar.NewExchangeHolidays(cfg.Calendar.MIC)
	case "alpaca":
		if cfg.Alpaca.APIKey == "" {
			return nil, fmt.Errorf("calendar.source alpaca needs alpaca credentials")
		}
		return calendar.NewAlpacaHolidays(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL), nil
	case "static":
		return calendar.ParseHolidays(cfg.Calendar.Holidays)
	default:
		return nil, fmt.Errorf("unknown calendar source %q", cfg.Calendar.Source)
	}
}

// ProvideCalendar creates the trading calendar (for Wire).
func ProvideCalendar(cfg *config.Config, supply calendar.HolidaySupply, loc *time.Location) *calendar.Calendar {
	opts := []calendar.Option{
		calendar.WithLocation(loc),
		calendar.WithMaxSteps(cfg.Calendar.MaxSteps),
	}
	if cfg.Calendar.CacheYears {
		opts = append(opts, calendar.WithYearCache())
	}
	return calendar.New(supply, opts...)
}

// ProvideEngine creates the breadth engine from the breadth parameters.
func ProvideEngine(cfg *config.Config) *breadth.Engine {
	e := breadth.NewEngine(cfg.Breadth.SMAPeriods, cfg.Breadth.CountPeriods, cfg.Breadth.DailyChangeThreshold)
	e.PrevCloseBase = cfg.Breadth.PrevCloseBase
	return e
}

// ProvideSchema returns the ledger columns of e.
func ProvideSchema(e *breadth.Engine) breadth.Schema {
	return e.Schema()
}

// ProvideMetrics registers the pipeline metrics on a fresh registry.
func ProvideMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

// ProvideLedger opens the configured ledger backend and loads it. The
// cleanup closes the backend.
func ProvideLedger(ctx context.Context, cfg *config.Config, schema breadth.Schema, m *metrics.Metrics) (*ledger.Ledger, func(), error) {
	l, err := ledger.OpenFromConfig(ctx, cfg, schema)
	if err != nil {
		return nil, nil, fmt.Errorf("open ledger: %w", err)
	}
	latest, _ := l.LatestDate()
	m.Ledger(l.Len(), latest)
	return l, func() { l.Close() }, nil
}

// ProvideBarStore returns the Parquet bar store under the data directory.
func ProvideBarStore(cfg *config.Config) store.BarStore {
	return store.NewParquetStore(cfg.Storage.DataDir, cfg.Market.Name)
}

// ProvideArchive returns the snapshot archive, or nil when archiving is off.
func ProvideArchive(cfg *config.Config) store.SnapshotStore {
	if !cfg.Storage.ArchiveSnaps {
		return nil
	}
	return store.NewSnapshotArchive(snapshotDir(cfg))
}

func snapshotDir(cfg *config.Config) string {
	return filepath.Join(cfg.Storage.DataDir, "snapshots")
}

// ProvideValidator returns the bar validator, or nil when invalid bars are
// kept.
func ProvideValidator(cfg *config.Config) *validate.Validator {
	if !cfg.Validation.DropInvalidBars {
		return nil
	}
	v := validate.New()
	v.MinPrice = cfg.Validation.MinPrice
	v.MinVolume = cfg.Validation.MinVolume
	v.JumpThresholdPct = cfg.Validation.JumpThresholdPct
	return v
}

// ProvideUniverse loads the symbol list.
func ProvideUniverse(cfg *config.Config) (Universe, error) {
	syms, err := gather.LoadCSVSymbols(cfg.Market.UniverseFile)
	if err != nil {
		return nil, fmt.Errorf("load universe: %w", err)
	}
	if len(syms) == 0 {
		return nil, fmt.Errorf("universe file %s lists no symbols", cfg.Market.UniverseFile)
	}
	return Universe(syms), nil
}

// ProvideGatherer returns the Alpaca download job, or nil when gathering is
// disabled or no credentials are configured.
func ProvideGatherer(cfg *config.Config, bars store.BarStore, loc *time.Location, m *metrics.Metrics) *gather.DailyBarJob {
	if !cfg.Gather.Enabled || cfg.Alpaca.APIKey == "" {
		return nil
	}
	f := gather.NewAlpacaFetcher(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL, cfg.Alpaca.Feed, loc)
	return gather.NewDailyBarJob(f, bars, gather.Options{
		BatchSize:       cfg.Gather.BatchSize,
		Workers:         cfg.Gather.MaxWorkers,
		RateLimitPerMin: cfg.Gather.RateLimitPerMin,
		MaxAttempts:     cfg.Gather.MaxAttempts,
		RetryDelay:      cfg.Gather.RetryDelay(),
		ProgressDir:     filepath.Join(cfg.Storage.DataDir, "progress"),
	}, m)
}

// ProvidePublisher connects the Redis publisher when an address is
// configured and returns a no-op publisher otherwise.
func ProvidePublisher(ctx context.Context, cfg *config.Config, schema breadth.Schema) (publish.Publisher, func(), error) {
	if cfg.Redis.Addr == "" {
		return publish.Nop{}, func() {}, nil
	}
	p, err := publish.NewRedisPublisher(ctx, publish.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Channel:  cfg.Redis.Channel,
		Key:      cfg.Redis.Key,
	}, schema)
	if err != nil {
		return nil, nil, err
	}
	return p, func() { p.Close() }, nil
}

// ProvideRunner assembles the pipeline runner.
func ProvideRunner(
	cfg *config.Config,
	cal *calendar.Calendar,
	bars store.BarStore,
	archive store.SnapshotStore,
	engine *breadth.Engine,
	l *ledger.Ledger,
	universe Universe,
	v *validate.Validator,
	g *gather.DailyBarJob,
	p publish.Publisher,
	m *metrics.Metrics,
) *pipeline.Runner {
	paths := map[string]string{
		"bars":   filepath.Join(cfg.Storage.DataDir, cfg.Market.Name),
		"ledger": filepath.Dir(cfg.Storage.LedgerPath),
	}
	if archive != nil {
		paths["snapshots"] = snapshotDir(cfg)
	}
	return pipeline.NewRunner(pipeline.Deps{
		Calendar:       cal,
		Bars:           bars,
		Archive:        archive,
		Engine:         engine,
		Ledger:         l,
		Universe:       universe,
		Window:         window.Params{Periods: cfg.Breadth.SMAPeriods, Trailing: cfg.Breadth.TrailingWindowSize},
		MinValid:       cfg.Breadth.MinValidStocks,
		Workers:        cfg.Breadth.MaxWorkers,
		Validator:      v,
		Gatherer:       g,
		Publisher:      p,
		Metrics:        m,
		HistoricalDays: cfg.Breadth.HistoricalDays,
		Paths:          paths,
	})
}

// ProvideAPIServer creates the HTTP and gRPC read API over the ledger.
func ProvideAPIServer(cfg *config.Config, l *ledger.Ledger, schema breadth.Schema, m *metrics.Metrics) *api.Server {
	return api.NewServer(cfg, l, schema, m)
}

// ProvideScheduler creates the cron scheduler driving Runner.Update.
func ProvideScheduler(ctx context.Context, r *pipeline.Runner, loc *time.Location) *schedule.Scheduler {
	return schedule.New(ctx, r, loc)
}
