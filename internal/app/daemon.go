package app

import (
	"context"
	"log/slog"

	"mbi/internal/api"
	"mbi/internal/config"
	"mbi/internal/pipeline"
	"mbi/internal/schedule"
)

// Daemon is the long-running service: a cron-driven updater plus the read
// API.
type Daemon struct {
	Config    *config.Config
	Runner    *pipeline.Runner
	Server    *api.Server
	Scheduler *schedule.Scheduler
}

// Run registers the daily schedule, optionally runs one update straight
// away and serves the API until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Scheduler.Register(d.Config.Schedule.DailyCron); err != nil {
		return err
	}
	d.Scheduler.Start()
	defer d.Scheduler.Stop()

	slog.Info("mbi daemon started",
		"universe", len(d.Runner.Universe()),
		"ledger_records", d.Runner.Ledger().Len(),
		"next_update", d.Scheduler.Next(),
	)

	if d.Config.Schedule.RunOnStart {
		go d.Scheduler.RunNow()
	}

	return d.Server.ListenAndServe(ctx)
}
