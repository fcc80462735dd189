// Package schedule triggers the incremental update on a cron schedule.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"mbi/internal/pipeline"
)

// Updater runs one incremental update.
type Updater interface {
	Update(ctx context.Context) (pipeline.Report, error)
}

// Scheduler runs the updater on a cron spec in the market timezone.
type Scheduler struct {
	Cron    *cron.Cron
	updater Updater
	ctx     context.Context
	log     *slog.Logger
}

// New creates a Scheduler. Jobs run with ctx, which should be cancelled on
// shutdown.
func New(ctx context.Context, u Updater, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		Cron:    cron.New(cron.WithLocation(loc)),
		updater: u,
		ctx:     ctx,
		log:     slog.Default().With("component", "schedule"),
	}
}

// Register adds the daily update at spec.
func (s *Scheduler) Register(spec string) error {
	if _, err := s.Cron.AddFunc(spec, s.RunNow); err != nil {
		return fmt.Errorf("register daily update %q: %w", spec, err)
	}
	s.log.Info("daily update scheduled", "spec", spec)
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.log.Info("scheduler started")
}

// Stop stops the scheduler and waits for a running job to return.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

// RunNow executes the update immediately. An update already in progress is
// left alone.
func (s *Scheduler) RunNow() {
	rep, err := s.updater.Update(s.ctx)
	switch {
	case errors.Is(err, pipeline.ErrBusy):
		s.log.Info("update skipped, another run is in progress")
	case err != nil:
		s.log.Error("scheduled update failed", "run_id", rep.RunID, "error", err)
	default:
		s.log.Info("scheduled update done",
			"run_id", rep.RunID,
			"written", len(rep.Written),
			"rejected", len(rep.Rejected),
			"up_to_date", rep.UpToDate,
		)
	}
}

// Next returns the next activation time, or zero when nothing is scheduled.
func (s *Scheduler) Next() time.Time {
	entries := s.Cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	next := entries[0].Next
	for _, e := range entries[1:] {
		if e.Next.Before(next) {
			next = e.Next
		}
	}
	return next
}
