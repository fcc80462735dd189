package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"mbi/internal/pipeline"
)

type countingUpdater struct {
	calls atomic.Int32
	err   error
}

func (c *countingUpdater) Update(context.Context) (pipeline.Report, error) {
	c.calls.Add(1)
	return pipeline.Report{RunID: "test"}, c.err
}

func TestRegisterRejectsBadSpec(t *testing.T) {
	s := New(context.Background(), &countingUpdater{}, nil)
	if err := s.Register("not a cron"); err == nil {
		t.Error("expected error for invalid spec")
	}
	if err := s.Register("0 18 * * 1-5"); err != nil {
		t.Errorf("Register: %v", err)
	}
}

func TestNextHonoursLocation(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	s := New(context.Background(), &countingUpdater{}, ny)
	if !s.Next().IsZero() {
		t.Error("Next should be zero before registration")
	}
	if err := s.Register("0 18 * * 1-5"); err != nil {
		t.Fatal(err)
	}
	s.Start()
	defer s.Stop()

	next := s.Next().In(ny)
	if next.Hour() != 18 || next.Minute() != 0 {
		t.Errorf("next run = %v, want 18:00 New York time", next)
	}
	if wd := next.Weekday(); wd == time.Saturday || wd == time.Sunday {
		t.Errorf("next run on %v", wd)
	}
}

func TestRunNow(t *testing.T) {
	for _, err := range []error{nil, errors.New("boom"), pipeline.ErrBusy} {
		u := &countingUpdater{err: err}
		New(context.Background(), u, nil).RunNow()
		if u.calls.Load() != 1 {
			t.Errorf("err=%v: calls = %d", err, u.calls.Load())
		}
	}
}
