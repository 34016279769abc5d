// Package reconcile repairs reminders whose external job was lost and
// removes old dismissed reminders.
package reconcile

import (
	"context"
	"time"

	"remindly/internal/reminder"

	"go.uber.org/zap"
)

type Store interface {
	ListUnscheduled(ctx context.Context, limit int) ([]reminder.Reminder, error)
	ListStalled(ctx context.Context, before, now time.Time, limit int) ([]reminder.Reminder, error)
	PurgeDismissed(ctx context.Context, before time.Time) (int64, error)
}

type Scheduler interface {
	EnsureScheduled(ctx context.Context, r *reminder.Reminder) bool
	Requeue(ctx context.Context, r *reminder.Reminder) bool
}

// JobPurger drops finished local delay jobs. Optional.
type JobPurger interface {
	PurgeFinished(ctx context.Context, before time.Time) (int64, error)
}

type Config struct {
	Interval time.Duration
	Batch    int
	// StallAfter is how long past remind_at a reminder may keep a job
	// without being delivered before it is requeued. Zero disables it.
	StallAfter         time.Duration
	DismissedRetention time.Duration
	JobRetention       time.Duration
}

type Sweeper struct {
	Store     Store
	Scheduler Scheduler
	Jobs      JobPurger
	Config    Config
	Logger    *zap.Logger
	Now       func() time.Time
}

func NewSweeper(store Store, sched Scheduler, jobs JobPurger, cfg Config, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 100
	}
	return &Sweeper{Store: store, Scheduler: sched, Jobs: jobs, Config: cfg, Logger: logger, Now: time.Now}
}

type Report struct {
	Unscheduled int
	Rescheduled int
	Stalled     int
	Requeued    int
	Purged      int64
	JobsPurged  int64
}

func (s *Sweeper) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

// RunOnce does a single pass. Errors from one step do not stop the others;
// the first one is returned.
func (s *Sweeper) RunOnce(ctx context.Context) (Report, error) {
	var (
		rep      Report
		firstErr error
	)
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	list, err := s.Store.ListUnscheduled(ctx, s.Config.Batch)
	keep(err)
	rep.Unscheduled = len(list)
	for i := range list {
		if ctx.Err() != nil {
			break
		}
		if s.Scheduler.EnsureScheduled(ctx, &list[i]) {
			rep.Rescheduled++
		}
	}

	now := s.now()
	if s.Config.StallAfter > 0 {
		stalled, err := s.Store.ListStalled(ctx, now.Add(-s.Config.StallAfter), now, s.Config.Batch)
		keep(err)
		rep.Stalled = len(stalled)
		for i := range stalled {
			if ctx.Err() != nil {
				break
			}
			if s.Scheduler.Requeue(ctx, &stalled[i]) {
				rep.Requeued++
			}
		}
	}

	if s.Config.DismissedRetention > 0 {
		n, err := s.Store.PurgeDismissed(ctx, now.Add(-s.Config.DismissedRetention))
		keep(err)
		rep.Purged = n
	}
	if s.Jobs != nil && s.Config.JobRetention > 0 {
		n, err := s.Jobs.PurgeFinished(ctx, now.Add(-s.Config.JobRetention))
		keep(err)
		rep.JobsPurged = n
	}
	return rep, firstErr
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rep, err := s.RunOnce(ctx)
			if err != nil {
				s.Logger.Warn("reconcile pass failed", zap.Error(err))
			}
			if rep.Unscheduled > 0 || rep.Stalled > 0 || rep.Purged > 0 || rep.JobsPurged > 0 {
				s.Logger.Info("reconcile pass",
					zap.Int("unscheduled", rep.Unscheduled),
					zap.Int("rescheduled", rep.Rescheduled),
					zap.Int("stalled", rep.Stalled),
					zap.Int("requeued", rep.Requeued),
					zap.Int64("purged", rep.Purged),
					zap.Int64("jobs_purged", rep.JobsPurged))
			}
		}
	}
}
