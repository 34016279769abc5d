package jobs

import (
	"context"
	"math"
	"time"

	"remindly/internal/metrics"

	"go.uber.org/zap"
)

type jobStore interface {
	Claim(ctx context.Context, workerID string, now time.Time) (*Job, error)
	MarkDone(ctx context.Context, id uint64) error
	MarkFailed(ctx context.Context, id uint64, errMsg string) error
	RetryLater(ctx context.Context, id uint64, attempts int, runAt time.Time, errMsg string) error
}

type Worker struct {
	ID       string
	Jobs     jobStore
	Invoker  Invoker
	Logger   *zap.Logger
	Interval time.Duration
	// Batch caps the jobs handled per tick.
	Batch int
	Now   func() time.Time
}

func NewWorker(id string, q *Queue, inv Invoker, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		ID:       id,
		Jobs:     q,
		Invoker:  inv,
		Logger:   logger.With(zap.String("worker", id)),
		Interval: 800 * time.Millisecond,
		Batch:    32,
		Now:      time.Now,
	}
}

func (w *Worker) now() time.Time {
	if w.Now == nil {
		return time.Now().UTC()
	}
	return w.Now().UTC()
}

func (w *Worker) Run(ctx context.Context) {
	interval := w.Interval
	if interval <= 0 {
		interval = 800 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.Logger.Warn("worker claim error", zap.Error(err))
			}
		}
	}
}

// RunOnce handles due jobs until none are left or Batch is reached.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	batch := w.Batch
	if batch <= 0 {
		batch = 1
	}
	n := 0
	for n < batch && ctx.Err() == nil {
		job, err := w.Jobs.Claim(ctx, w.ID, w.now())
		if err != nil {
			return n, err
		}
		if job == nil {
			return n, nil
		}
		w.handle(ctx, job)
		n++
	}
	return n, nil
}

func (w *Worker) handle(ctx context.Context, job *Job) {
	switch job.Type {
	case TypeReminderCallback:
		w.handleCallback(ctx, job)
	default:
		w.markFailed(ctx, job, "unknown job type")
	}
}

func (w *Worker) handleCallback(ctx context.Context, job *Job) {
	if err := w.Invoker.Invoke(ctx, job.TargetURL, job.Payload); err != nil {
		w.Logger.Info("callback failed",
			zap.String("job", job.Handle), zap.Int("attempt", job.Attempts+1), zap.Error(err))
		w.retry(ctx, job, err.Error())
		return
	}
	if err := w.Jobs.MarkDone(ctx, job.ID); err != nil {
		w.Logger.Warn("mark job done", zap.String("job", job.Handle), zap.Error(err))
	}
	metrics.IncJobProcessed("done")
}

func (w *Worker) markFailed(ctx context.Context, job *Job, errMsg string) {
	if err := w.Jobs.MarkFailed(ctx, job.ID, errMsg); err != nil {
		w.Logger.Warn("mark job failed", zap.String("job", job.Handle), zap.Error(err))
	}
	metrics.IncJobProcessed("failed")
}

func (w *Worker) retry(ctx context.Context, job *Job, errMsg string) {
	attempts := job.Attempts + 1
	if attempts >= job.MaxAttempts {
		w.markFailed(ctx, job, errMsg)
		return
	}

	next := w.now().Add(Backoff(attempts))
	if err := w.Jobs.RetryLater(ctx, job.ID, attempts, next, errMsg); err != nil {
		w.Logger.Warn("requeue job", zap.String("job", job.Handle), zap.Error(err))
	}
	metrics.IncJobProcessed("retry")
}

// Backoff is 2^attempts seconds, capped at ten minutes.
func Backoff(attempts int) time.Duration {
	sec := math.Min(math.Pow(2, float64(attempts)), 600)
	return time.Duration(sec) * time.Second
}
