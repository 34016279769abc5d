package delayqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"remindly/internal/metrics"

	"go.uber.org/zap"
)

// Adapter wraps a Service with the reminder callback target, a per-call
// timeout and the deployment guard. When Enabled is false (callback not
// publicly reachable) every call is a silent no-op.
type Adapter struct {
	svc         Service
	enabled     bool
	callbackURL string
	timeout     time.Duration
	logger      *zap.Logger
}

type AdapterOptions struct {
	Enabled     bool
	CallbackURL string
	Timeout     time.Duration
}

func NewAdapter(svc Service, opts AdapterOptions, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Adapter{
		svc:         svc,
		enabled:     opts.Enabled && svc != nil,
		callbackURL: opts.CallbackURL,
		timeout:     opts.Timeout,
		logger:      logger,
	}
}

func (a *Adapter) Enabled() bool { return a.enabled }

// Schedule asks the delay service to call back no earlier than fireAt.
// It returns ("", nil) when scheduling is disabled.
func (a *Adapter) Schedule(ctx context.Context, reminderID uint64, fireAt time.Time) (string, error) {
	if !a.enabled {
		a.logger.Debug("delay queue disabled, skipping schedule", zap.Uint64("reminder_id", reminderID))
		return "", nil
	}

	payload, err := EncodePayload(reminderID)
	if err != nil {
		return "", &SchedulingError{ReminderID: reminderID, Op: "schedule", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	jobID, err := a.svc.Publish(ctx, a.callbackURL, fireAt, payload)
	if err != nil {
		metrics.IncSchedulingError("schedule")
		return "", &SchedulingError{ReminderID: reminderID, Op: "schedule", Err: err}
	}
	if jobID == "" {
		metrics.IncSchedulingError("schedule")
		return "", &SchedulingError{ReminderID: reminderID, Op: "schedule", Err: fmt.Errorf("empty job id")}
	}
	return jobID, nil
}

// Cancel removes a scheduled job. It never fails: false means the handle was
// stale or the service could not be reached, and callers proceed either way.
func (a *Adapter) Cancel(ctx context.Context, handle string) bool {
	if !a.enabled || handle == "" {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if err := a.svc.Delete(ctx, handle); err != nil {
		if !errors.Is(err, ErrJobNotFound) {
			metrics.IncSchedulingError("cancel")
			a.logger.Warn("delay job cancel failed", zap.String("job_id", handle), zap.Error(err))
		}
		return false
	}
	return true
}

// Reschedule cancels oldHandle (ignoring the result) and schedules a new job.
// The caller must already have persisted the new timing.
func (a *Adapter) Reschedule(ctx context.Context, oldHandle *string, reminderID uint64, fireAt time.Time) (string, error) {
	if oldHandle != nil {
		_ = a.Cancel(ctx, *oldHandle)
	}
	return a.Schedule(ctx, reminderID, fireAt)
}
