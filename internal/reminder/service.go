package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"remindly/internal/metrics"

	"go.uber.org/zap"
)

var (
	ErrValidation = errors.New("invalid input")
	ErrConflict   = errors.New("concurrent update")
)

const (
	MaxMessageLength = 1000
	MaxSnoozeMinutes = 7 * 24 * 60
	DefaultMethod    = "email"
)

// Scheduler is the delay-queue side of the controller. Cancel and
// Reschedule are best-effort by contract.
type Scheduler interface {
	Schedule(ctx context.Context, reminderID uint64, fireAt time.Time) (string, error)
	Cancel(ctx context.Context, handle string) bool
	Reschedule(ctx context.Context, oldHandle *string, reminderID uint64, fireAt time.Time) (string, error)
}

// Service owns the user-facing transitions (create, snooze, dismiss) and
// keeps the external schedule in line with the stored reminder. The stored
// row always wins: scheduler failures are logged, never surfaced.
type Service struct {
	Store     *Store
	Scheduler Scheduler
	Logger    *zap.Logger
	Now       func() time.Time
}

func NewService(store *Store, scheduler Scheduler, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{Store: store, Scheduler: scheduler, Logger: logger, Now: time.Now}
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

type CreateInput struct {
	Message            string
	RemindAt           time.Time
	Tone               string
	NotificationMethod string
}

func (s *Service) Create(ctx context.Context, userID uint64, in CreateInput) (*Reminder, error) {
	msg := strings.TrimSpace(in.Message)
	if msg == "" {
		return nil, invalid("message is required")
	}
	if utf8.RuneCountInString(msg) > MaxMessageLength {
		return nil, invalid("message is longer than %d characters", MaxMessageLength)
	}
	if in.RemindAt.IsZero() {
		return nil, invalid("remind_at is required")
	}
	if !in.RemindAt.After(s.now()) {
		return nil, invalid("remind_at must be in the future")
	}

	tone := strings.ToLower(strings.TrimSpace(in.Tone))
	if tone == "" {
		tone = ToneFriendly
	}
	if !ValidTone(tone) {
		return nil, invalid("unknown tone %q", in.Tone)
	}

	method := in.NotificationMethod
	if strings.TrimSpace(method) == "" {
		method = DefaultMethod
	}
	method, err := NormalizeMethod(method)
	if err != nil {
		return nil, invalid("%v", err)
	}

	r := &Reminder{
		UserID:             userID,
		Message:            msg,
		RemindAt:           in.RemindAt.UTC().Truncate(time.Microsecond),
		Tone:               tone,
		NotificationMethod: method,
		Status:             StatusPending,
	}
	if err := s.Store.Create(ctx, r); err != nil {
		return nil, err
	}
	metrics.IncRemindersCreated()

	s.attachJob(ctx, r)
	return r, nil
}

// EnsureScheduled gives a deliverable reminder without a job handle a fresh
// external job. It reports whether r now has one.
func (s *Service) EnsureScheduled(ctx context.Context, r *Reminder) bool {
	if r.DelayJobID != nil {
		return true
	}
	if !Deliverable(r.Status) {
		return false
	}
	s.attachJob(ctx, r)
	return r.DelayJobID != nil
}

// Requeue replaces the job of a stalled deliverable reminder with one that
// fires now. It reports whether the new handle was stored.
func (s *Service) Requeue(ctx context.Context, r *Reminder) bool {
	if !Deliverable(r.Status) {
		return false
	}
	log := s.Logger.With(zap.Uint64("reminder_id", r.ID))

	handle, err := s.Scheduler.Reschedule(ctx, r.DelayJobID, r.ID, s.now())
	if err != nil {
		log.Warn("requeue failed", zap.Error(err))
		if r.DelayJobID != nil {
			if _, err := s.Store.SwapJobHandle(ctx, r.ID, r.DelayJobID, nil); err != nil {
				log.Warn("clear stale job handle", zap.Error(err))
			}
		}
		return false
	}
	if handle == "" {
		return false
	}

	ok, err := s.Store.SwapJobHandle(ctx, r.ID, r.DelayJobID, &handle)
	if err != nil || !ok {
		log.Info("requeued job superseded, cancelling", zap.String("job_id", handle), zap.Error(err))
		s.Scheduler.Cancel(ctx, handle)
		return false
	}
	r.DelayJobID = &handle
	return true
}

func (s *Service) attachJob(ctx context.Context, r *Reminder) {
	handle, err := s.Scheduler.Schedule(ctx, r.ID, r.RemindAt)
	if err != nil {
		s.Logger.Warn("reminder left unscheduled",
			zap.Uint64("reminder_id", r.ID), zap.Error(err))
		return
	}
	if handle == "" {
		return
	}

	ok, err := s.Store.SwapJobHandle(ctx, r.ID, nil, &handle)
	if err != nil || !ok {
		s.Logger.Warn("job handle not stored, cancelling job",
			zap.Uint64("reminder_id", r.ID), zap.String("job_id", handle), zap.Error(err))
		s.Scheduler.Cancel(ctx, handle)
		return
	}
	r.DelayJobID = &handle
}

func (s *Service) Get(ctx context.Context, userID, id uint64) (*Reminder, error) {
	return s.Store.Get(ctx, userID, id)
}

func (s *Service) List(ctx context.Context, userID uint64, statuses []Status, limit int) ([]Reminder, error) {
	return s.Store.ListByUser(ctx, userID, statuses, limit)
}

func (s *Service) Attempts(ctx context.Context, userID, id uint64) ([]DeliveryAttempt, error) {
	if _, err := s.Store.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	return s.Store.Attempts(ctx, id)
}

// Snooze defers the reminder by minutes from its current remind_at. The new
// timing is persisted first; rescheduling the external job is best-effort.
func (s *Service) Snooze(ctx context.Context, userID, id uint64, minutes int) (*Reminder, error) {
	if minutes <= 0 || minutes > MaxSnoozeMinutes {
		return nil, invalid("minutes must be between 1 and %d", MaxSnoozeMinutes)
	}

	var (
		r     *Reminder
		newAt time.Time
	)
	for attempt := 0; ; attempt++ {
		var err error
		r, err = s.Store.Get(ctx, userID, id)
		if err != nil {
			return nil, err
		}
		if _, err := Next(r.Status, EventSnooze); err != nil {
			return nil, err
		}

		newAt = r.RemindAt.Add(time.Duration(minutes) * time.Minute)
		now := s.now()
		ok, err := s.Store.UpdateSchedule(ctx, userID, id, r.Version, newAt, SnoozeEvent{
			Minutes:   minutes,
			SnoozedAt: now,
			HourOfDay: now.Hour(),
			Weekday:   int(now.Weekday()),
		})
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		if attempt >= 2 {
			return nil, ErrConflict
		}
	}
	metrics.IncTransition(string(EventSnooze))

	s.rescheduleJob(ctx, id, r.DelayJobID, newAt)
	return s.Store.Get(ctx, userID, id)
}

// rescheduleJob moves the external job to fireAt and swaps the stored
// handle. If a concurrent snooze stored its handle first, whichever job
// matches the stored remind_at survives and the other is cancelled.
func (s *Service) rescheduleJob(ctx context.Context, id uint64, old *string, fireAt time.Time) {
	log := s.Logger.With(zap.Uint64("reminder_id", id))

	handle, err := s.Scheduler.Reschedule(ctx, old, id, fireAt)
	if err != nil {
		log.Warn("reschedule failed, reminder left for reconciliation", zap.Error(err))
		if old != nil {
			if _, err := s.Store.SwapJobHandle(ctx, id, old, nil); err != nil {
				log.Warn("clear stale job handle", zap.Error(err))
			}
		}
		return
	}
	if handle == "" {
		return
	}

	prev := old
	for i := 0; i < 3; i++ {
		ok, err := s.Store.SwapJobHandle(ctx, id, prev, &handle)
		if err != nil {
			log.Warn("store job handle", zap.Error(err))
			s.Scheduler.Cancel(ctx, handle)
			return
		}
		if ok {
			if prev != nil && (old == nil || *prev != *old) {
				s.Scheduler.Cancel(ctx, *prev)
			}
			return
		}

		cur, err := s.Store.Find(ctx, id)
		if err != nil || !Deliverable(cur.Status) || !cur.RemindAt.Equal(fireAt) {
			s.Scheduler.Cancel(ctx, handle)
			return
		}
		prev = cur.DelayJobID
	}
	s.Scheduler.Cancel(ctx, handle)
}

// Dismiss stops the reminder for good. Dismissing twice is not an error.
func (s *Service) Dismiss(ctx context.Context, userID, id uint64) (*Reminder, error) {
	if _, err := s.Store.Get(ctx, userID, id); err != nil {
		return nil, err
	}

	ok, err := s.Store.UpdateStatus(ctx, userID, id, EventDismiss)
	if err != nil {
		return nil, err
	}

	cur, err := s.Store.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		if cur.Status == StatusDismissed {
			return cur, nil
		}
		_, err := Next(cur.Status, EventDismiss)
		return nil, err
	}
	metrics.IncTransition(string(EventDismiss))

	if cur.DelayJobID != nil {
		if !s.Scheduler.Cancel(ctx, *cur.DelayJobID) {
			s.Logger.Info("dismissed reminder job not cancelled",
				zap.Uint64("reminder_id", id), zap.String("job_id", *cur.DelayJobID))
		}
		if _, err := s.Store.SwapJobHandle(ctx, id, cur.DelayJobID, nil); err != nil {
			s.Logger.Warn("clear job handle", zap.Uint64("reminder_id", id), zap.Error(err))
		} else {
			cur.DelayJobID = nil
		}
	}
	return cur, nil
}

// EraseUser deletes all reminder data for userID and cancels live jobs.
func (s *Service) EraseUser(ctx context.Context, userID uint64) error {
	handles, err := s.Store.DeleteUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, h := range handles {
		s.Scheduler.Cancel(ctx, h)
	}
	return nil
}
