package reminder

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var ErrNotFound = errors.New("not found")

// Store persists reminders. Every user-facing read and write is scoped by
// owner; Find and the dispatch methods are for the callback path and sweeper.
//
// Mutations are single conditional statements (or one transaction) so a
// concurrent reader never sees a partial write. Zero affected rows means
// another writer won and is reported as false, not as an error.
type Store struct {
	DB *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{DB: db}
}

func (s *Store) Create(ctx context.Context, r *Reminder) error {
	if r.Status == "" {
		r.Status = StatusPending
	}
	return s.DB.WithContext(ctx).Create(r).Error
}

func (s *Store) Get(ctx context.Context, userID, id uint64) (*Reminder, error) {
	var r Reminder
	err := s.DB.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&r).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (s *Store) Find(ctx context.Context, id uint64) (*Reminder, error) {
	var r Reminder
	err := s.DB.WithContext(ctx).Where("id = ?", id).First(&r).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (s *Store) ListByUser(ctx context.Context, userID uint64, statuses []Status, limit int) ([]Reminder, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := s.DB.WithContext(ctx).Where("user_id = ?", userID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statusStrings(statuses))
	}

	var out []Reminder
	if err := q.Order("remind_at asc").Order("id asc").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListPending(ctx context.Context, userID uint64, limit int) ([]Reminder, error) {
	return s.ListByUser(ctx, userID, []Status{StatusPending, StatusSnoozed}, limit)
}

// UpdateStatus applies ev if the row is currently in one of ev's sources.
func (s *Store) UpdateStatus(ctx context.Context, userID, id uint64, ev Event) (bool, error) {
	to, err := target(ev)
	if err != nil {
		return false, err
	}
	res := s.DB.WithContext(ctx).Model(&Reminder{}).
		Where("id = ? AND user_id = ? AND status IN ?", id, userID, statusStrings(Sources(ev))).
		Updates(map[string]any{
			"status":     to,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// UpdateSchedule moves remind_at for a snooze and records the snooze event in
// the same transaction. It only applies when the row still has the version
// the caller read and its status allows a snooze.
func (s *Store) UpdateSchedule(ctx context.Context, userID, id, version uint64, remindAt time.Time, ev SnoozeEvent) (bool, error) {
	to, err := target(EventSnooze)
	if err != nil {
		return false, err
	}

	applied := false
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Reminder{}).
			Where("id = ? AND user_id = ? AND version = ? AND status IN ?",
				id, userID, version, statusStrings(Sources(EventSnooze))).
			Updates(map[string]any{
				"remind_at":         remindAt.UTC(),
				"status":            to,
				"version":           gorm.Expr("version + 1"),
				"snooze_count":      gorm.Expr("snooze_count + 1"),
				"dispatch_attempts": 0,
				"last_error":        nil,
				"updated_at":        time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true

		ev.ID = 0
		ev.UserID = userID
		ev.ReminderID = id
		return tx.Create(&ev).Error
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// SwapJobHandle replaces the stored job handle only if it still equals old.
func (s *Store) SwapJobHandle(ctx context.Context, id uint64, old, next *string) (bool, error) {
	q := s.DB.WithContext(ctx).Model(&Reminder{}).Where("id = ?", id)
	if old == nil {
		q = q.Where("delay_job_id IS NULL")
	} else {
		q = q.Where("delay_job_id = ?", *old)
	}
	res := q.Updates(map[string]any{
		"delay_job_id": next,
		"updated_at":   time.Now().UTC(),
	})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ClaimDispatch takes the delivery lease for a deliverable reminder. Only one
// callback can hold an unexpired lease, so concurrent or replayed callbacks
// cannot both send.
func (s *Store) ClaimDispatch(ctx context.Context, id uint64, token string, now, leaseUntil time.Time) (bool, error) {
	res := s.DB.WithContext(ctx).Model(&Reminder{}).
		Where("id = ? AND status IN ?", id, statusStrings(Sources(EventDelivered))).
		Where("(dispatch_token IS NULL OR dispatch_lease_until IS NULL OR dispatch_lease_until < ?)", now.UTC()).
		Updates(map[string]any{
			"dispatch_token":       token,
			"dispatch_lease_until": leaseUntil.UTC(),
			"updated_at":           now.UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ReleaseDispatch gives the lease back after a transient failure so the
// next callback can retry. It returns the attempts consumed this cycle.
func (s *Store) ReleaseDispatch(ctx context.Context, id uint64, token, lastErr string) (int, error) {
	var attempts int
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Reminder{}).
			Where("id = ? AND dispatch_token = ?", id, token).
			Updates(map[string]any{
				"dispatch_token":       nil,
				"dispatch_lease_until": nil,
				"dispatch_attempts":    gorm.Expr("dispatch_attempts + 1"),
				"last_error":           lastErr,
				"updated_at":           time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		var r Reminder
		if err := tx.Select("dispatch_attempts").Where("id = ?", id).First(&r).Error; err != nil {
			return err
		}
		attempts = r.DispatchAttempts
		return nil
	})
	return attempts, err
}

// CompleteResult reports what CompleteDispatch changed.
type CompleteResult struct {
	// Transitioned is false when the status moved away (e.g. a dismiss landed)
	// while the dispatch was in flight.
	Transitioned bool
	// LeaseLost means another dispatcher took over after the lease expired;
	// nothing was written.
	LeaseLost bool
}

// CompleteDispatch finishes a claimed dispatch: applies ev if the reminder is
// still deliverable, writes the sent log and drops the lease, atomically.
func (s *Store) CompleteDispatch(ctx context.Context, id uint64, token string, ev Event, attempts []DeliveryAttempt, lastErr *string) (CompleteResult, error) {
	to, err := target(ev)
	if err != nil {
		return CompleteResult{}, err
	}

	var out CompleteResult
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		res := tx.Model(&Reminder{}).
			Where("id = ? AND dispatch_token = ? AND status IN ?", id, token, statusStrings(Sources(ev))).
			Updates(map[string]any{
				"status":               to,
				"version":              gorm.Expr("version + 1"),
				"dispatch_token":       nil,
				"dispatch_lease_until": nil,
				"last_error":           lastErr,
				"updated_at":           now,
			})
		if res.Error != nil {
			return res.Error
		}
		out.Transitioned = res.RowsAffected == 1

		if !out.Transitioned {
			rel := tx.Model(&Reminder{}).
				Where("id = ? AND dispatch_token = ?", id, token).
				Updates(map[string]any{
					"dispatch_token":       nil,
					"dispatch_lease_until": nil,
					"updated_at":           now,
				})
			if rel.Error != nil {
				return rel.Error
			}
			if rel.RowsAffected == 0 {
				out.LeaseLost = true
				return nil
			}
		}

		if len(attempts) == 0 {
			return nil
		}
		return tx.Create(&attempts).Error
	})
	if err != nil {
		return CompleteResult{}, err
	}
	return out, nil
}

func (s *Store) Attempts(ctx context.Context, reminderID uint64) ([]DeliveryAttempt, error) {
	var out []DeliveryAttempt
	err := s.DB.WithContext(ctx).
		Where("reminder_id = ?", reminderID).
		Order("sent_at asc").
		Find(&out).Error
	return out, err
}

// ListUnscheduled returns deliverable reminders that lost (or never got) an
// external job, oldest first.
func (s *Store) ListUnscheduled(ctx context.Context, limit int) ([]Reminder, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []Reminder
	err := s.DB.WithContext(ctx).
		Where("status IN ? AND delay_job_id IS NULL AND dispatch_token IS NULL",
			statusStrings([]Status{StatusPending, StatusSnoozed})).
		Order("remind_at asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListStalled returns deliverable reminders that still reference a job even
// though remind_at is older than before and no dispatch holds a live lease.
// Their job ran out of callback retries or was dropped by the delay service.
func (s *Store) ListStalled(ctx context.Context, before, now time.Time, limit int) ([]Reminder, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []Reminder
	err := s.DB.WithContext(ctx).
		Where("status IN ? AND delay_job_id IS NOT NULL AND remind_at < ?",
			statusStrings([]Status{StatusPending, StatusSnoozed}), before.UTC()).
		Where("(dispatch_token IS NULL OR dispatch_lease_until IS NULL OR dispatch_lease_until < ?)", now.UTC()).
		Order("remind_at asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// PurgeDismissed hard-deletes dismissed reminders last touched before cutoff.
func (s *Store) PurgeDismissed(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub := tx.Model(&Reminder{}).Select("id").
			Where("status = ? AND updated_at < ?", StatusDismissed, before.UTC())
		if err := tx.Where("reminder_id IN (?)", sub).Delete(&SnoozeEvent{}).Error; err != nil {
			return err
		}
		if err := tx.Where("reminder_id IN (?)", sub).Delete(&DeliveryAttempt{}).Error; err != nil {
			return err
		}
		res := tx.Where("status = ? AND updated_at < ?", StatusDismissed, before.UTC()).Delete(&Reminder{})
		if res.Error != nil {
			return res.Error
		}
		n = res.RowsAffected
		return nil
	})
	return n, err
}

// DeleteUser erases every reminder row owned by userID and returns the job
// handles that were still referenced, so the caller can cancel them.
func (s *Store) DeleteUser(ctx context.Context, userID uint64) ([]string, error) {
	var handles []string
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var live []Reminder
		if err := tx.Select("id", "delay_job_id").
			Where("user_id = ? AND delay_job_id IS NOT NULL", userID).
			Find(&live).Error; err != nil {
			return err
		}
		for _, r := range live {
			handles = append(handles, *r.DelayJobID)
		}

		if err := tx.Where("user_id = ?", userID).Delete(&DeliveryAttempt{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", userID).Delete(&SnoozeEvent{}).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ?", userID).Delete(&Reminder{}).Error
	})
	if err != nil {
		return nil, err
	}
	return handles, nil
}
