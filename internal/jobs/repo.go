package jobs

import (
	"context"
	"time"

	"remindly/internal/delayqueue"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const DefaultMaxAttempts = 8

// Queue is the in-database delay dispatcher. It satisfies
// delayqueue.Service so the adapter can target it instead of QStash.
type Queue struct {
	DB          *gorm.DB
	MaxAttempts int
}

func NewQueue(db *gorm.DB) *Queue {
	return &Queue{DB: db, MaxAttempts: DefaultMaxAttempts}
}

func (q *Queue) Publish(ctx context.Context, targetURL string, notBefore time.Time, payload []byte) (string, error) {
	maxAttempts := q.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	now := time.Now().UTC()
	if notBefore.IsZero() {
		notBefore = now
	}
	j := Job{
		Handle:      uuid.NewString(),
		Type:        TypeReminderCallback,
		TargetURL:   targetURL,
		Payload:     payload,
		RunAt:       notBefore.UTC(),
		Status:      StatusPending,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := q.DB.WithContext(ctx).Create(&j).Error; err != nil {
		return "", err
	}
	return j.Handle, nil
}

// Delete drops a job that has not started yet. A running, finished or
// unknown job reports delayqueue.ErrJobNotFound.
func (q *Queue) Delete(ctx context.Context, handle string) error {
	res := q.DB.WithContext(ctx).
		Where("handle = ? AND status = ?", handle, StatusPending).
		Delete(&Job{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return delayqueue.ErrJobNotFound
	}
	return nil
}

// Claim one due job atomically using SKIP LOCKED.
// Works on Postgres.
func (q *Queue) Claim(ctx context.Context, workerID string, now time.Time) (*Job, error) {
	var job Job
	err := q.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// requeue jobs whose worker died mid-callback
		if err := tx.Exec(`
update jobs
set status='PENDING', locked_by=null, locked_at=null, updated_at=?
where status='RUNNING' and locked_at is not null and locked_at < ?
`, now, now.Add(-5*time.Minute)).Error; err != nil {
			return err
		}

		// FOR UPDATE SKIP LOCKED ensures no double-claim
		claim := tx.Raw(`
with cte as (
  select id
  from jobs
  where status='PENDING' and run_at <= ?
  order by run_at asc
  for update skip locked
  limit 1
)
update jobs
set status='RUNNING', locked_by=?, locked_at=?, updated_at=?
where id in (select id from cte)
returning *;
`, now, workerID, now, now)

		return claim.Scan(&job).Error
	})
	if err != nil {
		return nil, err
	}
	if job.ID == 0 {
		return nil, nil
	}
	return &job, nil
}

func (q *Queue) MarkDone(ctx context.Context, id uint64) error {
	return q.DB.WithContext(ctx).
		Exec(`update jobs set status='DONE', locked_by=null, locked_at=null, updated_at=? where id=?`, time.Now().UTC(), id).Error
}

func (q *Queue) MarkFailed(ctx context.Context, id uint64, errMsg string) error {
	return q.DB.WithContext(ctx).
		Exec(`update jobs set status='FAILED', last_error=?, locked_by=null, locked_at=null, updated_at=? where id=?`, errMsg, time.Now().UTC(), id).Error
}

func (q *Queue) RetryLater(ctx context.Context, id uint64, attempts int, runAt time.Time, errMsg string) error {
	return q.DB.WithContext(ctx).Exec(`
update jobs
set status='PENDING',
    attempts=?,
    run_at=?,
    locked_by=null,
    locked_at=null,
    last_error=?,
    updated_at=?
where id=?`, attempts, runAt, errMsg, time.Now().UTC(), id).Error
}

// PurgeFinished removes done and failed jobs last touched before cutoff.
func (q *Queue) PurgeFinished(ctx context.Context, before time.Time) (int64, error) {
	res := q.DB.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []string{StatusDone, StatusFailed}, before.UTC()).
		Delete(&Job{})
	return res.RowsAffected, res.Error
}
