package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"remindly/internal/delayqueue"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&Job{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewQueue(db)
}

func TestQueuePublishAndDelete(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	h, err := q.Publish(ctx, "http://localhost/hook", at, []byte(`{"reminder_id":1}`))
	if err != nil || h == "" {
		t.Fatalf("Publish = %q, %v", h, err)
	}

	var j Job
	if err := q.DB.Where("handle = ?", h).First(&j).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if j.Status != StatusPending || j.Type != TypeReminderCallback || j.MaxAttempts != DefaultMaxAttempts {
		t.Fatalf("job = %+v", j)
	}
	if !j.RunAt.Equal(at) {
		t.Fatalf("run_at = %s", j.RunAt)
	}

	if err := q.Delete(ctx, h); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := q.Delete(ctx, h); !errors.Is(err, delayqueue.ErrJobNotFound) {
		t.Fatalf("second Delete err = %v", err)
	}
}

func TestQueueDeleteSkipsStartedJobs(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	h, _ := q.Publish(ctx, "http://localhost/hook", time.Now(), []byte(`{}`))

	if err := q.DB.Model(&Job{}).Where("handle = ?", h).Update("status", StatusRunning).Error; err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := q.Delete(ctx, h); !errors.Is(err, delayqueue.ErrJobNotFound) {
		t.Fatalf("Delete running err = %v", err)
	}
}

func TestQueuePurgeFinished(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour).UTC()

	for i, status := range []string{StatusDone, StatusFailed, StatusPending} {
		j := Job{
			Handle: string(rune('a'+i)) + "-handle", Type: TypeReminderCallback, TargetURL: "x",
			Payload: []byte(`{}`), RunAt: old, Status: status, MaxAttempts: 1,
			CreatedAt: old, UpdatedAt: old,
		}
		if err := q.DB.Create(&j).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	n, err := q.PurgeFinished(ctx, time.Now().Add(-24*time.Hour))
	if err != nil || n != 2 {
		t.Fatalf("PurgeFinished = %d, %v", n, err)
	}
	var left int64
	q.DB.Model(&Job{}).Count(&left)
	if left != 1 {
		t.Fatalf("left = %d", left)
	}
}
