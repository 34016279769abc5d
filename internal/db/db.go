package db

import (
	"database/sql"
	"fmt"

	"remindly/internal/auth"
	"remindly/internal/entitlement"
	"remindly/internal/jobs"
	"remindly/internal/notify"
	"remindly/internal/reminder"

	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func Connect(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return gdb, nil
}

// OpenReplica opens a plain database/sql pool (lib/pq) for read-only
// queries built outside gorm.
func OpenReplica(dsn string) (*sql.DB, error) {
	sdb, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	sdb.SetMaxOpenConns(10)
	sdb.SetMaxIdleConns(5)
	return sdb, nil
}

// Models lists every table the service owns.
func Models() []any {
	return []any{
		&reminder.Reminder{},
		&reminder.DeliveryAttempt{},
		&reminder.SnoozeEvent{},
		&jobs.Job{},
		&auth.User{},
		&entitlement.Subscription{},
		&notify.Notification{},
	}
}

func AutoMigrateAndIndexes(gdb *gorm.DB) error {
	// Tables
	if err := gdb.AutoMigrate(Models()...); err != nil {
		return err
	}

	// Helpful indexes
	stmts := []string{
		`create index if not exists idx_reminders_user_remind on reminders(user_id, remind_at);`,
		`create index if not exists idx_reminders_unscheduled on reminders(status, remind_at) where delay_job_id is null;`,
		`create index if not exists idx_reminders_dismissed on reminders(status, updated_at);`,
		`create index if not exists idx_snooze_events_user_time on snooze_events(user_id, snoozed_at desc);`,
		`create index if not exists idx_attempts_reminder on delivery_attempts(reminder_id, sent_at);`,
		`create index if not exists idx_notifications_user_created on notifications(user_id, created_at desc);`,
		`create index if not exists idx_jobs_due on jobs(status, run_at);`,
		`create index if not exists idx_jobs_lock on jobs(status, locked_at);`,
	}
	for _, s := range stmts {
		if err := gdb.Exec(s).Error; err != nil {
			return fmt.Errorf("index exec failed: %w (sql=%s)", err, s)
		}
	}

	return nil
}
