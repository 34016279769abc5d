package jobs

import "time"

const TypeReminderCallback = "REMINDER_CALLBACK"

const (
	StatusPending = "PENDING"
	StatusRunning = "RUNNING"
	StatusDone    = "DONE"
	StatusFailed  = "FAILED"
)

// Job is one delayed callback. Handle is the opaque id handed back to the
// delay-queue adapter; ID stays internal to the table.
type Job struct {
	ID     uint64 `gorm:"primaryKey"`
	Handle string `gorm:"size:36;uniqueIndex;not null"`

	Type      string `gorm:"type:text;not null"` // REMINDER_CALLBACK
	TargetURL string `gorm:"type:text;not null"`
	Payload   []byte `gorm:"not null"`

	RunAt  time.Time `gorm:"index;not null"`
	Status string    `gorm:"index;not null"` // PENDING/RUNNING/DONE/FAILED

	Attempts    int `gorm:"not null"`
	MaxAttempts int `gorm:"not null"`

	LockedBy *string `gorm:"type:text"`
	LockedAt *time.Time

	LastError *string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}
