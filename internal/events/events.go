// Package events publishes reminder lifecycle events for downstream
// consumers (analytics, audit).
package events

import (
	"context"
	"time"
)

const (
	TypeReminderSent   = "reminder.sent"
	TypeReminderFailed = "reminder.failed"
)

type ReminderEvent struct {
	Type       string    `json:"type"`
	ReminderID uint64    `json:"reminder_id"`
	UserID     uint64    `json:"user_id"`
	Channels   []string  `json:"channels,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev ReminderEvent) error
	Close() error
}

type Nop struct{}

func (Nop) Publish(context.Context, ReminderEvent) error { return nil }
func (Nop) Close() error                                 { return nil }
