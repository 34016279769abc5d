package reminder

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
	ChannelInApp Channel = "in_app"
)

// AllChannels is the fan-out order used when a reminder asks for every channel.
var AllChannels = []Channel{ChannelEmail, ChannelPush, ChannelInApp}

func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelPush, ChannelInApp:
		return true
	}
	return false
}

// ParseMethod turns a stored notification_method ("email", "email,push", "all")
// into the ordered, de-duplicated list of channels to fire.
func ParseMethod(method string) ([]Channel, error) {
	method = strings.ToLower(strings.TrimSpace(method))
	if method == "" {
		return nil, fmt.Errorf("notification method is empty")
	}
	if method == "all" {
		return append([]Channel(nil), AllChannels...), nil
	}

	seen := map[Channel]struct{}{}
	out := make([]Channel, 0, 3)
	for _, part := range strings.Split(method, ",") {
		c := Channel(strings.TrimSpace(part))
		if c == "" {
			continue
		}
		if !c.Valid() {
			return nil, fmt.Errorf("unknown channel %q", c)
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("notification method %q has no channels", method)
	}
	return out, nil
}

// NormalizeMethod returns the canonical stored form of a notification method.
func NormalizeMethod(method string) (string, error) {
	if strings.EqualFold(strings.TrimSpace(method), "all") {
		return "all", nil
	}
	chs, err := ParseMethod(method)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(chs))
	for _, c := range chs {
		parts = append(parts, string(c))
	}
	sort.Strings(parts)
	return strings.Join(parts, ","), nil
}

const (
	ToneFriendly = "friendly"
	ToneFormal   = "formal"
	ToneUrgent   = "urgent"
	TonePlayful  = "playful"
)

func ValidTone(t string) bool {
	switch t {
	case ToneFriendly, ToneFormal, ToneUrgent, TonePlayful:
		return true
	}
	return false
}

// Reminder is the source of truth for when and how a reminder fires.
// DelayJobID is only a weak reference to the external job: it can be stale.
type Reminder struct {
	ID                 uint64    `gorm:"primaryKey" json:"id"`
	UserID             uint64    `gorm:"index;not null" json:"user_id"`
	Message            string    `gorm:"type:text;not null" json:"message"`
	RemindAt           time.Time `gorm:"index;not null" json:"remind_at"`
	Tone               string    `gorm:"type:text;not null" json:"tone"`
	NotificationMethod string    `gorm:"type:text;not null" json:"notification_method"`
	Status             Status    `gorm:"type:text;index;not null" json:"status"`

	DelayJobID *string `gorm:"type:text" json:"delay_job_id,omitempty"`

	Version     uint64 `gorm:"not null" json:"version"`
	SnoozeCount int    `gorm:"not null" json:"snooze_count"`

	DispatchToken      *string    `gorm:"type:text" json:"-"`
	DispatchLeaseUntil *time.Time `json:"-"`
	DispatchAttempts   int        `gorm:"not null" json:"dispatch_attempts"`
	LastError          *string    `gorm:"type:text" json:"last_error,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// DeliveryAttempt is the sent log. One row per channel that succeeded on a
// terminal dispatch; failed or retried attempts are never recorded here.
type DeliveryAttempt struct {
	ID                string    `gorm:"primaryKey;size:36"`
	ReminderID        uint64    `gorm:"index;not null"`
	UserID            uint64    `gorm:"index;not null"`
	Channel           Channel   `gorm:"type:text;not null"`
	SentAt            time.Time `gorm:"not null"`
	Success           bool      `gorm:"not null"`
	ProviderMessageID *string   `gorm:"type:text"`
}

// SnoozeEvent is append-only history consumed by the smart snooze estimator.
type SnoozeEvent struct {
	ID         uint64    `gorm:"primaryKey"`
	UserID     uint64    `gorm:"index;not null"`
	ReminderID uint64    `gorm:"index;not null"`
	Minutes    int       `gorm:"not null"`
	SnoozedAt  time.Time `gorm:"index;not null"`
	HourOfDay  int       `gorm:"not null"`
	Weekday    int       `gorm:"not null"`
}
