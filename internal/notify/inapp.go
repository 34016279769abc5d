package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Notification is an in-app message kept for the user's inbox.
type Notification struct {
	ID         string     `gorm:"primaryKey;size:36" json:"id"`
	UserID     uint64     `gorm:"index;not null" json:"-"`
	ReminderID uint64     `gorm:"index;not null" json:"reminder_id"`
	Title      string     `gorm:"type:text;not null" json:"title"`
	Body       string     `gorm:"type:text;not null" json:"body"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
	CreatedAt  time.Time  `gorm:"not null" json:"created_at"`
}

// Pusher is the live side of in-app delivery (the websocket hub).
type Pusher interface {
	Send(userID uint64, v any) int
}

type liveEvent struct {
	Type         string        `json:"type"`
	Notification *Notification `json:"notification"`
}

// InApp stores the notification and pushes it to any open session. The
// stored row is the delivery; the live push is a courtesy.
type InApp struct {
	DB  *gorm.DB
	Hub Pusher
}

func NewInApp(db *gorm.DB, hub Pusher) *InApp {
	return &InApp{DB: db, Hub: hub}
}

func (s *InApp) Send(ctx context.Context, msg Message) (Receipt, error) {
	n := &Notification{
		ID:         uuid.NewString(),
		UserID:     msg.To.UserID,
		ReminderID: msg.ReminderID,
		Title:      msg.Subject,
		Body:       msg.Body,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.DB.WithContext(ctx).Create(n).Error; err != nil {
		return Receipt{}, err
	}
	if s.Hub != nil {
		s.Hub.Send(n.UserID, liveEvent{Type: "reminder", Notification: n})
	}
	return Receipt{ProviderMessageID: n.ID}, nil
}

var ErrNotificationNotFound = errors.New("notification not found")

// Inbox is the read side of in-app notifications.
type Inbox struct {
	DB *gorm.DB
}

func NewInbox(db *gorm.DB) *Inbox {
	return &Inbox{DB: db}
}

func (i *Inbox) List(ctx context.Context, userID uint64, unreadOnly bool, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := i.DB.WithContext(ctx).Where("user_id = ?", userID)
	if unreadOnly {
		q = q.Where("read_at IS NULL")
	}
	var out []Notification
	err := q.Order("created_at desc").Order("id desc").Limit(limit).Find(&out).Error
	return out, err
}

func (i *Inbox) MarkRead(ctx context.Context, userID uint64, id string) error {
	res := i.DB.WithContext(ctx).Model(&Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Where("read_at IS NULL").
		Update("read_at", time.Now().UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var n int64
		if err := i.DB.WithContext(ctx).Model(&Notification{}).
			Where("id = ? AND user_id = ?", id, userID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrNotificationNotFound
		}
	}
	return nil
}

func (i *Inbox) DeleteUser(ctx context.Context, userID uint64) error {
	return i.DB.WithContext(ctx).Where("user_id = ?", userID).Delete(&Notification{}).Error
}
