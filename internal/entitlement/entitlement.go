// Package entitlement answers "may this user use this feature" from the
// user's subscription plan.
package entitlement

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Feature string

const (
	FeatureSmartSnooze       Feature = "smart_snooze"
	FeaturePushNotifications Feature = "push_notifications"
	FeatureSharedReminders   Feature = "shared_reminders"
)

var AllFeatures = []Feature{FeatureSmartSnooze, FeaturePushNotifications, FeatureSharedReminders}

const (
	PlanFree = "free"
	PlanPro  = "pro"
	PlanTeam = "team"
)

var planFeatures = map[string][]Feature{
	PlanFree: nil,
	PlanPro:  {FeatureSmartSnooze, FeaturePushNotifications},
	PlanTeam: AllFeatures,
}

type Checker interface {
	IsFeatureEnabled(ctx context.Context, userID uint64, feature Feature) (bool, error)
}

// PlanAllows reports whether plan includes feature. Unknown plans get nothing.
func PlanAllows(plan string, feature Feature) bool {
	for _, f := range planFeatures[strings.ToLower(plan)] {
		if f == feature {
			return true
		}
	}
	return false
}

type Subscription struct {
	ID               uint64 `gorm:"primaryKey"`
	UserID           uint64 `gorm:"uniqueIndex;not null"`
	Plan             string `gorm:"type:text;not null"`
	Status           string `gorm:"type:text;not null"` // active/trialing/past_due/canceled
	CurrentPeriodEnd *time.Time

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (s Subscription) active(now time.Time) bool {
	switch s.Status {
	case "active", "trialing":
	default:
		return false
	}
	return s.CurrentPeriodEnd == nil || s.CurrentPeriodEnd.After(now)
}

// PlanChecker reads the subscriptions table. No row, an inactive status or
// a lapsed period all mean the free plan.
type PlanChecker struct {
	DB  *gorm.DB
	Now func() time.Time
}

func NewPlanChecker(db *gorm.DB) *PlanChecker {
	return &PlanChecker{DB: db, Now: time.Now}
}

func (c *PlanChecker) now() time.Time {
	if c.Now == nil {
		return time.Now().UTC()
	}
	return c.Now().UTC()
}

func (c *PlanChecker) Plan(ctx context.Context, userID uint64) (string, error) {
	var sub Subscription
	err := c.DB.WithContext(ctx).Where("user_id = ?", userID).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return PlanFree, nil
		}
		return "", err
	}
	if !sub.active(c.now()) {
		return PlanFree, nil
	}
	return strings.ToLower(sub.Plan), nil
}

func (c *PlanChecker) IsFeatureEnabled(ctx context.Context, userID uint64, feature Feature) (bool, error) {
	plan, err := c.Plan(ctx, userID)
	if err != nil {
		return false, err
	}
	return PlanAllows(plan, feature), nil
}

// Upsert stores the user's current subscription, replacing any previous one.
func (c *PlanChecker) Upsert(ctx context.Context, sub Subscription) error {
	now := c.now()
	sub.ID = 0
	sub.CreatedAt = now
	sub.UpdatedAt = now
	return c.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"plan", "status", "current_period_end", "updated_at"}),
	}).Create(&sub).Error
}
