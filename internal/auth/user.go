package auth

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrUserNotFound = errors.New("user not found")

// User is the contact profile for an identity-provider account. ID is the
// token subject.
type User struct {
	ID        uint64  `gorm:"primaryKey;autoIncrement:false"`
	Email     string  `gorm:"type:text;not null"`
	PushToken *string `gorm:"type:text"`
	Timezone  string  `gorm:"type:text;not null"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

type Directory struct {
	DB *gorm.DB
}

func NewDirectory(db *gorm.DB) *Directory {
	return &Directory{DB: db}
}

func (d *Directory) Lookup(ctx context.Context, id uint64) (*User, error) {
	var u User
	if err := d.DB.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (d *Directory) Upsert(ctx context.Context, u *User) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	if u.Timezone == "" {
		u.Timezone = "UTC"
	}
	return d.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "push_token", "timezone", "updated_at"}),
	}).Create(u).Error
}

func (d *Directory) Delete(ctx context.Context, id uint64) error {
	return d.DB.WithContext(ctx).Where("id = ?", id).Delete(&User{}).Error
}
