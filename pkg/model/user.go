package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/scitex/scitex-cloud/pkg/signals"
)

// User is a SciTeX account. Every user is mirrored to a Gitea user of the
// same name.
type User struct {
	ID            uuid.UUID  `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Username      string     `gorm:"column:username;uniqueIndex;not null" json:"username"`
	Email         string     `gorm:"column:email;uniqueIndex;not null" json:"email"`
	GiteaSyncedAt *time.Time `gorm:"column:gitea_synced_at" json:"gitea_synced_at,omitempty"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

func (u *User) AfterCreate(tx *gorm.DB) error {
	return signals.Send(tx.Statement.Context, signals.UserCreated, u)
}

func (u *User) AfterDelete(tx *gorm.DB) error {
	return signals.Send(tx.Statement.Context, signals.UserDeleted, u)
}
