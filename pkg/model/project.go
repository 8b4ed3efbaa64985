package model

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/scitex/scitex-cloud/pkg/signals"
)

// Project is a research project backed by a Gitea repository of the same slug.
type Project struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OwnerID     uuid.UUID `gorm:"column:owner_id;type:uuid;not null" json:"owner_id"`
	Owner       *User     `gorm:"foreignKey:OwnerID" json:"-"`
	Name        string    `gorm:"column:name;not null" json:"name"`
	Slug        string    `gorm:"column:slug;not null" json:"slug"`
	Description string    `gorm:"column:description" json:"description"`
	Private     bool      `gorm:"column:private" json:"private"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Project) TableName() string {
	return "projects"
}

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify turns a project name into a repository-safe slug.
func Slugify(name string) string {
	slug := strings.Trim(slugInvalid.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if len(slug) > 100 {
		slug = strings.TrimRight(slug[:100], "-")
	}
	return slug
}

func (p *Project) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Slug == "" {
		p.Slug = Slugify(p.Name)
	}
	return nil
}

func (p *Project) AfterCreate(tx *gorm.DB) error {
	return p.send(tx, signals.ProjectCreated)
}

func (p *Project) AfterDelete(tx *gorm.DB) error {
	return p.send(tx, signals.ProjectDeleted)
}

// send fires sig with the owner loaded, since receivers address the
// repository as owner/slug.
func (p *Project) send(tx *gorm.DB, sig signals.Signal) error {
	ctx := tx.Statement.Context
	if _, ok := signals.FromContext(ctx); !ok {
		return nil
	}
	if p.Owner == nil || p.Owner.ID != p.OwnerID {
		var owner User
		if err := tx.Session(&gorm.Session{NewDB: true}).Where("id = ?", p.OwnerID).First(&owner).Error; err != nil {
			return err
		}
		p.Owner = &owner
	}
	return signals.Send(ctx, sig, p)
}
