package gorm

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/scitex/scitex-cloud/pkg/model"
	"github.com/scitex/scitex-cloud/pkg/server/store"
)

// Ensure UsersStore implements store.UsersStore
var _ store.UsersStore = (*UsersStore)(nil)

// UsersStore implements store.UsersStore using GORM
type UsersStore struct {
	db *gorm.DB
}

// NewUsersStore creates a new UsersStore
func NewUsersStore(db *gorm.DB) *UsersStore {
	return &UsersStore{db: db}
}

func (s *UsersStore) CreateUser(ctx context.Context, user *model.User) error {
	return translate(withContext(s.db, ctx).Create(user).Error)
}

func (s *UsersStore) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	var user model.User
	if err := withContext(s.db, ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (s *UsersStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	var user model.User
	if err := withContext(s.db, ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// DeleteUser deletes the user row. Keys, projects and jobs go with it
// through ON DELETE CASCADE.
func (s *UsersStore) DeleteUser(ctx context.Context, user *model.User) error {
	tx := withContext(s.db, ctx).Delete(user)
	if tx.Error != nil {
		return translate(tx.Error)
	}
	if tx.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *UsersStore) MarkGiteaSynced(ctx context.Context, id uuid.UUID, at time.Time) error {
	return withContext(s.db, ctx).Model(&model.User{}).
		Where("id = ?", id).
		Update("gitea_synced_at", at).Error
}

func (s *UsersStore) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	return translate(withContext(s.db, ctx).Create(key).Error)
}

func (s *UsersStore) FindAPIKey(ctx context.Context, keyHash string) (*model.APIKey, *model.User, error) {
	db := withContext(s.db, ctx)

	var key model.APIKey
	if err := db.Where("key_hash = ?", keyHash).First(&key).Error; err != nil {
		return nil, nil, translate(err)
	}

	var user model.User
	if err := db.Where("id = ?", key.UserID).First(&user).Error; err != nil {
		return nil, nil, translate(err)
	}
	return &key, &user, nil
}

func (s *UsersStore) TouchAPIKey(ctx context.Context, id uuid.UUID, at time.Time) error {
	return withContext(s.db, ctx).Model(&model.APIKey{}).
		Where("id = ?", id).
		Update("last_used_at", at).Error
}
