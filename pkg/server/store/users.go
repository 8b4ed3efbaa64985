package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/scitex/scitex-cloud/pkg/model"
)

// UsersStore abstracts user and API key storage operations
type UsersStore interface {
	// CreateUser inserts a user. Returns ErrConflict if the username or
	// email is taken.
	CreateUser(ctx context.Context, user *model.User) error

	// GetUser returns a user by id
	GetUser(ctx context.Context, id uuid.UUID) (*model.User, error)

	// GetUserByUsername returns a user by username
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)

	// DeleteUser deletes a user together with its keys, projects and jobs
	DeleteUser(ctx context.Context, user *model.User) error

	// MarkGiteaSynced records the time the user was mirrored to Gitea
	MarkGiteaSynced(ctx context.Context, id uuid.UUID, at time.Time) error

	// CreateAPIKey stores a hashed API key
	CreateAPIKey(ctx context.Context, key *model.APIKey) error

	// FindAPIKey returns the key with the given SHA-256 hash and its owner
	FindAPIKey(ctx context.Context, keyHash string) (*model.APIKey, *model.User, error)

	// TouchAPIKey records the last use of a key
	TouchAPIKey(ctx context.Context, id uuid.UUID, at time.Time) error
}
