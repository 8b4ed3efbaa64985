package authn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/scitex/scitex-cloud/pkg/authenticator"
	"github.com/scitex/scitex-cloud/pkg/identity"
	"github.com/scitex/scitex-cloud/pkg/model"
	"github.com/scitex/scitex-cloud/pkg/server/store"
)

// Scheme is the Authorization header scheme for API keys.
const Scheme = "Api-Key"

// KeyStore is the part of store.UsersStore the authenticator needs.
type KeyStore interface {
	FindAPIKey(ctx context.Context, keyHash string) (*model.APIKey, *model.User, error)
	TouchAPIKey(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Authenticator implements API key authentication
type Authenticator struct {
	keys KeyStore
	log  logrus.FieldLogger
	now  func() time.Time
}

// New creates a new API key authenticator
func New(keys KeyStore, log logrus.FieldLogger) *Authenticator {
	return &Authenticator{keys: keys, log: log, now: time.Now}
}

// Name returns the authenticator name
func (a *Authenticator) Name() string {
	return identity.MethodAPIKey
}

// Scheme returns the Authorization scheme
func (a *Authenticator) Scheme() string {
	return Scheme
}

// Authenticate looks the key up by its hash and returns the owner.
func (a *Authenticator) Authenticate(ctx context.Context, input authenticator.Input) (*identity.Identity, error) {
	key, user, err := a.Lookup(ctx, input.Credential)
	if err != nil {
		return nil, err
	}

	now := a.now()
	if err := a.keys.TouchAPIKey(ctx, key.ID, now); err != nil {
		a.log.WithError(err).WithField("key", key.Prefix).Warn("failed to record api key use")
	}

	id := identity.New(user.ID.String(), user.Username, identity.MethodAPIKey).WithKey(key.ID.String())
	if key.ExpiresAt != nil {
		id.WithExpiry(now, *key.ExpiresAt)
	}
	return id, nil
}

// Lookup resolves a plaintext key to its record and owner without
// recording the use.
func (a *Authenticator) Lookup(ctx context.Context, plain string) (*model.APIKey, *model.User, error) {
	if !strings.HasPrefix(plain, model.APIKeyPrefix) {
		return nil, nil, fmt.Errorf("%w: malformed api key", authenticator.ErrUnauthorized)
	}

	key, user, err := a.keys.FindAPIKey(ctx, model.HashAPIKey(plain))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: unknown api key", authenticator.ErrUnauthorized)
		}
		return nil, nil, fmt.Errorf("api key lookup: %w", err)
	}

	if key.ExpiresAt != nil && a.now().After(*key.ExpiresAt) {
		return nil, nil, fmt.Errorf("%w: api key expired", authenticator.ErrUnauthorized)
	}
	return key, user, nil
}
