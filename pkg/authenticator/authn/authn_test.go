package authn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/scitex/scitex-cloud/pkg/authenticator"
	"github.com/scitex/scitex-cloud/pkg/identity"
	"github.com/scitex/scitex-cloud/pkg/logging"
	"github.com/scitex/scitex-cloud/pkg/model"
	"github.com/scitex/scitex-cloud/pkg/server/store"
)

type mockKeyStore struct {
	mock.Mock
}

func (m *mockKeyStore) FindAPIKey(ctx context.Context, keyHash string) (*model.APIKey, *model.User, error) {
	args := m.Called(keyHash)
	key, _ := args.Get(0).(*model.APIKey)
	user, _ := args.Get(1).(*model.User)
	return key, user, args.Error(2)
}

func (m *mockKeyStore) TouchAPIKey(ctx context.Context, id uuid.UUID, at time.Time) error {
	return m.Called(id, at).Error(0)
}

func fixture(t *testing.T, expiresAt *time.Time) (*model.APIKey, *model.User, string) {
	t.Helper()
	user := &model.User{ID: uuid.New(), Username: "alice"}
	key, plain, err := model.NewAPIKey(user.ID, "laptop", expiresAt)
	require.NoError(t, err)
	key.ID = uuid.New()
	return key, user, plain
}

func TestAuthenticator_Name(t *testing.T) {
	auth := New(&mockKeyStore{}, logging.Discard())
	assert.Equal(t, "api-key", auth.Name())
	assert.Equal(t, "Api-Key", auth.Scheme())
}

func TestAuthenticator_Authenticate_Success(t *testing.T) {
	keys := &mockKeyStore{}
	key, user, plain := fixture(t, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	keys.On("FindAPIKey", model.HashAPIKey(plain)).Return(key, user, nil)
	keys.On("TouchAPIKey", key.ID, now).Return(nil)

	auth := New(keys, logging.Discard())
	auth.now = func() time.Time { return now }

	id, err := auth.Authenticate(context.Background(), authenticator.Input{Credential: plain})
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), id.UserID)
	assert.Equal(t, "alice", id.Username)
	assert.Equal(t, identity.MethodAPIKey, id.Method)
	assert.Equal(t, key.ID.String(), id.KeyID)
	assert.True(t, id.ExpiresAt.IsZero())
	keys.AssertExpectations(t)
}

func TestAuthenticator_Authenticate_TouchFailureIgnored(t *testing.T) {
	keys := &mockKeyStore{}
	key, user, plain := fixture(t, nil)

	keys.On("FindAPIKey", mock.Anything).Return(key, user, nil)
	keys.On("TouchAPIKey", key.ID, mock.Anything).Return(errors.New("read only"))

	id, err := New(keys, logging.Discard()).Authenticate(context.Background(), authenticator.Input{Credential: plain})
	require.NoError(t, err)
	assert.Equal(t, "alice", id.Username)
}

func TestAuthenticator_Authenticate_Failures(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	expiredKey, user, expiredPlain := fixture(t, &past)

	tests := []struct {
		name         string
		credential   string
		findErr      error
		key          *model.APIKey
		unauthorized bool
	}{
		{name: "malformed", credential: "not-a-key", unauthorized: true},
		{name: "unknown", credential: "stx_unknown", findErr: store.ErrNotFound, unauthorized: true},
		{name: "expired", credential: expiredPlain, key: expiredKey, unauthorized: true},
		{name: "store failure", credential: "stx_whatever", findErr: errors.New("connection refused")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys := &mockKeyStore{}
			if tt.findErr != nil {
				keys.On("FindAPIKey", mock.Anything).Return(nil, nil, tt.findErr)
			} else if tt.key != nil {
				keys.On("FindAPIKey", mock.Anything).Return(tt.key, user, nil)
			}

			_, err := New(keys, logging.Discard()).Authenticate(context.Background(), authenticator.Input{Credential: tt.credential})
			require.Error(t, err)
			assert.Equal(t, tt.unauthorized, errors.Is(err, authenticator.ErrUnauthorized))
			keys.AssertNotCalled(t, "TouchAPIKey", mock.Anything, mock.Anything)
		})
	}
}
