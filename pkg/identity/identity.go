package identity

import (
	"context"
	"net"
	"time"
)

// ContextKey is a type for context keys to avoid collisions.
type ContextKey string

const (
	// Key is the context key for Identity.
	Key ContextKey = "identity"
)

// Authentication methods.
const (
	MethodAPIKey = "api-key"
	MethodToken  = "token"
)

// Identity represents the authenticated caller of a request.
type Identity struct {
	UserID   string
	Username string
	Method   string // MethodAPIKey or MethodToken

	// KeyID is the API key used, directly or to mint the access token.
	KeyID     string
	IssuedAt  time.Time
	ExpiresAt time.Time

	RemoteIP net.IP
}

// New creates an Identity for a user authenticated with method.
func New(userID, username, method string) *Identity {
	return &Identity{
		UserID:   userID,
		Username: username,
		Method:   method,
		IssuedAt: time.Now(),
	}
}

// WithKey sets the API key id.
func (i *Identity) WithKey(keyID string) *Identity {
	i.KeyID = keyID
	return i
}

// WithExpiry sets the expiry of the credential.
func (i *Identity) WithExpiry(issuedAt, expiresAt time.Time) *Identity {
	i.IssuedAt = issuedAt
	i.ExpiresAt = expiresAt
	return i
}

// WithRemoteIP sets the remote IP address.
func (i *Identity) WithRemoteIP(ip net.IP) *Identity {
	i.RemoteIP = ip
	return i
}

// IsExpired reports whether the credential has an expiry that has passed.
func (i *Identity) IsExpired() bool {
	return !i.ExpiresAt.IsZero() && time.Now().After(i.ExpiresAt)
}

// Owns reports whether the identity is the user with the given id.
func (i *Identity) Owns(userID string) bool {
	return i != nil && i.UserID != "" && i.UserID == userID
}

// Get retrieves the Identity from the context.
func Get(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(Key).(*Identity)
	return id, ok && id != nil
}

// Set stores the Identity in the context.
func Set(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, Key, id)
}

// MustGet retrieves the Identity from the context, panicking if absent.
// Only for handlers mounted behind the auth middleware.
func MustGet(ctx context.Context) *Identity {
	id, ok := Get(ctx)
	if !ok {
		panic("identity not found in context")
	}
	return id
}
