// Package token mints and verifies the short lived HS256 access tokens
// handed out by POST /code/api/auth/token.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/scitex/scitex-cloud/pkg/authenticator"
	"github.com/scitex/scitex-cloud/pkg/identity"
)

const (
	// Scheme is the Authorization header scheme for access tokens.
	Scheme = "Bearer"
	// Issuer is the iss claim of every token.
	Issuer = "scitex-cloud"
)

// ErrNoSecret is returned when no signing secret is configured.
var ErrNoSecret = errors.New("token signing secret is not configured")

// Claims are the claims of an access token.
type Claims struct {
	Username string `json:"name"`
	KeyID    string `json:"kid,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator issues and verifies access tokens.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// New creates a token authenticator signing with secret. Tokens live for ttl.
func New(secret string, ttl time.Duration) (*Authenticator, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token lifetime must be positive, got %s", ttl)
	}
	return &Authenticator{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Name returns the authenticator name
func (a *Authenticator) Name() string {
	return identity.MethodToken
}

// Scheme returns the Authorization scheme
func (a *Authenticator) Scheme() string {
	return Scheme
}

// Issue mints a token for the authenticated identity.
func (a *Authenticator) Issue(id *identity.Identity) (string, time.Time, error) {
	now := a.now()
	expiresAt := now.Add(a.ttl)
	claims := Claims{
		Username: id.Username,
		KeyID:    id.KeyID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Authenticate verifies signature, issuer and expiry of a token.
func (a *Authenticator) Authenticate(_ context.Context, input authenticator.Input) (*identity.Identity, error) {
	claims, err := a.Parse(input.Credential)
	if err != nil {
		return nil, err
	}

	var issuedAt time.Time
	if claims.IssuedAt != nil {
		issuedAt = claims.IssuedAt.Time
	}
	id := identity.New(claims.Subject, claims.Username, identity.MethodToken).WithKey(claims.KeyID)
	return id.WithExpiry(issuedAt, claims.ExpiresAt.Time), nil
}

// Parse validates tokenString and returns its claims.
func (a *Authenticator) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", authenticator.ErrUnauthorized, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", authenticator.ErrUnauthorized)
	}
	return claims, nil
}
