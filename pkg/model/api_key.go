package model

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// APIKeyPrefix starts every plaintext API key.
const APIKeyPrefix = "stx_"

// APIKey is a long-lived credential. Only the SHA-256 of the key is stored;
// the plaintext is shown once at creation.
type APIKey struct {
	ID         uuid.UUID  `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID     uuid.UUID  `gorm:"column:user_id;type:uuid;not null;index" json:"user_id"`
	Name       string     `gorm:"column:name;not null" json:"name"`
	Prefix     string     `gorm:"column:prefix;not null" json:"prefix"`
	KeyHash    string     `gorm:"column:key_hash;uniqueIndex;not null" json:"-"`
	LastUsedAt *time.Time `gorm:"column:last_used_at" json:"last_used_at,omitempty"`
	ExpiresAt  *time.Time `gorm:"column:expires_at" json:"expires_at,omitempty"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (APIKey) TableName() string {
	return "api_keys"
}

func (k *APIKey) BeforeCreate(tx *gorm.DB) error {
	if k.ID == uuid.Nil {
		k.ID = uuid.New()
	}
	return nil
}

// IsExpired returns true if the key has an expiration time that has passed
func (k *APIKey) IsExpired() bool {
	if k.ExpiresAt == nil {
		return false
	}
	return time.Now().After(*k.ExpiresAt)
}

// NewAPIKey generates a key for userID and returns the record to store
// together with the plaintext key.
func NewAPIKey(userID uuid.UUID, name string, expiresAt *time.Time) (*APIKey, string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, "", fmt.Errorf("generate api key: %w", err)
	}
	plain := APIKeyPrefix + base64.RawURLEncoding.EncodeToString(buf)
	return &APIKey{
		UserID:    userID,
		Name:      name,
		Prefix:    plain[:len(APIKeyPrefix)+8],
		KeyHash:   HashAPIKey(plain),
		ExpiresAt: expiresAt,
	}, plain, nil
}

// HashAPIKey returns the hex SHA-256 of key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
