// Package apikey mints API keys. Raw keys are returned once; only their
// bcrypt hash and lookup prefix are persisted.
package apikey

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/viralspy/internal/api/middleware"
	"github.com/kiranshivaraju/viralspy/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

const (
	rawPrefix   = "vsk_"
	randomBytes = 24

	ScopeAdmin = "admin"
	ScopeRead  = "read"
	ScopeWrite = "write"
)

// DefaultScopes are granted when a caller asks for none.
var DefaultScopes = []string{ScopeRead, ScopeWrite}

// Generate returns a new key record for ownerID together with the raw key.
func Generate(ownerID uuid.UUID, name string, scopes []string) (*models.APIKey, string, error) {
	buf := make([]byte, randomBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, "", fmt.Errorf("reading random bytes: %w", err)
	}
	raw := rawPrefix + hex.EncodeToString(buf)

	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hashing key: %w", err)
	}

	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	now := time.Now().UTC()
	return &models.APIKey{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: raw[:middleware.KeyPrefixLen],
		Scopes:    append([]string(nil), scopes...),
		CreatedAt: now,
		UpdatedAt: now,
	}, raw, nil
}

// ValidScope reports whether s is a known scope.
func ValidScope(s string) bool {
	switch s {
	case ScopeAdmin, ScopeRead, ScopeWrite:
		return true
	}
	return false
}
