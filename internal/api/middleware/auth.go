package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/viralspy/internal/api/response"
	"github.com/kiranshivaraju/viralspy/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

// KeyPrefixLen is the number of leading characters of a raw key stored in clear for lookup.
const KeyPrefixLen = 8

const touchTimeout = 5 * time.Second

// KeyStore is the subset of store.Store used to authenticate API keys.
type KeyStore interface {
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
}

var (
	errMalformedKey = errors.New("malformed API key")
	errUnknownKey   = errors.New("unknown API key")
)

// Auth resolves bearer API keys to a Principal and enforces key scopes.
type Auth struct {
	store KeyStore
}

// NewAuth creates a new Auth middleware.
func NewAuth(s KeyStore) *Auth {
	return &Auth{store: s}
}

// Authenticate resolves the bearer key and attaches its Principal to the
// request. Revoked keys are never returned by the store, so they fail here.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey, ok := bearerToken(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		key, err := a.resolve(r.Context(), rawKey)
		switch {
		case errors.Is(err, errMalformedKey):
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid API key format", nil)
			return
		case errors.Is(err, errUnknownKey):
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid API key", nil)
			return
		case err != nil:
			slog.Error("looking up API key", "error", err)
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to validate API key", nil)
			return
		}

		go a.touch(key.ID)
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principalFromKey(key))))
	})
}

// resolve finds the stored key whose hash matches rawKey.
func (a *Auth) resolve(ctx context.Context, rawKey string) (*models.APIKey, error) {
	if len(rawKey) < KeyPrefixLen {
		return nil, errMalformedKey
	}
	candidates, err := a.store.GetAPIKeyByPrefix(ctx, rawKey[:KeyPrefixLen])
	if err != nil {
		return nil, err
	}
	for _, key := range candidates {
		if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(rawKey)) == nil {
			return key, nil
		}
	}
	return nil, errUnknownKey
}

// touch records the key's last use. It runs off the request path.
func (a *Auth) touch(id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
	defer cancel()
	if err := a.store.UpdateAPIKeyLastUsed(ctx, id); err != nil {
		slog.Warn("recording API key use", "key_id", id, "error", err)
	}
}

// RequireScope rejects requests whose Principal lacks scope.
func (a *Auth) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok || !p.HasScope(scope) {
				response.Error(w, http.StatusForbidden,
					"FORBIDDEN", "Insufficient permissions", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
