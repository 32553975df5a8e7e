package middleware

import (
	"context"
	"net/http"
	"slices"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/viralspy/pkg/models"
)

// Principal is the API key a request authenticated with. Jobs, messages and
// keys are visible only to the principal's owner.
type Principal struct {
	OwnerID   uuid.UUID
	KeyID     uuid.UUID
	KeyPrefix string
	Scopes    []string
}

func principalFromKey(key *models.APIKey) Principal {
	return Principal{
		OwnerID:   key.OwnerID,
		KeyID:     key.ID,
		KeyPrefix: key.KeyPrefix,
		Scopes:    key.Scopes,
	}
}

// HasScope reports whether the key was granted scope.
func (p Principal) HasScope(scope string) bool {
	return slices.Contains(p.Scopes, scope)
}

type principalKey struct{}

// WithPrincipal attaches p to ctx and reports it to the request logger.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	notePrincipal(ctx, p)
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal Authenticate attached to ctx.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// OwnerFrom returns the owner the request acts for.
func OwnerFrom(r *http.Request) (uuid.UUID, bool) {
	p, ok := PrincipalFrom(r.Context())
	if !ok || p.OwnerID == uuid.Nil {
		return uuid.Nil, false
	}
	return p.OwnerID, true
}
