package middleware

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/viralspy/internal/api/response"
)

// TokenVerifier checks that a callback token was issued for jobID.
type TokenVerifier interface {
	Verify(token string, jobID uuid.UUID) error
}

// CallbackAuth guards the workflow callback routes with per-job tokens.
type CallbackAuth struct {
	verifier TokenVerifier
}

// NewCallbackAuth creates a CallbackAuth. A nil verifier leaves callbacks open.
func NewCallbackAuth(v TokenVerifier) *CallbackAuth {
	return &CallbackAuth{verifier: v}
}

// Authenticate requires a Bearer token whose subject is the {jobID} route parameter.
func (c *CallbackAuth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c.verifier == nil {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := bearerToken(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest,
				"INVALID_REQUEST", "jobID must be a valid UUID", nil)
			return
		}

		if err := c.verifier.Verify(token, jobID); err != nil {
			slog.Warn("callback token rejected", "job_id", jobID, "error", err)
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid callback token", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
