package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/viralspy/internal/api/middleware"
	"github.com/kiranshivaraju/viralspy/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth         *mw.Auth
	RateLimit    *mw.RateLimit
	CallbackAuth *mw.CallbackAuth

	HealthHandler http.HandlerFunc

	StartScrapingHandler  http.HandlerFunc
	ListScrapingsHandler  http.HandlerFunc
	GetScrapingHandler    http.HandlerFunc
	ScrapingStatusHandler http.HandlerFunc
	SendMessageHandler    http.HandlerFunc
	ListMessagesHandler   http.HandlerFunc

	CallbackHandler http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Workflow engine callbacks
	callbackAuth := deps.CallbackAuth
	if callbackAuth == nil {
		callbackAuth = mw.NewCallbackAuth(nil)
	}
	r.With(callbackAuth.Authenticate).
		Post("/api/v1/callbacks/scrapings/{jobID}", orNotImplemented(deps.CallbackHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Get("/api/v1/scrapings", orNotImplemented(deps.ListScrapingsHandler))
		r.Get("/api/v1/scrapings/{jobID}", orNotImplemented(deps.GetScrapingHandler))
		r.Get("/api/v1/scrapings/{jobID}/status", orNotImplemented(deps.ScrapingStatusHandler))
		r.Get("/api/v1/scrapings/{jobID}/messages", orNotImplemented(deps.ListMessagesHandler))

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("write"))

			r.Post("/api/v1/scrapings", orNotImplemented(deps.StartScrapingHandler))
			r.Post("/api/v1/scrapings/{jobID}/messages", orNotImplemented(deps.SendMessageHandler))
		})

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("admin"))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
