package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/viralspy/internal/api/response"
	"github.com/kiranshivaraju/viralspy/internal/chat"
	"github.com/kiranshivaraju/viralspy/internal/scraping"
)

// writeError maps service errors to the error envelope.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, scraping.ErrInvalidRequest), errors.Is(err, chat.ErrInvalidRequest):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	case errors.Is(err, scraping.ErrNotFound), errors.Is(err, chat.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Scraping job not found", nil)
	case errors.Is(err, scraping.ErrDispatchFailed):
		response.Error(w, http.StatusBadGateway, "DISPATCH_FAILED", "Failed to start scraping workflow", nil)
	case errors.Is(err, chat.ErrNotReady):
		response.Error(w, http.StatusConflict, "ASSISTANT_NOT_READY", "Assistant not ready yet", nil)
	case errors.Is(err, chat.ErrConversationBusy):
		response.Error(w, http.StatusConflict, "CONVERSATION_BUSY", "Another message for this job is still being answered", nil)
	case errors.Is(err, chat.ErrUpstreamUnavailable):
		response.Error(w, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", "The assistant engine is not available", nil)
	case errors.Is(err, chat.ErrRunTimedOut):
		response.Error(w, http.StatusGatewayTimeout, "RUN_TIMED_OUT", "The assistant took too long to respond", nil)
	case errors.Is(err, chat.ErrRunFailed):
		response.Error(w, http.StatusBadGateway, "RUN_FAILED", "The assistant run failed", nil)
	case errors.Is(err, chat.ErrNoResponse):
		response.Error(w, http.StatusBadGateway, "NO_RESPONSE", "The assistant produced no response", nil)
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
	}
}

// jobIDParam parses the {jobID} route parameter, writing a 400 on failure.
func jobIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a valid UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}
