package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/viralspy/internal/api/middleware"
	"github.com/kiranshivaraju/viralspy/internal/api/response"
	"github.com/kiranshivaraju/viralspy/pkg/models"
)

// ChatService is the conversation surface the chat handlers depend on.
type ChatService interface {
	SubmitTurn(ctx context.Context, ownerID, jobID uuid.UUID, text string) (string, error)
	GetMessages(ctx context.Context, ownerID, jobID uuid.UUID) ([]*models.Message, error)
}

// NewSendMessageHandler returns an http.HandlerFunc for POST /api/v1/scrapings/{jobID}/messages.
func NewSendMessageHandler(svc ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := mw.OwnerFrom(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
			return
		}
		jobID, ok := jobIDParam(w, r)
		if !ok {
			return
		}

		var req struct {
			Message string `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		reply, err := svc.SubmitTurn(r.Context(), ownerID, jobID, req.Message)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, map[string]string{"response": reply})
	}
}

// NewListMessagesHandler returns an http.HandlerFunc for GET /api/v1/scrapings/{jobID}/messages.
func NewListMessagesHandler(svc ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := mw.OwnerFrom(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
			return
		}
		jobID, ok := jobIDParam(w, r)
		if !ok {
			return
		}

		msgs, err := svc.GetMessages(r.Context(), ownerID, jobID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if msgs == nil {
			msgs = []*models.Message{}
		}
		response.JSON(w, msgs)
	}
}
