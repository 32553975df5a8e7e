package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/viralspy/internal/api/response"
	"github.com/kiranshivaraju/viralspy/pkg/models"
)

// JobUpdater applies workflow progress to a job.
type JobUpdater interface {
	ApplyUpdate(ctx context.Context, jobID uuid.UUID, upd models.JobUpdate) (*models.Job, error)
}

// callbackRequest uses the workflow engine's field names.
type callbackRequest struct {
	Status         *string `json:"status"`
	CurrentStep    *string `json:"currentStep"`
	Progress       *int    `json:"progress"`
	SpreadsheetURL *string `json:"spreadsheetUrl"`
	AnalysisURL    *string `json:"analysisUrl"`
	AssistantID    *string `json:"assistantId"`
	AssistantURL   *string `json:"assistantUrl"`
	ErrorMessage   *string `json:"errorMessage"`
}

func (c callbackRequest) update() models.JobUpdate {
	return models.JobUpdate{
		Status:         c.Status,
		CurrentStep:    c.CurrentStep,
		Progress:       c.Progress,
		SpreadsheetURL: c.SpreadsheetURL,
		AnalysisURL:    c.AnalysisURL,
		AssistantID:    c.AssistantID,
		AssistantURL:   c.AssistantURL,
		ErrorMessage:   c.ErrorMessage,
	}
}

// NewCallbackHandler returns an http.HandlerFunc for POST /api/v1/callbacks/scrapings/{jobID}.
// Any subset of fields may be sent, any number of times and in any order.
func NewCallbackHandler(svc JobUpdater) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, ok := jobIDParam(w, r)
		if !ok {
			return
		}

		var req callbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if _, err := svc.ApplyUpdate(r.Context(), jobID, req.update()); err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, map[string]bool{"success": true})
	}
}
