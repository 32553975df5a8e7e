package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/viralspy/internal/api/middleware"
	"github.com/kiranshivaraju/viralspy/internal/api/response"
	"github.com/kiranshivaraju/viralspy/internal/scraping"
	"github.com/kiranshivaraju/viralspy/pkg/models"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// ScrapingService is the job lifecycle surface the consumer handlers depend on.
type ScrapingService interface {
	Start(ctx context.Context, ownerID uuid.UUID, req scraping.StartRequest) (*models.Job, error)
	List(ctx context.Context, ownerID uuid.UUID) ([]*models.Job, error)
	GetForOwner(ctx context.Context, ownerID, jobID uuid.UUID) (*models.Job, error)
	Status(ctx context.Context, ownerID, jobID uuid.UUID) (string, error)
}

// NewStartScrapingHandler returns an http.HandlerFunc for POST /api/v1/scrapings.
func NewStartScrapingHandler(svc ScrapingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := mw.OwnerFrom(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
			return
		}

		var req scraping.StartRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		job, err := svc.Start(r.Context(), ownerID, req)
		if err != nil {
			if errors.Is(err, scraping.ErrDispatchFailed) && job != nil {
				response.Error(w, http.StatusBadGateway, "DISPATCH_FAILED",
					"Failed to start scraping workflow", map[string]string{"job_id": job.ID.String()})
				return
			}
			writeError(w, r, err)
			return
		}

		response.Accepted(w, map[string]any{
			"job_id": job.ID,
			"status": job.Status,
		})
	}
}

// NewListScrapingsHandler returns an http.HandlerFunc for GET /api/v1/scrapings.
// Jobs are newest first; page and limit query parameters select a window.
func NewListScrapingsHandler(svc ScrapingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := mw.OwnerFrom(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
			return
		}

		page, err := queryInt(r, "page", 1)
		if err != nil || page < 1 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "page must be a positive integer", nil)
			return
		}
		limit, err := queryInt(r, "limit", defaultPageLimit)
		if err != nil || limit < 1 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer", nil)
			return
		}
		if limit > maxPageLimit {
			limit = maxPageLimit
		}

		jobs, err := svc.List(r.Context(), ownerID)
		if err != nil {
			writeError(w, r, err)
			return
		}

		if jobs == nil {
			jobs = []*models.Job{}
		}
		start, end, meta := response.Window(len(jobs), page, limit)
		response.Collection(w, jobs[start:end], meta)
	}
}

// NewGetScrapingHandler returns an http.HandlerFunc for GET /api/v1/scrapings/{jobID}.
func NewGetScrapingHandler(svc ScrapingService) http.HandlerFunc {
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

		job, err := svc.GetForOwner(r.Context(), ownerID, jobID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, job)
	}
}

// NewScrapingStatusHandler returns an http.HandlerFunc for GET /api/v1/scrapings/{jobID}/status.
func NewScrapingStatusHandler(svc ScrapingService) http.HandlerFunc {
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

		status, err := svc.Status(r.Context(), ownerID, jobID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, map[string]any{
			"job_id": jobID,
			"status": status,
		})
	}
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
