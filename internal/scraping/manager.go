// Package scraping owns the scraping job lifecycle: starting jobs on the
// external workflow engine and applying the progress it reports back.
package scraping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/viralspy/internal/cache"
	"github.com/kiranshivaraju/viralspy/internal/store"
	"github.com/kiranshivaraju/viralspy/internal/workflow"
	"github.com/kiranshivaraju/viralspy/pkg/models"
)

// statusMirrorTTL is how long a mirrored job status lives in the cache.
const statusMirrorTTL = 30 * time.Minute

// StartRequest holds the caller input for starting a job. A nil ResultsLimit
// uses the manager's default.
type StartRequest struct {
	URLs         []string `json:"urls"          validate:"required,min=1,dive,required,http_url"`
	ResultsLimit *int     `json:"results_limit" validate:"omitempty,gt=0"`
}

// Manager is the Job Lifecycle Manager. It is the only writer of job fields
// other than the conversation thread.
type Manager struct {
	store        store.JobStore
	cache        cache.Cache
	dispatcher   workflow.Dispatcher
	tokens       *CallbackTokens
	callbackBase string
	defaultLimit int
	validate     *validator.Validate
}

// Option configures a Manager.
type Option func(*Manager)

// WithCallbackTokens makes Start hand the workflow engine a per-job token and
// the callback URL rooted at baseURL.
func WithCallbackTokens(tokens *CallbackTokens, baseURL string) Option {
	return func(m *Manager) {
		m.tokens = tokens
		m.callbackBase = strings.TrimRight(baseURL, "/")
	}
}

// WithDefaultResultsLimit overrides models.DefaultResultsLimit.
func WithDefaultResultsLimit(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.defaultLimit = n
		}
	}
}

// NewManager creates a Manager. ca may be nil, in which case no status mirror is kept.
func NewManager(st store.JobStore, ca cache.Cache, d workflow.Dispatcher, opts ...Option) *Manager {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonFieldName)
	m := &Manager{
		store:        st,
		cache:        ca,
		dispatcher:   d,
		defaultLimit: models.DefaultResultsLimit,
		validate:     v,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start persists a pending job and hands it to the workflow engine. If the
// handoff fails the job is moved to error and ErrDispatchFailed is returned
// along with the job.
func (m *Manager) Start(ctx context.Context, ownerID uuid.UUID, req StartRequest) (*models.Job, error) {
	if ownerID == uuid.Nil {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidRequest)
	}
	if err := m.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, describeValidation(err))
	}

	limit := m.defaultLimit
	if req.ResultsLimit != nil {
		limit = *req.ResultsLimit
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:           uuid.New(),
		OwnerID:      ownerID,
		InputURLs:    append([]string(nil), req.URLs...),
		ResultsLimit: limit,
		Status:       models.JobStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
		Revision:     1,
	}
	if err := m.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}
	m.mirrorStatus(ctx, job)

	dispatch := workflow.DispatchRequest{
		JobID:        job.ID,
		OwnerID:      ownerID,
		URLs:         job.InputURLs,
		ResultsLimit: limit,
	}
	if m.tokens != nil {
		tok, err := m.tokens.Issue(job.ID)
		if err != nil {
			return job, m.failDispatch(ctx, job, err)
		}
		dispatch.CallbackToken = tok
		if m.callbackBase != "" {
			dispatch.CallbackURL = fmt.Sprintf("%s/api/v1/callbacks/scrapings/%s", m.callbackBase, job.ID)
		}
	}

	if err := m.dispatcher.Dispatch(ctx, dispatch); err != nil {
		return job, m.failDispatch(ctx, job, err)
	}

	slog.Info("scraping job dispatched", "job_id", job.ID, "owner_id", ownerID, "urls", len(job.InputURLs))
	return job, nil
}

// failDispatch moves job to error and returns the ErrDispatchFailed to surface.
// The detached context keeps the error state durable when the caller's
// context is what failed the dispatch.
func (m *Manager) failDispatch(ctx context.Context, job *models.Job, cause error) error {
	slog.Error("workflow dispatch failed", "job_id", job.ID, "error", cause)

	ctx = context.WithoutCancel(ctx)
	status := models.JobStatusError
	msg := dispatchFailedMessage
	updated, err := m.store.UpdateJob(ctx, job.ID, models.JobUpdate{
		Status:       &status,
		ErrorMessage: &msg,
	})
	if err != nil {
		slog.Error("marking job as error", "job_id", job.ID, "error", err)
		return fmt.Errorf("%w: %v (marking job failed: %v)", ErrDispatchFailed, cause, err)
	}
	*job = *updated
	m.mirrorStatus(ctx, job)
	return fmt.Errorf("%w: %v", ErrDispatchFailed, cause)
}

// ApplyUpdate merges upd into the job. Duplicate and out-of-order updates are
// accepted; the only enforced rule is the completed_at stamp in models.JobUpdate.Apply.
func (m *Manager) ApplyUpdate(ctx context.Context, jobID uuid.UUID, upd models.JobUpdate) (*models.Job, error) {
	if err := validateUpdate(upd); err != nil {
		return nil, err
	}

	if upd.IsEmpty() {
		return m.Get(ctx, jobID)
	}

	job, err := m.store.UpdateJob(ctx, jobID, upd)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("updating job: %w", err)
	}

	if upd.Status != nil {
		m.mirrorStatus(ctx, job)
	}
	slog.Info("scraping job updated",
		"job_id", job.ID,
		"status", job.Status,
		"progress", job.Progress,
		"chat_ready", job.ChatReady(),
	)
	return job, nil
}

// List returns the owner's jobs, newest first.
func (m *Manager) List(ctx context.Context, ownerID uuid.UUID) ([]*models.Job, error) {
	jobs, err := m.store.ListJobsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	return jobs, nil
}

// Get returns the job regardless of owner.
func (m *Manager) Get(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting job: %w", err)
	}
	return job, nil
}

// GetForOwner returns the job if ownerID owns it. A foreign job is ErrNotFound.
func (m *Manager) GetForOwner(ctx context.Context, ownerID, jobID uuid.UUID) (*models.Job, error) {
	job, err := m.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return job, nil
}

// Status returns the job's status from the cache mirror, falling back to the
// store and refreshing the mirror on a miss. A job owned by someone else is
// ErrNotFound whether or not it is mirrored.
func (m *Manager) Status(ctx context.Context, ownerID, jobID uuid.UUID) (string, error) {
	if m.cache != nil {
		st, ok, err := m.cache.GetJobStatus(ctx, jobID)
		switch {
		case err != nil:
			slog.Warn("reading job status mirror", "job_id", jobID, "error", err)
		case ok && st.OwnerID != ownerID:
			return "", ErrNotFound
		case ok:
			return st.Status, nil
		}
	}

	job, err := m.GetForOwner(ctx, ownerID, jobID)
	if err != nil {
		return "", err
	}
	m.mirrorStatus(ctx, job)
	return job.Status, nil
}

// mirrorStatus copies the job's status into the cache. The cache drops the
// write if it already holds a later revision. When the write fails the entry
// is evicted so readers fall back to the store instead of an older status.
func (m *Manager) mirrorStatus(ctx context.Context, job *models.Job) {
	if m.cache == nil {
		return
	}
	st := cache.JobStatus{OwnerID: job.OwnerID, Status: job.Status, Revision: job.Revision}
	err := m.cache.SetJobStatus(ctx, job.ID, st, statusMirrorTTL)
	if err == nil {
		return
	}
	slog.Warn("mirroring job status", "job_id", job.ID, "status", job.Status, "error", err)
	if err := m.cache.DeleteJobStatus(ctx, job.ID); err != nil {
		slog.Error("evicting job status mirror", "job_id", job.ID, "error", err)
	}
}

func validateUpdate(upd models.JobUpdate) error {
	if upd.Status != nil && !models.ValidJobStatus(*upd.Status) {
		return fmt.Errorf("%w: status must be one of pending, processing, completed, error", ErrInvalidRequest)
	}
	if upd.Progress != nil && (*upd.Progress < 0 || *upd.Progress > 100) {
		return fmt.Errorf("%w: progress must be between 0 and 100", ErrInvalidRequest)
	}
	return nil
}
