package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/viralspy/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrThreadAlreadySet is returned by SetJobThreadID when the job already has a thread.
var ErrThreadAlreadySet = errors.New("conversation thread already set")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, ownerID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, ownerID uuid.UUID) error

	JobStore
	MessageStore
}

// JobStore persists scraping jobs.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobsByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Job, error)
	// UpdateJob merges upd into the stored job and returns the result.
	UpdateJob(ctx context.Context, id uuid.UUID, upd models.JobUpdate) (*models.Job, error)
	// SetJobThreadID records the conversation thread only if none is set yet.
	SetJobThreadID(ctx context.Context, id uuid.UUID, threadID string) error
}

// MessageStore persists the append-only conversation log.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg *models.Message) error
	// ListMessages returns the job's messages ordered by created_at, then id.
	ListMessages(ctx context.Context, jobID uuid.UUID) ([]*models.Message, error)
}
