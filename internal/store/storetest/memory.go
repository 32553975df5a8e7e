// Package storetest provides an in-memory store.Store for tests of packages
// built on top of the store.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/viralspy/internal/store"
	"github.com/kiranshivaraju/viralspy/pkg/models"
)

// Memory is a store.Store backed by maps. It follows the same error and
// ordering contract as PostgresStore. Set the *Err fields to inject failures.
type Memory struct {
	mu       sync.Mutex
	keys     map[uuid.UUID]*models.APIKey
	jobs     map[uuid.UUID]*models.Job
	messages map[uuid.UUID][]*models.Message

	PingErr          error
	CreateJobErr     error
	UpdateJobErr     error
	CreateMessageErr error

	// Now stamps UpdateJob. Defaults to time.Now.
	Now func() time.Time
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		keys:     make(map[uuid.UUID]*models.APIKey),
		jobs:     make(map[uuid.UUID]*models.Job),
		messages: make(map[uuid.UUID][]*models.Message),
		Now:      time.Now,
	}
}

func (m *Memory) Ping(_ context.Context) error { return m.PingErr }

func (m *Memory) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.APIKey
	for _, k := range m.keys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			c := *k
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *Memory) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k, ok := m.keys[id]; ok {
		now := m.Now().UTC()
		k.LastUsedAt = &now
	}
	return nil
}

func (m *Memory) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key.ID]; ok {
		return store.ErrDuplicateKey
	}
	c := *key
	m.keys[key.ID] = &c
	return nil
}

func (m *Memory) ListAPIKeys(_ context.Context, ownerID uuid.UUID) ([]*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.APIKey{}
	for _, k := range m.keys {
		if k.OwnerID == ownerID && k.DeletedAt == nil {
			c := *k
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) RevokeAPIKey(_ context.Context, id uuid.UUID, ownerID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok || k.OwnerID != ownerID || k.DeletedAt != nil {
		return store.ErrNotFound
	}
	now := m.Now().UTC()
	k.DeletedAt = &now
	return nil
}

func (m *Memory) CreateJob(_ context.Context, job *models.Job) error {
	if m.CreateJobErr != nil {
		return m.CreateJobErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return store.ErrDuplicateKey
	}
	j := cloneJob(job)
	if j.Revision < 1 {
		j.Revision = 1
	}
	m.jobs[job.ID] = j
	return nil
}

func (m *Memory) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneJob(j), nil
}

func (m *Memory) ListJobsByOwner(_ context.Context, ownerID uuid.UUID) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.Job{}
	for _, j := range m.jobs {
		if j.OwnerID == ownerID {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateJob(_ context.Context, id uuid.UUID, upd models.JobUpdate) (*models.Job, error) {
	if m.UpdateJobErr != nil {
		return nil, m.UpdateJobErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	upd.Apply(j, m.Now().UTC())
	return cloneJob(j), nil
}

func (m *Memory) SetJobThreadID(_ context.Context, id uuid.UUID, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if j.ThreadID != nil || j.AssistantID == nil {
		return store.ErrThreadAlreadySet
	}
	t := threadID
	j.ThreadID = &t
	return nil
}

func (m *Memory) CreateMessage(_ context.Context, msg *models.Message) error {
	if m.CreateMessageErr != nil {
		return m.CreateMessageErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[msg.JobID]; !ok {
		return store.ErrNotFound
	}
	c := *msg
	m.messages[msg.JobID] = append(m.messages[msg.JobID], &c)
	return nil
}

func (m *Memory) ListMessages(_ context.Context, jobID uuid.UUID) ([]*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Message, 0, len(m.messages[jobID]))
	for _, msg := range m.messages[jobID] {
		c := *msg
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// PutJob stores job as is, bypassing CreateJob's duplicate check.
func (m *Memory) PutJob(job *models.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = cloneJob(job)
}

func cloneJob(j *models.Job) *models.Job {
	c := *j
	c.InputURLs = append([]string(nil), j.InputURLs...)
	return &c
}

var _ store.Store = (*Memory)(nil)
