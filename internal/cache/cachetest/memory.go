// Package cachetest provides an in-memory cache.Cache for tests.
package cachetest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/viralspy/internal/cache"
)

type entry struct {
	value   string
	expires time.Time
}

type statusEntry struct {
	st      cache.JobStatus
	expires time.Time
}

// Memory is a cache.Cache backed by a map. Expiry is evaluated lazily on read.
// Set Err to make every call fail, or SetJobStatusErr to fail only mirror writes.
type Memory struct {
	mu       sync.Mutex
	entries  map[string]entry
	statuses map[uuid.UUID]statusEntry
	counts   map[string]int64

	Err             error
	SetJobStatusErr error
	Now             func() time.Time
}

// NewMemory returns an empty Memory cache.
func NewMemory() *Memory {
	return &Memory{
		entries:  make(map[string]entry),
		statuses: make(map[uuid.UUID]statusEntry),
		counts:   make(map[string]int64),
		Now:      time.Now,
	}
}

func (m *Memory) get(key string) (string, bool) {
	e, ok := m.entries[key]
	if !ok {
		return "", false
	}
	if !e.expires.IsZero() && !m.Now().Before(e.expires) {
		delete(m.entries, key)
		return "", false
	}
	return e.value, true
}

func (m *Memory) set(key, value string, ttl time.Duration) {
	e := entry{value: value}
	if ttl > 0 {
		e.expires = m.Now().Add(ttl)
	}
	m.entries[key] = e
}

func (m *Memory) Ping(_ context.Context) error { return m.Err }

func (m *Memory) SetJobStatus(_ context.Context, jobID uuid.UUID, st cache.JobStatus, ttl time.Duration) error {
	if m.Err != nil {
		return m.Err
	}
	if m.SetJobStatusErr != nil {
		return m.SetJobStatusErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.status(jobID); ok && cur.Revision > st.Revision {
		return nil
	}
	e := statusEntry{st: st}
	if ttl > 0 {
		e.expires = m.Now().Add(ttl)
	}
	m.statuses[jobID] = e
	return nil
}

func (m *Memory) GetJobStatus(_ context.Context, jobID uuid.UUID) (cache.JobStatus, bool, error) {
	if m.Err != nil {
		return cache.JobStatus{}, false, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.status(jobID)
	return st, ok, nil
}

func (m *Memory) DeleteJobStatus(_ context.Context, jobID uuid.UUID) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, jobID)
	return nil
}

func (m *Memory) status(jobID uuid.UUID) (cache.JobStatus, bool) {
	e, ok := m.statuses[jobID]
	if !ok {
		return cache.JobStatus{}, false
	}
	if !e.expires.IsZero() && !m.Now().Before(e.expires) {
		delete(m.statuses, jobID)
		return cache.JobStatus{}, false
	}
	return e.st, true
}

func (m *Memory) IncrWithExpiry(_ context.Context, key string, _ time.Duration) (int64, error) {
	if m.Err != nil {
		return 0, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key]++
	return m.counts[key], nil
}

func (m *Memory) AcquireLock(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	if m.Err != nil {
		return false, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.get(key); held {
		return false, nil
	}
	m.set(key, token, ttl)
	return true, nil
}

func (m *Memory) ReleaseLock(_ context.Context, key, token string) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.get(key)
	if !ok || v != token {
		return cache.ErrLockNotHeld
	}
	delete(m.entries, key)
	return nil
}

// Status returns the mirrored status for jobID, if any.
func (m *Memory) Status(jobID uuid.UUID) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.status(jobID)
	return st.Status, ok
}

var _ cache.Cache = (*Memory)(nil)
