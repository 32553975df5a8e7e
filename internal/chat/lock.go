package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/viralspy/internal/cache"
)

const (
	defaultLockTTL     = 2 * time.Minute
	lockRetryInterval  = 100 * time.Millisecond
	lockReleaseTimeout = 5 * time.Second
)

// JobLocker serializes conversation turns per job. Within a process it is a
// keyed mutex; with a cache it additionally holds a Redis lock so replicas
// are serialized too. Cache errors degrade to the in-process lock.
type JobLocker struct {
	mu    sync.Mutex
	slots map[uuid.UUID]*slot

	cache cache.Cache
	ttl   time.Duration
	sleep Sleeper
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewJobLocker returns a JobLocker. ca may be nil. A non-positive ttl uses two minutes.
func NewJobLocker(ca cache.Cache, ttl time.Duration) *JobLocker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &JobLocker{
		slots: make(map[uuid.UUID]*slot),
		cache: ca,
		ttl:   ttl,
		sleep: sleepContext,
	}
}

// Lock blocks until the job's lock is held or ctx is done. The returned
// function releases it and is safe to call more than once.
func (l *JobLocker) Lock(ctx context.Context, jobID uuid.UUID) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[jobID]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[jobID] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(jobID, s, false)
		return nil, ctx.Err()
	}

	key := cache.ConversationLockKey(jobID)
	token := uuid.NewString()
	remote, err := l.acquireRemote(ctx, key, token)
	if err != nil {
		l.release(jobID, s, true)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if remote {
				rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lockReleaseTimeout)
				if err := l.cache.ReleaseLock(rctx, key, token); err != nil {
					slog.Warn("releasing conversation lock", "job_id", jobID, "error", err)
				}
				cancel()
			}
			l.release(jobID, s, true)
		})
	}, nil
}

// acquireRemote reports whether the Redis lock was taken. It returns an error
// only when ctx ends while waiting on another holder.
func (l *JobLocker) acquireRemote(ctx context.Context, key, token string) (bool, error) {
	if l.cache == nil {
		return false, nil
	}
	for {
		ok, err := l.cache.AcquireLock(ctx, key, token, l.ttl)
		if err != nil {
			slog.Warn("conversation lock unavailable, using local lock only", "key", key, "error", err)
			return false, nil
		}
		if ok {
			return true, nil
		}
		if err := l.sleep(ctx, lockRetryInterval); err != nil {
			return false, err
		}
	}
}

func (l *JobLocker) release(jobID uuid.UUID, s *slot, held bool) {
	if held {
		<-s.ch
	}
	l.mu.Lock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, jobID)
	}
	l.mu.Unlock()
}
