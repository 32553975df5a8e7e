// Package chat runs conversation turns against the remote assistant engine
// and records both sides of every exchange.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/viralspy/internal/store"
	"github.com/kiranshivaraju/viralspy/pkg/models"
)

const (
	defaultPollInterval    = time.Second
	defaultPollMaxAttempts = 30
)

// Store is the persistence the orchestrator needs. It writes messages and the
// conversation thread and never any other job field.
type Store interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	SetJobThreadID(ctx context.Context, id uuid.UUID, threadID string) error
	store.MessageStore
}

// Orchestrator is the Conversation Orchestrator.
type Orchestrator struct {
	store       Store
	engine      models.AssistantEngine
	locker      *JobLocker
	lockWait    time.Duration
	interval    time.Duration
	maxAttempts int
	sleep       Sleeper
	now         func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPolling sets the run check interval and the maximum number of checks.
func WithPolling(interval time.Duration, maxAttempts int) Option {
	return func(o *Orchestrator) {
		if interval > 0 {
			o.interval = interval
		}
		if maxAttempts > 0 {
			o.maxAttempts = maxAttempts
		}
	}
}

// WithSleeper replaces the wait between run checks.
func WithSleeper(s Sleeper) Option {
	return func(o *Orchestrator) { o.sleep = s }
}

// WithLocker replaces the default in-process JobLocker.
func WithLocker(l *JobLocker) Option {
	return func(o *Orchestrator) { o.locker = l }
}

// WithLockWait bounds how long a turn waits for another turn on the same job
// before failing with ErrConversationBusy. The default is one full turn,
// interval times maxAttempts.
func WithLockWait(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.lockWait = d
		}
	}
}

// WithClock sets the source of message timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates an Orchestrator that checks runs once per second, 30 times at most.
func NewOrchestrator(st Store, engine models.AssistantEngine, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:       st,
		engine:      engine,
		interval:    defaultPollInterval,
		maxAttempts: defaultPollMaxAttempts,
		sleep:       sleepContext,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.locker == nil {
		o.locker = NewJobLocker(nil, 0)
	}
	if o.lockWait == 0 {
		o.lockWait = o.interval * time.Duration(o.maxAttempts)
	}
	return o
}

// SubmitTurn sends text to the job's assistant and returns its reply. The
// user message is recorded before any remote call and is kept whatever the
// outcome. Turns on the same job run one at a time.
func (o *Orchestrator) SubmitTurn(ctx context.Context, ownerID, jobID uuid.UUID, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: message is required", ErrInvalidRequest)
	}

	job, err := o.ownedJob(ctx, ownerID, jobID)
	if err != nil {
		return "", err
	}
	if !job.ChatReady() {
		return "", ErrNotReady
	}

	if err := o.appendMessage(ctx, jobID, models.MessageRoleUser, text); err != nil {
		return "", fmt.Errorf("recording user message: %w", err)
	}

	unlock, err := o.lock(ctx, jobID)
	if err != nil {
		return "", err
	}
	defer unlock()

	threadID, err := o.resolveThread(ctx, jobID)
	if err != nil {
		return "", err
	}

	if err := o.engine.AddMessage(ctx, threadID, text); err != nil {
		return "", fmt.Errorf("%w: adding message: %v", ErrUpstreamUnavailable, err)
	}
	run, err := o.engine.CreateRun(ctx, threadID, *job.AssistantID)
	if err != nil {
		return "", fmt.Errorf("%w: creating run: %v", ErrUpstreamUnavailable, err)
	}
	slog.Info("assistant run started", "job_id", jobID, "thread_id", threadID, "run_id", run.ID)

	if err := o.awaitRun(ctx, jobID, threadID, run.ID); err != nil {
		return "", err
	}

	reply, err := o.findReply(ctx, threadID, run.ID)
	if err != nil {
		return "", err
	}

	if err := o.appendMessage(ctx, jobID, models.MessageRoleAssistant, reply); err != nil {
		return "", fmt.Errorf("recording assistant message: %w", err)
	}
	slog.Info("conversation turn completed", "job_id", jobID, "thread_id", threadID, "run_id", run.ID)
	return reply, nil
}

// lock takes the job's conversation lock, giving up after lockWait.
func (o *Orchestrator) lock(ctx context.Context, jobID uuid.UUID) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, o.lockWait)
	defer cancel()

	unlock, err := o.locker.Lock(lockCtx, jobID)
	if err == nil {
		return unlock, nil
	}
	if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		slog.Warn("conversation busy", "job_id", jobID, "waited", o.lockWait)
		return nil, fmt.Errorf("%w: waited %s", ErrConversationBusy, o.lockWait)
	}
	return nil, fmt.Errorf("acquiring conversation lock: %w", err)
}

// GetMessages returns the job's conversation, oldest first. A job with no
// messages yields an empty slice.
func (o *Orchestrator) GetMessages(ctx context.Context, ownerID, jobID uuid.UUID) ([]*models.Message, error) {
	if _, err := o.ownedJob(ctx, ownerID, jobID); err != nil {
		return nil, err
	}
	msgs, err := o.store.ListMessages(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	return msgs, nil
}

func (o *Orchestrator) ownedJob(ctx context.Context, ownerID, jobID uuid.UUID) (*models.Job, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting job: %w", err)
	}
	if job.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return job, nil
}

// resolveThread returns the job's thread, creating and persisting one on the
// first turn. It must be called with the job's lock held.
func (o *Orchestrator) resolveThread(ctx context.Context, jobID uuid.UUID) (string, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("getting job: %w", err)
	}
	if job.ThreadID != nil && *job.ThreadID != "" {
		return *job.ThreadID, nil
	}

	threadID, err := o.engine.CreateThread(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: creating thread: %v", ErrUpstreamUnavailable, err)
	}

	err = o.store.SetJobThreadID(ctx, jobID, threadID)
	switch {
	case err == nil:
		slog.Info("conversation thread created", "job_id", jobID, "thread_id", threadID)
		return threadID, nil
	case errors.Is(err, store.ErrThreadAlreadySet):
		// Another replica won without holding the shared lock.
		current, gerr := o.store.GetJob(ctx, jobID)
		if gerr != nil {
			return "", fmt.Errorf("getting job: %w", gerr)
		}
		if current.ThreadID == nil {
			return "", fmt.Errorf("thread for job %s not recorded", jobID)
		}
		slog.Warn("discarding duplicate conversation thread",
			"job_id", jobID, "thread_id", threadID, "kept_thread_id", *current.ThreadID)
		return *current.ThreadID, nil
	case errors.Is(err, store.ErrNotFound):
		return "", ErrNotFound
	default:
		return "", fmt.Errorf("saving thread: %w", err)
	}
}

// awaitRun checks the run until advance leaves the polling state.
func (o *Orchestrator) awaitRun(ctx context.Context, jobID uuid.UUID, threadID, runID string) error {
	state := statePolling
	var last models.Run
	attempt := 0
	for state == statePolling {
		if err := o.sleep(ctx, o.interval); err != nil {
			return fmt.Errorf("%w: %w", ErrRunTimedOut, err)
		}
		attempt++

		var check string
		run, err := o.engine.GetRun(ctx, threadID, runID)
		if err != nil {
			slog.Warn("checking assistant run",
				"job_id", jobID, "run_id", runID, "attempt", attempt, "error", err)
		} else {
			last = run
			check = run.Status
		}
		state = advance(state, attempt, check, o.maxAttempts)
	}

	switch state {
	case stateSucceeded:
		return nil
	case stateFailed:
		slog.Warn("assistant run failed",
			"job_id", jobID, "run_id", runID, "state", state.String(), "status", last.Status, "last_error", last.LastError)
		if last.LastError != "" {
			return fmt.Errorf("%w: run %s %s: %s", ErrRunFailed, runID, last.Status, last.LastError)
		}
		return fmt.Errorf("%w: run %s %s", ErrRunFailed, runID, last.Status)
	default:
		slog.Warn("assistant run timed out", "job_id", jobID, "run_id", runID, "state", state.String(), "attempt", attempt)
		return fmt.Errorf("%w: run %s not finished after %d checks", ErrRunTimedOut, runID, attempt)
	}
}

// findReply returns the assistant message produced by runID.
func (o *Orchestrator) findReply(ctx context.Context, threadID, runID string) (string, error) {
	msgs, err := o.engine.ListMessages(ctx, threadID)
	if err != nil {
		return "", fmt.Errorf("%w: listing messages: %v", ErrUpstreamUnavailable, err)
	}
	for _, m := range msgs {
		if m.Role == models.MessageRoleAssistant && m.RunID == runID && m.Text != "" {
			return m.Text, nil
		}
	}
	return "", fmt.Errorf("%w: run %s", ErrNoResponse, runID)
}

// appendMessage records one message. IDs are UUIDv7 so that messages sharing
// a timestamp still sort in the order they were appended.
func (o *Orchestrator) appendMessage(ctx context.Context, jobID uuid.UUID, role, content string) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generating message id: %w", err)
	}
	return o.store.CreateMessage(ctx, &models.Message{
		ID:        id,
		JobID:     jobID,
		Role:      role,
		Content:   content,
		CreatedAt: o.now().UTC().Truncate(time.Microsecond),
	})
}
