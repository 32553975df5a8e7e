// Package mock provides an in-memory models.AssistantEngine for tests.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/kiranshivaraju/viralspy/pkg/models"
)

// Engine satisfies models.AssistantEngine for testing. Each run walks through
// RunStatuses, one entry per GetRun call, repeating the last entry. When a run
// reaches completed, Reply(userText) is posted to the thread as the run's
// assistant message. The *Func fields override the default behavior.
type Engine struct {
	RunStatuses []string
	Reply       func(userText string) string

	CreateThreadFunc func(ctx context.Context) (string, error)
	AddMessageFunc   func(ctx context.Context, threadID, text string) error
	CreateRunFunc    func(ctx context.Context, threadID, assistantID string) (models.Run, error)
	GetRunFunc       func(ctx context.Context, threadID, runID string) (models.Run, error)
	ListMessagesFunc func(ctx context.Context, threadID string) ([]models.ThreadMessage, error)

	mu       sync.Mutex
	seq      int
	threads  map[string][]models.ThreadMessage
	runs     map[string]*run
	calls    map[string]int
	assigned []string
}

type run struct {
	threadID  string
	assistant string
	prompt    string
	polls     int
	replied   bool
}

// NewEngine returns an Engine whose runs complete on the second poll and
// echo the user's text.
func NewEngine() *Engine {
	return &Engine{
		RunStatuses: []string{models.RunStatusInProgress, models.RunStatusCompleted},
		Reply: func(userText string) string {
			return "echo: " + userText
		},
	}
}

// NewFailingEngine returns an Engine whose every call fails with err.
func NewFailingEngine(err error) *Engine {
	e := NewEngine()
	e.CreateThreadFunc = func(context.Context) (string, error) { return "", err }
	e.AddMessageFunc = func(context.Context, string, string) error { return err }
	e.CreateRunFunc = func(context.Context, string, string) (models.Run, error) { return models.Run{}, err }
	e.GetRunFunc = func(context.Context, string, string) (models.Run, error) { return models.Run{}, err }
	e.ListMessagesFunc = func(context.Context, string) ([]models.ThreadMessage, error) { return nil, err }
	return e
}

// NewStuckEngine returns an Engine whose runs never leave in_progress.
func NewStuckEngine() *Engine {
	e := NewEngine()
	e.RunStatuses = []string{models.RunStatusInProgress}
	return e
}

func (e *Engine) init() {
	if e.threads == nil {
		e.threads = make(map[string][]models.ThreadMessage)
		e.runs = make(map[string]*run)
		e.calls = make(map[string]int)
	}
}

func (e *Engine) nextID(prefix string) string {
	e.seq++
	return fmt.Sprintf("%s_%d", prefix, e.seq)
}

// Calls returns how many times the named method was invoked.
func (e *Engine) Calls(method string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.init()
	return e.calls[method]
}

// Threads returns the IDs of every thread created so far.
func (e *Engine) Threads() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.assigned...)
}

func (e *Engine) record(method string) {
	e.mu.Lock()
	e.init()
	e.calls[method]++
	e.mu.Unlock()
}

func (e *Engine) CreateThread(ctx context.Context) (string, error) {
	e.record("CreateThread")
	if e.CreateThreadFunc != nil {
		return e.CreateThreadFunc(ctx)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID("thread")
	e.threads[id] = nil
	e.assigned = append(e.assigned, id)
	return id, nil
}

func (e *Engine) AddMessage(ctx context.Context, threadID, text string) error {
	e.record("AddMessage")
	if e.AddMessageFunc != nil {
		return e.AddMessageFunc(ctx, threadID, text)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.threads[threadID]; !ok {
		return fmt.Errorf("mock: no thread %q", threadID)
	}
	e.threads[threadID] = append(e.threads[threadID], models.ThreadMessage{
		ID:   e.nextID("msg"),
		Role: models.MessageRoleUser,
		Text: text,
	})
	return nil
}

func (e *Engine) CreateRun(ctx context.Context, threadID, assistantID string) (models.Run, error) {
	e.record("CreateRun")
	if e.CreateRunFunc != nil {
		return e.CreateRunFunc(ctx, threadID, assistantID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	msgs, ok := e.threads[threadID]
	if !ok {
		return models.Run{}, fmt.Errorf("mock: no thread %q", threadID)
	}
	var prompt string
	if len(msgs) > 0 {
		prompt = msgs[len(msgs)-1].Text
	}
	id := e.nextID("run")
	e.runs[id] = &run{threadID: threadID, assistant: assistantID, prompt: prompt}
	return models.Run{ID: id, ThreadID: threadID, Status: models.RunStatusQueued}, nil
}

func (e *Engine) GetRun(ctx context.Context, threadID, runID string) (models.Run, error) {
	e.record("GetRun")
	if e.GetRunFunc != nil {
		return e.GetRunFunc(ctx, threadID, runID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.runs[runID]
	if !ok || r.threadID != threadID {
		return models.Run{}, fmt.Errorf("mock: no run %q on thread %q", runID, threadID)
	}

	status := models.RunStatusInProgress
	if n := len(e.RunStatuses); n > 0 {
		idx := r.polls
		if idx >= n {
			idx = n - 1
		}
		status = e.RunStatuses[idx]
	}
	r.polls++

	if status == models.RunStatusCompleted && !r.replied && e.Reply != nil {
		e.threads[threadID] = append(e.threads[threadID], models.ThreadMessage{
			ID:    e.nextID("msg"),
			Role:  models.MessageRoleAssistant,
			RunID: runID,
			Text:  e.Reply(r.prompt),
		})
		r.replied = true
	}
	return models.Run{ID: runID, ThreadID: threadID, Status: status}, nil
}

func (e *Engine) ListMessages(ctx context.Context, threadID string) ([]models.ThreadMessage, error) {
	e.record("ListMessages")
	if e.ListMessagesFunc != nil {
		return e.ListMessagesFunc(ctx, threadID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	msgs := e.threads[threadID]
	out := make([]models.ThreadMessage, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		out = append(out, msgs[i])
	}
	return out, nil
}

// Compile-time check that Engine implements AssistantEngine.
var _ models.AssistantEngine = (*Engine)(nil)
