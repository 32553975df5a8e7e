// Package models contains shared data models used across the viralspy codebase.
package models

import "context"

// Remote run statuses reported by the assistant engine.
const (
	RunStatusQueued         = "queued"
	RunStatusInProgress     = "in_progress"
	RunStatusRequiresAction = "requires_action"
	RunStatusCancelling     = "cancelling"
	RunStatusCancelled      = "cancelled"
	RunStatusFailed         = "failed"
	RunStatusCompleted      = "completed"
	RunStatusExpired        = "expired"
)

// AssistantEngine is the remote assistant execution engine. Conversation code
// must depend on this interface, never on a concrete client.
type AssistantEngine interface {
	// CreateThread opens a new remote conversation thread and returns its ID.
	CreateThread(ctx context.Context) (string, error)
	// AddMessage posts a user message to a thread.
	AddMessage(ctx context.Context, threadID, text string) error
	// CreateRun starts an asynchronous run of assistantID against a thread.
	CreateRun(ctx context.Context, threadID, assistantID string) (Run, error)
	// GetRun reads the current state of a run.
	GetRun(ctx context.Context, threadID, runID string) (Run, error)
	// ListMessages returns the thread's messages, newest first.
	ListMessages(ctx context.Context, threadID string) ([]ThreadMessage, error)
}

// Run is one remote execution of an assistant against a thread.
type Run struct {
	ID        string
	ThreadID  string
	Status    string
	LastError string
}

// ThreadMessage is a message as stored by the assistant engine. RunID is empty
// for messages that were not produced by a run.
type ThreadMessage struct {
	ID    string
	Role  string
	RunID string
	Text  string
}
