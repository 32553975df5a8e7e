package chat

import (
	"context"
	"time"

	"github.com/kiranshivaraju/viralspy/pkg/models"
)

type pollState int

const (
	statePolling pollState = iota
	stateSucceeded
	stateFailed
	stateTimedOut
)

func (s pollState) String() string {
	switch s {
	case statePolling:
		return "polling"
	case stateSucceeded:
		return "succeeded"
	case stateFailed:
		return "failed"
	case stateTimedOut:
		return "timed_out"
	}
	return "unknown"
}

// advance is the run poll transition function. attempt is the 1-based number
// of the check that produced runStatus; an empty runStatus means the check
// itself failed. Terminal states never change.
func advance(state pollState, attempt int, runStatus string, maxAttempts int) pollState {
	if state != statePolling {
		return state
	}
	switch runStatus {
	case models.RunStatusCompleted:
		return stateSucceeded
	case models.RunStatusFailed, models.RunStatusCancelled, models.RunStatusExpired:
		return stateFailed
	}
	if attempt >= maxAttempts {
		return stateTimedOut
	}
	return statePolling
}

// Sleeper waits for d or until ctx is done, whichever comes first.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
