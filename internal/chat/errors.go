package chat

import "errors"

var (
	ErrInvalidRequest      = errors.New("invalid chat request")
	ErrNotFound            = errors.New("scraping job not found")
	ErrNotReady            = errors.New("assistant not ready for this job")
	ErrConversationBusy    = errors.New("another turn is in progress for this job")
	ErrUpstreamUnavailable = errors.New("assistant engine unavailable")
	ErrRunTimedOut         = errors.New("assistant run timed out")
	ErrRunFailed           = errors.New("assistant run failed")
	ErrNoResponse          = errors.New("assistant produced no response")
)
