package assistant

import (
	"errors"
	"fmt"
)

var (
	ErrUnreachable = errors.New("assistant engine unreachable")
	ErrTimeout     = errors.New("assistant engine timeout")
	ErrAPI         = errors.New("assistant engine api error")
)

// APIError is a non-2xx response from the assistant engine. It matches ErrAPI
// with errors.Is.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("assistant api error: %s (status %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

func (e *APIError) Is(target error) bool {
	return target == ErrAPI
}
