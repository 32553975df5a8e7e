// Package workflow hands scraping jobs off to the external workflow engine.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for dispatch failures.
var (
	ErrUnreachable = errors.New("workflow engine unreachable")
	ErrRejected    = errors.New("workflow engine rejected dispatch")
	ErrTimeout     = errors.New("workflow engine timeout")
)

// Dispatcher hands a job to the workflow engine. A nil error only means the
// engine accepted the request; progress arrives later through callbacks.
type Dispatcher interface {
	Dispatch(ctx context.Context, req DispatchRequest) error
}

// DispatchRequest is the body posted to the workflow engine webhook.
type DispatchRequest struct {
	JobID         uuid.UUID `json:"scrapingId"`
	OwnerID       uuid.UUID `json:"userId"`
	URLs          []string  `json:"urls"`
	ResultsLimit  int       `json:"resultsLimit"`
	CallbackURL   string    `json:"callbackUrl,omitempty"`
	CallbackToken string    `json:"callbackToken,omitempty"`
}

// HTTPClient implements Dispatcher by POSTing JSON to a webhook URL.
type HTTPClient struct {
	dispatchURL string
	client      *http.Client
}

// NewHTTPClient creates a new workflow engine client.
func NewHTTPClient(dispatchURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		dispatchURL: dispatchURL,
		client:      &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Dispatch(ctx context.Context, req DispatchRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding dispatch request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.dispatchURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	return nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// Compile-time check that HTTPClient implements Dispatcher.
var _ Dispatcher = (*HTTPClient)(nil)
