// Package assistant talks to the hosted assistant engine using the
// OpenAI Assistants v2 thread/run protocol.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/kiranshivaraju/viralspy/internal/config"
	"github.com/kiranshivaraju/viralspy/pkg/models"
	"golang.org/x/time/rate"
)

const (
	DefaultRateLimit = 5
	messagesPageSize = 20
)

// HTTPClient implements models.AssistantEngine over HTTP.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// ClientOption configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithRateLimit caps outbound requests per second.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *HTTPClient) {
		if requestsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
		}
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.httpClient = hc
	}
}

// NewHTTPClient creates a client for the configured assistant engine.
func NewHTTPClient(cfg config.AssistantConfig, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HTTPClient) CreateThread(ctx context.Context) (string, error) {
	var th threadObject
	if err := c.do(ctx, http.MethodPost, "/threads", struct{}{}, &th); err != nil {
		return "", err
	}
	if th.ID == "" {
		return "", fmt.Errorf("%w: empty thread id", ErrAPI)
	}
	return th.ID, nil
}

func (c *HTTPClient) AddMessage(ctx context.Context, threadID, text string) error {
	body := createMessageRequest{Role: models.MessageRoleUser, Content: text}
	return c.do(ctx, http.MethodPost, "/threads/"+url.PathEscape(threadID)+"/messages", body, nil)
}

func (c *HTTPClient) CreateRun(ctx context.Context, threadID, assistantID string) (models.Run, error) {
	var run runObject
	body := createRunRequest{AssistantID: assistantID}
	if err := c.do(ctx, http.MethodPost, "/threads/"+url.PathEscape(threadID)+"/runs", body, &run); err != nil {
		return models.Run{}, err
	}
	if run.ID == "" {
		return models.Run{}, fmt.Errorf("%w: empty run id", ErrAPI)
	}
	return run.toModel(), nil
}

func (c *HTTPClient) GetRun(ctx context.Context, threadID, runID string) (models.Run, error) {
	var run runObject
	path := "/threads/" + url.PathEscape(threadID) + "/runs/" + url.PathEscape(runID)
	if err := c.do(ctx, http.MethodGet, path, nil, &run); err != nil {
		return models.Run{}, err
	}
	return run.toModel(), nil
}

func (c *HTTPClient) ListMessages(ctx context.Context, threadID string) ([]models.ThreadMessage, error) {
	var list messageList
	path := fmt.Sprintf("/threads/%s/messages?order=desc&limit=%d", url.PathEscape(threadID), messagesPageSize)
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}

	msgs := make([]models.ThreadMessage, 0, len(list.Data))
	for _, m := range list.Data {
		msgs = append(msgs, m.toModel())
	}
	return msgs, nil
}

// Ready verifies the credential by listing models.
func (c *HTTPClient) Ready(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/models", nil, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %v", ErrTimeout, err)
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(resp.Body),
			Endpoint:   method + " " + strings.SplitN(path, "?", 2)[0],
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrAPI, err)
	}
	return nil
}

// errorMessage extracts error.message from an API error body, falling back to the raw text.
func errorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	var env struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &env) == nil && env.Error.Message != "" {
		return env.Error.Message
	}
	return strings.TrimSpace(string(raw))
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

// --- wire types ---

type threadObject struct {
	ID string `json:"id"`
}

type createMessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type createRunRequest struct {
	AssistantID string `json:"assistant_id"`
}

type runObject struct {
	ID        string `json:"id"`
	ThreadID  string `json:"thread_id"`
	Status    string `json:"status"`
	LastError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error"`
}

func (r runObject) toModel() models.Run {
	run := models.Run{ID: r.ID, ThreadID: r.ThreadID, Status: r.Status}
	if r.LastError != nil {
		run.LastError = strings.TrimSpace(r.LastError.Code + ": " + r.LastError.Message)
	}
	return run
}

type messageList struct {
	Data []messageObject `json:"data"`
}

type messageObject struct {
	ID      string           `json:"id"`
	Role    string           `json:"role"`
	RunID   *string          `json:"run_id"`
	Content []messageContent `json:"content"`
}

type messageContent struct {
	Type string `json:"type"`
	Text *struct {
		Value string `json:"value"`
	} `json:"text,omitempty"`
}

// toModel joins all text parts; non-text parts such as images are skipped.
func (m messageObject) toModel() models.ThreadMessage {
	var parts []string
	for _, c := range m.Content {
		if c.Type == "text" && c.Text != nil {
			parts = append(parts, c.Text.Value)
		}
	}
	msg := models.ThreadMessage{ID: m.ID, Role: m.Role, Text: strings.Join(parts, "\n")}
	if m.RunID != nil {
		msg.RunID = *m.RunID
	}
	return msg
}

// Compile-time check that HTTPClient implements AssistantEngine.
var _ models.AssistantEngine = (*HTTPClient)(nil)
