// Package llm calls the hosted language-model completion endpoint:
// ordered context messages plus new user text in, reply text plus zero or
// more project annotations out. Failures surface as typed errors the chat
// layer converts into visible assistant-authored error messages.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"convosync/pkg/models"
	"convosync/pkg/telemetry"
)

const defaultBaseURL = "https://api.anthropic.com/v1/messages"

// ErrMissingAPIKey is returned when no completion API key is configured.
var ErrMissingAPIKey = errors.New("llm: api key not configured")

// ErrInvalidResponse is returned when the endpoint answers with a payload
// the client cannot interpret.
var ErrInvalidResponse = errors.New("llm: invalid response")

// APIError is a non-200 answer from the completion endpoint.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm: api error (%d): %s", e.StatusCode, e.Message)
}

// Completion is the completion contract's response: reply text and zero or
// more structured project annotations.
type Completion struct {
	Text     string
	Projects []models.Project
}

// Completer is the request/response contract the chat layer consumes.
type Completer interface {
	Complete(ctx context.Context, history []models.Message, userText string) (Completion, error)
}

// Client talks to an Anthropic-style messages endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	model      string
	maxTokens  int
	system     string
	apiKey     func() string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the endpoint URL (tests point it at httptest).
func WithBaseURL(u string) Option { return func(c *Client) { c.baseURL = u } }

// WithModel sets the model identifier sent with each request.
func WithModel(m string) Option { return func(c *Client) { c.model = m } }

// WithMaxTokens caps the reply length.
func WithMaxTokens(n int) Option { return func(c *Client) { c.maxTokens = n } }

// WithSystemPrompt sets the system prompt sent with each request.
func WithSystemPrompt(s string) Option { return func(c *Client) { c.system = s } }

// NewClient builds a client. apiKey is consulted per request so a key
// added to the vault mid-session takes effect without a restart.
func NewClient(apiKey func() string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    defaultBaseURL,
		model:      "claude-sonnet-4-20250514",
		maxTokens:  1000,
		apiKey:     apiKey,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	System    string        `json:"system,omitempty"`
	Messages  []wireMessage `json:"messages"`
}

type completionResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Complete sends the ordered context plus the new user text and returns
// the reply. History must be oldest-first; the endpoint is
// order-sensitive.
func (c *Client) Complete(ctx context.Context, history []models.Message, userText string) (Completion, error) {
	key := c.apiKey()
	if key == "" {
		return Completion{}, ErrMissingAPIKey
	}

	msgs := make([]wireMessage, 0, len(history)+1)
	for _, m := range history {
		role := "assistant"
		if m.Author == models.AuthorUser {
			role = "user"
		}
		msgs = append(msgs, wireMessage{Role: role, Content: m.Content})
	}
	msgs = append(msgs, wireMessage{Role: "user", Content: userText})

	body, err := json.Marshal(completionRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    c.system,
		Messages:  msgs,
	})
	if err != nil {
		return Completion{}, fmt.Errorf("marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return Completion{}, fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", key)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		telemetry.CompletionRequests.WithLabelValues("error").Inc()
		return Completion{}, fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		telemetry.CompletionRequests.WithLabelValues("error").Inc()
		return Completion{}, fmt.Errorf("read completion response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		telemetry.CompletionRequests.WithLabelValues("error").Inc()
		return Completion{}, &APIError{StatusCode: resp.StatusCode, Message: string(data)}
	}

	var cr completionResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		telemetry.CompletionRequests.WithLabelValues("error").Inc()
		return Completion{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if len(cr.Content) == 0 {
		telemetry.CompletionRequests.WithLabelValues("error").Inc()
		return Completion{}, ErrInvalidResponse
	}
	telemetry.CompletionRequests.WithLabelValues("ok").Inc()
	return Completion{Text: cr.Content[0].Text}, nil
}
