// Package llm is the completion transport. It sends a system prompt and
// a message history to the user's configured provider and returns the
// reply, streaming partial text and native reasoning when asked to.
package llm

import (
	"context"
	"fmt"
	"log/slog"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of the conversation sent to the provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Settings identifies the endpoint and sampling parameters for a request.
type Settings struct {
	Provider    string  `json:"provider"`
	BaseURL     string  `json:"base_url,omitempty"`
	APIKey      string  `json:"-"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// Overrides adjusts Settings for a single request. Zero fields are ignored.
type Overrides struct {
	Model       string
	Temperature *float64
	MaxTokens   int
}

// Request is a single completion call.
type Request struct {
	Settings     Settings
	Messages     []Message
	SystemPrompt string

	// OnText receives answer text deltas. OnThought receives native
	// reasoning deltas from providers that expose them separately.
	// Setting either one switches the request to streaming.
	OnText    func(delta string)
	OnThought func(delta string)

	Overrides *Overrides
}

// Streaming reports whether the caller asked for incremental delivery.
func (r *Request) Streaming() bool {
	return r.OnText != nil || r.OnThought != nil
}

// Effective returns Settings with Overrides applied.
func (r *Request) Effective() Settings {
	s := r.Settings
	if o := r.Overrides; o != nil {
		if o.Model != "" {
			s.Model = o.Model
		}
		if o.Temperature != nil {
			s.Temperature = *o.Temperature
		}
		if o.MaxTokens > 0 {
			s.MaxTokens = o.MaxTokens
		}
	}
	if s.MaxTokens <= 0 {
		s.MaxTokens = 4096
	}
	return s
}

func (r *Request) emitText(s string) {
	if r.OnText != nil && s != "" {
		r.OnText(s)
	}
}

func (r *Request) emitThought(s string) {
	if r.OnThought != nil && s != "" {
		r.OnThought(s)
	}
}

// Response is the provider-neutral result of a completion.
type Response struct {
	Text         string
	Thinking     string
	Model        string
	InputTokens  int
	OutputTokens int

	// Aborted is set when the context was cancelled mid-stream. Text
	// then holds whatever arrived before cancellation.
	Aborted bool
}

// Client generates completions.
type Client interface {
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// APIError is a non-success HTTP response from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Provider, e.StatusCode, e.Body)
}

// aborted wraps a partial response for a cancelled stream.
func aborted(ctx context.Context, resp *Response) (*Response, error) {
	resp.Aborted = true
	return resp, ctx.Err()
}
