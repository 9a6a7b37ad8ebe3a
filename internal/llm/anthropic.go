package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/loresmith/internal/httpkit"
)

const (
	anthropicBaseURL    = "https://api.anthropic.com"
	anthropicAPIVersion = "2023-06-01"
)

// AnthropicClient is a client for the Anthropic Messages API.
type AnthropicClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAnthropicClient creates a new Anthropic client. An empty baseURL
// means api.anthropic.com.
func NewAnthropicClient(baseURL, apiKey string, logger *slog.Logger) *AnthropicClient {
	if logger == nil {
		logger = slog.Default()
	}
	if baseURL == "" {
		baseURL = anthropicBaseURL
	}
	baseURL = strings.TrimSuffix(strings.TrimRight(baseURL, "/"), "/v1")

	// Extended thinking can hold headers back for a long time.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	return &AnthropicClient{
		endpoint: baseURL + "/v1/messages",
		apiKey:   apiKey,
		logger:   logger.With("provider", ProviderAnthropic),
		httpClient: httpkit.NewClient(
			// Streaming responses are long-lived; ctx controls the deadline.
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
		),
	}
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicContent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`
}

type anthropicResponse struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
	Model   string             `json:"model"`
	Usage   anthropicUsage     `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicStreamEvent struct {
	Type    string             `json:"type"`
	Delta   *anthropicDelta    `json:"delta,omitempty"`
	Message *anthropicResponse `json:"message,omitempty"`
	Usage   *anthropicUsage    `json:"usage,omitempty"`
	Error   *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type anthropicDelta struct {
	Type     string `json:"type,omitempty"`
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`
}

// Generate implements Client.
func (c *AnthropicClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	s := req.Effective()
	stream := req.Streaming()

	msgs, system := convertToAnthropic(req.SystemPrompt, req.Messages)
	temp := s.Temperature
	body := anthropicRequest{
		Model:       s.Model,
		Messages:    msgs,
		System:      system,
		MaxTokens:   s.MaxTokens,
		Temperature: &temp,
		Stream:      stream,
	}

	c.logger.Debug("preparing request",
		"model", body.Model,
		"messages", len(msgs),
		"stream", stream,
		"system_len", len(system),
	)

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return aborted(ctx, &Response{Model: s.Model})
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("API error", "status", resp.StatusCode, "body", errBody)
		return nil, &APIError{Provider: ProviderAnthropic, StatusCode: resp.StatusCode, Body: errBody}
	}

	if !stream {
		return c.handleBuffered(ctx, resp.Body)
	}
	return c.handleStreaming(ctx, resp.Body, req, s.Model)
}

func (c *AnthropicClient) handleBuffered(ctx context.Context, body io.Reader) (*Response, error) {
	var ar anthropicResponse
	if err := json.NewDecoder(body).Decode(&ar); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	out := &Response{
		Model:        ar.Model,
		InputTokens:  ar.Usage.InputTokens,
		OutputTokens: ar.Usage.OutputTokens,
	}
	var text, thinking strings.Builder
	for _, block := range ar.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "thinking":
			thinking.WriteString(block.Thinking)
		}
	}
	out.Text = text.String()
	out.Thinking = thinking.String()

	c.logger.Log(ctx, LevelTrace, "response content", "content", out.Text)
	return out, nil
}

func (c *AnthropicClient) handleStreaming(ctx context.Context, body io.Reader, req *Request, model string) (*Response, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		text     strings.Builder
		thinking strings.Builder
		out      = &Response{Model: model}
	)
	snapshot := func() *Response {
		out.Text = text.String()
		out.Thinking = thinking.String()
		return out
	}

	for {
		if ctx.Err() != nil {
			return aborted(ctx, snapshot())
		}
		if !scanner.Scan() {
			break
		}

		// SSE format: "event: <type>" followed by "data: <json>"
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		if data == "[DONE]" {
			break
		}

		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				if event.Message.Model != "" {
					out.Model = event.Message.Model
				}
				out.InputTokens = event.Message.Usage.InputTokens
			}
		case "content_block_delta":
			if event.Delta == nil {
				continue
			}
			switch event.Delta.Type {
			case "text_delta":
				text.WriteString(event.Delta.Text)
				req.emitText(event.Delta.Text)
			case "thinking_delta":
				thinking.WriteString(event.Delta.Thinking)
				req.emitThought(event.Delta.Thinking)
			}
		case "message_delta":
			if event.Usage != nil {
				out.OutputTokens = event.Usage.OutputTokens
			}
		case "error":
			if event.Error != nil {
				return nil, fmt.Errorf("anthropic stream error (%s): %s", event.Error.Type, event.Error.Message)
			}
		case "message_stop":
			snapshot()
			return out, nil
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return aborted(ctx, snapshot())
		}
		return nil, fmt.Errorf("read stream: %w", err)
	}

	snapshot()
	c.logger.Debug("stream complete",
		"model", out.Model,
		"input_tokens", out.InputTokens,
		"output_tokens", out.OutputTokens,
		"content_len", len(out.Text),
	)
	c.logger.Log(ctx, LevelTrace, "stream final content", "content", out.Text)
	return out, nil
}

// convertToAnthropic maps the transcript onto the Messages API. A leading
// run of system messages joins the system prompt. Later system messages
// (tool output) become user turns, and consecutive turns with the same
// role are merged because the API requires alternation.
func convertToAnthropic(system string, msgs []Message) ([]anthropicMessage, string) {
	systemParts := []string{}
	if system != "" {
		systemParts = append(systemParts, system)
	}

	var out []anthropicMessage
	leading := true
	for _, m := range msgs {
		if m.Role == RoleSystem && leading {
			systemParts = append(systemParts, m.Content)
			continue
		}
		leading = false

		role := RoleUser
		if m.Role == RoleAssistant {
			role = RoleAssistant
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content += "\n\n" + m.Content
			continue
		}
		out = append(out, anthropicMessage{Role: role, Content: m.Content})
	}

	// The API rejects a conversation that opens with an assistant turn.
	if len(out) > 0 && out[0].Role == RoleAssistant {
		out = append([]anthropicMessage{{Role: RoleUser, Content: "(continue)"}}, out...)
	}
	return out, strings.Join(systemParts, "\n\n")
}
