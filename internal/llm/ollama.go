package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/loresmith/internal/httpkit"
)

// OllamaClient is a client for the Ollama chat API.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOllamaClient creates a new Ollama client.
func NewOllamaClient(baseURL string, logger *slog.Logger) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Large local models can take minutes to load before sending headers.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 5 * time.Minute

	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With("provider", ProviderOllama),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
		),
	}
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	Thinking string `json:"thinking,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
	Error           string        `json:"error,omitempty"`
}

// Generate implements Client.
func (c *OllamaClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	s := req.Effective()
	stream := req.Streaming()

	body := ollamaRequest{
		Model:    s.Model,
		Messages: toOllamaMessages(req.SystemPrompt, req.Messages),
		Stream:   stream,
		Options: &ollamaOptions{
			Temperature: s.Temperature,
			NumPredict:  s.MaxTokens,
		},
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

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
		return nil, &APIError{Provider: ProviderOllama, StatusCode: resp.StatusCode, Body: errBody}
	}

	if !stream {
		var out ollamaResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		if out.Error != "" {
			return nil, fmt.Errorf("ollama: %s", out.Error)
		}
		return &Response{
			Text:         out.Message.Content,
			Thinking:     out.Message.Thinking,
			Model:        out.Model,
			InputTokens:  out.PromptEvalCount,
			OutputTokens: out.EvalCount,
		}, nil
	}

	return c.readStream(ctx, resp.Body, req, s.Model)
}

// readStream consumes newline-delimited JSON chunks.
func (c *OllamaClient) readStream(ctx context.Context, body io.Reader, req *Request, model string) (*Response, error) {
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

	decoder := json.NewDecoder(body)
	for {
		if ctx.Err() != nil {
			return aborted(ctx, snapshot())
		}

		var chunk ollamaResponse
		if err := decoder.Decode(&chunk); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if ctx.Err() != nil {
				return aborted(ctx, snapshot())
			}
			return nil, fmt.Errorf("decode stream chunk: %w", err)
		}
		if chunk.Error != "" {
			return nil, fmt.Errorf("ollama: %s", chunk.Error)
		}

		if chunk.Message.Thinking != "" {
			thinking.WriteString(chunk.Message.Thinking)
			req.emitThought(chunk.Message.Thinking)
		}
		if chunk.Message.Content != "" {
			text.WriteString(chunk.Message.Content)
			req.emitText(chunk.Message.Content)
		}

		if chunk.Done {
			if chunk.Model != "" {
				out.Model = chunk.Model
			}
			out.InputTokens = chunk.PromptEvalCount
			out.OutputTokens = chunk.EvalCount
			break
		}
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

func toOllamaMessages(system string, msgs []Message) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, ollamaMessage{Role: RoleSystem, Content: system})
	}
	for _, m := range msgs {
		out = append(out, ollamaMessage{Role: m.Role, Content: m.Content})
	}
	return out
}
