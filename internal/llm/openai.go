package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nugget/loresmith/internal/httpkit"
)

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint:
// OpenAI itself, OpenRouter, LM Studio, vLLM, llama.cpp server and so on.
type OpenAIClient struct {
	api    *openai.Client
	logger *slog.Logger
}

// NewOpenAIClient creates a client. An empty baseURL means api.openai.com.
func NewOpenAIClient(baseURL, apiKey string, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}

	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	cfg.HTTPClient = httpkit.NewClient(
		httpkit.WithTimeout(0),
		httpkit.WithTransport(t),
	)

	return &OpenAIClient{
		api:    openai.NewClientWithConfig(cfg),
		logger: logger.With("provider", ProviderOpenAI),
	}
}

// Generate implements Client.
func (c *OpenAIClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	s := req.Effective()
	creq := openai.ChatCompletionRequest{
		Model:       s.Model,
		Messages:    toOpenAIMessages(req.SystemPrompt, req.Messages),
		Temperature: float32(s.Temperature),
		MaxTokens:   s.MaxTokens,
	}

	c.logger.Debug("preparing request",
		"model", creq.Model,
		"messages", len(creq.Messages),
		"stream", req.Streaming(),
		"system_len", len(req.SystemPrompt),
	)

	if !req.Streaming() {
		return c.generateBuffered(ctx, creq)
	}
	return c.generateStream(ctx, creq, req)
}

func (c *OpenAIClient) generateBuffered(ctx context.Context, creq openai.ChatCompletionRequest) (*Response, error) {
	out, err := c.api.CreateChatCompletion(ctx, creq)
	if err != nil {
		return nil, c.wrapError(err)
	}

	resp := &Response{
		Model:        out.Model,
		InputTokens:  out.Usage.PromptTokens,
		OutputTokens: out.Usage.CompletionTokens,
	}
	if len(out.Choices) > 0 {
		resp.Text = out.Choices[0].Message.Content
		resp.Thinking = out.Choices[0].Message.ReasoningContent
	}

	c.logger.Log(ctx, LevelTrace, "response content", "content", resp.Text)
	return resp, nil
}

func (c *OpenAIClient) generateStream(ctx context.Context, creq openai.ChatCompletionRequest, req *Request) (*Response, error) {
	creq.Stream = true
	creq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := c.api.CreateChatCompletionStream(ctx, creq)
	if err != nil {
		return nil, c.wrapError(err)
	}
	defer stream.Close()

	var (
		text     strings.Builder
		thinking strings.Builder
		resp     = &Response{Model: creq.Model}
	)
	snapshot := func() *Response {
		resp.Text = text.String()
		resp.Thinking = thinking.String()
		return resp
	}

	for {
		if ctx.Err() != nil {
			return aborted(ctx, snapshot())
		}

		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return aborted(ctx, snapshot())
			}
			return nil, c.wrapError(err)
		}

		if chunk.Model != "" {
			resp.Model = chunk.Model
		}
		if chunk.Usage != nil {
			resp.InputTokens = chunk.Usage.PromptTokens
			resp.OutputTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		if delta.ReasoningContent != "" {
			thinking.WriteString(delta.ReasoningContent)
			req.emitThought(delta.ReasoningContent)
		}
		if delta.Content != "" {
			text.WriteString(delta.Content)
			req.emitText(delta.Content)
		}
	}

	snapshot()
	c.logger.Debug("stream complete",
		"model", resp.Model,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"content_len", len(resp.Text),
		"thinking_len", len(resp.Thinking),
	)
	c.logger.Log(ctx, LevelTrace, "stream final content", "content", resp.Text)
	return resp, nil
}

// wrapError converts go-openai HTTP failures into *APIError.
func (c *OpenAIClient) wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		c.logger.Error("API error", "status", apiErr.HTTPStatusCode, "message", apiErr.Message)
		return &APIError{Provider: ProviderOpenAI, StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		c.logger.Error("API error", "status", reqErr.HTTPStatusCode, "error", reqErr.Err)
		body := ""
		if reqErr.Err != nil {
			body = reqErr.Err.Error()
		}
		return &APIError{Provider: ProviderOpenAI, StatusCode: reqErr.HTTPStatusCode, Body: body}
	}
	return fmt.Errorf("openai request failed: %w", err)
}

func toOpenAIMessages(system string, msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range msgs {
		role := m.Role
		switch role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			role = RoleUser
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}
