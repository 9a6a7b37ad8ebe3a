package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Provider names accepted in Settings.Provider.
const (
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
)

// Transport routes each request to a provider client chosen by
// Settings.Provider. Provider clients are built lazily and cached per
// base URL and API key, so settings may change between requests.
type Transport struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]Client
}

// NewTransport creates a routing transport.
func NewTransport(logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		logger:  logger,
		clients: make(map[string]Client),
	}
}

// Register installs a fixed client for a provider name, bypassing the
// lazily built default.
func (t *Transport) Register(provider string, c Client) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clients[provider] = c
}

// Generate implements Client.
func (t *Transport) Generate(ctx context.Context, req *Request) (*Response, error) {
	c, err := t.clientFor(req.Settings)
	if err != nil {
		return nil, err
	}
	return c.Generate(ctx, req)
}

func (t *Transport) clientFor(s Settings) (Client, error) {
	provider := strings.ToLower(s.Provider)
	if provider == "" {
		provider = ProviderOpenAI
	}
	key := provider + "|" + s.BaseURL + "|" + s.APIKey

	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.clients[provider]; ok {
		return c, nil
	}
	if c, ok := t.clients[key]; ok {
		return c, nil
	}

	var c Client
	switch provider {
	case ProviderOpenAI:
		c = NewOpenAIClient(s.BaseURL, s.APIKey, t.logger)
	case ProviderOllama:
		c = NewOllamaClient(s.BaseURL, t.logger)
	case ProviderAnthropic:
		c = NewAnthropicClient(s.BaseURL, s.APIKey, t.logger)
	default:
		return nil, fmt.Errorf("no provider configured for %q", s.Provider)
	}
	t.clients[key] = c
	return c, nil
}
