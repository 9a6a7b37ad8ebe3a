// Package search finds web pages outside the configured research wiki.
//
// Each backend implements [Provider]. The [Manager] picks the configured
// provider and lets the agent name another one per query.
package search

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/nugget/loresmith/internal/wiki"
)

// DefaultCount is the result count when a query does not ask for one.
const DefaultCount = 5

// Result is a single search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Options are optional parameters for a query.
type Options struct {
	// Count is the maximum number of results. Providers may return
	// fewer. Zero means DefaultCount.
	Count int `json:"count,omitempty"`

	// Language is an ISO 639-1 code such as "en" or "ja".
	Language string `json:"language,omitempty"`
}

func (o Options) count() int {
	if o.Count <= 0 {
		return DefaultCount
	}
	return o.Count
}

// Provider is a web search backend.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// Manager routes queries to registered providers.
type Manager struct {
	providers map[string]Provider
	primary   string
}

// NewManager creates a manager. primary names the provider used when a
// query does not pick one; empty means the first one registered.
func NewManager(primary string) *Manager {
	return &Manager{
		providers: make(map[string]Provider),
		primary:   primary,
	}
}

// Register adds a provider.
func (m *Manager) Register(p Provider) {
	m.providers[p.Name()] = p
	if m.primary == "" {
		m.primary = p.Name()
	}
}

// Search runs a query against the named provider, or the primary one
// when provider is empty.
func (m *Manager) Search(ctx context.Context, provider, query string, opts Options) ([]Result, error) {
	if provider == "" {
		provider = m.primary
	}
	p, ok := m.providers[provider]
	if !ok {
		if len(m.providers) == 0 {
			return nil, fmt.Errorf("no web search provider configured")
		}
		return nil, fmt.Errorf("search provider %q not configured (available: %s)", provider, strings.Join(m.Providers(), ", "))
	}
	results, err := p.Search(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].Snippet = wiki.StripMarkup(results[i].Snippet)
	}
	return results, nil
}

// Providers returns the registered provider names, sorted.
func (m *Manager) Providers() []string {
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Configured reports whether at least one provider is registered.
func (m *Manager) Configured() bool {
	return len(m.providers) > 0
}

// FormatResults renders hits as a numbered list for the model.
func FormatResults(results []Result) string {
	if len(results) == 0 {
		return "No results found."
	}

	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%d. %s\n   %s", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&b, "\n   %s", r.Snippet)
		}
	}
	return b.String()
}
