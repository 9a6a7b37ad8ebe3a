package tools

import (
	"context"

	"github.com/nugget/loresmith/internal/fetch"
	"github.com/nugget/loresmith/internal/search"
	"github.com/nugget/loresmith/internal/wiki"
)

// WikiSource searches and reads a research wiki.
type WikiSource interface {
	Search(ctx context.Context, base, query string, limit int) ([]wiki.Result, error)
	Page(ctx context.Context, base, titleOrID string) (*wiki.Page, error)
}

// PageFetcher downloads an arbitrary article URL.
type PageFetcher interface {
	Fetch(ctx context.Context, url string, maxChars int) (*fetch.Result, error)
}

// WebSearcher finds pages outside the research wiki. provider may be
// empty for the default backend.
type WebSearcher interface {
	Search(ctx context.Context, provider, query string, opts search.Options) ([]search.Result, error)
}

// Deps are the outside services the built-in tools call. Web may be
// nil, in which case web_search is not offered.
type Deps struct {
	Wiki    WikiSource
	Fetcher PageFetcher
	Web     WebSearcher
}

// RegisterBuiltins installs the standard Loresmith tool set.
func RegisterBuiltins(r *Registry, deps Deps) {
	registerResearchTools(r, deps)
	if deps.Web != nil {
		registerWebSearch(r, deps.Web)
	}
	registerRecordTools(r)
	registerDocumentTools(r)
}
