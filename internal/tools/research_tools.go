package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/nugget/loresmith/internal/card"
	"github.com/nugget/loresmith/internal/fetch"
	"github.com/nugget/loresmith/internal/search"
	"github.com/nugget/loresmith/internal/wiki"
)

// previewChars is how much of a fetched page is echoed back to the model.
const previewChars = 1500

func registerResearchTools(r *Registry, deps Deps) {
	r.Register(&Tool{
		Name:        "wiki_search",
		Description: "Search the research wiki for articles. Returns matching titles with page ids and snippets. Use a title or id with wiki_fetch to store the article.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Search terms, e.g. a character or place name",
				},
				"source_url": map[string]any{
					"type":        "string",
					"description": "Optional wiki to search instead of the configured research source, e.g. https://typemoon.fandom.com",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of results (default 10)",
				},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any, env Env) (string, error) {
			return handleWikiSearch(ctx, deps, args, env)
		},
	})

	r.Register(&Tool{
		Name:        "wiki_fetch",
		Description: "Download a wiki article (by title or page id) or any web page (by full URL), strip markup and boilerplate, and store it as a research document.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title": map[string]any{
					"type":        "string",
					"description": "Article title, numeric page id, or a full http(s) URL",
				},
				"source_url": map[string]any{
					"type":        "string",
					"description": "Optional wiki to fetch from instead of the configured research source",
				},
			},
			"required": []string{"title"},
		},
		Handler: func(ctx context.Context, args map[string]any, env Env) (string, error) {
			return handleWikiFetch(ctx, deps, args, env)
		},
	})
}

func registerWebSearch(r *Registry, web WebSearcher) {
	r.Register(&Tool{
		Name:        "web_search",
		Description: "Search the web for pages about a character or setting when the research wiki lacks them. Pass a result URL to wiki_fetch to store the page.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Search terms",
				},
				"count": map[string]any{
					"type":        "integer",
					"description": "Maximum number of results (default 5)",
				},
				"language": map[string]any{
					"type":        "string",
					"description": "ISO 639-1 language code, e.g. en or ja",
				},
				"provider": map[string]any{
					"type":        "string",
					"description": "Search backend to use. Omit for the default.",
				},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any, _ Env) (string, error) {
			query := argString(args, "query")
			if query == "" {
				return "", fmt.Errorf("query is required")
			}
			opts := search.Options{
				Count:    argInt(args, "count", search.DefaultCount),
				Language: argString(args, "language"),
			}
			results, err := web.Search(ctx, argString(args, "provider"), query, opts)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Web results for %q:\n\n%s", query, search.FormatResults(results)), nil
		},
	})
}

func researchSource(args map[string]any, env Env) (string, error) {
	if src := argString(args, "source_url"); src != "" {
		return src, nil
	}
	if env.Workspace.ResearchURL != "" {
		return env.Workspace.ResearchURL, nil
	}
	return "", fmt.Errorf("no research source configured; pass source_url")
}

func handleWikiSearch(ctx context.Context, deps Deps, args map[string]any, env Env) (string, error) {
	if deps.Wiki == nil {
		return "", fmt.Errorf("wiki search is not configured")
	}
	query := argString(args, "query")
	if query == "" {
		return "", fmt.Errorf("query is required")
	}
	source, err := researchSource(args, env)
	if err != nil {
		return "", err
	}

	limit := argInt(args, "limit", env.SearchLimit)
	results, err := deps.Wiki.Search(ctx, source, query, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Search results for %q on %s:\n\n%s", query, source, wiki.FormatResults(results)), nil
}

func handleWikiFetch(ctx context.Context, deps Deps, args map[string]any, env Env) (string, error) {
	title := argString(args, "title")
	if title == "" {
		return "", fmt.Errorf("title is required")
	}

	maxChars := env.MaxChars
	if maxChars <= 0 {
		maxChars = fetch.DefaultMaxChars
	}

	var name, content, source string
	if strings.HasPrefix(title, "http://") || strings.HasPrefix(title, "https://") {
		if deps.Fetcher == nil {
			return "", fmt.Errorf("URL fetching is not configured")
		}
		res, err := deps.Fetcher.Fetch(ctx, title, maxChars)
		if err != nil {
			return "", err
		}
		name, content, source = res.Title, res.Content, res.URL
		if name == "" {
			name = res.URL
		}
	} else {
		if deps.Wiki == nil {
			return "", fmt.Errorf("wiki fetching is not configured")
		}
		base, err := researchSource(args, env)
		if err != nil {
			return "", err
		}
		page, err := deps.Wiki.Page(ctx, base, title)
		if err != nil {
			return "", err
		}
		name, content, source = page.Title, fetch.TruncateUTF8(page.Content, maxChars), page.URL
	}

	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("%s has no readable content", name)
	}

	verb := "Added"
	doc := card.NewDocument(name, content, source)
	if existing, ok := env.Workspace.Document(name); ok {
		verb = "Replaced"
		doc.ID = existing.ID
	}

	if env.Effects == nil {
		return fmt.Sprintf("Fetched %q (%s) but it was not stored: %v.\n\n%s",
			name, humanize.Bytes(uint64(doc.Size)), ErrNoEffects, preview(content)), nil
	}

	var err error
	if verb == "Replaced" {
		err = env.Effects.UpdateDocument(ctx, doc)
	} else {
		err = env.Effects.AddDocument(ctx, doc)
	}
	if err != nil {
		return "", fmt.Errorf("store document %q: %w", name, err)
	}

	return fmt.Sprintf("%s document %q (%s) from %s.\nUse read_document to read it in full or compress_document to shrink it.\n\nPreview:\n%s",
		verb, name, humanize.Bytes(uint64(doc.Size)), source, preview(content)), nil
}

func preview(s string) string {
	if len([]rune(s)) <= previewChars {
		return s
	}
	return fetch.TruncateUTF8(s, previewChars) + "\n[...]"
}
