package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/nugget/loresmith/internal/card"
	"github.com/nugget/loresmith/internal/llm"
	"github.com/nugget/loresmith/internal/prompts"
)

const defaultReadLimit = 4000

// Compression runs cooler than the agent and is capped at half the
// source length, estimated at four bytes per token.
const (
	compressionTemperature = 0.2
	compressionMinTokens   = 256
	compressionMaxTokens   = 4096
)

func compressionOverrides(doc card.Document) *llm.Overrides {
	temp := compressionTemperature
	return &llm.Overrides{
		Temperature: &temp,
		MaxTokens:   min(max(doc.Size/8, compressionMinTokens), compressionMaxTokens),
	}
}

func registerDocumentTools(r *Registry) {
	r.Register(&Tool{
		Name:        "list_documents",
		Description: "List stored research documents with their sizes.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: handleListDocuments,
	})

	r.Register(&Tool{
		Name:        "read_document",
		Description: "Read part of a stored document. Use offset and limit (in characters) to page through long documents.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name":   map[string]any{"type": "string", "description": "Document name as shown by list_documents"},
				"offset": map[string]any{"type": "integer", "description": "Start position in characters (default 0)"},
				"limit":  map[string]any{"type": "integer", "description": "Characters to return (default 4000)"},
			},
			"required": []string{"name"},
		},
		Handler: handleReadDocument,
	})

	r.Register(&Tool{
		Name:        "compress_document",
		Description: "Rewrite a stored document with the language model to make it shorter. Mode summary keeps a dense factual summary, character keeps only character details, lore keeps only world lore. The stored content is replaced.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{"type": "string", "description": "Document name"},
				"mode": map[string]any{
					"type":        "string",
					"enum":        []string{prompts.CompressSummary, prompts.CompressCharacter, prompts.CompressLore},
					"description": "Compression style (default summary)",
				},
			},
			"required": []string{"name"},
		},
		Handler: handleCompressDocument,
	})
}

func handleListDocuments(_ context.Context, _ map[string]any, env Env) (string, error) {
	docs := env.Workspace.Documents
	if len(docs) == 0 {
		return "No documents stored.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d documents:\n", len(docs))
	for _, d := range docs {
		fmt.Fprintf(&b, "- %s (%s)", d.Name, humanize.Bytes(uint64(d.Size)))
		if d.Source != "" {
			fmt.Fprintf(&b, " from %s", d.Source)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func documentNames(env Env) string {
	names := make([]string, 0, len(env.Workspace.Documents))
	for _, d := range env.Workspace.Documents {
		names = append(names, d.Name)
	}
	if len(names) == 0 {
		return "(none)"
	}
	return strings.Join(names, ", ")
}

func handleReadDocument(_ context.Context, args map[string]any, env Env) (string, error) {
	name := argString(args, "name")
	if name == "" {
		return "", fmt.Errorf("name is required")
	}
	doc, ok := env.Workspace.Document(name)
	if !ok {
		return "", fmt.Errorf("document %q not found; stored documents: %s", name, documentNames(env))
	}

	runes := []rune(doc.Content)
	offset := argInt(args, "offset", 0)
	limit := argInt(args, "limit", defaultReadLimit)
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultReadLimit
	}
	if offset >= len(runes) {
		return fmt.Sprintf("Document %q has %d characters; offset %d is past the end.", doc.Name, len(runes), offset), nil
	}
	end := min(offset+limit, len(runes))

	header := fmt.Sprintf("Document %q, characters %d-%d of %d", doc.Name, offset, end, len(runes))
	if end < len(runes) {
		header += fmt.Sprintf(" (continue with offset %d)", end)
	}
	return header + ":\n\n" + string(runes[offset:end]), nil
}

func handleCompressDocument(ctx context.Context, args map[string]any, env Env) (string, error) {
	if env.Settings == nil || env.Completion == nil {
		return "", fmt.Errorf("no model settings available for compression")
	}
	name := argString(args, "name")
	if name == "" {
		return "", fmt.Errorf("name is required")
	}
	doc, ok := env.Workspace.Document(name)
	if !ok {
		return "", fmt.Errorf("document %q not found; stored documents: %s", name, documentNames(env))
	}

	mode := argString(args, "mode")
	if mode == "" {
		mode = prompts.CompressSummary
	}
	system, err := prompts.CompressionPrompt(mode)
	if err != nil {
		return "", err
	}

	resp, err := env.Completion.Generate(ctx, &llm.Request{
		Settings:     *env.Settings,
		SystemPrompt: system,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: doc.Content}},
		Overrides:    compressionOverrides(doc),
	})
	if err != nil {
		return "", fmt.Errorf("compression request failed: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("compression returned no content")
	}

	compressed := doc.WithContent(text)
	if env.Effects == nil {
		return fmt.Sprintf("Compressed %q but it was not saved: %v.\n\n%s", doc.Name, ErrNoEffects, preview(text)), nil
	}
	if err := env.Effects.UpdateDocument(ctx, compressed); err != nil {
		return "", fmt.Errorf("save document %q: %w", doc.Name, err)
	}

	return fmt.Sprintf("Compressed %q (%s mode) from %s to %s.",
		doc.Name, mode, humanize.Bytes(uint64(doc.Size)), humanize.Bytes(uint64(compressed.Size))), nil
}
