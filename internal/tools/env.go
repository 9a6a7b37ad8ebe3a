package tools

import (
	"context"

	"github.com/nugget/loresmith/internal/card"
	"github.com/nugget/loresmith/internal/llm"
	"github.com/nugget/loresmith/internal/prompts"
)

// Effects persists the changes tools make. Every tool checks for a nil
// Effects and reports that the change could not be saved rather than
// failing.
type Effects interface {
	AddDocument(ctx context.Context, doc card.Document) error
	UpdateDocument(ctx context.Context, doc card.Document) error
	UpdateCharacter(ctx context.Context, c card.Character) error
	AddLoreEntry(ctx context.Context, e card.Entry) error
}

// Env is what a tool sees when it runs. It is a value: the orchestrator
// hands each call its own copy and swaps in a fresh Workspace snapshot
// after every effect, so no tool observes another's in-place mutation.
type Env struct {
	Workspace card.Workspace

	// Settings and Completion are needed by tools that call the model
	// themselves. Either may be nil.
	Settings   *llm.Settings
	Completion llm.Client

	Mode    prompts.Mode
	Effects Effects

	// SearchLimit and MaxChars bound research tool output. Zero means
	// the tool's default.
	SearchLimit int
	MaxChars    int
}

// WithWorkspace returns a copy of e holding a snapshot of ws.
func (e Env) WithWorkspace(ws card.Workspace) Env {
	e.Workspace = ws.Clone()
	return e
}
