package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/nugget/loresmith/internal/card"
)

func registerRecordTools(r *Registry) {
	r.Register(&Tool{
		Name: "update_character",
		Description: "Set fields on the character card. Pass only the fields to change; they replace the current values. " +
			"String fields: name, description, personality, scenario, first_mes, mes_example, creator_notes, system_prompt, " +
			"post_history_instructions, creator, character_version. List fields (array or comma-separated): alternate_greetings, tags.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name":                      map[string]any{"type": "string"},
				"description":               map[string]any{"type": "string", "description": "Appearance, background and role"},
				"personality":               map[string]any{"type": "string"},
				"scenario":                  map[string]any{"type": "string"},
				"first_mes":                 map[string]any{"type": "string", "description": "Opening message in the character's voice"},
				"mes_example":               map[string]any{"type": "string", "description": "Example dialogue using <START> separators"},
				"creator_notes":             map[string]any{"type": "string"},
				"system_prompt":             map[string]any{"type": "string"},
				"post_history_instructions": map[string]any{"type": "string"},
				"alternate_greetings":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"tags":                      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"creator":                   map[string]any{"type": "string"},
				"character_version":         map[string]any{"type": "string"},
			},
		},
		Handler: handleUpdateCharacter,
	})

	r.Register(&Tool{
		Name:        "add_lorebook_entry",
		Description: "Add an entry to the lorebook. The content is injected into roleplay whenever one of the keys appears in chat.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"keys": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Trigger words, e.g. [\"Excalibur\", \"holy sword\"]",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "The lore text to inject",
				},
				"comment": map[string]any{
					"type":        "string",
					"description": "Short label for the entry",
				},
				"secondary_keys": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string"},
				},
				"constant": map[string]any{
					"type":        "boolean",
					"description": "Always inject, regardless of keys",
				},
			},
			"required": []string{"keys", "content"},
		},
		Handler: handleAddLoreEntry,
	})
}

func handleUpdateCharacter(ctx context.Context, args map[string]any, env Env) (string, error) {
	fields := args
	if nested, ok := args["fields"].(map[string]any); ok && len(args) == 1 {
		fields = nested
	}
	if len(fields) == 0 {
		return "", fmt.Errorf("no fields provided; valid fields: %s", strings.Join(card.FieldNames(), ", "))
	}

	updated, changed, err := env.Workspace.Character.Merge(fields)
	if err != nil {
		return "", err
	}
	if len(changed) == 0 {
		return "No changes: the character already has these values.", nil
	}

	if env.Effects == nil {
		return fmt.Sprintf("Character fields %s were not saved: %v.", strings.Join(changed, ", "), ErrNoEffects), nil
	}
	if err := env.Effects.UpdateCharacter(ctx, updated); err != nil {
		return "", fmt.Errorf("save character: %w", err)
	}
	return fmt.Sprintf("Updated character fields: %s.", strings.Join(changed, ", ")), nil
}

func handleAddLoreEntry(ctx context.Context, args map[string]any, env Env) (string, error) {
	entry := card.Entry{
		Keys:          argList(args, "keys"),
		SecondaryKeys: argList(args, "secondary_keys"),
		Content:       strings.TrimSpace(argString(args, "content")),
		Comment:       argString(args, "comment"),
		Constant:      argBool(args, "constant"),
		Enabled:       true,
	}
	if len(entry.Keys) == 0 {
		// Models often say "key" for a single trigger.
		entry.Keys = argList(args, "key")
	}
	if err := entry.Validate(); err != nil {
		return "", fmt.Errorf("invalid lorebook entry: %w", err)
	}

	entry.ID = env.Workspace.Lorebook.NextID()
	entry.InsertionOrder = 100

	if env.Effects == nil {
		return fmt.Sprintf("Lorebook entry for %s was not saved: %v.", strings.Join(entry.Keys, ", "), ErrNoEffects), nil
	}
	if err := env.Effects.AddLoreEntry(ctx, entry); err != nil {
		return "", fmt.Errorf("save lorebook entry: %w", err)
	}
	return fmt.Sprintf("Added lorebook entry #%d (keys: %s).", entry.ID, strings.Join(entry.Keys, ", ")), nil
}
