// Package card holds the records Loresmith authors: the character card,
// its lorebook, and the research documents the agent collects while
// building them.
package card

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Character is a chara-card-v2 style character record.
type Character struct {
	Name                    string   `json:"name"`
	Description             string   `json:"description"`
	Personality             string   `json:"personality"`
	Scenario                string   `json:"scenario"`
	FirstMessage            string   `json:"first_mes"`
	MessageExample          string   `json:"mes_example"`
	CreatorNotes            string   `json:"creator_notes"`
	SystemPrompt            string   `json:"system_prompt"`
	PostHistoryInstructions string   `json:"post_history_instructions"`
	AlternateGreetings      []string `json:"alternate_greetings"`
	Tags                    []string `json:"tags"`
	Creator                 string   `json:"creator"`
	CharacterVersion        string   `json:"character_version"`
}

// stringFields maps JSON field names to accessors for the scalar fields.
var stringFields = map[string]func(*Character) *string{
	"name":                      func(c *Character) *string { return &c.Name },
	"description":               func(c *Character) *string { return &c.Description },
	"personality":               func(c *Character) *string { return &c.Personality },
	"scenario":                  func(c *Character) *string { return &c.Scenario },
	"first_mes":                 func(c *Character) *string { return &c.FirstMessage },
	"mes_example":               func(c *Character) *string { return &c.MessageExample },
	"creator_notes":             func(c *Character) *string { return &c.CreatorNotes },
	"system_prompt":             func(c *Character) *string { return &c.SystemPrompt },
	"post_history_instructions": func(c *Character) *string { return &c.PostHistoryInstructions },
	"creator":                   func(c *Character) *string { return &c.Creator },
	"character_version":         func(c *Character) *string { return &c.CharacterVersion },
}

var listFields = map[string]func(*Character) *[]string{
	"alternate_greetings": func(c *Character) *[]string { return &c.AlternateGreetings },
	"tags":                func(c *Character) *[]string { return &c.Tags },
}

// fieldAliases accepts the friendlier names models tend to produce.
var fieldAliases = map[string]string{
	"first_message":   "first_mes",
	"greeting":        "first_mes",
	"example_dialogs": "mes_example",
	"example_dialog":  "mes_example",
	"message_example": "mes_example",
	"version":         "character_version",
}

// FieldNames returns every field Merge accepts, sorted.
func FieldNames() []string {
	names := make([]string, 0, len(stringFields)+len(listFields))
	for k := range stringFields {
		names = append(names, k)
	}
	for k := range listFields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Merge returns a copy of c with the given fields overwritten, along with
// the sorted names of fields whose value actually changed. Unknown fields
// or values of the wrong type produce an error and c is left as is.
func (c Character) Merge(fields map[string]any) (Character, []string, error) {
	out := c.Clone()

	var unknown, changed []string
	for key, raw := range fields {
		name := strings.ToLower(strings.TrimSpace(key))
		if alias, ok := fieldAliases[name]; ok {
			name = alias
		}

		if get, ok := stringFields[name]; ok {
			s, err := asString(raw)
			if err != nil {
				return c, nil, fmt.Errorf("field %s: %w", name, err)
			}
			if p := get(&out); *p != s {
				*p = s
				changed = append(changed, name)
			}
			continue
		}

		if get, ok := listFields[name]; ok {
			list, err := asStringList(raw)
			if err != nil {
				return c, nil, fmt.Errorf("field %s: %w", name, err)
			}
			if p := get(&out); !equalStrings(*p, list) {
				*p = list
				changed = append(changed, name)
			}
			continue
		}

		unknown = append(unknown, key)
	}

	if len(unknown) > 0 {
		sort.Strings(unknown)
		return c, nil, fmt.Errorf("unknown character field(s): %s (valid: %s)",
			strings.Join(unknown, ", "), strings.Join(FieldNames(), ", "))
	}

	sort.Strings(changed)
	return out, changed, nil
}

// Clone returns a deep copy.
func (c Character) Clone() Character {
	out := c
	out.AlternateGreetings = append([]string(nil), c.AlternateGreetings...)
	out.Tags = append([]string(nil), c.Tags...)
	return out
}

// IsZero reports whether no field has been filled in.
func (c Character) IsZero() bool {
	for _, get := range stringFields {
		if *get(&c) != "" {
			return false
		}
	}
	return len(c.AlternateGreetings) == 0 && len(c.Tags) == 0
}

// JSON renders the record for embedding in prompts.
func (c Character) JSON() string {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

func asString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case nil:
		return "", nil
	case float64, bool, json.Number:
		return fmt.Sprint(t), nil
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			s, err := asString(item)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, "\n"), nil
	default:
		return "", fmt.Errorf("expected string, got %T", v)
	}
}

// asStringList accepts a JSON array of strings or a comma-separated string.
func asStringList(v any) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return SplitList(t), nil
	case []string:
		return compact(t), nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected list of strings, found %T", item)
			}
			out = append(out, s)
		}
		return compact(out), nil
	default:
		return nil, fmt.Errorf("expected list of strings, got %T", v)
	}
}

// SplitList splits a comma-separated string and drops empty items.
func SplitList(s string) []string {
	return compact(strings.Split(s, ","))
}

func compact(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
