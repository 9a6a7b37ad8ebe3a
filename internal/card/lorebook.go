package card

import (
	"errors"
	"fmt"
	"strings"
)

// Lorebook is the world-info book attached to a character.
type Lorebook struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Entries     []Entry `json:"entries"`
}

// Entry is a single keyed lore fragment. Content is injected into the
// roleplay context whenever one of Keys appears in the chat.
type Entry struct {
	ID             int      `json:"id"`
	Keys           []string `json:"keys"`
	SecondaryKeys  []string `json:"secondary_keys,omitempty"`
	Content        string   `json:"content"`
	Comment        string   `json:"comment,omitempty"`
	Enabled        bool     `json:"enabled"`
	Constant       bool     `json:"constant"`
	InsertionOrder int      `json:"insertion_order"`
}

// Validation failures for new entries.
var (
	ErrMissingKeys    = errors.New("keys: at least one non-empty key is required")
	ErrMissingContent = errors.New("content: non-empty content is required")
)

// Validate reports every missing required field.
func (e Entry) Validate() error {
	var errs []error
	if len(compact(e.Keys)) == 0 {
		errs = append(errs, ErrMissingKeys)
	}
	if strings.TrimSpace(e.Content) == "" {
		errs = append(errs, ErrMissingContent)
	}
	return errors.Join(errs...)
}

// Label is the short name used in summaries.
func (e Entry) Label() string {
	if e.Comment != "" {
		return e.Comment
	}
	if len(e.Keys) > 0 {
		return e.Keys[0]
	}
	return fmt.Sprintf("entry %d", e.ID)
}

// Clone returns a deep copy.
func (l Lorebook) Clone() Lorebook {
	out := l
	out.Entries = make([]Entry, len(l.Entries))
	for i, e := range l.Entries {
		e.Keys = append([]string(nil), e.Keys...)
		e.SecondaryKeys = append([]string(nil), e.SecondaryKeys...)
		out.Entries[i] = e
	}
	return out
}

// NextID returns one more than the highest entry ID in use.
func (l Lorebook) NextID() int {
	next := 1
	for _, e := range l.Entries {
		if e.ID >= next {
			next = e.ID + 1
		}
	}
	return next
}

// Summary renders "N entries" followed by up to max entry labels.
// A max of zero or less lists every entry.
func (l Lorebook) Summary(max int) string {
	n := len(l.Entries)
	if n == 0 {
		return "0 entries"
	}

	labels := make([]string, 0, n)
	for i, e := range l.Entries {
		if max > 0 && i >= max {
			labels = append(labels, fmt.Sprintf("and %d more", n-max))
			break
		}
		labels = append(labels, e.Label())
	}

	noun := "entries"
	if n == 1 {
		noun = "entry"
	}
	return fmt.Sprintf("%d %s: %s", n, noun, strings.Join(labels, ", "))
}
