// Package directive interprets raw model output. It separates free-form
// reply text from <thought> annotations and <command> tool invocations,
// and tolerates tags that are still streaming in.
//
// The grammar is fixed because it is the contract the system prompt
// teaches the model:
//
//	<thought> free text </thought>
//	<command name="tool_name"> JSON object </command>
//
// Tag names are case-sensitive. The name attribute accepts double,
// single or missing quotes.
package directive

import (
	"regexp"
	"strings"
	"time"
)

// KindThought is the only thought kind the interpreter produces.
const KindThought = "thought"

// Thought is an observational annotation extracted from model output.
type Thought struct {
	Kind      string    `json:"kind"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Invocation is a tool call requested by the model.
type Invocation struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Result    string         `json:"result,omitempty"`
	Completed bool           `json:"completed,omitempty"`

	// Unterminated is set by Parse for a command whose closing tag has
	// not arrived. Its Arguments hold the raw body and a pending marker.
	Unterminated bool `json:"unterminated,omitempty"`
}

// Pending reports whether the invocation was synthesized from a command
// whose closing tag has not arrived yet. Pending invocations are never
// executed.
func (inv Invocation) Pending() bool {
	return inv.Unterminated && !inv.Completed
}

// Result is the outcome of one Parse call.
type Result struct {
	Thoughts    []Thought
	Invocations []Invocation
	// Text is the residual reply text with every directive removed.
	Text string
}

const (
	thoughtOpen  = "<thought>"
	thoughtClose = "</thought>"
	commandOpen  = "<command"
	commandClose = "</command>"
)

var (
	closedThought = regexp.MustCompile(`(?s)<thought>(.*?)</thought>`)
	closedCommand = regexp.MustCompile(`(?s)<command\s+name\s*=\s*["']?([^"'>\s]+)["']?\s*>(.*?)</command>`)
	openCommand   = regexp.MustCompile(`(?s)<command\s+name\s*=\s*["']?([^"'>\s]+)["']?\s*>(.*)$`)
	partialOpener = regexp.MustCompile(`<command\b[^>]*$`)
	commandStart  = regexp.MustCompile(`<command\s+name\s*=\s*["']?[^"'>\s]+["']?\s*>`)
)

// Parse splits text into thoughts, invocations and residual text. It is
// safe to call on any prefix of a streamed response: an unterminated
// <thought> becomes one provisional thought and an unterminated
// <command> becomes one pending invocation. Invocation IDs are left for
// the caller to assign.
func Parse(text string) Result {
	var res Result
	now := time.Now()

	for _, m := range closedThought.FindAllStringSubmatch(text, -1) {
		res.Thoughts = append(res.Thoughts, Thought{
			Kind:      KindThought,
			Text:      strings.TrimSpace(m[1]),
			CreatedAt: now,
		})
	}
	rest := closedThought.ReplaceAllString(text, "")

	if i := trailingThought(rest); i >= 0 {
		partial := trimPartialSuffix(rest[i+len(thoughtOpen):], thoughtClose)
		res.Thoughts = append(res.Thoughts, Thought{
			Kind:      KindThought,
			Text:      strings.TrimSpace(partial),
			CreatedAt: now,
		})
		rest = rest[:i]
	}

	for _, m := range closedCommand.FindAllStringSubmatch(rest, -1) {
		args, _ := RecoverJSON(m[2])
		res.Invocations = append(res.Invocations, Invocation{
			Name:      m[1],
			Arguments: args,
		})
	}
	rest = closedCommand.ReplaceAllString(rest, "")

	if loc := openCommand.FindStringSubmatchIndex(rest); loc != nil {
		name := rest[loc[2]:loc[3]]
		raw := trimPartialSuffix(rest[loc[4]:loc[5]], commandClose)
		res.Invocations = append(res.Invocations, Invocation{
			Name: name,
			Arguments: map[string]any{
				"raw":     raw,
				"pending": true,
			},
			Unterminated: true,
		})
		rest = rest[:loc[0]]
	}

	res.Text = strings.TrimSpace(trimDanglingTag(rest))
	return res
}

// trailingThought returns the offset of an unterminated <thought> opener
// in s, or -1. Openers inside a closed command body, or inside the body
// of a trailing unterminated command, are JSON content and do not count.
func trailingThought(s string) int {
	spans := closedCommand.FindAllStringIndex(s, -1)
	inSpan := func(i int) bool {
		for _, sp := range spans {
			if i >= sp[0] && i < sp[1] {
				return true
			}
		}
		return false
	}

	limit := len(s)
	for _, loc := range commandStart.FindAllStringIndex(s, -1) {
		if !inSpan(loc[0]) {
			limit = loc[0]
			break
		}
	}

	for off := 0; off < limit; {
		j := strings.Index(s[off:limit], thoughtOpen)
		if j < 0 {
			return -1
		}
		if i := off + j; !inSpan(i) {
			return i
		}
		off += j + len(thoughtOpen)
	}
	return -1
}

// trimDanglingTag removes a tag opener cut off by the end of a stream
// chunk, such as "<thou" or `<command name="wiki_se`.
func trimDanglingTag(s string) string {
	if loc := partialOpener.FindStringIndex(s); loc != nil {
		return s[:loc[0]]
	}
	i := strings.LastIndexByte(s, '<')
	if i < 0 || len(s)-i < 2 {
		return s
	}
	tail := s[i:]
	if strings.HasPrefix(thoughtOpen, tail) || strings.HasPrefix(commandOpen, tail) {
		return s[:i]
	}
	return s
}

// trimPartialSuffix drops a trailing fragment of the closing tag, so a
// chunk ending in "</tho" does not leak into provisional content.
func trimPartialSuffix(s, closing string) string {
	for n := len(closing) - 1; n >= 1; n-- {
		if strings.HasSuffix(s, closing[:n]) {
			return s[:len(s)-n]
		}
	}
	return s
}
