package agent

import (
	"fmt"
	"strings"
	"sync"

	"github.com/nugget/loresmith/internal/llm"
)

const toolOutputPrefix = "Tool Output ("

// ToolOutput renders a tool result in the form the model is taught to
// expect.
func ToolOutput(name, result string) string {
	return fmt.Sprintf("%s%s):\n%s", toolOutputPrefix, name, result)
}

func toolOutputMessage(name, result string) Message {
	return Message{Role: RoleSystem, Text: ToolOutput(name, result)}
}

func isToolOutput(m Message) bool {
	return m.Role == RoleSystem && strings.HasPrefix(m.Text, toolOutputPrefix)
}

// repairTranscript inserts a tool output message after every assistant
// message whose executed invocations are not already followed by one.
// Transcripts saved before results were recorded still show the model
// what its tools returned.
func repairTranscript(in []Message) []Message {
	out := make([]Message, 0, len(in))
	for i, m := range in {
		out = append(out, m.Clone())
		if m.Role != RoleAssistant {
			continue
		}

		var outputs []string
		for _, inv := range m.Invocations {
			if inv.Completed || inv.Result != "" {
				outputs = append(outputs, ToolOutput(inv.Name, inv.Result))
			}
		}
		if len(outputs) == 0 {
			continue
		}
		if i+1 < len(in) && isToolOutput(in[i+1]) {
			continue
		}
		out = append(out, Message{Role: RoleSystem, Text: strings.Join(outputs, "\n\n")})
	}
	return out
}

func toLLMMessages(msgs []Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		if strings.TrimSpace(m.Text) == "" {
			continue
		}
		out = append(out, llm.Message{Role: m.Role, Content: m.Text})
	}
	return out
}

// Transcript collects emitted messages, keeping only the latest version
// of each message ID in first-seen order. Its Add method fits
// Hooks.OnMessage.
type Transcript struct {
	mu   sync.Mutex
	msgs []Message
	idx  map[string]int
}

// NewTranscript starts a transcript from existing messages.
func NewTranscript(initial []Message) *Transcript {
	t := &Transcript{idx: make(map[string]int)}
	for _, m := range initial {
		t.Add(m)
	}
	return t
}

// Add appends m, or replaces the earlier message with the same ID.
func (t *Transcript) Add(m Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.idx == nil {
		t.idx = make(map[string]int)
	}

	m = m.Clone()
	if m.ID != "" {
		if i, ok := t.idx[m.ID]; ok {
			t.msgs[i] = m
			return
		}
		t.idx[m.ID] = len(t.msgs)
	}
	t.msgs = append(t.msgs, m)
}

// Messages returns a copy of the collected messages.
func (t *Transcript) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, len(t.msgs))
	for i, m := range t.msgs {
		out[i] = m.Clone()
	}
	return out
}

