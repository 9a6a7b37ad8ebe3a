// Package tools defines the tools available to the agent.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
)

// Handler executes a tool. A returned error is reported to the model as
// the tool's result.
type Handler func(ctx context.Context, args map[string]any, env Env) (string, error)

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Handler     Handler        `json:"-"`
}

// Registry holds available tools. It is safe for concurrent use so that
// tools can be swapped between runs while sessions are live.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Tool
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger.With("component", "tools"),
	}
}

// Register adds t, replacing any tool with the same name. Replacement
// is logged but is not an error.
func (r *Registry) Register(t *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		r.logger.Warn("tool re-registered, replacing previous definition", "tool", t.Name)
	}
	r.tools[t.Name] = t
}

// Get returns the named tool, or nil.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs the named tool with args against env. The only error it
// returns is *ErrToolNotFound. A handler error or panic becomes an
// "Error executing tool" result string so the model can try something
// else.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any, env Env) (result string, err error) {
	tool := r.Get(name)
	if tool == nil {
		return "", &ErrToolNotFound{Name: name}
	}
	if args == nil {
		args = map[string]any{}
	}

	log := r.logger.With("tool", name)
	if id := ToolCallIDFromContext(ctx); id != "" {
		log = log.With("tool_call_id", id)
	}

	defer func() {
		if p := recover(); p != nil {
			log.Error("tool panicked", "panic", p, "stack", string(debug.Stack()))
			result = fmt.Sprintf("Error executing tool %s: panic: %v", name, p)
			err = nil
		}
	}()

	out, herr := tool.Handler(ctx, args, env)
	if herr != nil {
		log.Warn("tool failed", "error", herr)
		return fmt.Sprintf("Error executing tool %s: %v", name, herr), nil
	}

	log.Debug("tool executed", "result_len", len(out))
	return out, nil
}

const syntaxGuide = `## Tools

You act on the workspace only through the tools listed below.

To call a tool, write a command tag. The name attribute is the tool name and the body is one JSON object holding the arguments:

<command name="tool_name">{"argument": "value"}</command>

To reason before acting, write a thought tag. Thoughts are shown to the user as your thinking, not as your reply:

<thought>what I know and what I need next</thought>

Rules:
- Tag names are lowercase and must match exactly.
- Use one command tag per tool call. Several calls in one reply run in the order written.
- After your commands, stop writing and wait. Each result comes back as a message starting with "Tool Output (tool_name):".
- When no more tools are needed, reply in plain text with no command tags.`

// DescribePrompt renders the tool catalog and the directive syntax for
// the system prompt. Output is deterministic: tools are sorted by name
// and schemas are rendered with sorted keys.
func (r *Registry) DescribePrompt() string {
	var b strings.Builder
	b.WriteString(syntaxGuide)

	for _, name := range r.Names() {
		t := r.Get(name)
		if t == nil {
			continue
		}
		fmt.Fprintf(&b, "\n\n### %s\n%s\n", t.Name, strings.TrimSpace(t.Description))

		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		schema, err := json.MarshalIndent(params, "", "  ")
		if err != nil {
			schema = []byte("{}")
		}
		b.WriteString("Parameters:\n```json\n")
		b.Write(schema)
		b.WriteString("\n```")
	}
	return b.String()
}
