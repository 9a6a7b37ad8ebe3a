// Package agent runs the bounded think, act, observe loop that drives a
// language model through the Loresmith tool set.
//
// An Orchestrator is created once per UI session and reused across runs.
// Each call to Start is one run: the model is prompted, its streamed
// output is split into reply text, thoughts and tool invocations, the
// invocations are executed in order, and their output is fed back for
// the next step. A run ends when the model answers without calling a
// tool, when the step ceiling is reached, or when it is stopped.
package agent

import (
	"errors"
	"maps"

	"github.com/nugget/loresmith/internal/directive"
	"github.com/nugget/loresmith/internal/tools"
)

// Status is the orchestrator's externally visible state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusThinking  Status = "thinking"
	StatusExecuting Status = "executing"
	StatusObserving Status = "observing"
	StatusError     Status = "error"
)

// Transcript roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// DefaultMaxSteps bounds the steps in one run.
const DefaultMaxSteps = 5

// ErrEmptyResponse is returned when the model produces no content and
// the request was not cancelled. Empty responses are never retried.
var ErrEmptyResponse = errors.New("agent: model returned an empty response")

// Message is one transcript entry. During a run the orchestrator emits
// the same assistant message repeatedly as it grows; later emissions
// with the same ID supersede earlier ones.
type Message struct {
	ID          string                 `json:"id,omitempty"`
	Role        string                 `json:"role"`
	Text        string                 `json:"text"`
	Thoughts    []directive.Thought    `json:"thoughts,omitempty"`
	Invocations []directive.Invocation `json:"invocations,omitempty"`
}

// Clone returns a copy that shares nothing mutable with m.
func (m Message) Clone() Message {
	m.Thoughts = append([]directive.Thought(nil), m.Thoughts...)
	invs := make([]directive.Invocation, len(m.Invocations))
	for i, inv := range m.Invocations {
		inv.Arguments = maps.Clone(inv.Arguments)
		invs[i] = inv
	}
	if len(invs) == 0 {
		invs = nil
	}
	m.Invocations = invs
	return m
}

// Hooks receive live updates. They run synchronously on the run's
// goroutine and must not call Start or Stop on the same Orchestrator.
type Hooks struct {
	OnStatus  func(Status)
	OnMessage func(Message)
}

// Run is the input to one Start call.
type Run struct {
	// Transcript is the conversation so far, ending with the user's new
	// message.
	Transcript []Message

	// Env is the tool environment. Env.Settings selects the model and is
	// required. Env.Workspace is the state at run start; effects applied
	// through Env.Effects are tracked and shown to later steps.
	Env tools.Env

	// Instructions are user or preset instructions added to the system
	// prompt.
	Instructions string
}
