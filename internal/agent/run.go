package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/loresmith/internal/card"
	"github.com/nugget/loresmith/internal/directive"
	"github.com/nugget/loresmith/internal/llm"
	"github.com/nugget/loresmith/internal/prompts"
	"github.com/nugget/loresmith/internal/tools"
)

// loreSummaryMax caps the entry labels listed in the system prompt.
const loreSummaryMax = 25

// run is the state of one Start call. Only the goroutine executing the
// run touches it; callers see copies delivered through hooks.
type run struct {
	o   *Orchestrator
	gen uint64
	id  string
	log *slog.Logger

	env          tools.Env
	ws           card.Workspace
	instructions string

	// prompt is the transcript sent to the model on the next step.
	prompt []Message

	// The run's assistant message is assembled from these. Session
	// state is append-only; a step's parse is merged in explicitly
	// once the step's response is complete.
	msgID              string
	texts              []string
	sessionThoughts    []directive.Thought
	sessionInvocations []directive.Invocation

	nativeAt time.Time
}

func newRun(o *Orchestrator, gen uint64, in Run) *run {
	id := newRunID()
	return &run{
		o:            o,
		gen:          gen,
		id:           id,
		log:          o.logger.With("run_id", id),
		env:          in.Env,
		ws:           in.Env.Workspace.Clone(),
		instructions: in.Instructions,
		prompt:       repairTranscript(in.Transcript),
		msgID:        "assistant-" + id,
	}
}

func (r *run) execute(ctx context.Context) error {
	r.o.setStatus(r.gen, StatusThinking)

	if r.env.Settings == nil {
		r.o.setStatus(r.gen, StatusError)
		return fmt.Errorf("agent: no model settings")
	}

	r.log.Info("run started",
		"mode", r.mode(),
		"messages", len(r.prompt),
		"max_steps", r.o.maxSteps,
		"model", r.env.Settings.Model,
	)

	for step := 1; step <= r.o.maxSteps; step++ {
		if ctx.Err() != nil {
			r.log.Info("run cancelled before step", "step", step)
			r.o.setStatus(r.gen, StatusIdle)
			return nil
		}
		done, err := r.step(ctx, step)
		if err != nil {
			r.log.Error("run failed", "step", step, "error", err)
			return err
		}
		if done {
			return nil
		}
	}

	r.log.Info("step limit reached", "steps", r.o.maxSteps)
	r.o.setStatus(r.gen, StatusIdle)
	return nil
}

func (r *run) mode() prompts.Mode {
	if r.env.Mode == "" {
		return prompts.ModeBuild
	}
	return r.env.Mode
}

// step performs one think, act, observe cycle. It reports done when the
// run should end.
func (r *run) step(ctx context.Context, step int) (bool, error) {
	r.o.setStatus(r.gen, StatusThinking)
	log := r.log.With("step", step)

	var raw, native strings.Builder
	r.nativeAt = time.Time{}

	req := &llm.Request{
		Settings:     *r.env.Settings,
		SystemPrompt: r.systemPrompt(),
		Messages:     toLLMMessages(r.prompt),
		OnText: func(delta string) {
			raw.WriteString(delta)
			r.emitPartial(step, raw.String(), native.String())
		},
		OnThought: func(delta string) {
			if r.nativeAt.IsZero() {
				r.nativeAt = time.Now()
			}
			native.WriteString(delta)
			r.emitPartial(step, raw.String(), native.String())
		},
	}

	log.Debug("requesting completion", "messages", len(req.Messages))
	resp, err := r.o.client.Generate(tools.WithRunID(ctx, r.id), req)
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		log.Info("run cancelled")
		r.o.setStatus(r.gen, StatusIdle)
		return true, nil
	}
	if err != nil {
		r.o.setStatus(r.gen, StatusError)
		return true, fmt.Errorf("completion failed: %w", err)
	}

	if strings.TrimSpace(resp.Text) == "" {
		if resp.Aborted {
			log.Info("completion aborted with no content")
			r.o.setStatus(r.gen, StatusIdle)
			return true, nil
		}
		r.o.setStatus(r.gen, StatusError)
		return true, ErrEmptyResponse
	}

	log.Debug("completion received",
		"model", resp.Model,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
	)

	parsed := directive.Parse(resp.Text)

	thinking := resp.Thinking
	if thinking == "" {
		thinking = native.String()
	}
	var stepThoughts []directive.Thought
	if t := strings.TrimSpace(thinking); t != "" {
		stepThoughts = append(stepThoughts, directive.Thought{Kind: directive.KindThought, Text: t, CreatedAt: r.nativeTime()})
	}
	stepThoughts = append(stepThoughts, parsed.Thoughts...)

	var stepInvocations []directive.Invocation
	for _, inv := range parsed.Invocations {
		if inv.Pending() {
			log.Warn("dropping unterminated command", "tool", inv.Name)
			continue
		}
		inv.ID = invocationID(step, len(stepInvocations)+1)
		stepInvocations = append(stepInvocations, inv)
	}

	base := len(r.sessionInvocations)
	r.sessionThoughts = append(r.sessionThoughts, stepThoughts...)
	r.sessionInvocations = append(r.sessionInvocations, stepInvocations...)
	if parsed.Text != "" {
		r.texts = append(r.texts, parsed.Text)
	}
	r.o.emit(r.gen, r.snapshot())

	if len(stepInvocations) == 0 {
		log.Info("run complete", "reason", "no tool calls")
		r.o.setStatus(r.gen, StatusIdle)
		return true, nil
	}
	if r.mode() == prompts.ModePlan {
		log.Info("run complete", "reason", "plan mode", "proposed_calls", len(stepInvocations))
		r.o.setStatus(r.gen, StatusIdle)
		return true, nil
	}

	r.o.setStatus(r.gen, StatusExecuting)
	if parsed.Text != "" {
		r.prompt = append(r.prompt, Message{Role: RoleAssistant, Text: parsed.Text})
	}

	// A tool that has started is allowed to finish.
	toolCtx := tools.WithRunID(context.WithoutCancel(ctx), r.id)
	for i, inv := range stepInvocations {
		result := r.invoke(toolCtx, inv)

		done := &r.sessionInvocations[base+i]
		done.Result = result
		done.Completed = true
		r.o.emit(r.gen, r.snapshot())

		r.prompt = append(r.prompt, callPlaceholder(inv), toolOutputMessage(inv.Name, result))

		if ctx.Err() != nil {
			log.Info("run cancelled during tool execution", "tool", inv.Name)
			r.o.setStatus(r.gen, StatusIdle)
			return true, nil
		}
	}

	r.o.setStatus(r.gen, StatusObserving)
	return false, nil
}

func (r *run) invoke(ctx context.Context, inv directive.Invocation) string {
	ctx = tools.WithToolCallID(ctx, inv.ID)

	env := r.env.WithWorkspace(r.ws)
	if r.env.Effects != nil {
		env.Effects = &trackingEffects{next: r.env.Effects, ws: &r.ws}
	}

	start := time.Now()
	result, err := r.o.registry.Execute(ctx, inv.Name, inv.Arguments, env)
	if err != nil {
		result = fmt.Sprintf("Error: %v. Available tools: %s", err, strings.Join(r.o.registry.Names(), ", "))
	}

	r.log.Info("tool executed",
		"tool", inv.Name,
		"tool_call_id", inv.ID,
		"elapsed", time.Since(start).Round(time.Millisecond),
		"result_len", len(result),
	)
	return result
}

func (r *run) systemPrompt() string {
	var character string
	if !r.ws.Character.IsZero() {
		character = r.ws.Character.JSON()
	}
	return prompts.AgentSystemPrompt(r.mode(), prompts.Vars{
		Character:    character,
		LoreCount:    len(r.ws.Lorebook.Entries),
		LoreSummary:  r.ws.Lorebook.Summary(loreSummaryMax),
		ResearchURL:  r.ws.ResearchURL,
		Instructions: r.instructions,
		Tools:        r.o.registry.DescribePrompt(),
	})
}

// snapshot is the run's assistant message as of the last completed step.
func (r *run) snapshot() Message {
	m := Message{
		ID:          r.msgID,
		Role:        RoleAssistant,
		Text:        strings.Join(r.texts, "\n\n"),
		Thoughts:    r.sessionThoughts,
		Invocations: r.sessionInvocations,
	}
	return m.Clone()
}

// emitPartial reports in-progress output. Nothing here is committed to
// session state.
func (r *run) emitPartial(step int, raw, native string) {
	parsed := directive.Parse(raw)
	m := r.snapshot()

	if t := strings.TrimSpace(native); t != "" {
		m.Thoughts = append(m.Thoughts, directive.Thought{Kind: directive.KindThought, Text: t, CreatedAt: r.nativeTime()})
	}
	m.Thoughts = append(m.Thoughts, parsed.Thoughts...)

	// Parse lists the pending invocation last, so its position is the
	// one it keeps once its closing tag arrives.
	for i, inv := range parsed.Invocations {
		inv.ID = invocationID(step, i+1)
		m.Invocations = append(m.Invocations, inv)
	}

	if parsed.Text != "" {
		if m.Text != "" {
			m.Text += "\n\n"
		}
		m.Text += parsed.Text
	}

	r.o.emit(r.gen, m)
}

func (r *run) nativeTime() time.Time {
	if r.nativeAt.IsZero() {
		return time.Now()
	}
	return r.nativeAt
}

func callPlaceholder(inv directive.Invocation) Message {
	args, err := json.Marshal(inv.Arguments)
	if err != nil || inv.Arguments == nil {
		args = []byte("{}")
	}
	return Message{
		Role: RoleAssistant,
		Text: fmt.Sprintf("Calling tool %s with arguments %s", inv.Name, args),
	}
}
