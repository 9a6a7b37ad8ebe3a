package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nugget/loresmith/internal/card"
	"github.com/nugget/loresmith/internal/llm"
	"github.com/nugget/loresmith/internal/prompts"
	"github.com/nugget/loresmith/internal/tools"
)

// scriptedReply is one canned completion.
type scriptedReply struct {
	chunks   []string
	thinking []string
	err      error
	// afterFirstChunk runs once the first chunk has been delivered.
	afterFirstChunk func()
}

// mockLLM replays replies in order, repeating the last one when the
// script runs out.
type mockLLM struct {
	mu      sync.Mutex
	replies []scriptedReply
	calls   []llm.Request
}

func (m *mockLLM) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	idx := min(len(m.calls), len(m.replies)-1)
	reply := m.replies[idx]
	snapshot := *req
	snapshot.Messages = append([]llm.Message(nil), req.Messages...)
	m.calls = append(m.calls, snapshot)
	m.mu.Unlock()

	if reply.err != nil {
		return nil, reply.err
	}

	resp := &llm.Response{Model: "mock"}
	for _, t := range reply.thinking {
		resp.Thinking += t
		if req.OnThought != nil {
			req.OnThought(t)
		}
	}

	var text strings.Builder
	for i, c := range reply.chunks {
		if err := ctx.Err(); err != nil {
			resp.Text = text.String()
			resp.Aborted = true
			return resp, err
		}
		text.WriteString(c)
		if req.OnText != nil {
			req.OnText(c)
		}
		if i == 0 && reply.afterFirstChunk != nil {
			reply.afterFirstChunk()
		}
	}
	if err := ctx.Err(); err != nil {
		resp.Text = text.String()
		resp.Aborted = true
		return resp, err
	}
	resp.Text = text.String()
	return resp, nil
}

func (m *mockLLM) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// recorder captures hook output.
type recorder struct {
	mu       sync.Mutex
	statuses []Status
	messages []Message
}

func (r *recorder) hooks() Hooks {
	return Hooks{
		OnStatus: func(s Status) {
			r.mu.Lock()
			r.statuses = append(r.statuses, s)
			r.mu.Unlock()
		},
		OnMessage: func(m Message) {
			r.mu.Lock()
			r.messages = append(r.messages, m)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) last() Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return Message{}
	}
	return r.messages[len(r.messages)-1]
}

func (r *recorder) messageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

// memEffects is an in-memory tool effects sink.
type memEffects struct {
	docs    []card.Document
	entries []card.Entry
	char    card.Character
}

func (e *memEffects) AddDocument(_ context.Context, d card.Document) error {
	e.docs = append(e.docs, d)
	return nil
}
func (e *memEffects) UpdateDocument(_ context.Context, d card.Document) error { return nil }
func (e *memEffects) UpdateCharacter(_ context.Context, c card.Character) error {
	e.char = c
	return nil
}
func (e *memEffects) AddLoreEntry(_ context.Context, en card.Entry) error {
	e.entries = append(e.entries, en)
	return nil
}

func testRegistry(executed *[]string) *tools.Registry {
	r := tools.NewRegistry(nil)
	tools.RegisterBuiltins(r, tools.Deps{})
	r.Register(&tools.Tool{
		Name:        "echo",
		Description: "Echo the text argument.",
		Handler: func(_ context.Context, args map[string]any, _ tools.Env) (string, error) {
			s, _ := args["text"].(string)
			if executed != nil {
				*executed = append(*executed, s)
			}
			return "echo: " + s, nil
		},
	})
	return r
}

func testRun(user string) Run {
	return Run{
		Transcript: []Message{{Role: RoleUser, Text: user}},
		Env: tools.Env{
			Settings: &llm.Settings{Provider: "openai", Model: "test-model"},
			Mode:     prompts.ModeBuild,
		},
	}
}

func TestStart_NoToolsEndsIdleAfterOneStep(t *testing.T) {
	mock := &mockLLM{replies: []scriptedReply{{chunks: []string{"Hello ", "there."}}}}
	rec := &recorder{}
	o := New(mock, testRegistry(nil), WithHooks(rec.hooks()))

	if err := o.Start(context.Background(), testRun("hi")); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if mock.callCount() != 1 {
		t.Errorf("calls = %d, want 1", mock.callCount())
	}
	if o.Status() != StatusIdle {
		t.Errorf("status = %q, want idle", o.Status())
	}
	if got := rec.last().Text; got != "Hello there." {
		t.Errorf("final text = %q", got)
	}
	want := []Status{StatusThinking, StatusIdle}
	if len(rec.statuses) != len(want) || rec.statuses[0] != want[0] || rec.statuses[1] != want[1] {
		t.Errorf("statuses = %v, want %v", rec.statuses, want)
	}
}

func TestStart_StepCeiling(t *testing.T) {
	mock := &mockLLM{replies: []scriptedReply{{
		chunks: []string{`<command name="echo">{"text":"again"}</command>`},
	}}}
	var executed []string
	rec := &recorder{}
	o := New(mock, testRegistry(&executed), WithHooks(rec.hooks()))

	if err := o.Start(context.Background(), testRun("loop forever")); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if mock.callCount() != DefaultMaxSteps {
		t.Errorf("calls = %d, want %d", mock.callCount(), DefaultMaxSteps)
	}
	if len(executed) != DefaultMaxSteps {
		t.Errorf("executed %d tools, want %d", len(executed), DefaultMaxSteps)
	}
	if o.Status() != StatusIdle {
		t.Errorf("status = %q, want idle", o.Status())
	}

	final := rec.last()
	if len(final.Invocations) != DefaultMaxSteps {
		t.Fatalf("session invocations = %d", len(final.Invocations))
	}
	if final.Invocations[4].ID != "step5-call1" || !final.Invocations[4].Completed {
		t.Errorf("last invocation = %+v", final.Invocations[4])
	}
}

func TestStart_WithMaxSteps(t *testing.T) {
	mock := &mockLLM{replies: []scriptedReply{{chunks: []string{`<command name="echo">{}</command>`}}}}
	o := New(mock, testRegistry(nil), WithMaxSteps(2))
	_ = o.Start(context.Background(), testRun("x"))
	if mock.callCount() != 2 {
		t.Errorf("calls = %d, want 2", mock.callCount())
	}
}

func TestStart_ToolOutputFedBack(t *testing.T) {
	mock := &mockLLM{replies: []scriptedReply{
		{chunks: []string{`Checking.<command name="echo">{"text":"one"}</command><command name="echo">{"text":"two"}</command>`}},
		{chunks: []string{"All done."}},
	}}
	var executed []string
	rec := &recorder{}
	o := New(mock, testRegistry(&executed), WithHooks(rec.hooks()))

	if err := o.Start(context.Background(), testRun("go")); err != nil {
		t.Fatal(err)
	}

	if strings.Join(executed, ",") != "one,two" {
		t.Errorf("executed = %v, want in emission order", executed)
	}

	second := mock.calls[1].Messages
	var sawPlaceholder, sawOne, sawTwo bool
	for _, m := range second {
		switch {
		case m.Role == RoleAssistant && strings.HasPrefix(m.Content, "Calling tool echo with arguments"):
			sawPlaceholder = true
		case m.Role == RoleSystem && m.Content == "Tool Output (echo):\necho: one":
			sawOne = true
		case m.Role == RoleSystem && m.Content == "Tool Output (echo):\necho: two":
			sawTwo = true
		}
	}
	if !sawPlaceholder || !sawOne || !sawTwo {
		t.Errorf("second request messages missing tool context: %+v", second)
	}

	final := rec.last()
	if final.Text != "Checking.\n\nAll done." {
		t.Errorf("final text = %q", final.Text)
	}
	if len(final.Invocations) != 2 || final.Invocations[1].Result != "echo: two" {
		t.Errorf("invocations = %+v", final.Invocations)
	}
}

func TestStart_EffectsVisibleToNextStep(t *testing.T) {
	mock := &mockLLM{replies: []scriptedReply{
		{chunks: []string{`<command name="add_lorebook_entry">{"keys":["Rhongomyniad"],"content":"The lance."}</command>`}},
		{chunks: []string{"Added."}},
	}}
	fx := &memEffects{}
	run := testRun("add lore")
	run.Env.Effects = fx
	o := New(mock, testRegistry(nil))

	if err := o.Start(context.Background(), run); err != nil {
		t.Fatal(err)
	}

	if len(fx.entries) != 1 {
		t.Fatalf("entries stored = %d", len(fx.entries))
	}
	if !strings.Contains(mock.calls[1].SystemPrompt, "Rhongomyniad") {
		t.Error("second step prompt does not reflect the new lore entry")
	}
	if strings.Contains(mock.calls[0].SystemPrompt, "Rhongomyniad") {
		t.Error("first step prompt already mentions the entry")
	}
	// The caller's workspace value is never mutated.
	if len(run.Env.Workspace.Lorebook.Entries) != 0 {
		t.Error("caller workspace was modified")
	}
}

func TestStart_EmptyResponseIsError(t *testing.T) {
	mock := &mockLLM{replies: []scriptedReply{{chunks: []string{"  "}}}}
	o := New(mock, testRegistry(nil))

	err := o.Start(context.Background(), testRun("hi"))
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("err = %v, want ErrEmptyResponse", err)
	}
	if o.Status() != StatusError {
		t.Errorf("status = %q, want error", o.Status())
	}
	if mock.callCount() != 1 {
		t.Errorf("empty response was retried: %d calls", mock.callCount())
	}
}

func TestStart_TransportError(t *testing.T) {
	apiErr := &llm.APIError{Provider: "openai", StatusCode: 500, Body: "boom"}
	mock := &mockLLM{replies: []scriptedReply{{err: apiErr}}}
	o := New(mock, testRegistry(nil))

	err := o.Start(context.Background(), testRun("hi"))
	var target *llm.APIError
	if !errors.As(err, &target) {
		t.Fatalf("err = %v, want *llm.APIError", err)
	}
	if o.Status() != StatusError {
		t.Errorf("status = %q, want error", o.Status())
	}
}

func TestStart_MissingSettings(t *testing.T) {
	o := New(&mockLLM{replies: []scriptedReply{{chunks: []string{"x"}}}}, testRegistry(nil))
	run := testRun("hi")
	run.Env.Settings = nil
	if err := o.Start(context.Background(), run); err == nil {
		t.Fatal("expected error without settings")
	}
}

func TestStop_MidStream(t *testing.T) {
	rec := &recorder{}
	var o *Orchestrator
	var countAtStop int

	mock := &mockLLM{replies: []scriptedReply{{
		chunks: []string{"Let me ", "look ", `<command name="echo">{"text":"x"}</command>`},
		afterFirstChunk: func() {
			countAtStop = rec.messageCount()
			o.Stop()
		},
	}}}
	var executed []string
	o = New(mock, testRegistry(&executed), WithHooks(rec.hooks()))

	if err := o.Start(context.Background(), testRun("hi")); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if countAtStop == 0 {
		t.Fatal("no partial emission before stop")
	}
	if n := rec.messageCount(); n != countAtStop {
		t.Errorf("messages after stop: %d emitted, want %d", n, countAtStop)
	}
	if o.Status() != StatusIdle {
		t.Errorf("status = %q, want idle", o.Status())
	}
	if len(executed) != 0 {
		t.Errorf("tools executed after stop: %v", executed)
	}
	if mock.callCount() != 1 {
		t.Errorf("calls = %d, want 1", mock.callCount())
	}
}

func TestStart_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mock := &mockLLM{replies: []scriptedReply{{chunks: []string{"never"}}}}
	o := New(mock, testRegistry(nil))
	if err := o.Start(ctx, testRun("hi")); err != nil {
		t.Errorf("cancelled run returned error: %v", err)
	}
	if o.Status() != StatusIdle {
		t.Errorf("status = %q, want idle", o.Status())
	}
	if n := mock.callCount(); n != 0 {
		t.Errorf("model called %d times for a cancelled run", n)
	}
}

func TestStart_PlanModeDoesNotExecute(t *testing.T) {
	mock := &mockLLM{replies: []scriptedReply{{
		chunks: []string{`I would search first.<command name="echo">{"text":"x"}</command>`},
	}}}
	var executed []string
	rec := &recorder{}
	run := testRun("plan it")
	run.Env.Mode = prompts.ModePlan
	o := New(mock, testRegistry(&executed), WithHooks(rec.hooks()))

	if err := o.Start(context.Background(), run); err != nil {
		t.Fatal(err)
	}
	if len(executed) != 0 {
		t.Errorf("plan mode executed tools: %v", executed)
	}
	if mock.callCount() != 1 {
		t.Errorf("calls = %d, want 1", mock.callCount())
	}
	if !strings.Contains(mock.calls[0].SystemPrompt, "PLAN mode") {
		t.Error("plan template not used")
	}
	final := rec.last()
	if len(final.Invocations) != 1 || final.Invocations[0].Completed {
		t.Errorf("invocations = %+v", final.Invocations)
	}
	if o.Status() != StatusIdle {
		t.Errorf("status = %q", o.Status())
	}
}

func TestStart_MalformedCommandReachesToolValidation(t *testing.T) {
	mock := &mockLLM{replies: []scriptedReply{
		{chunks: []string{`<command name="add_lorebook_entry">not json</command>`}},
		{chunks: []string{"Sorry."}},
	}}
	rec := &recorder{}
	fx := &memEffects{}
	run := testRun("x")
	run.Env.Effects = fx
	o := New(mock, testRegistry(nil), WithHooks(rec.hooks()))

	if err := o.Start(context.Background(), run); err != nil {
		t.Fatal(err)
	}
	inv := rec.last().Invocations[0]
	if len(inv.Arguments) != 0 {
		t.Errorf("arguments = %v, want empty", inv.Arguments)
	}
	if !strings.Contains(inv.Result, "keys") || !strings.Contains(inv.Result, "content") {
		t.Errorf("result = %q, want validation failure", inv.Result)
	}
	if len(fx.entries) != 0 {
		t.Error("invalid entry stored")
	}
}

func TestStart_UnknownToolBecomesResult(t *testing.T) {
	mock := &mockLLM{replies: []scriptedReply{
		{chunks: []string{`<command name="summon">{}</command>`}},
		{chunks: []string{"ok"}},
	}}
	rec := &recorder{}
	o := New(mock, testRegistry(nil), WithHooks(rec.hooks()))

	if err := o.Start(context.Background(), testRun("x")); err != nil {
		t.Fatal(err)
	}
	res := rec.last().Invocations[0].Result
	if !strings.Contains(res, `tool "summon" not found`) || !strings.Contains(res, "wiki_search") {
		t.Errorf("result = %q", res)
	}
}

func TestStart_StreamingPartials(t *testing.T) {
	mock := &mockLLM{replies: []scriptedReply{{
		thinking: []string{"native ", "reasoning"},
		chunks: []string{
			"Sure.<thought>check the",
			` wiki</thought><command name="echo">{"te`,
			`xt":`,
			`"hi"}</command>`,
		},
	}, {chunks: []string{"Done."}}}}
	rec := &recorder{}
	o := New(mock, testRegistry(nil), WithHooks(rec.hooks()))

	if err := o.Start(context.Background(), testRun("x")); err != nil {
		t.Fatal(err)
	}

	var sawProvisional bool
	pendingIDs := map[string]int{}
	for _, m := range rec.messages {
		if strings.Contains(m.Text, "<") {
			t.Errorf("tag syntax leaked into text: %q", m.Text)
		}
		for _, th := range m.Thoughts {
			if th.Text == "check the" {
				sawProvisional = true
			}
		}
		for _, inv := range m.Invocations {
			if inv.Pending() {
				pendingIDs[inv.ID]++
			}
		}
	}
	if !sawProvisional {
		t.Error("provisional thought never emitted")
	}
	if len(pendingIDs) != 1 || pendingIDs["step1-call1"] < 2 {
		t.Errorf("pending invocation ids = %v, want step1-call1 on every chunk", pendingIDs)
	}

	final := rec.last()
	if len(final.Thoughts) != 2 || final.Thoughts[0].Text != "native reasoning" || final.Thoughts[1].Text != "check the wiki" {
		t.Errorf("thoughts = %+v, want native first", final.Thoughts)
	}
	if final.Invocations[0].ID != "step1-call1" {
		t.Errorf("invocation id = %q", final.Invocations[0].ID)
	}
}

func TestStart_SessionStateResetsBetweenRuns(t *testing.T) {
	mock := &mockLLM{replies: []scriptedReply{{chunks: []string{"<thought>t</thought>Answer."}}}}
	rec := &recorder{}
	o := New(mock, testRegistry(nil), WithHooks(rec.hooks()))

	_ = o.Start(context.Background(), testRun("one"))
	first := rec.last()
	_ = o.Start(context.Background(), testRun("two"))
	second := rec.last()

	if first.ID == second.ID {
		t.Error("runs share a message ID")
	}
	if len(second.Thoughts) != 1 {
		t.Errorf("thoughts carried across runs: %+v", second.Thoughts)
	}
}
