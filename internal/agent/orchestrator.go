package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/nugget/loresmith/internal/llm"
	"github.com/nugget/loresmith/internal/tools"
)

// Orchestrator owns at most one active run. Starting a new run cancels
// and supersedes the previous one; nothing is queued.
type Orchestrator struct {
	client   llm.Client
	registry *tools.Registry
	logger   *slog.Logger
	maxSteps int
	hooks    Hooks

	// mu guards gen and cancel, and serializes hook calls. A run may
	// only emit while its generation is current, so a stopped or
	// superseded run goes silent immediately.
	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc

	status atomic.Value // Status
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMaxSteps sets the step ceiling per run. Values below one are
// ignored.
func WithMaxSteps(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxSteps = n
		}
	}
}

// WithHooks sets the status and transcript callbacks.
func WithHooks(h Hooks) Option {
	return func(o *Orchestrator) {
		o.hooks = h
	}
}

// New creates an orchestrator that prompts client and executes tools
// from registry.
func New(client llm.Client, registry *tools.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:   client,
		registry: registry,
		logger:   slog.Default(),
		maxSteps: DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "agent")
	o.status.Store(StatusIdle)
	return o
}

// Status returns the current state.
func (o *Orchestrator) Status() Status {
	return o.status.Load().(Status)
}

// Start runs the agent loop until the model stops calling tools, the
// step ceiling is reached, or the run is cancelled. It blocks for the
// duration of the run.
//
// Cancellation, through ctx, Stop or a newer Start, is not an error.
// Completion failures and empty responses leave the status at error
// and are returned.
func (o *Orchestrator) Start(ctx context.Context, in Run) error {
	runCtx, cancel := context.WithCancel(ctx)

	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
	}
	o.gen++
	gen := o.gen
	o.cancel = cancel
	o.mu.Unlock()

	defer func() {
		cancel()
		o.mu.Lock()
		if o.gen == gen {
			o.cancel = nil
		}
		o.mu.Unlock()
	}()

	r := newRun(o, gen, in)
	return r.execute(runCtx)
}

// Stop cancels the active run. Messages already emitted are kept; no
// further messages are emitted for the stopped run, and the status
// becomes idle.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.gen++
	o.setStatusLocked(StatusIdle)
}

func (o *Orchestrator) setStatus(gen uint64, s Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen {
		return
	}
	o.setStatusLocked(s)
}

func (o *Orchestrator) setStatusLocked(s Status) {
	if o.status.Swap(s) == s {
		return
	}
	if o.hooks.OnStatus != nil {
		o.hooks.OnStatus(s)
	}
}

func (o *Orchestrator) emit(gen uint64, m Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen || o.hooks.OnMessage == nil {
		return
	}
	o.hooks.OnMessage(m)
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func invocationID(step, n int) string {
	return fmt.Sprintf("step%d-call%d", step, n)
}
