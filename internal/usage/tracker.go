package usage

import (
	"context"
	"log/slog"

	"github.com/nugget/loresmith/internal/config"
	"github.com/nugget/loresmith/internal/llm"
	"github.com/nugget/loresmith/internal/tools"
)

// Recorder persists usage records.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// Tracker is an llm.Client that records the token usage of every
// response the wrapped client returns.
type Tracker struct {
	next    llm.Client
	rec     Recorder
	pricing map[string]config.PricingEntry
	logger  *slog.Logger
}

// NewTracker wraps next. pricing may be nil.
func NewTracker(next llm.Client, rec Recorder, pricing map[string]config.PricingEntry, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		next:    next,
		rec:     rec,
		pricing: pricing,
		logger:  logger.With("component", "usage"),
	}
}

// Generate implements llm.Client. Recording failures are logged and
// never change the result.
func (t *Tracker) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	resp, err := t.next.Generate(ctx, req)
	if resp == nil {
		return resp, err
	}

	model := resp.Model
	if model == "" {
		model = req.Effective().Model
	}
	rec := Record{
		RunID:        tools.RunIDFromContext(ctx),
		ToolCallID:   tools.ToolCallIDFromContext(ctx),
		Provider:     req.Settings.Provider,
		Model:        model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		CostUSD:      ComputeCost(model, resp.InputTokens, resp.OutputTokens, t.pricing),
		Purpose:      PurposeAgent,
		Aborted:      resp.Aborted,
	}
	if rec.ToolCallID != "" {
		rec.Purpose = PurposeTool
	}

	// The request context may already be cancelled for aborted streams.
	if rerr := t.rec.Record(context.WithoutCancel(ctx), rec); rerr != nil {
		t.logger.Warn("failed to record usage", "model", model, "error", rerr)
	}
	return resp, err
}
