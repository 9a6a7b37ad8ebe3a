package usage

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nugget/loresmith/internal/config"
	"github.com/nugget/loresmith/internal/llm"
	"github.com/nugget/loresmith/internal/tools"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := New(db)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func testPricing() map[string]config.PricingEntry {
	return map[string]config.PricingEntry{
		"gpt-4o":      {InputPerMillion: 2.5, OutputPerMillion: 10.0},
		"gpt-4o-mini": {InputPerMillion: 0.15, OutputPerMillion: 0.6},
	}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestRecord_And_Summary(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	recs := []Record{
		{Timestamp: now, RunID: "run-1", Provider: "openai", Model: "gpt-4o", InputTokens: 1000, OutputTokens: 500, CostUSD: 0.0075},
		{Timestamp: now, RunID: "run-1", ToolCallID: "step1-call1", Provider: "openai", Model: "gpt-4o-mini", InputTokens: 2000, OutputTokens: 1000, CostUSD: 0.0009, Purpose: PurposeTool},
		{Timestamp: now, RunID: "run-2", Provider: "ollama", Model: "qwen3", InputTokens: 300, OutputTokens: 200},
	}
	for _, r := range recs {
		if err := s.Record(ctx, r); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	sum, err := s.Summary(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if sum.TotalRecords != 3 || sum.TotalInputTokens != 3300 || sum.TotalOutputTokens != 1700 {
		t.Errorf("summary = %+v", sum)
	}
	if !approx(sum.TotalCostUSD, 0.0084) {
		t.Errorf("cost = %v, want 0.0084", sum.TotalCostUSD)
	}

	byPurpose, err := s.SummaryByPurpose(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if byPurpose[PurposeAgent].TotalRecords != 2 || byPurpose[PurposeTool].TotalRecords != 1 {
		t.Errorf("by purpose = agent %+v tool %+v", byPurpose[PurposeAgent], byPurpose[PurposeTool])
	}

	byModel, err := s.SummaryByModel(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(byModel) != 3 || byModel["qwen3"].TotalInputTokens != 300 {
		t.Errorf("by model = %v", byModel)
	}

	run, err := s.RunSummary(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if run.TotalRecords != 2 || run.TotalOutputTokens != 1500 {
		t.Errorf("run summary = %+v", run)
	}
}

func TestSummary_FiltersByPeriod(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, ts := range []time.Time{now.Add(-48 * time.Hour), now} {
		if err := s.Record(ctx, Record{Timestamp: ts, Provider: "openai", Model: "gpt-4o", InputTokens: 10}); err != nil {
			t.Fatal(err)
		}
	}

	sum, err := s.Summary(ctx, now.Add(-24*time.Hour), now.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if sum.TotalRecords != 1 {
		t.Errorf("records = %d, want 1", sum.TotalRecords)
	}
}

func TestSummary_Empty(t *testing.T) {
	s := testStore(t)
	sum, err := s.Summary(context.Background(), time.Time{}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if sum.TotalRecords != 0 || sum.TotalCostUSD != 0 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestComputeCost(t *testing.T) {
	tests := []struct {
		model string
		in    int
		out   int
		want  float64
	}{
		{"gpt-4o", 1_000_000, 1_000_000, 12.5},
		{"gpt-4o-mini", 1000, 0, 0.00015},
		{"llama3", 5000, 5000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			if got := ComputeCost(tt.model, tt.in, tt.out, testPricing()); !approx(got, tt.want) {
				t.Errorf("ComputeCost = %v, want %v", got, tt.want)
			}
		})
	}
	if got := ComputeCost("gpt-4o", 100, 100, nil); got != 0 {
		t.Errorf("nil pricing cost = %v", got)
	}
}

type stubClient struct {
	resp *llm.Response
	err  error
}

func (c *stubClient) Generate(context.Context, *llm.Request) (*llm.Response, error) {
	return c.resp, c.err
}

type memRecorder struct {
	recs []Record
	err  error
}

func (m *memRecorder) Record(_ context.Context, r Record) error {
	m.recs = append(m.recs, r)
	return m.err
}

func TestTracker(t *testing.T) {
	rec := &memRecorder{}
	client := &stubClient{resp: &llm.Response{Text: "ok", Model: "gpt-4o", InputTokens: 1000, OutputTokens: 500}}
	tr := NewTracker(client, rec, testPricing(), nil)

	ctx := tools.WithRunID(context.Background(), "run-7")
	req := &llm.Request{Settings: llm.Settings{Provider: "openai", Model: "gpt-4o"}}
	if _, err := tr.Generate(ctx, req); err != nil {
		t.Fatal(err)
	}

	ctx = tools.WithToolCallID(ctx, "step1-call1")
	if _, err := tr.Generate(ctx, req); err != nil {
		t.Fatal(err)
	}

	if len(rec.recs) != 2 {
		t.Fatalf("recorded %d, want 2", len(rec.recs))
	}
	first, second := rec.recs[0], rec.recs[1]
	if first.RunID != "run-7" || first.Purpose != PurposeAgent || first.Provider != "openai" {
		t.Errorf("first = %+v", first)
	}
	if !approx(first.CostUSD, 0.0075) {
		t.Errorf("cost = %v", first.CostUSD)
	}
	if second.Purpose != PurposeTool || second.ToolCallID != "step1-call1" {
		t.Errorf("second = %+v", second)
	}
}

func TestTracker_PassesThroughErrors(t *testing.T) {
	rec := &memRecorder{err: errors.New("disk full")}
	boom := errors.New("provider down")

	tr := NewTracker(&stubClient{err: boom}, rec, nil, nil)
	if _, err := tr.Generate(context.Background(), &llm.Request{}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
	if len(rec.recs) != 0 {
		t.Errorf("recorded %d for a failed request", len(rec.recs))
	}

	// Aborted streams still count, and recorder failures are swallowed.
	partial := &llm.Response{Text: "par", Aborted: true, OutputTokens: 3}
	tr = NewTracker(&stubClient{resp: partial, err: context.Canceled}, rec, nil, nil)
	resp, err := tr.Generate(context.Background(), &llm.Request{Settings: llm.Settings{Model: "qwen3"}})
	if !errors.Is(err, context.Canceled) || resp != partial {
		t.Errorf("resp=%v err=%v", resp, err)
	}
	if len(rec.recs) != 1 || !rec.recs[0].Aborted || rec.recs[0].Model != "qwen3" {
		t.Errorf("recs = %+v", rec.recs)
	}
}
