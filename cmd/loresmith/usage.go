package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/nugget/loresmith/internal/usage"
)

// usageReport is the JSON shape of the usage command.
type usageReport struct {
	Day     *usage.Summary            `json:"last_24h"`
	Month   *usage.Summary            `json:"last_30d"`
	ByModel map[string]*usage.Summary `json:"by_model_30d"`
	ByTask  map[string]*usage.Summary `json:"by_purpose_30d"`
}

// runUsage prints token usage recorded in the workspace database.
func runUsage(ctx context.Context, w io.Writer, configPath, outputFmt string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	us, err := usage.New(st.DB())
	if err != nil {
		return err
	}

	now := time.Now()
	end := now.Add(time.Minute)
	monthStart := now.AddDate(0, 0, -30)

	var r usageReport
	if r.Day, err = us.Summary(ctx, now.Add(-24*time.Hour), end); err != nil {
		return err
	}
	if r.Month, err = us.Summary(ctx, monthStart, end); err != nil {
		return err
	}
	if r.ByModel, err = us.SummaryByModel(ctx, monthStart, end); err != nil {
		return err
	}
	if r.ByTask, err = us.SummaryByPurpose(ctx, monthStart, end); err != nil {
		return err
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	printSummary(w, "Last 24 hours", r.Day)
	printSummary(w, "Last 30 days", r.Month)
	if len(r.ByModel) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "By model (30 days):")
		models := make([]string, 0, len(r.ByModel))
		for m := range r.ByModel {
			models = append(models, m)
		}
		slices.Sort(models)
		for _, m := range models {
			printSummary(w, "  "+m, r.ByModel[m])
		}
	}
	return nil
}

func printSummary(w io.Writer, label string, s *usage.Summary) {
	fmt.Fprintf(w, "%-28s %s requests, %s in, %s out, $%.4f\n",
		label+":",
		humanize.Comma(int64(s.TotalRecords)),
		humanize.Comma(s.TotalInputTokens),
		humanize.Comma(s.TotalOutputTokens),
		s.TotalCostUSD,
	)
}
