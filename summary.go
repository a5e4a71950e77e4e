package crucible

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/crucible-ci/crucible/types"
)

// summarize renders the end-of-run report: a per-test table followed by
// explicit flake and failure lists, since those are what a CI log reader
// scans for first.
func summarize(results []*types.ExecutionResult, duration time.Duration) string {
	var sb strings.Builder

	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("Test Results (%s)", formatDuration(duration)))
	t.AppendHeader(table.Row{"Test", "Status", "Attempts"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Test", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Attempts", Align: text.AlignRight},
	})
	for _, r := range results {
		t.AppendRow(table.Row{r.Name, statusString(r), len(r.PreviousAttempts) + 1})
	}
	passed, failed := 0, 0
	for _, r := range results {
		if r.Success {
			passed++
		} else {
			failed++
		}
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d tests", len(results)), fmt.Sprintf("%d passed, %d failed", passed, failed), ""})
	sb.WriteString(t.Render())
	sb.WriteString("\n")

	if flakes := types.Flakes(results); len(flakes) > 0 {
		sb.WriteString("\nThe following tests were flaky:\n")
		for _, r := range flakes {
			sb.WriteString("  " + r.Name + "\n")
		}
	}
	if failures := types.Failures(results); len(failures) > 0 {
		sb.WriteString("\nThe following tests failed:\n")
		for _, r := range failures {
			sb.WriteString("  " + r.Name + "\n")
		}
	}
	return sb.String()
}

func statusString(r *types.ExecutionResult) string {
	switch {
	case r.Flaky():
		return "flaky"
	case r.Success:
		return "pass"
	default:
		return "fail"
	}
}

func formatDuration(d time.Duration) string {
	return d.Round(100 * time.Millisecond).String()
}
