// Package report renders run documents, status summaries, and trend
// history for the CLI. Rendering is pure; only WriteRunReport touches
// the filesystem.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/edovery/ingest/internal/testspec"
	"github.com/edovery/ingest/internal/track"
)

func statusSymbol(s track.Status) string {
	switch s {
	case track.StatusPassed:
		return "✓"
	case track.StatusSkipped, track.StatusCancelled:
		return "⊘"
	default:
		return "✗"
	}
}

// RenderRun produces the full Markdown report for a sealed run: the
// summary block, one line per spec in catalog order, then check details
// for every executed spec. Failures show expected vs actual; passes keep
// their reasoning so the report reads as evidence, not just a verdict.
func RenderRun(run *track.Run, catalog *testspec.Catalog) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Run %s\n\n", run.ID)
	fmt.Fprintf(&b, "- Selection: %s\n", run.Selection)
	fmt.Fprintf(&b, "- Started: %s\n", run.StartedAt.Format(time.RFC3339))
	if !run.CompletedAt.IsZero() {
		fmt.Fprintf(&b, "- Completed: %s\n", run.CompletedAt.Format(time.RFC3339))
	}
	s := run.Summary
	fmt.Fprintf(&b, "- Result: %d passed, %d failed, %d skipped of %d\n",
		s.Passed, s.Failed, s.Skipped, s.Total)
	if s.SemanticRequired > 0 {
		fmt.Fprintf(&b, "- Semantic: %d of %d evaluated\n", s.SemanticCompleted, s.SemanticRequired)
	}

	b.WriteString("\n## Results\n\n")
	for _, id := range run.Order {
		res := run.Results[id]
		if res == nil {
			fmt.Fprintf(&b, "- ? %s — no result recorded\n", id)
			continue
		}
		name := id
		if spec, ok := catalogSpec(catalog, id); ok {
			name = fmt.Sprintf("%s %s", id, spec.Name)
		}
		fmt.Fprintf(&b, "- %s %s (%s)", statusSymbol(res.Status), name, formatDuration(res.DurationMS))
		if res.Reason != "" {
			fmt.Fprintf(&b, " — %s", res.Reason)
		}
		b.WriteString("\n")
	}

	for _, id := range run.Order {
		res := run.Results[id]
		if res == nil || len(res.Checks) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n\n", id)
		if res.VaultPath != "" {
			fmt.Fprintf(&b, "Vault file: `%s`\n\n", res.VaultPath)
		}
		for _, c := range res.Checks {
			fmt.Fprintf(&b, "- %s `%s`: %s\n", statusSymbolBool(c.Passed), c.Name, c.Reasoning)
			if !c.Passed {
				fmt.Fprintf(&b, "  - expected: %s\n", c.Expected)
				fmt.Fprintf(&b, "  - actual: %s\n", c.Actual)
			}
		}
		if res.Semantic != nil {
			fmt.Fprintf(&b, "\nSemantic verdict: %s (confidence %d) — %s\n",
				passWord(res.Semantic.Passed), res.Semantic.Confidence, res.Semantic.Reasoning)
			for _, cp := range res.Semantic.Checkpoints {
				fmt.Fprintf(&b, "- %s %s", statusSymbolBool(cp.Passed), cp.Statement)
				if cp.Note != "" {
					fmt.Fprintf(&b, " — %s", cp.Note)
				}
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

func statusSymbolBool(passed bool) string {
	if passed {
		return "✓"
	}
	return "✗"
}

func passWord(passed bool) string {
	if passed {
		return "pass"
	}
	return "fail"
}

// WriteRunReport renders the run to the given file path, creating parent
// directories as needed.
func WriteRunReport(path string, run *track.Run, catalog *testspec.Catalog) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(RenderRun(run, catalog)), 0o644)
}

// RenderStatus is the one-screen console summary of a sealed run.
func RenderStatus(run *track.Run) string {
	var b strings.Builder
	s := run.Summary
	fmt.Fprintf(&b, "%s  %s  %d/%d passed",
		run.ID, run.Selection, s.Passed, s.Total)
	if s.Failed > 0 {
		fmt.Fprintf(&b, ", %d failed", s.Failed)
	}
	if s.Skipped > 0 {
		fmt.Fprintf(&b, ", %d skipped", s.Skipped)
	}
	b.WriteString("\n")
	for _, id := range run.Order {
		res := run.Results[id]
		if res == nil {
			continue
		}
		fmt.Fprintf(&b, "  %s %-18s %-9s %s", statusSymbol(res.Status), id, res.Status, formatDuration(res.DurationMS))
		if res.Reason != "" {
			fmt.Fprintf(&b, "  %s", res.Reason)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// RenderHistory renders the aggregate trend table grouped by category.
// Tests absent from the catalog land in a trailing "retired" group.
func RenderHistory(h *track.History, catalog *testspec.Catalog) string {
	groups := map[string][]string{}
	for id := range h.Tests {
		key := "retired"
		if spec, ok := catalogSpec(catalog, id); ok {
			key = string(spec.Category)
		}
		groups[key] = append(groups[key], id)
	}
	var keys []string
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("# Test history\n\n")
	if !h.UpdatedAt.IsZero() {
		fmt.Fprintf(&b, "Updated: %s\n\n", h.UpdatedAt.Format(time.RFC3339))
	}
	for _, key := range keys {
		ids := groups[key]
		sort.Strings(ids)
		fmt.Fprintf(&b, "## %s\n\n", key)
		b.WriteString("| Test | Runs | Pass rate | Avg duration | Trend |\n")
		b.WriteString("|------|------|-----------|--------------|-------|\n")
		for _, id := range ids {
			th := h.Tests[id]
			fmt.Fprintf(&b, "| %s | %d | %.0f%% | %s | %s |\n",
				id, len(th.Entries), th.PassRate*100, formatDuration(th.AvgDurationMS), th.Trend)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func catalogSpec(catalog *testspec.Catalog, id string) (testspec.Spec, bool) {
	if catalog == nil {
		return testspec.Spec{}, false
	}
	return catalog.ByID(id)
}

func formatDuration(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	if d < time.Second {
		return d.String()
	}
	return d.Round(100 * time.Millisecond).String()
}
