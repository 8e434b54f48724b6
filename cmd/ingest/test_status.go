package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/edovery/ingest/internal/report"
	"github.com/edovery/ingest/internal/testspec"
	"github.com/edovery/ingest/internal/track"
)

// testStatus prints the one-screen summary of the latest (or a named)
// sealed run. With --verbose the full Markdown report is rewritten too.
// Exit code follows the run: 0 clean, 1 with failures.
func testStatus(args []string) {
	var runID string
	var verbose bool
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--verbose":
			verbose = true
		default:
			if strings.HasPrefix(args[i], "--") {
				usageErr(fmt.Errorf("unknown arg: %s", args[i]))
			}
			if runID != "" {
				usageErr(fmt.Errorf("unexpected arg: %s", args[i]))
			}
			runID = args[i]
		}
	}

	cfg := resolveConfig()
	tracker := track.NewTracker(runsRoot(cfg))

	var run *track.Run
	var err error
	if runID != "" {
		run, err = tracker.LoadRun(runID)
	} else {
		run, err = tracker.LatestRun()
	}
	if err != nil {
		fail(err)
	}
	fmt.Print(report.RenderStatus(run))

	if verbose {
		path := filepath.Join(runsRoot(cfg), "integration-report.md")
		if err := report.WriteRunReport(path, run, testspec.Builtin()); err != nil {
			fail(err)
		}
		fmt.Printf("report=%s\n", path)
	}

	os.Exit(runExitCode(run.Summary))
}

func testRuns(args []string) {
	if len(args) > 0 {
		usageErr(fmt.Errorf("unknown arg: %s", args[0]))
	}
	cfg := resolveConfig()
	ids, err := track.NewTracker(runsRoot(cfg)).ListRuns()
	if err != nil {
		fail(err)
	}
	for _, id := range ids {
		fmt.Println(id)
	}
}

// testHistory prints the aggregate trend table, or one test's raw series
// when a test id is given.
func testHistory(args []string) {
	var id string
	for i := 0; i < len(args); i++ {
		if strings.HasPrefix(args[i], "--") {
			usageErr(fmt.Errorf("unknown arg: %s", args[i]))
		}
		if id != "" {
			usageErr(fmt.Errorf("unexpected arg: %s", args[i]))
		}
		id = args[i]
	}

	cfg := resolveConfig()
	tracker := track.NewTracker(runsRoot(cfg))

	if id != "" {
		th, err := tracker.HistoryFor(id)
		if err != nil {
			fail(err)
		}
		if th == nil {
			fail(fmt.Errorf("no history for %s", id))
		}
		fmt.Printf("%s: %d runs, %.0f%% pass rate, trend %s\n", id, len(th.Entries), th.PassRate*100, th.Trend)
		for _, e := range th.Entries {
			fmt.Printf("  %s  %-9s %dms\n", e.RunID, e.Status, e.DurationMS)
		}
		return
	}

	h, err := tracker.LoadHistory()
	if err != nil {
		fail(err)
	}
	fmt.Print(report.RenderHistory(h, testspec.Builtin()))
}
