package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/edovery/ingest/internal/judge"
	"github.com/edovery/ingest/internal/logging"
	"github.com/edovery/ingest/internal/populate"
	"github.com/edovery/ingest/internal/report"
	"github.com/edovery/ingest/internal/runner"
	"github.com/edovery/ingest/internal/testspec"
	"github.com/edovery/ingest/internal/track"
)

type runFlags struct {
	selection track.Selection
	parallel  bool
	skipMedia bool
	skipTests bool
	skipJudge bool
	dryRun    bool
	force     bool
	registry  string
	timeout   time.Duration
	verbose   bool
}

func parseRunFlags(args []string) (runFlags, error) {
	var f runFlags
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--parallel":
			f.parallel = true
		case "--skip-media":
			f.skipMedia = true
		case "--skip-tests":
			f.skipTests = true
		case "--skip-llm-judge":
			f.skipJudge = true
		case "--dry-run":
			f.dryRun = true
		case "--force":
			f.force = true
		case "--verbose":
			f.verbose = true
		case "--timeout":
			i++
			if i >= len(args) {
				return f, fmt.Errorf("--timeout requires a value in milliseconds")
			}
			n, err := strconv.Atoi(args[i])
			if err != nil || n <= 0 {
				return f, fmt.Errorf("--timeout must be a positive integer (milliseconds), got %q", args[i])
			}
			f.timeout = time.Duration(n) * time.Millisecond
		case "--suite":
			i++
			if i >= len(args) {
				return f, fmt.Errorf("--suite requires a value")
			}
			f.selection.Suite = args[i]
		case "--id":
			i++
			if i >= len(args) {
				return f, fmt.Errorf("--id requires a value")
			}
			f.selection.ID = args[i]
		case "--group":
			i++
			if i >= len(args) {
				return f, fmt.Errorf("--group requires a value")
			}
			f.selection.Group = args[i]
		case "--registry":
			i++
			if i >= len(args) {
				return f, fmt.Errorf("--registry requires a value")
			}
			f.registry = args[i]
		default:
			return f, fmt.Errorf("unknown arg: %s", args[i])
		}
	}
	set := 0
	for _, v := range []string{f.selection.Suite, f.selection.ID, f.selection.Group} {
		if v != "" {
			set++
		}
	}
	if set > 1 {
		return f, fmt.Errorf("--suite, --id, and --group are mutually exclusive")
	}
	if f.force && f.registry == "" {
		return f, fmt.Errorf("--force requires --registry")
	}
	return f, nil
}

func testRun(args []string) {
	f, err := parseRunFlags(args)
	if err != nil {
		usageErr(err)
	}

	cfg := resolveConfig()
	if f.timeout > 0 {
		cfg.SpecTimeout = f.timeout
	}
	log := logging.New(f.verbose)
	defer func() { _ = log.Sync() }()
	catalog := testspec.Builtin()

	store := openStore(cfg)
	client := newClient(cfg, log)
	watcher := runner.NewWatcher(client, cfg.TestNotifyChannel, log)
	tracker := track.NewTracker(runsRoot(cfg))
	r := runner.New(catalog, store, client, watcher, tracker, cfg, log)
	if !f.skipJudge {
		r.Judge = judge.NewDriver(cfg.JudgeEndpoint, cfg.JudgeAPIKey, log)
	}

	if f.dryRun {
		specs, err := r.Select(f.selection)
		if err != nil {
			fail(err)
		}
		for _, s := range specs {
			marker := ""
			if s.SkipReason != "" {
				marker = "  (skip: " + s.SkipReason + ")"
			}
			fmt.Printf("%s  %s  %s%s\n", s.ID, s.Category, s.Name, marker)
		}
		fmt.Printf("%d specs selected\n", len(specs))
		os.Exit(exitOK)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if f.registry != "" {
		rows, err := populate.ParseRegistry(f.registry)
		if err != nil {
			fail(err)
		}
		mode := populate.ModeSmart
		if f.force {
			mode = populate.ModeForce
		}
		pop := populate.NewPopulator(store, client, cfg.TestInputChannel, log)
		sum, err := pop.Populate(ctx, rows, mode)
		if err != nil {
			fail(err)
		}
		fmt.Printf("populate: %d existing, %d sent, %d skipped, %d errors\n",
			sum.Existing, sum.Sent, sum.Skipped, sum.Errors)
		for _, p := range sum.Problems {
			fmt.Fprintf(os.Stderr, "populate: %s\n", p)
		}
		if f.skipTests {
			if sum.Errors > 0 {
				os.Exit(exitFailures)
			}
			os.Exit(exitOK)
		}
	} else if f.skipTests {
		usageErr(fmt.Errorf("--skip-tests requires --registry"))
	}

	run, err := r.Run(ctx, runner.Options{
		Selection: f.selection,
		Parallel:  f.parallel,
		SkipMedia: f.skipMedia,
	})
	if err != nil {
		fail(err)
	}

	path := filepath.Join(runsRoot(cfg), "integration-report.md")
	if err := report.WriteRunReport(path, run, catalog); err != nil {
		fail(err)
	}
	fmt.Print(report.RenderStatus(run))
	fmt.Printf("report=%s\n", path)
	os.Exit(runExitCode(run.Summary))
}
