package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fsnotify/fsnotify"

	"github.com/edovery/ingest/internal/logging"
	"github.com/edovery/ingest/internal/report"
	"github.com/edovery/ingest/internal/track"

	"go.uber.org/zap"
)

// watchCmd tails the runs root and prints each run's summary as it
// seals. Sealed runs land via rename, so a run file appears exactly once
// as a create event.
func watchCmd(args []string) {
	var verbose bool
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--verbose":
			verbose = true
		default:
			usageErr(fmt.Errorf("unknown arg: %s", args[i]))
		}
	}

	cfg := resolveConfig()
	root := runsRoot(cfg)
	if err := os.MkdirAll(root, 0o755); err != nil {
		fail(err)
	}
	log := logging.New(verbose)
	defer func() { _ = log.Sync() }()
	tracker := track.NewTracker(root)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		fail(err)
	}
	defer func() { _ = watcher.Close() }()
	if err := watcher.Add(root); err != nil {
		fail(err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	fmt.Fprintf(os.Stderr, "watching %s\n", root)

	seen := map[string]bool{}
	for {
		select {
		case <-sig:
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) {
				continue
			}
			base := filepath.Base(ev.Name)
			if !strings.HasPrefix(base, "run-") || !strings.HasSuffix(base, ".json") {
				continue
			}
			runID := strings.TrimSuffix(base, ".json")
			if seen[runID] {
				continue
			}
			run, err := tracker.LoadRun(runID)
			if err != nil {
				log.Warn("load run", zap.String("run_id", runID), zap.Error(err))
				continue
			}
			seen[runID] = true
			fmt.Print(report.RenderStatus(run))
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Warn("watch error", zap.Error(err))
		}
	}
}
