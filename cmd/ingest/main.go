package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/edovery/ingest/internal/backend"
	"github.com/edovery/ingest/internal/config"
	"github.com/edovery/ingest/internal/fixture"
	"github.com/edovery/ingest/internal/track"
)

// Exit 1 is reserved for test failures; configuration and fatal runtime
// errors exit 2.
const (
	exitOK       = 0
	exitFailures = 1
	exitFatal    = 2
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitFatal)
	}

	switch os.Args[1] {
	case "test":
		testCmd(os.Args[2:])
	case "direct":
		directCmd(os.Args[2:])
	case "search":
		searchCmd(os.Args[2:])
	case "watch":
		watchCmd(os.Args[2:])
	default:
		usage()
		os.Exit(exitFatal)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  ingest test run [--suite <name>|--id <TEST-XXX-NNN>|--group <name>] [--parallel] [--timeout <ms>] [--skip-media] [--skip-tests] [--skip-llm-judge] [--dry-run] [--force] [--registry <file.md>] [--verbose]")
	fmt.Fprintln(os.Stderr, "  ingest test integration [run flags]")
	fmt.Fprintln(os.Stderr, "  ingest test capture --id <TEST-XXX-NNN> --category <category> [--timeout-ms <n>] [--verbose]")
	fmt.Fprintln(os.Stderr, "  ingest test forward --id <TEST-XXX-NNN> [--verbose]")
	fmt.Fprintln(os.Stderr, "  ingest test status [run-id] [--verbose]")
	fmt.Fprintln(os.Stderr, "  ingest test runs")
	fmt.Fprintln(os.Stderr, "  ingest test history [test-id]")
	fmt.Fprintln(os.Stderr, "  ingest direct [vault-file]")
	fmt.Fprintln(os.Stderr, "  ingest search [--artifacts] <query ...>")
	fmt.Fprintln(os.Stderr, "  ingest watch [--verbose]")
}

func testCmd(args []string) {
	if len(args) < 1 {
		usage()
		os.Exit(exitFatal)
	}
	switch args[0] {
	case "run":
		testRun(args[1:])
	case "integration":
		testRun(append([]string{"--suite", "integration"}, args[1:]...))
	case "capture":
		testCapture(args[1:])
	case "forward":
		testForward(args[1:])
	case "status":
		testStatus(args[1:])
	case "runs":
		testRuns(args[1:])
	case "history":
		testHistory(args[1:])
	default:
		usage()
		os.Exit(exitFatal)
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(exitFatal)
}

func usageErr(err error) {
	fmt.Fprintln(os.Stderr, err)
	usage()
	os.Exit(exitFatal)
}

// runExitCode maps a sealed run's summary onto the process exit code.
func runExitCode(s track.Summary) int {
	if s.Failed > 0 {
		return exitFailures
	}
	return exitOK
}

// resolveConfig loads the harness configuration; a missing or unsafe
// configuration is a usage-class failure.
func resolveConfig() *config.Config {
	cfg, err := config.Resolve(nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitFatal)
	}
	return cfg
}

func fixtureRoot(cfg *config.Config) string {
	if cfg.FixtureRoot != "" {
		return cfg.FixtureRoot
	}
	return "fixtures"
}

func runsRoot(cfg *config.Config) string {
	if cfg.RunsRoot != "" {
		return cfg.RunsRoot
	}
	return "runs"
}

func openStore(cfg *config.Config) *fixture.Store {
	store, err := fixture.NewStore(fixtureRoot(cfg), cfg.TestInputChannel)
	if err != nil {
		fail(err)
	}
	return store
}

func newClient(cfg *config.Config, log *zap.Logger) *backend.Client {
	return backend.NewClient(cfg.BotToken, log)
}
