package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/edovery/ingest/internal/backend"
	"github.com/edovery/ingest/internal/config"
	"github.com/edovery/ingest/internal/fixture"
	"github.com/edovery/ingest/internal/judge"
	"github.com/edovery/ingest/internal/testspec"
	"github.com/edovery/ingest/internal/track"
	"github.com/edovery/ingest/internal/validate"
	"github.com/edovery/ingest/internal/vault"
)

// ErrNoSpecsMatch is returned when a selection resolves to zero specs.
var ErrNoSpecsMatch = errors.New("no specs match selection")

// Trigger is the slice of the backend client used to fire a test: the
// fixture message is re-posted into the input channel so the pipeline
// sees a fresh event.
type Trigger interface {
	ForwardMessage(ctx context.Context, chatID, fromChatID string, messageID int64) (*backend.Message, error)
}

// Judge scores semantic expectations. A nil judge records the
// unavailable verdict; deterministic checks alone decide the test.
type Judge interface {
	Available() bool
	Judge(ctx context.Context, vaultPath string, sub testspec.SemanticSpec) track.SemanticResult
}

// Options selects and shapes one runner invocation.
type Options struct {
	Selection track.Selection
	// Parallel lifts the worker count from 1 to the configured ceiling.
	Parallel bool
	// SkipMedia records media-input specs as skipped instead of running
	// them.
	SkipMedia bool
}

// Runner drives a whole run: trigger, await, observe, validate, judge,
// record. Workers share one watcher and one tracker.
type Runner struct {
	Catalog  *testspec.Catalog
	Fixtures *fixture.Store
	Trigger  Trigger
	Watcher  *Watcher
	Judge    Judge
	Tracker  *track.Tracker
	Config   *config.Config

	// ArchiveProbe checks the archive collaborator for a synced copy.
	// The default stats the path under the configured archive root.
	ArchiveProbe func(path string) bool

	Log *zap.Logger
	Now func() time.Time
}

func New(catalog *testspec.Catalog, fixtures *fixture.Store, trigger Trigger, watcher *Watcher, tracker *track.Tracker, cfg *config.Config, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Runner{
		Catalog:  catalog,
		Fixtures: fixtures,
		Trigger:  trigger,
		Watcher:  watcher,
		Tracker:  tracker,
		Config:   cfg,
		Log:      log,
		Now:      time.Now,
	}
	r.ArchiveProbe = r.defaultArchiveProbe
	return r
}

// Select resolves the selection against the catalog, in catalog order.
func (r *Runner) Select(sel track.Selection) ([]testspec.Spec, error) {
	switch {
	case sel.ID != "":
		spec, ok := r.Catalog.ByID(sel.ID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoSpecsMatch, sel.ID)
		}
		return []testspec.Spec{spec}, nil
	case sel.Group != "":
		specs := r.Catalog.ByGroup(sel.Group)
		if len(specs) == 0 {
			return nil, fmt.Errorf("%w: group %s", ErrNoSpecsMatch, sel.Group)
		}
		return specs, nil
	case sel.Suite != "" && sel.Suite != "all":
		cat, err := testspec.ParseCategory(sel.Suite)
		if err != nil {
			return nil, err
		}
		specs := r.Catalog.ByCategory(cat)
		if len(specs) == 0 {
			return nil, fmt.Errorf("%w: suite %s", ErrNoSpecsMatch, sel.Suite)
		}
		return specs, nil
	default:
		return r.Catalog.All(), nil
	}
}

// Run executes the selection and seals the run. A cancelled context
// records the remaining specs as cancelled; the run document is still
// written.
func (r *Runner) Run(ctx context.Context, opts Options) (*track.Run, error) {
	specs, err := r.Select(opts.Selection)
	if err != nil {
		return nil, err
	}
	if len(specs) == 0 {
		return nil, ErrNoSpecsMatch
	}
	order := make([]string, len(specs))
	for i, s := range specs {
		order[i] = s.ID
	}
	if _, err := r.Tracker.CreateRun(order, opts.Selection); err != nil {
		return nil, err
	}

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	go r.Watcher.Run(watchCtx)

	workers := 1
	if opts.Parallel && r.Config.Concurrency > 1 {
		workers = r.Config.Concurrency
	}
	if workers > len(specs) {
		workers = len(specs)
	}

	jobs := make(chan testspec.Spec)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for spec := range jobs {
				r.runAndRecord(ctx, spec, opts)
			}
		}()
	}
	for _, spec := range specs {
		jobs <- spec
	}
	close(jobs)
	wg.Wait()

	return r.Tracker.CompleteRun()
}

func (r *Runner) runAndRecord(ctx context.Context, spec testspec.Spec, opts Options) {
	res := r.runOne(ctx, spec, opts)
	if err := r.Tracker.RecordResult(spec.ID, res); err != nil {
		r.Log.Error("record result", zap.String("test_id", spec.ID), zap.Error(err))
		return
	}
	if !res.SemanticRequired {
		return
	}
	// The judge only scores output the deterministic checks accepted.
	// Anything else stays required-but-unevaluated in the run document.
	if res.Status != track.StatusPassed {
		return
	}
	sem := r.judgeOne(ctx, spec, res)
	if err := r.Tracker.RecordSemanticResult(spec.ID, sem); err != nil {
		r.Log.Error("record semantic result", zap.String("test_id", spec.ID), zap.Error(err))
	}
}

// runOne drives a single spec to a terminal status. It never returns an
// error; failures of any kind become the result.
func (r *Runner) runOne(ctx context.Context, spec testspec.Spec, opts Options) *track.TestResult {
	start := r.Now()
	finish := func(res *track.TestResult) *track.TestResult {
		res.DurationMS = r.Now().Sub(start).Milliseconds()
		res.SemanticRequired = spec.Expect.Semantic != nil
		return res
	}

	if spec.SkipReason != "" {
		return finish(&track.TestResult{Status: track.StatusSkipped, Reason: spec.SkipReason})
	}
	if opts.SkipMedia && spec.Input.Type.IsMedia() {
		return finish(&track.TestResult{Status: track.StatusSkipped, Reason: "media input skipped"})
	}
	if ctx.Err() != nil {
		return finish(&track.TestResult{Status: track.StatusCancelled, Reason: "run cancelled"})
	}

	fx, _, err := r.Fixtures.Find(spec.ID)
	if err != nil {
		return finish(&track.TestResult{Status: track.StatusError, Reason: fmt.Sprintf("fixture: %v", err)})
	}
	if !r.Fixtures.IsValid(fx) {
		return finish(&track.TestResult{Status: track.StatusError, Reason: "fixture is stale or redacted; re-populate"})
	}

	// Subscribe before triggering so the notification cannot slip past.
	sub, unsub := r.Watcher.Subscribe()
	defer unsub()

	input := r.Config.TestInputChannel
	if _, err := r.Trigger.ForwardMessage(ctx, input, input, fx.Message.MessageID); err != nil {
		return finish(&track.TestResult{Status: track.StatusError, Reason: fmt.Sprintf("trigger: %v", err)})
	}

	timeout := r.Config.SpecTimeout
	if spec.TimeoutMS > 0 {
		timeout = time.Duration(spec.TimeoutMS) * time.Millisecond
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	n, ok := r.awaitNotification(waitCtx, sub, spec)
	if !ok {
		if ctx.Err() != nil {
			return finish(&track.TestResult{Status: track.StatusCancelled, Reason: "run cancelled"})
		}
		return finish(&track.TestResult{
			Status: track.StatusTimeout,
			Reason: fmt.Sprintf("no notification within %s", timeout),
		})
	}

	act := r.observe(spec, n)
	checks := validate.Evaluate(spec.Expect, act)
	status := track.StatusFailed
	if validate.AllPassed(checks) {
		status = track.StatusPassed
	}
	return finish(&track.TestResult{
		Status:      status,
		Pipeline:    act.Pipeline,
		Tags:        act.Tags,
		Frontmatter: act.Frontmatter,
		VaultPath:   act.VaultPath,
		ArchivePath: act.ArchivePath,
		Notify:      act.Notify,
		Checks:      checks,
	})
}

// awaitNotification drains the subscription until a notification
// correlates with the spec or the deadline passes.
func (r *Runner) awaitNotification(ctx context.Context, sub <-chan Notification, spec testspec.Spec) (Notification, bool) {
	for {
		select {
		case <-ctx.Done():
			return Notification{}, false
		case n := <-sub:
			if r.correlates(spec, n) {
				return n, true
			}
		}
	}
}

// correlates matches a notification to the spec: by bracketed marker
// normally, or by the bare id inside the output file for spoken inputs,
// where transcription strips the brackets.
func (r *Runner) correlates(spec testspec.Spec, n Notification) bool {
	if n.TestID() == spec.ID {
		return true
	}
	if !spec.Input.Type.IsSpoken() || n.TestID() != "" {
		return false
	}
	for _, rel := range n.OutputPaths {
		full, err := vault.Resolve(r.Config.VaultRoot, rel)
		if err != nil {
			continue
		}
		b, err := os.ReadFile(full)
		if err != nil {
			continue
		}
		if strings.Contains(string(b), spec.ID) {
			return true
		}
	}
	return false
}

// observe assembles everything the validation engine looks at from the
// notification and the vault file it points to.
func (r *Runner) observe(spec testspec.Spec, n Notification) validate.Actuals {
	act := validate.Actuals{
		Pipeline: n.Pipeline,
		Severity: n.Severity,
		Notify:   n.Fields,
		Verbose:  n.Body,
	}

	path := r.resolveVaultPath(spec, n)
	if path != "" {
		if note, err := vault.ReadNote(path); err == nil {
			act.VaultPath = path
			act.FileName = filepath.Base(path)
			act.Frontmatter = note.Frontmatter
			act.Tags = note.Tags
			act.Content = note.Body
		} else {
			r.Log.Warn("vault file unreadable", zap.String("path", path), zap.Error(err))
		}
	}

	if p := n.Fields["dropbox_path"]; p != "" {
		act.ArchivePath = p
		act.ArchiveOK = r.ArchiveProbe(p)
	}
	return act
}

// resolveVaultPath prefers the notification's output paths, then falls
// back to a vault search for the spec's identifier.
func (r *Runner) resolveVaultPath(spec testspec.Spec, n Notification) string {
	for _, rel := range n.OutputPaths {
		if !strings.HasSuffix(rel, ".md") {
			continue
		}
		full, err := vault.Resolve(r.Config.VaultRoot, rel)
		if err != nil {
			continue
		}
		if _, err := os.Stat(full); err == nil {
			return full
		}
	}

	needle := spec.Marker()
	if spec.Input.Type.IsSpoken() {
		needle = spec.ID
	}
	hits, err := vault.Search(r.Config.VaultRoot, needle)
	if err != nil || len(hits) == 0 {
		return ""
	}
	return filepath.Join(r.Config.VaultRoot, hits[0].Path)
}

// judgeOne runs the semantic evaluation after the deterministic verdict
// is recorded. The judge is advisory; its verdict never flips status.
func (r *Runner) judgeOne(ctx context.Context, spec testspec.Spec, res *track.TestResult) track.SemanticResult {
	if r.Judge == nil || !r.Judge.Available() {
		return track.SemanticResult{Reasoning: judge.UnavailableReason}
	}
	if res.VaultPath == "" {
		return track.SemanticResult{Reasoning: "no vault file to judge"}
	}
	return r.Judge.Judge(ctx, res.VaultPath, *spec.Expect.Semantic)
}

func (r *Runner) defaultArchiveProbe(path string) bool {
	if r.Config.ArchiveRoot == "" {
		return false
	}
	full := filepath.Join(r.Config.ArchiveRoot, filepath.FromSlash(strings.TrimPrefix(path, "/")))
	_, err := os.Stat(full)
	return err == nil
}
