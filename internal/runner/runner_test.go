package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/edovery/ingest/internal/backend"
	"github.com/edovery/ingest/internal/config"
	"github.com/edovery/ingest/internal/fixture"
	"github.com/edovery/ingest/internal/testspec"
	"github.com/edovery/ingest/internal/track"
	"github.com/edovery/ingest/internal/validate"
)

const (
	inputChannel  = "-1001"
	notifyChannel = "-1002"
)

// fakeGateway plays both the trigger and the notification poll: a forward
// of a known fixture message enqueues the canned notification for it.
type fakeGateway struct {
	mu            sync.Mutex
	notifications map[int64]string // fixture message id -> notification body
	queue         []backend.Update
	nextUpdate    int64
	forwards      []int64
}

func (g *fakeGateway) ForwardMessage(ctx context.Context, chatID, fromChatID string, messageID int64) (*backend.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.forwards = append(g.forwards, messageID)
	if body, ok := g.notifications[messageID]; ok {
		g.nextUpdate++
		g.queue = append(g.queue, backend.Update{
			UpdateID: g.nextUpdate,
			Message:  &backend.Message{MessageID: 900 + g.nextUpdate, ChatID: notifyChannel, Text: body},
		})
	}
	return &backend.Message{MessageID: 500 + messageID, ChatID: chatID}, nil
}

func (g *fakeGateway) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]backend.Update, error) {
	g.mu.Lock()
	var out []backend.Update
	for _, u := range g.queue {
		if u.UpdateID >= offset {
			out = append(out, u)
		}
	}
	g.mu.Unlock()
	if len(out) == 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
	return out, nil
}

// countingJudge records how often it is consulted and returns a canned
// verdict.
type countingJudge struct {
	mu      sync.Mutex
	calls   int
	verdict track.SemanticResult
}

func (j *countingJudge) Available() bool { return true }

func (j *countingJudge) Judge(ctx context.Context, vaultPath string, sub testspec.SemanticSpec) track.SemanticResult {
	j.mu.Lock()
	j.calls++
	j.mu.Unlock()
	return j.verdict
}

type harness struct {
	runner  *Runner
	gateway *fakeGateway
	cfg     *config.Config
}

func newHarness(t *testing.T, specs []testspec.Spec) *harness {
	t.Helper()
	catalog, err := testspec.NewCatalog(specs)
	if err != nil {
		t.Fatal(err)
	}
	store, err := fixture.NewStore(t.TempDir(), inputChannel)
	if err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{
		BotToken:          "token",
		TestInputChannel:  inputChannel,
		TestNotifyChannel: notifyChannel,
		VaultRoot:         t.TempDir(),
		RunsRoot:          t.TempDir(),
		Concurrency:       3,
		SpecTimeout:       2 * time.Second,
	}
	gw := &fakeGateway{notifications: map[int64]string{}}
	watcher := NewWatcher(gw, notifyChannel, nil)
	watcher.PollTimeout = 10 * time.Millisecond
	r := New(catalog, store, gw, watcher, track.NewTracker(cfg.RunsRoot), cfg, nil)
	return &harness{runner: r, gateway: gw, cfg: cfg}
}

func (h *harness) addFixture(t *testing.T, spec testspec.Spec, messageID int64) {
	t.Helper()
	fx := &fixture.Fixture{
		Meta: fixture.Meta{
			TestID:     spec.ID,
			CapturedAt: time.Now().UTC(),
			CapturedBy: fixture.CapturedByPopulator,
		},
		Message: backend.Message{MessageID: messageID, ChatID: inputChannel, Text: spec.Input.Text},
	}
	if err := h.runner.Fixtures.Write(spec.ID, string(spec.Category), fx); err != nil {
		t.Fatal(err)
	}
}

func (h *harness) writeVaultNote(t *testing.T, rel, content string) {
	t.Helper()
	full := filepath.Join(h.cfg.VaultRoot, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func scopeSpec() testspec.Spec {
	return testspec.Spec{
		ID:         "TEST-SCOPE-001",
		Name:       "private scope routing",
		Category:   testspec.CategoryScope,
		FixtureRef: "scope/TEST-SCOPE-001.json",
		Input:      testspec.Input{Type: testspec.InputText, Text: "[TEST-SCOPE-001] ~private note"},
		Expect: testspec.Expectations{
			Pipeline:        "standard",
			RequiredTags:    []string{"scope/private"},
			ForbiddenTags:   []string{"scope/work"},
			ContentContains: []string{"personal note"},
		},
	}
}

const scopeNote = `---
tags:
  - scope/private
  - incoming
source: telegram
---
[TEST-SCOPE-001] personal note body
`

func TestRun_PassingSpec(t *testing.T) {
	spec := scopeSpec()
	h := newHarness(t, []testspec.Spec{spec})
	h.addFixture(t, spec, 11)
	h.writeVaultNote(t, "notes/test-scope-001.md", scopeNote)
	h.gateway.notifications[11] = `{"message": "[TEST-SCOPE-001] processed",` +
		`"status": "success", "pipeline": "standard", "severity": "info",` +
		`"output_paths": ["notes/test-scope-001.md"]}`

	run, err := h.runner.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	res := run.Results[spec.ID]
	if res == nil || res.Status != track.StatusPassed {
		t.Fatalf("result: %+v", res)
	}
	if len(res.Checks) != validate.FacetCount(spec.Expect) {
		t.Fatalf("checks: got %d want %d", len(res.Checks), validate.FacetCount(spec.Expect))
	}
	if res.VaultPath == "" || res.Pipeline != "standard" {
		t.Fatalf("actuals: %+v", res)
	}
	if run.Summary.Passed != 1 || run.Summary.Total != 1 {
		t.Fatalf("summary: %+v", run.Summary)
	}
}

func TestRun_FailingCheckStillReportsAll(t *testing.T) {
	spec := scopeSpec()
	spec.Expect.Pipeline = "archive" // deliberately wrong
	h := newHarness(t, []testspec.Spec{spec})
	h.addFixture(t, spec, 11)
	h.writeVaultNote(t, "notes/test-scope-001.md", scopeNote)
	h.gateway.notifications[11] = `{"message": "[TEST-SCOPE-001] done",` +
		`"pipeline": "standard", "output_paths": ["notes/test-scope-001.md"]}`

	run, err := h.runner.Run(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	res := run.Results[spec.ID]
	if res.Status != track.StatusFailed {
		t.Fatalf("status: %s", res.Status)
	}
	// Every declared facet is still evaluated after the failure.
	if len(res.Checks) != validate.FacetCount(spec.Expect) {
		t.Fatalf("checks: got %d want %d", len(res.Checks), validate.FacetCount(spec.Expect))
	}
}

func TestRun_JudgeScoresPassingSpec(t *testing.T) {
	spec := scopeSpec()
	spec.Expect.Semantic = &testspec.SemanticSpec{
		Description: "note keeps the original wording",
		Checkpoints: []string{"body mentions the personal note"},
	}
	h := newHarness(t, []testspec.Spec{spec})
	j := &countingJudge{verdict: track.SemanticResult{Passed: true, Confidence: 95, Reasoning: "wording preserved"}}
	h.runner.Judge = j
	h.addFixture(t, spec, 11)
	h.writeVaultNote(t, "notes/test-scope-001.md", scopeNote)
	h.gateway.notifications[11] = `{"message": "[TEST-SCOPE-001] processed",` +
		`"pipeline": "standard", "output_paths": ["notes/test-scope-001.md"]}`

	run, err := h.runner.Run(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	res := run.Results[spec.ID]
	if res.Status != track.StatusPassed {
		t.Fatalf("result: %+v", res)
	}
	if j.calls != 1 {
		t.Fatalf("judge calls: %d", j.calls)
	}
	if res.Semantic == nil || res.Semantic.Confidence != 95 {
		t.Fatalf("semantic: %+v", res.Semantic)
	}
	if run.Summary.SemanticRequired != 1 || run.Summary.SemanticCompleted != 1 {
		t.Fatalf("summary: %+v", run.Summary)
	}
}

func TestRun_JudgeSkippedWhenChecksFail(t *testing.T) {
	spec := scopeSpec()
	spec.Expect.Pipeline = "archive" // deliberately wrong
	spec.Expect.Semantic = &testspec.SemanticSpec{
		Description: "note keeps the original wording",
		Checkpoints: []string{"body mentions the personal note"},
	}
	h := newHarness(t, []testspec.Spec{spec})
	j := &countingJudge{verdict: track.SemanticResult{Passed: true, Confidence: 95, Reasoning: "wording preserved"}}
	h.runner.Judge = j
	h.addFixture(t, spec, 11)
	h.writeVaultNote(t, "notes/test-scope-001.md", scopeNote)
	h.gateway.notifications[11] = `{"message": "[TEST-SCOPE-001] processed",` +
		`"pipeline": "standard", "output_paths": ["notes/test-scope-001.md"]}`

	run, err := h.runner.Run(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	res := run.Results[spec.ID]
	if res.Status != track.StatusFailed {
		t.Fatalf("status: %s", res.Status)
	}
	if j.calls != 0 {
		t.Fatalf("judge consulted %d times for a failed test", j.calls)
	}
	// The sub-spec stays required but unevaluated.
	if !res.SemanticRequired || res.Semantic != nil {
		t.Fatalf("semantic record: required=%t semantic=%+v", res.SemanticRequired, res.Semantic)
	}
	if run.Summary.SemanticRequired != 1 || run.Summary.SemanticCompleted != 0 {
		t.Fatalf("summary: %+v", run.Summary)
	}
}

func TestRun_StaleNotificationIgnored(t *testing.T) {
	spec := scopeSpec()
	h := newHarness(t, []testspec.Spec{spec})
	h.addFixture(t, spec, 11)
	h.writeVaultNote(t, "notes/test-scope-001.md", scopeNote)
	h.cfg.SpecTimeout = 50 * time.Millisecond
	// A leftover success notification from an earlier run, same marker,
	// already pending when this run starts.
	h.gateway.queue = append(h.gateway.queue, backend.Update{
		UpdateID: 1,
		Message: &backend.Message{
			MessageID: 900,
			ChatID:    notifyChannel,
			Date:      time.Now().Add(-time.Hour).Unix(),
			Text: `{"message": "[TEST-SCOPE-001] processed",` +
				`"pipeline": "standard", "output_paths": ["notes/test-scope-001.md"]}`,
		},
	})
	h.gateway.nextUpdate = 1

	run, err := h.runner.Run(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if run.Results[spec.ID].Status != track.StatusTimeout {
		t.Fatalf("status: %s", run.Results[spec.ID].Status)
	}
}

func TestRun_TimeoutWhenNoNotification(t *testing.T) {
	spec := scopeSpec()
	h := newHarness(t, []testspec.Spec{spec})
	h.addFixture(t, spec, 11)
	h.cfg.SpecTimeout = 50 * time.Millisecond
	// No notification registered for message 11.

	run, err := h.runner.Run(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	res := run.Results[spec.ID]
	if res.Status != track.StatusTimeout {
		t.Fatalf("status: %s", res.Status)
	}
	if run.Summary.Failed != 1 {
		t.Fatalf("summary: %+v", run.Summary)
	}
}

func TestRun_SkipReasonAndSkipMedia(t *testing.T) {
	skip := scopeSpec()
	skip.SkipReason = "blocked on upstream fix"

	media := testspec.Spec{
		ID:         "TEST-ARC-001",
		Name:       "receipt",
		Category:   testspec.CategoryArchive,
		FixtureRef: "archive/TEST-ARC-001.json",
		Input:      testspec.Input{Type: testspec.InputDocument, Asset: "receipt.pdf"},
	}
	h := newHarness(t, []testspec.Spec{skip, media})
	h.addFixture(t, media, 12)

	run, err := h.runner.Run(context.Background(), Options{SkipMedia: true})
	if err != nil {
		t.Fatal(err)
	}
	if run.Results[skip.ID].Status != track.StatusSkipped {
		t.Fatalf("skip reason result: %+v", run.Results[skip.ID])
	}
	if run.Results[skip.ID].Reason != "blocked on upstream fix" {
		t.Fatalf("reason: %q", run.Results[skip.ID].Reason)
	}
	if run.Results[media.ID].Status != track.StatusSkipped {
		t.Fatalf("media result: %+v", run.Results[media.ID])
	}
	if len(h.gateway.forwards) != 0 {
		t.Fatalf("skipped specs must not trigger: %v", h.gateway.forwards)
	}
	if run.Summary.Skipped != 2 {
		t.Fatalf("summary: %+v", run.Summary)
	}
}

func TestRun_MissingFixtureIsError(t *testing.T) {
	spec := scopeSpec()
	h := newHarness(t, []testspec.Spec{spec})

	run, err := h.runner.Run(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	res := run.Results[spec.ID]
	if res.Status != track.StatusError {
		t.Fatalf("status: %s", res.Status)
	}
}

func TestRun_SpokenInputCorrelatesByFileContent(t *testing.T) {
	spec := testspec.Spec{
		ID:         "TEST-VOX-001",
		Name:       "voice memo",
		Category:   testspec.CategoryAcceptance,
		FixtureRef: "acceptance/TEST-VOX-001.json",
		Input:      testspec.Input{Type: testspec.InputVoice, Asset: "memo.ogg"},
		Expect:     testspec.Expectations{ContentContains: []string{"TEST-VOX-001"}},
	}
	h := newHarness(t, []testspec.Spec{spec})
	h.addFixture(t, spec, 13)
	// Transcription strips the brackets; only the bare id lands in the note.
	h.writeVaultNote(t, "notes/voice-memo.md", "transcript mentions TEST-VOX-001 in passing\n")
	h.gateway.notifications[13] = `{"message": "voice memo transcribed",` +
		`"output_paths": ["notes/voice-memo.md"]}`

	run, err := h.runner.Run(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	res := run.Results[spec.ID]
	if res.Status != track.StatusPassed {
		t.Fatalf("result: %+v", res)
	}
}

func TestRun_ParallelPreservesCatalogOrder(t *testing.T) {
	var specs []testspec.Spec
	for i := 1; i <= 4; i++ {
		id := fmt.Sprintf("TEST-REG-%03d", i)
		specs = append(specs, testspec.Spec{
			ID:         id,
			Name:       id,
			Category:   testspec.CategoryRegression,
			FixtureRef: "regression/" + id + ".json",
			Input:      testspec.Input{Type: testspec.InputText, Text: "[" + id + "] body"},
		})
	}
	h := newHarness(t, specs)
	for i, spec := range specs {
		id := int64(20 + i)
		h.addFixture(t, spec, id)
		h.writeVaultNote(t, "notes/"+spec.ID+".md", "["+spec.ID+"] body\n")
		h.gateway.notifications[id] = fmt.Sprintf(
			`{"message": "[%s] done", "output_paths": ["notes/%s.md"]}`, spec.ID, spec.ID)
	}

	run, err := h.runner.Run(context.Background(), Options{Parallel: true})
	if err != nil {
		t.Fatal(err)
	}
	if run.Summary.Passed != 4 {
		t.Fatalf("summary: %+v", run.Summary)
	}
	for i, spec := range specs {
		if run.Order[i] != spec.ID {
			t.Fatalf("order[%d] = %s", i, run.Order[i])
		}
	}
}

func TestRun_CancelledContextRecordsCancelled(t *testing.T) {
	spec := scopeSpec()
	h := newHarness(t, []testspec.Spec{spec})
	h.addFixture(t, spec, 11)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := h.runner.Run(ctx, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if run.Results[spec.ID].Status != track.StatusCancelled {
		t.Fatalf("status: %s", run.Results[spec.ID].Status)
	}
}

func TestSelect(t *testing.T) {
	a := scopeSpec()
	b := testspec.Spec{
		ID:         "TEST-REG-001",
		Name:       "reg",
		Category:   testspec.CategoryRegression,
		Group:      "hints",
		FixtureRef: "regression/TEST-REG-001.json",
		Input:      testspec.Input{Type: testspec.InputText},
	}
	h := newHarness(t, []testspec.Spec{a, b})

	all, err := h.runner.Select(track.Selection{})
	if err != nil || len(all) != 2 {
		t.Fatalf("all: %d %v", len(all), err)
	}
	one, err := h.runner.Select(track.Selection{ID: "TEST-REG-001"})
	if err != nil || len(one) != 1 || one[0].ID != "TEST-REG-001" {
		t.Fatalf("by id: %v %v", one, err)
	}
	grp, err := h.runner.Select(track.Selection{Group: "hints"})
	if err != nil || len(grp) != 1 {
		t.Fatalf("by group: %v %v", grp, err)
	}
	suite, err := h.runner.Select(track.Selection{Suite: "scope"})
	if err != nil || len(suite) != 1 || suite[0].ID != a.ID {
		t.Fatalf("by suite: %v %v", suite, err)
	}
	if _, err := h.runner.Select(track.Selection{ID: "TEST-NOPE-001"}); err == nil {
		t.Fatal("unknown id must error")
	}
}
