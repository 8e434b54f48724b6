package track

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	tr := NewTracker(t.TempDir())
	tr.now = func() time.Time { return time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC) }
	return tr
}

func TestCreateRun_IDSequencesWithinDay(t *testing.T) {
	tr := newTestTracker(t)
	run, err := tr.CreateRun([]string{"TEST-SCOPE-001"}, Selection{})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if run.ID != "run-2026-08-25-001" {
		t.Fatalf("run id: %q", run.ID)
	}
	if err := tr.RecordResult("TEST-SCOPE-001", &TestResult{Status: StatusPassed}); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.CompleteRun(); err != nil {
		t.Fatal(err)
	}

	run2, err := tr.CreateRun([]string{"TEST-SCOPE-001"}, Selection{})
	if err != nil {
		t.Fatal(err)
	}
	if run2.ID != "run-2026-08-25-002" {
		t.Fatalf("second run id: %q", run2.ID)
	}
}

func TestRecordResult_RejectsUnknownSpec(t *testing.T) {
	tr := newTestTracker(t)
	if _, err := tr.CreateRun([]string{"TEST-SCOPE-001"}, Selection{}); err != nil {
		t.Fatal(err)
	}
	err := tr.RecordResult("TEST-NOPE-001", &TestResult{Status: StatusPassed})
	if !errors.Is(err, ErrUnknownTestID) {
		t.Fatalf("expected ErrUnknownTestID, got %v", err)
	}
}

func TestCompleteRun_SealsAndPersists(t *testing.T) {
	tr := newTestTracker(t)
	order := []string{"TEST-SCOPE-001", "TEST-ARC-001", "TEST-REG-003"}
	if _, err := tr.CreateRun(order, Selection{Suite: "all"}); err != nil {
		t.Fatal(err)
	}
	// Record out of order; iteration must stay in catalog order.
	_ = tr.RecordResult("TEST-REG-003", &TestResult{Status: StatusPassed, SemanticRequired: true,
		Semantic: &SemanticResult{Passed: true, Confidence: 91, Reasoning: "hints extracted correctly"}})
	_ = tr.RecordResult("TEST-SCOPE-001", &TestResult{Status: StatusPassed})
	_ = tr.RecordResult("TEST-ARC-001", &TestResult{Status: StatusFailed})

	run, err := tr.CompleteRun()
	if err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}
	if run.Summary.Total != 3 || run.Summary.Passed != 2 || run.Summary.Failed != 1 {
		t.Fatalf("summary: %+v", run.Summary)
	}
	if run.Summary.SemanticRequired != 1 || run.Summary.SemanticCompleted != 1 {
		t.Fatalf("semantic counters: %+v", run.Summary)
	}

	loaded, err := tr.LoadRun(run.ID)
	if err != nil {
		t.Fatalf("LoadRun: %v", err)
	}
	if len(loaded.Order) != 3 || loaded.Order[0] != "TEST-SCOPE-001" || loaded.Order[2] != "TEST-REG-003" {
		t.Fatalf("order: %v", loaded.Order)
	}
	if loaded.Results["TEST-ARC-001"].Status != StatusFailed {
		t.Fatalf("loaded result: %+v", loaded.Results["TEST-ARC-001"])
	}

	// Sealed: no further writes.
	if err := tr.RecordResult("TEST-SCOPE-001", &TestResult{Status: StatusPassed}); !errors.Is(err, ErrRunSealed) {
		t.Fatalf("expected ErrRunSealed, got %v", err)
	}
}

func TestCompleteRun_UnavailableJudgeNotCompleted(t *testing.T) {
	tr := newTestTracker(t)
	if _, err := tr.CreateRun([]string{"TEST-PAT-001"}, Selection{}); err != nil {
		t.Fatal(err)
	}
	_ = tr.RecordResult("TEST-PAT-001", &TestResult{Status: StatusPassed, SemanticRequired: true})
	_ = tr.RecordSemanticResult("TEST-PAT-001", SemanticResult{Passed: false, Confidence: 0, Reasoning: "judge unavailable"})
	run, err := tr.CompleteRun()
	if err != nil {
		t.Fatal(err)
	}
	if run.Summary.SemanticRequired != 1 || run.Summary.SemanticCompleted != 0 {
		t.Fatalf("semantic counters: %+v", run.Summary)
	}
}

func TestListRuns_AndLatest(t *testing.T) {
	tr := newTestTracker(t)
	for i := 0; i < 3; i++ {
		if _, err := tr.CreateRun([]string{"TEST-SCOPE-001"}, Selection{}); err != nil {
			t.Fatal(err)
		}
		_ = tr.RecordResult("TEST-SCOPE-001", &TestResult{Status: StatusPassed})
		if _, err := tr.CompleteRun(); err != nil {
			t.Fatal(err)
		}
	}
	ids, err := tr.ListRuns()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 || ids[2] != "run-2026-08-25-003" {
		t.Fatalf("ids: %v", ids)
	}
	latest, err := tr.LatestRun()
	if err != nil {
		t.Fatal(err)
	}
	if latest.ID != "run-2026-08-25-003" {
		t.Fatalf("latest: %s", latest.ID)
	}
}

func TestLoadRun_Missing(t *testing.T) {
	tr := newTestTracker(t)
	if _, err := tr.LoadRun("run-2026-01-01-001"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestCompleteRun_NoTempFilesLeftBehind(t *testing.T) {
	tr := newTestTracker(t)
	if _, err := tr.CreateRun([]string{"TEST-SCOPE-001"}, Selection{}); err != nil {
		t.Fatal(err)
	}
	_ = tr.RecordResult("TEST-SCOPE-001", &TestResult{Status: StatusPassed})
	if _, err := tr.CompleteRun(); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(tr.Root)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
	if _, err := os.Stat(filepath.Join(tr.Root, historyFile)); err != nil {
		t.Fatalf("history not written: %v", err)
	}
}
