package track

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	ErrRunNotFound   = errors.New("run not found")
	ErrNoActiveRun   = errors.New("no active run")
	ErrUnknownTestID = errors.New("test id not in run")
	ErrRunSealed     = errors.New("run already sealed")
)

// Tracker owns run and history persistence under the runs root. All state
// mutation is serialised behind one mutex; runner workers call in
// concurrently.
type Tracker struct {
	Root string

	mu     sync.Mutex
	run    *Run
	sealed bool
	now    func() time.Time
}

func NewTracker(root string) *Tracker {
	return &Tracker{Root: root, now: time.Now}
}

// CreateRun opens a new run over the given spec ids, in catalog order. The
// id is run-YYYY-MM-DD-NNN with NNN counting up within the day.
func (t *Tracker) CreateRun(specIDs []string, sel Selection) (*Run, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.run != nil && !t.sealed {
		return nil, fmt.Errorf("run %s is still open", t.run.ID)
	}
	if err := os.MkdirAll(t.Root, 0o755); err != nil {
		return nil, err
	}
	id, err := t.nextRunID()
	if err != nil {
		return nil, err
	}
	order := make([]string, len(specIDs))
	copy(order, specIDs)
	t.run = &Run{
		ID:        id,
		StartedAt: t.now().UTC(),
		Selection: sel,
		Order:     order,
		Results:   map[string]*TestResult{},
	}
	t.sealed = false
	return t.run, nil
}

func (t *Tracker) nextRunID() (string, error) {
	day := t.now().UTC().Format("2006-01-02")
	prefix := "run-" + day + "-"
	max := 0
	entries, err := os.ReadDir(t.Root)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		seq := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".json")
		if n, err := strconv.Atoi(seq); err == nil && n > max {
			max = n
		}
	}
	return fmt.Sprintf("%s%03d", prefix, max+1), nil
}

// RecordResult stores the result for a test that is part of the open run.
func (t *Tracker) RecordResult(testID string, res *TestResult) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.run == nil {
		return ErrNoActiveRun
	}
	if t.sealed {
		return ErrRunSealed
	}
	if !t.inOrder(testID) {
		return fmt.Errorf("%w: %s", ErrUnknownTestID, testID)
	}
	t.run.Results[testID] = res
	return nil
}

// RecordSemanticResult attaches a judge verdict to an already recorded
// result.
func (t *Tracker) RecordSemanticResult(testID string, sem SemanticResult) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.run == nil {
		return ErrNoActiveRun
	}
	if t.sealed {
		return ErrRunSealed
	}
	res, ok := t.run.Results[testID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTestID, testID)
	}
	res.Semantic = &sem
	return nil
}

// CompleteRun seals the run: recomputes the summary, writes the run JSON
// atomically, and folds each result into the aggregate history.
func (t *Tracker) CompleteRun() (*Run, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.run == nil {
		return nil, ErrNoActiveRun
	}
	if t.sealed {
		return nil, ErrRunSealed
	}
	t.run.CompletedAt = t.now().UTC()
	t.run.ComputeSummary()

	if err := writeJSONAtomic(t.runPath(t.run.ID), t.run); err != nil {
		return nil, err
	}
	if err := t.updateHistory(t.run); err != nil {
		return nil, err
	}
	t.sealed = true
	return t.run, nil
}

func (t *Tracker) inOrder(testID string) bool {
	for _, id := range t.run.Order {
		if id == testID {
			return true
		}
	}
	return false
}

func (t *Tracker) runPath(runID string) string {
	return filepath.Join(t.Root, runID+".json")
}

// LoadRun reads a sealed run document.
func (t *Tracker) LoadRun(runID string) (*Run, error) {
	b, err := os.ReadFile(t.runPath(runID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, err
	}
	var run Run
	if err := json.Unmarshal(b, &run); err != nil {
		return nil, fmt.Errorf("decode %s: %w", runID, err)
	}
	return &run, nil
}

// ListRuns returns all sealed run ids, newest last.
func (t *Tracker) ListRuns() ([]string, error) {
	entries, err := os.ReadDir(t.Root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "run-") && strings.HasSuffix(name, ".json") {
			ids = append(ids, strings.TrimSuffix(name, ".json"))
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// LatestRun loads the most recent sealed run, if any.
func (t *Tracker) LatestRun() (*Run, error) {
	ids, err := t.ListRuns()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrRunNotFound
	}
	return t.LoadRun(ids[len(ids)-1])
}

func writeJSONAtomic(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	tmp := path + ".tmp-" + ulid.Make().String()
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
