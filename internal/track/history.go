package track

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	historyFile = "test-history.json"
	// historyCap bounds per-test retention; oldest entries fall off.
	historyCap = 50
	// trendWindow is how many recent results the trend classifier sees.
	trendWindow = 10
	// trendMinResults is the floor below which the classifier declines to
	// label a series.
	trendMinResults = 4
	// flakyFlipThreshold: more than this many pass/fail alternations within
	// the window reads as flaky.
	flakyFlipThreshold = 3
)

type Trend string

const (
	TrendStable           Trend = "stable"
	TrendImproving        Trend = "improving"
	TrendDegrading        Trend = "degrading"
	TrendFlaky            Trend = "flaky"
	TrendInsufficientData Trend = "insufficient-data"
)

// HistoryEntry is one compact per-run outcome for a test.
type HistoryEntry struct {
	RunID      string    `json:"run_id"`
	Timestamp  time.Time `json:"timestamp"`
	Status     Status    `json:"status"`
	DurationMS int64     `json:"duration_ms"`
}

// TestHistory is the rolling series plus derived fields for one test.
type TestHistory struct {
	Entries       []HistoryEntry `json:"entries"`
	PassRate      float64        `json:"pass_rate"`
	AvgDurationMS int64          `json:"avg_duration_ms"`
	Trend         Trend          `json:"trend"`
}

// History is the aggregate document persisted as test-history.json.
type History struct {
	UpdatedAt time.Time               `json:"updated_at"`
	Tests     map[string]*TestHistory `json:"tests"`
}

func (t *Tracker) historyPath() string {
	return filepath.Join(t.Root, historyFile)
}

// LoadHistory reads the aggregate history; a missing file is an empty
// history.
func (t *Tracker) LoadHistory() (*History, error) {
	b, err := os.ReadFile(t.historyPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &History{Tests: map[string]*TestHistory{}}, nil
		}
		return nil, err
	}
	var h History
	if err := json.Unmarshal(b, &h); err != nil {
		return nil, fmt.Errorf("decode %s: %w", t.historyPath(), err)
	}
	if h.Tests == nil {
		h.Tests = map[string]*TestHistory{}
	}
	return &h, nil
}

// HistoryFor returns the series for one test id, or nil when it has never
// run.
func (t *Tracker) HistoryFor(testID string) (*TestHistory, error) {
	h, err := t.LoadHistory()
	if err != nil {
		return nil, err
	}
	return h.Tests[testID], nil
}

// updateHistory appends one entry per result and recomputes the derived
// fields. Called under the tracker mutex from CompleteRun.
func (t *Tracker) updateHistory(run *Run) error {
	h, err := t.LoadHistory()
	if err != nil {
		return err
	}
	for _, id := range run.Order {
		res, ok := run.Results[id]
		if !ok {
			continue
		}
		th := h.Tests[id]
		if th == nil {
			th = &TestHistory{}
			h.Tests[id] = th
		}
		th.Entries = append(th.Entries, HistoryEntry{
			RunID:      run.ID,
			Timestamp:  run.CompletedAt,
			Status:     res.Status,
			DurationMS: res.DurationMS,
		})
		if len(th.Entries) > historyCap {
			th.Entries = th.Entries[len(th.Entries)-historyCap:]
		}
		th.recompute()
	}
	h.UpdatedAt = t.now().UTC()
	return writeJSONAtomic(t.historyPath(), h)
}

func (th *TestHistory) recompute() {
	executed := 0
	passed := 0
	var totalDur int64
	for _, e := range th.Entries {
		if e.Status == StatusSkipped || e.Status == StatusCancelled {
			continue
		}
		executed++
		totalDur += e.DurationMS
		if e.Status == StatusPassed {
			passed++
		}
	}
	if executed > 0 {
		th.PassRate = float64(passed) / float64(executed)
		th.AvgDurationMS = totalDur / int64(executed)
	} else {
		th.PassRate = 0
		th.AvgDurationMS = 0
	}
	th.Trend = classifyTrend(th.Entries)
}

// classifyTrend labels the last trendWindow executed results. Flaky wins
// over improving/degrading; a uniform window is stable.
func classifyTrend(entries []HistoryEntry) Trend {
	var window []bool
	for _, e := range entries {
		if e.Status == StatusSkipped || e.Status == StatusCancelled {
			continue
		}
		window = append(window, e.Status == StatusPassed)
	}
	if len(window) > trendWindow {
		window = window[len(window)-trendWindow:]
	}
	if len(window) < trendMinResults {
		return TrendInsufficientData
	}

	flips := 0
	uniform := true
	for i := 1; i < len(window); i++ {
		if window[i] != window[i-1] {
			flips++
			uniform = false
		}
	}
	if uniform {
		return TrendStable
	}
	if flips > flakyFlipThreshold {
		return TrendFlaky
	}

	half := len(window) / 2
	early := passRate(window[:half])
	recent := passRate(window[half:])
	switch {
	case recent > early:
		return TrendImproving
	case recent < early:
		return TrendDegrading
	default:
		return TrendStable
	}
}

func passRate(results []bool) float64 {
	if len(results) == 0 {
		return 0
	}
	n := 0
	for _, ok := range results {
		if ok {
			n++
		}
	}
	return float64(n) / float64(len(results))
}
