package track

import (
	"fmt"
	"strings"
	"time"

	"github.com/edovery/ingest/internal/validate"
)

// Status is the terminal state of one test within a run.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	StatusTimeout Status = "timeout"
	StatusError   Status = "error"
	// StatusCancelled is a skipped subvariant used when a whole-run cancel
	// interrupts an in-flight spec.
	StatusCancelled Status = "cancelled"
)

func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "passed", "pass":
		return StatusPassed, nil
	case "failed", "fail":
		return StatusFailed, nil
	case "skipped", "skip":
		return StatusSkipped, nil
	case "timeout":
		return StatusTimeout, nil
	case "error":
		return StatusError, nil
	case "cancelled", "canceled":
		return StatusCancelled, nil
	default:
		return "", fmt.Errorf("invalid status: %q", s)
	}
}

// CheckpointResult is the judge's verdict on one checkpoint statement.
type CheckpointResult struct {
	Statement string `json:"statement"`
	Passed    bool   `json:"passed"`
	Note      string `json:"note,omitempty"`
}

// SemanticResult is the LLM judge's verdict for one test.
type SemanticResult struct {
	Passed      bool               `json:"passed"`
	Confidence  int                `json:"confidence"`
	Reasoning   string             `json:"reasoning"`
	Checkpoints []CheckpointResult `json:"checkpoints,omitempty"`
}

// TestResult records everything observed for one spec in one run.
type TestResult struct {
	Status     Status `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	Reason     string `json:"reason,omitempty"`

	Pipeline    string            `json:"pipeline,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Frontmatter map[string]string `json:"frontmatter,omitempty"`
	VaultPath   string            `json:"vault_path,omitempty"`
	ArchivePath string            `json:"archive_path,omitempty"`
	Notify      map[string]string `json:"notification,omitempty"`

	Checks           []validate.Check `json:"checks,omitempty"`
	SemanticRequired bool             `json:"semantic_required,omitempty"`
	Semantic         *SemanticResult  `json:"semantic,omitempty"`
}

// Selection describes which specs a run covered.
type Selection struct {
	Suite string `json:"suite,omitempty"`
	ID    string `json:"id,omitempty"`
	Group string `json:"group,omitempty"`
}

func (s Selection) String() string {
	switch {
	case s.ID != "":
		return "id=" + s.ID
	case s.Suite != "":
		return "suite=" + s.Suite
	case s.Group != "":
		return "group=" + s.Group
	default:
		return "all"
	}
}

// Summary is the run's counter block.
type Summary struct {
	Total             int `json:"total"`
	Passed            int `json:"passed"`
	Failed            int `json:"failed"`
	Skipped           int `json:"skipped"`
	SemanticRequired  int `json:"semantic_required"`
	SemanticCompleted int `json:"semantic_completed"`
}

// Run is the sealed record of one runner invocation. Results iterate in
// Order (spec catalog order) regardless of completion order.
type Run struct {
	ID          string                 `json:"id"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt time.Time              `json:"completed_at,omitzero"`
	Selection   Selection              `json:"selection"`
	Order       []string               `json:"order"`
	Results     map[string]*TestResult `json:"results"`
	Summary     Summary                `json:"summary"`
}

// ComputeSummary recounts the summary block from the recorded results.
func (r *Run) ComputeSummary() {
	s := Summary{Total: len(r.Order)}
	for _, id := range r.Order {
		res, ok := r.Results[id]
		if !ok {
			continue
		}
		switch res.Status {
		case StatusPassed:
			s.Passed++
		case StatusFailed, StatusTimeout, StatusError:
			s.Failed++
		case StatusSkipped, StatusCancelled:
			s.Skipped++
		}
		if res.SemanticRequired {
			s.SemanticRequired++
		}
		if res.Semantic != nil && res.Semantic.Reasoning != judgeUnavailableReason {
			s.SemanticCompleted++
		}
	}
	r.Summary = s
}

// judgeUnavailableReason mirrors the judge driver's offline sentinel; an
// unavailable judge does not count as a completed semantic evaluation.
const judgeUnavailableReason = "judge unavailable"
