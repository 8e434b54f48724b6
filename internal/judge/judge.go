package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/edovery/ingest/internal/testspec"
	"github.com/edovery/ingest/internal/track"
)

const (
	// UnavailableReason is recorded when the judge cannot be reached.
	// Deterministic checks decide the test; the judge is advisory.
	UnavailableReason = "judge unavailable"

	defaultModel   = "claude-sonnet-4-5"
	defaultTimeout = 60 * time.Second
	apiVersion     = "2023-06-01"
)

// Driver dispatches Claude-as-judge prompts and parses the verdict. It is
// side-effect free apart from the network call.
type Driver struct {
	Endpoint   string
	APIKey     string
	Model      string
	HTTPClient *http.Client
	Log        *zap.Logger
}

func NewDriver(endpoint, apiKey string, log *zap.Logger) *Driver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Driver{
		Endpoint:   strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		APIKey:     strings.TrimSpace(apiKey),
		Model:      defaultModel,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
		Log:        log,
	}
}

// Available reports whether the driver is configured at all. An
// unconfigured driver short-circuits to the unavailable verdict without a
// network call.
func (d *Driver) Available() bool {
	return d != nil && d.Endpoint != "" && d.APIKey != ""
}

// Judge scores the vault file against the semantic sub-spec. It never
// returns an error for judge unreachability; the unavailable verdict is the
// contract for offline operation.
func (d *Driver) Judge(ctx context.Context, vaultPath string, sub testspec.SemanticSpec) track.SemanticResult {
	if !d.Available() {
		return unavailable()
	}
	content, err := os.ReadFile(vaultPath)
	if err != nil {
		return track.SemanticResult{
			Passed:     false,
			Confidence: 0,
			Reasoning:  fmt.Sprintf("target file unreadable: %v", err),
		}
	}

	verdict, err := d.dispatch(ctx, buildPrompt(string(content), sub))
	if err != nil {
		d.Log.Warn("judge call failed", zap.Error(err))
		return unavailable()
	}

	threshold := sub.EffectiveThreshold()
	res := track.SemanticResult{
		Passed:     verdict.Confidence >= threshold,
		Confidence: verdict.Confidence,
		Reasoning:  verdict.Reasoning,
	}
	for _, cp := range verdict.Checkpoints {
		res.Checkpoints = append(res.Checkpoints, track.CheckpointResult{
			Statement: cp.Statement,
			Passed:    cp.Passed,
			Note:      cp.Note,
		})
	}
	return res
}

func unavailable() track.SemanticResult {
	return track.SemanticResult{Passed: false, Confidence: 0, Reasoning: UnavailableReason}
}

type verdict struct {
	Confidence  int    `json:"confidence"`
	Reasoning   string `json:"reasoning"`
	Checkpoints []struct {
		Statement string `json:"statement"`
		Passed    bool   `json:"passed"`
		Note      string `json:"note,omitempty"`
	} `json:"checkpoints,omitempty"`
}

func (d *Driver) dispatch(ctx context.Context, prompt string) (*verdict, error) {
	body := map[string]any{
		"model":      d.Model,
		"max_tokens": 1024,
		"messages": []map[string]any{
			{"role": "user", "content": prompt},
		},
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Endpoint+"/v1/messages", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", d.APIKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	rawBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("judge request failed (status=%d): %s", resp.StatusCode, strings.TrimSpace(string(rawBytes)))
	}

	var raw struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(rawBytes, &raw); err != nil {
		return nil, fmt.Errorf("decode judge response: %w", err)
	}
	var text string
	for _, c := range raw.Content {
		if c.Type == "text" {
			text += c.Text
		}
	}
	return parseVerdict(text)
}

// parseVerdict extracts the JSON verdict object from the model's reply,
// tolerating surrounding prose or a fenced code block.
func parseVerdict(text string) (*verdict, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON verdict in judge reply: %q", truncate(text, 160))
	}
	var v verdict
	if err := json.Unmarshal([]byte(text[start:end+1]), &v); err != nil {
		return nil, fmt.Errorf("decode judge verdict: %w", err)
	}
	if v.Confidence < 0 || v.Confidence > 100 {
		return nil, fmt.Errorf("judge confidence out of range: %d", v.Confidence)
	}
	return &v, nil
}

func buildPrompt(content string, sub testspec.SemanticSpec) string {
	var sb strings.Builder
	sb.WriteString("You are reviewing the output of an automated note-ingestion pipeline.\n\n")
	sb.WriteString("Goal: ")
	sb.WriteString(sub.Description)
	sb.WriteString("\n\nVerify each checkpoint against the file content:\n")
	for i, cp := range sub.Checkpoints {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, cp)
	}
	sb.WriteString("\nFile content:\n---\n")
	sb.WriteString(content)
	sb.WriteString("\n---\n\n")
	sb.WriteString("Reply with a single JSON object, no prose: ")
	sb.WriteString(`{"confidence": <0-100>, "reasoning": "<one or two sentences>", ` +
		`"checkpoints": [{"statement": "...", "passed": true, "note": "..."}]}`)
	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Back up to a rune boundary so the cut never emits invalid UTF-8.
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}
