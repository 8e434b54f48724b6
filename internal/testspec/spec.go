package testspec

import (
	"fmt"
	"regexp"
	"strings"
)

// Category partitions the catalog.
type Category string

const (
	CategoryScope       Category = "scope"
	CategoryDate        Category = "date"
	CategoryArchive     Category = "archive"
	CategoryRegression  Category = "regression"
	CategoryCLI         Category = "cli"
	CategoryAcceptance  Category = "acceptance"
	CategoryIntegration Category = "integration"
)

func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "scope":
		return CategoryScope, nil
	case "date":
		return CategoryDate, nil
	case "archive":
		return CategoryArchive, nil
	case "regression":
		return CategoryRegression, nil
	case "cli":
		return CategoryCLI, nil
	case "acceptance":
		return CategoryAcceptance, nil
	case "integration":
		return CategoryIntegration, nil
	default:
		return "", fmt.Errorf("invalid category: %q", s)
	}
}

// InputType is the kind of upstream message a spec is driven by.
type InputType string

const (
	InputText     InputType = "text"
	InputURL      InputType = "url"
	InputPhoto    InputType = "photo"
	InputDocument InputType = "document"
	InputVoice    InputType = "voice"
	InputAudio    InputType = "audio"
)

// IsMedia reports whether the input carries a binary payload.
func (t InputType) IsMedia() bool {
	switch t {
	case InputPhoto, InputDocument, InputVoice, InputAudio:
		return true
	default:
		return false
	}
}

// IsSpoken reports whether the test identifier arrives via transcription
// rather than a caption, which changes how the runner correlates.
func (t InputType) IsSpoken() bool {
	return t == InputVoice || t == InputAudio
}

// Input describes what the spec feeds the pipeline.
type Input struct {
	Type  InputType
	Text  string
	Asset string // relative to <fixtureRoot>/assets
}

// SemanticSpec is the optional LLM-judge contract.
type SemanticSpec struct {
	Description string
	Checkpoints []string
	TargetClass string // "raw" or "derived"
	Threshold   int    // confidence 0-100; 0 means DefaultThreshold
}

// DefaultThreshold is the judge confidence cutoff when a spec does not set
// one.
const DefaultThreshold = 80

func (s *SemanticSpec) EffectiveThreshold() int {
	if s == nil || s.Threshold <= 0 {
		return DefaultThreshold
	}
	return s.Threshold
}

// Expectations is a closed record of optional validation facets. The
// validation engine dispatches on which facets are present.
type Expectations struct {
	Pipeline        string
	RequiredTags    []string
	ForbiddenTags   []string
	Frontmatter     map[string]string
	FilenamePattern string
	ContentContains []string
	ContentAbsent   []string
	VerboseContains []string
	ArchivePattern  string
	ArchiveSynced   bool
	Severity        string
	NotifyFields    []string
	FileDate        string // YYYY-MM-DD
	Semantic        *SemanticSpec
}

// Spec is the immutable description of one integration test.
type Spec struct {
	ID         string
	Name       string
	Category   Category
	Group      string
	FixtureRef string // category-qualified, e.g. "scope/TEST-SCOPE-001.json"
	Input      Input
	Expect     Expectations
	DocRef     string
	SkipReason string
	// TimeoutMS overrides the default per-spec deadline. Voice and audio
	// specs may raise it up to 180000.
	TimeoutMS int
}

var idPattern = regexp.MustCompile(`^TEST-[A-Z]+-[0-9]{3}$`)

func (s *Spec) validate() error {
	if !idPattern.MatchString(s.ID) {
		return fmt.Errorf("spec id %q does not match TEST-XXX-NNN", s.ID)
	}
	if _, err := ParseCategory(string(s.Category)); err != nil {
		return fmt.Errorf("spec %s: %w", s.ID, err)
	}
	first, _, ok := strings.Cut(s.FixtureRef, "/")
	if !ok || first != string(s.Category) {
		return fmt.Errorf("spec %s: fixture ref %q must start with category %q", s.ID, s.FixtureRef, s.Category)
	}
	return nil
}

// Marker returns the bracketed identifier used for correlation.
func (s *Spec) Marker() string {
	return "[" + s.ID + "]"
}
