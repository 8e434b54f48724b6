package validate

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/edovery/ingest/internal/testspec"
)

// Check is one deterministic validation outcome. Reasoning always says what
// was examined and why the check decided as it did, so reports are readable
// without re-running anything.
type Check struct {
	Name      string `json:"name"`
	Passed    bool   `json:"passed"`
	Expected  string `json:"expected"`
	Actual    string `json:"actual"`
	Reasoning string `json:"reasoning"`
}

// Actuals is everything the runner observed for one spec.
type Actuals struct {
	VaultPath   string            `json:"vault_path,omitempty"`
	FileName    string            `json:"file_name,omitempty"`
	Frontmatter map[string]string `json:"frontmatter,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Content     string            `json:"content,omitempty"`
	Verbose     string            `json:"verbose,omitempty"`
	Pipeline    string            `json:"pipeline,omitempty"`
	Severity    string            `json:"severity,omitempty"`
	Notify      map[string]string `json:"notify,omitempty"`
	ArchivePath string            `json:"archive_path,omitempty"`
	ArchiveOK   bool              `json:"archive_ok,omitempty"`
}

// Evaluate runs every declared facet and never short-circuits: the report
// is complete even when the first check fails. The vault-file check is
// always emitted; everything else is emitted iff its facet is declared.
func Evaluate(exp testspec.Expectations, act Actuals) []Check {
	var checks []Check
	add := func(c Check) { checks = append(checks, c) }

	add(checkVaultFile(act))

	if exp.Pipeline != "" {
		add(checkPipeline(exp.Pipeline, act.Pipeline))
	}
	for _, tag := range exp.RequiredTags {
		add(checkTag(tag, act.Tags, true))
	}
	for _, tag := range exp.ForbiddenTags {
		add(checkTag(tag, act.Tags, false))
	}
	for _, key := range sortedKeys(exp.Frontmatter) {
		add(checkFrontmatter(key, exp.Frontmatter[key], act.Frontmatter))
	}
	if exp.FilenamePattern != "" {
		add(checkPattern("filename_pattern", exp.FilenamePattern, act.FileName, "filename"))
	}
	if exp.FileDate != "" {
		add(checkFileDate(exp.FileDate, act.FileName))
	}
	for _, sub := range exp.ContentContains {
		add(checkSubstring("content_contains:"+sub, sub, act.Content, "vault file content", true))
	}
	for _, sub := range exp.ContentAbsent {
		add(checkSubstring("content_absent:"+sub, sub, act.Content, "vault file content", false))
	}
	for _, sub := range exp.VerboseContains {
		add(checkSubstring("verbose_contains:"+sub, sub, act.Verbose, "verbose output", true))
	}
	if exp.ArchivePattern != "" {
		add(checkPattern("archive_filename_pattern", exp.ArchivePattern, filepath.Base(act.ArchivePath), "archive filename"))
	}
	if exp.ArchiveSynced {
		add(checkArchiveExists(act))
	}
	if exp.Severity != "" {
		add(checkSeverity(exp.Severity, act.Severity))
	}
	for _, field := range exp.NotifyFields {
		add(checkNotifyField(field, act.Notify))
	}
	return checks
}

// FacetCount returns the number of checks Evaluate will emit for exp. The
// implicit vault-file facet counts as one.
func FacetCount(exp testspec.Expectations) int {
	n := 1
	if exp.Pipeline != "" {
		n++
	}
	n += len(exp.RequiredTags) + len(exp.ForbiddenTags) + len(exp.Frontmatter)
	if exp.FilenamePattern != "" {
		n++
	}
	if exp.FileDate != "" {
		n++
	}
	n += len(exp.ContentContains) + len(exp.ContentAbsent) + len(exp.VerboseContains)
	if exp.ArchivePattern != "" {
		n++
	}
	if exp.ArchiveSynced {
		n++
	}
	if exp.Severity != "" {
		n++
	}
	n += len(exp.NotifyFields)
	return n
}

// AllPassed reports whether every check passed. A test passes iff this is
// true for its deterministic checks.
func AllPassed(checks []Check) bool {
	for _, c := range checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

func checkVaultFile(act Actuals) Check {
	passed := act.VaultPath != ""
	reasoning := fmt.Sprintf("Examined pipeline output — vault file created at %s.", act.VaultPath)
	if !passed {
		reasoning = "Examined pipeline output — no vault file was reported or found."
	}
	return Check{
		Name:      "vault_file_created",
		Passed:    passed,
		Expected:  "vault file exists",
		Actual:    act.VaultPath,
		Reasoning: reasoning,
	}
}

func checkPipeline(want, got string) Check {
	passed := strings.EqualFold(strings.TrimSpace(want), strings.TrimSpace(got))
	verdict := "matched"
	if !passed {
		verdict = fmt.Sprintf("found %q instead", got)
	}
	return Check{
		Name:      "pipeline:" + want,
		Passed:    passed,
		Expected:  want,
		Actual:    got,
		Reasoning: fmt.Sprintf("Examined notification pipeline field — expected %q, %s.", want, verdict),
	}
}

func checkTag(tag string, tags []string, wantPresent bool) Check {
	present := false
	for _, t := range tags {
		if strings.EqualFold(t, tag) {
			present = true
			break
		}
	}
	name := "tag_present:" + tag
	expected := "tag present"
	if !wantPresent {
		name = "tag_absent:" + tag
		expected = "tag absent"
	}
	passed := present == wantPresent
	var reasoning string
	switch {
	case wantPresent && present:
		reasoning = fmt.Sprintf("Examined frontmatter tags [%s] — found expected tag %s.", strings.Join(tags, ", "), tag)
	case wantPresent && !present:
		reasoning = fmt.Sprintf("Examined frontmatter tags [%s] — expected tag %s is missing.", strings.Join(tags, ", "), tag)
	case !wantPresent && !present:
		reasoning = fmt.Sprintf("Examined frontmatter tags [%s] — forbidden tag %s is absent.", strings.Join(tags, ", "), tag)
	default:
		reasoning = fmt.Sprintf("Examined frontmatter tags [%s] — forbidden tag %s is present.", strings.Join(tags, ", "), tag)
	}
	return Check{
		Name:      name,
		Passed:    passed,
		Expected:  expected,
		Actual:    strings.Join(tags, ", "),
		Reasoning: reasoning,
	}
}

func checkFrontmatter(key, want string, fm map[string]string) Check {
	got, ok := fm[key]
	passed := ok && strings.TrimSpace(got) == strings.TrimSpace(want)
	verdict := fmt.Sprintf("value %q matched", got)
	if !ok {
		verdict = "key is missing"
	} else if !passed {
		verdict = fmt.Sprintf("found %q instead", got)
	}
	return Check{
		Name:      "frontmatter:" + key,
		Passed:    passed,
		Expected:  want,
		Actual:    got,
		Reasoning: fmt.Sprintf("Examined frontmatter key %s — expected %q, %s.", key, want, verdict),
	}
}

// checkPattern applies the anchoring rule: a pattern carrying ^ or $ is
// used as written; otherwise it matches as a substring regex.
func checkPattern(name, pattern, value, what string) Check {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Check{
			Name:      name,
			Passed:    false,
			Expected:  pattern,
			Actual:    value,
			Reasoning: fmt.Sprintf("Examined %s — pattern %q does not compile: %v.", what, pattern, err),
		}
	}
	passed := re.MatchString(value)
	verdict := "matched"
	if !passed {
		verdict = "did not match"
	}
	return Check{
		Name:      name,
		Passed:    passed,
		Expected:  pattern,
		Actual:    value,
		Reasoning: fmt.Sprintf("Examined %s %q — pattern %q %s.", what, value, pattern, verdict),
	}
}

func checkFileDate(date, filename string) Check {
	passed := strings.Contains(filename, date)
	verdict := "found it"
	if !passed {
		verdict = "did not find it"
	}
	return Check{
		Name:      "filename_date:" + date,
		Passed:    passed,
		Expected:  date,
		Actual:    filename,
		Reasoning: fmt.Sprintf("Examined filename %q for target date %s — %s.", filename, date, verdict),
	}
}

func checkSubstring(name, sub, haystack, what string, wantPresent bool) Check {
	present := strings.Contains(strings.ToLower(haystack), strings.ToLower(sub))
	passed := present == wantPresent
	expected := fmt.Sprintf("contains %q", sub)
	if !wantPresent {
		expected = fmt.Sprintf("does not contain %q", sub)
	}
	var verdict string
	switch {
	case wantPresent && present:
		verdict = "found it"
	case wantPresent && !present:
		verdict = "did not find it"
	case !wantPresent && !present:
		verdict = "confirmed absent"
	default:
		verdict = "found it unexpectedly"
	}
	return Check{
		Name:      name,
		Passed:    passed,
		Expected:  expected,
		Actual:    truncate(haystack, 120),
		Reasoning: fmt.Sprintf("Examined %s for %q (case-insensitive) — %s.", what, sub, verdict),
	}
}

func checkArchiveExists(act Actuals) Check {
	passed := act.ArchiveOK
	verdict := fmt.Sprintf("file exists at %s", act.ArchivePath)
	if !passed {
		if act.ArchivePath == "" {
			verdict = "no archive path was reported"
		} else {
			verdict = fmt.Sprintf("file missing at %s", act.ArchivePath)
		}
	}
	return Check{
		Name:      "archive_exists",
		Passed:    passed,
		Expected:  "archive copy exists",
		Actual:    act.ArchivePath,
		Reasoning: fmt.Sprintf("Examined archive collaborator — %s.", verdict),
	}
}

func checkSeverity(want, got string) Check {
	passed := strings.EqualFold(strings.TrimSpace(want), strings.TrimSpace(got))
	verdict := "matched"
	if !passed {
		verdict = fmt.Sprintf("found %q instead", got)
	}
	return Check{
		Name:      "events_severity",
		Passed:    passed,
		Expected:  want,
		Actual:    got,
		Reasoning: fmt.Sprintf("Examined notification severity — expected %q, %s.", want, verdict),
	}
}

func checkNotifyField(field string, notify map[string]string) Check {
	got, ok := notify[field]
	verdict := fmt.Sprintf("present with value %q", got)
	if !ok {
		verdict = "missing"
	}
	return Check{
		Name:      "events_has_field:" + field,
		Passed:    ok,
		Expected:  "field present",
		Actual:    got,
		Reasoning: fmt.Sprintf("Examined notification fields for %q — %s.", field, verdict),
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Stable check order keeps reports diffable across runs.
	sort.Strings(keys)
	return keys
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
