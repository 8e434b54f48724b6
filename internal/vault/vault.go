package vault

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// ErrNoteNotFound is returned when the requested vault file does not exist.
var ErrNoteNotFound = errors.New("vault file not found")

// Note is a parsed vault markdown file: YAML frontmatter plus body.
type Note struct {
	Path        string
	Frontmatter map[string]string
	Tags        []string
	Body        string
}

// ReadNote reads and parses a vault file. Frontmatter keys are flattened to
// trimmed strings; the tags list is pulled out separately.
func ReadNote(path string) (*Note, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoteNotFound, path)
		}
		return nil, err
	}
	fm, body, err := splitFrontmatter(string(b))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	note := &Note{
		Path:        path,
		Frontmatter: map[string]string{},
		Body:        body,
	}
	for k, v := range fm {
		if k == "tags" {
			note.Tags = toTagList(v)
			continue
		}
		note.Frontmatter[k] = strings.TrimSpace(scalarString(v))
	}
	return note, nil
}

// splitFrontmatter separates a leading `---` YAML block from the body.
// A file without frontmatter parses as body only.
func splitFrontmatter(content string) (map[string]any, string, error) {
	if !strings.HasPrefix(content, "---\n") && content != "---" {
		return nil, content, nil
	}
	rest := strings.TrimPrefix(content, "---\n")
	idx := strings.Index(rest, "\n---")
	if idx < 0 {
		return nil, content, nil
	}
	head := rest[:idx]
	body := rest[idx+len("\n---"):]
	body = strings.TrimPrefix(body, "\n")

	var fm map[string]any
	if err := yaml.Unmarshal([]byte(head), &fm); err != nil {
		return nil, "", err
	}
	return fm, body, nil
}

func toTagList(v any) []string {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s := strings.TrimSpace(scalarString(item)); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		// Inline comma form: "a, b, c".
		parts := strings.Split(t, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// HasTag reports case-insensitive tag membership.
func (n *Note) HasTag(tag string) bool {
	for _, t := range n.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// SearchHit is one matching vault file for a content query.
type SearchHit struct {
	Path string
	Line string
}

// Search scans every markdown file under root for a case-insensitive
// substring and returns the first matching line per file.
func Search(root, query string) ([]SearchHit, error) {
	paths, err := Markdown(root)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(query)
	var hits []SearchHit
	for _, rel := range paths {
		full := filepath.Join(root, rel)
		b, err := os.ReadFile(full)
		if err != nil {
			continue
		}
		for _, line := range strings.Split(string(b), "\n") {
			if strings.Contains(strings.ToLower(line), needle) {
				hits = append(hits, SearchHit{Path: rel, Line: strings.TrimSpace(line)})
				break
			}
		}
	}
	return hits, nil
}

// Markdown lists all markdown files under root, vault-relative.
func Markdown(root string) ([]string, error) {
	fsys := os.DirFS(root)
	paths, err := doublestar.Glob(fsys, "**/*.md")
	if err != nil {
		return nil, err
	}
	return paths, nil
}

// ListTestArtifacts lists vault files following the harness filename
// convention: a basename starting with "[TEST-". Operators grep and clean
// these by hand.
func ListTestArtifacts(root string) ([]string, error) {
	paths, err := Markdown(root)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, p := range paths {
		if strings.HasPrefix(filepath.Base(p), "[TEST-") {
			out = append(out, p)
		}
	}
	return out, nil
}

// Resolve joins a vault-relative output path, rejecting escapes above root.
func Resolve(root, rel string) (string, error) {
	clean := filepath.Clean(filepath.Join(root, filepath.FromSlash(rel)))
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	absPath, err := filepath.Abs(clean)
	if err != nil {
		return "", err
	}
	if absPath != absRoot && !strings.HasPrefix(absPath, absRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes vault root: %s", rel)
	}
	return clean, nil
}
