package fixture

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrNotFound is returned when no category holds a fixture for the test id.
var ErrNotFound = errors.New("fixture not found")

// fixtureSchema is the shape every committed fixture document must satisfy.
// Validity beyond shape (numeric message id, redaction, age) is checked by
// IsValid.
const fixtureSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["meta", "message"],
  "properties": {
    "meta": {
      "type": "object",
      "required": ["test_id", "captured_at", "captured_by"],
      "properties": {
        "test_id": {"type": "string", "pattern": "^TEST-[A-Z]+-[0-9]{3}$"},
        "captured_at": {"type": "string"},
        "captured_by": {"type": "string", "minLength": 1},
        "description": {"type": "string"},
        "synthetic": {"type": "boolean"},
        "capture_id": {"type": "string"},
        "asset_hash": {"type": "string"}
      }
    },
    "message": {"type": "object"}
  }
}`

// Store is the filesystem of per-test fixtures grouped by category:
// <root>/<category>/<testID>.json, with local binaries under <root>/assets/
// and downloaded media under <root>/media/.
type Store struct {
	Root string

	// chatID rehydrates the committed placeholder on load. Empty leaves the
	// synthetic sentinel in place so documents still parse.
	chatID string

	schema *jsonschema.Schema
	now    func() time.Time
}

func NewStore(root, chatID string) (*Store, error) {
	schema, err := jsonschema.CompileString("fixture.json", fixtureSchema)
	if err != nil {
		return nil, fmt.Errorf("compile fixture schema: %w", err)
	}
	return &Store{Root: root, chatID: chatID, schema: schema, now: time.Now}, nil
}

// Find searches every category sub-root for the test id. The category the
// fixture was found under is returned alongside it.
func (s *Store) Find(testID string) (*Fixture, string, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", fmt.Errorf("%w: %s", ErrNotFound, testID)
		}
		return nil, "", err
	}
	for _, e := range entries {
		if !e.IsDir() || e.Name() == "assets" || e.Name() == "media" {
			continue
		}
		path := filepath.Join(s.Root, e.Name(), testID+".json")
		fx, err := s.load(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, "", err
		}
		return fx, e.Name(), nil
	}
	return nil, "", fmt.Errorf("%w: %s", ErrNotFound, testID)
}

func (s *Store) load(path string) (*Fixture, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	// Rehydrate the committed placeholder before parsing so the chat id is
	// usable downstream. Without a configured chat id a synthetic sentinel
	// keeps the JSON parseable.
	target := s.chatID
	if target == "" {
		target = "0"
	}
	b = bytes.ReplaceAll(b, []byte(`"`+PlaceholderChatID+`"`), []byte(`"`+target+`"`))

	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := s.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("fixture %s fails schema: %w", path, err)
	}
	var fx Fixture
	if err := json.Unmarshal(b, &fx); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &fx, nil
}

// Write commits the fixture under the category, redacting the chat id back
// to the placeholder and assigning a capture id when missing. The write is
// atomic (temp file + rename).
func (s *Store) Write(testID, category string, fx *Fixture) error {
	if strings.TrimSpace(testID) == "" || strings.TrimSpace(category) == "" {
		return fmt.Errorf("test id and category are required")
	}
	if fx.Meta.CaptureID == "" {
		fx.Meta.CaptureID = ulid.Make().String()
	}
	dir := filepath.Join(s.Root, category)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	b, err := json.MarshalIndent(fx, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if s.chatID != "" {
		b = bytes.ReplaceAll(b, []byte(`"`+s.chatID+`"`), []byte(`"`+PlaceholderChatID+`"`))
	}

	final := filepath.Join(dir, testID+".json")
	tmp := final + ".tmp-" + ulid.Make().String()
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, final)
}

// IsValid reports whether the fixture can drive a test: it carries a real
// backend message id, no redacted media handles, and is either trusted
// (populator-captured) or fresh.
func (s *Store) IsValid(fx *Fixture) bool {
	if fx == nil {
		return false
	}
	if fx.Message.MessageID <= 0 {
		return false
	}
	if fx.Redacted() {
		return false
	}
	if fx.Meta.CapturedBy == CapturedByPopulator {
		return true
	}
	return s.now().Sub(fx.Meta.CapturedAt) < maxManualAge
}

// AssetPath resolves a registry-relative asset path.
func (s *Store) AssetPath(rel string) string {
	return filepath.Join(s.Root, "assets", filepath.FromSlash(rel))
}

// MessageIDs collects every backend message id recorded across all
// fixtures. Force populate deletes across the padded min..max span.
func (s *Store) MessageIDs() ([]int64, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var ids []int64
	for _, e := range entries {
		if !e.IsDir() || e.Name() == "assets" || e.Name() == "media" {
			continue
		}
		files, err := os.ReadDir(filepath.Join(s.Root, e.Name()))
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
				continue
			}
			fx, err := s.load(filepath.Join(s.Root, e.Name(), f.Name()))
			if err != nil {
				continue
			}
			if fx.Message.MessageID > 0 {
				ids = append(ids, fx.Message.MessageID)
			}
		}
	}
	return ids, nil
}
