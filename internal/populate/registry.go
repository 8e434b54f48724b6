package populate

import (
	"fmt"
	"os"
	"strings"

	"github.com/edovery/ingest/internal/testspec"
)

// Row is one registry entry: the desired upstream input for a test.
type Row struct {
	TestID   string
	Name     string
	Type     testspec.InputType
	Category string
	Status   string // active | skip
	Input    string // caption or text body
	Asset    string // optional local asset, relative to <fixtureRoot>/assets
}

func (r Row) Skip() bool {
	return strings.EqualFold(strings.TrimSpace(r.Status), "skip")
}

// ParseRegistry reads the Markdown pipe table at path. Expected columns:
// ID | Name | Category | Type | Status | Input | Asset. Header and
// separator rows are skipped; everything outside the table is ignored.
func ParseRegistry(path string) ([]Row, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseRegistryTable(string(b))
}

func parseRegistryTable(content string) ([]Row, error) {
	var rows []Row
	for lineNo, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "|") {
			continue
		}
		cells := splitRow(line)
		if len(cells) == 0 {
			continue
		}
		if isHeaderOrSeparator(cells) {
			continue
		}
		if len(cells) < 6 {
			return nil, fmt.Errorf("registry line %d: want at least 6 columns, got %d", lineNo+1, len(cells))
		}
		row := Row{
			TestID:   cells[0],
			Name:     cells[1],
			Category: cells[2],
			Type:     testspec.InputType(strings.ToLower(cells[3])),
			Status:   cells[4],
			Input:    cells[5],
		}
		if len(cells) > 6 {
			row.Asset = cells[6]
		}
		if row.TestID == "" {
			return nil, fmt.Errorf("registry line %d: empty test id", lineNo+1)
		}
		if _, err := testspec.ParseCategory(row.Category); err != nil {
			return nil, fmt.Errorf("registry line %d: %v", lineNo+1, err)
		}
		switch row.Type {
		case testspec.InputText, testspec.InputURL, testspec.InputPhoto,
			testspec.InputDocument, testspec.InputVoice, testspec.InputAudio:
		default:
			return nil, fmt.Errorf("registry line %d: invalid input type %q", lineNo+1, cells[3])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func splitRow(line string) []string {
	line = strings.Trim(line, "|")
	parts := strings.Split(line, "|")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.TrimSpace(p)
	}
	return out
}

func isHeaderOrSeparator(cells []string) bool {
	if strings.EqualFold(cells[0], "id") {
		return true
	}
	sep := true
	for _, c := range cells {
		if strings.Trim(c, "-: ") != "" {
			sep = false
			break
		}
	}
	return sep
}
