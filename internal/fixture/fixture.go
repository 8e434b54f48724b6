package fixture

import (
	"encoding/hex"
	"io"
	"os"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/edovery/ingest/internal/backend"
)

const (
	// PlaceholderChatID is committed in fixtures instead of the real channel
	// id and rehydrated from config on load.
	PlaceholderChatID = "YOUR_CHAT_ID"
	// redactedToken marks a media handle that was scrubbed before commit.
	// A fixture carrying one cannot be replayed.
	redactedToken = "REDACTED"

	// CapturedByPopulator marks fixtures the populator wrote itself. These
	// are trusted indefinitely; manual captures age out.
	CapturedByPopulator = "populator"

	// maxManualAge is how long a manual capture stays valid.
	maxManualAge = 7 * 24 * time.Hour
)

// Meta describes how and when the fixture was captured.
type Meta struct {
	TestID      string    `json:"test_id"`
	CapturedAt  time.Time `json:"captured_at"`
	CapturedBy  string    `json:"captured_by"`
	Description string    `json:"description,omitempty"`
	Synthetic   bool      `json:"synthetic,omitempty"`
	CaptureID   string    `json:"capture_id,omitempty"`
	AssetHash   string    `json:"asset_hash,omitempty"`
}

// Fixture is a committed record of a previously captured upstream message.
type Fixture struct {
	Meta    Meta            `json:"meta"`
	Message backend.Message `json:"message"`
}

// Redacted reports whether any embedded media handle was scrubbed.
func (f *Fixture) Redacted() bool {
	for _, h := range f.Message.MediaHandles() {
		if strings.Contains(h.FileID, redactedToken) ||
			strings.Contains(h.FileID, PlaceholderChatID) {
			return true
		}
	}
	return false
}

// HashAsset computes the blake3 digest of a local asset file. Smart
// populate compares it against Meta.AssetHash to detect asset drift.
func HashAsset(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
