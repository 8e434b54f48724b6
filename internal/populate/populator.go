package populate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/edovery/ingest/internal/backend"
	"github.com/edovery/ingest/internal/fixture"
	"github.com/edovery/ingest/internal/testspec"
)

// Mode selects the populate strategy.
type Mode string

const (
	// ModeSmart skips rows whose fixture is still valid.
	ModeSmart Mode = "smart"
	// ModeForce deletes known backend messages first and recreates every
	// fixture.
	ModeForce Mode = "force"
)

// forceDeletePad widens the delete sweep beyond the recorded min..max span
// to catch messages sent between captures.
const forceDeletePad = 3

// Backend is the slice of the messaging client the populator drives.
type Backend interface {
	SendText(ctx context.Context, chatID, text string) (*backend.Message, error)
	SendMediaRef(ctx context.Context, chatID string, kind backend.MediaKind, fileID, caption string) (*backend.Message, error)
	UploadMedia(ctx context.Context, chatID string, kind backend.MediaKind, path, caption string) (*backend.Message, error)
	DeleteMessage(ctx context.Context, chatID string, messageID int64) error
}

// Summary is the populate outcome. Deterministic for a given registry and
// fixture state.
type Summary struct {
	Existing int      `json:"existing"`
	Sent     int      `json:"sent"`
	Skipped  int      `json:"skipped"`
	Errors   int      `json:"errors"`
	Problems []string `json:"problems,omitempty"`
}

// Populator refreshes the upstream channel and the fixture store from the
// registry. It runs strictly sequentially; the backend client owns pacing.
type Populator struct {
	Store   *fixture.Store
	Backend Backend
	Channel string
	Log     *zap.Logger
	Now     func() time.Time
}

func NewPopulator(store *fixture.Store, be Backend, channel string, log *zap.Logger) *Populator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Populator{Store: store, Backend: be, Channel: channel, Log: log, Now: time.Now}
}

// Populate drives the registry rows. Row errors are counted, never fatal;
// only a context cancellation aborts the sweep.
func (p *Populator) Populate(ctx context.Context, rows []Row, mode Mode) (Summary, error) {
	var sum Summary

	if mode == ModeForce {
		if err := p.deleteKnownMessages(ctx); err != nil {
			return sum, err
		}
	}

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if row.Skip() {
			sum.Skipped++
			continue
		}

		existing, _, findErr := p.Store.Find(row.TestID)
		if findErr != nil && !errors.Is(findErr, fixture.ErrNotFound) {
			sum.Errors++
			sum.Problems = append(sum.Problems, fmt.Sprintf("%s: %v", row.TestID, findErr))
			continue
		}

		drifted := p.assetDrifted(row, existing)
		if mode == ModeSmart && p.Store.IsValid(existing) && !drifted {
			sum.Existing++
			continue
		}
		if drifted {
			// The remote handle points at the old bytes; upload fresh.
			existing = nil
		}

		msg, err := p.send(ctx, row, existing)
		if err != nil {
			sum.Errors++
			sum.Problems = append(sum.Problems, fmt.Sprintf("%s: %v", row.TestID, err))
			p.Log.Warn("populate row failed", zap.String("test_id", row.TestID), zap.Error(err))
			continue
		}

		fx := &fixture.Fixture{
			Meta: fixture.Meta{
				TestID:      row.TestID,
				CapturedAt:  p.Now().UTC(),
				CapturedBy:  fixture.CapturedByPopulator,
				Description: row.Name,
			},
			Message: *msg,
		}
		fx.Message.ChatID = p.Channel
		if row.Asset != "" {
			if hash, err := fixture.HashAsset(p.Store.AssetPath(row.Asset)); err == nil {
				fx.Meta.AssetHash = hash
			}
		}
		if err := p.Store.Write(row.TestID, row.Category, fx); err != nil {
			sum.Errors++
			sum.Problems = append(sum.Problems, fmt.Sprintf("%s: write fixture: %v", row.TestID, err))
			continue
		}
		sum.Sent++
	}
	return sum, nil
}

// send constructs the upstream message for one row: text goes straight
// out; media prefers a still-usable remote handle, then a local asset.
func (p *Populator) send(ctx context.Context, row Row, existing *fixture.Fixture) (*backend.Message, error) {
	switch row.Type {
	case testspec.InputText, testspec.InputURL:
		return p.Backend.SendText(ctx, p.Channel, row.Input)
	}

	kind := backend.MediaKind(row.Type)
	if existing != nil && !existing.Redacted() {
		if handle, handleKind, ok := existing.Message.PrimaryHandle(); ok && handleKind == kind {
			return p.Backend.SendMediaRef(ctx, p.Channel, kind, handle.FileID, row.Input)
		}
	}
	if row.Asset != "" {
		path := p.Store.AssetPath(row.Asset)
		if _, err := os.Stat(path); err == nil {
			return p.Backend.UploadMedia(ctx, p.Channel, kind, path, row.Input)
		}
	}
	return nil, fmt.Errorf("missing asset: no reusable handle and no local file %q", row.Asset)
}

// assetDrifted reports whether the row's local asset no longer matches the
// hash recorded at capture time.
func (p *Populator) assetDrifted(row Row, fx *fixture.Fixture) bool {
	if row.Asset == "" || fx == nil || fx.Meta.AssetHash == "" {
		return false
	}
	hash, err := fixture.HashAsset(p.Store.AssetPath(row.Asset))
	if err != nil {
		return false
	}
	return hash != fx.Meta.AssetHash
}

// deleteKnownMessages sweeps the channel: every message id recorded in a
// fixture, padded out across the min..max span to catch strays.
func (p *Populator) deleteKnownMessages(ctx context.Context) error {
	ids, err := p.Store.MessageIDs()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	min, max := ids[0], ids[0]
	for _, id := range ids[1:] {
		if id < min {
			min = id
		}
		if id > max {
			max = id
		}
	}
	for id := min - forceDeletePad; id <= max+forceDeletePad; id++ {
		if id <= 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		err := p.Backend.DeleteMessage(ctx, p.Channel, id)
		if err != nil {
			var nf *backend.NotFoundError
			if errors.As(err, &nf) {
				continue
			}
			p.Log.Warn("delete failed", zap.Int64("message_id", id), zap.Error(err))
		}
	}
	return nil
}
