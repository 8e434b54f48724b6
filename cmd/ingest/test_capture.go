package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/edovery/ingest/internal/backend"
	"github.com/edovery/ingest/internal/fixture"
	"github.com/edovery/ingest/internal/logging"
	"github.com/edovery/ingest/internal/testspec"
)

const defaultCaptureTimeout = 30 * time.Second

// testCapture snapshots a manually sent message into a fixture: the
// operator posts the message to the test input channel first, then runs
// capture to find the newest message carrying the bracketed id.
func testCapture(args []string) {
	var id, category string
	timeout := defaultCaptureTimeout
	var verbose bool
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--id":
			i++
			if i >= len(args) {
				usageErr(fmt.Errorf("--id requires a value"))
			}
			id = args[i]
		case "--category":
			i++
			if i >= len(args) {
				usageErr(fmt.Errorf("--category requires a value"))
			}
			category = args[i]
		case "--timeout-ms":
			i++
			if i >= len(args) {
				usageErr(fmt.Errorf("--timeout-ms requires a value"))
			}
			n, err := strconv.Atoi(args[i])
			if err != nil || n <= 0 {
				usageErr(fmt.Errorf("--timeout-ms must be a positive integer, got %q", args[i]))
			}
			timeout = time.Duration(n) * time.Millisecond
		case "--verbose":
			verbose = true
		default:
			usageErr(fmt.Errorf("unknown arg: %s", args[i]))
		}
	}
	if id == "" || category == "" {
		usageErr(fmt.Errorf("capture requires --id and --category"))
	}
	if _, err := testspec.ParseCategory(category); err != nil {
		usageErr(err)
	}

	cfg := resolveConfig()
	log := logging.New(verbose)
	defer func() { _ = log.Sync() }()
	store := openStore(cfg)
	client := newClient(cfg, log)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	marker := "[" + id + "]"
	var found *backend.Message
	var offset int64
	for found == nil {
		updates, err := client.GetUpdates(ctx, offset, 10*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			fail(err)
		}
		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			if u.Message == nil || u.Message.ChatID != cfg.TestInputChannel {
				continue
			}
			if strings.Contains(u.Message.Body(), marker) {
				// Keep scanning the batch; the newest marked message wins.
				found = u.Message
			}
		}
		if ctx.Err() != nil {
			break
		}
	}
	if found == nil {
		fail(fmt.Errorf("no message carrying %s appeared in the input channel within %s", marker, timeout))
	}

	fx := &fixture.Fixture{
		Meta: fixture.Meta{
			TestID:     id,
			CapturedAt: time.Now().UTC(),
			CapturedBy: "manual",
		},
		Message: *found,
	}
	if err := store.Write(id, category, fx); err != nil {
		fail(err)
	}
	fmt.Printf("captured message_id=%d\n", found.MessageID)
	fmt.Printf("fixture=%s/%s/%s.json\n", fixtureRoot(cfg), category, id)
}
