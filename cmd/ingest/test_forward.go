package main

import (
	"context"
	"fmt"

	"github.com/edovery/ingest/internal/logging"
)

// testForward re-posts a fixture's message into the input channel without
// running validation. Useful when debugging the pipeline by hand.
func testForward(args []string) {
	var id string
	var verbose bool
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--id":
			i++
			if i >= len(args) {
				usageErr(fmt.Errorf("--id requires a value"))
			}
			id = args[i]
		case "--verbose":
			verbose = true
		default:
			usageErr(fmt.Errorf("unknown arg: %s", args[i]))
		}
	}
	if id == "" {
		usageErr(fmt.Errorf("forward requires --id"))
	}

	cfg := resolveConfig()
	log := logging.New(verbose)
	defer func() { _ = log.Sync() }()
	store := openStore(cfg)

	fx, _, err := store.Find(id)
	if err != nil {
		fail(err)
	}
	if !store.IsValid(fx) {
		fail(fmt.Errorf("fixture for %s is stale or redacted; re-populate first", id))
	}

	client := newClient(cfg, log)
	input := cfg.TestInputChannel
	msg, err := client.ForwardMessage(context.Background(), input, input, fx.Message.MessageID)
	if err != nil {
		fail(err)
	}
	fmt.Printf("forwarded message_id=%d as message_id=%d\n", fx.Message.MessageID, msg.MessageID)
}
