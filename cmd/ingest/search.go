package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/edovery/ingest/internal/vault"
)

// searchCmd greps the vault. Plain mode finds a substring across all
// markdown files; --artifacts lists leftover harness output files.
// Exit code follows grep convention: 1 when nothing matched.
func searchCmd(args []string) {
	var artifacts bool
	var words []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--artifacts":
			artifacts = true
		default:
			if strings.HasPrefix(args[i], "--") {
				usageErr(fmt.Errorf("unknown arg: %s", args[i]))
			}
			words = append(words, args[i])
		}
	}

	cfg := resolveConfig()
	if cfg.VaultRoot == "" {
		fail(fmt.Errorf("VAULT_ROOT is not set"))
	}

	if artifacts {
		paths, err := vault.ListTestArtifacts(cfg.VaultRoot)
		if err != nil {
			fail(err)
		}
		for _, p := range paths {
			fmt.Println(p)
		}
		if len(paths) == 0 {
			os.Exit(1)
		}
		return
	}

	query := strings.Join(words, " ")
	if query == "" {
		usageErr(fmt.Errorf("search requires a query"))
	}
	hits, err := vault.Search(cfg.VaultRoot, query)
	if err != nil {
		fail(err)
	}
	for _, h := range hits {
		fmt.Printf("%s: %s\n", h.Path, h.Line)
	}
	if len(hits) == 0 {
		os.Exit(1)
	}
}
