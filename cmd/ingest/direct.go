package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/edovery/ingest/internal/vault"
)

// directCmd prints a vault note: frontmatter, tags, then body. With no
// argument it shows the most recently modified note, which is usually the
// file the pipeline just wrote.
func directCmd(args []string) {
	var rel string
	for i := 0; i < len(args); i++ {
		if strings.HasPrefix(args[i], "--") {
			usageErr(fmt.Errorf("unknown arg: %s", args[i]))
		}
		if rel != "" {
			usageErr(fmt.Errorf("unexpected arg: %s", args[i]))
		}
		rel = args[i]
	}

	cfg := resolveConfig()
	if cfg.VaultRoot == "" {
		fail(fmt.Errorf("VAULT_ROOT is not set"))
	}

	var path string
	var err error
	switch {
	case rel == "":
		path, err = newestMarkdown(cfg.VaultRoot)
	case filepath.IsAbs(rel):
		path = rel
	default:
		path, err = vault.Resolve(cfg.VaultRoot, rel)
	}
	if err != nil {
		fail(err)
	}

	note, err := vault.ReadNote(path)
	if err != nil {
		fail(err)
	}
	fmt.Print(renderNote(note))
}

func renderNote(n *vault.Note) string {
	var b strings.Builder
	fmt.Fprintf(&b, "path: %s\n", n.Path)
	if len(n.Tags) > 0 {
		fmt.Fprintf(&b, "tags: %s\n", strings.Join(n.Tags, ", "))
	}
	keys := make([]string, 0, len(n.Frontmatter))
	for k := range n.Frontmatter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, n.Frontmatter[k])
	}
	b.WriteString("\n")
	b.WriteString(n.Body)
	if !strings.HasSuffix(n.Body, "\n") {
		b.WriteString("\n")
	}
	return b.String()
}

// newestMarkdown finds the most recently modified markdown file under
// root.
func newestMarkdown(root string) (string, error) {
	paths, err := vault.Markdown(root)
	if err != nil {
		return "", err
	}
	var newest string
	var newestMod int64
	for _, rel := range paths {
		full := filepath.Join(root, rel)
		info, err := os.Stat(full)
		if err != nil {
			continue
		}
		if mod := info.ModTime().UnixNano(); newest == "" || mod > newestMod {
			newest, newestMod = full, mod
		}
	}
	if newest == "" {
		return "", fmt.Errorf("no markdown files under %s", root)
	}
	return newest, nil
}
