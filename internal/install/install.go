// Package install materializes the embedded default prompt templates into
// the user's prompt directory for customization.
package install

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/imploid/imploid/internal/logging"
)

//go:embed templates/*.md
var templates embed.FS

// Defaults returns the embedded default templates as a flat filesystem,
// keyed by file name (claude-default.md, codex-default.md).
func Defaults() fs.FS {
	sub, err := fs.Sub(templates, "templates")
	if err != nil {
		// The embed directive guarantees the directory exists.
		panic(err)
	}
	return sub
}

// CommandTemplates copies every embedded template into destDir, skipping
// files the user has already customized. Returns the names written.
func CommandTemplates(destDir string) ([]string, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create prompts directory: %w", err)
	}

	log := logging.WithComponent("install")
	entries, err := fs.ReadDir(Defaults(), ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded templates: %w", err)
	}

	var written []string
	for _, entry := range entries {
		name := entry.Name()
		dest := filepath.Join(destDir, name)
		if _, err := os.Stat(dest); err == nil {
			log.Info("keeping existing template", "name", name)
			continue
		}
		data, err := fs.ReadFile(Defaults(), name)
		if err != nil {
			return written, fmt.Errorf("failed to read template %s: %w", name, err)
		}
		if err := os.WriteFile(dest, data, 0644); err != nil {
			return written, fmt.Errorf("failed to write template %s: %w", name, err)
		}
		log.Info("installed template", "name", name)
		written = append(written, name)
	}
	return written, nil
}
