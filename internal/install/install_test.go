package install

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCommandTemplatesInstallsDefaults(t *testing.T) {
	dir := t.TempDir()
	written, err := CommandTemplates(dir)
	if err != nil {
		t.Fatalf("CommandTemplates: %v", err)
	}
	if len(written) != 2 {
		t.Fatalf("written = %v, want both defaults", written)
	}

	for _, name := range []string{"claude-default.md", "codex-default.md"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if !strings.Contains(string(data), "${issueNumber}") {
			t.Errorf("%s missing issue token", name)
		}
	}
}

func TestCommandTemplatesKeepsCustomizedFiles(t *testing.T) {
	dir := t.TempDir()
	custom := filepath.Join(dir, "claude-default.md")
	if err := os.WriteFile(custom, []byte("my version"), 0644); err != nil {
		t.Fatal(err)
	}

	written, err := CommandTemplates(dir)
	if err != nil {
		t.Fatalf("CommandTemplates: %v", err)
	}
	for _, name := range written {
		if name == "claude-default.md" {
			t.Error("customized template must not be overwritten")
		}
	}
	data, _ := os.ReadFile(custom)
	if string(data) != "my version" {
		t.Errorf("customized content lost: %q", data)
	}
}
