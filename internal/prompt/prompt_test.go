package prompt

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/imploid/imploid/internal/model"
)

func TestLoadSubstitutesIssueNumber(t *testing.T) {
	defaults := fstest.MapFS{
		"claude-default.md": {Data: []byte("Work on issue ${issueNumber}.\nBranch: issue-${issueNumber}-x\n")},
	}
	l := NewLoader(t.TempDir(), defaults)

	got, err := l.Load(model.ProcessorClaude, 42, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := "Work on issue 42.\nBranch: issue-42-x\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestUserOverrideBeatsEmbeddedDefault(t *testing.T) {
	userDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(userDir, "claude-default.md"), []byte("user ${issueNumber}"), 0644); err != nil {
		t.Fatal(err)
	}
	defaults := fstest.MapFS{
		"claude-default.md": {Data: []byte("embedded ${issueNumber}")},
	}

	got, err := NewLoader(userDir, defaults).Load(model.ProcessorClaude, 7, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != "user 7" {
		t.Errorf("got %q, want user override", got)
	}
}

func TestRelativeOverrideName(t *testing.T) {
	userDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(userDir, "special.md"), []byte("special ${issueNumber}"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := NewLoader(userDir, fstest.MapFS{}).Load(model.ProcessorClaude, 5, "special")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != "special 5" {
		t.Errorf("got %q", got)
	}
}

func TestAbsoluteOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mine.md")
	if err := os.WriteFile(path, []byte("mine ${issueNumber}"), 0644); err != nil {
		t.Fatal(err)
	}
	l := NewLoader(t.TempDir(), fstest.MapFS{})

	t.Run("with extension", func(t *testing.T) {
		got, err := l.Load(model.ProcessorCodex, 9, path)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if got != "mine 9" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("extension appended", func(t *testing.T) {
		got, err := l.Load(model.ProcessorCodex, 9, filepath.Join(dir, "mine"))
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if got != "mine 9" {
			t.Errorf("got %q", got)
		}
	})
}

func TestNotFoundListsCandidates(t *testing.T) {
	l := NewLoader(filepath.Join(t.TempDir(), "empty"), fstest.MapFS{})

	_, err := l.Load(model.ProcessorCodex, 1, "")
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("error type = %T, want *NotFoundError", err)
	}
	if notFound.Name != "codex-default" {
		t.Errorf("Name = %q", notFound.Name)
	}
	if len(notFound.Candidates) != 2 {
		t.Errorf("Candidates = %v, want user path plus embedded", notFound.Candidates)
	}
}

func TestTemplateCachedForProcessLifetime(t *testing.T) {
	userDir := t.TempDir()
	path := filepath.Join(userDir, "claude-default.md")
	if err := os.WriteFile(path, []byte("before"), 0644); err != nil {
		t.Fatal(err)
	}
	l := NewLoader(userDir, fstest.MapFS{})

	if got, _ := l.Load(model.ProcessorClaude, 1, ""); got != "before" {
		t.Fatalf("first load = %q", got)
	}

	// The file changes on disk but the cached text wins.
	if err := os.WriteFile(path, []byte("after"), 0644); err != nil {
		t.Fatal(err)
	}
	if got, _ := l.Load(model.ProcessorClaude, 1, ""); got != "before" {
		t.Errorf("second load = %q, want cached text", got)
	}
}
