package processor

import (
	"regexp"
	"testing"
	"time"

	"github.com/imploid/imploid/internal/model"
)

func TestBranchName(t *testing.T) {
	ts := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

	tests := []struct {
		issue int
		proc  model.ProcessorName
		want  string
	}{
		{42, model.ProcessorClaude, "issue-42-claude-20250304050607"},
		{303, model.ProcessorCodex, "issue-303-codex-20250304050607"},
	}
	for _, tt := range tests {
		if got := BranchName(tt.issue, tt.proc, ts); got != tt.want {
			t.Errorf("BranchName = %q, want %q", got, tt.want)
		}
	}
}

func TestBranchNameTimestampAlwaysFourteenDigits(t *testing.T) {
	re := regexp.MustCompile(`^issue-7-claude-[0-9]{14}$`)
	times := []time.Time{
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC),
		time.Date(2025, 9, 9, 9, 9, 9, 0, time.UTC),
	}
	for _, ts := range times {
		got := BranchName(7, model.ProcessorClaude, ts)
		if !re.MatchString(got) {
			t.Errorf("branch %q does not match expected shape", got)
		}
	}
}

func TestClaudeCommand(t *testing.T) {
	p, err := ByName(model.ProcessorClaude)
	if err != nil {
		t.Fatalf("ByName: %v", err)
	}
	if p.DisplayName() != "Claude" {
		t.Errorf("DisplayName = %q", p.DisplayName())
	}

	argv := p.Command("/usr/local/bin/claude", "fix issue 42")
	want := []string{
		"/usr/local/bin/claude",
		"--dangerously-skip-permissions",
		"-p", "fix issue 42",
		"--output-format", "stream-json",
		"--verbose",
	}
	assertArgv(t, argv, want)
}

func TestCodexCommandPromptIsLastPositional(t *testing.T) {
	p, err := ByName(model.ProcessorCodex)
	if err != nil {
		t.Fatalf("ByName: %v", err)
	}
	if p.DisplayName() != "Codex" {
		t.Errorf("DisplayName = %q", p.DisplayName())
	}

	argv := p.Command("codex", "fix issue 42")
	want := []string{
		"codex",
		"exec",
		"--full-auto",
		"--dangerously-bypass-approvals-and-sandbox",
		"fix issue 42",
	}
	assertArgv(t, argv, want)
	if argv[len(argv)-1] != "fix issue 42" {
		t.Error("prompt must be the last positional argument")
	}
}

func TestByNameUnknown(t *testing.T) {
	if _, err := ByName("gemini"); err == nil {
		t.Error("expected error for unknown processor")
	}
}

func assertArgv(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("argv = %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("argv[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
