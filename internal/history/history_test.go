package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/imploid/imploid/internal/model"
)

func TestRecordAndRecent(t *testing.T) {
	rec, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rec.Close()

	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(95 * time.Second)

	rec.Record(&model.IssueState{
		IssueNumber: 42,
		Processor:   model.ProcessorClaude,
		Status:      model.StatusCompleted,
		Branch:      "issue-42-claude-20250101120000",
		RepoName:    "acme/widgets",
		SessionID:   "s-42",
		StartTime:   start,
		EndTime:     &end,
	})
	rec.Record(&model.IssueState{
		IssueNumber: 43,
		Processor:   model.ProcessorCodex,
		Status:      model.StatusFailed,
		StartTime:   start,
		Error:       "exit status 2",
	})

	runs, err := rec.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("len = %d, want 2", len(runs))
	}

	// Newest first.
	if runs[0].IssueNumber != 43 || runs[0].Status != model.StatusFailed {
		t.Errorf("runs[0] = %+v", runs[0])
	}
	if runs[0].Error != "exit status 2" {
		t.Errorf("Error = %q", runs[0].Error)
	}
	if runs[0].EndTime != nil {
		t.Error("failed run without end time should keep EndTime nil")
	}

	if runs[1].IssueNumber != 42 || runs[1].SessionID != "s-42" {
		t.Errorf("runs[1] = %+v", runs[1])
	}
	if runs[1].DurationMS != 95000 {
		t.Errorf("DurationMS = %d, want 95000", runs[1].DurationMS)
	}
}

func TestRecentLimit(t *testing.T) {
	rec, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rec.Close()

	for i := 1; i <= 5; i++ {
		rec.Record(&model.IssueState{
			IssueNumber: i,
			Processor:   model.ProcessorClaude,
			Status:      model.StatusCompleted,
			StartTime:   time.Now(),
		})
	}
	runs, err := rec.Recent(3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 3 || runs[0].IssueNumber != 5 {
		t.Errorf("runs = %+v", runs)
	}
}
