// Package history records finished runs in a local SQLite database so past
// activity survives state-entry deletion.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/imploid/imploid/internal/logging"
	"github.com/imploid/imploid/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	issue_number INTEGER NOT NULL,
	processor TEXT NOT NULL,
	repo_name TEXT,
	branch TEXT,
	status TEXT NOT NULL,
	session_id TEXT,
	start_time TIMESTAMP NOT NULL,
	end_time TIMESTAMP,
	duration_ms INTEGER,
	error TEXT,
	recorded_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_runs_issue ON runs(issue_number, processor);
CREATE INDEX IF NOT EXISTS idx_runs_recorded ON runs(recorded_at);
`

// Run is one recorded terminal transition.
type Run struct {
	ID          int64
	IssueNumber int
	Processor   model.ProcessorName
	RepoName    string
	Branch      string
	Status      model.ProcessStatus
	SessionID   string
	StartTime   time.Time
	EndTime     *time.Time
	DurationMS  int64
	Error       string
}

// Recorder appends finished runs to the history database.
type Recorder struct {
	db *sql.DB
}

// Open creates or opens the history database at path.
func Open(path string) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return &Recorder{db: db}, nil
}

// Close releases the database handle.
func (r *Recorder) Close() error {
	return r.db.Close()
}

// Record appends the terminal state of one run. Failures are logged and
// swallowed; history is advisory and must never affect reconciliation.
func (r *Recorder) Record(entry *model.IssueState) {
	var endTime any
	var durationMS any
	if entry.EndTime != nil {
		endTime = entry.EndTime.UTC()
		durationMS = entry.EndTime.Sub(entry.StartTime).Milliseconds()
	}

	_, err := r.db.Exec(`
		INSERT INTO runs (issue_number, processor, repo_name, branch, status,
			session_id, start_time, end_time, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.IssueNumber, string(entry.Processor), entry.RepoName, entry.Branch,
		string(entry.Status), entry.SessionID, entry.StartTime.UTC(), endTime,
		durationMS, entry.Error,
	)
	if err != nil {
		logging.WithComponent("history").Warn("failed to record run",
			"issue", entry.IssueNumber, "processor", entry.Processor, "error", err)
	}
}

// Recent returns the most recently recorded runs, newest first.
func (r *Recorder) Recent(limit int) ([]Run, error) {
	rows, err := r.db.Query(`
		SELECT id, issue_number, processor, repo_name, branch, status,
			session_id, start_time, end_time, duration_ms, error
		FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var run Run
		var proc, status string
		var repo, branch, session, errText sql.NullString
		var endTime sql.NullTime
		var durationMS sql.NullInt64
		if err := rows.Scan(&run.ID, &run.IssueNumber, &proc, &repo, &branch,
			&status, &session, &run.StartTime, &endTime, &durationMS, &errText); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		run.Processor = model.ProcessorName(proc)
		run.Status = model.ProcessStatus(status)
		run.RepoName = repo.String
		run.Branch = branch.String
		run.SessionID = session.String
		run.Error = errText.String
		if endTime.Valid {
			t := endTime.Time
			run.EndTime = &t
		}
		run.DurationMS = durationMS.Int64
		out = append(out, run)
	}
	return out, rows.Err()
}
