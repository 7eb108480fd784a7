// Package model defines the typed records shared across the orchestrator:
// processor identities, processing statuses, and the per-(issue, processor)
// state entry that is persisted between runs.
package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ProcessStatus is the lifecycle status of one (issue, processor) entry.
type ProcessStatus string

const (
	StatusPending    ProcessStatus = "pending"
	StatusRunning    ProcessStatus = "running"
	StatusNeedsInput ProcessStatus = "needs_input"
	StatusCompleted  ProcessStatus = "completed"
	StatusFailed     ProcessStatus = "failed"
)

// Active reports whether the status occupies an agent slot.
// Only running and needs_input count as active.
func (s ProcessStatus) Active() bool {
	return s == StatusRunning || s == StatusNeedsInput
}

// Terminal reports whether the status ends the entry's lifecycle.
func (s ProcessStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ProcessorName identifies an agent backend. The set is closed: adding a
// name requires adding a processor driver.
type ProcessorName string

const (
	ProcessorClaude ProcessorName = "claude"
	ProcessorCodex  ProcessorName = "codex"
)

// AllProcessors lists every known processor in a stable order.
func AllProcessors() []ProcessorName {
	return []ProcessorName{ProcessorClaude, ProcessorCodex}
}

// Valid reports whether the name belongs to the closed processor set.
func (p ProcessorName) Valid() bool {
	switch p {
	case ProcessorClaude, ProcessorCodex:
		return true
	}
	return false
}

// WorkingLabel is the GitHub label applied while the processor runs.
func (p ProcessorName) WorkingLabel() string { return string(p) + "-working" }

// CompletedLabel is the GitHub label applied after a successful run.
func (p ProcessorName) CompletedLabel() string { return string(p) + "-completed" }

// FailedLabel is the GitHub label applied after a failed run.
func (p ProcessorName) FailedLabel() string { return string(p) + "-failed" }

// ReadyLabel marks an issue as eligible for discovery.
const ReadyLabel = "agent-ready"

// IssueState is the unit of persistence: everything the orchestrator knows
// about one processor working one issue. IssueNumber and Processor are
// carried in the state-file key, not in the serialized value.
type IssueState struct {
	IssueNumber int           `json:"-"`
	Processor   ProcessorName `json:"-"`
	Status      ProcessStatus `json:"status"`
	Branch      string        `json:"branch"`
	StartTime   time.Time     `json:"start_time"`
	EndTime     *time.Time    `json:"end_time,omitempty"`
	AgentIndex  int           `json:"agent_index"`
	RepoName    string        `json:"repo_name,omitempty"`
	SessionID   string        `json:"session_id,omitempty"`
	LastOutput  string        `json:"last_output,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// Key returns the state-file key for this entry, "<issue>:<processor>".
func (s *IssueState) Key() string {
	return StateKey(s.IssueNumber, s.Processor)
}

// StateKey builds the composite state-file key for an (issue, processor) pair.
func StateKey(issueNumber int, processor ProcessorName) string {
	return fmt.Sprintf("%d:%s", issueNumber, processor)
}

// ParseStateKey splits a state-file key into its issue number and processor.
// Bare-integer keys predate multi-processor support and are interpreted as
// processor claude.
func ParseStateKey(key string) (int, ProcessorName, error) {
	issuePart, procPart, found := strings.Cut(key, ":")
	if !found {
		procPart = string(ProcessorClaude)
	}
	issueNumber, err := strconv.Atoi(issuePart)
	if err != nil || issueNumber < 1 {
		return 0, "", fmt.Errorf("invalid state key %q", key)
	}
	proc := ProcessorName(procPart)
	if !proc.Valid() {
		return 0, "", fmt.Errorf("unknown processor in state key %q", key)
	}
	return issueNumber, proc, nil
}

// FormatDuration renders the elapsed time between start and end as "<m>m <s>s",
// rounding to whole seconds.
func FormatDuration(start, end time.Time) string {
	secs := int(end.Sub(start).Round(time.Second).Seconds())
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("%dm %ds", secs/60, secs%60)
}

// FormatSeconds renders a fractional seconds value the way it was configured,
// without trailing zeros (0.02 stays "0.02", 3600 stays "3600").
func FormatSeconds(secs float64) string {
	return strconv.FormatFloat(secs, 'g', -1, 64)
}
