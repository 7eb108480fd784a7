// Package state persists the orchestrator's (issue, processor) map to a
// single JSON file and answers the slot-accounting queries the scheduler
// needs.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/imploid/imploid/internal/logging"
	"github.com/imploid/imploid/internal/model"
)

// Store is the durable (issue, processor) → IssueState map. All operations
// are safe for concurrent use; mutations and saves serialize on an internal
// mutex.
type Store struct {
	path string

	mu      sync.Mutex
	entries map[string]*model.IssueState
}

// NewStore creates a store backed by the given file path. Call Initialize
// before use.
func NewStore(path string) *Store {
	return &Store{
		path:    path,
		entries: make(map[string]*model.IssueState),
	}
}

// Initialize loads the state file if present. A missing file is benign.
// Entries with unparseable keys or values are skipped with a warning so one
// corrupt record never blocks recovery of the rest.
func (s *Store) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read state file: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse state file: %w", err)
	}

	log := logging.WithComponent("state")
	for key, value := range raw {
		issueNumber, processor, err := model.ParseStateKey(key)
		if err != nil {
			log.Warn("skipping state entry with invalid key", "key", key, "error", err)
			continue
		}
		var entry model.IssueState
		if err := json.Unmarshal(value, &entry); err != nil {
			log.Warn("skipping corrupt state entry", "key", key, "error", err)
			continue
		}
		entry.IssueNumber = issueNumber
		entry.Processor = processor
		s.entries[model.StateKey(issueNumber, processor)] = &entry
	}
	return nil
}

// Get returns a copy of the entry, or nil if absent.
func (s *Store) Get(issueNumber int, processor model.ProcessorName) *model.IssueState {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[model.StateKey(issueNumber, processor)]
	if !ok {
		return nil
	}
	clone := *entry
	return &clone
}

// Set inserts or replaces the entry for (issueNumber, processor).
func (s *Store) Set(issueNumber int, processor model.ProcessorName, entry *model.IssueState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *entry
	clone.IssueNumber = issueNumber
	clone.Processor = processor
	s.entries[model.StateKey(issueNumber, processor)] = &clone
}

// Update applies fn to the stored entry, if present, under the store lock.
func (s *Store) Update(issueNumber int, processor model.ProcessorName, fn func(*model.IssueState)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[model.StateKey(issueNumber, processor)]
	if !ok {
		return false
	}
	fn(entry)
	return true
}

// Remove deletes the entry if present.
func (s *Store) Remove(issueNumber int, processor model.ProcessorName) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, model.StateKey(issueNumber, processor))
}

// SaveAll writes the whole map to a temporary file and renames it into
// place. Parent directories are created as needed.
func (s *Store) SaveAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	out := make(map[string]*model.IssueState, len(s.entries))
	for key, entry := range s.entries {
		out[key] = entry
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".state-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// ActiveStates returns copies of all entries whose status is running or
// needs_input, ordered by issue number then processor for determinism.
func (s *Store) ActiveStates() []*model.IssueState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked(func(*model.IssueState) bool { return true })
}

// ActiveStatesByProcessor returns active entries belonging to one processor.
func (s *Store) ActiveStatesByProcessor(p model.ProcessorName) []*model.IssueState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked(func(e *model.IssueState) bool { return e.Processor == p })
}

func (s *Store) activeLocked(keep func(*model.IssueState) bool) []*model.IssueState {
	var out []*model.IssueState
	for _, entry := range s.entries {
		if entry.Status.Active() && keep(entry) {
			clone := *entry
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IssueNumber != out[j].IssueNumber {
			return out[i].IssueNumber < out[j].IssueNumber
		}
		return out[i].Processor < out[j].Processor
	})
	return out
}

// ActiveIssueNumbers returns the set of issue numbers with any active entry,
// across all processors.
func (s *Store) ActiveIssueNumbers() map[int]bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int]bool)
	for _, entry := range s.entries {
		if entry.Status.Active() {
			out[entry.IssueNumber] = true
		}
	}
	return out
}

// ActiveIssueNumbersByProcessor restricts ActiveIssueNumbers to one processor.
func (s *Store) ActiveIssueNumbersByProcessor(p model.ProcessorName) map[int]bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int]bool)
	for _, entry := range s.entries {
		if entry.Status.Active() && entry.Processor == p {
			out[entry.IssueNumber] = true
		}
	}
	return out
}

// AvailableAgentIndex returns the smallest index in [0, maxConcurrent) not
// held by an active entry of processor p, or -1 and false when the processor
// is saturated.
func (s *Store) AvailableAgentIndex(p model.ProcessorName, maxConcurrent int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	taken := make(map[int]bool)
	for _, entry := range s.entries {
		if entry.Status.Active() && entry.Processor == p {
			taken[entry.AgentIndex] = true
		}
	}
	for idx := 0; idx < maxConcurrent; idx++ {
		if !taken[idx] {
			return idx, true
		}
	}
	return -1, false
}
