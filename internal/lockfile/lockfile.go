// Package lockfile implements the advisory cross-process lock that keeps a
// single Imploid instance running per machine.
package lockfile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/imploid/imploid/internal/logging"
)

// Holder describes the process owning the lock.
type Holder struct {
	PID       int       `json:"pid"`
	StartTime time.Time `json:"startTime"`
}

// Manager guards one lock file path.
type Manager struct {
	path string
}

// NewManager creates a manager for the given lock file path.
func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Acquire attempts to take the lock. It returns true on success. If the file
// exists and its holder is still alive, it returns false. A stale file (dead
// holder) is removed and acquisition is retried once. Filesystem failures
// report as not acquired.
func (m *Manager) Acquire() bool {
	log := logging.WithComponent("lockfile")

	for attempt := 0; attempt < 2; attempt++ {
		if m.tryCreate() {
			return true
		}

		holder, err := m.CurrentHolder()
		if err != nil {
			// Unreadable contents cannot name a live holder; treat as stale.
			log.Warn("lock file unreadable, treating as stale", "error", err)
		}
		if holder != nil && processAlive(holder.PID) {
			log.Warn("lock held by live process", "pid", holder.PID, "since", holder.StartTime)
			return false
		}
		if holder != nil {
			log.Info("removing stale lock file", "pid", holder.PID)
		}
		if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
			log.Error("failed to remove stale lock file", "error", err)
			return false
		}
	}
	return false
}

func (m *Manager) tryCreate() bool {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return false
	}
	f, err := os.OpenFile(m.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return false
	}
	defer f.Close()

	holder := Holder{PID: os.Getpid(), StartTime: time.Now()}
	if err := json.NewEncoder(f).Encode(&holder); err != nil {
		os.Remove(m.path)
		return false
	}
	return true
}

// Release deletes the lock file if this process owns it. A missing file is
// not an error.
func (m *Manager) Release() {
	holder, err := m.CurrentHolder()
	if err != nil || holder == nil {
		return
	}
	if holder.PID != os.Getpid() {
		logging.WithComponent("lockfile").Warn("refusing to release lock owned by another process", "pid", holder.PID)
		return
	}
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		logging.WithComponent("lockfile").Error("failed to release lock", "error", err)
	}
}

// CurrentHolder returns the recorded holder, or nil if no lock file exists.
func (m *Manager) CurrentHolder() (*Holder, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var holder Holder
	if err := json.Unmarshal(data, &holder); err != nil {
		return nil, err
	}
	return &holder, nil
}

// processAlive probes the pid with signal 0. It never delivers a signal.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to another user.
	return err == syscall.EPERM
}
