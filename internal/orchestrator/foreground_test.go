package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/imploid/imploid/internal/github"
	"github.com/imploid/imploid/internal/lockfile"
	"github.com/imploid/imploid/internal/model"
	"github.com/imploid/imploid/internal/notify"
)

func newForegroundFixture(t *testing.T, lockPath string) (*ForegroundRunner, *fixture) {
	t.Helper()
	gh := newFakeGitHub(github.Issue{Number: 1, Title: "T", RepoName: "acme/widgets"})
	fx := newFixture(t, 2, []model.ProcessorName{model.ProcessorClaude}, gh, nil)
	runner := NewForegroundRunner(fx.orch, lockfile.NewManager(lockPath), fx.store, notify.NewFanout(), nil)
	return runner, fx
}

func TestForegroundRunsImmediateTickAndStopsOnCancel(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "imploid.lock")
	runner, fx := newForegroundFixture(t, lockPath)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for fx.runners[model.ProcessorClaude].callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("immediate tick never ran")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on context cancel")
	}

	// Lock released on the way out.
	if holder, _ := lockfile.NewManager(lockPath).CurrentHolder(); holder != nil {
		t.Error("lock file should be released after Run returns")
	}
}

func TestForegroundRefusesWhenLockHeld(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "imploid.lock")

	other := lockfile.NewManager(lockPath)
	if !other.Acquire() {
		t.Fatal("setup acquire failed")
	}
	defer other.Release()

	runner, _ := newForegroundFixture(t, lockPath)
	if err := runner.Run(context.Background()); err != ErrLockHeld {
		t.Fatalf("err = %v, want ErrLockHeld", err)
	}
}

func TestForegroundDoubleStartIsAnError(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "imploid.lock")
	runner, _ := newForegroundFixture(t, lockPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	// Wait for the first Run to mark itself running.
	deadline := time.After(5 * time.Second)
	for {
		runner.mu.Lock()
		running := runner.running
		runner.mu.Unlock()
		if running {
			break
		}
		select {
		case <-deadline:
			t.Fatal("runner never started")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if err := runner.Run(ctx); err == nil {
		t.Error("second Run should fail while the first is active")
	}

	cancel()
	<-done
}
