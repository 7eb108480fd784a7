// Package gitws manages the per-(processor, agent slot, repo) git worktrees
// that agent processes run inside.
package gitws

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/imploid/imploid/internal/logging"
	"github.com/imploid/imploid/internal/model"
	"github.com/imploid/imploid/internal/procrun"
)

// GitError reports a failed git step with its captured stderr.
type GitError struct {
	Step   string
	Stderr string
	Err    error
}

func (e *GitError) Error() string {
	msg := fmt.Sprintf("git %s failed", e.Step)
	if e.Stderr != "" {
		msg += ": " + strings.TrimSpace(e.Stderr)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GitError) Unwrap() error { return e.Err }

// Manager runs git operations on agent worktrees.
type Manager struct {
	log interface {
		Info(msg string, args ...any)
		Warn(msg string, args ...any)
	}
}

// NewManager creates a workspace manager.
func NewManager() *Manager {
	return &Manager{log: logging.WithComponent("gitws")}
}

// WorktreePath returns <basePath>/<processor>/<shortRepo>_agent_<index>.
func WorktreePath(basePath string, processor model.ProcessorName, agentIndex int, shortRepo string) string {
	return filepath.Join(basePath, string(processor), fmt.Sprintf("%s_agent_%d", shortRepo, agentIndex))
}

// EnsureClone makes sure the worktree for (processor, agentIndex, repo)
// exists, is up to date on the default branch, and is clean. repoName is the
// canonical owner/name form; shortRepo names the directory. Returns the
// worktree path.
func (m *Manager) EnsureClone(ctx context.Context, basePath string, processor model.ProcessorName, agentIndex int, repoName, shortRepo string) (string, error) {
	dir := WorktreePath(basePath, processor, agentIndex, shortRepo)

	if _, err := os.Stat(filepath.Join(dir, ".git")); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(dir), 0755); err != nil {
			return "", fmt.Errorf("failed to create workspace directory: %w", err)
		}
		m.log.Info("cloning repository", "repo", repoName, "dir", dir)
		url := fmt.Sprintf("git@github.com:%s.git", repoName)
		if _, err := m.git(ctx, "", "clone", url, dir); err != nil {
			return "", err
		}
	} else {
		if err := m.refresh(ctx, dir); err != nil {
			return "", err
		}
	}

	if err := m.enforceClean(ctx, dir); err != nil {
		return "", err
	}
	m.runSetupScript(ctx, dir)
	return dir, nil
}

// refresh checks out the default branch and pulls the latest changes.
func (m *Manager) refresh(ctx context.Context, dir string) error {
	branch, err := m.checkoutDefault(ctx, dir)
	if err != nil {
		return err
	}
	if _, err := m.git(ctx, dir, "fetch", "origin"); err != nil {
		return err
	}
	if _, err := m.git(ctx, dir, "pull", "origin", branch); err != nil {
		return err
	}
	return nil
}

// checkoutDefault tries main, then master.
func (m *Manager) checkoutDefault(ctx context.Context, dir string) (string, error) {
	var lastErr error
	for _, branch := range []string{"main", "master"} {
		if _, err := m.git(ctx, dir, "checkout", branch); err == nil {
			return branch, nil
		} else {
			lastErr = err
		}
	}
	return "", fmt.Errorf("no default branch found (tried main, master): %w", lastErr)
}

// enforceClean resets and cleans the worktree if git status reports changes.
func (m *Manager) enforceClean(ctx context.Context, dir string) error {
	status, err := m.git(ctx, dir, "status", "--porcelain")
	if err != nil {
		return err
	}
	if strings.TrimSpace(status) == "" {
		return nil
	}
	m.log.Warn("worktree dirty, resetting", "dir", dir)
	if _, err := m.git(ctx, dir, "reset", "--hard"); err != nil {
		return err
	}
	if _, err := m.git(ctx, dir, "clean", "-fd"); err != nil {
		return err
	}
	return nil
}

// runSetupScript runs ./setup.sh if present. Failures are warnings only.
func (m *Manager) runSetupScript(ctx context.Context, dir string) {
	script := filepath.Join(dir, "setup.sh")
	if _, err := os.Stat(script); err != nil {
		return
	}
	if err := os.Chmod(script, 0755); err != nil {
		m.log.Warn("failed to chmod setup.sh", "error", err)
		return
	}
	res, err := procrun.Run(ctx, []string{script}, procrun.Options{Dir: dir})
	if err != nil {
		m.log.Warn("setup.sh did not start", "error", err)
		return
	}
	if res.ExitCode != 0 {
		m.log.Warn("setup.sh exited non-zero", "exit_code", res.ExitCode, "stderr", res.Stderr)
	}
}

// PrepareDefaultBranch checks out the default branch and hard-resets it to
// its origin tip, falling back to a plain reset when the remote ref is
// unknown locally. Returns the branch name.
func (m *Manager) PrepareDefaultBranch(ctx context.Context, dir string) (string, error) {
	branch, err := m.checkoutDefault(ctx, dir)
	if err != nil {
		return "", err
	}
	if _, err := m.git(ctx, dir, "reset", "--hard", "origin/"+branch); err != nil {
		if _, err := m.git(ctx, dir, "reset", "--hard"); err != nil {
			return "", err
		}
	}
	if _, err := m.git(ctx, dir, "clean", "-fd"); err != nil {
		return "", err
	}
	return branch, nil
}

// PrepareIssueBranch resets the default branch and creates (or resets) the
// issue branch on top of it. The worktree must be clean afterwards.
func (m *Manager) PrepareIssueBranch(ctx context.Context, dir, branchName string) error {
	if _, err := m.PrepareDefaultBranch(ctx, dir); err != nil {
		return err
	}
	if _, err := m.git(ctx, dir, "checkout", "-B", branchName); err != nil {
		return err
	}
	status, err := m.git(ctx, dir, "status", "--porcelain")
	if err != nil {
		return err
	}
	if strings.TrimSpace(status) != "" {
		return &GitError{Step: "checkout -B " + branchName, Stderr: "worktree not clean after branch creation"}
	}
	return nil
}

// CurrentBranch returns the branch the worktree has checked out.
func (m *Manager) CurrentBranch(ctx context.Context, dir string) (string, error) {
	out, err := m.git(ctx, dir, "branch", "--show-current")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// git runs one git subcommand, returning stdout. Non-zero exit becomes a
// GitError carrying the captured stderr.
func (m *Manager) git(ctx context.Context, dir string, args ...string) (string, error) {
	argv := append([]string{"git"}, args...)
	res, err := procrun.Run(ctx, argv, procrun.Options{Dir: dir})
	if err != nil {
		return "", &GitError{Step: strings.Join(args, " "), Err: err}
	}
	if res.ExitCode != 0 {
		return "", &GitError{Step: strings.Join(args, " "), Stderr: res.Stderr}
	}
	return res.Stdout, nil
}
