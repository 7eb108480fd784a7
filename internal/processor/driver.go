package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/imploid/imploid/internal/config"
	"github.com/imploid/imploid/internal/logging"
	"github.com/imploid/imploid/internal/model"
	"github.com/imploid/imploid/internal/notify"
	"github.com/imploid/imploid/internal/procrun"
	"github.com/imploid/imploid/internal/state"
)

// Workspace prepares the git worktree a run executes in.
type Workspace interface {
	EnsureClone(ctx context.Context, basePath string, processor model.ProcessorName, agentIndex int, repoName, shortRepo string) (string, error)
	PrepareIssueBranch(ctx context.Context, dir, branchName string) error
}

// PromptSource loads the prompt text for one run.
type PromptSource interface {
	Load(processor model.ProcessorName, issueNumber int, override string) (string, error)
}

// Result is the outcome of one supervised run.
type Result struct {
	Status    model.ProcessStatus
	SessionID string
}

// Driver supervises one backend process for one issue: workspace prep,
// prompt assembly, spawn, output framing, and the timeout watchdog.
type Driver struct {
	proc     Processor
	cfg      *config.ProcessorConfig
	store    *state.Store
	git      Workspace
	prompts  PromptSource
	notifier *notify.Fanout
}

// NewDriver wires a driver for one processor.
func NewDriver(proc Processor, cfg *config.ProcessorConfig, store *state.Store, git Workspace, prompts PromptSource, notifier *notify.Fanout) *Driver {
	return &Driver{
		proc:     proc,
		cfg:      cfg,
		store:    store,
		git:      git,
		prompts:  prompts,
		notifier: notifier,
	}
}

// Run executes the full pipeline for (issueNumber, agentIndex) against repo.
// The state entry is expected to exist (created at reservation); its branch
// is reused when present, otherwise a fresh one is minted.
func (d *Driver) Run(ctx context.Context, issueNumber, agentIndex int, repo config.RepoConfig) (*Result, error) {
	name := d.proc.Name()
	log := logging.WithIssue(issueNumber, string(name))

	branch := ""
	if entry := d.store.Get(issueNumber, name); entry != nil && entry.Branch != "" {
		branch = entry.Branch
	}
	if branch == "" {
		branch = BranchName(issueNumber, name, time.Now())
		d.store.Update(issueNumber, name, func(e *model.IssueState) {
			e.Branch = branch
		})
	}

	dir, err := d.git.EnsureClone(ctx, repo.BaseRepoPath, name, agentIndex, repo.Name, repo.ShortName())
	if err != nil {
		return nil, fmt.Errorf("workspace preparation failed: %w", err)
	}
	if err := d.git.PrepareIssueBranch(ctx, dir, branch); err != nil {
		return nil, fmt.Errorf("branch preparation failed: %w", err)
	}

	promptText, err := d.prompts.Load(name, issueNumber, d.cfg.PromptPath)
	if err != nil {
		return nil, err
	}

	argv := d.proc.Command(d.cfg.Path, promptText)
	log.Info("spawning agent process", "branch", branch, "dir", dir)
	handle, err := procrun.Spawn(argv, procrun.Options{Dir: dir})
	if err != nil {
		return nil, err
	}

	return d.supervise(ctx, handle, issueNumber, repo.Name)
}

// supervise drains the child's streams, captures the session id and last
// output line, and enforces the wall-clock timeout.
func (d *Driver) supervise(ctx context.Context, handle *procrun.Handle, issueNumber int, repoName string) (*Result, error) {
	name := d.proc.Name()
	log := logging.WithIssue(issueNumber, string(name))

	var mu sync.Mutex
	var lastOutput, sessionID string

	var drain sync.WaitGroup
	drain.Add(2)

	go func() {
		defer drain.Done()
		d.readStdout(handle.Stdout(), issueNumber, &mu, &lastOutput, &sessionID)
	}()

	var stderrBuf strings.Builder
	go func() {
		defer drain.Done()
		io.Copy(&stderrBuf, handle.Stderr())
	}()

	started := time.Now()
	timeout := time.Duration(d.cfg.TimeoutSeconds * float64(time.Second))
	checkInterval := time.Duration(d.cfg.CheckIntervalSeconds * float64(time.Second))
	if checkInterval <= 0 {
		checkInterval = time.Second
	}
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-handle.Done():
			drain.Wait()
			mu.Lock()
			session := sessionID
			mu.Unlock()

			if code := handle.ExitCode(); code != 0 {
				errText := strings.TrimSpace(stderrBuf.String())
				if errText == "" {
					errText = "Unknown error"
				}
				log.Error("agent process failed", "exit_code", code)
				d.notifier.NotifyError(ctx, notify.Event{
					IssueNumber: issueNumber,
					RepoName:    repoName,
					Error:       errText,
				})
				return &Result{Status: model.StatusFailed, SessionID: session}, nil
			}
			log.Info("agent process completed")
			return &Result{Status: model.StatusCompleted, SessionID: session}, nil

		case <-ticker.C:
			if time.Since(started) < timeout {
				continue
			}
			log.Warn("agent process timed out", "timeout_seconds", d.cfg.TimeoutSeconds)
			handle.Kill()

			mu.Lock()
			last := lastOutput
			session := sessionID
			mu.Unlock()

			msg := fmt.Sprintf("Process timed out after %s seconds", model.FormatSeconds(d.cfg.TimeoutSeconds))
			if last != "" {
				msg += "\nLast output: " + last
			}
			d.notifier.NotifyError(ctx, notify.Event{
				IssueNumber: issueNumber,
				RepoName:    repoName,
				Error:       msg,
			})

			<-handle.Done()
			drain.Wait()
			return &Result{Status: model.StatusFailed, SessionID: session}, nil
		}
	}
}

// readStdout frames the stream into lines, keeps the last non-empty one,
// and captures the first session id seen in a JSON line, persisting it
// immediately so a crash still leaves the id on disk.
func (d *Driver) readStdout(r io.Reader, issueNumber int, mu *sync.Mutex, lastOutput, sessionID *string) {
	var pending string
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			pending += string(buf[:n])
			for {
				idx := strings.IndexByte(pending, '\n')
				if idx < 0 {
					break
				}
				line := strings.TrimSpace(pending[:idx])
				pending = pending[idx+1:]
				if line == "" {
					continue
				}
				d.observeLine(line, issueNumber, mu, lastOutput, sessionID)
			}
		}
		if err != nil {
			if line := strings.TrimSpace(pending); line != "" {
				d.observeLine(line, issueNumber, mu, lastOutput, sessionID)
			}
			return
		}
	}
}

func (d *Driver) observeLine(line string, issueNumber int, mu *sync.Mutex, lastOutput, sessionID *string) {
	name := d.proc.Name()

	mu.Lock()
	*lastOutput = line
	haveSession := *sessionID != ""
	mu.Unlock()

	d.store.Update(issueNumber, name, func(e *model.IssueState) {
		e.LastOutput = line
	})

	if haveSession {
		return
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(line), &obj); err != nil {
		return
	}
	id := stringField(obj, "session_id")
	if id == "" {
		id = stringField(obj, "sessionId")
	}
	if id == "" {
		return
	}

	mu.Lock()
	*sessionID = id
	mu.Unlock()

	d.store.Update(issueNumber, name, func(e *model.IssueState) {
		e.SessionID = id
	})
	if err := d.store.SaveAll(); err != nil {
		logging.WithIssue(issueNumber, string(name)).Warn("failed to persist session id", "error", err)
	}
}

func stringField(obj map[string]any, key string) string {
	if v, ok := obj[key].(string); ok {
		return v
	}
	return ""
}
