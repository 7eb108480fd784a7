// Package orchestrator contains the scheduler that turns ready GitHub
// issues into supervised agent runs, and the foreground loop that drives it.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/imploid/imploid/internal/config"
	"github.com/imploid/imploid/internal/github"
	"github.com/imploid/imploid/internal/history"
	"github.com/imploid/imploid/internal/logging"
	"github.com/imploid/imploid/internal/model"
	"github.com/imploid/imploid/internal/notify"
	"github.com/imploid/imploid/internal/processor"
	"github.com/imploid/imploid/internal/state"
)

// GitHubAPI is the slice of the GitHub client the scheduler needs.
type GitHubAPI interface {
	ListReadyIssues(ctx context.Context, repo string) ([]github.Issue, error)
	UpdateLabels(ctx context.Context, repo string, issueNumber int, update github.LabelUpdate) error
	CreateComment(ctx context.Context, repo string, issueNumber int, body string) error
}

// IssueRunner runs one issue on one processor; the Driver implements it.
type IssueRunner interface {
	Run(ctx context.Context, issueNumber, agentIndex int, repo config.RepoConfig) (*processor.Result, error)
}

// Orchestrator owns one scheduling tick: discover, reserve, launch, and
// reconcile.
type Orchestrator struct {
	cfg      *config.Config
	enabled  []model.ProcessorName
	store    *state.Store
	gh       GitHubAPI
	notifier *notify.Fanout
	runners  map[model.ProcessorName]IssueRunner
	procs    map[model.ProcessorName]processor.Processor
	history  *history.Recorder // optional
	retry    github.RetryConfig
}

// New assembles an orchestrator. enabled is the effective processor set for
// this run (configured set, possibly narrowed on the command line). history
// may be nil.
func New(cfg *config.Config, enabled []model.ProcessorName, store *state.Store, gh GitHubAPI,
	notifier *notify.Fanout, runners map[model.ProcessorName]IssueRunner, recorder *history.Recorder) (*Orchestrator, error) {

	procs := make(map[model.ProcessorName]processor.Processor, len(enabled))
	for _, name := range enabled {
		p, err := processor.ByName(name)
		if err != nil {
			return nil, err
		}
		if _, ok := runners[name]; !ok {
			return nil, fmt.Errorf("no runner wired for processor %q", name)
		}
		procs[name] = p
	}

	return &Orchestrator{
		cfg:      cfg,
		enabled:  enabled,
		store:    store,
		gh:       gh,
		notifier: notifier,
		runners:  runners,
		procs:    procs,
		history:  recorder,
		retry:    github.DefaultRetryConfig(),
	}, nil
}

// reservation pairs a discovered issue with the slots allocated for it.
type reservation struct {
	issue github.Issue
	repo  config.RepoConfig
	slots map[model.ProcessorName]int
}

// RunTick executes one scheduling pass. State-save failures end the tick
// with an error; the next tick retries. Per-issue and per-repo failures are
// local and never abort the tick.
func (o *Orchestrator) RunTick(ctx context.Context) error {
	tickID := uuid.NewString()[:8]
	log := logging.WithComponent("scheduler").With("tick", tickID)
	log.Info("tick started", "processors", o.enabled)

	candidates := o.discover(ctx, log)

	active := o.store.ActiveIssueNumbers()
	remaining := o.cfg.GitHub.MaxConcurrent - len(active)
	log.Info("capacity computed", "active", len(active), "remaining", remaining)
	if remaining <= 0 {
		if err := o.store.SaveAll(); err != nil {
			return fmt.Errorf("failed to save state: %w", err)
		}
		return nil
	}

	var reserved []reservation
	for _, issue := range candidates {
		if remaining <= 0 {
			break
		}
		if active[issue.Number] {
			log.Debug("skipping already-active issue", "issue", issue.Number)
			continue
		}
		res, ok := o.reserve(issue, log)
		if !ok {
			continue
		}
		if err := o.store.SaveAll(); err != nil {
			// An unpersisted reservation must not survive in memory: it
			// would count as active on later ticks and strand the issue.
			for _, name := range o.enabled {
				o.store.Remove(issue.Number, name)
			}
			return fmt.Errorf("failed to save state: %w", err)
		}
		active[issue.Number] = true
		remaining--
		reserved = append(reserved, res)
	}

	o.launch(ctx, reserved)

	log.Info("tick finished", "launched", len(reserved))
	return nil
}

// discover lists ready issues across all configured repositories, tolerating
// per-repo failures.
func (o *Orchestrator) discover(ctx context.Context, log interface {
	Warn(msg string, args ...any)
}) []github.Issue {
	var candidates []github.Issue
	for _, repo := range o.cfg.GitHub.Repos {
		var issues []github.Issue
		err := github.WithRetry(ctx, o.retry, func() error {
			var listErr error
			issues, listErr = o.gh.ListReadyIssues(ctx, repo.Name)
			return listErr
		})
		if err != nil {
			log.Warn("failed to list issues", "repo", repo.Name, "error", err)
			continue
		}
		candidates = append(candidates, issues...)
	}
	return candidates
}

// reserve allocates one agent slot per enabled processor for the issue.
// Reservation is all-or-nothing: if any processor is saturated, nothing is
// committed.
func (o *Orchestrator) reserve(issue github.Issue, log interface {
	Warn(msg string, args ...any)
}) (reservation, bool) {
	repo, ok := o.repoConfig(issue.RepoName)
	if !ok {
		log.Warn("issue from unconfigured repository", "issue", issue.Number, "repo", issue.RepoName)
		return reservation{}, false
	}

	slots := make(map[model.ProcessorName]int, len(o.enabled))
	for _, name := range o.enabled {
		idx, ok := o.store.AvailableAgentIndex(name, o.cfg.GitHub.MaxConcurrent)
		if !ok {
			log.Warn("no agent slot available, skipping issue",
				"issue", issue.Number, "processor", name)
			return reservation{}, false
		}
		slots[name] = idx
	}

	now := time.Now()
	for _, name := range o.enabled {
		o.store.Set(issue.Number, name, &model.IssueState{
			IssueNumber: issue.Number,
			Processor:   name,
			Status:      model.StatusRunning,
			Branch:      processor.BranchName(issue.Number, name, now),
			StartTime:   now,
			AgentIndex:  slots[name],
			RepoName:    issue.RepoName,
		})
	}
	return reservation{issue: issue, repo: repo, slots: slots}, true
}

func (o *Orchestrator) repoConfig(name string) (config.RepoConfig, bool) {
	for _, repo := range o.cfg.GitHub.Repos {
		if repo.Name == name {
			return repo, true
		}
	}
	return config.RepoConfig{}, false
}

// launch starts every reserved (issue, processor) pipeline and waits for all
// of them to finish.
func (o *Orchestrator) launch(ctx context.Context, reserved []reservation) {
	var wg sync.WaitGroup
	for _, res := range reserved {
		for _, name := range o.enabled {
			wg.Add(1)
			go func(res reservation, name model.ProcessorName) {
				defer wg.Done()
				o.runPipeline(ctx, res, name)
			}(res, name)
		}
	}
	wg.Wait()
}

// runPipeline executes the per-processor pipeline for one reserved issue:
// pre-run labels, start notification, the driver, then terminal
// reconciliation of state and labels.
func (o *Orchestrator) runPipeline(ctx context.Context, res reservation, name model.ProcessorName) {
	issue := res.issue
	proc := o.procs[name]
	log := logging.WithIssue(issue.Number, string(name))

	o.updateLabels(ctx, issue, github.LabelUpdate{
		Add:    []string{name.WorkingLabel()},
		Remove: []string{model.ReadyLabel, name.CompletedLabel(), name.FailedLabel()},
	})

	o.notifier.NotifyStart(ctx, notify.Event{
		IssueNumber: issue.Number,
		Title:       fmt.Sprintf("[%s] %s", proc.DisplayName(), issue.Title),
		RepoName:    issue.RepoName,
	})

	result, err := o.runners[name].Run(ctx, issue.Number, res.slots[name], res.repo)
	if err != nil {
		log.Error("pipeline failed", "error", err)
		o.notifier.NotifyError(ctx, notify.Event{
			IssueNumber: issue.Number,
			RepoName:    issue.RepoName,
			Error:       err.Error(),
		})
		result = &processor.Result{Status: model.StatusFailed}
		o.store.Update(issue.Number, name, func(e *model.IssueState) {
			e.Error = err.Error()
		})
	}

	now := time.Now()
	o.store.Update(issue.Number, name, func(e *model.IssueState) {
		if result.SessionID != "" {
			e.SessionID = result.SessionID
		}
		e.Status = result.Status
		e.EndTime = &now
	})
	if err := o.store.SaveAll(); err != nil {
		log.Error("failed to save state after run", "error", err)
	}

	o.reconcile(ctx, issue, name, result.Status)
}

// reconcile aligns labels, notifications, history, and the state entry with
// the run's terminal status.
func (o *Orchestrator) reconcile(ctx context.Context, issue github.Issue, name model.ProcessorName, status model.ProcessStatus) {
	log := logging.WithIssue(issue.Number, string(name))
	entry := o.store.Get(issue.Number, name)

	switch status {
	case model.StatusCompleted:
		duration := ""
		if entry != nil && entry.EndTime != nil {
			duration = model.FormatDuration(entry.StartTime, *entry.EndTime)
		}
		o.notifier.NotifyComplete(ctx, notify.Event{
			IssueNumber: issue.Number,
			RepoName:    issue.RepoName,
			Duration:    duration,
		})
		o.updateLabels(ctx, issue, github.LabelUpdate{
			Add:    []string{name.CompletedLabel()},
			Remove: []string{name.WorkingLabel()},
		})
		o.finish(issue.Number, name, entry, log)

	case model.StatusNeedsInput:
		output := ""
		if entry != nil {
			output = entry.LastOutput
		}
		o.notifier.NotifyNeedsInput(ctx, notify.Event{
			IssueNumber: issue.Number,
			RepoName:    issue.RepoName,
			Output:      output,
		})
		if o.history != nil && entry != nil {
			o.history.Record(entry)
		}
		// Entry retained until a human intervenes.

	case model.StatusFailed:
		o.updateLabels(ctx, issue, github.LabelUpdate{
			Add:    []string{name.FailedLabel()},
			Remove: []string{name.WorkingLabel(), model.ReadyLabel},
		})
		o.postFailureComment(ctx, issue, name, entry)
		o.finish(issue.Number, name, entry, log)

	default:
		log.Error("driver returned non-terminal status", "status", status)
	}
}

// finish records history, removes the state entry, and persists.
func (o *Orchestrator) finish(issueNumber int, name model.ProcessorName, entry *model.IssueState, log interface {
	Error(msg string, args ...any)
}) {
	if o.history != nil && entry != nil {
		o.history.Record(entry)
	}
	o.store.Remove(issueNumber, name)
	if err := o.store.SaveAll(); err != nil {
		log.Error("failed to save state after reconciliation", "error", err)
	}
}

// postFailureComment leaves a short note on the issue. Best effort.
func (o *Orchestrator) postFailureComment(ctx context.Context, issue github.Issue, name model.ProcessorName, entry *model.IssueState) {
	proc := o.procs[name]
	body := fmt.Sprintf("%s processing failed.", proc.DisplayName())
	if entry != nil && entry.Error != "" {
		body = fmt.Sprintf("%s processing failed: %s", proc.DisplayName(), entry.Error)
	}
	if err := o.gh.CreateComment(ctx, issue.RepoName, issue.Number, body); err != nil {
		logging.WithIssue(issue.Number, string(name)).Warn("failed to post failure comment", "error", err)
	}
}

// updateLabels reconciles labels, logging failures without propagating them.
func (o *Orchestrator) updateLabels(ctx context.Context, issue github.Issue, update github.LabelUpdate) {
	err := github.WithRetry(ctx, o.retry, func() error {
		return o.gh.UpdateLabels(ctx, issue.RepoName, issue.Number, update)
	})
	if err != nil {
		logging.WithComponent("scheduler").Warn("label update failed",
			"issue", issue.Number, "add", update.Add, "remove", update.Remove, "error", err)
	}
}
