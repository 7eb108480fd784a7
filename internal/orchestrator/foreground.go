package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/imploid/imploid/internal/config"
	"github.com/imploid/imploid/internal/lockfile"
	"github.com/imploid/imploid/internal/logging"
	"github.com/imploid/imploid/internal/model"
	"github.com/imploid/imploid/internal/notify"
	"github.com/imploid/imploid/internal/state"
)

// ErrLockHeld reports that another Imploid instance owns the lock file.
var ErrLockHeld = errors.New("another instance is already running")

// DefaultPollInterval is the foreground scheduling cadence.
const DefaultPollInterval = 60 * time.Second

// ForegroundRunner drives periodic scheduler ticks under the cross-process
// lock, stopping gracefully on SIGINT/SIGTERM.
type ForegroundRunner struct {
	orch     *Orchestrator
	lock     *lockfile.Manager
	store    *state.Store
	notifier *notify.Fanout
	summary  *config.DailySummaryConfig
	interval time.Duration

	mu      sync.Mutex
	running bool
}

// NewForegroundRunner creates a runner with the default 60s cadence.
// summary may be nil to disable the daily summary.
func NewForegroundRunner(orch *Orchestrator, lock *lockfile.Manager, store *state.Store,
	notifier *notify.Fanout, summary *config.DailySummaryConfig) *ForegroundRunner {
	return &ForegroundRunner{
		orch:     orch,
		lock:     lock,
		store:    store,
		notifier: notifier,
		summary:  summary,
		interval: DefaultPollInterval,
	}
}

// Run acquires the lock and loops until the context ends or a termination
// signal arrives. Each tick is awaited before the timer re-arms; running
// agent children are never cancelled mid-flight. Calling Run while already
// running is an error.
func (f *ForegroundRunner) Run(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return fmt.Errorf("foreground runner already started")
	}
	f.running = true
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.running = false
		f.mu.Unlock()
	}()

	if !f.lock.Acquire() {
		return ErrLockHeld
	}
	defer f.lock.Release()

	log := logging.WithComponent("foreground")
	log.Info("foreground loop started", "interval", f.interval)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	cronRunner := f.startDailySummary(ctx, log)
	if cronRunner != nil {
		defer cronRunner.Stop()
	}

	timer := time.NewTimer(0) // first tick fires immediately
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("context cancelled, stopping")
			return nil
		case sig := <-sigCh:
			log.Info("signal received, stopping", "signal", sig.String())
			return nil
		case <-timer.C:
			if err := f.orch.RunTick(ctx); err != nil {
				log.Error("tick failed", "error", err)
			}
			timer.Reset(f.interval)
		}
	}
}

// startDailySummary schedules the once-a-day activity summary when enabled.
func (f *ForegroundRunner) startDailySummary(ctx context.Context, log interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}) *cron.Cron {
	if f.summary == nil || !f.summary.Enabled {
		return nil
	}

	loc := time.Local
	if f.summary.Timezone != "" {
		parsed, err := time.LoadLocation(f.summary.Timezone)
		if err != nil {
			log.Warn("invalid summary timezone, using local", "timezone", f.summary.Timezone, "error", err)
		} else {
			loc = parsed
		}
	}

	var hour, minute int
	if _, err := fmt.Sscanf(f.summary.Time, "%d:%d", &hour, &minute); err != nil {
		log.Warn("invalid summary time, expected HH:MM", "time", f.summary.Time, "error", err)
		return nil
	}

	c := cron.New(cron.WithLocation(loc))
	spec := fmt.Sprintf("%d %d * * *", minute, hour)
	if _, err := c.AddFunc(spec, func() { f.sendDailySummary(ctx) }); err != nil {
		log.Warn("failed to schedule daily summary", "error", err)
		return nil
	}
	c.Start()
	log.Info("daily summary scheduled", "time", f.summary.Time, "timezone", loc.String())
	return c
}

// sendDailySummary posts a one-message snapshot of active work.
func (f *ForegroundRunner) sendDailySummary(ctx context.Context) {
	active := f.store.ActiveStates()
	text := FormatSummary(active)
	f.notifier.NotifyStart(ctx, notify.Event{Title: text})
}

// FormatSummary renders the active-state snapshot used by the daily summary.
func FormatSummary(active []*model.IssueState) string {
	if len(active) == 0 {
		return "Daily summary: no active issues."
	}
	text := fmt.Sprintf("Daily summary: %d active issue(s).", len(active))
	for _, entry := range active {
		text += fmt.Sprintf("\n• #%d (%s) %s since %s",
			entry.IssueNumber, entry.Processor, entry.Status,
			entry.StartTime.Format("2006-01-02 15:04"))
	}
	return text
}
