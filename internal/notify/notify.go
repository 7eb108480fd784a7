// Package notify fans out lifecycle events to the configured notification
// sinks. Sink failures log and never propagate to the orchestrator.
package notify

import (
	"context"
	"sync"

	"github.com/imploid/imploid/internal/logging"
)

// Event carries everything a sink might render about one issue transition.
// Sinks read the fields they need and ignore the rest.
type Event struct {
	IssueNumber int
	Title       string
	RepoName    string
	Duration    string // "<m>m <s>s", completion only
	Output      string // last observed stdout line, needs-input only
	Error       string // error text, failures only
}

// Sink delivers events to one destination.
type Sink interface {
	Name() string
	NotifyStart(ctx context.Context, ev Event) error
	NotifyComplete(ctx context.Context, ev Event) error
	NotifyNeedsInput(ctx context.Context, ev Event) error
	NotifyError(ctx context.Context, ev Event) error
}

// Fanout broadcasts each event to every sink in parallel.
type Fanout struct {
	sinks []Sink
}

// NewFanout creates a fanout over the given sinks. Zero sinks is valid;
// every notification becomes a no-op.
func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

// NotifyStart broadcasts a start event.
func (f *Fanout) NotifyStart(ctx context.Context, ev Event) {
	f.broadcast(ctx, "start", ev, Sink.NotifyStart)
}

// NotifyComplete broadcasts a completion event.
func (f *Fanout) NotifyComplete(ctx context.Context, ev Event) {
	f.broadcast(ctx, "complete", ev, Sink.NotifyComplete)
}

// NotifyNeedsInput broadcasts a needs-input event.
func (f *Fanout) NotifyNeedsInput(ctx context.Context, ev Event) {
	f.broadcast(ctx, "needs_input", ev, Sink.NotifyNeedsInput)
}

// NotifyError broadcasts an error event.
func (f *Fanout) NotifyError(ctx context.Context, ev Event) {
	f.broadcast(ctx, "error", ev, Sink.NotifyError)
}

func (f *Fanout) broadcast(ctx context.Context, kind string, ev Event, send func(Sink, context.Context, Event) error) {
	var wg sync.WaitGroup
	for _, sink := range f.sinks {
		wg.Add(1)
		go func(s Sink) {
			defer wg.Done()
			if err := send(s, ctx, ev); err != nil {
				logging.WithComponent("notify").Warn("notification failed",
					"sink", s.Name(), "kind", kind, "issue", ev.IssueNumber, "error", err)
			}
		}(sink)
	}
	wg.Wait()
}

// Truncate bounds s to max runes, appending marker when it was cut.
func Truncate(s string, max int, marker string) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + marker
}
