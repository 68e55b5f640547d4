package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Trigger decides when the next sweep runs. Sweep itself is one pass and
// terminates; scheduling recurrence is entirely the trigger's job, which
// keeps sweeps directly testable without timers.
type Trigger interface {
	// Run calls fire whenever a sweep is due, until ctx is done.
	Run(ctx context.Context, fire func()) error
}

// IntervalTrigger fires immediately and then on a fixed period. It stands
// in for the external cron the storage-only deployment uses.
type IntervalTrigger struct {
	Every time.Duration
}

func (t IntervalTrigger) Run(ctx context.Context, fire func()) error {
	fire()
	ticker := time.NewTicker(t.Every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fire()
		case <-ctx.Done():
			return nil
		}
	}
}

// WatchTrigger fires when the pending queue directory changes, coalescing
// bursts of enqueues into one sweep. It fires once at startup to drain any
// backlog that predates the watch.
type WatchTrigger struct {
	Dir      string
	Debounce time.Duration
}

func (t WatchTrigger) Run(ctx context.Context, fire func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("queue watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(t.Dir); err != nil {
		return fmt.Errorf("queue watcher add %s: %w", t.Dir, err)
	}

	debounce := t.Debounce
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false

	fire()
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				if !armed {
					timer.Reset(debounce)
					armed = true
				}
			}
		case <-timer.C:
			armed = false
			fire()
		case <-w.Errors:
			// Watcher errors are transient; the next event still fires.
		case <-ctx.Done():
			return nil
		}
	}
}
