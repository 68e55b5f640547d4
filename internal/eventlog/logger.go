// Package eventlog durably records events: one append to the permanent
// category log, then one pending unit in the queue store. The permanent
// write always happens first, so a crash between the two can never leave a
// queued-but-unrecorded event.
package eventlog

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/gyaneshwarpardhi/opsbus/internal/event"
	"github.com/gyaneshwarpardhi/opsbus/internal/metrics"
	"github.com/gyaneshwarpardhi/opsbus/internal/queue"
	"github.com/gyaneshwarpardhi/opsbus/internal/storage"
)

// UnknownCategory is the defense-in-depth fallback log. Validation rejects
// out-of-taxonomy types before they reach Log, so lines landing here mean a
// producer bypassed the boundary.
const UnknownCategory = "unknown"

// Logger appends canonical event records to per-namespace logs and enqueues
// pending units for dispatch.
type Logger struct {
	lay storage.Layout
	q   *queue.Store
}

// New creates a Logger writing under lay and enqueueing into q.
func New(lay storage.Layout, q *queue.Store) *Logger {
	return &Logger{lay: lay, q: q}
}

// Category maps an event to its log partition: the type's namespace when
// recognized, the unknown fallback otherwise.
func Category(ev *event.Event) string {
	ns := ev.Namespace()
	for _, known := range event.Namespaces {
		if ns == known {
			return ns
		}
	}
	return UnknownCategory
}

// Log durably records ev: category log first, queue second. Category logs
// are append-only; concurrent producers are safe given atomic line-level
// appends on the host filesystem.
func (l *Logger) Log(ev *event.Event) error {
	cat := Category(ev)
	if err := l.append(cat, ev); err != nil {
		return err
	}
	if err := l.q.Enqueue(ev); err != nil {
		return fmt.Errorf("log %s: recorded but not enqueued: %w", ev.ID, err)
	}
	metrics.EventsEmitted.WithLabelValues(cat).Inc()
	return nil
}

func (l *Logger) append(category string, ev *event.Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("log %s: %w", ev.ID, err)
	}
	f, err := os.OpenFile(l.lay.CategoryLog(category), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("log %s: open category log %s: %w", ev.ID, category, err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("log %s: append to %s: %w", ev.ID, category, err)
	}
	return nil
}
