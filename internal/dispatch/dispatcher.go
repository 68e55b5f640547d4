// Package dispatch runs one priority-ordered pass over the pending queue,
// claiming events, invoking their handlers, and archiving or parking each
// one. When the next pass runs is a Trigger concern, never Sweep's.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/gyaneshwarpardhi/opsbus/internal/archive"
	"github.com/gyaneshwarpardhi/opsbus/internal/event"
	"github.com/gyaneshwarpardhi/opsbus/internal/handler"
	"github.com/gyaneshwarpardhi/opsbus/internal/metrics"
	"github.com/gyaneshwarpardhi/opsbus/internal/queue"
	"github.com/gyaneshwarpardhi/opsbus/internal/storage"
)

// Summary reports the outcome of one sweep.
type Summary struct {
	Pending   int
	Processed int
	Failed    int
	Conflicts int
	Unhandled int
}

// HadFailures reports whether any handler failed during the sweep.
func (s *Summary) HadFailures() bool { return s.Failed > 0 }

// Dispatcher claims and processes pending events.
type Dispatcher struct {
	lay storage.Layout
	q   *queue.Store
	reg *handler.Registry
}

// New creates a Dispatcher over the queue store and handler registry.
func New(lay storage.Layout, q *queue.Store, reg *handler.Registry) *Dispatcher {
	return &Dispatcher{lay: lay, q: q, reg: reg}
}

// Sweep performs exactly one pass: list pending events, order by priority
// rank then creation time, and for each one claim → resolve → invoke →
// archive or park. A lost claim means a concurrent sweep owns the event
// and is skipped silently. A handler failure parks that event and the
// sweep continues; nothing aborts the remaining events.
func (d *Dispatcher) Sweep(ctx context.Context) (*Summary, error) {
	start := time.Now()
	events, err := d.q.List()
	if err != nil {
		return nil, err
	}
	metrics.PendingDepth.Set(float64(len(events)))

	sort.SliceStable(events, func(i, j int) bool {
		ri, rj := events[i].Priority().Rank(), events[j].Priority().Rank()
		if ri != rj {
			return ri > rj
		}
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.Before(events[j].Timestamp)
		}
		return events[i].ID < events[j].ID
	})

	sum := &Summary{Pending: len(events)}
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		d.process(ctx, ev, sum)
	}

	metrics.Sweeps.Inc()
	metrics.SweepDuration.Observe(float64(time.Since(start).Milliseconds()))
	slog.Info("sweep completed",
		"pending", sum.Pending, "processed", sum.Processed,
		"failed", sum.Failed, "conflicts", sum.Conflicts, "unhandled", sum.Unhandled)
	return sum, nil
}

func (d *Dispatcher) process(ctx context.Context, ev *event.Event, sum *Summary) {
	claimed, err := d.q.Claim(ev.ID)
	if err != nil {
		if errors.Is(err, queue.ErrClaimConflict) {
			sum.Conflicts++
			metrics.ClaimConflicts.Inc()
			slog.Debug("claim lost to concurrent sweep", "event_id", ev.ID)
			return
		}
		sum.Failed++
		slog.Error("claim failed", "event_id", ev.ID, "err", err)
		return
	}
	metrics.EventsClaimed.Inc()

	h, matched := d.reg.Resolve(claimed.Type)
	if !matched {
		sum.Unhandled++
	}

	if err := handler.Invoke(ctx, h, claimed); err != nil {
		metrics.HandlerInvocations.WithLabelValues(h.Name(), "error").Inc()
		d.park(claimed.ID, err.Error(), sum)
		slog.Warn("handler failed, event parked", "event_id", claimed.ID, "handler", h.Name(), "err", err)
		return
	}
	metrics.HandlerInvocations.WithLabelValues(h.Name(), "success").Inc()

	if err := archive.Append(d.lay, claimed); err != nil {
		// The event must stay enumerable: park it rather than lose it
		// between claimed and archived.
		d.park(claimed.ID, "archive append failed: "+err.Error(), sum)
		slog.Error("archive append failed, event parked", "event_id", claimed.ID, "err", err)
		return
	}
	if err := d.q.Resolve(claimed.ID); err != nil {
		sum.Failed++
		slog.Error("resolve failed after archive", "event_id", claimed.ID, "err", err)
		return
	}
	sum.Processed++
}

func (d *Dispatcher) park(id, reason string, sum *Summary) {
	sum.Failed++
	if err := d.q.Park(id, reason); err != nil {
		// Still claimed on disk; an operator can park or replay it by hand.
		slog.Error("park failed, event left claimed", "event_id", id, "err", err)
		return
	}
	metrics.EventsParked.Inc()
}
