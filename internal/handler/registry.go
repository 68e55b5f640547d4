package handler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/gyaneshwarpardhi/opsbus/internal/event"
)

// CatchAllName is the handler every validly-typed but unbound event routes
// to. Routing there is a visible signal of incomplete coverage, not a drop.
const CatchAllName = "unhandled"

// Registry is the static map from event-type patterns to handlers. Patterns
// are either an exact type ("worker.heartbeat") or a namespace wildcard
// ("worker.*"); the most specific match wins. Bind should only be called at
// startup; Resolve is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	exact    map[string]Handler
	wildcard map[string]Handler
	catchAll Handler
}

// NewRegistry creates a Registry whose catch-all logs the uncovered event
// and succeeds, so the event still archives while the gap stays visible.
func NewRegistry() *Registry {
	return &Registry{
		exact:    make(map[string]Handler),
		wildcard: make(map[string]Handler),
		catchAll: NewFunc(CatchAllName, func(_ context.Context, ev *event.Event) error {
			slog.Warn("no handler bound for event type", "event_type", ev.Type, "event_id", ev.ID)
			return nil
		}),
	}
}

// Bind registers h under pattern. Panics on a malformed pattern or a
// duplicate binding to surface misconfiguration early.
func (r *Registry) Bind(pattern string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ns, ok := strings.CutSuffix(pattern, ".*"); ok {
		if ns == "" || strings.Contains(ns, ".") {
			panic(fmt.Sprintf("handler registry: malformed wildcard pattern %q", pattern))
		}
		if _, exists := r.wildcard[ns]; exists {
			panic(fmt.Sprintf("handler registry: duplicate pattern %q", pattern))
		}
		r.wildcard[ns] = h
		return
	}
	if !strings.Contains(pattern, ".") {
		panic(fmt.Sprintf("handler registry: pattern %q is neither an event type nor a namespace wildcard", pattern))
	}
	if _, exists := r.exact[pattern]; exists {
		panic(fmt.Sprintf("handler registry: duplicate pattern %q", pattern))
	}
	r.exact[pattern] = h
}

// SetCatchAll replaces the default unhandled action.
func (r *Registry) SetCatchAll(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.catchAll = h
}

// Resolve returns the handler for eventType, preferring an exact binding
// over a namespace wildcard, falling back to the catch-all. The second
// return reports whether a real binding matched.
func (r *Registry) Resolve(eventType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.exact[eventType]; ok {
		return h, true
	}
	if h, ok := r.wildcard[event.Namespace(eventType)]; ok {
		return h, true
	}
	return r.catchAll, false
}

// Patterns returns all bound patterns, sorted, for inspection output.
func (r *Registry) Patterns() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.exact)+len(r.wildcard))
	for p := range r.exact {
		out = append(out, p)
	}
	for ns := range r.wildcard {
		out = append(out, ns+".*")
	}
	sort.Strings(out)
	return out
}
