package event

import (
	"fmt"
	"sort"
	"sync"
)

// Namespaces is the closed set of log/routing partitions. "unknown" is not a
// namespace: it is the defense-in-depth fallback log for records that should
// never exist.
var Namespaces = []string{"worker", "task", "security", "routing", "learning", "system", "daemon"}

// Taxonomy is the closed, versioned set of event types the bus will durably
// log. Types are registered at startup; adding one is a checked change, not
// a stringly-typed drive-by. Safe for concurrent reads after registration.
type Taxonomy struct {
	mu      sync.RWMutex
	version string
	types   map[string]struct{}
}

// NewTaxonomy creates an empty taxonomy with the given version tag.
func NewTaxonomy(version string) *Taxonomy {
	return &Taxonomy{version: version, types: make(map[string]struct{})}
}

// Register adds event types. Panics on a type outside the known namespaces
// or on a duplicate, to surface misconfiguration at startup.
func (t *Taxonomy) Register(types ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, typ := range types {
		ns := Namespace(typ)
		if !knownNamespace(ns) {
			panic(fmt.Sprintf("taxonomy: type %q has unknown namespace %q", typ, ns))
		}
		if _, exists := t.types[typ]; exists {
			panic(fmt.Sprintf("taxonomy: duplicate type %q", typ))
		}
		t.types[typ] = struct{}{}
	}
}

// Contains reports whether typ is a registered event type.
func (t *Taxonomy) Contains(typ string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.types[typ]
	return ok
}

// Version returns the taxonomy version tag.
func (t *Taxonomy) Version() string { return t.version }

// Types returns all registered types, sorted.
func (t *Taxonomy) Types() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.types))
	for typ := range t.types {
		out = append(out, typ)
	}
	sort.Strings(out)
	return out
}

func knownNamespace(ns string) bool {
	for _, n := range Namespaces {
		if n == ns {
			return true
		}
	}
	return false
}

// DefaultTaxonomy returns the event types the automation fleet emits today.
func DefaultTaxonomy() *Taxonomy {
	t := NewTaxonomy("v2")
	t.Register(
		"worker.heartbeat",
		"worker.started",
		"worker.stopped",
		"worker.restarted",
		"worker.unresponsive",
		"task.created",
		"task.assigned",
		"task.completed",
		"task.failed",
		"security.scan_started",
		"security.scan_completed",
		"security.vulnerability_found",
		"security.remediation_applied",
		"routing.model_selected",
		"routing.fallback_triggered",
		"learning.pattern_detected",
		"learning.index_rebuilt",
		"system.config_changed",
		"system.disk_pressure",
		"system.maintenance_window",
		"daemon.started",
		"daemon.stopped",
		"daemon.sweep_completed",
	)
	return t
}
