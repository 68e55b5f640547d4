// Package event defines the canonical event record, its identifier grammar,
// the closed type taxonomy, and validation of raw event documents.
package event

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is the sole entity moving through the bus. Once logged it is
// immutable; every storage representation is this struct serialized as a
// single JSON line.
type Event struct {
	ID            string                 `json:"event_id"`
	Type          string                 `json:"event_type"`
	Timestamp     time.Time              `json:"timestamp"`
	Source        string                 `json:"source"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Payload       map[string]interface{} `json:"payload"`
}

// Priority orders pending events within a dispatch sweep.
type Priority string

const (
	Critical Priority = "critical"
	High     Priority = "high"
	Medium   Priority = "medium"
	Low      Priority = "low"
)

// Rank returns a sortable weight; higher runs first.
func (p Priority) Rank() int {
	switch p {
	case Critical:
		return 3
	case High:
		return 2
	case Medium:
		return 1
	case Low:
		return 0
	}
	return -1
}

// Valid reports whether p is one of the four recognized levels.
func (p Priority) Valid() bool { return p.Rank() >= 0 }

// ParsePriority maps a string to a Priority, defaulting to Medium for the
// empty string. Unrecognized values are an error, not a silent default.
func ParsePriority(s string) (Priority, error) {
	if s == "" {
		return Medium, nil
	}
	p := Priority(s)
	if !p.Valid() {
		return "", fmt.Errorf("unrecognized priority %q (want critical|high|medium|low)", s)
	}
	return p, nil
}

// Priority reads metadata.priority, defaulting to Medium when absent or
// malformed. Dispatch ordering must never fail on a metadata typo.
func (e *Event) Priority() Priority {
	if e.Metadata == nil {
		return Medium
	}
	s, _ := e.Metadata["priority"].(string)
	if p := Priority(s); p.Valid() {
		return p
	}
	return Medium
}

// Namespace returns the dot-prefixed first segment of the event type,
// e.g. "worker" for "worker.heartbeat".
func (e *Event) Namespace() string {
	return Namespace(e.Type)
}

// Namespace extracts the first dot segment of an event type string.
func Namespace(eventType string) string {
	if i := strings.IndexByte(eventType, '.'); i > 0 {
		return eventType[:i]
	}
	return eventType
}

// timeLayout is the compact creation instant embedded in event ids.
const timeLayout = "20060102150405"

// NewID generates a fresh event identifier of the form
// evt_<YYYYMMDDHHMMSS>_<16 hex chars>. The 64-bit random suffix makes
// collisions negligible even within a single second, and the time prefix
// keeps ids sortable by creation order.
func NewID() string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
	return fmt.Sprintf("evt_%s_%s", time.Now().UTC().Format(timeLayout), suffix)
}

// New constructs an event with a fresh id and the current timestamp.
// It is pure apart from reading the clock; nothing is persisted.
func New(eventType, source string, payload map[string]interface{}, correlationID string, priority Priority) *Event {
	if !priority.Valid() {
		priority = Medium
	}
	ev := &Event{
		ID:            NewID(),
		Type:          eventType,
		Timestamp:     time.Now(),
		Source:        source,
		CorrelationID: correlationID,
		Metadata:      map[string]interface{}{"priority": string(priority)},
		Payload:       payload,
	}
	if ev.Payload == nil {
		ev.Payload = map[string]interface{}{}
	}
	return ev
}
