package event

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// ValidationError names the first rule a raw event document violated.
// It is always surfaced to the caller and never persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event: field %q: %s", e.Field, e.Reason)
}

var idPattern = regexp.MustCompile(`^evt_\d{14}_[0-9a-f]{12,32}$`)

// ValidID reports whether id matches the canonical event id grammar.
func ValidID(id string) bool { return idPattern.MatchString(id) }

type rawEvent struct {
	ID            string                 `json:"event_id"`
	Type          string                 `json:"event_type"`
	Timestamp     string                 `json:"timestamp"`
	Source        string                 `json:"source"`
	CorrelationID string                 `json:"correlation_id"`
	Metadata      map[string]interface{} `json:"metadata"`
	Payload       map[string]interface{} `json:"payload"`
}

// Validate checks a raw JSON document against the event contract and returns
// the parsed Event. Rules are checked in order: well-formed document,
// required fields present and non-empty, id grammar, timestamp parses,
// type registered in the taxonomy. The first violation wins.
func Validate(raw []byte, tax *Taxonomy) (*Event, error) {
	var re rawEvent
	if err := json.Unmarshal(raw, &re); err != nil {
		return nil, &ValidationError{Field: "(document)", Reason: fmt.Sprintf("not a valid JSON object: %v", err)}
	}
	for _, f := range []struct{ name, val string }{
		{"event_id", re.ID},
		{"event_type", re.Type},
		{"timestamp", re.Timestamp},
		{"source", re.Source},
	} {
		if f.val == "" {
			return nil, &ValidationError{Field: f.name, Reason: "required field missing or empty"}
		}
	}
	if !ValidID(re.ID) {
		return nil, &ValidationError{Field: "event_id", Reason: fmt.Sprintf("%q does not match evt_<YYYYMMDDHHMMSS>_<hex suffix>", re.ID)}
	}
	ts, err := time.Parse(time.RFC3339, re.Timestamp)
	if err != nil {
		return nil, &ValidationError{Field: "timestamp", Reason: fmt.Sprintf("%q is not an ISO-8601 instant", re.Timestamp)}
	}
	if !tax.Contains(re.Type) {
		return nil, &ValidationError{Field: "event_type", Reason: fmt.Sprintf("%q is not in the event taxonomy (%s)", re.Type, tax.Version())}
	}
	ev := &Event{
		ID:            re.ID,
		Type:          re.Type,
		Timestamp:     ts,
		Source:        re.Source,
		CorrelationID: re.CorrelationID,
		Metadata:      re.Metadata,
		Payload:       re.Payload,
	}
	if ev.Payload == nil {
		ev.Payload = map[string]interface{}{}
	}
	return ev, nil
}

// ValidateEvent re-checks an already-constructed event. Used as the
// last gate before a durable write.
func ValidateEvent(ev *Event, tax *Taxonomy) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return &ValidationError{Field: "(document)", Reason: err.Error()}
	}
	_, err = Validate(raw, tax)
	return err
}
