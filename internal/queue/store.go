// Package queue is the durable mailbox of pending events. Each event is one
// file named by its id; the exclusive claim is an atomic rename, so under
// concurrent sweeps exactly one caller ever wins a given id.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/opsbus/internal/event"
	"github.com/gyaneshwarpardhi/opsbus/internal/storage"
)

// ErrClaimConflict means another sweep claimed the event first. Expected
// under overlapping schedule ticks; callers skip, they do not report.
var ErrClaimConflict = errors.New("event already claimed")

// ErrNotClaimed means the id has no claimed unit to park or resolve.
var ErrNotClaimed = errors.New("event not in claimed state")

// Store reads and writes the pending/claimed/parked partitions under one
// storage root. Safe for concurrent use by multiple processes.
type Store struct {
	lay storage.Layout
}

// Parked wraps a claimed event whose handler failed, with the recorded
// failure reason. Retained for inspection and replay, never silently dropped.
type Parked struct {
	Event    *event.Event `json:"event"`
	Reason   string       `json:"reason"`
	ParkedAt time.Time    `json:"parked_at"`
}

// New creates a Store over the given layout.
func New(lay storage.Layout) *Store {
	return &Store{lay: lay}
}

// Enqueue publishes one pending unit for ev. The write is staged in the tmp
// directory and renamed into pending/ so a listing never observes a partial
// file.
func (s *Store) Enqueue(ev *event.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", ev.ID, err)
	}
	tmp := filepath.Join(s.lay.TmpDir(), ev.ID+".json")
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("enqueue %s: %w", ev.ID, err)
	}
	if err := os.Rename(tmp, s.lay.PendingFile(ev.ID)); err != nil {
		return fmt.Errorf("enqueue %s: %w", ev.ID, err)
	}
	return nil
}

// List returns every pending event. Unreadable or malformed units are
// skipped rather than failing the listing; they stay on disk for a human.
func (s *Store) List() ([]*event.Event, error) {
	entries, err := os.ReadDir(s.lay.PendingDir())
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	events := make([]*event.Event, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ev, err := readEvent(filepath.Join(s.lay.PendingDir(), e.Name()))
		if err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// Claim takes exclusive ownership of a pending event by renaming its unit
// into the claimed partition. The rename either succeeds or fails with
// ENOENT when a concurrent claimer won; there is no state in which two
// callers both succeed.
func (s *Store) Claim(id string) (*event.Event, error) {
	src := s.lay.PendingFile(id)
	dst := s.lay.ClaimedFile(id)
	if err := os.Rename(src, dst); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrClaimConflict
		}
		return nil, fmt.Errorf("claim %s: %w", id, err)
	}
	ev, err := readEvent(dst)
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", id, err)
	}
	return ev, nil
}

// Resolve removes the claimed unit after its event was archived. The event
// leaves the queue entirely; its permanent record lives in the category log
// and the archive partition.
func (s *Store) Resolve(id string) error {
	if err := os.Remove(s.lay.ClaimedFile(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotClaimed
		}
		return fmt.Errorf("resolve %s: %w", id, err)
	}
	return nil
}

// Park moves a claimed event into the error partition with the failure
// reason attached. The parked unit is staged and renamed so an interrupted
// run leaves the event either claimed or parked, never in both or neither.
func (s *Store) Park(id, reason string) error {
	ev, err := readEvent(s.lay.ClaimedFile(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotClaimed
		}
		return fmt.Errorf("park %s: %w", id, err)
	}
	data, err := json.Marshal(Parked{Event: ev, Reason: reason, ParkedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("park %s: %w", id, err)
	}
	tmp := filepath.Join(s.lay.TmpDir(), id+".parked.json")
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("park %s: %w", id, err)
	}
	if err := os.Rename(tmp, s.lay.ParkedFile(id)); err != nil {
		return fmt.Errorf("park %s: %w", id, err)
	}
	if err := os.Remove(s.lay.ClaimedFile(id)); err != nil {
		return fmt.Errorf("park %s: remove claimed unit: %w", id, err)
	}
	return nil
}

// ListParked returns every parked unit.
func (s *Store) ListParked() ([]*Parked, error) {
	entries, err := os.ReadDir(s.lay.ParkedDir())
	if err != nil {
		return nil, fmt.Errorf("list parked: %w", err)
	}
	parked := make([]*Parked, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.lay.ParkedDir(), e.Name()))
		if err != nil {
			continue
		}
		var p Parked
		if err := json.Unmarshal(data, &p); err != nil || p.Event == nil {
			continue
		}
		parked = append(parked, &p)
	}
	return parked, nil
}

func readEvent(path string) (*event.Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ev event.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return &ev, nil
}
