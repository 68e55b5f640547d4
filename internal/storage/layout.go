// Package storage defines the on-disk layout shared by the logger, queue
// store, archiver, and replay engine.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// Layout maps the storage root to the directories every component agrees on:
//
//	logs/<namespace>.jsonl      append-only category logs
//	queue/pending/<id>.json     one file per pending event
//	queue/claimed/<id>.json     claimed, handler in flight
//	queue/parked/<id>.json      handler failed, kept for inspection
//	queue/tmp/                  staging for atomic publishes
//	archive/<YYYY-MM-DD>/<namespace>.jsonl[.gz]
type Layout struct {
	Root string
}

// DateLayout is the calendar-day partition name format.
const DateLayout = "2006-01-02"

func (l Layout) LogsDir() string    { return filepath.Join(l.Root, "logs") }
func (l Layout) PendingDir() string { return filepath.Join(l.Root, "queue", "pending") }
func (l Layout) ClaimedDir() string { return filepath.Join(l.Root, "queue", "claimed") }
func (l Layout) ParkedDir() string  { return filepath.Join(l.Root, "queue", "parked") }
func (l Layout) TmpDir() string     { return filepath.Join(l.Root, "queue", "tmp") }
func (l Layout) ArchiveDir() string { return filepath.Join(l.Root, "archive") }

// CategoryLog returns the active log path for a namespace.
func (l Layout) CategoryLog(namespace string) string {
	return filepath.Join(l.LogsDir(), namespace+".jsonl")
}

// Partition returns the archive directory for a calendar date string.
func (l Layout) Partition(date string) string {
	return filepath.Join(l.ArchiveDir(), date)
}

// PendingFile returns the pending-unit path for an event id.
func (l Layout) PendingFile(id string) string {
	return filepath.Join(l.PendingDir(), id+".json")
}

// ClaimedFile returns the claimed-unit path for an event id.
func (l Layout) ClaimedFile(id string) string {
	return filepath.Join(l.ClaimedDir(), id+".json")
}

// ParkedFile returns the parked-unit path for an event id.
func (l Layout) ParkedFile(id string) string {
	return filepath.Join(l.ParkedDir(), id+".json")
}

// Ensure creates the directory tree. Storage-root inaccessibility is the one
// fatal condition in the system; callers abort the invocation on error.
func (l Layout) Ensure() error {
	for _, dir := range []string{
		l.LogsDir(), l.PendingDir(), l.ClaimedDir(), l.ParkedDir(), l.TmpDir(), l.ArchiveDir(),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("storage root %s inaccessible: %w", l.Root, err)
		}
	}
	return nil
}
