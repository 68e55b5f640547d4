// Package archive manages the date-partitioned archive: successful events
// are appended under their creation date, and an age-based lifecycle moves,
// compresses, and eventually deletes partitions.
package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gyaneshwarpardhi/opsbus/internal/event"
	"github.com/gyaneshwarpardhi/opsbus/internal/eventlog"
	"github.com/gyaneshwarpardhi/opsbus/internal/metrics"
	"github.com/gyaneshwarpardhi/opsbus/internal/storage"
)

// Append writes ev into the archive partition keyed by its creation date,
// sub-partitioned by category. Used by the dispatcher on handler success.
func Append(lay storage.Layout, ev *event.Event) error {
	date := ev.Timestamp.Format(storage.DateLayout)
	dir := lay.Partition(date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("archive %s: %w", ev.ID, err)
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("archive %s: %w", ev.ID, err)
	}
	path := filepath.Join(dir, eventlog.Category(ev)+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("archive %s: %w", ev.ID, err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("archive %s: %w", ev.ID, err)
	}
	metrics.EventsArchived.Inc()
	return nil
}
