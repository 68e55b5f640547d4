// Package replay reads historical events back out of the archive and active
// logs, and optionally re-invokes their handlers. It never writes to the
// category logs or the queue: a replayed event is not a new event.
package replay

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gyaneshwarpardhi/opsbus/internal/event"
	"github.com/gyaneshwarpardhi/opsbus/internal/handler"
	"github.com/gyaneshwarpardhi/opsbus/internal/metrics"
	"github.com/gyaneshwarpardhi/opsbus/internal/storage"
)

// ErrNoMatch means the filter selected no events: nothing to replay.
var ErrNoMatch = errors.New("no events matched filter")

// Mode selects between reporting and re-invocation.
type Mode string

const (
	// DryRun reports the resolved handler and event with zero side effects.
	DryRun Mode = "dry_run"
	// Invoke re-executes the dispatcher's resolution and invocation path
	// against the historical event. Handlers are required by contract to be
	// idempotent with respect to event_id.
	Invoke Mode = "invoke"
)

// Filter selects historical events. Zero-value fields match everything.
type Filter struct {
	ID            string // exact event id
	Date          string // calendar date of creation (YYYY-MM-DD)
	TypeGlob      string // exact type or glob, e.g. "worker.*"
	Source        string
	CorrelationID string
	Priority      event.Priority
}

func (f Filter) matches(ev *event.Event) bool {
	if f.ID != "" && ev.ID != f.ID {
		return false
	}
	if f.Date != "" && ev.Timestamp.Format(storage.DateLayout) != f.Date {
		return false
	}
	if f.TypeGlob != "" {
		if ok, err := path.Match(f.TypeGlob, ev.Type); err != nil || !ok {
			return false
		}
	}
	if f.Source != "" && ev.Source != f.Source {
		return false
	}
	if f.CorrelationID != "" && ev.CorrelationID != f.CorrelationID {
		return false
	}
	if f.Priority != "" && ev.Priority() != f.Priority {
		return false
	}
	return true
}

// Result describes one replayed (or dry-run) event.
type Result struct {
	Event   *event.Event
	Handler string
	Matched bool // a real binding matched, not the catch-all
	Err     error
}

// Engine reads archived history and resolves handlers exactly the way the
// dispatcher does.
type Engine struct {
	lay storage.Layout
	reg *handler.Registry
}

// New creates a replay Engine over the storage layout and handler registry.
func New(lay storage.Layout, reg *handler.Registry) *Engine {
	return &Engine{lay: lay, reg: reg}
}

// Select streams every event matching f, in archive order followed by the
// active logs, to visit. Compressed partitions are decompressed
// transparently. Records duplicated between the archive and an active log
// are emitted once, keyed by event id. visit returning false stops the
// scan early. The returned count is the number of events visited;
// ErrNoMatch when it is zero.
func (e *Engine) Select(ctx context.Context, f Filter, visit func(*event.Event) bool) (int, error) {
	seen := make(map[string]struct{})
	matched := 0
	stopped := false

	emit := func(ev *event.Event) bool {
		if !f.matches(ev) {
			return true
		}
		if _, dup := seen[ev.ID]; dup {
			return true
		}
		seen[ev.ID] = struct{}{}
		matched++
		if !visit(ev) {
			stopped = true
			return false
		}
		return true
	}

	for _, dir := range e.partitions(f) {
		if err := ctx.Err(); err != nil {
			return matched, err
		}
		if err := e.scanPartition(dir, emit); err != nil {
			return matched, err
		}
		if stopped {
			return matched, nil
		}
	}

	logs, err := filepath.Glob(filepath.Join(e.lay.LogsDir(), "*.jsonl"))
	if err != nil {
		return matched, err
	}
	for _, log := range logs {
		if err := ctx.Err(); err != nil {
			return matched, err
		}
		if err := scanFile(log, emit); err != nil {
			return matched, err
		}
		if stopped {
			return matched, nil
		}
	}

	if matched == 0 {
		return 0, ErrNoMatch
	}
	return matched, nil
}

// SelectAll collects every match into a slice.
func (e *Engine) SelectAll(ctx context.Context, f Filter) ([]*event.Event, error) {
	var out []*event.Event
	_, err := e.Select(ctx, f, func(ev *event.Event) bool {
		out = append(out, ev)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Replay resolves ev's handler and, in Invoke mode, runs it through the
// same isolation boundary the dispatcher uses. Neither mode touches the
// category logs, the queue, or the archive.
func (e *Engine) Replay(ctx context.Context, ev *event.Event, mode Mode) *Result {
	h, matched := e.reg.Resolve(ev.Type)
	res := &Result{Event: ev, Handler: h.Name(), Matched: matched}
	if mode == DryRun {
		metrics.EventsReplayed.WithLabelValues(string(DryRun)).Inc()
		return res
	}
	res.Err = handler.Invoke(ctx, h, ev)
	metrics.EventsReplayed.WithLabelValues(string(Invoke)).Inc()
	return res
}

// partitions returns the archive directories to scan, narrowed to one when
// the filter names a date.
func (e *Engine) partitions(f Filter) []string {
	if f.Date != "" {
		return []string{e.lay.Partition(f.Date)}
	}
	entries, err := os.ReadDir(e.lay.ArchiveDir())
	if err != nil {
		return nil
	}
	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, e.lay.Partition(entry.Name()))
		}
	}
	return dirs
}

func (e *Engine) scanPartition(dir string, emit func(*event.Event) bool) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil // date filter for a day with no partition
		}
		return err
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !(strings.HasSuffix(name, ".jsonl") || strings.HasSuffix(name, ".jsonl.gz")) {
			continue
		}
		if err := scanFile(filepath.Join(dir, name), emit); err != nil {
			return err
		}
	}
	return nil
}

// scanFile streams JSON lines from a plain or gzipped record file.
func scanFile(path string, emit func(*event.Event) bool) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gr, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("decompress %s: %w", path, err)
		}
		defer gr.Close()
		r = gr
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	for sc.Scan() {
		var ev event.Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			continue // damaged line, skip
		}
		if !emit(&ev) {
			return nil
		}
	}
	return sc.Err()
}
