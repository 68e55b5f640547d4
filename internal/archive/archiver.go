package archive

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/opsbus/internal/config"
	"github.com/gyaneshwarpardhi/opsbus/internal/event"
	"github.com/gyaneshwarpardhi/opsbus/internal/queue"
	"github.com/gyaneshwarpardhi/opsbus/internal/storage"
)

// Mode selects which lifecycle transitions a run performs.
type Mode string

const (
	ModeFull         Mode = "full"
	ModeCompressOnly Mode = "compress-only"
	ModeCleanupOnly  Mode = "cleanup-only"
)

// ParseMode validates a mode string from the CLI.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeFull, ModeCompressOnly, ModeCleanupOnly:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unrecognized archive mode %q (want full|compress-only|cleanup-only)", s)
}

// Summary reports what one archiver run did (or, under dry run, would do).
type Summary struct {
	MovedLines    int
	Rotated       int
	Compressed    int
	Deleted       int
	SkippedParked int
	Planned       []string
	Errors        []error
}

// Failed reports whether any partition-level operation failed.
func (s *Summary) Failed() bool { return len(s.Errors) > 0 }

// Archiver applies the age-based lifecycle: active-log lines older than
// ArchiveAge move into dated partitions, partitions older than CompressAge
// are gzipped in place, partitions older than DeleteAge are removed, and
// any oversized active log rotates immediately. Ages are measured from
// event creation time. A partition still holding the creation date of an
// unresolved parked event is never compressed or deleted.
type Archiver struct {
	lay storage.Layout
	cfg *config.Config
	q   *queue.Store

	// Now is the clock; overridable in tests.
	Now func() time.Time
}

// New creates an Archiver over the layout described by cfg.
func New(cfg *config.Config, q *queue.Store) *Archiver {
	return &Archiver{
		lay: storage.Layout{Root: cfg.Root},
		cfg: cfg,
		q:   q,
		Now: time.Now,
	}
}

// Run performs one archiver pass. Per-partition failures are collected in
// the summary and the pass continues; only a storage-root listing failure
// aborts. With dryRun set, planned transitions are reported and nothing on
// disk changes.
func (a *Archiver) Run(ctx context.Context, mode Mode, dryRun bool) (*Summary, error) {
	sum := &Summary{}
	parked, err := a.parkedDates()
	if err != nil {
		return nil, err
	}

	if mode == ModeFull {
		if err := a.drainActiveLogs(ctx, sum, dryRun); err != nil {
			return nil, err
		}
	}
	if mode == ModeFull || mode == ModeCompressOnly {
		if err := a.compressPartitions(ctx, sum, parked, dryRun); err != nil {
			return nil, err
		}
	}
	if mode == ModeFull || mode == ModeCleanupOnly {
		if err := a.deletePartitions(ctx, sum, parked, dryRun); err != nil {
			return nil, err
		}
	}
	return sum, nil
}

// parkedDates returns the creation dates of all unresolved parked events.
func (a *Archiver) parkedDates() (map[string]bool, error) {
	parked, err := a.q.ListParked()
	if err != nil {
		return nil, err
	}
	dates := make(map[string]bool, len(parked))
	for _, p := range parked {
		dates[p.Event.Timestamp.Format(storage.DateLayout)] = true
	}
	return dates, nil
}

// drainActiveLogs moves aged lines out of every active category log and
// rotates any log over the size bound.
func (a *Archiver) drainActiveLogs(ctx context.Context, sum *Summary, dryRun bool) error {
	entries, err := os.ReadDir(a.lay.LogsDir())
	if err != nil {
		return fmt.Errorf("list active logs: %w", err)
	}
	for _, e := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		category := strings.TrimSuffix(e.Name(), ".jsonl")
		path := a.lay.CategoryLog(category)

		cutoff := a.Now().Add(-a.cfg.ArchiveAge())
		info, err := e.Info()
		if err == nil && info.Size() > a.cfg.RotationSize() {
			// Oversized log: every line moves out now, bounding scan cost.
			cutoff = a.Now()
			sum.Rotated++
			if dryRun {
				sum.Planned = append(sum.Planned, fmt.Sprintf("rotate %s (%d bytes)", path, info.Size()))
			}
		}

		moved, err := a.drainLog(category, path, cutoff, dryRun)
		if err != nil {
			sum.Errors = append(sum.Errors, fmt.Errorf("drain %s: %w", path, err))
			continue
		}
		sum.MovedLines += moved
		if dryRun && moved > 0 {
			sum.Planned = append(sum.Planned, fmt.Sprintf("move %d line(s) from %s into dated partitions", moved, path))
		}
	}
	return nil
}

// drainLog rewrites one active log, appending lines created before cutoff to
// their dated partitions. The rewrite is staged and renamed; a crash leaves
// either the old log or the drained one, and the archive append happens
// first, so a line is never lost (a rerun may duplicate it, which replay
// selection by id tolerates).
func (a *Archiver) drainLog(category, path string, cutoff time.Time, dryRun bool) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var kept []string
	moved := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		var ev event.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil || ev.Timestamp.IsZero() {
			kept = append(kept, line) // malformed lines stay put for a human
			continue
		}
		if !ev.Timestamp.Before(cutoff) {
			kept = append(kept, line)
			continue
		}
		moved++
		if dryRun {
			continue
		}
		if err := a.appendPartitionLine(ev.Timestamp.Format(storage.DateLayout), category, line); err != nil {
			return moved, err
		}
	}
	if err := sc.Err(); err != nil {
		return moved, err
	}
	if dryRun || moved == 0 {
		return moved, nil
	}

	tmp := path + ".tmp"
	content := ""
	if len(kept) > 0 {
		content = strings.Join(kept, "\n") + "\n"
	}
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return moved, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return moved, err
	}
	return moved, nil
}

func (a *Archiver) appendPartitionLine(date, category, line string) error {
	dir := a.lay.Partition(date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, category+".jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line + "\n")
	return err
}

func (a *Archiver) compressPartitions(ctx context.Context, sum *Summary, parked map[string]bool, dryRun bool) error {
	return a.eachAgedPartition(ctx, a.cfg.CompressAge(), func(date, dir string) {
		if parked[date] {
			sum.SkippedParked++
			slog.Info("partition holds a parked event, skipping compression", "partition", date)
			return
		}
		files, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
		if err != nil || len(files) == 0 {
			return
		}
		if dryRun {
			sum.Compressed += len(files)
			sum.Planned = append(sum.Planned, fmt.Sprintf("compress %d file(s) in %s", len(files), dir))
			return
		}
		for _, path := range files {
			if err := gzipFile(path); err != nil {
				sum.Errors = append(sum.Errors, fmt.Errorf("compress %s: %w", path, err))
				continue
			}
			sum.Compressed++
		}
	})
}

func (a *Archiver) deletePartitions(ctx context.Context, sum *Summary, parked map[string]bool, dryRun bool) error {
	return a.eachAgedPartition(ctx, a.cfg.DeleteAge(), func(date, dir string) {
		if parked[date] {
			sum.SkippedParked++
			slog.Info("partition holds a parked event, skipping deletion", "partition", date)
			return
		}
		if dryRun {
			sum.Deleted++
			sum.Planned = append(sum.Planned, fmt.Sprintf("delete %s", dir))
			return
		}
		if err := os.RemoveAll(dir); err != nil {
			sum.Errors = append(sum.Errors, fmt.Errorf("delete %s: %w", dir, err))
			return
		}
		sum.Deleted++
	})
}

// eachAgedPartition calls fn for every archive partition whose calendar date
// is older than age relative to the clock.
func (a *Archiver) eachAgedPartition(ctx context.Context, age time.Duration, fn func(date, dir string)) error {
	entries, err := os.ReadDir(a.lay.ArchiveDir())
	if err != nil {
		return fmt.Errorf("list archive: %w", err)
	}
	cutoff := a.Now().Add(-age)
	for _, e := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !e.IsDir() {
			continue
		}
		date, err := time.Parse(storage.DateLayout, e.Name())
		if err != nil {
			continue // not a partition directory
		}
		if date.Before(cutoff) {
			fn(e.Name(), a.lay.Partition(e.Name()))
		}
	}
	return nil
}

// gzipFile losslessly compresses path to path.gz and removes the original.
// Staged through a tmp file so an interrupted run never leaves a truncated
// .gz next to a deleted source.
func gzipFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	tmp := path + ".gz.tmp"
	dst, err := os.Create(tmp)
	if err != nil {
		return err
	}
	gw := gzip.NewWriter(dst)
	if _, err := io.Copy(gw, src); err != nil {
		dst.Close()
		os.Remove(tmp)
		return err
	}
	if err := gw.Close(); err != nil {
		dst.Close()
		os.Remove(tmp)
		return err
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path+".gz"); err != nil {
		return err
	}
	return os.Remove(path)
}
