package dispatch_test

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/opsbus/internal/dispatch"
)

func TestIntervalTriggerFires(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var fires atomic.Int64
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = dispatch.IntervalTrigger{Every: 20 * time.Millisecond}.Run(ctx, func() {
			if fires.Add(1) >= 3 {
				cancel()
			}
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("interval trigger never reached 3 fires")
	}
	assert.GreaterOrEqual(t, fires.Load(), int64(3))
}

func TestWatchTriggerFiresOnQueueChange(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var fires atomic.Int64
	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		tr := dispatch.WatchTrigger{Dir: dir, Debounce: 10 * time.Millisecond}
		_ = tr.Run(ctx, func() {
			if fires.Add(1) == 1 {
				close(started) // initial backlog fire
			}
		})
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("watch trigger never fired its startup sweep")
	}

	require.NoError(t, os.WriteFile(filepath.Join(dir, "evt_x.json"), []byte("{}"), 0o644))

	deadline := time.Now().Add(5 * time.Second)
	for fires.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.GreaterOrEqual(t, fires.Load(), int64(2), "file creation fires a sweep")

	cancel()
	<-done
}
