package dispatch_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/opsbus/internal/dispatch"
	"github.com/gyaneshwarpardhi/opsbus/internal/event"
	"github.com/gyaneshwarpardhi/opsbus/internal/handler"
	"github.com/gyaneshwarpardhi/opsbus/internal/queue"
	"github.com/gyaneshwarpardhi/opsbus/internal/storage"
)

type fixture struct {
	lay storage.Layout
	q   *queue.Store
	reg *handler.Registry
	d   *dispatch.Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	lay := storage.Layout{Root: t.TempDir()}
	require.NoError(t, lay.Ensure())
	q := queue.New(lay)
	reg := handler.NewRegistry()
	return &fixture{lay: lay, q: q, reg: reg, d: dispatch.New(lay, q, reg)}
}

func enqueue(t *testing.T, q *queue.Store, typ string, p event.Priority) *event.Event {
	t.Helper()
	ev := event.New(typ, "test", map[string]interface{}{}, "", p)
	require.NoError(t, q.Enqueue(ev))
	return ev
}

func TestSweepPriorityOrder(t *testing.T) {
	f := newFixture(t)
	var mu sync.Mutex
	var got []string
	f.reg.Bind("worker.*", handler.NewFunc("record", func(_ context.Context, ev *event.Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(ev.Priority()))
		return nil
	}))

	for _, p := range []event.Priority{event.Low, event.Critical, event.Medium, event.High, event.Critical} {
		enqueue(t, f.q, "worker.heartbeat", p)
	}

	sum, err := f.d.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, sum.Processed)
	assert.Equal(t, []string{"critical", "critical", "high", "medium", "low"}, got)
}

func TestSweepTiesBreakOnCreationTime(t *testing.T) {
	f := newFixture(t)
	var mu sync.Mutex
	var got []string
	f.reg.Bind("task.*", handler.NewFunc("record", func(_ context.Context, ev *event.Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev.ID)
		return nil
	}))

	first := enqueue(t, f.q, "task.created", event.Medium)
	second := enqueue(t, f.q, "task.created", event.Medium)

	_, err := f.d.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID, second.ID}, got)
}

func TestSweepFailureParksAndContinues(t *testing.T) {
	f := newFixture(t)
	f.reg.Bind("worker.heartbeat", handler.NewFunc("ok", func(context.Context, *event.Event) error {
		return nil
	}))
	f.reg.Bind("worker.unresponsive", handler.NewFunc("broken", func(context.Context, *event.Event) error {
		return errors.New("restart failed")
	}))

	bad := enqueue(t, f.q, "worker.unresponsive", event.Critical)
	good := enqueue(t, f.q, "worker.heartbeat", event.Low)

	sum, err := f.d.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Processed)
	assert.Equal(t, 1, sum.Failed)
	assert.True(t, sum.HadFailures())

	parked, err := f.q.ListParked()
	require.NoError(t, err)
	require.Len(t, parked, 1)
	assert.Equal(t, bad.ID, parked[0].Event.ID)
	assert.Contains(t, parked[0].Reason, "restart failed")

	// The healthy event still archived under its creation date.
	date := good.Timestamp.Format(storage.DateLayout)
	_, statErr := os.Stat(filepath.Join(f.lay.Partition(date), "worker.jsonl"))
	assert.NoError(t, statErr)
}

func TestSweepPanicIsContained(t *testing.T) {
	f := newFixture(t)
	f.reg.Bind("system.*", handler.NewFunc("panicky", func(context.Context, *event.Event) error {
		panic("boom")
	}))
	enqueue(t, f.q, "system.disk_pressure", event.High)

	sum, err := f.d.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)

	parked, err := f.q.ListParked()
	require.NoError(t, err)
	require.Len(t, parked, 1)
	assert.Contains(t, parked[0].Reason, "panicked")
}

func TestSweepUnboundTypeRoutesToCatchAll(t *testing.T) {
	f := newFixture(t)
	enqueue(t, f.q, "learning.pattern_detected", event.Medium)

	sum, err := f.d.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Processed, "catch-all succeeds, event archives")
	assert.Equal(t, 1, sum.Unhandled)
}

func TestConcurrentSweepsNeverDoubleProcess(t *testing.T) {
	f := newFixture(t)
	var mu sync.Mutex
	seen := make(map[string]int)
	f.reg.Bind("worker.*", handler.NewFunc("count", func(_ context.Context, ev *event.Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen[ev.ID]++
		return nil
	}))

	const n = 50
	for i := 0; i < n; i++ {
		enqueue(t, f.q, "worker.heartbeat", event.Medium)
	}

	const sweeps = 8
	var wg sync.WaitGroup
	sums := make([]*dispatch.Summary, sweeps)
	errs := make([]error, sweeps)
	for i := 0; i < sweeps; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sums[i], errs[i] = f.d.Sweep(context.Background())
		}(i)
	}
	wg.Wait()

	total := 0
	for i, sum := range sums {
		require.NoError(t, errs[i])
		total += sum.Processed
	}
	assert.Equal(t, n, total, "every event processed exactly once across sweeps")
	assert.Len(t, seen, n)
	for id, count := range seen {
		assert.Equal(t, 1, count, "event %s handled once", id)
	}

	pending, err := f.q.List()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSweepIsOnePass(t *testing.T) {
	f := newFixture(t)
	sum, err := f.d.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Pending)

	// An event enqueued after the sweep stays pending until the next one.
	enqueue(t, f.q, "daemon.started", event.Low)
	pending, err := f.q.List()
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
