package dispatch_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/opsbus/internal/dispatch"
	"github.com/gyaneshwarpardhi/opsbus/internal/event"
	"github.com/gyaneshwarpardhi/opsbus/internal/eventlog"
	"github.com/gyaneshwarpardhi/opsbus/internal/handler"
	"github.com/gyaneshwarpardhi/opsbus/internal/queue"
	"github.com/gyaneshwarpardhi/opsbus/internal/replay"
	"github.com/gyaneshwarpardhi/opsbus/internal/storage"
)

// Full path of one event: emit → category log + pending queue → sweep →
// archive partition → replay by date and type glob.
func TestEmitSweepReplayRoundTrip(t *testing.T) {
	lay := storage.Layout{Root: t.TempDir()}
	require.NoError(t, lay.Ensure())
	q := queue.New(lay)
	logger := eventlog.New(lay, q)
	reg := handler.NewRegistry()
	reg.Bind("worker.*", handler.NewFunc("worker-remediate", func(context.Context, *event.Event) error {
		return nil
	}))

	ev := event.New("worker.heartbeat", "worker-001",
		map[string]interface{}{"status": "healthy"}, "", event.Medium)
	require.NoError(t, event.ValidateEvent(ev, event.DefaultTaxonomy()))
	require.NoError(t, logger.Log(ev))

	pending, err := q.List()
	require.NoError(t, err)
	require.Len(t, pending, 1)

	sum, err := dispatch.New(lay, q, reg).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Processed)
	assert.False(t, sum.HadFailures())

	pending, err = q.List()
	require.NoError(t, err)
	assert.Empty(t, pending, "claimed and resolved")

	eng := replay.New(lay, reg)
	got, err := eng.SelectAll(context.Background(), replay.Filter{
		Date:     ev.Timestamp.Format(storage.DateLayout),
		TypeGlob: "worker.*",
	})
	require.NoError(t, err)
	require.Len(t, got, 1, "exactly the emitted event")
	assert.Equal(t, ev.ID, got[0].ID)
	assert.Equal(t, "worker.heartbeat", got[0].Type)
	assert.Equal(t, map[string]interface{}{"status": "healthy"}, got[0].Payload)
	assert.WithinDuration(t, time.Now(), got[0].Timestamp, time.Minute)

	res := eng.Replay(context.Background(), got[0], replay.DryRun)
	assert.Equal(t, "worker-remediate", res.Handler)
}
