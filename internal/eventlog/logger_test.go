package eventlog_test

import (
	"bufio"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/opsbus/internal/event"
	"github.com/gyaneshwarpardhi/opsbus/internal/eventlog"
	"github.com/gyaneshwarpardhi/opsbus/internal/queue"
	"github.com/gyaneshwarpardhi/opsbus/internal/storage"
)

func newLogger(t *testing.T) (*eventlog.Logger, *queue.Store, storage.Layout) {
	t.Helper()
	lay := storage.Layout{Root: t.TempDir()}
	require.NoError(t, lay.Ensure())
	q := queue.New(lay)
	return eventlog.New(lay, q), q, lay
}

func readLines(t *testing.T, path string) []*event.Event {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var out []*event.Event
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev event.Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		out = append(out, &ev)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestLogAppendsAndEnqueues(t *testing.T) {
	l, q, lay := newLogger(t)
	ev := event.New("worker.heartbeat", "worker-001", map[string]interface{}{"status": "healthy"}, "", event.Medium)

	require.NoError(t, l.Log(ev))

	lines := readLines(t, lay.CategoryLog("worker"))
	require.Len(t, lines, 1)
	assert.Equal(t, ev.ID, lines[0].ID)
	assert.Equal(t, ev.Type, lines[0].Type)
	assert.Equal(t, ev.Payload, lines[0].Payload)
	assert.True(t, ev.Timestamp.Equal(lines[0].Timestamp))

	pending, err := q.List()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ev.ID, pending[0].ID)
}

func TestLogRoutesByNamespace(t *testing.T) {
	l, _, lay := newLogger(t)
	require.NoError(t, l.Log(event.New("security.scan_completed", "scanner", nil, "", event.High)))
	require.NoError(t, l.Log(event.New("security.vulnerability_found", "scanner", nil, "", event.Critical)))
	require.NoError(t, l.Log(event.New("daemon.started", "archiver", nil, "", event.Low)))

	assert.Len(t, readLines(t, lay.CategoryLog("security")), 2)
	assert.Len(t, readLines(t, lay.CategoryLog("daemon")), 1)
	_, err := os.Stat(lay.CategoryLog("worker"))
	assert.True(t, os.IsNotExist(err))
}

func TestLogUnknownNamespaceFallsBack(t *testing.T) {
	l, _, lay := newLogger(t)
	// Forged event that skipped validation: the fallback log absorbs it
	// instead of corrupting a real category.
	ev := event.New("worker.heartbeat", "rogue", nil, "", event.Medium)
	ev.Type = "billing.charge"

	require.NoError(t, l.Log(ev))
	assert.Len(t, readLines(t, lay.CategoryLog("unknown")), 1)
}

func TestLogAppendIsImmutableHistory(t *testing.T) {
	l, _, lay := newLogger(t)
	first := event.New("task.created", "scheduler", map[string]interface{}{"n": 1.0}, "", event.Medium)
	second := event.New("task.completed", "scheduler", map[string]interface{}{"n": 2.0}, "", event.Medium)
	require.NoError(t, l.Log(first))
	require.NoError(t, l.Log(second))

	lines := readLines(t, lay.CategoryLog("task"))
	require.Len(t, lines, 2)
	assert.Equal(t, first.ID, lines[0].ID)
	assert.Equal(t, second.ID, lines[1].ID)
}
