package queue_test

import (
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/opsbus/internal/event"
	"github.com/gyaneshwarpardhi/opsbus/internal/queue"
	"github.com/gyaneshwarpardhi/opsbus/internal/storage"
)

func newStore(t *testing.T) (*queue.Store, storage.Layout) {
	t.Helper()
	lay := storage.Layout{Root: t.TempDir()}
	require.NoError(t, lay.Ensure())
	return queue.New(lay), lay
}

func heartbeat(source string) *event.Event {
	return event.New("worker.heartbeat", source, map[string]interface{}{"status": "healthy"}, "", event.Medium)
}

func TestEnqueueListClaim(t *testing.T) {
	s, _ := newStore(t)
	ev := heartbeat("worker-001")
	require.NoError(t, s.Enqueue(ev))

	pending, err := s.List()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ev.ID, pending[0].ID)

	claimed, err := s.Claim(ev.ID)
	require.NoError(t, err)
	assert.Equal(t, ev.ID, claimed.ID)
	assert.Equal(t, ev.Payload, claimed.Payload)

	// Claimed events leave the pending listing.
	pending, err = s.List()
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Second claim loses.
	_, err = s.Claim(ev.ID)
	assert.ErrorIs(t, err, queue.ErrClaimConflict)
}

func TestClaimIsExclusiveUnderConcurrency(t *testing.T) {
	s, _ := newStore(t)
	ev := heartbeat("worker-002")
	require.NoError(t, s.Enqueue(ev))

	const racers = 32
	var wins, conflicts atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := s.Claim(ev.ID)
			switch {
			case err == nil:
				wins.Add(1)
			case err == queue.ErrClaimConflict:
				conflicts.Add(1)
			default:
				t.Errorf("unexpected claim error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(1), wins.Load(), "exactly one racer claims")
	assert.Equal(t, int64(racers-1), conflicts.Load())
}

func TestResolveRemovesClaimedUnit(t *testing.T) {
	s, _ := newStore(t)
	ev := heartbeat("worker-003")
	require.NoError(t, s.Enqueue(ev))
	_, err := s.Claim(ev.ID)
	require.NoError(t, err)

	require.NoError(t, s.Resolve(ev.ID))
	assert.ErrorIs(t, s.Resolve(ev.ID), queue.ErrNotClaimed)
}

func TestParkKeepsFailedEvent(t *testing.T) {
	s, _ := newStore(t)
	ev := heartbeat("worker-004")
	require.NoError(t, s.Enqueue(ev))
	_, err := s.Claim(ev.ID)
	require.NoError(t, err)

	require.NoError(t, s.Park(ev.ID, "handler exited 1"))

	parked, err := s.ListParked()
	require.NoError(t, err)
	require.Len(t, parked, 1)
	assert.Equal(t, ev.ID, parked[0].Event.ID)
	assert.Equal(t, "handler exited 1", parked[0].Reason)
	assert.False(t, parked[0].ParkedAt.IsZero())

	// The claimed unit is gone; the event lives in exactly one place.
	assert.ErrorIs(t, s.Resolve(ev.ID), queue.ErrNotClaimed)
}

func TestParkWithoutClaim(t *testing.T) {
	s, _ := newStore(t)
	assert.ErrorIs(t, s.Park("evt_20240101000000_deadbeefdeadbeef", "x"), queue.ErrNotClaimed)
}

func TestListSkipsMalformedUnits(t *testing.T) {
	s, lay := newStore(t)
	ev := heartbeat("worker-005")
	require.NoError(t, s.Enqueue(ev))
	require.NoError(t, os.WriteFile(lay.PendingFile("evt_20240101000000_0000000000000bad"), []byte("{not json"), 0o644))

	pending, err := s.List()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ev.ID, pending[0].ID)
}
