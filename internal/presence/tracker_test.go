package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock hands out times that the test controls.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newTestTracker() (*Tracker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	t := NewTracker()
	t.now = clock.Now
	return t, clock
}

func TestConnectCreatesOneRecordPerUser(t *testing.T) {
	tr, _ := newTestTracker()

	rec := tr.Connect("alice", "c1", "r1")
	assert.True(t, rec.IsActive)
	assert.Equal(t, 1, rec.Connections)

	rec = tr.Connect("alice", "c2", "r2")
	assert.Equal(t, 2, rec.Connections)
	assert.Equal(t, "r2", rec.RoomID)
	assert.Equal(t, 1, tr.Len())
}

func TestTouchNeverMovesBackwards(t *testing.T) {
	tr, clock := newTestTracker()
	start := clock.Now()
	tr.Connect("alice", "c1", "r1")

	clock.Set(start.Add(time.Minute))
	rec, ok := tr.Touch("alice", "", "main.js")
	require.True(t, ok)
	assert.Equal(t, start.Add(time.Minute), rec.LastActivity)
	assert.Equal(t, "main.js", rec.CurrentFile)
	assert.Equal(t, "r1", rec.RoomID, "empty room keeps the stored one")

	clock.Set(start.Add(30 * time.Second))
	rec, _ = tr.Touch("alice", "r1", "")
	assert.Equal(t, start.Add(time.Minute), rec.LastActivity)
	assert.Equal(t, "main.js", rec.CurrentFile)
}

func TestTouchDoesNotCreateRecords(t *testing.T) {
	tr, _ := newTestTracker()

	_, ok := tr.Touch("ghost", "r1", "")
	assert.False(t, ok)
	assert.Equal(t, 0, tr.Len())
}

func TestHeartbeatReactivatesAwayUser(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Connect("alice", "c1", "r1")

	rec, ok := tr.MarkAway("alice")
	require.True(t, ok)
	assert.False(t, rec.IsActive)

	rec, _ = tr.Touch("alice", "r1", "")
	assert.True(t, rec.IsActive)

	tr.MarkAway("alice")
	rec, _ = tr.MarkBack("alice")
	assert.True(t, rec.IsActive)
}

func TestDisconnectDropsRecordWithLastConnection(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Connect("alice", "c1", "r1")
	tr.Connect("alice", "c2", "r1")

	rec, deleted := tr.Disconnect("c1")
	assert.False(t, deleted)
	assert.Equal(t, 1, rec.Connections)
	_, ok := tr.Get("alice")
	assert.True(t, ok)

	_, deleted = tr.Disconnect("c2")
	assert.True(t, deleted)
	_, ok = tr.Get("alice")
	assert.False(t, ok)

	_, deleted = tr.Disconnect("c2")
	assert.False(t, deleted)
}

func TestConnectionReusedByAnotherUser(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Connect("alice", "c1", "r1")
	tr.Connect("bob", "c1", "r1")

	_, ok := tr.Get("alice")
	assert.False(t, ok, "the connection now belongs to bob")
	rec, ok := tr.Get("bob")
	require.True(t, ok)
	assert.Equal(t, 1, rec.Connections)
}

func TestMarkIdle(t *testing.T) {
	tr, clock := newTestTracker()
	start := clock.Now()
	tr.Connect("alice", "c1", "r1")
	clock.Set(start.Add(2 * time.Minute))
	tr.Connect("bob", "c2", "r1")

	changed := tr.MarkIdle(start.Add(time.Minute))
	require.Len(t, changed, 1)
	assert.Equal(t, "alice", changed[0].UserID)
	assert.False(t, changed[0].IsActive)

	assert.Empty(t, tr.MarkIdle(start.Add(time.Minute)), "already away users are not reported again")
}

func TestSweepReportsIdleUsers(t *testing.T) {
	tr := NewTracker()
	tr.Connect("alice", "c1", "r1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	idle := make(chan Record, 1)
	go tr.Sweep(ctx, 10*time.Millisecond, time.Nanosecond, func(r Record) {
		select {
		case idle <- r:
		default:
		}
	})

	select {
	case r := <-idle:
		assert.Equal(t, "alice", r.UserID)
		assert.False(t, r.IsActive)
	case <-time.After(2 * time.Second):
		t.Fatal("sweep never reported the idle user")
	}
}
