// Package presence tracks each user's liveness across all rooms.
package presence

import (
	"context"
	"sync"
	"time"
)

// Record is a user's process-wide presence. There is at most one per user,
// no matter how many rooms or connections the user has.
type Record struct {
	UserID       string
	RoomID       string
	CurrentFile  string
	IsActive     bool
	LastActivity time.Time
	Connections  int
}

type entry struct {
	Record
	conns map[string]struct{}
}

// Tracker holds presence records keyed by user id, plus the connection
// index used to drop them on disconnect.
type Tracker struct {
	mu      sync.Mutex
	records map[string]*entry
	byConn  map[string]string
	now     func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		records: make(map[string]*entry),
		byConn:  make(map[string]string),
		now:     time.Now,
	}
}

// Connect records a live connection for userID in roomID.
func (t *Tracker) Connect(userID, connID, roomID string) Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.records[userID]
	if !ok {
		e = &entry{Record: Record{UserID: userID}, conns: make(map[string]struct{})}
		t.records[userID] = e
	}
	if prev, ok := t.byConn[connID]; ok && prev != userID {
		t.dropLocked(prev, connID)
	}
	e.conns[connID] = struct{}{}
	t.byConn[connID] = userID
	e.RoomID = roomID
	t.touchLocked(e)
	return e.snapshot()
}

// Touch marks userID active and advances its last activity. Empty roomID
// or currentFile leave the stored values unchanged.
func (t *Tracker) Touch(userID, roomID, currentFile string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.records[userID]
	if !ok {
		return Record{}, false
	}
	if roomID != "" {
		e.RoomID = roomID
	}
	if currentFile != "" {
		e.CurrentFile = currentFile
	}
	t.touchLocked(e)
	return e.snapshot(), true
}

func (t *Tracker) touchLocked(e *entry) {
	now := t.now()
	if now.After(e.LastActivity) {
		e.LastActivity = now
	}
	e.IsActive = true
}

func (t *Tracker) MarkAway(userID string) (Record, bool) {
	return t.setActive(userID, false)
}

func (t *Tracker) MarkBack(userID string) (Record, bool) {
	return t.setActive(userID, true)
}

func (t *Tracker) setActive(userID string, active bool) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.records[userID]
	if !ok {
		return Record{}, false
	}
	if active {
		t.touchLocked(e)
	} else {
		e.IsActive = false
	}
	return e.snapshot(), true
}

// Disconnect forgets connID. The user's record is deleted once it has no
// connections left; the returned flag reports that deletion.
func (t *Tracker) Disconnect(connID string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	userID, ok := t.byConn[connID]
	if !ok {
		return Record{}, false
	}
	return t.dropLocked(userID, connID)
}

func (t *Tracker) dropLocked(userID, connID string) (Record, bool) {
	delete(t.byConn, connID)
	e, ok := t.records[userID]
	if !ok {
		return Record{}, false
	}
	delete(e.conns, connID)
	if len(e.conns) > 0 {
		return e.snapshot(), false
	}
	delete(t.records, userID)
	return e.snapshot(), true
}

func (t *Tracker) Get(userID string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.records[userID]
	if !ok {
		return Record{}, false
	}
	return e.snapshot(), true
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// MarkIdle flips every active record whose last activity is before cutoff
// to away and returns the records it changed.
func (t *Tracker) MarkIdle(cutoff time.Time) []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	var changed []Record
	for _, e := range t.records {
		if e.IsActive && e.LastActivity.Before(cutoff) {
			e.IsActive = false
			changed = append(changed, e.snapshot())
		}
	}
	return changed
}

// Sweep marks users idle for longer than idleAfter as away every interval
// until ctx is done. onIdle is called for each record it changes.
func (t *Tracker) Sweep(ctx context.Context, interval, idleAfter time.Duration, onIdle func(Record)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, r := range t.MarkIdle(t.now().Add(-idleAfter)) {
				onIdle(r)
			}
		}
	}
}

func (e *entry) snapshot() Record {
	r := e.Record
	r.Connections = len(e.conns)
	return r
}
