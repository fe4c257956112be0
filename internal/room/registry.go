package room

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"collabrooms/internal/persistence"
)

const (
	seedTimeout  = 15 * time.Second
	maxSeedFiles = 500
	joinAttempts = 3
)

// Registry maps room ids to live rooms. Rooms are created on first join and
// dropped the moment their roster empties.
type Registry struct {
	store persistence.Store
	now   func() time.Time

	mu      sync.Mutex
	rooms   map[string]*Room
	pending map[string]*pendingRoom
}

// pendingRoom is a creation signal for callers waiting on a room that does
// not exist yet.
type pendingRoom struct {
	created chan struct{}
	waiters int
}

// NewRegistry creates an empty registry. store may be nil, in which case
// every room starts from the demo tree.
func NewRegistry(store persistence.Store) *Registry {
	return &Registry{
		store:   store,
		now:     time.Now,
		rooms:   make(map[string]*Room),
		pending: make(map[string]*pendingRoom),
	}
}

// GetOrCreate returns the room for id, creating and seeding it if needed.
// It returns once the room's file cache is ready.
func (g *Registry) GetOrCreate(ctx context.Context, id string) (*Room, bool, error) {
	g.mu.Lock()
	if rm, ok := g.rooms[id]; ok {
		g.mu.Unlock()
		return rm, false, waitReady(ctx, rm)
	}
	rm := newRoom(id, g.now)
	g.rooms[id] = rm
	if p, ok := g.pending[id]; ok {
		close(p.created)
		delete(g.pending, id)
	}
	g.mu.Unlock()

	g.seed(rm)
	close(rm.ready)
	log.Printf("room %s created", id)
	return rm, true, nil
}

// seed runs detached from the caller's context: other joiners may already be
// waiting on the same room.
func (g *Registry) seed(rm *Room) {
	if g.store == nil {
		rm.seedDemo()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), seedTimeout)
	defer cancel()

	project, err := g.store.FindProjectByRoom(ctx, rm.ID)
	if err != nil {
		if !errors.Is(err, persistence.ErrNotFound) {
			log.Printf("room %s: project lookup failed, using demo files: %v", rm.ID, err)
		}
		rm.seedDemo()
		return
	}

	rm.mu.Lock()
	rm.project = &project
	rm.mu.Unlock()

	loaded := 0
	err = persistence.Walk(ctx, g.store, project.ID, "", func(e persistence.Entry) error {
		if e.IsDir {
			rm.AddFolder(e.Path)
			return nil
		}
		if loaded >= maxSeedFiles {
			return persistence.ErrStopWalk
		}
		content, err := g.store.ReadFile(ctx, project.ID, e.Path)
		if err != nil {
			log.Printf("room %s: read %s failed: %v", rm.ID, e.Path, err)
			return nil
		}
		rm.CacheFile(e.Path, content)
		loaded++
		return nil
	})
	if err != nil {
		log.Printf("room %s: loading project %s stopped early: %v", rm.ID, project.ID, err)
	}
	log.Printf("room %s linked to project %s (%d files)", rm.ID, project.ID, loaded)
}

func waitReady(ctx context.Context, rm *Room) error {
	select {
	case <-rm.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get returns the room for id if it exists, ready or not.
func (g *Registry) Get(id string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rm, ok := g.rooms[id]
	return rm, ok
}

// Await returns the room for id, waiting up to timeout for another
// connection's join to create it. Only the calling handler waits; other rooms
// are unaffected.
func (g *Registry) Await(ctx context.Context, id string, timeout time.Duration) (*Room, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	g.mu.Lock()
	rm, ok := g.rooms[id]
	if ok {
		g.mu.Unlock()
		return g.awaitReady(ctx, rm, timer.C)
	}
	p, ok := g.pending[id]
	if !ok {
		p = &pendingRoom{created: make(chan struct{})}
		g.pending[id] = p
	}
	p.waiters++
	g.mu.Unlock()

	select {
	case <-p.created:
	case <-timer.C:
		g.release(id, p)
		return nil, ErrRoomNotFound
	case <-ctx.Done():
		g.release(id, p)
		return nil, ctx.Err()
	}

	rm, ok = g.Get(id)
	if !ok {
		return nil, ErrRoomNotFound
	}
	return g.awaitReady(ctx, rm, timer.C)
}

func (g *Registry) awaitReady(ctx context.Context, rm *Room, expired <-chan time.Time) (*Room, error) {
	select {
	case <-rm.ready:
		return rm, nil
	case <-expired:
		return nil, ErrRoomNotFound
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *Registry) release(id string, p *pendingRoom) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p.waiters--
	if p.waiters <= 0 && g.pending[id] == p {
		delete(g.pending, id)
	}
}

// Join adds p to the room, creating the room if needed. A room that empties
// and closes between lookup and insert is recreated.
func (g *Registry) Join(ctx context.Context, id string, p Participant) (*Room, JoinResult, error) {
	var lastErr error
	for attempt := 0; attempt < joinAttempts; attempt++ {
		rm, _, err := g.GetOrCreate(ctx, id)
		if err != nil {
			return nil, JoinResult{}, err
		}
		res, err := rm.join(p)
		if err == nil {
			return rm, res, nil
		}
		lastErr = err
		if !errors.Is(err, ErrRoomClosed) {
			break
		}
		g.dropClosed(id, rm)
	}
	return nil, JoinResult{}, lastErr
}

// Leave removes userID from room id if it is still bound to connectionID
// (empty matches any connection). The room is discarded when it empties.
func (g *Registry) Leave(id, userID, connectionID string) (LeaveResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rm, ok := g.rooms[id]
	if !ok {
		return LeaveResult{}, ErrRoomNotFound
	}
	res := rm.leave(userID, connectionID)
	if res.RoomDeleted {
		delete(g.rooms, id)
		log.Printf("room %s deleted", id)
	}
	return res, nil
}

// DropIfEmpty discards a room nobody managed to join.
func (g *Registry) DropIfEmpty(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	rm, ok := g.rooms[id]
	if !ok || !rm.closeIfEmpty() {
		return false
	}
	delete(g.rooms, id)
	log.Printf("room %s deleted", id)
	return true
}

func (g *Registry) dropClosed(id string, rm *Room) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rooms[id] == rm {
		delete(g.rooms, id)
	}
}

// Rooms returns every live room ordered by id.
func (g *Registry) Rooms() []*Room {
	g.mu.Lock()
	out := make([]*Room, 0, len(g.rooms))
	for _, rm := range g.rooms {
		out = append(out, rm)
	}
	g.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}
