// Package gateway accepts websocket connections, routes their events to the
// room, presence and terminal components, and fans results back out.
package gateway

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"collabrooms/internal/access"
	"collabrooms/internal/persistence"
	"collabrooms/internal/presence"
	"collabrooms/internal/protocol"
	"collabrooms/internal/room"
	"collabrooms/internal/terminal"
)

const (
	defaultRoomWait   = 2 * time.Second
	defaultSendBuffer = 256
	eventTimeout      = 10 * time.Second
)

type Options struct {
	// RoomWaitTimeout bounds how long a file event waits for its room to be
	// created by a concurrent join.
	RoomWaitTimeout time.Duration
	// EnforceEditPermission rejects content events from users that do not
	// hold edit permission on the file.
	EnforceEditPermission bool
	EventsPerSecond       float64
	EventBurst            int
	SendBuffer            int
	TerminalWorkDir       string
}

// Deps are the components a Hub routes events to. Store may be nil.
type Deps struct {
	Rooms     *room.Registry
	Presence  *presence.Tracker
	Terminals *terminal.Manager
	Store     persistence.Store
	Access    access.Checker
}

// binding is what a connection is currently joined as.
type binding struct {
	roomID string
	userID string
}

// Hub owns the connection table and the connection index used by fan-out
// and by the reaper.
type Hub struct {
	opts      Options
	rooms     *room.Registry
	presence  *presence.Tracker
	terminals *terminal.Manager
	store     persistence.Store
	access    access.Checker

	mu       sync.RWMutex
	clients  map[string]*Client
	bindings map[string]binding
}

func NewHub(deps Deps, opts Options) *Hub {
	if opts.RoomWaitTimeout <= 0 {
		opts.RoomWaitTimeout = defaultRoomWait
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.TerminalWorkDir == "" {
		if wd, err := os.Getwd(); err == nil {
			opts.TerminalWorkDir = wd
		}
	}
	if deps.Rooms == nil {
		deps.Rooms = room.NewRegistry(deps.Store)
	}
	if deps.Presence == nil {
		deps.Presence = presence.NewTracker()
	}
	if deps.Terminals == nil {
		deps.Terminals = terminal.NewManager(terminal.Options{})
	}
	if deps.Access == nil {
		deps.Access = access.AllowAll{}
	}
	return &Hub{
		opts:      opts,
		rooms:     deps.Rooms,
		presence:  deps.Presence,
		terminals: deps.Terminals,
		store:     deps.Store,
		access:    deps.Access,
		clients:   make(map[string]*Client),
		bindings:  make(map[string]binding),
	}
}

func (h *Hub) Rooms() *room.Registry {
	return h.rooms
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	n := len(h.clients)
	h.mu.Unlock()
	log.Printf("connection %s accepted (%d open)", c.ID, n)
}

func (h *Hub) client(connID string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[connID]
	return c, ok
}

func (h *Hub) binding(connID string) (binding, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	b, ok := h.bindings[connID]
	return b, ok
}

func (h *Hub) bind(connID string, b binding) {
	h.mu.Lock()
	h.bindings[connID] = b
	h.mu.Unlock()
}

// unbind removes connID's binding if it still equals b.
func (h *Hub) unbind(connID string, b binding) {
	h.mu.Lock()
	if cur, ok := h.bindings[connID]; ok && cur == b {
		delete(h.bindings, connID)
	}
	h.mu.Unlock()
}

// Send delivers one event to one connection.
func (h *Hub) Send(connID, event string, data any) bool {
	c, ok := h.client(connID)
	if !ok {
		return false
	}
	msg, err := protocol.Encode(event, data)
	if err != nil {
		log.Printf("encode %s: %v", event, err)
		return false
	}
	return c.enqueue(msg)
}

// Broadcast delivers an event to every connection bound to a participant of
// roomID except exclude. Pass an empty exclude to include the sender.
// Delivery is fire-and-forget; the number of queued sends is returned.
func (h *Hub) Broadcast(roomID, event string, data any, exclude string) int {
	rm, ok := h.rooms.Get(roomID)
	if !ok {
		return 0
	}
	msg, err := protocol.Encode(event, data)
	if err != nil {
		log.Printf("encode %s: %v", event, err)
		return 0
	}
	sent := 0
	for _, connID := range rm.ConnectionIDs(exclude) {
		c, ok := h.client(connID)
		if !ok {
			continue
		}
		if c.enqueue(msg) {
			sent++
		}
	}
	return sent
}

func (h *Hub) sendError(c *Client, event string, ee *EventError) {
	h.Send(c.ID, protocol.EventError, errorPayload(event, ee))
}

// Shutdown closes every connection and kills every terminal.
func (h *Hub) Shutdown() {
	h.terminals.StopAll()
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.shutdown()
	}
}

func (h *Hub) eventContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), eventTimeout)
}

// ConnectionCount returns the number of open connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
