package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"collabrooms/internal/protocol"
)

const (
	heartbeatInterval = 30 * time.Second
	readWait          = 60 * time.Second
	writeWait         = 10 * time.Second
)

var errNotConnected = errors.New("not connected")

// simClient is one simulated participant editing a shared file.
type simClient struct {
	UserID   string
	RoomID   string
	FilePath string

	conn      *websocket.Conn
	metrics   *metrics
	writeMu   sync.Mutex
	mu        sync.RWMutex
	text      string
	canEdit   bool
	latencies []time.Duration
	connected int32
	stop      chan struct{}
	stopOnce  sync.Once
	joined    chan struct{}
	joinOnce  sync.Once
	lastRead  chan string
}

func newSimClient(userID, roomID, filePath string, m *metrics) *simClient {
	return &simClient{
		UserID:   userID,
		RoomID:   roomID,
		FilePath: filePath,
		metrics:  m,
		stop:     make(chan struct{}),
		joined:   make(chan struct{}),
		lastRead: make(chan string, 1),
	}
}

func (c *simClient) isConnected() bool {
	return atomic.LoadInt32(&c.connected) == 1
}

// Connect dials the server, joins the room and asks for edit permission.
func (c *simClient) Connect(serverURL string) error {
	u, err := url.Parse(serverURL)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"

	c.conn, _, err = websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return err
	}
	atomic.StoreInt32(&c.connected, 1)
	atomic.AddInt64(&c.metrics.connected, 1)

	go c.readPump()
	go c.heartbeat()

	if err := c.send(protocol.EventJoinRoom, map[string]any{
		"roomId": c.RoomID,
		"user":   map[string]string{"id": c.UserID, "name": c.UserID},
	}); err != nil {
		return err
	}
	select {
	case <-c.joined:
	case <-time.After(writeWait):
		return fmt.Errorf("%s: no room-joined within %s", c.UserID, writeWait)
	}
	return c.send(protocol.EventRequestEdit, map[string]string{"roomId": c.RoomID, "filePath": c.FilePath})
}

func (c *simClient) Disconnect() {
	c.stopOnce.Do(func() {
		close(c.stop)
		if c.conn != nil {
			_ = c.conn.Close()
		}
		if atomic.CompareAndSwapInt32(&c.connected, 1, 0) {
			atomic.AddInt64(&c.metrics.connected, -1)
		}
	})
}

func (c *simClient) readPump() {
	defer c.Disconnect()

	_ = c.conn.SetReadDeadline(time.Now().Add(readWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		var env protocol.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			select {
			case <-c.stop:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("client %s websocket error: %v", c.UserID, err)
				}
				atomic.AddInt64(&c.metrics.errors, 1)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(readWait))

		switch env.Type {
		case protocol.EventRoomJoined:
			c.joinOnce.Do(func() { close(c.joined) })
		case protocol.EventContentSync, protocol.EventCodeChange:
			atomic.AddInt64(&c.metrics.received, 1)
			var p protocol.ContentPayload
			if json.Unmarshal(env.Data, &p) == nil && p.Content != nil && p.FilePath == c.FilePath {
				c.mu.Lock()
				c.text = *p.Content
				c.mu.Unlock()
			}
		case protocol.EventEditGranted:
			c.mu.Lock()
			c.canEdit = true
			c.mu.Unlock()
			atomic.AddInt64(&c.metrics.granted, 1)
		case protocol.EventEditDenied:
			atomic.AddInt64(&c.metrics.denied, 1)
		case protocol.EventFileContent:
			var p protocol.FilePayload
			if json.Unmarshal(env.Data, &p) == nil {
				select {
				case c.lastRead <- p.Content:
				default:
				}
			}
		case protocol.EventError:
			atomic.AddInt64(&c.metrics.errors, 1)
		}
	}
}

func (c *simClient) heartbeat() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if err := c.send(protocol.EventHeartbeat, map[string]string{"roomId": c.RoomID, "currentFile": c.FilePath}); err != nil {
				log.Printf("client %s heartbeat failed: %v", c.UserID, err)
				c.Disconnect()
				return
			}
		}
	}
}

func (c *simClient) send(event string, data any) error {
	if !c.isConnected() {
		return errNotConnected
	}
	frame, err := protocol.Encode(event, data)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// edit applies one random keystroke to the local text and returns it.
func (c *simClient) edit(s scenario) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.text) == 0 || rand.Float64() < s.InsertProbability {
		pos := rand.Intn(len(c.text) + 1)
		c.text = c.text[:pos] + randomChar() + c.text[pos:]
	} else {
		pos := rand.Intn(len(c.text))
		c.text = c.text[:pos] + c.text[pos+1:]
	}
	return c.text
}

// Simulate streams edits until duration elapses. Users without edit
// permission only move their cursor.
func (c *simClient) Simulate(s scenario, duration time.Duration) {
	end := time.Now().Add(duration)
	for time.Now().Before(end) {
		select {
		case <-c.stop:
			return
		default:
		}
		n := 1
		if rand.Float64() < s.BurstProbability {
			n = s.BurstSize
		}
		for i := 0; i < n; i++ {
			start := time.Now()
			if err := c.step(s); err != nil {
				atomic.AddInt64(&c.metrics.errors, 1)
				if !c.isConnected() {
					return
				}
			} else {
				atomic.AddInt64(&c.metrics.sent, 1)
				c.mu.Lock()
				c.latencies = append(c.latencies, time.Since(start))
				c.mu.Unlock()
			}
			if i < n-1 {
				time.Sleep(10 * time.Millisecond)
			}
		}
		time.Sleep(s.ThinkTime)
	}
}

func (c *simClient) step(s scenario) error {
	c.mu.RLock()
	canEdit := c.canEdit
	c.mu.RUnlock()
	if !canEdit {
		c.mu.RLock()
		lines := strings.Count(c.text, "\n")
		c.mu.RUnlock()
		return c.send(protocol.EventCursorPosition, map[string]any{
			"roomId":   c.RoomID,
			"filePath": c.FilePath,
			"line":     rand.Intn(lines + 1),
			"column":   rand.Intn(80),
		})
	}
	return c.send(protocol.EventContentSync, map[string]any{
		"roomId":   c.RoomID,
		"filePath": c.FilePath,
		"content":  c.edit(s),
	})
}

// ReadBack asks the server for the file's current content.
func (c *simClient) ReadBack(timeout time.Duration) (string, error) {
	if err := c.send(protocol.EventReadFile, map[string]string{"roomId": c.RoomID, "filePath": c.FilePath}); err != nil {
		return "", err
	}
	select {
	case content := <-c.lastRead:
		return content, nil
	case <-time.After(timeout):
		return "", fmt.Errorf("%s: no file-content within %s", c.UserID, timeout)
	}
}

func randomChar() string {
	const chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789 .,!?\n"
	return string(chars[rand.Intn(len(chars))])
}
