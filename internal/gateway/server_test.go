package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabrooms/internal/protocol"
	"collabrooms/internal/room"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type wsConn struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, srv *httptest.Server) *wsConn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &wsConn{t: t, conn: conn}
}

func (w *wsConn) send(event string, data any) {
	w.t.Helper()
	frame, err := protocol.Encode(event, data)
	require.NoError(w.t, err)
	require.NoError(w.t, w.conn.WriteMessage(websocket.TextMessage, frame))
}

func (w *wsConn) expect(event string) json.RawMessage {
	w.t.Helper()
	require.NoError(w.t, w.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, msg, err := w.conn.ReadMessage()
		require.NoError(w.t, err, "waiting for %s", event)
		var env protocol.Envelope
		require.NoError(w.t, json.Unmarshal(msg, &env))
		if env.Type == event {
			return env.Data
		}
	}
}

func newTestServer(t *testing.T, services map[string]Pinger) (*Hub, *httptest.Server) {
	t.Helper()
	h := newTestHub(t, Deps{}, Options{})
	srv := httptest.NewServer(NewRouter(h, services))
	t.Cleanup(srv.Close)
	return h, srv
}

func TestWebsocketSessionEndToEnd(t *testing.T) {
	h, srv := newTestServer(t, nil)
	alice, bob := dial(t, srv), dial(t, srv)

	alice.send(protocol.EventJoinRoom, map[string]any{"roomId": "r1", "user": map[string]string{"id": "alice"}})
	alice.expect(protocol.EventRoomJoined)
	bob.send(protocol.EventJoinRoom, map[string]any{"roomId": "r1", "userId": "bob"})
	bob.expect(protocol.EventRoomJoined)
	alice.expect(protocol.EventUserJoined)

	bob.send(protocol.EventRequestEdit, map[string]string{"roomId": "r1", "filePath": "main.js"})
	bob.expect(protocol.EventEditGranted)
	var snap protocol.EditorsPayload
	require.NoError(t, json.Unmarshal(alice.expect(protocol.EventFileEditors), &snap))
	assert.Equal(t, []string{"bob"}, snap.FileEditors["main.js"])

	bob.send(protocol.EventContentSync, map[string]any{"roomId": "r1", "filePath": "main.js", "content": "// bob was here"})
	var p protocol.ContentPayload
	require.NoError(t, json.Unmarshal(alice.expect(protocol.EventContentSync), &p))
	require.NotNil(t, p.Content)
	assert.Equal(t, "// bob was here", *p.Content)

	alice.send(protocol.EventReadFile, map[string]string{"roomId": "r1", "filePath": "main.js"})
	var f protocol.FilePayload
	require.NoError(t, json.Unmarshal(alice.expect(protocol.EventFileContent), &f))
	assert.Equal(t, "// bob was here", f.Content)

	require.NoError(t, bob.conn.Close())
	var left protocol.RosterPayload
	require.NoError(t, json.Unmarshal(alice.expect(protocol.EventUserLeft), &left))
	assert.Equal(t, "bob", left.UserID)
	require.NoError(t, json.Unmarshal(alice.expect(protocol.EventFileEditors), &snap))
	assert.Empty(t, snap.FileEditors["main.js"])

	require.Eventually(t, func() bool { return h.ConnectionCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestConcurrentEditsConverge(t *testing.T) {
	h, srv := newTestServer(t, nil)
	const users = 4
	conns := make([]*wsConn, users)
	for i := range conns {
		conns[i] = dial(t, srv)
		conns[i].send(protocol.EventJoinRoom, map[string]any{"roomId": "race", "userId": string(rune('a' + i))})
		conns[i].expect(protocol.EventRoomJoined)
	}

	for round := 0; round < 10; round++ {
		for i, c := range conns {
			c.send(protocol.EventCodeChange, map[string]any{
				"roomId": "race", "filePath": "main.js", "content": strings.Repeat(string(rune('a'+i)), round+1),
			})
		}
	}

	// Each connection's events are handled in order, so once every
	// connection has answered a read all writes have landed.
	for _, c := range conns {
		c.send(protocol.EventReadFile, map[string]string{"roomId": "race", "filePath": "main.js"})
		c.expect(protocol.EventFileContent)
	}
	rm, ok := h.Rooms().Get("race")
	require.True(t, ok)
	cached, ok := rm.File("main.js")
	require.True(t, ok)
	assert.Equal(t, int64(1+users*10), cached.Version)
	assert.Len(t, cached.Content, 10, "the last write to land is some writer's final round")
	final := cached.Content

	for _, c := range conns {
		c.send(protocol.EventReadFile, map[string]string{"roomId": "race", "filePath": "main.js"})
		var f protocol.FilePayload
		require.NoError(t, json.Unmarshal(c.expect(protocol.EventFileContent), &f))
		assert.Equal(t, final, f.Content)
	}
}

func TestHealth(t *testing.T) {
	_, srv := newTestServer(t, map[string]Pinger{
		"mongo": pingFunc(func(context.Context) error { return nil }),
	})
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	var body struct {
		Status   string          `json:"status"`
		Services map[string]bool `json:"services"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.True(t, body.Services["mongo"])
}

func TestHealthDegraded(t *testing.T) {
	_, srv := newTestServer(t, map[string]Pinger{
		"redis": pingFunc(func(context.Context) error { return errors.New("connection refused") }),
	})
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRoomsAPI(t *testing.T) {
	_, srv := newTestServer(t, nil)
	ws := dial(t, srv)
	ws.send(protocol.EventJoinRoom, map[string]any{"roomId": "r1", "userId": "alice"})
	ws.expect(protocol.EventRoomJoined)

	resp, err := http.Get(srv.URL + "/api/rooms")
	require.NoError(t, err)
	var stats []room.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	resp.Body.Close()
	require.Len(t, stats, 1)
	assert.Equal(t, "r1", stats[0].RoomID)
	assert.Equal(t, []string{"alice"}, stats[0].Users)

	resp, err = http.Get(srv.URL + "/api/rooms/r1")
	require.NoError(t, err)
	var detail struct {
		Users []protocol.UserInfo `json:"users"`
		Files []protocol.FileInfo `json:"files"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&detail))
	resp.Body.Close()
	require.Len(t, detail.Users, 1)
	assert.NotEmpty(t, detail.Files)

	resp, err = http.Get(srv.URL + "/api/rooms/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
