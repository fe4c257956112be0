package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"collabrooms/internal/room"
)

const healthTimeout = 3 * time.Second

// Pinger is a backing service reported by /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter wires the websocket endpoint and the HTTP inspection API.
// services maps a name to the backing service /health pings.
func NewRouter(hub *Hub, services map[string]Pinger) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/ws", hub.ServeWS)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		healthy := true
		checks := make(map[string]bool, len(services))
		for name, svc := range services {
			ok := svc.Ping(ctx) == nil
			checks[name] = ok
			healthy = healthy && ok
		}
		status := map[string]any{
			"status":      "ok",
			"timestamp":   time.Now(),
			"rooms":       hub.rooms.Len(),
			"connections": hub.ConnectionCount(),
			"services":    checks,
		}
		code := http.StatusOK
		if !healthy {
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
	}).Methods("GET")

	r.HandleFunc("/api/rooms", func(w http.ResponseWriter, r *http.Request) {
		rooms := hub.rooms.Rooms()
		stats := make([]room.Stats, 0, len(rooms))
		for _, rm := range rooms {
			stats = append(stats, rm.Stats())
		}
		writeJSON(w, http.StatusOK, stats)
	}).Methods("GET")

	r.HandleFunc("/api/rooms/{id}", func(w http.ResponseWriter, r *http.Request) {
		rm, ok := hub.rooms.Get(mux.Vars(r)["id"])
		if !ok {
			http.Error(w, "Room not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"stats":   rm.Stats(),
			"users":   userInfos(rm.Roster()),
			"editors": editorsPayload(rm.ID, rm.Editors()),
			"files":   fileInfos(rm.Files()),
		})
	}).Methods("GET")

	r.Use(corsMiddleware)
	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
