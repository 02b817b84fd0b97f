// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and the roster endpoint.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// WebSocketHandler handles WebSocket upgrade requests and hands each upgraded
// connection to the hub. A failed upgrade only affects that request.
func WebSocketHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}

		conn, err := hub.upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.log.Warn("WebSocket upgrade failed", "addr", r.RemoteAddr, "error", err)
			return
		}

		if _, err := hub.Attach(conn, r.RemoteAddr); err != nil {
			hub.log.Info("Rejecting connection", "addr", r.RemoteAddr, "error", err)
			_ = conn.Close()
		}
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Chat relay is running!")
}

// UsersHandler reports the current roster as a JSON array.
func UsersHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(hub.Roster()); err != nil {
			hub.log.Warn("Error writing roster response", "error", err)
		}
	}
}
