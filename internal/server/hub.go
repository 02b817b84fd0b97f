// Package server coordinates client lifecycles, the shared roster, and
// broadcast fanout for the relay via the Hub type.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Tyrowin/chatrelay/internal/fanout"
	"github.com/Tyrowin/chatrelay/internal/protocol"
	"github.com/Tyrowin/chatrelay/internal/registry"
	"github.com/gorilla/websocket"
)

// ErrHubClosed is returned when a connection arrives after Shutdown.
var ErrHubClosed = errors.New("hub is shut down")

// Hub owns the roster and the broadcast stream and tracks every live client
// so they can be torn down together. Clients never talk to each other directly.
type Hub struct {
	cfg      Config
	log      *slog.Logger
	registry *registry.Registry
	fanout   *fanout.Fanout
	origins  originPolicy
	upgrader websocket.Upgrader

	mutex   sync.Mutex
	clients map[*Client]struct{}
	closed  bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewHub creates a Hub for cfg. A nil logger discards output.
func NewHub(cfg Config, log *slog.Logger) *Hub {
	cfg = sanitizeConfig(cfg)
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		cfg:      cfg,
		log:      log,
		registry: registry.New(),
		fanout:   fanout.New(cfg.FanoutCapacity),
		origins:  newOriginPolicy(cfg.AllowedOrigins, log),
		clients:  make(map[*Client]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if h.origins.allows(r) {
		return true
	}
	h.log.Warn("Blocked WebSocket connection from disallowed origin", "origin", r.Header.Get("Origin"))
	return false
}

// Registry exposes the roster shared by all clients.
func (h *Hub) Registry() *registry.Registry {
	return h.registry
}

// Roster returns the display names currently registered.
func (h *Hub) Roster() []string {
	return h.registry.Snapshot()
}

// ClientCount returns the number of live connections.
func (h *Hub) ClientCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients)
}

// Publish encodes env and places it on the broadcast stream.
func (h *Hub) Publish(env protocol.Envelope) {
	h.fanout.Publish(env.Frame())
}

func (h *Hub) publishRoster() {
	h.Publish(protocol.Users(h.registry.Snapshot()))
}

// Attach takes ownership of an upgraded connection and runs its handler
// until the connection ends or the hub shuts down.
func (h *Hub) Attach(conn *websocket.Conn, addr string) (*Client, error) {
	h.mutex.Lock()
	if h.closed {
		h.mutex.Unlock()
		return nil, ErrHubClosed
	}
	client := newClient(conn, h, addr)
	h.clients[client] = struct{}{}
	clientCount := len(h.clients)
	h.wg.Add(1)
	h.mutex.Unlock()

	h.log.Info("Client connected", "id", client.id, "addr", addr, "clients", clientCount)

	go func() {
		defer h.wg.Done()
		client.run(h.ctx)
		h.detach(client)
	}()
	return client, nil
}

func (h *Hub) detach(client *Client) {
	h.mutex.Lock()
	delete(h.clients, client)
	clientCount := len(h.clients)
	h.mutex.Unlock()

	h.log.Info("Client disconnected", "id", client.id, "addr", client.addr, "clients", clientCount)
}

// Shutdown stops accepting clients, closes every connection and the
// broadcast stream, and waits for client goroutines up to timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.mutex.Lock()
	if h.closed {
		h.mutex.Unlock()
		return nil
	}
	h.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	h.log.Info("Initiating hub shutdown", "clients", clientCount)
	h.cancel()
	h.fanout.Close()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.log.Warn("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
