package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/chatrelay/internal/fanout"
	"github.com/Tyrowin/chatrelay/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const (
	testOrigin  = "http://localhost:8080"
	readTimeout = 2 * time.Second
)

// newTestHub returns a hub with default config and no sockets, for driving
// clients directly.
func newTestHub(t *testing.T, customize func(cfg *Config)) *Hub {
	t.Helper()
	cfg := NewConfig()
	if customize != nil {
		customize(cfg)
	}
	hub := NewHub(*cfg, nil)
	t.Cleanup(func() { _ = hub.Shutdown(2 * time.Second) })
	return hub
}

// newTestRelay starts a hub behind an httptest server and returns the
// WebSocket URL.
func newTestRelay(t *testing.T, customize func(cfg *Config)) (*Hub, string) {
	t.Helper()
	hub := newTestHub(t, func(cfg *Config) {
		cfg.AllowedOrigins = []string{testOrigin}
		if customize != nil {
			customize(cfg)
		}
	})

	testServer := httptest.NewServer(SetupRoutes(hub))
	t.Cleanup(testServer.Close)

	return hub, "ws" + strings.TrimPrefix(testServer.URL, "http") + "/ws"
}

func originHeader(origin string) http.Header {
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return header
}

// dial connects a client and waits until the hub has attached it, so the
// connection is subscribed before the test publishes anything.
func dial(t *testing.T, hub *Hub, wsURL string) *websocket.Conn {
	t.Helper()
	before := hub.ClientCount()

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, originHeader(testOrigin))
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return hub.ClientCount() > before },
		readTimeout, 5*time.Millisecond, "client was never attached")
	return conn
}

// hangUp closes conn cleanly and waits for the hub to notice.
func hangUp(t *testing.T, hub *Hub, conn *websocket.Conn) {
	t.Helper()
	before := hub.ClientCount()
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() < before },
		readTimeout, 5*time.Millisecond, "client was never detached")
}

func send(t *testing.T, conn *websocket.Conn, env protocol.Envelope) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, protocol.Encode(env)))
}

func sendRaw(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(raw)))
}

func readEnvelope(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	messageType, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, messageType)

	env, err := protocol.Decode(raw)
	require.NoError(t, err, "relay sent an undecodable frame: %s", raw)
	return env
}

// readUntil skips frames until one matches. Roster updates from other
// tests' connections can interleave, so callers match on content.
func readUntil(t *testing.T, conn *websocket.Conn, match func(protocol.Envelope) bool) protocol.Envelope {
	t.Helper()
	for {
		env := readEnvelope(t, conn)
		if match(env) {
			return env
		}
	}
}

func isRoster(names ...string) func(protocol.Envelope) bool {
	return func(env protocol.Envelope) bool {
		if env.Kind != protocol.KindUsers || len(env.DataArray) != len(names) {
			return false
		}
		for i := range names {
			if env.DataArray[i] != names[i] {
				return false
			}
		}
		return true
	}
}

func isKind(kind protocol.Kind) func(protocol.Envelope) bool {
	return func(env protocol.Envelope) bool { return env.Kind == kind }
}

// expectNoMessage asserts nothing arrives within timeout. A timed-out
// gorilla connection cannot be read again, so call it last.
func expectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))

	_, raw, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("Expected no message, but received %s", raw)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return
	}
	t.Fatalf("Unexpected error while waiting for absence of message: %v", err)
}

// recvFrame reads the next broadcast frame from a raw subscriber.
func recvFrame(t *testing.T, sub *fanout.Subscriber) protocol.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
	defer cancel()

	frame, err := sub.Recv(ctx)
	require.NoError(t, err)
	env, err := protocol.Decode([]byte(frame))
	require.NoError(t, err)
	return env
}

func expectNoFrame(t *testing.T, sub *fanout.Subscriber) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	frame, err := sub.Recv(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded, "unexpected frame %s", frame)
}
