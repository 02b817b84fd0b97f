package server

import (
	"testing"
	"time"

	"github.com/Tyrowin/chatrelay/internal/protocol"
	"github.com/stretchr/testify/require"
)

func TestNewHub(t *testing.T) {
	req := require.New(t)
	hub := NewHub(Config{}, nil)
	defer func() { _ = hub.Shutdown(time.Second) }()

	req.NotNil(hub.Registry())
	req.Empty(hub.Roster())
	req.Zero(hub.ClientCount())
	req.Equal(16, hub.cfg.FanoutCapacity)
}

func TestHub_Publish_Reaches_Subscribers(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(t, nil)
	first := hub.fanout.Subscribe()
	second := hub.fanout.Subscribe()

	hub.Publish(protocol.Typing("alice"))

	req.Equal(protocol.KindTyping, recvFrame(t, first).Kind)
	req.Equal(protocol.KindTyping, recvFrame(t, second).Kind)
}

func TestHub_Shutdown_Without_Clients(t *testing.T) {
	req := require.New(t)
	hub := NewHub(*NewConfig(), nil)

	req.NoError(hub.Shutdown(time.Second))
	req.NoError(hub.Shutdown(time.Second))
}

func TestHub_Attach_After_Shutdown(t *testing.T) {
	req := require.New(t)
	hub := NewHub(*NewConfig(), nil)
	req.NoError(hub.Shutdown(time.Second))

	client, err := hub.Attach(nil, "127.0.0.1:1")
	req.ErrorIs(err, ErrHubClosed)
	req.Nil(client)
	req.Zero(hub.ClientCount())
}

func TestHub_Publish_After_Shutdown_Is_Dropped(t *testing.T) {
	hub := NewHub(*NewConfig(), nil)
	sub := hub.fanout.Subscribe()
	require.NoError(t, hub.Shutdown(time.Second))

	require.NotPanics(t, func() { hub.Publish(protocol.Typing("late")) })
	_, err := sub.Recv(t.Context())
	require.Error(t, err)
}
