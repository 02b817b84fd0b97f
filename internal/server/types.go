// Package server defines the connection lifecycle states and utility helpers
// that are reused across client and hub logic.
package server

import (
	"errors"
	"net"
	"sync/atomic"
	"syscall"

	"github.com/gorilla/websocket"
)

// AnonymousName attributes messages from connections that never registered.
const AnonymousName = "anonymous"

// ConnState is the lifecycle stage of a client connection.
type ConnState int32

const (
	StateConnected ConnState = iota
	StateRegistered
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateRegistered:
		return "registered"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

type atomicState struct{ v atomic.Int32 }

func (a *atomicState) Load() ConnState   { return ConnState(a.v.Load()) }
func (a *atomicState) Store(s ConnState) { a.v.Store(int32(s)) }

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, websocket.ErrCloseSent) ||
		errors.Is(err, syscall.EPIPE)
}
