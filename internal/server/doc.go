// Package server implements the HTTP and WebSocket side of the chat relay.
//
// A Hub owns the shared roster and the broadcast stream. Each accepted
// WebSocket connection gets a Client whose read pump applies register,
// typing and message frames while its write pump forwards every broadcast
// frame back to the socket. The two pumps stop together.
package server
