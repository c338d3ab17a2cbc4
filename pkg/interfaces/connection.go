// Package interfaces defines the boundaries between the routing core and
// its collaborators (transport, persistence), so the core can be tested
// against fakes without importing gorilla/websocket or database/sql.
package interfaces

import "time"

// Connection represents a single peer's duplex transport, abstracted away
// from gorilla/websocket. internal/websocket.Connection implements it; the
// registry and router hold that concrete type, not this interface. Role and
// authentication state live on the connection because the wire protocol
// attaches them to the socket.
type Connection interface {
	// WriteJSON marshals v and writes it as a single text frame. Safe for
	// concurrent use; implementations must serialize writes per connection.
	WriteJSON(v interface{}) error

	// Close closes the transport. Idempotent.
	Close() error

	// CloseWithReason closes the transport with the given WebSocket close
	// code and a human-readable reason.
	CloseWithReason(code int, reason string) error

	InstanceID() string
	Role() string
	IsAuthenticated() bool

	// Authenticate marks the connection authenticated under role. No-op on
	// an already-closed connection.
	Authenticate(role string)

	// Touch stamps last-message-at to now; the router calls it once per
	// successfully parsed inbound frame.
	Touch()
	LastMessageAt() time.Time
}
