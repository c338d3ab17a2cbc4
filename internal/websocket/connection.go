// Package websocket adapts gorilla/websocket transports to the hub's
// interfaces.Connection boundary and tracks them in a role-keyed registry.
package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tradehub/pkg/types"
)

// writeTimeout bounds a single outbound frame write.
const writeTimeout = 5 * time.Second

// Connection implements interfaces.Connection over a gorilla/websocket
// socket. Writes are serialized through a single goroutine so fan-out from
// independent router invocations never interleaves frames on the wire.
type Connection struct {
	conn          *websocket.Conn
	writeCh       chan []byte
	instanceID    string
	role          string
	authenticated bool
	lastMessageAt time.Time
	ctx           context.Context
	cancel        context.CancelFunc
	closeOnce     sync.Once
	mu            sync.RWMutex
}

// NewUnboundConnection returns a Connection with no underlying transport.
// Writes queued to it are silently discarded by the write loop. Used by
// tests that need a registry-trackable identity without a real socket.
func NewUnboundConnection(instanceID string) *Connection {
	return NewConnection(nil, instanceID)
}

// NewConnection wraps an accepted socket for instanceID and starts its
// write-serialization goroutine.
func NewConnection(conn *websocket.Conn, instanceID string) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:       conn,
		writeCh:    make(chan []byte, 100),
		instanceID: instanceID,
		role:       types.RoleUnknown,
		ctx:        ctx,
		cancel:     cancel,
	}
	go c.writeLoop()
	return c
}

func (c *Connection) writeLoop() {
	// Cancelling (rather than closing writeCh) makes every later WriteJSON
	// report ErrConnectionClosed, so fan-out can evict a peer whose socket
	// write failed.
	defer c.cancel()

	for {
		select {
		case data, ok := <-c.writeCh:
			if !ok {
				return
			}
			if c.conn == nil {
				continue // unbound test connection: frame is discarded
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON marshals v and queues it for the write goroutine.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close tears down the transport. Idempotent.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// CloseWithReason sends a WebSocket close frame carrying code and reason
// before tearing down the transport. Best-effort: a failure to write the
// close frame does not prevent the underlying close.
func (c *Connection) CloseWithReason(code int, reason string) error {
	if c.conn != nil {
		msg := websocket.FormatCloseMessage(code, reason)
		// WriteControl is safe to call concurrently with writeLoop's writes.
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
	}
	return c.Close()
}

// ReadMessage blocks for the next text frame from the peer, with no read
// deadline: idle peers are evicted by the lifecycle driver's stale sweep,
// not by a read timeout. Callers outside this package (the lifecycle
// driver) use this instead of touching the underlying socket directly, so
// the read path stays testable against NewUnboundConnection in isolation
// from NewConnection's write loop.
func (c *Connection) ReadMessage() ([]byte, error) {
	if c.conn == nil {
		return nil, ErrConnectionClosed
	}
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *Connection) InstanceID() string {
	return c.instanceID
}

// Authenticate marks the connection authenticated under role. No-op once
// the connection is closed.
func (c *Connection) Authenticate(role string) {
	select {
	case <-c.ctx.Done():
		return
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.role = role
	c.authenticated = true
}

func (c *Connection) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

func (c *Connection) Role() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

// Touch stamps the connection's last-message-at to now. The router calls
// this once per successfully parsed inbound frame, before dispatch.
func (c *Connection) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastMessageAt = time.Now()
}

// LastMessageAt returns the zero time if no frame has ever been received.
func (c *Connection) LastMessageAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastMessageAt
}
