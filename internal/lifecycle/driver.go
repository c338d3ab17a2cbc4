// Package lifecycle drives a single WebSocket connection from upgrade
// through authentication and its receive loop to teardown, plus the
// periodic stale-connection sweep described in spec §4.4.
package lifecycle

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	gorilla "github.com/gorilla/websocket"

	"tradehub/internal/websocket"
	"tradehub/pkg/interfaces"
	"tradehub/pkg/types"
)

// upgrader accepts every origin, matching the teacher's development-mode
// CORS posture — the hub sits behind a shared-secret gate, not origin
// checks.
var upgrader = gorilla.Upgrader{
	CheckOrigin:      func(r *http.Request) bool { return true },
	HandshakeTimeout: 10 * time.Second,
}

// Driver owns the registry, router, and telemetry sink a connection needs
// across its lifetime, plus the timing knobs from the hub's settings.
type Driver struct {
	registry       *websocket.Registry
	router         interfaces.MessageRouter
	telemetry      interfaces.TelemetrySink
	authGrace      time.Duration
	staleThreshold time.Duration
	sweepInterval  time.Duration
}

// New constructs a Driver. router is typically *router.Router; telemetry is
// typically *telemetry.Sink, both accepted as interfaces so tests can
// substitute fakes.
func New(registry *websocket.Registry, router interfaces.MessageRouter, sink interfaces.TelemetrySink, authGrace, staleThreshold, sweepInterval time.Duration) *Driver {
	return &Driver{
		registry:       registry,
		router:         router,
		telemetry:      sink,
		authGrace:      authGrace,
		staleThreshold: staleThreshold,
		sweepInterval:  sweepInterval,
	}
}

// HandleUpgrade upgrades the HTTP request to a WebSocket, registers the
// connection under instanceID, and runs its lifecycle to completion. It
// returns once the connection has been torn down; callers invoke it from
// an http.Handler in its own goroutine implicitly via the HTTP server.
func (d *Driver) HandleUpgrade(w http.ResponseWriter, r *http.Request, instanceID string) {
	if instanceID == "" {
		slog.Warn("rejecting upgrade", "error", ErrMissingInstanceID)
		http.Error(w, ErrMissingInstanceID.Error(), http.StatusBadRequest)
		return
	}
	if !types.IsValidInstanceID(instanceID) {
		slog.Warn("rejecting upgrade", "instance_id", instanceID, "error", ErrInvalidInstanceID)
		http.Error(w, ErrInvalidInstanceID.Error(), http.StatusBadRequest)
		return
	}

	rawConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "instance_id", instanceID, "error", err)
		return
	}

	conn := websocket.NewConnection(rawConn, instanceID)
	if err := d.registry.Register(conn); err != nil {
		slog.Error("failed to register connection", "instance_id", instanceID, "error", err)
		_ = conn.Close()
		return
	}

	d.run(conn)
}

// run executes the bounded auth handshake, then the authenticated receive
// loop, deregistering and dropping telemetry on every exit path.
func (d *Driver) run(conn *websocket.Connection) {
	defer func() {
		d.registry.Deregister(conn)
		d.telemetry.Remove(conn.InstanceID())
		_ = conn.Close()
	}()

	if reason, ok := d.awaitAuthentication(conn); !ok {
		_ = conn.CloseWithReason(4001, reason)
		return
	}

	d.receiveLoop(conn)
}

// awaitAuthentication blocks for at most authGrace waiting for the first
// frame to authenticate the connection. It reports "Unauthorized" when a
// frame arrived but failed to authenticate (bad secret, read error, or any
// non-auth first frame) and "Auth timeout" only when the grace period
// elapses with no frame at all, per spec §4.4.
func (d *Driver) awaitAuthentication(conn *websocket.Connection) (string, bool) {
	type readResult struct {
		data []byte
		err  error
	}
	resultCh := make(chan readResult, 1)

	go func() {
		data, err := conn.ReadMessage()
		resultCh <- readResult{data, err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return "Unauthorized", false
		}
		reply := d.router.Route(context.Background(), conn.InstanceID(), res.data)
		if reply != nil {
			_ = conn.WriteJSON(json.RawMessage(reply))
		}
		if !conn.IsAuthenticated() {
			return "Unauthorized", false
		}
		return "", true
	case <-time.After(d.authGrace):
		return "Auth timeout", false
	}
}

// receiveLoop reads frames until the transport disconnects, routing each
// one and writing back any reply.
func (d *Driver) receiveLoop(conn *websocket.Connection) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		reply := d.router.Route(context.Background(), conn.InstanceID(), data)
		if reply != nil {
			if err := conn.WriteJSON(json.RawMessage(reply)); err != nil {
				return
			}
		}
	}
}

// RunStaleSweep blocks, evicting connections idle beyond staleThreshold
// every sweepInterval, until ctx is canceled. Intended to run in its own
// goroutine for the lifetime of the hub.
func (d *Driver) RunStaleSweep(ctx context.Context) {
	ticker := time.NewTicker(d.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.sweepOnce()
		case <-ctx.Done():
			return
		}
	}
}

func (d *Driver) sweepOnce() {
	now := time.Now()
	for _, conn := range d.registry.Enumerate() {
		last := conn.LastMessageAt()
		if last.IsZero() {
			continue
		}
		if now.Sub(last) > d.staleThreshold {
			d.registry.Deregister(conn)
			d.telemetry.Remove(conn.InstanceID())
		}
	}
}
