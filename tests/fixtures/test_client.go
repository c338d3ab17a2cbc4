// Package fixtures provides a minimal WebSocket test client and a harness
// that wires up a full in-process hub (registry, correlator, telemetry
// sink, router, lifecycle driver, API server) behind an httptest.Server,
// for scenario tests that exercise the system end to end.
package fixtures

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"tradehub/internal/api"
	"tradehub/internal/command"
	"tradehub/internal/lifecycle"
	"tradehub/internal/router"
	"tradehub/internal/telemetry"
	wsconn "tradehub/internal/websocket"
)

// SharedSecret is the token every scenario harness authenticates with.
const SharedSecret = "scenario-shared-secret"

// Harness bundles a running in-process hub with the collaborators tests
// need direct access to for assertions.
type Harness struct {
	Server     *httptest.Server
	Registry   *wsconn.Registry
	Correlator *command.Correlator
	Telemetry  *telemetry.Sink
	Router     *router.Router
}

// NewHarness starts an httptest.Server fronting a fresh hub with an
// in-memory-only telemetry sink (no durable store).
func NewHarness() *Harness {
	registry := wsconn.NewRegistry()
	correlator := command.NewCorrelator(100)
	sink := telemetry.NewSink(nil, 30*time.Second)
	r := router.New(registry, correlator, sink, SharedSecret)
	driver := lifecycle.New(registry, r, sink, 2*time.Second, 300*time.Second, 60*time.Second)
	apiServer := api.NewServer(registry, sink, r, nil)

	mux := http.NewServeMux()
	mux.Handle("/", apiServer)
	mux.HandleFunc("/ws/", func(w http.ResponseWriter, req *http.Request) {
		instanceID := strings.TrimPrefix(req.URL.Path, "/ws/")
		driver.HandleUpgrade(w, req, instanceID)
	})

	server := httptest.NewServer(mux)

	return &Harness{
		Server:     server,
		Registry:   registry,
		Correlator: correlator,
		Telemetry:  sink,
		Router:     r,
	}
}

// Close tears down the underlying httptest.Server.
func (h *Harness) Close() {
	h.Server.Close()
}

// WebSocketURL builds the ws:// URL for instanceID's upgrade endpoint.
func (h *Harness) WebSocketURL(instanceID string) string {
	u, _ := url.Parse(h.Server.URL)
	u.Scheme = "ws"
	u.Path = "/ws/" + instanceID
	return u.String()
}

// Client is a lightweight WebSocket peer for scenario tests: it dials,
// authenticates, and offers blocking send/receive helpers around a raw
// gorilla connection.
type Client struct {
	InstanceID string
	conn       *websocket.Conn
}

// Dial connects instanceID to the harness and returns an unauthenticated
// client.
func (h *Harness) Dial(instanceID string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(h.WebSocketURL(instanceID), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", instanceID, err)
	}
	return &Client{InstanceID: instanceID, conn: conn}, nil
}

// Authenticate sends the auth frame under role and waits for the ack.
func (c *Client) Authenticate(ctx context.Context, role string) error {
	if err := c.Send(map[string]interface{}{
		"type": "auth", "id": "auth-1",
		"payload": map[string]interface{}{"token": SharedSecret, "role": role},
	}); err != nil {
		return err
	}
	_, err := c.Receive()
	return err
}

// Send marshals and writes v as a single text frame.
func (c *Client) Send(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Receive reads and decodes the next frame, bounded by a 2-second deadline.
func (c *Client) Receive() (map[string]interface{}, error) {
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var v map[string]interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Close closes the underlying socket.
func (c *Client) Close() error {
	return c.conn.Close()
}
