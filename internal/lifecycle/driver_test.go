package lifecycle

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"

	"tradehub/internal/command"
	"tradehub/internal/router"
	"tradehub/internal/telemetry"
	"tradehub/internal/websocket"
)

const testSecret = "test-shared-secret"

func newTestDriver() (*Driver, *websocket.Registry) {
	registry := websocket.NewRegistry()
	correlator := command.NewCorrelator(100)
	sink := telemetry.NewSink(nil, 30*time.Second)
	r := router.New(registry, correlator, sink, testSecret)
	d := New(registry, r, sink, 150*time.Millisecond, 300*time.Second, 60*time.Second)
	return d, registry
}

func newTestServer(d *Driver, instanceID string) (*httptest.Server, string) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d.HandleUpgrade(w, r, instanceID)
	}))
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	return server, url
}

func TestDriver_AuthSuccessThenRoutesFrames(t *testing.T) {
	d, registry := newTestDriver()
	server, url := newTestServer(d, "pred-1")
	defer server.Close()

	client, _, err := gorilla.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer client.Close()

	authFrame, _ := json.Marshal(map[string]interface{}{
		"type": "auth", "id": "a1",
		"payload": map[string]interface{}{"token": testSecret, "role": "preditor"},
	})
	if err := client.WriteMessage(gorilla.TextMessage, authFrame); err != nil {
		t.Fatalf("write auth frame failed: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("expected an ack reply: %v", err)
	}
	var ack map[string]interface{}
	if err := json.Unmarshal(data, &ack); err != nil {
		t.Fatalf("ack was not valid JSON: %v", err)
	}
	if ack["type"] != "ack" {
		t.Errorf("expected ack, got %v", ack["type"])
	}

	time.Sleep(50 * time.Millisecond)
	conn, ok := registry.Lookup("pred-1")
	if !ok || !conn.IsAuthenticated() {
		t.Fatal("expected pred-1 to be registered and authenticated")
	}
}

func TestDriver_AuthTimeoutClosesConnection(t *testing.T) {
	d, registry := newTestDriver()
	server, url := newTestServer(d, "slow-1")
	defer server.Close()

	client, _, err := gorilla.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer client.Close()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = client.ReadMessage()
	if err == nil {
		t.Fatal("expected the connection to close after the auth grace elapses")
	}
	closeErr, ok := err.(*gorilla.CloseError)
	if !ok || closeErr.Code != 4001 {
		t.Errorf("expected a 4001 close, got %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := registry.Lookup("slow-1"); ok {
		t.Error("expected the connection to be deregistered after auth timeout")
	}
}

func TestDriver_InvalidTokenClosesConnection(t *testing.T) {
	d, registry := newTestDriver()
	server, url := newTestServer(d, "bad-1")
	defer server.Close()

	client, _, err := gorilla.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer client.Close()

	authFrame, _ := json.Marshal(map[string]interface{}{
		"type": "auth", "payload": map[string]interface{}{"token": "wrong-secret"},
	})
	if err := client.WriteMessage(gorilla.TextMessage, authFrame); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	client.ReadMessage() // the error reply
	_, _, err = client.ReadMessage()
	if err == nil {
		t.Fatal("expected the connection to close after an invalid token")
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := registry.Lookup("bad-1"); ok {
		t.Error("expected the connection to be deregistered after a failed auth")
	}
}

func TestDriver_DisconnectDeregisters(t *testing.T) {
	d, registry := newTestDriver()
	server, url := newTestServer(d, "pred-2")
	defer server.Close()

	client, _, err := gorilla.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	authFrame, _ := json.Marshal(map[string]interface{}{
		"type": "auth", "payload": map[string]interface{}{"token": testSecret, "role": "preditor"},
	})
	client.WriteMessage(gorilla.TextMessage, authFrame)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	client.ReadMessage()

	client.Close()
	time.Sleep(100 * time.Millisecond)

	if _, ok := registry.Lookup("pred-2"); ok {
		t.Error("expected pred-2 to be deregistered after client disconnect")
	}
}

func TestDriver_SweepEvictsStaleConnections(t *testing.T) {
	d, registry := newTestDriver()
	d.staleThreshold = 10 * time.Millisecond

	conn := websocket.NewUnboundConnection("stale-1")
	registry.Register(conn)
	conn.Touch()

	time.Sleep(20 * time.Millisecond)
	d.sweepOnce()

	if _, ok := registry.Lookup("stale-1"); ok {
		t.Error("expected stale-1 to be evicted by the sweep")
	}
}

func TestDriver_SweepIgnoresNeverTouchedConnections(t *testing.T) {
	d, registry := newTestDriver()
	d.staleThreshold = 10 * time.Millisecond

	conn := websocket.NewUnboundConnection("fresh-1")
	registry.Register(conn)

	time.Sleep(20 * time.Millisecond)
	d.sweepOnce()

	if _, ok := registry.Lookup("fresh-1"); !ok {
		t.Error("expected a connection with a zero last-message-at to survive the sweep")
	}
}
