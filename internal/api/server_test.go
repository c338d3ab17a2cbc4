package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tradehub/internal/command"
	"tradehub/internal/router"
	"tradehub/internal/telemetry"
	"tradehub/internal/websocket"
)

const testSecret = "test-shared-secret"

func newTestServer() (*Server, *websocket.Registry, *telemetry.Sink) {
	registry := websocket.NewRegistry()
	correlator := command.NewCorrelator(100)
	sink := telemetry.NewSink(nil, 30*time.Second)
	r := router.New(registry, correlator, sink, testSecret)
	return NewServer(registry, sink, r, nil), registry, sink
}

func TestServer_Root(t *testing.T) {
	s, _, _ := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body rootResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body.Service != "tradehub" {
		t.Errorf("expected service tradehub, got %q", body.Service)
	}
}

func TestServer_Health(t *testing.T) {
	s, registry, _ := newTestServer()
	registry.Register(websocket.NewUnboundConnection("bot-1"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body healthResponse
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.Status != "ok" {
		t.Errorf("expected status ok, got %q", body.Status)
	}
	if body.Connections != 1 {
		t.Errorf("expected 1 connection, got %d", body.Connections)
	}
}

func TestServer_Status(t *testing.T) {
	s, registry, sink := newTestServer()
	conn := websocket.NewUnboundConnection("pred-1")
	registry.Register(conn)
	registry.MarkAuthenticated("pred-1", "preditor")
	sink.Process("pred-1", map[string]interface{}{"balance": 1000.0})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body statusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(body.Connections) != 1 || body.Connections[0].InstanceID != "pred-1" {
		t.Errorf("expected one connection for pred-1, got %+v", body.Connections)
	}
	if len(body.ActiveInstances) != 1 {
		t.Errorf("expected pred-1 to be an active instance, got %v", body.ActiveInstances)
	}
}

func TestServer_TelemetryByInstance(t *testing.T) {
	s, _, sink := newTestServer()
	sink.Process("pred-2", map[string]interface{}{"equity": 500.0})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/telemetry/pred-2", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["instance_id"] != "pred-2" {
		t.Errorf("expected instance_id pred-2, got %v", body["instance_id"])
	}
}

func TestServer_TelemetryByInstanceNotFound(t *testing.T) {
	s, _, _ := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/telemetry/nobody", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestServer_Command(t *testing.T) {
	s, registry, _ := newTestServer()
	registry.Register(websocket.NewUnboundConnection("bot-1"))
	registry.MarkAuthenticated("bot-1", "bot")

	body, _ := json.Marshal(commandRequest{
		Token:  testSecret,
		Target: "bot-1",
		Action: "pause",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/command", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	var env command.Envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if env.Type != "command" {
		t.Errorf("expected a command envelope, got %q", env.Type)
	}
}

func TestServer_CommandRejectsBadToken(t *testing.T) {
	s, registry, _ := newTestServer()
	registry.Register(websocket.NewUnboundConnection("bot-1"))
	registry.MarkAuthenticated("bot-1", "bot")

	body, _ := json.Marshal(commandRequest{Token: "wrong", Target: "bot-1", Action: "pause"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/command", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestServer_CommandRejectsUnknownTarget(t *testing.T) {
	s, _, _ := newTestServer()

	body, _ := json.Marshal(commandRequest{Token: testSecret, Target: "ghost", Action: "pause"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/command", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestServer_CORSPreflight(t *testing.T) {
	s, _, _ := newTestServer()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/status", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("expected CORS headers on preflight response")
	}
}
