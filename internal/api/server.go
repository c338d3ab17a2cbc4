// Package api implements the hub's HTTP surface: a small REST adapter that
// sits alongside the WebSocket upgrade endpoint, exposing status,
// telemetry, and a command-submission path for clients that never open a
// socket of their own.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"tradehub/internal/router"
	"tradehub/internal/telemetry"
	"tradehub/internal/websocket"
	"tradehub/pkg/interfaces"
)

const serviceVersion = "1.0.0"

// Server wires the registry, telemetry sink, router, and durable store
// into the HTTP handlers described in spec §6.
type Server struct {
	registry  *websocket.Registry
	telemetry *telemetry.Sink
	router    *router.Router
	store     interfaces.TelemetryStore
	startedAt time.Time
	mux       *http.ServeMux
}

// NewServer constructs a Server and installs its routes. store may be nil
// if no durable backend is configured, in which case /health skips the
// store check and reports "ok".
func NewServer(registry *websocket.Registry, sink *telemetry.Sink, r *router.Router, store interfaces.TelemetryStore) *Server {
	s := &Server{
		registry:  registry,
		telemetry: sink,
		router:    r,
		store:     store,
		startedAt: time.Now(),
		mux:       http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.Handle("/", s.withMiddleware(http.HandlerFunc(s.handleRoot)))
	s.mux.Handle("/health", s.withMiddleware(http.HandlerFunc(s.handleHealth)))
	s.mux.Handle("/api/v1/status", s.withMiddleware(http.HandlerFunc(s.handleStatus)))
	s.mux.Handle("/api/v1/telemetry/", s.withMiddleware(http.HandlerFunc(s.handleTelemetryByInstance)))
	s.mux.Handle("/api/v1/command", s.withMiddleware(http.HandlerFunc(s.handleCommand)))
}

// ServeHTTP makes Server an http.Handler for wiring into an http.Server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// rootResponse is GET /'s liveness banner.
type rootResponse struct {
	Service string `json:"service"`
	Version string `json:"version"`
	Docs    string `json:"docs"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(rootResponse{
		Service: "tradehub",
		Version: serviceVersion,
		Docs:    "/api/v1/status",
	})
}

// healthResponse is GET /health's shape per spec §6.
type healthResponse struct {
	Status        string  `json:"status"`
	Connections   int     `json:"connections"`
	Authenticated int     `json:"authenticated"`
	UptimeSeconds float64 `json:"uptime_s"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"

	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.store.HealthCheck(ctx); err != nil {
			status = "degraded"
		}
	}

	resp := healthResponse{
		Status:        status,
		Connections:   s.registry.CountTotal(),
		Authenticated: s.registry.CountAuthenticated(),
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
	}

	if status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(resp)
}

// connectionSummary is one row of the connections list in /api/v1/status.
type connectionSummary struct {
	InstanceID    string `json:"instance_id"`
	Role          string `json:"role"`
	Authenticated bool   `json:"authenticated"`
}

// pendingCommandSummary is one row of the pending-commands list.
type pendingCommandSummary struct {
	ID     string `json:"id"`
	Target string `json:"target"`
	Action string `json:"action"`
}

type statusResponse struct {
	Connections     []connectionSummary                `json:"connections"`
	Telemetry       map[string]map[string]interface{} `json:"telemetry"`
	ActiveInstances []string                          `json:"active_instances"`
	PendingCommands []pendingCommandSummary            `json:"pending_commands"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	conns := s.registry.Enumerate()
	connections := make([]connectionSummary, 0, len(conns))
	for _, conn := range conns {
		connections = append(connections, connectionSummary{
			InstanceID:    conn.InstanceID(),
			Role:          conn.Role(),
			Authenticated: conn.IsAuthenticated(),
		})
	}

	pending := s.router.Correlator().ListPending()
	pendingCommands := make([]pendingCommandSummary, 0, len(pending))
	for _, p := range pending {
		pendingCommands = append(pendingCommands, pendingCommandSummary{ID: p.ID, Target: p.Target, Action: p.Action})
	}

	json.NewEncoder(w).Encode(statusResponse{
		Connections:     connections,
		Telemetry:       s.telemetry.AllLatest(),
		ActiveInstances: s.telemetry.GetConnectedInstances(),
		PendingCommands: pendingCommands,
	})
}

// handleTelemetryByInstance serves GET /api/v1/telemetry/{instance_id}.
func (s *Server) handleTelemetryByInstance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	instanceID := strings.TrimPrefix(r.URL.Path, "/api/v1/telemetry/")
	if instanceID == "" {
		s.sendError(w, "instance id required", http.StatusBadRequest)
		return
	}

	reading, ok := s.telemetry.Latest(instanceID)
	if !ok {
		s.sendError(w, "not found", http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(reading)
}

// commandRequest is POST /api/v1/command's body per spec §6.
type commandRequest struct {
	Token  string                 `json:"token"`
	Target string                 `json:"target"`
	Action string                 `json:"action"`
	Params map[string]interface{} `json:"params"`
}

// handleCommand decodes a command request and routes it through the same
// correlator/registry path a WebSocket-originated command takes, with
// "rest-api" as its origin identifier.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	cmd, err := s.router.HandleRESTCommand(req.Token, req.Action, req.Target, req.Params)
	if err != nil {
		switch err {
		case router.ErrInvalidToken:
			s.sendError(w, err.Error(), http.StatusUnauthorized)
		case router.ErrMissingAction, router.ErrInvalidAction:
			s.sendError(w, err.Error(), http.StatusBadRequest)
		case router.ErrNoTargetConnected, router.ErrTargetNotConnected:
			s.sendError(w, err.Error(), http.StatusNotFound)
		default:
			s.sendError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(cmd)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(errorResponse{Error: message})
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Content-Type", "application/json")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
