// Package router implements the hub's message dispatch table: the pure
// function that takes one inbound frame and the instance that sent it and
// produces zero or one reply frame, plus whatever broadcast side effects
// the frame's type calls for.
package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"tradehub/internal/command"
	"tradehub/internal/websocket"
	"tradehub/pkg/interfaces"
	"tradehub/pkg/types"
)

// targetFallbackOrder is the role search order used to resolve a command's
// target when the issuer did not name one explicitly.
var targetFallbackOrder = []string{types.RoleBot, types.RolePreditor, types.RoleExecutor, types.RoleConnector}

// Router wires the registry, correlator, and telemetry sink together and
// implements interfaces.MessageRouter.
type Router struct {
	registry     *websocket.Registry
	correlator   *command.Correlator
	telemetry    interfaces.TelemetrySink
	sharedSecret string
	rateLimiter  *RateLimiter
}

// New constructs a Router. sharedSecret is the token the "auth" message
// must present.
func New(registry *websocket.Registry, correlator *command.Correlator, telemetry interfaces.TelemetrySink, sharedSecret string) *Router {
	return &Router{
		registry:     registry,
		correlator:   correlator,
		telemetry:    telemetry,
		sharedSecret: sharedSecret,
		rateLimiter:  NewRateLimiter(),
	}
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// Route decodes raw as a frame from sourceID and dispatches it per the
// fan-out table in spec §4.3. It never panics or returns an error: every
// failure path is encoded as an error envelope, or as a nil slice for
// fire-and-forget dispatch.
func (r *Router) Route(ctx context.Context, sourceID string, raw []byte) []byte {
	var frame types.Envelope
	if err := json.Unmarshal(raw, &frame); err != nil {
		return errorEnvelope("Invalid JSON", "", 0)
	}

	conn, connected := r.registry.Lookup(sourceID)
	if connected {
		conn.Touch()
	}
	if frame.Payload == nil {
		frame.Payload = map[string]interface{}{}
	}

	if frame.Type == types.TypeAuth {
		return r.handleAuth(sourceID, frame)
	}

	if !connected || !conn.IsAuthenticated() {
		return errorEnvelope("Not authenticated. Send 'auth' first.", frame.ID, 4001)
	}

	if !r.rateLimiter.Allow(sourceID) {
		return errorEnvelope("Rate limit exceeded", frame.ID, 0)
	}

	switch frame.Type {
	case types.TypeBar:
		r.registry.FanOutByRole(forward(frame.Type, sourceID, frame.Payload), types.RolePreditor, sourceID)
		return nil
	case types.TypeSignal:
		env := forward(frame.Type, sourceID, frame.Payload)
		r.registry.FanOutByRole(env, types.RoleExecutor, sourceID)
		r.registry.FanOutByRole(env, types.RoleDashboard, sourceID)
		r.registry.FanOutByRole(env, types.RoleAdmin, sourceID)
		return nil
	case types.TypeOrderCommand:
		r.registry.FanOutByRole(forward(frame.Type, sourceID, frame.Payload), types.RoleConnector, sourceID)
		return nil
	case types.TypeOrderResult:
		env := forward(frame.Type, sourceID, frame.Payload)
		r.registry.FanOutByRole(env, types.RoleExecutor, sourceID)
		r.registry.FanOutByRole(env, types.RoleDashboard, sourceID)
		return nil
	case types.TypePositionEvent:
		env := forward(frame.Type, sourceID, frame.Payload)
		r.registry.FanOutByRole(env, types.RoleExecutor, sourceID)
		r.registry.FanOutByRole(env, types.RoleDashboard, sourceID)
		return nil
	case types.TypeAccountUpdate:
		env := forward(frame.Type, sourceID, frame.Payload)
		r.registry.FanOutByRole(env, types.RoleExecutor, sourceID)
		r.registry.FanOutByRole(env, types.RoleDashboard, sourceID)
		return nil
	case types.TypeHistoryResponse:
		r.registry.FanOutByRole(forward(frame.Type, sourceID, frame.Payload), types.RolePreditor, sourceID)
		return nil
	case types.TypeTelemetry:
		return r.handleTelemetry(sourceID, frame)
	case types.TypeAck:
		r.handleAck(sourceID, frame)
		return nil
	case types.TypeCommand:
		return r.handleCommand(sourceID, conn, frame)
	default:
		return errorEnvelope("Unknown type: "+frame.Type, frame.ID, 0)
	}
}

func (r *Router) handleAuth(sourceID string, frame types.Envelope) []byte {
	token, _ := frame.Payload["token"].(string)
	role, _ := frame.Payload["role"].(string)
	if role == "" {
		role = types.RoleBot
	}

	if token == "" || token != r.sharedSecret {
		return errorEnvelope("Invalid token", frame.ID, 4001)
	}

	// Role is assigned verbatim per spec — mark-authenticated does not
	// reject an unrecognized role, it just won't appear in any fan-out.
	if !types.IsKnownRole(role) {
		slog.Warn("authenticated with unrecognized role", "instance_id", sourceID, "role", role)
	}

	r.registry.MarkAuthenticated(sourceID, role)
	return ackEnvelope(frame.ID, "authenticated", map[string]interface{}{
		"instance_id": sourceID,
		"role":        role,
	})
}

func (r *Router) handleTelemetry(sourceID string, frame types.Envelope) []byte {
	result := r.telemetry.Process(sourceID, frame.Payload)

	env := forward(frame.Type, sourceID, frame.Payload)
	r.registry.FanOutByRole(env, types.RoleDashboard, sourceID)
	r.registry.FanOutByRole(env, types.RoleAdmin, sourceID)

	return ackEnvelope(frame.ID, "telemetry_ok", result)
}

func (r *Router) handleAck(sourceID string, frame types.Envelope) {
	origin, payload, matched := r.correlator.ProcessAcknowledgment(sourceID, frame.Payload)
	if !matched || origin == "" {
		return
	}
	env := types.Envelope{Type: types.TypeAck, Payload: payload, Timestamp: nowSeconds()}
	r.registry.SendToIdentifier(origin, env)
}

func (r *Router) handleCommand(sourceID string, conn *websocket.Connection, frame types.Envelope) []byte {
	role := conn.Role()
	if role != types.RoleAdmin && role != types.RoleDashboard {
		return errorEnvelope("Only admin/dashboard can send commands", frame.ID, 0)
	}

	action, _ := frame.Payload["action"].(string)
	if action == "" {
		return errorEnvelope("Command requires 'action'", frame.ID, 0)
	}

	target, _ := frame.Payload["target"].(string)
	if target == "" {
		target = r.resolveFallbackTarget()
		if target == "" {
			return errorEnvelope("No target connected", frame.ID, 0)
		}
	}

	params, _ := frame.Payload["params"].(map[string]interface{})

	cmd, ok := r.correlator.CreateCommand(action, target, sourceID, params, frame.ID)
	if !ok {
		return errorEnvelope("Invalid action: "+action, frame.ID, 0)
	}

	if !r.registry.SendToIdentifier(target, cmd) {
		return errorEnvelope("Target "+target+" not connected", frame.ID, 0)
	}
	return nil
}

// Correlator exposes the router's command correlator for the REST status
// endpoint's pending-commands listing.
func (r *Router) Correlator() *command.Correlator {
	return r.correlator
}

// CleanupRateLimiter drops the rate limiter's state for instances idle
// for 5 minutes or more. Intended to be called periodically alongside the
// hub's other background maintenance loops.
func (r *Router) CleanupRateLimiter() {
	r.rateLimiter.Cleanup()
}

// HandleRESTCommand mints and delivers a command on behalf of the REST
// adapter (spec §6's POST /api/v1/command), which has no authenticated
// connection of its own and so must present the shared secret directly
// rather than rely on a prior "auth" frame. origin is always "rest-api".
func (r *Router) HandleRESTCommand(token, action, target string, params map[string]interface{}) (command.Envelope, error) {
	if token == "" || token != r.sharedSecret {
		return command.Envelope{}, ErrInvalidToken
	}
	if action == "" {
		return command.Envelope{}, ErrMissingAction
	}

	if target == "" {
		target = r.resolveFallbackTarget()
		if target == "" {
			return command.Envelope{}, ErrNoTargetConnected
		}
	}

	cmd, ok := r.correlator.CreateCommand(action, target, "rest-api", params, "")
	if !ok {
		return command.Envelope{}, ErrInvalidAction
	}

	if !r.registry.SendToIdentifier(target, cmd) {
		return command.Envelope{}, ErrTargetNotConnected
	}
	return cmd, nil
}

func (r *Router) resolveFallbackTarget() string {
	for _, role := range targetFallbackOrder {
		if id, ok := r.registry.FirstByRole(role); ok {
			return id
		}
	}
	return ""
}

func forward(msgType, from string, payload map[string]interface{}) types.Envelope {
	return types.Envelope{Type: msgType, From: from, Payload: payload, Timestamp: nowSeconds()}
}

func ackEnvelope(refID, status string, result map[string]interface{}) []byte {
	payload := map[string]interface{}{"status": status}
	if refID != "" {
		payload["ref_id"] = refID
	}
	if len(result) > 0 {
		payload["result"] = result
	}
	env := types.Envelope{Type: types.TypeAck, Payload: payload, Timestamp: nowSeconds()}
	b, _ := json.Marshal(env)
	return b
}

func errorEnvelope(message, refID string, code int) []byte {
	payload := map[string]interface{}{"message": message}
	if refID != "" {
		payload["ref_id"] = refID
	}
	if code != 0 {
		payload["code"] = code
	}
	env := types.Envelope{Type: types.TypeError, Payload: payload, Timestamp: nowSeconds()}
	b, _ := json.Marshal(env)
	return b
}
