// Package types holds the wire-level data shapes shared across the hub:
// the envelope every frame is carried in, and the closed sets of roles and
// message classes the router dispatches on.
package types

// Message type discriminators carried in Envelope.Type. A type outside
// this set falls through to the router's "unknown" branch.
const (
	TypeAuth            = "auth"
	TypeBar             = "bar"
	TypeSignal          = "signal"
	TypeOrderCommand    = "order_command"
	TypeOrderResult     = "order_result"
	TypePositionEvent   = "position_event"
	TypeAccountUpdate   = "account_update"
	TypeHistoryResponse = "history_response"
	TypeTelemetry       = "telemetry"
	TypeAck             = "ack"
	TypeCommand         = "command"
	TypeError           = "error"
)

// Role is the closed set of self-declared peer classifications. Role is
// trusted on the peer's say-so at auth time; the hub does not verify it,
// and a role outside this set is still assigned (the router only logs a
// warning), it just matches no fan-out.
const (
	RoleUnknown   = "unknown"
	RoleConnector = "connector"
	RolePreditor  = "preditor"
	RoleExecutor  = "executor"
	RoleDashboard = "dashboard"
	RoleAdmin     = "admin"
	RoleBot       = "bot" // legacy: generic authenticated peer, no fan-out subscription
)

// Envelope is the on-wire object carried over every frame.
//
// Required: Type. Optional: ID (sender-chosen correlation id), Payload,
// Timestamp (assigned by the hub on outbound). Forwarded envelopes also
// carry From, the originating instance id — the original ID is replaced,
// not preserved, when the hub rebroadcasts a message.
type Envelope struct {
	Type      string                 `json:"type"`
	ID        string                 `json:"id,omitempty"`
	From      string                 `json:"from,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp float64                `json:"timestamp,omitempty"`
}

// StringField reads a string field out of the envelope payload, returning
// "" when the field is absent or not a string.
func (e *Envelope) StringField(key string) string {
	if e.Payload == nil {
		return ""
	}
	v, ok := e.Payload[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// MapField reads a map field out of the envelope payload, returning an
// empty map (never nil) when the field is absent or not an object.
func (e *Envelope) MapField(key string) map[string]interface{} {
	if e.Payload != nil {
		if v, ok := e.Payload[key]; ok {
			if m, ok := v.(map[string]interface{}); ok {
				return m
			}
		}
	}
	return map[string]interface{}{}
}
