// Package command implements the hub's command/acknowledgment correlator:
// it mints command envelopes for admin/dashboard-issued instructions,
// matches the target's acknowledgment back to the issuer, and expires
// entries nobody ever acknowledged.
package command

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"tradehub/pkg/types"
)

// ValidActions is the closed set of actions the correlator will mint a
// command for, per spec §6.
var ValidActions = map[string]bool{
	"pause": true, "resume": true, "status": true, "get_state": true,
	"close_all": true, "close_symbol": true, "close_position": true,
	"reload_config": true,
	"get_symbol_config": true, "set_symbol_config": true,
	"get_general_config": true, "set_general_config": true,
	"load_model": true, "unload_model": true, "list_models": true,
	"get_available_models": true, "request_history": true,
	"get_history": true, "get_account": true, "get_positions": true, "reconnect": true,
}

// Envelope is the wire shape of a command or its acknowledgment — the
// hub's shared types.Envelope, reused here rather than re-declared.
type Envelope = types.Envelope

// Ack is the recorded outcome of a matched acknowledgment.
type Ack struct {
	From       string                 `json:"from"`
	Status     string                 `json:"status"`
	Result     map[string]interface{} `json:"result,omitempty"`
	ReceivedAt time.Time              `json:"received_at"`
}

// pendingEntry is a command awaiting acknowledgment.
type pendingEntry struct {
	command Envelope
	target  string
	origin  string
	sentAt  time.Time
	ack     *Ack
}

// HistoryEntry is a completed command record kept in the bounded history.
type HistoryEntry struct {
	Command Envelope
	Target  string
	Origin  string
	SentAt  time.Time
	Ack     Ack
}

// PendingSummary is the lightweight view list-pending exposes.
type PendingSummary struct {
	ID     string
	Target string
	Action string
}

// Correlator is a process-wide singleton; all its state is guarded by mu.
type Correlator struct {
	mu         sync.Mutex
	pending    map[string]*pendingEntry
	msgIDMap   map[string]string
	history    []HistoryEntry
	historyCap int
}

// NewCorrelator returns a Correlator whose history is bounded to
// historyCap entries (spec default 100).
func NewCorrelator(historyCap int) *Correlator {
	return &Correlator{
		pending:    make(map[string]*pendingEntry),
		msgIDMap:   make(map[string]string),
		history:    make([]HistoryEntry, 0, historyCap),
		historyCap: historyCap,
	}
}

// CreateCommand mints a command envelope for action against target, issued
// by origin. Returns nil, false if action is not in ValidActions.
// originalMsgID, when non-empty, is remembered so a later acknowledgment
// can be relabeled with the issuer's own correlation id.
func (c *Correlator) CreateCommand(action, target, origin string, params map[string]interface{}, originalMsgID string) (Envelope, bool) {
	if !ValidActions[action] {
		return Envelope{}, false
	}
	if params == nil {
		params = map[string]interface{}{}
	}

	cmdID := "cmd-" + uuid.New().String()[:8]
	now := time.Now()
	envelope := Envelope{
		Type:      types.TypeCommand,
		ID:        cmdID,
		Timestamp: float64(now.UnixNano()) / 1e9,
		Payload: map[string]interface{}{
			"action": action,
			"params": params,
		},
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending[cmdID] = &pendingEntry{
		command: envelope,
		target:  target,
		origin:  origin,
		sentAt:  now,
	}
	if originalMsgID != "" {
		c.msgIDMap[cmdID] = originalMsgID
	}

	return envelope, true
}

// ProcessAcknowledgment reads ref_id from payload. If it does not name a
// pending entry, returns ("", nil, false) — the caller drops the
// acknowledgment silently. Otherwise it removes the pending entry, records
// it in history, and returns the issuer's origin identifier plus a payload
// whose ref_id has been rewritten to the issuer's original id when one was
// recorded at creation time.
func (c *Correlator) ProcessAcknowledgment(reporterID string, payload map[string]interface{}) (string, map[string]interface{}, bool) {
	refID, _ := payload["ref_id"].(string)
	if refID == "" {
		return "", nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.pending[refID]
	if !ok {
		return "", nil, false
	}
	delete(c.pending, refID)

	status, _ := payload["status"].(string)
	if status == "" {
		status = "unknown"
	}
	result, _ := payload["result"].(map[string]interface{})

	ack := Ack{
		From:       reporterID,
		Status:     status,
		Result:     result,
		ReceivedAt: time.Now(),
	}
	entry.ack = &ack

	c.appendHistoryLocked(HistoryEntry{
		Command: entry.command,
		Target:  entry.target,
		Origin:  entry.origin,
		SentAt:  entry.sentAt,
		Ack:     ack,
	})

	outPayload := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		outPayload[k] = v
	}
	if originalMsgID, ok := c.msgIDMap[refID]; ok {
		outPayload["ref_id"] = originalMsgID
		delete(c.msgIDMap, refID)
	}

	return entry.origin, outPayload, true
}

// appendHistoryLocked appends entry, trimming the oldest record once the
// cap is exceeded. Callers hold c.mu.
func (c *Correlator) appendHistoryLocked(entry HistoryEntry) {
	c.history = append(c.history, entry)
	if len(c.history) > c.historyCap {
		c.history = c.history[len(c.history)-c.historyCap:]
	}
}

// ListPending returns a snapshot of commands still awaiting acknowledgment.
func (c *Correlator) ListPending() []PendingSummary {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]PendingSummary, 0, len(c.pending))
	for id, entry := range c.pending {
		action, _ := entry.command.Payload["action"].(string)
		out = append(out, PendingSummary{ID: id, Target: entry.target, Action: action})
	}
	return out
}

// History returns up to limit of the most recent completed commands.
func (c *Correlator) History(limit int) []HistoryEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	if limit <= 0 || limit > len(c.history) {
		limit = len(c.history)
	}
	out := make([]HistoryEntry, limit)
	copy(out, c.history[len(c.history)-limit:])
	return out
}

// ExpireStale removes pending entries older than timeout. The issuer is
// not notified — see SPEC_FULL.md §9 for why this silent-drop behavior is
// kept.
func (c *Correlator) ExpireStale(timeout time.Duration) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for id, entry := range c.pending {
		if now.Sub(entry.sentAt) > timeout {
			delete(c.pending, id)
			delete(c.msgIDMap, id)
		}
	}
}
