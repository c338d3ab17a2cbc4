package websocket

import "sync"

// Registry tracks every connected instance, keyed both globally and by
// role, per spec §4.1. Role membership only exists for authenticated
// connections — an unauthenticated peer lives in the global map alone.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*Connection
	byRole map[string]map[string]*Connection
}

// NewRegistry returns an empty registry with its maps initialized.
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]*Connection),
		byRole: make(map[string]map[string]*Connection),
	}
}

// Register installs conn under its own instance identifier. If a prior
// record holds the same identifier, its transport is closed with code 4000
// ("replaced") before the new record is installed, so a concurrent lookup
// never observes two records for one identifier.
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	id := conn.InstanceID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byID[id]; ok {
		_ = existing.CloseWithReason(4000, "replaced by new connection")
		r.removeFromRoleLocked(existing)
	}
	r.byID[id] = conn
	return nil
}

// MarkAuthenticated sets conn's role and authenticated flag and indexes it
// under that role, dropping any index entry under a previous role. No-op if
// the identifier has no current record.
func (r *Registry) MarkAuthenticated(id, role string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.byID[id]
	if !ok {
		return
	}
	r.removeFromRoleLocked(conn)
	conn.Authenticate(role)

	if r.byRole[role] == nil {
		r.byRole[role] = make(map[string]*Connection)
	}
	r.byRole[role][id] = conn
}

// Deregister removes conn from every map, but only if it is still the
// record currently installed for its identifier — this prevents a stale
// connection's cleanup from evicting a newer replacement.
func (r *Registry) Deregister(conn *Connection) {
	if conn == nil {
		return
	}
	id := conn.InstanceID()

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.byID[id]
	if !ok || current != conn {
		return
	}
	delete(r.byID, id)
	r.removeFromRoleLocked(conn)
}

// removeFromRoleLocked drops conn from its role map. Callers hold r.mu.
func (r *Registry) removeFromRoleLocked(conn *Connection) {
	role := conn.Role()
	if members, ok := r.byRole[role]; ok {
		delete(members, conn.InstanceID())
		if len(members) == 0 {
			delete(r.byRole, role)
		}
	}
}

// Lookup returns the current record for id, if any.
func (r *Registry) Lookup(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byID[id]
	return conn, ok
}

// SendToIdentifier writes v to the connection registered for id. Returns
// false if there is no such record or the write fails; a write failure
// does not itself evict the record.
func (r *Registry) SendToIdentifier(id string, v interface{}) bool {
	conn, ok := r.Lookup(id)
	if !ok {
		return false
	}
	return conn.WriteJSON(v) == nil
}

// FanOutByRole writes v to every authenticated connection matching role
// (all authenticated connections when role is empty), excluding
// excludeID. It iterates a snapshot so concurrent register/deregister
// during the fan-out is safe. Connections whose write fails are evicted
// after the fan-out completes; a per-peer failure never aborts the rest.
func (r *Registry) FanOutByRole(v interface{}, role, excludeID string) {
	targets := r.snapshotForFanOut(role, excludeID)

	var dead []*Connection
	for _, conn := range targets {
		if err := conn.WriteJSON(v); err != nil {
			dead = append(dead, conn)
		}
	}
	for _, conn := range dead {
		r.Deregister(conn)
	}
}

func (r *Registry) snapshotForFanOut(role, excludeID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var targets []*Connection
	if role == "" {
		for id, conn := range r.byID {
			if id == excludeID || !conn.IsAuthenticated() {
				continue
			}
			targets = append(targets, conn)
		}
		return targets
	}

	for id, conn := range r.byRole[role] {
		if id == excludeID {
			continue
		}
		targets = append(targets, conn)
	}
	return targets
}

// FirstByRole returns the identifier of an arbitrary authenticated
// connection currently holding role, used for command target resolution
// when no explicit target was given.
func (r *Registry) FirstByRole(role string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id := range r.byRole[role] {
		return id, true
	}
	return "", false
}

// Enumerate returns a snapshot of every currently registered connection.
func (r *Registry) Enumerate() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.byID))
	for _, conn := range r.byID {
		out = append(out, conn)
	}
	return out
}

// CountTotal returns the number of registered connections, authenticated
// or not.
func (r *Registry) CountTotal() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// CountAuthenticated returns the number of registered connections with the
// authenticated flag set.
func (r *Registry) CountAuthenticated() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, members := range r.byRole {
		n += len(members)
	}
	return n
}
