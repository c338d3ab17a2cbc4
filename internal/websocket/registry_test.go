package websocket

import (
	"context"
	"testing"
)

func newTestConnection(id string) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		instanceID: id,
		role:       "unknown",
		writeCh:    make(chan []byte, 100),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	c := newTestConnection("p1")

	if err := r.Register(c); err != nil {
		t.Fatalf("register should succeed: %v", err)
	}

	got, ok := r.Lookup("p1")
	if !ok || got != c {
		t.Fatal("expected to find the registered connection")
	}
	if r.CountTotal() != 1 {
		t.Errorf("expected total 1, got %d", r.CountTotal())
	}
	if r.CountAuthenticated() != 0 {
		t.Errorf("expected 0 authenticated before auth, got %d", r.CountAuthenticated())
	}
}

func TestRegistry_RegisterNil(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(nil); err != ErrNilConnection {
		t.Errorf("expected ErrNilConnection, got %v", err)
	}
}

func TestRegistry_MarkAuthenticated(t *testing.T) {
	r := NewRegistry()
	c := newTestConnection("p1")
	r.Register(c)

	r.MarkAuthenticated("p1", "preditor")

	if !c.IsAuthenticated() {
		t.Error("expected connection to be authenticated")
	}
	if c.Role() != "preditor" {
		t.Errorf("expected role preditor, got %s", c.Role())
	}
	if r.CountAuthenticated() != 1 {
		t.Errorf("expected 1 authenticated, got %d", r.CountAuthenticated())
	}

	r.MarkAuthenticated("missing", "preditor")
}

func TestRegistry_Deregister(t *testing.T) {
	r := NewRegistry()
	c := newTestConnection("p1")
	r.Register(c)
	r.MarkAuthenticated("p1", "preditor")

	r.Deregister(c)

	if _, ok := r.Lookup("p1"); ok {
		t.Error("expected connection to be gone after deregister")
	}
	if r.CountTotal() != 0 || r.CountAuthenticated() != 0 {
		t.Error("expected empty registry after deregister")
	}

	// Idempotent.
	r.Deregister(c)
}

func TestRegistry_DeregisterStaleDoesNotEvictReplacement(t *testing.T) {
	r := NewRegistry()
	old := newTestConnection("bot-7")
	r.Register(old)

	fresh := newTestConnection("bot-7")
	r.Register(fresh)

	// The stale connection's own cleanup path must not evict the
	// replacement that Register already installed.
	r.Deregister(old)

	got, ok := r.Lookup("bot-7")
	if !ok || got != fresh {
		t.Error("expected the replacement connection to remain registered")
	}
}

func TestRegistry_ReplaceClosesOldTransport(t *testing.T) {
	r := NewRegistry()
	old := newTestConnection("bot-7")
	r.Register(old)

	fresh := newTestConnection("bot-7")
	r.Register(fresh)

	select {
	case <-old.ctx.Done():
	default:
		t.Error("expected old connection's context to be cancelled on replace")
	}

	if r.CountTotal() != 1 {
		t.Errorf("expected exactly one record for the identifier, got %d", r.CountTotal())
	}
}

func TestRegistry_FanOutByRole(t *testing.T) {
	r := NewRegistry()
	conn01 := newTestConnection("conn-01")
	pred01 := newTestConnection("pred-01")
	r.Register(conn01)
	r.Register(pred01)
	r.MarkAuthenticated("conn-01", "connector")
	r.MarkAuthenticated("pred-01", "preditor")

	r.FanOutByRole(map[string]string{"type": "bar"}, "preditor", "")

	if len(pred01.writeCh) != 1 {
		t.Errorf("expected pred-01 to receive exactly one frame, got %d", len(pred01.writeCh))
	}
	if len(conn01.writeCh) != 0 {
		t.Errorf("expected conn-01 to receive nothing, got %d", len(conn01.writeCh))
	}
}

func TestRegistry_FanOutExcludesSource(t *testing.T) {
	r := NewRegistry()
	a := newTestConnection("a")
	b := newTestConnection("b")
	r.Register(a)
	r.Register(b)
	r.MarkAuthenticated("a", "admin")
	r.MarkAuthenticated("b", "admin")

	r.FanOutByRole(map[string]string{"type": "signal"}, "admin", "a")

	if len(a.writeCh) != 0 {
		t.Error("excluded source should not receive its own broadcast")
	}
	if len(b.writeCh) != 1 {
		t.Error("expected b to receive the broadcast")
	}
}

func TestRegistry_SendToIdentifier(t *testing.T) {
	r := NewRegistry()
	c := newTestConnection("p1")
	r.Register(c)

	if !r.SendToIdentifier("p1", map[string]string{"type": "ack"}) {
		t.Error("expected delivery to a registered connection")
	}
	if r.SendToIdentifier("missing", map[string]string{"type": "ack"}) {
		t.Error("expected no delivery to an unregistered identifier")
	}
}

func TestRegistry_Enumerate(t *testing.T) {
	r := NewRegistry()
	r.Register(newTestConnection("a"))
	r.Register(newTestConnection("b"))

	if len(r.Enumerate()) != 2 {
		t.Errorf("expected 2 connections, got %d", len(r.Enumerate()))
	}
}
