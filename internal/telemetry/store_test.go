package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"tradehub/pkg/interfaces"
)

// fakeStore records every InsertTelemetry call for assertion.
type fakeStore struct {
	mu      sync.Mutex
	records []interfaces.TelemetryRecord
}

func (f *fakeStore) InsertTelemetry(ctx context.Context, record interfaces.TelemetryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
	return nil
}

func (f *fakeStore) HealthCheck(ctx context.Context) error { return nil }
func (f *fakeStore) Close() error                          { return nil }

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func TestSink_ProcessEnrichesAndCaches(t *testing.T) {
	sink := NewSink(nil, 30*time.Second)

	result := sink.Process("bot-1", map[string]interface{}{"balance": 1000.0, "status": "running"})
	if result["status"] != "ok" || result["count"] != 1 {
		t.Errorf("unexpected process result: %v", result)
	}

	latest, ok := sink.Latest("bot-1")
	if !ok {
		t.Fatal("expected a cached latest reading for bot-1")
	}
	if latest["instance_id"] != "bot-1" {
		t.Errorf("expected instance_id to be stamped, got %v", latest["instance_id"])
	}
	if _, ok := latest["server_ts"].(float64); !ok {
		t.Errorf("expected server_ts to be stamped as a float, got %v", latest["server_ts"])
	}
}

func TestSink_ProcessIncrementsCount(t *testing.T) {
	sink := NewSink(nil, 30*time.Second)
	sink.Process("bot-1", map[string]interface{}{})
	result := sink.Process("bot-1", map[string]interface{}{})
	if result["count"] != 2 {
		t.Errorf("expected count 2 on second call, got %v", result["count"])
	}
}

func TestSink_NilStoreSkipsPersistence(t *testing.T) {
	sink := NewSink(nil, 0)
	sink.Process("bot-1", map[string]interface{}{"balance": 1.0})
	time.Sleep(20 * time.Millisecond)
}

func TestSink_PersistsOnFirstReadingThenRespectsCadence(t *testing.T) {
	store := &fakeStore{}
	sink := NewSink(store, 50*time.Millisecond)

	sink.Process("bot-1", map[string]interface{}{"balance": 1000.0, "equity": 950.0, "status": "running"})
	time.Sleep(20 * time.Millisecond)
	if got := store.count(); got != 1 {
		t.Fatalf("expected one persisted record after the first reading, got %d", got)
	}

	sink.Process("bot-1", map[string]interface{}{"balance": 1001.0})
	time.Sleep(20 * time.Millisecond)
	if got := store.count(); got != 1 {
		t.Fatalf("expected cadence to suppress the second persist, got %d records", got)
	}

	time.Sleep(60 * time.Millisecond)
	sink.Process("bot-1", map[string]interface{}{"balance": 1002.0})
	time.Sleep(20 * time.Millisecond)
	if got := store.count(); got != 2 {
		t.Fatalf("expected a second persist once the cadence elapsed, got %d records", got)
	}
}

func TestSink_PersistedRecordCarriesTypedFields(t *testing.T) {
	store := &fakeStore{}
	sink := NewSink(store, time.Millisecond)

	sink.Process("bot-2", map[string]interface{}{"balance": 500.5, "equity": 480.25, "status": "paused"})
	time.Sleep(20 * time.Millisecond)

	if got := store.count(); got != 1 {
		t.Fatalf("expected one persisted record, got %d", got)
	}
	record := store.records[0]
	if record.InstanceID != "bot-2" || record.Status != "paused" {
		t.Errorf("unexpected record: %+v", record)
	}
	if record.Balance == nil || *record.Balance != 500.5 {
		t.Errorf("expected balance 500.5, got %v", record.Balance)
	}
	if record.Equity == nil || *record.Equity != 480.25 {
		t.Errorf("expected equity 480.25, got %v", record.Equity)
	}
}

func TestSink_Remove(t *testing.T) {
	sink := NewSink(nil, 30*time.Second)
	sink.Process("bot-1", map[string]interface{}{})
	sink.Remove("bot-1")

	if _, ok := sink.Latest("bot-1"); ok {
		t.Error("expected bot-1's latest reading to be gone after Remove")
	}
	connected := sink.GetConnectedInstances()
	for _, id := range connected {
		if id == "bot-1" {
			t.Error("expected bot-1 to no longer be reported as connected after Remove")
		}
	}
}

func TestSink_GetConnectedInstances(t *testing.T) {
	sink := NewSink(nil, 30*time.Second)
	sink.Process("bot-1", map[string]interface{}{})
	sink.Process("bot-2", map[string]interface{}{})

	connected := sink.GetConnectedInstances()
	if len(connected) != 2 {
		t.Fatalf("expected 2 connected instances, got %d: %v", len(connected), connected)
	}
}

func TestSink_GetConnectedInstancesExcludesStale(t *testing.T) {
	sink := NewSink(nil, 30*time.Second)
	sink.Process("bot-1", map[string]interface{}{})

	sink.mu.Lock()
	sink.lastReceived["bot-1"] = time.Now().Add(-400 * time.Second)
	sink.mu.Unlock()

	connected := sink.GetConnectedInstances()
	for _, id := range connected {
		if id == "bot-1" {
			t.Error("expected a stale instance to be excluded from connected instances")
		}
	}
}

func TestSink_AllLatest(t *testing.T) {
	sink := NewSink(nil, 30*time.Second)
	sink.Process("bot-1", map[string]interface{}{"status": "running"})
	sink.Process("bot-2", map[string]interface{}{"status": "paused"})

	all := sink.AllLatest()
	if len(all) != 2 {
		t.Fatalf("expected 2 cached readings, got %d", len(all))
	}
	if all["bot-1"]["status"] != "running" || all["bot-2"]["status"] != "paused" {
		t.Errorf("unexpected cached readings: %v", all)
	}
}
