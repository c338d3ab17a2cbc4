// Package telemetry implements the hub's telemetry sink: an in-memory
// latest-reading cache with periodic asynchronous persistence, grounded on
// the original TelemetryStore's enrich-cache-persist shape.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tradehub/pkg/interfaces"
)

// liveWindow is how recently an instance must have reported telemetry to
// count as "connected" for GetConnectedInstances, per spec §3.
const liveWindow = 300 * time.Second

// Sink implements interfaces.TelemetrySink. All maps are guarded by mu;
// the durable store, if configured, is written from a detached goroutine
// per insert so Process never blocks the caller on I/O.
type Sink struct {
	mu             sync.Mutex
	latest         map[string]map[string]interface{}
	lastReceived   map[string]time.Time
	lastPersisted  map[string]time.Time
	counts         map[string]int
	store          interfaces.TelemetryStore
	persistCadence time.Duration
}

// NewSink returns a Sink that persists through store every persistCadence
// per instance. store may be nil, in which case telemetry is cached in
// memory only.
func NewSink(store interfaces.TelemetryStore, persistCadence time.Duration) *Sink {
	return &Sink{
		latest:         make(map[string]map[string]interface{}),
		lastReceived:   make(map[string]time.Time),
		lastPersisted:  make(map[string]time.Time),
		counts:         make(map[string]int),
		store:          store,
		persistCadence: persistCadence,
	}
}

// Process enriches payload with instance_id and a server timestamp, caches
// it as instanceID's latest reading, increments its receive counter, and
// schedules an asynchronous durable insert if persistence is configured
// and the cadence has elapsed since the last one for this instance.
func (s *Sink) Process(instanceID string, payload map[string]interface{}) map[string]interface{} {
	now := time.Now()

	enriched := make(map[string]interface{}, len(payload)+2)
	for k, v := range payload {
		enriched[k] = v
	}
	enriched["instance_id"] = instanceID
	enriched["server_ts"] = float64(now.UnixNano()) / 1e9

	s.mu.Lock()
	s.latest[instanceID] = enriched
	s.lastReceived[instanceID] = now
	s.counts[instanceID]++
	count := s.counts[instanceID]

	shouldPersist := false
	if s.store != nil {
		last, ok := s.lastPersisted[instanceID]
		if !ok || now.Sub(last) >= s.persistCadence {
			s.lastPersisted[instanceID] = now
			shouldPersist = true
		}
	}
	s.mu.Unlock()

	if shouldPersist {
		go s.persist(enriched)
	}

	return map[string]interface{}{"status": "ok", "count": count}
}

func (s *Sink) persist(enriched map[string]interface{}) {
	record := interfaces.TelemetryRecord{
		InstanceID: enriched["instance_id"].(string),
		Status:     stringField(enriched, "status"),
		RawData:    enriched,
	}
	if v, ok := floatField(enriched, "balance"); ok {
		record.Balance = &v
	}
	if v, ok := floatField(enriched, "equity"); ok {
		record.Equity = &v
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.store.InsertTelemetry(ctx, record); err != nil {
		slog.Error("telemetry persist failed", "instance_id", record.InstanceID, "error", err)
	}
}

func stringField(m map[string]interface{}, key string) string {
	v, _ := m[key].(string)
	return v
}

func floatField(m map[string]interface{}, key string) (float64, bool) {
	v, ok := m[key].(float64)
	return v, ok
}

// Remove drops the cached latest reading and receive timestamp for
// instanceID, called when a connection's lifecycle ends.
func (s *Sink) Remove(instanceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.latest, instanceID)
	delete(s.lastReceived, instanceID)
}

// Latest returns the cached latest reading for instanceID, if any.
func (s *Sink) Latest(instanceID string) (map[string]interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.latest[instanceID]
	return v, ok
}

// AllLatest returns a snapshot of every instance's cached latest reading.
func (s *Sink) AllLatest() map[string]map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]map[string]interface{}, len(s.latest))
	for k, v := range s.latest {
		out[k] = v
	}
	return out
}

// GetConnectedInstances returns identifiers whose last-received telemetry
// falls within the 300-second liveness window.
func (s *Sink) GetConnectedInstances() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-liveWindow)
	out := make([]string, 0, len(s.lastReceived))
	for id, ts := range s.lastReceived {
		if ts.After(cutoff) {
			out = append(out, id)
		}
	}
	return out
}
