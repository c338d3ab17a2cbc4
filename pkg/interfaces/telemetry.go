package interfaces

import "context"

// TelemetrySink absorbs short-window telemetry in memory with periodic
// durable persistence, per spec §4.5. The router calls Process for every
// `telemetry` frame and Remove when a connection's lifecycle ends.
type TelemetrySink interface {
	// Process enriches payload with instance_id and a server timestamp,
	// caches it as the latest reading for instanceID, increments the
	// per-instance receive counter, and — if persistence is configured and
	// the cadence has elapsed — schedules an asynchronous durable insert.
	// Returns synchronously with {status, count}.
	Process(instanceID string, payload map[string]interface{}) map[string]interface{}

	// Remove drops the cached latest reading and last-received timestamp
	// for instanceID.
	Remove(instanceID string)
}

// TelemetryStore is the durable persistence collaborator behind a
// TelemetrySink. InsertTelemetry returns once the write has completed or
// failed; the sink calls it from a goroutine of its own so that Process
// does not wait on it.
type TelemetryStore interface {
	InsertTelemetry(ctx context.Context, record TelemetryRecord) error
	HealthCheck(ctx context.Context) error
	Close() error
}

// TelemetryRecord is a single durable telemetry row.
type TelemetryRecord struct {
	InstanceID string
	Balance    *float64
	Equity     *float64
	Status     string
	RawData    map[string]interface{}
}
