package telemetry

import "errors"

// ErrPersistenceUnavailable is returned by callers that require a durable
// store when the sink was constructed without one.
var ErrPersistenceUnavailable = errors.New("telemetry: no durable store configured")
