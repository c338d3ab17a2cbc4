package interfaces

import "context"

// MessageRouter is the pure-function core described in spec §4.3: given an
// inbound frame and the instance that sent it, it produces zero or one
// reply frame. It never returns an error — every failure path is encoded
// as an error envelope in the returned bytes, or as an empty slice for
// fire-and-forget dispatch.
type MessageRouter interface {
	Route(ctx context.Context, sourceID string, raw []byte) []byte
}
