package router

import "errors"

// ErrRateLimitExceeded names the rate-limit condition. Nothing returns it:
// the router reports a rejected frame as an error envelope with the message
// "Rate limit exceeded".
var ErrRateLimitExceeded = errors.New("rate limit exceeded: 100 messages per minute")

// Errors returned by HandleRESTCommand, the REST adapter's entry point
// into command dispatch.
var (
	ErrInvalidToken       = errors.New("router: invalid token")
	ErrMissingAction      = errors.New("router: command requires an action")
	ErrInvalidAction      = errors.New("router: invalid action")
	ErrNoTargetConnected  = errors.New("router: no target connected")
	ErrTargetNotConnected = errors.New("router: target not connected")
)
