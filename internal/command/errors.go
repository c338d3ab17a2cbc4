package command

import "errors"

// ErrInvalidAction is returned by callers that want an error value rather
// than CreateCommand's ok-boolean; the correlator itself never returns it.
var ErrInvalidAction = errors.New("action is not in the valid action set")
