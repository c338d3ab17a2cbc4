package lifecycle

import "errors"

// ErrMissingInstanceID is returned when HandleUpgrade is invoked without an
// instance identifier extracted from the request path.
var ErrMissingInstanceID = errors.New("lifecycle: missing instance id")

// ErrInvalidInstanceID is returned when the instance identifier extracted
// from the request path fails types.IsValidInstanceID.
var ErrInvalidInstanceID = errors.New("lifecycle: invalid instance id")
