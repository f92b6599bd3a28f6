package frame

import "github.com/pkg/errors"

// Per-frame errors. Each one drops exactly one frame; none of them halt the
// pipeline. Callers add context with errors.Wrap and test with errors.Is.
var (
	ErrMalformedFrame      = errors.New("malformed frame")
	ErrEmptyFrame          = errors.New("empty frame")
	ErrInvalidParameter    = errors.New("invalid parameter")
	ErrResourceUnavailable = errors.New("resource unavailable")
)
