package broker

import "errors"

// ErrTimeout is returned by Handle.Await when the deadline elapses before
// the worker produced a result.
var ErrTimeout = errors.New("generation timed out")
