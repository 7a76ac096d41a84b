package scan

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrProtocol reports a malformed or unexpected transport response. It
	// aborts the acquisition and is never retried.
	ErrProtocol = errors.New("protocol error")
	// ErrOutOfMemory reports a raster growth failure. It is always fatal.
	ErrOutOfMemory = errors.New("out of memory")
	// ErrCancelled is returned by every read after a cancellation request.
	ErrCancelled = errors.New("acquisition cancelled")
	// ErrConfigMismatch reports line-distance settings inconsistent with the
	// selected mode. It is recovered locally by disabling correction.
	ErrConfigMismatch = errors.New("line-distance configuration mismatch")
	ErrUnsupported    = errors.New("unsupported")
	ErrInvalid        = errors.New("invalid argument")
)

// Status is the frontend-facing result of an acquisition call.
type Status int

const (
	StatusGood Status = iota
	StatusEOF
	StatusCancelled
	StatusIOError
	StatusNoMem
	StatusInvalid
	StatusUnsupported
)

func (s Status) String() string {
	switch s {
	case StatusGood:
		return "good"
	case StatusEOF:
		return "end of frame"
	case StatusCancelled:
		return "cancelled"
	case StatusIOError:
		return "i/o error"
	case StatusNoMem:
		return "out of memory"
	case StatusInvalid:
		return "invalid argument"
	case StatusUnsupported:
		return "unsupported"
	}
	return "unknown status"
}

// StatusOf maps an error returned by the pipeline to a Status.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusGood
	case errors.Is(err, io.EOF):
		return StatusEOF
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return StatusCancelled
	case errors.Is(err, ErrOutOfMemory):
		return StatusNoMem
	case errors.Is(err, ErrInvalid), errors.Is(err, ErrConfigMismatch):
		return StatusInvalid
	case errors.Is(err, ErrUnsupported):
		return StatusUnsupported
	default:
		return StatusIOError
	}
}
