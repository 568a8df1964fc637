// Package status defines the small, closed portable status taxonomy that the
// engine consumes. Translating OS/netstack errors into one of these codes is
// the one place the engine touches an error's concrete type; every other
// layer only ever sees a Status. This mirrors status_error.go
// (a flat WSA error enumeration plus a mapError translator) rather than
// reaching for an error-wrapping library to do the enumeration's job — a
// closed set of ~11 values is exactly what a plain Go type is for.
package status

import (
	"errors"
	"net"
	"strings"
)

// Status is a portable outcome code. It is intentionally small and closed:
// every OS/netstack error the engine sees is translated to one of these
// before it crosses into AsyncOp/Socket/ConnectCascade.
type Status int32

const (
	OK Status = iota
	Fault
	OutOfMemory
	Aborted
	Closed
	Connecting
	Waiting
	NotSupported
	Retry
	Fatal
	NetworkError
)

func (s Status) String() string {
	switch s {
	case OK:
		return "ok"
	case Fault:
		return "fault"
	case OutOfMemory:
		return "out_of_memory"
	case Aborted:
		return "aborted"
	case Closed:
		return "closed"
	case Connecting:
		return "connecting"
	case Waiting:
		return "waiting"
	case NotSupported:
		return "not_supported"
	case Retry:
		return "retry"
	case Fatal:
		return "fatal"
	case NetworkError:
		return "network_error"
	default:
		return "unknown_status"
	}
}

// Error adapts a Status to the error interface so it can be threaded through
// Go call sites that want a conventional error return in addition to the
// status value the ClientInterface callback receives.
type Error struct {
	Code Status
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code.String() + ": " + e.Err.Error()
	}
	return e.Code.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap pairs a Status with the underlying error that produced it.
func Wrap(code Status, err error) *Error {
	return &Error{Code: code, Err: err}
}

// FromNetError translates a net/netstack error into a portable Status. This
// is the one OS-error-translation table the engine owns directly (spec's
// "static translation of OS error codes" is declared out of scope upstream
// of this function's inputs, but something still has to turn a Go net.Error
// into one of our eleven codes, and that is domain logic, not a library
// concern — grounded in status_error.go mapError).
func FromNetError(err error) Status {
	if err == nil {
		return OK
	}
	if errors.Is(err, net.ErrClosed) {
		return Closed
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return Retry
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "no route to host"),
		strings.Contains(msg, "network is unreachable"),
		strings.Contains(msg, "host is unreachable"):
		return NetworkError
	case strings.Contains(msg, "not supported"):
		return NotSupported
	case strings.Contains(msg, "would block"):
		return Retry
	}
	return NetworkError
}
