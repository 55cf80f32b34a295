package device

import (
	"errors"
	"fmt"
)

// ErrorKind is the failure taxonomy for one command exchange.
type ErrorKind int

const (
	// KindConnection means the port could not be opened.
	KindConnection ErrorKind = iota
	// KindTransport means a write/read failed mid-exchange.
	KindTransport
	// KindTimeout means no response arrived within the read bound.
	KindTimeout
	// KindUnexpected means the board sent a malformed line.
	KindUnexpected
	// KindBoard means a well-formed ERR:<reason> from firmware.
	KindBoard
	// KindRetriesExceeded means every attempt inside one execute failed.
	KindRetriesExceeded
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnection:
		return "connection error"
	case KindTransport:
		return "transport error"
	case KindTimeout:
		return "timeout"
	case KindUnexpected:
		return "unexpected response"
	case KindBoard:
		return "board error"
	case KindRetriesExceeded:
		return "max retries exceeded"
	default:
		return "unknown error"
	}
}

// CommandError is a classified failure of one execute call.
type CommandError struct {
	Kind    ErrorKind
	Message string
	Err     error // underlying cause, if any
}

func (e *CommandError) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *CommandError) Unwrap() error { return e.Err }

// KindOf extracts the taxonomy kind from err, if it is a CommandError.
func KindOf(err error) (ErrorKind, bool) {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return 0, false
}

// ErrLinkClosed is returned by Execute after the link was torn down.
var ErrLinkClosed = errors.New("device link closed")
