package rsp

import (
	"errors"
	"fmt"
)

// ErrConnClosed fails every pending request when the socket errors or
// closes. The connection is not usable afterwards; reconnecting means a new
// Client and a fresh handshake.
var ErrConnClosed = errors.New("connection to target lost")

// TimeoutError reports that a specific command went unanswered. It does not
// tear down the connection.
type TimeoutError struct {
	Command string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for reply to %q", e.Command)
}

// TargetError is an E<code> reply from the stub.
type TargetError struct {
	Op   string
	Code string
}

func (e *TargetError) Error() string {
	return fmt.Sprintf("%s: target reported error E%s", e.Op, e.Code)
}

func targetErr(op, reply string) *TargetError {
	return &TargetError{Op: op, Code: reply[1:]}
}
