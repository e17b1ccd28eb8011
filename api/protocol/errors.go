// File: api/protocol/errors.go
package protocol

import (
	"fmt"
	"strings"
)

// LaunchError means the driver subprocess could not be started at all.
// It is fatal and surfaces directly from session creation.
type LaunchError struct {
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch driver %q: %v", e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// ProtocolError indicates a contract violation between client and driver:
// a malformed frame, an envelope matching no known shape, a reference to an
// unknown guid, or a duplicate guid/id. It is always fatal to the specific
// operation that observed it.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string {
	return "protocol violation: " + e.Message
}

// NewProtocolError builds a ProtocolError with a formatted message.
func NewProtocolError(format string, args ...any) *ProtocolError {
	return &ProtocolError{Message: fmt.Sprintf(format, args...)}
}

// ConnectionClosedError rejects every call still pending when the transport
// died or the connection was explicitly closed. Never retried.
type ConnectionClosedError struct {
	Reason string
	Cause  error
}

func (e *ConnectionClosedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("connection closed (%s): %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("connection closed (%s)", e.Reason)
}

func (e *ConnectionClosedError) Unwrap() error { return e.Cause }

// TimeoutError is local-only: the caller's deadline elapsed before the
// driver responded. The in-flight request is abandoned, not cancelled
// driver-side; a late response is discarded by id.
type TimeoutError struct {
	Method string
	GUID   string
	Cause  error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for %s on %q: %v", e.Method, e.GUID, e.Cause)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// CallFrame is one step of the client-side call trail attached to remote
// failures: which method was invoked on which guid.
type CallFrame struct {
	Method string
	GUID   string
}

func (f CallFrame) String() string {
	if f.GUID == RootGUID {
		return f.Method
	}
	return f.Method + "@" + f.GUID
}

// RemoteError carries a driver-reported failure for a specific call: the
// driver's error name/message/stack plus the ordered client-side trail of
// nested calls that led to it, outermost last.
type RemoteError struct {
	Name    string
	Message string
	Stack   string
	Trail   []CallFrame
}

func (e *RemoteError) Error() string {
	var b strings.Builder
	b.WriteString(e.Name)
	b.WriteString(": ")
	b.WriteString(e.Message)
	if len(e.Trail) > 0 {
		frames := make([]string, len(e.Trail))
		for i, f := range e.Trail {
			frames[i] = f.String()
		}
		b.WriteString(" (call trail: ")
		b.WriteString(strings.Join(frames, " <- "))
		b.WriteString(")")
	}
	return b.String()
}

// WithFrame appends a call frame to err's trail if err is a RemoteError,
// and returns err unchanged otherwise. Used as calls unwind so the trail
// records the nesting without language exception chaining.
func WithFrame(err error, method, guid string) error {
	re, ok := err.(*RemoteError)
	if !ok {
		return err
	}
	re.Trail = append(re.Trail, CallFrame{Method: method, GUID: guid})
	return re
}
