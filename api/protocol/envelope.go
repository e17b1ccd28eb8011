// File: api/protocol/envelope.go
package protocol

import "encoding/json"

// Reserved method names used by the driver for object lifecycle messages.
// Anything else arriving without an id is an event addressed to the guid.
const (
	MethodCreate  = "__create__"
	MethodDispose = "__dispose__"
)

// RootGUID is the distinguished guid of the connection root object. The
// driver addresses top-level lifecycle messages to it.
const RootGUID = ""

// Kind discriminates the three envelope variants that can arrive on the
// wire. See Message.Kind.
type Kind int

const (
	// KindResponse is a reply to a previously issued call, matched by id.
	KindResponse Kind = iota
	// KindLifecycle is a server-initiated __create__ or __dispose__.
	KindLifecycle
	// KindEvent is any other server-initiated message addressed to a guid.
	KindEvent
)

// Message is one decoded wire envelope. Field presence determines the
// variant: a response carries an id and exactly one of result/error, a
// server-initiated message carries a guid and method but no id.
type Message struct {
	ID     int             `json:"id,omitempty"`
	GUID   string          `json:"guid,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorWrapper   `json:"error,omitempty"`
}

// Kind classifies the envelope. Callers must have validated the shape
// first (see dispatch's codec); Kind itself does not error.
func (m *Message) Kind() Kind {
	if m.ID != 0 {
		return KindResponse
	}
	if m.Method == MethodCreate || m.Method == MethodDispose {
		return KindLifecycle
	}
	return KindEvent
}

// Call is the envelope shape for an outgoing method call. Params is always
// present on the wire, even when empty, matching the driver's expectations.
type Call struct {
	ID     int    `json:"id"`
	GUID   string `json:"guid"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

// ErrorWrapper matches the driver's doubly-nested error shape:
// {"error": {"error": {"name": ..., "message": ..., "stack": ...}}}.
type ErrorWrapper struct {
	Error ErrorPayload `json:"error"`
}

// ErrorPayload is the driver-reported failure for a single call.
type ErrorPayload struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Stack   string `json:"stack"`
}

// CreateParams is the payload of a __create__ lifecycle message. The guid
// in the enclosing envelope names the parent; this names the new child.
type CreateParams struct {
	Type        string          `json:"type"`
	GUID        string          `json:"guid"`
	Initializer json.RawMessage `json:"initializer,omitempty"`
}

// GUIDRef is the placeholder shape used to carry remote-object identity
// inside params and results: {"guid": "<guid>"}.
type GUIDRef struct {
	GUID string `json:"guid"`
}
