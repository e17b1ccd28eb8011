// File: internal/dispatch/pending.go
package dispatch

import "encoding/json"

// pendingCall is one in-flight request: created when a proxy issues a
// call, resolved or rejected exactly once when the matching response
// arrives (or the connection dies). The single-assignment discipline is
// enforced by deleting the entry from the pending table before completing
// it, so a duplicate response can never find it again.
type pendingCall struct {
	id     int
	guid   string
	method string

	// done is closed exactly once, after result/err are assigned.
	done   chan struct{}
	result json.RawMessage
	err    error
}

func newPendingCall(id int, guid, method string) *pendingCall {
	return &pendingCall{
		id:     id,
		guid:   guid,
		method: method,
		done:   make(chan struct{}),
	}
}

// resolve completes the call successfully with the raw result payload.
func (p *pendingCall) resolve(result json.RawMessage) {
	p.result = result
	close(p.done)
}

// reject completes the call with an error.
func (p *pendingCall) reject(err error) {
	p.err = err
	close(p.done)
}

// forgetPending drops a pending entry that never made it onto the wire.
func (c *Connection) forgetPending(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}
