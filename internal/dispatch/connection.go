// File: internal/dispatch/connection.go
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/drover/api/protocol"
)

// Sender is the one-way outgoing half of the transport: it writes a single
// framed message. The incoming half feeds Connection.Dispatch instead, so
// tests can drive a Connection without a real subprocess.
type Sender interface {
	Send(payload []byte) error
}

// Factory builds the typed wrapper for a freshly created remote object of
// a known type tag. Factories run on the dispatch goroutine and must not
// block or issue calls.
type Factory func(obj *Object)

// Connection is the dispatcher: the protocol state machine shared by every
// proxy of one driver session. It allocates call ids, correlates pending
// calls with responses, and routes server-initiated messages through the
// registry. One Connection per session; no process-wide state.
type Connection struct {
	logger      *zap.Logger
	sender      Sender
	callTimeout time.Duration

	mu        sync.Mutex
	nextID    int
	pending   map[int]*pendingCall
	abandoned map[int]struct{}
	closed    bool
	closeErr  *protocol.ConnectionClosedError

	registry  *Registry
	factories map[string]Factory
	events    *eventQueue

	closeOnce sync.Once
	onClose   func()
}

// NewConnection wires a dispatcher over the given outgoing transport.
// callTimeout, when positive, is the default deadline applied to each Call
// whose context carries none. The connection's event goroutine starts
// immediately and runs until Close.
func NewConnection(sender Sender, callTimeout time.Duration, logger *zap.Logger) *Connection {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Connection{
		logger:      logger.With(zap.String("component", "connection")),
		sender:      sender,
		callTimeout: callTimeout,
		pending:     make(map[int]*pendingCall),
		abandoned:   make(map[int]struct{}),
		factories:   make(map[string]Factory),
		events:      newEventQueue(),
	}
	c.registry = NewRegistry(c, logger)
	go c.events.run()
	return c
}

// Root returns the distinguished root proxy of this connection.
func (c *Connection) Root() *Object { return c.registry.Root() }

// Registry exposes the remote-object registry.
func (c *Connection) Registry() *Registry { return c.registry }

// RegisterFactory installs the wrapper constructor for a driver object
// type tag. Unknown tags fall back to a plain generic Object so
// forward-compatible driver messages are never rejected.
func (c *Connection) RegisterFactory(typeTag string, f Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[typeTag] = f
}

// SetOnClose installs a hook invoked once, after all pending calls have
// been rejected and the registry torn down. The session uses it to shut
// the transport and subprocess down.
func (c *Connection) SetOnClose(hook func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = hook
}

// Call issues one method call on the object identified by guid and
// suspends the calling goroutine until the driver's matching response
// arrives, the connection closes, or ctx expires — whichever happens
// first. Any number of goroutines may have calls in flight concurrently;
// each waits only on its own id. The raw result payload is returned;
// Deserialize resolves any object references inside it.
func (c *Connection) Call(ctx context.Context, guid, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		return nil, err
	}
	c.nextID++
	id := c.nextID
	pc := newPendingCall(id, guid, method)
	c.pending[id] = pc
	c.mu.Unlock()

	payload, err := EncodeCall(id, guid, method, params)
	if err != nil {
		c.forgetPending(id)
		return nil, err
	}

	if c.callTimeout > 0 {
		if _, hasDeadline := ctx.Deadline(); !hasDeadline {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
			defer cancel()
		}
	}

	metricCallsStarted.Inc()
	c.logger.Debug("Sending call.",
		zap.Int("id", id),
		zap.String("guid", guid),
		zap.String("method", method))

	if err := c.sender.Send(payload); err != nil {
		c.forgetPending(id)
		c.mu.Lock()
		closed, closeErr := c.closed, c.closeErr
		c.mu.Unlock()
		if closed {
			metricCallsRejected.WithLabelValues(rejectKindClosed).Inc()
			return nil, closeErr
		}
		return nil, fmt.Errorf("sending %s: %w", method, err)
	}

	select {
	case <-pc.done:
		if pc.err != nil {
			return nil, protocol.WithFrame(pc.err, method, guid)
		}
		metricCallsResolved.Inc()
		return pc.result, nil
	case <-ctx.Done():
		// The deadline may have raced an arriving response; if the entry
		// is already gone from the pending table the response won.
		c.mu.Lock()
		if _, stillPending := c.pending[id]; stillPending {
			delete(c.pending, id)
			// Remember the id: the request is abandoned locally but not
			// retracted driver-side, so a late response must be discarded
			// quietly rather than reported as a violation.
			c.abandoned[id] = struct{}{}
			c.mu.Unlock()
			metricCallsRejected.WithLabelValues(rejectKindTimeout).Inc()
			return nil, &protocol.TimeoutError{Method: method, GUID: guid, Cause: ctx.Err()}
		}
		c.mu.Unlock()
		<-pc.done
		if pc.err != nil {
			return nil, protocol.WithFrame(pc.err, method, guid)
		}
		metricCallsResolved.Inc()
		return pc.result, nil
	}
}

// Deserialize resolves a raw result payload into Go values, replacing
// {"guid": ...} placeholders with the live proxy instances they name (the
// typed wrapper when one exists, the generic Object otherwise).
func (c *Connection) Deserialize(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var decoded any
	if err := jsonUnmarshal(raw, &decoded); err != nil {
		return nil, protocol.NewProtocolError("malformed result payload: %v", err)
	}
	return deserializeValue(decoded, c.lookupForDeserialize)
}

func (c *Connection) lookupForDeserialize(guid string) (any, error) {
	obj, err := c.registry.Lookup(guid)
	if err != nil {
		return nil, err
	}
	if w := obj.Wrapper(); w != nil {
		return w, nil
	}
	return obj, nil
}

// Dispatch consumes one incoming frame payload. It is called only from the
// transport's receive loop, strictly in arrival order, and never blocks on
// user code: event handlers are handed off to the connection's event
// goroutine. An undecodable payload means the stream can no longer be
// trusted and tears the connection down.
func (c *Connection) Dispatch(payload []byte) {
	msg, err := Decode(payload)
	if err != nil {
		metricProtocolViolations.Inc()
		c.logger.Error("Undecodable envelope; closing connection.",
			zap.Error(err),
			zap.String("payload", truncateForLog(payload)))
		c.Close("protocol violation", err)
		return
	}

	switch msg.Kind() {
	case protocol.KindResponse:
		c.dispatchResponse(msg)
	case protocol.KindLifecycle:
		c.dispatchLifecycle(msg)
	case protocol.KindEvent:
		c.dispatchEvent(msg)
	}
}

func (c *Connection) dispatchResponse(msg *protocol.Message) {
	c.mu.Lock()
	pc, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	} else if _, wasAbandoned := c.abandoned[msg.ID]; wasAbandoned {
		delete(c.abandoned, msg.ID)
		c.mu.Unlock()
		c.logger.Debug("Discarding late response for timed-out call.", zap.Int("id", msg.ID))
		return
	}
	c.mu.Unlock()

	if !ok {
		// Either the driver invented an id or it answered one twice. Both
		// are contract violations worth a record, not a crash.
		metricProtocolViolations.Inc()
		c.logger.Error("Protocol violation: response for unknown or already-resolved call id.",
			zap.Int("id", msg.ID))
		return
	}

	if msg.Error != nil {
		e := msg.Error.Error
		pc.reject(&protocol.RemoteError{
			Name:    e.Name,
			Message: e.Message,
			Stack:   e.Stack,
		})
		metricCallsRejected.WithLabelValues(rejectKindRemote).Inc()
		return
	}
	pc.resolve(msg.Result)
}

func (c *Connection) dispatchLifecycle(msg *protocol.Message) {
	switch msg.Method {
	case protocol.MethodCreate:
		var params protocol.CreateParams
		if err := jsonUnmarshal(msg.Params, &params); err != nil || params.GUID == "" {
			metricProtocolViolations.Inc()
			c.logger.Error("Protocol violation: malformed __create__ params.",
				zap.String("parent", msg.GUID),
				zap.Error(err))
			return
		}
		obj, err := c.registry.Register(c, msg.GUID, params.GUID, params.Type, params.Initializer)
		if err != nil {
			metricProtocolViolations.Inc()
			c.logger.Error("Protocol violation: rejected __create__.", zap.Error(err))
			return
		}
		c.mu.Lock()
		factory := c.factories[params.Type]
		c.mu.Unlock()
		if factory != nil {
			factory(obj)
		}
		c.logger.Debug("Remote object created.",
			zap.String("guid", params.GUID),
			zap.String("type", params.Type),
			zap.String("parent", msg.GUID))

	case protocol.MethodDispose:
		c.registry.Dispose(msg.GUID)
		c.logger.Debug("Remote object disposed.", zap.String("guid", msg.GUID))
	}
}

func (c *Connection) dispatchEvent(msg *protocol.Message) {
	obj, err := c.registry.Lookup(msg.GUID)
	if err != nil {
		metricProtocolViolations.Inc()
		c.logger.Error("Protocol violation: event for unknown guid.",
			zap.String("guid", msg.GUID),
			zap.String("method", msg.Method))
		return
	}

	// Resolve references now, while arrival order still guarantees that
	// every guid the payload names has been created and not yet disposed.
	payload, err := c.Deserialize(msg.Params)
	if err != nil {
		metricProtocolViolations.Inc()
		c.logger.Error("Protocol violation: undeserializable event params.",
			zap.String("guid", msg.GUID),
			zap.String("method", msg.Method),
			zap.Error(err))
		return
	}

	// Hand off to the event goroutine so a slow or re-entrant handler can
	// never stall the receive loop. Per-object FIFO order is preserved by
	// the single consumer.
	event := msg.Method
	c.events.push(func() {
		metricEventsDispatched.Inc()
		obj.emit(event, payload)
	})
}

// Close marks the connection broken, rejects every pending call with a
// ConnectionClosed error, disposes the whole proxy tree, and stops the
// event goroutine. Safe to call from any goroutine; only the first call
// has effect.
func (c *Connection) Close(reason string, cause error) {
	c.closeOnce.Do(func() {
		closeErr := &protocol.ConnectionClosedError{Reason: reason, Cause: cause}

		c.mu.Lock()
		c.closed = true
		c.closeErr = closeErr
		stranded := make([]*pendingCall, 0, len(c.pending))
		for _, pc := range c.pending {
			stranded = append(stranded, pc)
		}
		c.pending = make(map[int]*pendingCall)
		hook := c.onClose
		c.mu.Unlock()

		c.logger.Info("Closing connection.",
			zap.String("reason", reason),
			zap.Int("stranded_calls", len(stranded)))

		for _, pc := range stranded {
			metricCallsRejected.WithLabelValues(rejectKindClosed).Inc()
			pc.reject(closeErr)
		}

		c.registry.Dispose(protocol.RootGUID)
		c.events.close()

		if hook != nil {
			hook()
		}
	})
}

// Closed reports whether Close has completed its first phase.
func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
