// File: internal/dispatch/object.go

// Package dispatch implements the protocol state machine at the heart of
// the client: call-id allocation and correlation, routing of incoming
// envelopes, and the registry of remote-object proxies keyed by
// server-assigned guids.
package dispatch

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/drover/api/protocol"
)

// EventHandler receives one event payload, already deserialized with
// remote-object references resolved to live proxies.
type EventHandler func(payload any)

// listenerEntry ties a handler to its registration so Off can remove it
// and Once can self-remove after the first delivery.
type listenerEntry struct {
	id      int
	handler EventHandler
	once    bool
}

// Object is the local stand-in for one driver-side object. Typed wrappers
// (Browser, Page, ...) hold an *Object and forward their operations through
// Connection.Call. Lifetime is bounded by the parent: disposing a parent
// disposes all descendants first.
type Object struct {
	conn        *Connection
	guid        string
	typeTag     string
	initializer json.RawMessage

	mu        sync.Mutex
	parent    *Object
	children  map[string]*Object
	listeners map[string][]listenerEntry
	nextLID   int
	cleanups  []func()
	disposed  bool

	// wrapper is the typed veneer built by the factory registered for this
	// object's type tag, or nil for generic objects.
	wrapper any
}

// ObjectGUID returns the server-assigned guid. It also makes *Object (and
// anything embedding it) serializable as a {"guid": ...} reference.
func (o *Object) ObjectGUID() string { return o.guid }

// Conn returns the connection this proxy belongs to.
func (o *Object) Conn() *Connection { return o.conn }

// TypeTag returns the driver-assigned type name ("Browser", "Page", ...).
func (o *Object) TypeTag() string { return o.typeTag }

// Initializer returns the raw initializer payload from __create__.
func (o *Object) Initializer() json.RawMessage { return o.initializer }

// Parent returns the owning proxy, or nil for the connection root.
func (o *Object) Parent() *Object {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.parent
}

// Wrapper returns the typed wrapper built for this object, if any.
func (o *Object) Wrapper() any {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.wrapper
}

// SetWrapper attaches the typed wrapper. Called by type factories.
func (o *Object) SetWrapper(w any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.wrapper = w
}

// Disposed reports whether the driver has torn this object down. Issuing
// calls on a disposed proxy is a programming error.
func (o *Object) Disposed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.disposed
}

// On registers a handler for the named event and returns a registration id
// usable with Off. Handlers run on the connection's event goroutine in
// registration order.
func (o *Object) On(event string, handler EventHandler) int {
	return o.addListener(event, handler, false)
}

// Once registers a handler removed automatically after its first delivery.
func (o *Object) Once(event string, handler EventHandler) int {
	return o.addListener(event, handler, true)
}

func (o *Object) addListener(event string, handler EventHandler, once bool) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.listeners == nil {
		o.listeners = make(map[string][]listenerEntry)
	}
	o.nextLID++
	o.listeners[event] = append(o.listeners[event], listenerEntry{
		id:      o.nextLID,
		handler: handler,
		once:    once,
	})
	return o.nextLID
}

// Off removes the registration with the given id from the named event.
// Unknown ids are ignored.
func (o *Object) Off(event string, id int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	entries := o.listeners[event]
	for i, e := range entries {
		if e.id == id {
			o.listeners[event] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

// OnDispose registers a local cleanup hook invoked when the driver
// disposes this object (or the connection closes). Hooks run post-order,
// children before parents.
func (o *Object) OnDispose(hook func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cleanups = append(o.cleanups, hook)
}

// emit snapshots the listener list and invokes the handlers. Runs only on
// the connection's event goroutine, so deliveries for one object keep
// arrival order.
func (o *Object) emit(event string, payload any) {
	o.mu.Lock()
	entries := o.listeners[event]
	snapshot := make([]listenerEntry, len(entries))
	copy(snapshot, entries)
	if len(entries) > 0 {
		kept := entries[:0]
		for _, e := range entries {
			if !e.once {
				kept = append(kept, e)
			}
		}
		o.listeners[event] = kept
	}
	o.mu.Unlock()

	for _, e := range snapshot {
		e.handler(payload)
	}
}

// adopt links a child into the ownership tree. Caller holds the registry
// lock.
func (o *Object) adopt(child *Object) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.children == nil {
		o.children = make(map[string]*Object)
	}
	o.children[child.guid] = child
	child.parent = o
}

// markDisposed flips the disposed flag and returns the cleanup hooks plus
// a snapshot of the children, clearing both.
func (o *Object) markDisposed() (hooks []func(), children []*Object) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.disposed {
		return nil, nil
	}
	o.disposed = true
	hooks = o.cleanups
	o.cleanups = nil
	for _, c := range o.children {
		children = append(children, c)
	}
	o.children = nil
	o.listeners = nil
	return hooks, children
}

// Registry owns the guid→proxy mapping and enforces the ownership tree.
// One instance per connection; the distinguished root lives at
// protocol.RootGUID.
type Registry struct {
	logger *zap.Logger

	mu      sync.Mutex
	objects map[string]*Object
	root    *Object
}

// NewRegistry creates a registry holding only the root object for conn.
func NewRegistry(conn *Connection, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	root := &Object{conn: conn, guid: protocol.RootGUID, typeTag: "Root"}
	return &Registry{
		logger:  logger.With(zap.String("component", "registry")),
		objects: map[string]*Object{protocol.RootGUID: root},
		root:    root,
	}
}

// Root returns the distinguished root proxy.
func (r *Registry) Root() *Object { return r.root }

// Register creates a proxy for a driver-announced object. It fails with a
// ProtocolError if the parent guid is unknown or the guid already exists.
func (r *Registry) Register(conn *Connection, parentGUID, guid, typeTag string, initializer json.RawMessage) (*Object, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	parent, ok := r.objects[parentGUID]
	if !ok {
		return nil, protocol.NewProtocolError("__create__ references unknown parent guid %q (child %q)", parentGUID, guid)
	}
	if _, exists := r.objects[guid]; exists {
		return nil, protocol.NewProtocolError("__create__ reuses live guid %q", guid)
	}

	obj := &Object{
		conn:        conn,
		guid:        guid,
		typeTag:     typeTag,
		initializer: initializer,
	}
	parent.adopt(obj)
	r.objects[guid] = obj
	metricObjectsLive.Inc()
	return obj, nil
}

// Lookup resolves a guid to its live proxy, failing with a ProtocolError
// for unknown (or already disposed) guids.
func (r *Registry) Lookup(guid string) (*Object, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	obj, ok := r.objects[guid]
	if !ok {
		return nil, protocol.NewProtocolError("reference to unknown guid %q", guid)
	}
	return obj, nil
}

// Dispose tears down the object and, post-order, every descendant: children
// are disposed before their parent, each proxy's local cleanup hooks run,
// and the guids are removed from the registry. Disposing an unknown or
// already-disposed guid is a no-op, since teardown can race between
// explicit client close and driver-initiated disposal.
func (r *Registry) Dispose(guid string) {
	r.mu.Lock()
	obj, ok := r.objects[guid]
	r.mu.Unlock()
	if !ok {
		return
	}
	r.disposeTree(obj)
}

func (r *Registry) disposeTree(obj *Object) {
	hooks, children := obj.markDisposed()
	for _, child := range children {
		r.disposeTree(child)
	}
	for _, hook := range hooks {
		hook()
	}

	r.mu.Lock()
	// The root entry survives disposal of its subtree; the connection
	// itself still needs an addressable root until it closes.
	if obj.guid != protocol.RootGUID {
		delete(r.objects, obj.guid)
		metricObjectsLive.Dec()
	}
	r.mu.Unlock()
}
