// File: pkg/drover/objects.go
package drover

import (
	"context"
	"encoding/base64"
	"fmt"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/drover/api/protocol"
	"github.com/xkilldash9x/drover/internal/dispatch"
)

func decodeBase64(encoded string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, protocol.NewProtocolError("binary payload is not valid base64: %v", err)
	}
	return data, nil
}

// remoteObject is the shared veneer over a registry proxy. Every typed
// wrapper embeds one and forwards its operations through the connection.
type remoteObject struct {
	obj *dispatch.Object
}

// ObjectGUID makes wrappers serializable as {"guid": ...} references when
// they appear inside call parameters.
func (r *remoteObject) ObjectGUID() string { return r.obj.ObjectGUID() }

// On registers an event handler; see dispatch.Object.On.
func (r *remoteObject) On(event string, handler dispatch.EventHandler) int {
	return r.obj.On(event, handler)
}

// Once registers a one-shot event handler.
func (r *remoteObject) Once(event string, handler dispatch.EventHandler) int {
	return r.obj.Once(event, handler)
}

// Off removes a handler registered with On or Once.
func (r *remoteObject) Off(event string, id int) {
	r.obj.Off(event, id)
}

// call forwards one operation and returns the deserialized result. Calls
// on a disposed proxy are a programming error and fail immediately without
// touching the wire.
func (r *remoteObject) call(ctx context.Context, method string, params any) (any, error) {
	if r.obj.Disposed() {
		return nil, fmt.Errorf("%s: object %q (%s) is disposed", method, r.obj.ObjectGUID(), r.obj.TypeTag())
	}
	raw, err := r.obj.Conn().Call(ctx, r.obj.ObjectGUID(), method, params)
	if err != nil {
		return nil, err
	}
	return r.obj.Conn().Deserialize(raw)
}

// initializerString reads a top-level string field from the object's
// __create__ initializer.
func (r *remoteObject) initializerString(key string) string {
	var init map[string]any
	if err := json.Unmarshal(r.obj.Initializer(), &init); err != nil {
		return ""
	}
	s, _ := init[key].(string)
	return s
}

// resultObject extracts the wrapper of type T stored under key in a
// deserialized call result. The driver announces objects via __create__
// before referencing them, so a miss here is a contract violation.
func resultObject[T any](result any, key string) (T, error) {
	var zero T
	m, ok := result.(map[string]any)
	if !ok {
		return zero, protocol.NewProtocolError("result is not an object (got %T)", result)
	}
	wrapped, ok := m[key]
	if !ok {
		return zero, protocol.NewProtocolError("result has no %q field", key)
	}
	typed, ok := wrapped.(T)
	if !ok {
		return zero, protocol.NewProtocolError("result field %q has unexpected type %T", key, wrapped)
	}
	return typed, nil
}

// registerWrapperFactories installs the typed wrapper constructors for the
// driver object types this client understands. Unknown type tags stay
// generic dispatch.Objects, so newer drivers never break the registry.
func registerWrapperFactories(conn *dispatch.Connection) {
	conn.RegisterFactory("Playwright", func(obj *dispatch.Object) {
		obj.SetWrapper(&Playwright{remoteObject{obj}})
	})
	conn.RegisterFactory("BrowserType", func(obj *dispatch.Object) {
		obj.SetWrapper(&BrowserType{remoteObject{obj}})
	})
	conn.RegisterFactory("Browser", func(obj *dispatch.Object) {
		obj.SetWrapper(&Browser{remoteObject{obj}})
	})
	conn.RegisterFactory("BrowserContext", func(obj *dispatch.Object) {
		obj.SetWrapper(&BrowserContext{remoteObject{obj}})
	})
	conn.RegisterFactory("Page", func(obj *dispatch.Object) {
		obj.SetWrapper(&Page{remoteObject{obj}})
	})
}

// Playwright is the driver's root automation object, obtained from the
// initialization handshake.
type Playwright struct {
	remoteObject
}

// Version reports the driver's display version.
func (p *Playwright) Version() string {
	return p.initializerString("version")
}

// BrowserType fetches the named browser engine ("chromium", "firefox",
// "webkit").
func (p *Playwright) BrowserType(ctx context.Context, name string) (*BrowserType, error) {
	result, err := p.call(ctx, "browserType", map[string]any{"name": name})
	if err != nil {
		return nil, err
	}
	return resultObject[*BrowserType](result, "browserType")
}

// BrowserType launches browsers of one engine.
type BrowserType struct {
	remoteObject
}

// Name reports the engine name from the driver's initializer.
func (bt *BrowserType) Name() string {
	return bt.initializerString("name")
}

// Launch starts a browser with the given driver-interpreted options.
func (bt *BrowserType) Launch(ctx context.Context, options map[string]any) (*Browser, error) {
	result, err := bt.call(ctx, "launch", options)
	if err != nil {
		return nil, err
	}
	return resultObject[*Browser](result, "browser")
}

// Browser is a running browser instance inside the driver.
type Browser struct {
	remoteObject
}

// Version reports the browser's version string.
func (b *Browser) Version() string {
	return b.initializerString("version")
}

// NewContext creates an isolated browsing context.
func (b *Browser) NewContext(ctx context.Context, options map[string]any) (*BrowserContext, error) {
	result, err := b.call(ctx, "newContext", options)
	if err != nil {
		return nil, err
	}
	return resultObject[*BrowserContext](result, "context")
}

// Close shuts the browser down driver-side; the driver answers with a
// __dispose__ cascade for the browser's subtree.
func (b *Browser) Close(ctx context.Context) error {
	_, err := b.call(ctx, "close", nil)
	return err
}

// BrowserContext is an isolated profile owning pages.
type BrowserContext struct {
	remoteObject
}

// NewPage opens a page in this context.
func (bc *BrowserContext) NewPage(ctx context.Context) (*Page, error) {
	result, err := bc.call(ctx, "newPage", nil)
	if err != nil {
		return nil, err
	}
	return resultObject[*Page](result, "page")
}

// Close tears the context and its pages down.
func (bc *BrowserContext) Close(ctx context.Context) error {
	_, err := bc.call(ctx, "close", nil)
	return err
}

// Page is a single tab. Operations forward to the driver; events such as
// "close" or "console" arrive through On/Once.
type Page struct {
	remoteObject
}

// Goto navigates the page.
func (p *Page) Goto(ctx context.Context, url string) error {
	_, err := p.call(ctx, "goto", map[string]any{"url": url})
	return err
}

// Title returns the current document title.
func (p *Page) Title(ctx context.Context) (string, error) {
	result, err := p.call(ctx, "title", nil)
	if err != nil {
		return "", err
	}
	m, ok := result.(map[string]any)
	if !ok {
		return "", protocol.NewProtocolError("title result is not an object (got %T)", result)
	}
	title, _ := m["value"].(string)
	return title, nil
}

// Screenshot captures the page; the driver returns the image inline as
// base64, decoded here to raw bytes.
func (p *Page) Screenshot(ctx context.Context, options map[string]any) ([]byte, error) {
	result, err := p.call(ctx, "screenshot", options)
	if err != nil {
		return nil, err
	}
	m, ok := result.(map[string]any)
	if !ok {
		return nil, protocol.NewProtocolError("screenshot result is not an object (got %T)", result)
	}
	encoded, _ := m["binary"].(string)
	return decodeBase64(encoded)
}

// Close closes the page.
func (p *Page) Close(ctx context.Context) error {
	_, err := p.call(ctx, "close", nil)
	return err
}
