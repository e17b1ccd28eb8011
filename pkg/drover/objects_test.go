// File: pkg/drover/objects_test.go
package drover

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/drover/api/protocol"
	"github.com/xkilldash9x/drover/internal/dispatch"
)

// scriptedDriver plays the driver's half of the protocol in-process: each
// outgoing call is answered by the handler registered for its method,
// possibly preceded by __create__ announcements.
type scriptedDriver struct {
	mu       sync.Mutex
	conn     *dispatch.Connection
	handlers map[string]func(id int, guid string, params json.RawMessage)
	calls    []string
}

func newScriptedDriver() *scriptedDriver {
	return &scriptedDriver{handlers: map[string]func(int, string, json.RawMessage){}}
}

func (d *scriptedDriver) handle(method string, fn func(id int, guid string, params json.RawMessage)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[method] = fn
}

func (d *scriptedDriver) Send(payload []byte) error {
	var call struct {
		ID     int             `json:"id"`
		GUID   string          `json:"guid"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(payload, &call); err != nil {
		return err
	}
	d.mu.Lock()
	d.calls = append(d.calls, call.Method)
	handler := d.handlers[call.Method]
	d.mu.Unlock()
	if handler == nil {
		return fmt.Errorf("no scripted handler for method %q", call.Method)
	}
	// Answer from another goroutine, as the real receive loop would.
	go handler(call.ID, call.GUID, call.Params)
	return nil
}

// announce injects a driver-initiated __create__.
func (d *scriptedDriver) announce(parentGUID, guid, typeTag, initializer string) {
	d.conn.Dispatch([]byte(fmt.Sprintf(
		`{"guid":%q,"method":"__create__","params":{"guid":%q,"type":%q,"initializer":%s}}`,
		parentGUID, guid, typeTag, initializer)))
}

// respond injects the response for a call id.
func (d *scriptedDriver) respond(id int, result string) {
	d.conn.Dispatch([]byte(fmt.Sprintf(`{"id":%d,"result":%s}`, id, result)))
}

func newScriptedConnection(t *testing.T) (*dispatch.Connection, *scriptedDriver) {
	t.Helper()
	driver := newScriptedDriver()
	conn := dispatch.NewConnection(driver, 5*time.Second, zaptest.NewLogger(t))
	driver.conn = conn
	registerWrapperFactories(conn)
	t.Cleanup(func() { conn.Close("test teardown", nil) })
	return conn, driver
}

// wrapperFor digs the typed wrapper for a guid out of the registry.
func wrapperFor[T any](t *testing.T, conn *dispatch.Connection, guid string) T {
	t.Helper()
	obj, err := conn.Registry().Lookup(guid)
	require.NoError(t, err)
	wrapper, ok := obj.Wrapper().(T)
	require.True(t, ok, "guid %q has wrapper %T", guid, obj.Wrapper())
	return wrapper
}

func TestWrapperFactories(t *testing.T) {
	conn, driver := newScriptedConnection(t)

	driver.announce("", "pw", "Playwright", `{"version":"1.49.0"}`)
	driver.announce("pw", "ct", "BrowserType", `{"name":"chromium"}`)
	driver.announce("ct", "b1", "Browser", `{"version":"131.0.6778.33"}`)
	driver.announce("b1", "c1", "BrowserContext", `{}`)
	driver.announce("c1", "p1", "Page", `{}`)
	driver.announce("", "x1", "SomeFutureType", `{}`)

	pw := wrapperFor[*Playwright](t, conn, "pw")
	assert.Equal(t, "1.49.0", pw.Version())

	bt := wrapperFor[*BrowserType](t, conn, "ct")
	assert.Equal(t, "chromium", bt.Name())

	b := wrapperFor[*Browser](t, conn, "b1")
	assert.Equal(t, "131.0.6778.33", b.Version())

	wrapperFor[*BrowserContext](t, conn, "c1")
	wrapperFor[*Page](t, conn, "p1")

	// Unknown type tags stay generic objects rather than failing the create.
	obj, err := conn.Registry().Lookup("x1")
	require.NoError(t, err)
	assert.Nil(t, obj.Wrapper())
}

func TestWrapperCalls(t *testing.T) {
	t.Run("BrowserTypeLaunchReturnsTheAnnouncedBrowser", func(t *testing.T) {
		conn, driver := newScriptedConnection(t)
		driver.announce("", "pw", "Playwright", `{"version":"1.49.0"}`)
		driver.announce("pw", "ct", "BrowserType", `{"name":"chromium"}`)

		driver.handle("launch", func(id int, guid string, params json.RawMessage) {
			assert.Equal(t, "ct", guid)
			assert.JSONEq(t, `{"headless":true}`, string(params))
			driver.announce("ct", "b1", "Browser", `{"version":"131.0"}`)
			driver.respond(id, `{"browser":{"guid":"b1"}}`)
		})

		bt := wrapperFor[*BrowserType](t, conn, "ct")
		browser, err := bt.Launch(context.Background(), map[string]any{"headless": true})
		require.NoError(t, err)
		assert.Equal(t, "b1", browser.ObjectGUID())
		assert.Equal(t, "131.0", browser.Version())
	})

	t.Run("PageGotoAndTitle", func(t *testing.T) {
		conn, driver := newScriptedConnection(t)
		driver.announce("", "p1", "Page", `{}`)

		driver.handle("goto", func(id int, guid string, params json.RawMessage) {
			assert.JSONEq(t, `{"url":"https://example.com"}`, string(params))
			driver.respond(id, `{}`)
		})
		driver.handle("title", func(id int, guid string, params json.RawMessage) {
			driver.respond(id, `{"value":"Example Domain"}`)
		})

		page := wrapperFor[*Page](t, conn, "p1")
		require.NoError(t, page.Goto(context.Background(), "https://example.com"))

		title, err := page.Title(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "Example Domain", title)
	})

	t.Run("ScreenshotDecodesInlineBase64", func(t *testing.T) {
		conn, driver := newScriptedConnection(t)
		driver.announce("", "p1", "Page", `{}`)

		raw := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a}
		encoded := base64.StdEncoding.EncodeToString(raw)
		driver.handle("screenshot", func(id int, guid string, params json.RawMessage) {
			driver.respond(id, fmt.Sprintf(`{"binary":%q}`, encoded))
		})

		page := wrapperFor[*Page](t, conn, "p1")
		got, err := page.Screenshot(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, raw, got)
	})

	t.Run("CorruptBase64IsAProtocolError", func(t *testing.T) {
		conn, driver := newScriptedConnection(t)
		driver.announce("", "p1", "Page", `{}`)

		driver.handle("screenshot", func(id int, guid string, params json.RawMessage) {
			driver.respond(id, `{"binary":"not!!valid!!base64"}`)
		})

		page := wrapperFor[*Page](t, conn, "p1")
		_, err := page.Screenshot(context.Background(), nil)
		var perr *protocol.ProtocolError
		require.ErrorAs(t, err, &perr)
	})

	t.Run("CallOnDisposedObjectFailsWithoutTouchingTheWire", func(t *testing.T) {
		conn, driver := newScriptedConnection(t)
		driver.announce("", "p1", "Page", `{}`)
		page := wrapperFor[*Page](t, conn, "p1")

		conn.Dispatch([]byte(`{"guid":"p1","method":"__dispose__"}`))

		err := page.Goto(context.Background(), "https://example.com")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disposed")
		driver.mu.Lock()
		defer driver.mu.Unlock()
		assert.Empty(t, driver.calls, "nothing was sent for the dead proxy")
	})

	t.Run("BrowserCloseCascadesDisposal", func(t *testing.T) {
		conn, driver := newScriptedConnection(t)
		driver.announce("", "b1", "Browser", `{"version":"131.0"}`)
		driver.announce("b1", "c1", "BrowserContext", `{}`)
		driver.announce("c1", "p1", "Page", `{}`)

		driver.handle("close", func(id int, guid string, params json.RawMessage) {
			conn.Dispatch([]byte(`{"guid":"b1","method":"__dispose__"}`))
			driver.respond(id, `{}`)
		})

		browser := wrapperFor[*Browser](t, conn, "b1")
		require.NoError(t, browser.Close(context.Background()))

		for _, guid := range []string{"b1", "c1", "p1"} {
			_, err := conn.Registry().Lookup(guid)
			var perr *protocol.ProtocolError
			require.ErrorAs(t, err, &perr, "guid %s must be gone", guid)
		}
	})

	t.Run("WrapperReferencesSerializeAsGuids", func(t *testing.T) {
		conn, driver := newScriptedConnection(t)
		driver.announce("", "b1", "Browser", `{}`)
		driver.announce("", "p1", "Page", `{}`)

		browser := wrapperFor[*Browser](t, conn, "b1")
		page := wrapperFor[*Page](t, conn, "p1")

		driver.handle("adopt", func(id int, guid string, params json.RawMessage) {
			assert.JSONEq(t, `{"page":{"guid":"p1"}}`, string(params))
			driver.respond(id, `{}`)
		})

		_, err := browser.call(context.Background(), "adopt", map[string]any{"page": page})
		require.NoError(t, err)
	})
}

func TestResultObject(t *testing.T) {
	page := &Page{}

	t.Run("ExtractsTheTypedWrapper", func(t *testing.T) {
		got, err := resultObject[*Page](map[string]any{"page": page}, "page")
		require.NoError(t, err)
		assert.Same(t, page, got)
	})

	t.Run("NonObjectResultFails", func(t *testing.T) {
		_, err := resultObject[*Page]("nope", "page")
		var perr *protocol.ProtocolError
		require.ErrorAs(t, err, &perr)
	})

	t.Run("MissingKeyFails", func(t *testing.T) {
		_, err := resultObject[*Page](map[string]any{}, "page")
		var perr *protocol.ProtocolError
		require.ErrorAs(t, err, &perr)
	})

	t.Run("WrongWrapperTypeFails", func(t *testing.T) {
		_, err := resultObject[*Browser](map[string]any{"page": page}, "page")
		var perr *protocol.ProtocolError
		require.ErrorAs(t, err, &perr)
	})
}
