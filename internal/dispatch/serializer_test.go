// File: internal/dispatch/serializer_test.go
package dispatch

import (
	"encoding/base64"
	"testing"

	"github.com/google/go-cmp/cmp"
	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/drover/api/protocol"
)

type fakeRef struct {
	guid string
}

func (f fakeRef) ObjectGUID() string { return f.guid }

func TestDecode(t *testing.T) {
	t.Run("Response", func(t *testing.T) {
		msg, err := Decode([]byte(`{"id":7,"result":{"ok":true}}`))
		require.NoError(t, err)
		assert.Equal(t, protocol.KindResponse, msg.Kind())
		assert.Equal(t, 7, msg.ID)
		assert.JSONEq(t, `{"ok":true}`, string(msg.Result))
	})

	t.Run("VoidResponse", func(t *testing.T) {
		msg, err := Decode([]byte(`{"id":3}`))
		require.NoError(t, err)
		assert.Equal(t, protocol.KindResponse, msg.Kind())
		assert.Nil(t, msg.Result)
		assert.Nil(t, msg.Error)
	})

	t.Run("ErrorResponse", func(t *testing.T) {
		msg, err := Decode([]byte(`{"id":4,"error":{"error":{"name":"TimeoutError","message":"locator timed out","stack":"at goto"}}}`))
		require.NoError(t, err)
		require.NotNil(t, msg.Error)
		assert.Equal(t, "TimeoutError", msg.Error.Error.Name)
		assert.Equal(t, "locator timed out", msg.Error.Error.Message)
	})

	t.Run("LifecycleCreate", func(t *testing.T) {
		msg, err := Decode([]byte(`{"guid":"root","method":"__create__","params":{"guid":"b1","type":"Browser"}}`))
		require.NoError(t, err)
		assert.Equal(t, protocol.KindLifecycle, msg.Kind())
	})

	t.Run("Event", func(t *testing.T) {
		msg, err := Decode([]byte(`{"guid":"page-1","method":"console","params":{"text":"hi"}}`))
		require.NoError(t, err)
		assert.Equal(t, protocol.KindEvent, msg.Kind())
	})

	t.Run("MalformedJSON", func(t *testing.T) {
		_, err := Decode([]byte(`{"id":`))
		var perr *protocol.ProtocolError
		require.ErrorAs(t, err, &perr)
	})

	t.Run("ShapelessEnvelope", func(t *testing.T) {
		_, err := Decode([]byte(`{"result":{}}`))
		var perr *protocol.ProtocolError
		require.ErrorAs(t, err, &perr)
	})

	t.Run("IDAndMethodTogether", func(t *testing.T) {
		_, err := Decode([]byte(`{"id":1,"guid":"x","method":"ping"}`))
		var perr *protocol.ProtocolError
		require.ErrorAs(t, err, &perr)
	})
}

func TestEncodeCall(t *testing.T) {
	t.Run("WireShape", func(t *testing.T) {
		payload, err := EncodeCall(12, "page-1", "goto", map[string]any{"url": "https://example.com"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":12,"guid":"page-1","method":"goto","params":{"url":"https://example.com"}}`, string(payload))
	})

	t.Run("NilParamsBecomeEmptyObject", func(t *testing.T) {
		payload, err := EncodeCall(1, "", "initialize", nil)
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":1,"guid":"","method":"initialize","params":{}}`, string(payload))
	})

	t.Run("RefsBecomeGuidPlaceholders", func(t *testing.T) {
		payload, err := EncodeCall(2, "ctx-1", "route", map[string]any{
			"page": fakeRef{guid: "page-9"},
		})
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":2,"guid":"ctx-1","method":"route","params":{"page":{"guid":"page-9"}}}`, string(payload))
	})
}

func TestSerialize(t *testing.T) {
	t.Run("BinaryBecomesBase64", func(t *testing.T) {
		out, err := Serialize(map[string]any{"file": []byte{0x00, 0x01, 0xff}})
		require.NoError(t, err)
		m := out.(map[string]any)
		assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{0x00, 0x01, 0xff}), m["file"])
	})

	t.Run("NestedGraphsRoundTrip", func(t *testing.T) {
		in := map[string]any{
			"list": []any{1.0, "two", map[string]any{"three": true}},
			"ref":  fakeRef{guid: "g-1"},
		}
		out, err := Serialize(in)
		require.NoError(t, err)

		want := map[string]any{
			"list": []any{1.0, "two", map[string]any{"three": true}},
			"ref":  protocol.GUIDRef{GUID: "g-1"},
		}
		if diff := cmp.Diff(want, out); diff != "" {
			t.Fatalf("serialized graph mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("MapCycleFailsCleanly", func(t *testing.T) {
		inner := map[string]any{}
		inner["self"] = inner

		_, err := Serialize(map[string]any{"outer": inner})
		var perr *protocol.ProtocolError
		require.ErrorAs(t, err, &perr)
		assert.Contains(t, perr.Message, "cycle")
	})

	t.Run("SliceCycleFailsCleanly", func(t *testing.T) {
		list := make([]any, 1)
		list[0] = list

		_, err := Serialize(list)
		var perr *protocol.ProtocolError
		require.ErrorAs(t, err, &perr)
	})

	t.Run("SharedSubtreeIsNotACycle", func(t *testing.T) {
		shared := map[string]any{"k": "v"}
		_, err := Serialize(map[string]any{"a": shared, "b": shared})
		require.NoError(t, err)
	})
}

func TestDeserializeValue(t *testing.T) {
	lookup := func(guid string) (any, error) {
		if guid == "page-1" {
			return fakeRef{guid: guid}, nil
		}
		return nil, protocol.NewProtocolError("reference to unknown guid %q", guid)
	}

	t.Run("ResolvesGuidPlaceholders", func(t *testing.T) {
		var decoded any
		require.NoError(t, json.Unmarshal([]byte(`{"page":{"guid":"page-1"},"count":2}`), &decoded))

		out, err := deserializeValue(decoded, lookup)
		require.NoError(t, err)
		m := out.(map[string]any)
		assert.Equal(t, fakeRef{guid: "page-1"}, m["page"])
		assert.Equal(t, 2.0, m["count"])
	})

	t.Run("UnknownGuidIsProtocolError", func(t *testing.T) {
		var decoded any
		require.NoError(t, json.Unmarshal([]byte(`{"page":{"guid":"gone"}}`), &decoded))

		_, err := deserializeValue(decoded, lookup)
		var perr *protocol.ProtocolError
		require.ErrorAs(t, err, &perr)
	})

	t.Run("GuidKeyInLargerObjectIsNotARef", func(t *testing.T) {
		var decoded any
		require.NoError(t, json.Unmarshal([]byte(`{"guid":"just-data","extra":1}`), &decoded))

		out, err := deserializeValue(decoded, lookup)
		require.NoError(t, err)
		m := out.(map[string]any)
		assert.Equal(t, "just-data", m["guid"])
	})
}
