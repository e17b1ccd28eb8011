// File: internal/dispatch/serializer.go
package dispatch

import (
	"encoding/base64"
	"fmt"
	"reflect"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/drover/api/protocol"
)

// Ref is implemented by anything that stands in for a remote object.
// Values implementing Ref cross the wire as {"guid": ...} placeholders,
// never as full object graphs; this is how object identity is preserved
// across the process boundary.
type Ref interface {
	ObjectGUID() string
}

// Decode parses one frame payload into an envelope and validates that it
// matches one of the three wire shapes. Anything else is a ProtocolError.
func Decode(payload []byte) (*protocol.Message, error) {
	var msg protocol.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, protocol.NewProtocolError("malformed frame payload: %v", err)
	}
	if msg.ID != 0 {
		// A response. Void results legitimately omit "result", but a
		// response must not double as a server-initiated message.
		if msg.Method != "" {
			return nil, protocol.NewProtocolError("envelope carries both id %d and method %q", msg.ID, msg.Method)
		}
		return &msg, nil
	}
	if msg.Method == "" {
		return nil, protocol.NewProtocolError("envelope matches no known shape: %s", truncateForLog(payload))
	}
	return &msg, nil
}

// EncodeCall serializes a method-call envelope to UTF-8 JSON. Params go
// through Serialize first so object references and binary payloads take
// their wire forms.
func EncodeCall(id int, guid, method string, params any) ([]byte, error) {
	ser, err := Serialize(params)
	if err != nil {
		return nil, fmt.Errorf("serializing params for %s: %w", method, err)
	}
	if ser == nil {
		// The driver expects "params" to always be an object.
		ser = map[string]any{}
	}
	payload, err := json.Marshal(protocol.Call{
		ID:     id,
		GUID:   guid,
		Method: method,
		Params: ser,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding call %s: %w", method, err)
	}
	return payload, nil
}

// Serialize converts an in-memory parameter graph to its wire form:
// remote-object references become {"guid": ...} placeholders, []byte
// becomes inline base64, maps and slices are walked recursively. The walk
// tracks visited containers so a cyclic graph fails cleanly instead of
// recursing forever.
func Serialize(value any) (any, error) {
	return serializeValue(value, map[uintptr]struct{}{})
}

func serializeValue(value any, seen map[uintptr]struct{}) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case Ref:
		return protocol.GUIDRef{GUID: v.ObjectGUID()}, nil
	case []byte:
		return base64.StdEncoding.EncodeToString(v), nil
	case map[string]any:
		if len(v) == 0 {
			return map[string]any{}, nil
		}
		ptr := reflect.ValueOf(v).Pointer()
		if _, ok := seen[ptr]; ok {
			return nil, protocol.NewProtocolError("parameters contain a reference cycle")
		}
		seen[ptr] = struct{}{}
		defer delete(seen, ptr)

		out := make(map[string]any, len(v))
		for k, elem := range v {
			ser, err := serializeValue(elem, seen)
			if err != nil {
				return nil, err
			}
			out[k] = ser
		}
		return out, nil
	case []any:
		if len(v) == 0 {
			return []any{}, nil
		}
		ptr := reflect.ValueOf(v).Pointer()
		if _, ok := seen[ptr]; ok {
			return nil, protocol.NewProtocolError("parameters contain a reference cycle")
		}
		seen[ptr] = struct{}{}
		defer delete(seen, ptr)

		out := make([]any, len(v))
		for i, elem := range v {
			ser, err := serializeValue(elem, seen)
			if err != nil {
				return nil, err
			}
			out[i] = ser
		}
		return out, nil
	default:
		// Scalars, strings and caller-defined structs pass through to the
		// JSON encoder untouched.
		return value, nil
	}
}

// deserializeValue walks a decoded result/params structure, resolving
// {"guid": ...} placeholders back to live proxies via lookup. An unknown
// guid means the driver referenced an object the client never created or
// already disposed, which is a ProtocolError.
func deserializeValue(value any, lookup func(guid string) (any, error)) (any, error) {
	switch v := value.(type) {
	case map[string]any:
		if len(v) == 1 {
			if guid, ok := v["guid"].(string); ok {
				return lookup(guid)
			}
		}
		out := make(map[string]any, len(v))
		for k, elem := range v {
			des, err := deserializeValue(elem, lookup)
			if err != nil {
				return nil, err
			}
			out[k] = des
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			des, err := deserializeValue(elem, lookup)
			if err != nil {
				return nil, err
			}
			out[i] = des
		}
		return out, nil
	default:
		return value, nil
	}
}

// jsonUnmarshal is the package's one JSON decode entry point (jsoniter,
// matching EncodeCall's encoder).
func jsonUnmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// truncateForLog keeps protocol-violation log lines bounded.
func truncateForLog(payload []byte) string {
	const limit = 512
	if len(payload) <= limit {
		return string(payload)
	}
	return string(payload[:limit]) + "...(truncated)"
}
