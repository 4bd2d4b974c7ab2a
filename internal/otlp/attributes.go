// Package otlp implements the attribute extractor (spec.md §4.2) and the
// OTLP-to-internal mapper (spec.md §4.3).
package otlp

import (
	"encoding/json"
	"math"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
)

// AsJSON losslessly converts an OTLP AnyValue into a json.RawMessage.
// Decimal-string ints are promoted to JSON numbers when parseable,
// falling back to a JSON string; NaN/Inf doubles become JSON null
// (spec.md §4.2).
func AsJSON(v *commonpb.AnyValue) json.RawMessage {
	if v == nil {
		return []byte("null")
	}
	switch val := v.Value.(type) {
	case *commonpb.AnyValue_StringValue:
		return marshalOrNull(val.StringValue)
	case *commonpb.AnyValue_BoolValue:
		return marshalOrNull(val.BoolValue)
	case *commonpb.AnyValue_IntValue:
		return marshalOrNull(val.IntValue)
	case *commonpb.AnyValue_DoubleValue:
		if math.IsNaN(val.DoubleValue) || math.IsInf(val.DoubleValue, 0) {
			return []byte("null")
		}
		return marshalOrNull(val.DoubleValue)
	case *commonpb.AnyValue_BytesValue:
		return marshalOrNull(val.BytesValue)
	case *commonpb.AnyValue_ArrayValue:
		if val.ArrayValue == nil {
			return []byte("[]")
		}
		out := make([]json.RawMessage, 0, len(val.ArrayValue.Values))
		for _, item := range val.ArrayValue.Values {
			out = append(out, AsJSON(item))
		}
		return marshalOrNull(out)
	case *commonpb.AnyValue_KvlistValue:
		if val.KvlistValue == nil {
			return []byte("{}")
		}
		m := make(map[string]json.RawMessage, len(val.KvlistValue.Values))
		for _, kv := range val.KvlistValue.Values {
			m[kv.Key] = AsJSON(kv.Value)
		}
		return marshalOrNull(m)
	default:
		return []byte("null")
	}
}

func marshalOrNull(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return b
}

// GetString returns the first attribute's string value matching key.
func GetString(attrs []*commonpb.KeyValue, key string) (string, bool) {
	for _, kv := range attrs {
		if kv.Key != key {
			continue
		}
		if sv, ok := kv.Value.GetValue().(*commonpb.AnyValue_StringValue); ok {
			return sv.StringValue, true
		}
	}
	return "", false
}

// GetStringArray returns the string-valued items of the array attribute
// matching key, in order, dropping non-string items.
func GetStringArray(attrs []*commonpb.KeyValue, key string) []string {
	for _, kv := range attrs {
		if kv.Key != key {
			continue
		}
		arr, ok := kv.Value.GetValue().(*commonpb.AnyValue_ArrayValue)
		if !ok || arr.ArrayValue == nil {
			return nil
		}
		var out []string
		for _, item := range arr.ArrayValue.Values {
			if sv, ok := item.GetValue().(*commonpb.AnyValue_StringValue); ok {
				out = append(out, sv.StringValue)
			}
		}
		return out
	}
	return nil
}

// GetPrefixedMap builds a JSON object from every attribute whose key has
// the given prefix and a non-empty suffix, preserving insertion order.
func GetPrefixedMap(attrs []*commonpb.KeyValue, prefix string) json.RawMessage {
	var keys []string
	vals := map[string]json.RawMessage{}
	for _, kv := range attrs {
		if len(kv.Key) <= len(prefix) || kv.Key[:len(prefix)] != prefix {
			continue
		}
		suffix := kv.Key[len(prefix):]
		if suffix == "" {
			continue
		}
		if _, seen := vals[suffix]; !seen {
			keys = append(keys, suffix)
		}
		vals[suffix] = AsJSON(kv.Value)
	}
	if len(keys) == 0 {
		return []byte("{}")
	}
	var buf []byte
	buf = append(buf, '{')
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, _ := json.Marshal(k)
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = append(buf, vals[k]...)
	}
	buf = append(buf, '}')
	return buf
}

// AttributesAsJSON renders a full KeyValue list as a single JSON object,
// used for observation metadata (spec.md §4.3 step 6).
func AttributesAsJSON(attrs []*commonpb.KeyValue) json.RawMessage {
	var keys []string
	vals := map[string]json.RawMessage{}
	for _, kv := range attrs {
		if _, seen := vals[kv.Key]; !seen {
			keys = append(keys, kv.Key)
		}
		vals[kv.Key] = AsJSON(kv.Value)
	}
	if len(keys) == 0 {
		return []byte("{}")
	}
	var buf []byte
	buf = append(buf, '{')
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, _ := json.Marshal(k)
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = append(buf, vals[k]...)
	}
	buf = append(buf, '}')
	return buf
}
