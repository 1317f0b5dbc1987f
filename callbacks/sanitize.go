package callbacks

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
)

// SanitizeValue normalises one metadata value. Booleans, numbers, strings
// and byte slices pass through. Slices and arrays are sanitised element-wise
// and stringified as JSON. Anything else becomes its %v form. The second
// return value is false for nil, which callers drop.
func SanitizeValue(v any) (any, bool) {
	if v == nil {
		return nil, false
	}

	switch val := v.(type) {
	case bool, string, []byte,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return val, true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, false
		}
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil, false
		}
		elems := make([]any, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			if e, ok := SanitizeValue(rv.Index(i).Interface()); ok {
				if b, isBytes := e.([]byte); isBytes {
					e = string(b)
				}
				elems = append(elems, e)
			} else {
				elems = append(elems, nil)
			}
		}
		data, err := json.Marshal(elems)
		if err != nil {
			return fmt.Sprintf("%v", elems), true
		}
		return string(data), true
	}

	return fmt.Sprintf("%v", v), true
}

// SanitizeMetadata normalises caller metadata into attribute values keyed by
// the original metadata key. Nil values are dropped.
func SanitizeMetadata(metadata map[string]any) map[string]attribute.Value {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]attribute.Value, len(metadata))
	for k, v := range metadata {
		if k == "" {
			continue
		}
		clean, ok := SanitizeValue(v)
		if !ok {
			continue
		}
		out[k] = toAttributeValue(clean)
	}
	return out
}

// mergeMetadata overlays child metadata on the inherited parent metadata.
func mergeMetadata(parent, child map[string]attribute.Value) map[string]attribute.Value {
	if len(parent) == 0 {
		return child
	}
	out := make(map[string]attribute.Value, len(parent)+len(child))
	for k, v := range parent {
		out[k] = v
	}
	for k, v := range child {
		out[k] = v
	}
	return out
}

// metadataAttributes renders metadata as agenttrace.metadata.<key>
// attributes in key order.
func metadataAttributes(metadata map[string]attribute.Value) []attribute.KeyValue {
	if len(metadata) == 0 {
		return nil
	}
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, attribute.KeyValue{
			Key:   attribute.Key(MetadataKeyPrefix + k),
			Value: metadata[k],
		})
	}
	return attrs
}

func toAttributeValue(v any) attribute.Value {
	switch val := v.(type) {
	case bool:
		return attribute.BoolValue(val)
	case string:
		return attribute.StringValue(val)
	case []byte:
		if utf8.Valid(val) {
			return attribute.StringValue(string(val))
		}
		return attribute.StringValue(fmt.Sprintf("%x", val))
	case int:
		return attribute.IntValue(val)
	case int8:
		return attribute.Int64Value(int64(val))
	case int16:
		return attribute.Int64Value(int64(val))
	case int32:
		return attribute.Int64Value(int64(val))
	case int64:
		return attribute.Int64Value(val)
	case uint:
		return uintAttributeValue(uint64(val))
	case uint8:
		return attribute.Int64Value(int64(val))
	case uint16:
		return attribute.Int64Value(int64(val))
	case uint32:
		return attribute.Int64Value(int64(val))
	case uint64:
		return uintAttributeValue(val)
	case float32:
		return attribute.Float64Value(float64(val))
	case float64:
		return attribute.Float64Value(val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return attribute.Int64Value(i)
		}
		if f, err := val.Float64(); err == nil {
			return attribute.Float64Value(f)
		}
		return attribute.StringValue(val.String())
	default:
		return attribute.StringValue(fmt.Sprintf("%v", val))
	}
}

// uintAttributeValue keeps unsigned values that overflow int64 as their
// decimal string.
func uintAttributeValue(v uint64) attribute.Value {
	if v > math.MaxInt64 {
		return attribute.StringValue(strconv.FormatUint(v, 10))
	}
	return attribute.Int64Value(int64(v))
}
