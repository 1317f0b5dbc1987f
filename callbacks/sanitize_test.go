package callbacks

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

type point struct{ X, Y int }

func TestSanitizeValue(t *testing.T) {
	tests := []struct {
		name   string
		in     any
		want   any
		wantOK bool
	}{
		{name: "nil dropped", in: nil, wantOK: false},
		{name: "nil pointer dropped", in: (*point)(nil), wantOK: false},
		{name: "bool", in: true, want: true, wantOK: true},
		{name: "int", in: 42, want: 42, wantOK: true},
		{name: "float", in: 1.5, want: 1.5, wantOK: true},
		{name: "string", in: "s", want: "s", wantOK: true},
		{name: "bytes", in: []byte("raw"), want: []byte("raw"), wantOK: true},
		{name: "string slice", in: []string{"a", "b"}, want: `["a","b"]`, wantOK: true},
		{name: "mixed slice keeps nil slots", in: []any{1, "x", nil}, want: `[1,"x",null]`, wantOK: true},
		{name: "nested slice sanitised element-wise", in: [][]int{{1, 2}}, want: `["[1,2]"]`, wantOK: true},
		{name: "array", in: [2]bool{true, false}, want: `[true,false]`, wantOK: true},
		{name: "struct", in: point{1, 2}, want: "{1 2}", wantOK: true},
		{name: "map", in: map[string]int{"a": 1}, want: "map[a:1]", wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SanitizeValue(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestSanitizeMetadata(t *testing.T) {
	got := SanitizeMetadata(map[string]any{
		"user":    "u-1",
		"retries": 3,
		"score":   0.25,
		"beta":    true,
		"tags":    []string{"x"},
		"empty":   nil,
		"":        "no key",
	})

	require.Len(t, got, 5)
	assert.Equal(t, attribute.StringValue("u-1"), got["user"])
	assert.Equal(t, attribute.Int64Value(3), got["retries"])
	assert.Equal(t, attribute.Float64Value(0.25), got["score"])
	assert.Equal(t, attribute.BoolValue(true), got["beta"])
	assert.Equal(t, attribute.StringValue(`["x"]`), got["tags"])
	assert.NotContains(t, got, "empty")

	assert.Nil(t, SanitizeMetadata(nil))
}

func TestMergeMetadataChildWins(t *testing.T) {
	parent := map[string]attribute.Value{
		"user": attribute.StringValue("u-1"),
		"tier": attribute.StringValue("gold"),
	}
	child := map[string]attribute.Value{
		"tier": attribute.StringValue("free"),
	}

	merged := mergeMetadata(parent, child)
	assert.Equal(t, "u-1", merged["user"].AsString())
	assert.Equal(t, "free", merged["tier"].AsString())
	assert.Equal(t, "gold", parent["tier"].AsString(), "parent map is not mutated")
}

func TestMetadataAttributesSortedAndPrefixed(t *testing.T) {
	attrs := metadataAttributes(map[string]attribute.Value{
		"b": attribute.IntValue(2),
		"a": attribute.IntValue(1),
	})
	require.Len(t, attrs, 2)
	assert.Equal(t, attribute.Key("agenttrace.metadata.a"), attrs[0].Key)
	assert.Equal(t, attribute.Key("agenttrace.metadata.b"), attrs[1].Key)
}

func TestToAttributeValueUnsignedOverflow(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want attribute.Value
	}{
		{name: "max uint64 becomes a string", in: uint64(math.MaxUint64), want: attribute.StringValue("18446744073709551615")},
		{name: "just past int64", in: uint64(math.MaxInt64) + 1, want: attribute.StringValue("9223372036854775808")},
		{name: "max int64 stays numeric", in: uint64(math.MaxInt64), want: attribute.Int64Value(math.MaxInt64)},
		{name: "small uint stays numeric", in: uint(42), want: attribute.Int64Value(42)},
		{name: "uint32 stays numeric", in: uint32(math.MaxUint32), want: attribute.Int64Value(math.MaxUint32)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, toAttributeValue(tt.in))
		})
	}
}
