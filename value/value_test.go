package value

import (
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pior/bmemcache/binprot"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	huge, ok := new(big.Int).SetString("123456789012345678901234567890", 10)
	require.True(t, ok)

	tests := []struct {
		name     string
		in       any
		tag      Tag
		payload  string
		expected any
	}{
		{"bytes", []byte("hello"), TagRawString, "hello", []byte("hello")},
		{"empty bytes", []byte{}, TagRawString, "", []byte{}},
		{"string", "hello", TagUnicodeString, "hello", "hello"},
		{"empty string", "", TagUnicodeString, "", ""},
		{"non ascii", "¬", TagUnicodeString, "\xc2\xac", "¬"},
		{"true", true, TagBoolean, "1", true},
		{"false", false, TagBoolean, "0", false},
		{"int", 42, TagInteger32, "42", 42},
		{"negative int", -7, TagInteger32, "-7", -7},
		{"int32 max", int32(math.MaxInt32), TagInteger32, "2147483647", 2147483647},
		{"int8", int8(-3), TagInteger32, "-3", -3},
		{"uint16", uint16(65535), TagInteger32, "65535", 65535},
		{"int beyond int32", math.MaxInt32 + 1, TagInteger64, "2147483648", int64(2147483648)},
		{"int64 one", int64(1), TagInteger64, "1", int64(1)},
		{"uint32", uint32(5), TagInteger64, "5", int64(5)},
		{"uint64 max", uint64(math.MaxUint64), TagInteger64, "18446744073709551615", new(big.Int).SetUint64(math.MaxUint64)},
		{"big int", huge, TagInteger64, "123456789012345678901234567890", huge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tag, payload, err := Encode(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.tag, tag)
			assert.Equal(t, tt.payload, string(payload))

			got, err := Decode(tag, payload)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestDecode_KindIsPreserved(t *testing.T) {
	_, payload, err := Encode(true)
	require.NoError(t, err)
	v, err := Decode(TagBoolean, payload)
	require.NoError(t, err)
	assert.IsType(t, true, v)

	tag, payload, err := Encode(1)
	require.NoError(t, err)
	v, err = Decode(tag, payload)
	require.NoError(t, err)
	assert.IsType(t, int(0), v)

	tag, payload, err = Encode(int64(1))
	require.NoError(t, err)
	v, err = Decode(tag, payload)
	require.NoError(t, err)
	assert.IsType(t, int64(0), v)
	assert.Equal(t, int64(1), v)
}

func TestEncodeDecode_SerializedObject(t *testing.T) {
	tag, payload, err := Encode(map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, TagSerializedObject, tag)

	v, err := Decode(tag, payload)
	require.NoError(t, err)

	m, ok := v.(map[string]any)
	require.True(t, ok, "expected map[string]any, got %T", v)
	assert.EqualValues(t, 1, m["a"])
}

func TestEncodeDecode_NestedObject(t *testing.T) {
	in := map[string]any{
		"name":  "x",
		"list":  []any{1, "two", 3.5, true},
		"inner": map[string]any{"k": []byte("raw")},
	}

	tag, payload, err := Encode(in)
	require.NoError(t, err)

	v, err := Decode(tag, payload)
	require.NoError(t, err)

	m := v.(map[string]any)
	assert.Equal(t, "x", m["name"])

	list := m["list"].([]any)
	require.Len(t, list, 4)
	assert.EqualValues(t, 1, list[0])
	assert.Equal(t, "two", list[1])
	assert.Equal(t, 3.5, list[2])
	assert.Equal(t, true, list[3])

	inner := m["inner"].(map[string]any)
	assert.Equal(t, []byte("raw"), inner["k"])
}

func TestEncode_ReEncodeIsByteIdentical(t *testing.T) {
	inputs := []any{
		"¬", []byte("x"), 12, int64(1), true,
		map[string]any{"a": "b"},
		map[string]any{"a": 1},
		map[string]any{"z": -1, "y": 200, "x": uint64(70000), "w": int64(-300), "v": 1.5, "u": float32(0.25), "t": []any{1, "s"}, "s": nil},
		[]int{1, 128, 1 << 40},
		point{X: 1, Y: 2},
	}

	for _, in := range inputs {
		tag, payload, err := Encode(in)
		require.NoError(t, err)

		decoded, err := Decode(tag, payload)
		require.NoError(t, err)

		tag2, payload2, err := Encode(decoded)
		require.NoError(t, err)
		assert.Equal(t, tag, tag2)
		assert.Equal(t, payload, payload2)
	}
}

func TestEncode_ObjectIsDeterministic(t *testing.T) {
	in := map[string]any{}
	for i := range 16 {
		in[string(rune('a'+i))] = map[string]int{"x": i, "y": -i, "z": i * 1000}
	}

	_, first, err := Encode(in)
	require.NoError(t, err)

	for range 50 {
		_, payload, err := Encode(in)
		require.NoError(t, err)
		require.Equal(t, first, payload)
	}
}

func TestEncode_ObjectUsesCompactInts(t *testing.T) {
	_, payload, err := Encode(map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x81, 0xa1, 'a', 0x01}, payload)
}

func TestDecode_RejectsNonCanonicalObject(t *testing.T) {
	// {"a": 1} with the int written on 9 bytes
	payload := []byte{0x81, 0xa1, 'a', 0xd3, 0, 0, 0, 0, 0, 0, 0, 1}
	_, err := Decode(TagSerializedObject, payload)
	assert.True(t, binprot.IsProtocolError(err), "expected protocol error, got %v", err)

	// {"b": 1, "a": 2}, keys not sorted
	payload = []byte{0x82, 0xa1, 'b', 0x01, 0xa1, 'a', 0x02}
	_, err = Decode(TagSerializedObject, payload)
	assert.True(t, binprot.IsProtocolError(err), "expected protocol error, got %v", err)
}

type point struct {
	X int `msgpack:"x"`
	Y int `msgpack:"y"`
}

func TestUnmarshal(t *testing.T) {
	tag, payload, err := Encode(point{X: 1, Y: 2})
	require.NoError(t, err)
	assert.Equal(t, TagSerializedObject, tag)

	var p point
	require.NoError(t, Unmarshal(tag, payload, &p))
	assert.Equal(t, point{X: 1, Y: 2}, p)

	tag, payload, err = Encode("hello")
	require.NoError(t, err)

	var s string
	require.NoError(t, Unmarshal(tag, payload, &s))
	assert.Equal(t, "hello", s)

	var n int
	assert.Error(t, Unmarshal(tag, payload, &n))
}

func TestEncode_Unsupported(t *testing.T) {
	var nilMap map[string]int
	var nilPtr *point

	tests := []struct {
		name string
		in   any
	}{
		{"nil", nil},
		{"invalid utf8", string([]byte{0xff, 0xfe})},
		{"channel", make(chan int)},
		{"func", func() {}},
		{"complex", complex(1, 2)},
		{"nil pointer", nilPtr},
		{"int keys", map[int]string{1: "a", 2: "b"}},
		{"nested int keys", map[string]any{"m": map[int]string{1: "a"}}},
		{"channel in slice", []any{1, make(chan int)}},
		{"func in struct", struct{ F func() }{F: func() {}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Encode(tt.in)
			var unsupported *UnsupportedValueError
			require.ErrorAs(t, err, &unsupported)
		})
	}

	// A nil map is still a map
	_, _, err := Encode(nilMap)
	require.NoError(t, err)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		tag     Tag
		payload string
	}{
		{"unknown tag", Tag(0x08), "x"},
		{"bad int32", TagInteger32, "abc"},
		{"int32 overflow", TagInteger32, "2147483648"},
		{"bad int64", TagInteger64, "12x"},
		{"bad boolean", TagBoolean, "2"},
		{"empty boolean", TagBoolean, ""},
		{"bad utf8", TagUnicodeString, "\xff"},
		{"bad msgpack", TagSerializedObject, "\xc1"},
		{"int32 plus sign", TagInteger32, "+5"},
		{"int32 leading zeros", TagInteger32, "007"},
		{"int32 negative zero", TagInteger32, "-0"},
		{"int64 plus sign", TagInteger64, "+5"},
		{"int64 leading zeros", TagInteger64, "0042"},
		{"big int leading zeros", TagInteger64, "0123456789012345678901234567890"},
		{"big int plus sign", TagInteger64, "+123456789012345678901234567890"},
		{"unknown flag bits", FromFlags(0x00010000), "hello"},
		{"tag with extra bits", FromFlags(0x42), "7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.tag, []byte(tt.payload))
			require.Error(t, err)
			assert.True(t, binprot.IsProtocolError(err), "expected protocol error, got %v", err)
		})
	}
}

func TestFromFlags(t *testing.T) {
	assert.Equal(t, TagRawString, FromFlags(0x10))
	assert.Equal(t, TagBoolean, FromFlags(0x20))
	assert.Equal(t, Tag(0xff20), FromFlags(0xff00|0x20))
	assert.Equal(t, "Tag(0xff20)", FromFlags(0xff20).String())
	assert.Equal(t, "Integer64", TagInteger64.String())
}
