// Package value converts Go values to a type tag plus a byte payload and back.
//
// The tag is stored in the item flags word of the cache server, which keeps it
// opaquely next to the payload. Tag values follow the flag bits used by
// python-bmemcached, so both clients can read each other's items.
package value

import (
	"bytes"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"unicode/utf8"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pior/bmemcache/binprot"
)

// Tag identifies how a payload must be decoded.
type Tag uint32

const (
	TagUnicodeString    Tag = 0x00
	TagSerializedObject Tag = 0x01
	TagInteger32        Tag = 0x02
	TagInteger64        Tag = 0x04
	TagRawString        Tag = 0x10
	TagBoolean          Tag = 0x20
)

func (t Tag) String() string {
	switch t {
	case TagUnicodeString:
		return "UnicodeString"
	case TagSerializedObject:
		return "SerializedObject"
	case TagInteger32:
		return "Integer32"
	case TagInteger64:
		return "Integer64"
	case TagRawString:
		return "RawString"
	case TagBoolean:
		return "Boolean"
	}
	return fmt.Sprintf("Tag(0x%02x)", uint32(t))
}

// FromFlags returns the tag stored in an item flags word.
// The whole word is the tag: a word with any other bit set is an unknown tag
// and fails to decode.
func FromFlags(flags uint32) Tag {
	return Tag(flags)
}

// UnsupportedValueError is returned by Encode for values it has no tag for.
// Nothing is sent to the server when it occurs.
type UnsupportedValueError struct {
	Value  any
	Reason string
}

func (e *UnsupportedValueError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("unsupported value of type %T: %s", e.Value, e.Reason)
	}
	return fmt.Sprintf("unsupported value of type %T", e.Value)
}

// Encode returns the tag and payload for v.
//
//	[]byte                      RawString
//	string                      UnicodeString (must be valid UTF-8)
//	bool                        Boolean
//	small ints (fit in int32)   Integer32
//	int64, uint64, *big.Int...  Integer64
//	maps, slices, structs...    SerializedObject (MessagePack)
func Encode(v any) (Tag, []byte, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil, &UnsupportedValueError{Value: v, Reason: "nil has no representation"}
	case []byte:
		if x == nil {
			x = []byte{}
		}
		return TagRawString, x, nil
	case string:
		if !utf8.ValidString(x) {
			return 0, nil, &UnsupportedValueError{Value: v, Reason: "string is not valid UTF-8, use []byte"}
		}
		return TagUnicodeString, []byte(x), nil
	case bool:
		if x {
			return TagBoolean, []byte{'1'}, nil
		}
		return TagBoolean, []byte{'0'}, nil
	case int:
		if x >= math.MinInt32 && x <= math.MaxInt32 {
			return TagInteger32, strconv.AppendInt(nil, int64(x), 10), nil
		}
		return TagInteger64, strconv.AppendInt(nil, int64(x), 10), nil
	case int8:
		return TagInteger32, strconv.AppendInt(nil, int64(x), 10), nil
	case int16:
		return TagInteger32, strconv.AppendInt(nil, int64(x), 10), nil
	case int32:
		return TagInteger32, strconv.AppendInt(nil, int64(x), 10), nil
	case uint8:
		return TagInteger32, strconv.AppendUint(nil, uint64(x), 10), nil
	case uint16:
		return TagInteger32, strconv.AppendUint(nil, uint64(x), 10), nil
	case int64:
		return TagInteger64, strconv.AppendInt(nil, x, 10), nil
	case uint32:
		return TagInteger64, strconv.AppendUint(nil, uint64(x), 10), nil
	case uint:
		return TagInteger64, strconv.AppendUint(nil, uint64(x), 10), nil
	case uint64:
		return TagInteger64, strconv.AppendUint(nil, x, 10), nil
	case *big.Int:
		if x == nil {
			return 0, nil, &UnsupportedValueError{Value: v, Reason: "nil *big.Int"}
		}
		return TagInteger64, x.Append(nil, 10), nil
	}

	if err := checkSerializable(reflect.ValueOf(v), 0); err != nil {
		return 0, nil, &UnsupportedValueError{Value: v, Reason: err.Error()}
	}

	payload, err := encodeObject(v)
	if err != nil {
		return 0, nil, &UnsupportedValueError{Value: v, Reason: err.Error()}
	}
	return TagSerializedObject, payload, nil
}

// encodeObject produces the canonical MessagePack form of v: v is first
// reduced to the generic tree Decode returns, which is then written with
// sorted map keys and the smallest int encodings.
// Encoding a decoded object therefore gives back the same bytes.
func encodeObject(v any) ([]byte, error) {
	raw, err := marshalCanonical(v)
	if err != nil {
		return nil, err
	}

	tree, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	return marshalCanonical(tree)
}

func marshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	enc.UseCompactInts(true)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeObject(payload []byte) (any, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(payload))
	dec.UseLooseInterfaceDecoding(true)

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return normalize(v), nil
}

// Decode converts a payload back to a value according to tag.
//
// Payloads that do not parse under their tag, and unknown tags, are reported
// as *binprot.ProtocolError: the item was written by an incompatible producer.
func Decode(tag Tag, payload []byte) (any, error) {
	switch tag {
	case TagRawString:
		return bytes.Clone(payload), nil

	case TagUnicodeString:
		if !utf8.Valid(payload) {
			return nil, &binprot.ProtocolError{Message: "invalid UTF-8 in unicode string payload"}
		}
		return string(payload), nil

	case TagBoolean:
		switch string(payload) {
		case "1":
			return true, nil
		case "0":
			return false, nil
		}
		return nil, &binprot.ProtocolError{Message: fmt.Sprintf("invalid boolean payload %q", payload)}

	case TagInteger32:
		n, err := strconv.ParseInt(string(payload), 10, 32)
		if err != nil {
			return nil, &binprot.ProtocolError{Message: "invalid Integer32 payload", Err: err}
		}
		if strconv.FormatInt(n, 10) != string(payload) {
			return nil, &binprot.ProtocolError{Message: fmt.Sprintf("non-canonical Integer32 payload %q", payload)}
		}
		return int(n), nil

	case TagInteger64:
		if n, err := strconv.ParseInt(string(payload), 10, 64); err == nil {
			if strconv.FormatInt(n, 10) != string(payload) {
				return nil, &binprot.ProtocolError{Message: fmt.Sprintf("non-canonical Integer64 payload %q", payload)}
			}
			return n, nil
		}
		n, ok := new(big.Int).SetString(string(payload), 10)
		if !ok {
			return nil, &binprot.ProtocolError{Message: fmt.Sprintf("invalid Integer64 payload %q", payload)}
		}
		if n.String() != string(payload) {
			return nil, &binprot.ProtocolError{Message: fmt.Sprintf("non-canonical Integer64 payload %q", payload)}
		}
		return n, nil

	case TagSerializedObject:
		v, err := decodeObject(payload)
		if err != nil {
			return nil, &binprot.ProtocolError{Message: "invalid serialized object payload", Err: err}
		}

		// Only the canonical form is accepted, anything else would not survive a re-encode
		canonical, err := marshalCanonical(v)
		if err != nil || !bytes.Equal(canonical, payload) {
			return nil, &binprot.ProtocolError{Message: "serialized object payload is not in canonical form", Err: err}
		}
		return v, nil
	}

	return nil, &binprot.ProtocolError{Message: "unknown type tag " + tag.String()}
}

// Unmarshal decodes a SerializedObject payload into a typed destination.
// Other tags decode as usual and are assigned when the types match.
func Unmarshal(tag Tag, payload []byte, dst any) error {
	if tag == TagSerializedObject {
		if err := msgpack.Unmarshal(payload, dst); err != nil {
			return &binprot.ProtocolError{Message: "invalid serialized object payload", Err: err}
		}
		return nil
	}

	v, err := Decode(tag, payload)
	if err != nil {
		return err
	}

	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("unmarshal destination must be a non-nil pointer, got %T", dst)
	}

	src := reflect.ValueOf(v)
	elem := rv.Elem()
	if !src.Type().AssignableTo(elem.Type()) {
		return fmt.Errorf("cannot assign %s value of type %T to %s", tag, v, elem.Type())
	}
	elem.Set(src)
	return nil
}

const maxObjectDepth = 100

var (
	customEncoderType = reflect.TypeFor[msgpack.CustomEncoder]()
	marshalerType     = reflect.TypeFor[msgpack.Marshaler]()
)

// checkSerializable rejects values MessagePack would silently mangle or that
// could not be decoded back: channels, funcs, complex numbers, maps with
// non-string keys, at any depth. The top-level value must not be nil.
func checkSerializable(rv reflect.Value, depth int) error {
	if depth == 0 {
		switch rv.Kind() {
		case reflect.Pointer, reflect.Interface:
			if rv.IsNil() {
				return fmt.Errorf("nil %s", rv.Kind())
			}
		}
	}
	if depth > maxObjectDepth {
		return fmt.Errorf("object nested deeper than %d levels", maxObjectDepth)
	}
	if !rv.IsValid() {
		return nil
	}
	if rv.Type().Implements(customEncoderType) || rv.Type().Implements(marshalerType) {
		return nil
	}

	switch rv.Kind() {
	case reflect.Chan, reflect.Func, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return fmt.Errorf("kind %s cannot be serialized", rv.Kind())

	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return checkSerializable(rv.Elem(), depth+1)

	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("map key type %s is not a string", rv.Type().Key())
		}
		iter := rv.MapRange()
		for iter.Next() {
			if err := checkSerializable(iter.Value(), depth+1); err != nil {
				return err
			}
		}

	case reflect.Slice, reflect.Array:
		if isScalar(rv.Type().Elem().Kind()) {
			return nil
		}
		for i := range rv.Len() {
			if err := checkSerializable(rv.Index(i), depth+1); err != nil {
				return err
			}
		}

	case reflect.Struct:
		t := rv.Type()
		for i := range t.NumField() {
			f := t.Field(i)
			if !f.IsExported() || f.Tag.Get("msgpack") == "-" {
				continue
			}
			if err := checkSerializable(rv.Field(i), depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func isScalar(k reflect.Kind) bool {
	switch k {
	case reflect.Bool, reflect.String, reflect.Float32, reflect.Float64,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return false
}

// normalize converts the loosely decoded MessagePack tree to the shapes callers
// expect: int64/uint64 integers, float64 floats.
func normalize(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, e := range x {
			x[k] = normalize(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = normalize(e)
		}
		return x
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int:
		return int64(x)
	case uint8:
		return uint64(x)
	case uint16:
		return uint64(x)
	case uint32:
		return uint64(x)
	case uint:
		return uint64(x)
	case float32:
		return float64(x)
	}
	return v
}
