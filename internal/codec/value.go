package codec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Value tags (engine specification §3): a closed tagged variant.
const (
	TagNull byte = iota
	TagBool
	TagI32
	TagI64
	TagF64
	TagString
	TagBytes
	TagArray
	TagObject
)

// Value is a tagged property value. Exactly one of the typed fields is
// meaningful, selected by Tag; Array/Object recurse into nested Values so
// properties can hold arbitrarily nested structures.
type Value struct {
	Tag   byte
	Bool  bool
	I32   int32
	I64   int64
	F64   float64
	Str   string
	Bytes []byte
	Array []Value
	// Object uses parallel slices rather than a map so encoding order
	// (and therefore the encoded byte string) is deterministic.
	ObjectKeys []string
	ObjectVals []Value
}

func NullValue() Value           { return Value{Tag: TagNull} }
func BoolValue(b bool) Value     { return Value{Tag: TagBool, Bool: b} }
func I32Value(v int32) Value     { return Value{Tag: TagI32, I32: v} }
func I64Value(v int64) Value     { return Value{Tag: TagI64, I64: v} }
func F64Value(v float64) Value   { return Value{Tag: TagF64, F64: v} }
func StringValue(s string) Value { return Value{Tag: TagString, Str: s} }
func BytesValue(b []byte) Value  { return Value{Tag: TagBytes, Bytes: b} }
func ArrayValue(vs []Value) Value { return Value{Tag: TagArray, Array: vs} }
func ObjectValue(keys []string, vals []Value) Value {
	return Value{Tag: TagObject, ObjectKeys: keys, ObjectVals: vals}
}

// EncodeValue appends the tagged encoding of v to dst and returns it.
// Scalars are little-endian fixed width; strings and byte blobs are
// length-prefixed (4-byte little-endian length then raw bytes).
func EncodeValue(dst []byte, v Value) []byte {
	dst = append(dst, v.Tag)
	switch v.Tag {
	case TagNull:
		// no payload
	case TagBool:
		if v.Bool {
			dst = append(dst, 1)
		} else {
			dst = append(dst, 0)
		}
	case TagI32:
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(v.I32))
		dst = append(dst, buf[:]...)
	case TagI64:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(v.I64))
		dst = append(dst, buf[:]...)
	case TagF64:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v.F64))
		dst = append(dst, buf[:]...)
	case TagString:
		dst = appendLenPrefixed(dst, []byte(v.Str))
	case TagBytes:
		dst = appendLenPrefixed(dst, v.Bytes)
	case TagArray:
		var cbuf [4]byte
		binary.LittleEndian.PutUint32(cbuf[:], uint32(len(v.Array)))
		dst = append(dst, cbuf[:]...)
		for _, elem := range v.Array {
			dst = EncodeValue(dst, elem)
		}
	case TagObject:
		var cbuf [4]byte
		binary.LittleEndian.PutUint32(cbuf[:], uint32(len(v.ObjectKeys)))
		dst = append(dst, cbuf[:]...)
		for i, k := range v.ObjectKeys {
			dst = appendLenPrefixed(dst, []byte(k))
			dst = EncodeValue(dst, v.ObjectVals[i])
		}
	}
	return dst
}

func appendLenPrefixed(dst, payload []byte) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(len(payload)))
	dst = append(dst, buf[:]...)
	return append(dst, payload...)
}

// DecodeValue reads a single tagged value from the front of src, returning
// the value and the number of bytes consumed.
func DecodeValue(src []byte) (Value, int, error) {
	if len(src) < 1 {
		return Value{}, 0, fmt.Errorf("codec: empty value buffer")
	}
	tag := src[0]
	off := 1
	switch tag {
	case TagNull:
		return Value{Tag: TagNull}, off, nil
	case TagBool:
		if len(src) < off+1 {
			return Value{}, 0, fmt.Errorf("codec: truncated bool value")
		}
		v := src[off] != 0
		return Value{Tag: TagBool, Bool: v}, off + 1, nil
	case TagI32:
		if len(src) < off+4 {
			return Value{}, 0, fmt.Errorf("codec: truncated i32 value")
		}
		v := int32(binary.LittleEndian.Uint32(src[off : off+4]))
		return Value{Tag: TagI32, I32: v}, off + 4, nil
	case TagI64:
		if len(src) < off+8 {
			return Value{}, 0, fmt.Errorf("codec: truncated i64 value")
		}
		v := int64(binary.LittleEndian.Uint64(src[off : off+8]))
		return Value{Tag: TagI64, I64: v}, off + 8, nil
	case TagF64:
		if len(src) < off+8 {
			return Value{}, 0, fmt.Errorf("codec: truncated f64 value")
		}
		v := math.Float64frombits(binary.LittleEndian.Uint64(src[off : off+8]))
		return Value{Tag: TagF64, F64: v}, off + 8, nil
	case TagString:
		b, n, err := readLenPrefixed(src[off:])
		if err != nil {
			return Value{}, 0, err
		}
		return Value{Tag: TagString, Str: string(b)}, off + n, nil
	case TagBytes:
		b, n, err := readLenPrefixed(src[off:])
		if err != nil {
			return Value{}, 0, err
		}
		return Value{Tag: TagBytes, Bytes: b}, off + n, nil
	case TagArray:
		if len(src) < off+4 {
			return Value{}, 0, fmt.Errorf("codec: truncated array length")
		}
		count := int(binary.LittleEndian.Uint32(src[off : off+4]))
		off += 4
		arr := make([]Value, count)
		for i := 0; i < count; i++ {
			elem, n, err := DecodeValue(src[off:])
			if err != nil {
				return Value{}, 0, err
			}
			arr[i] = elem
			off += n
		}
		return Value{Tag: TagArray, Array: arr}, off, nil
	case TagObject:
		if len(src) < off+4 {
			return Value{}, 0, fmt.Errorf("codec: truncated object length")
		}
		count := int(binary.LittleEndian.Uint32(src[off : off+4]))
		off += 4
		keys := make([]string, count)
		vals := make([]Value, count)
		for i := 0; i < count; i++ {
			kb, n, err := readLenPrefixed(src[off:])
			if err != nil {
				return Value{}, 0, err
			}
			off += n
			keys[i] = string(kb)
			v, n2, err := DecodeValue(src[off:])
			if err != nil {
				return Value{}, 0, err
			}
			vals[i] = v
			off += n2
		}
		return Value{Tag: TagObject, ObjectKeys: keys, ObjectVals: vals}, off, nil
	default:
		return Value{}, 0, fmt.Errorf("codec: unknown value tag %d", tag)
	}
}

func readLenPrefixed(src []byte) ([]byte, int, error) {
	if len(src) < 4 {
		return nil, 0, fmt.Errorf("codec: truncated length prefix")
	}
	n := int(binary.LittleEndian.Uint32(src[0:4]))
	if len(src) < 4+n {
		return nil, 0, fmt.Errorf("codec: truncated payload")
	}
	return src[4 : 4+n], 4 + n, nil
}

// Properties is the wire-friendly form of an entity's property map: parallel
// key/value slices in caller-supplied order. Encoding preserves that order
// verbatim, so round-tripping a Properties value through Encode/Decode
// reproduces the exact key order it was built with.
type Properties struct {
	Keys   []string
	Values []Value
}

// EncodeProperties appends the tagged-object encoding of props to dst.
func EncodeProperties(dst []byte, props Properties) []byte {
	return EncodeValue(dst, ObjectValue(props.Keys, props.Values))
}

// DecodeProperties reads a Properties object from the front of src.
func DecodeProperties(src []byte) (Properties, int, error) {
	v, n, err := DecodeValue(src)
	if err != nil {
		return Properties{}, 0, err
	}
	if v.Tag != TagObject {
		return Properties{}, 0, fmt.Errorf("codec: expected object, got tag %d", v.Tag)
	}
	return Properties{Keys: v.ObjectKeys, Values: v.ObjectVals}, n, nil
}
