package datalevin

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Kind selects the encode/decode strategy for a key or value. Integer kinds
// use big-endian, sign-corrected encodings so the engine's lexicographic
// byte comparison yields numeric ordering.
type Kind uint8

const (
	// KindData is an arbitrary value serialized with msgpack.
	KindData Kind = iota + 1
	// KindString is raw UTF-8 bytes.
	KindString
	// KindBytes is a verbatim byte slice.
	KindBytes
	// KindLong is an int64, 8 bytes.
	KindLong
	// KindInt is an int32, 4 bytes.
	KindInt
	// KindID is a uint64, 8 bytes.
	KindID
	// KindByte is a single byte.
	KindByte
	// KindBoolean is one byte, 0x00 or 0x01.
	KindBoolean
	// KindDouble is a float64 in an order-preserving encoding.
	KindDouble
	// KindInstant is a time.Time as epoch milliseconds, 8 bytes.
	KindInstant
	// KindIgnore skips decoding entirely; it cannot be encoded.
	KindIgnore
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindLong:
		return "long"
	case KindInt:
		return "int"
	case KindID:
		return "id"
	case KindByte:
		return "byte"
	case KindBoolean:
		return "boolean"
	case KindDouble:
		return "double"
	case KindInstant:
		return "instant"
	case KindIgnore:
		return "ignore"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

const signMask = uint64(1) << 63

// orderedDoubleBits maps a float64 to a uint64 whose unsigned order equals
// the numeric order of the float (negative values are bit-complemented,
// non-negative ones get the sign bit set).
func orderedDoubleBits(f float64) uint64 {
	bits := math.Float64bits(f)
	if bits&signMask != 0 {
		return ^bits
	}
	return bits | signMask
}

func doubleFromOrderedBits(bits uint64) float64 {
	if bits&signMask != 0 {
		return math.Float64frombits(bits &^ signMask)
	}
	return math.Float64frombits(^bits)
}

// encodeInto appends v's byte representation to dst at its write offset.
// A destination too small yields an OverflowError; a value incompatible
// with the kind yields a CodecError. The codec keeps no state between
// calls.
func encodeInto(dst *buf, v any, kind Kind) error {
	switch kind {
	case KindData:
		data, err := msgpack.Marshal(v)
		if err != nil {
			return codecErrf(kind, err, "marshaling %T", v)
		}
		return dst.write(data)

	case KindString:
		s, ok := v.(string)
		if !ok {
			return codecErrf(kind, nil, "expected string, got %T", v)
		}
		w, err := dst.writable(len(s))
		if err != nil {
			return err
		}
		copy(w, s)
		return nil

	case KindBytes:
		b, ok := v.([]byte)
		if !ok {
			return codecErrf(kind, nil, "expected []byte, got %T", v)
		}
		return dst.write(b)

	case KindLong:
		n, ok := asInt64(v)
		if !ok {
			return codecErrf(kind, nil, "expected int64, got %T", v)
		}
		w, err := dst.writable(8)
		if err != nil {
			return err
		}
		binary.BigEndian.PutUint64(w, uint64(n)^signMask)
		return nil

	case KindInt:
		n, ok := asInt64(v)
		if !ok || n > math.MaxInt32 || n < math.MinInt32 {
			return codecErrf(kind, nil, "expected int32-ranged integer, got %T(%v)", v, v)
		}
		w, err := dst.writable(4)
		if err != nil {
			return err
		}
		binary.BigEndian.PutUint32(w, uint32(int32(n))^(1<<31))
		return nil

	case KindID:
		n, ok := v.(uint64)
		if !ok {
			return codecErrf(kind, nil, "expected uint64, got %T", v)
		}
		w, err := dst.writable(8)
		if err != nil {
			return err
		}
		binary.BigEndian.PutUint64(w, n)
		return nil

	case KindByte:
		b, ok := v.(byte)
		if !ok {
			return codecErrf(kind, nil, "expected byte, got %T", v)
		}
		return dst.writeByte(b)

	case KindBoolean:
		f, ok := v.(bool)
		if !ok {
			return codecErrf(kind, nil, "expected bool, got %T", v)
		}
		if f {
			return dst.writeByte(1)
		}
		return dst.writeByte(0)

	case KindDouble:
		f, ok := v.(float64)
		if !ok {
			return codecErrf(kind, nil, "expected float64, got %T", v)
		}
		w, err := dst.writable(8)
		if err != nil {
			return err
		}
		binary.BigEndian.PutUint64(w, orderedDoubleBits(f))
		return nil

	case KindInstant:
		t, ok := v.(time.Time)
		if !ok {
			return codecErrf(kind, nil, "expected time.Time, got %T", v)
		}
		w, err := dst.writable(8)
		if err != nil {
			return err
		}
		binary.BigEndian.PutUint64(w, uint64(t.UnixMilli())^signMask)
		return nil

	case KindIgnore:
		return codecErrf(kind, nil, "cannot encode")

	default:
		panic(fmt.Errorf("unknown kind %v", kind))
	}
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	default:
		return 0, false
	}
}

// decode reads a value of the requested kind from a raw window. The window
// typically aliases engine memory, so variable-length results are copied
// out; the returned value never references b.
func decode(b []byte, kind Kind) (any, error) {
	switch kind {
	case KindData:
		var v any
		if err := msgpack.Unmarshal(b, &v); err != nil {
			return nil, codecErrf(kind, err, "unmarshaling %d bytes", len(b))
		}
		return v, nil

	case KindString:
		return string(b), nil

	case KindBytes:
		return bytes.Clone(b), nil

	case KindLong:
		if len(b) != 8 {
			return nil, codecErrf(kind, nil, "got %d bytes, wanted 8", len(b))
		}
		return int64(binary.BigEndian.Uint64(b) ^ signMask), nil

	case KindInt:
		if len(b) != 4 {
			return nil, codecErrf(kind, nil, "got %d bytes, wanted 4", len(b))
		}
		return int32(binary.BigEndian.Uint32(b) ^ (1 << 31)), nil

	case KindID:
		if len(b) != 8 {
			return nil, codecErrf(kind, nil, "got %d bytes, wanted 8", len(b))
		}
		return binary.BigEndian.Uint64(b), nil

	case KindByte:
		if len(b) != 1 {
			return nil, codecErrf(kind, nil, "got %d bytes, wanted 1", len(b))
		}
		return b[0], nil

	case KindBoolean:
		if len(b) != 1 {
			return nil, codecErrf(kind, nil, "got %d bytes, wanted 1", len(b))
		}
		switch b[0] {
		case 0:
			return false, nil
		case 1:
			return true, nil
		default:
			return nil, codecErrf(kind, nil, "invalid boolean byte %#x", b[0])
		}

	case KindDouble:
		if len(b) != 8 {
			return nil, codecErrf(kind, nil, "got %d bytes, wanted 8", len(b))
		}
		return doubleFromOrderedBits(binary.BigEndian.Uint64(b)), nil

	case KindInstant:
		if len(b) != 8 {
			return nil, codecErrf(kind, nil, "got %d bytes, wanted 8", len(b))
		}
		ms := int64(binary.BigEndian.Uint64(b) ^ signMask)
		return time.UnixMilli(ms).UTC(), nil

	case KindIgnore:
		return nil, nil

	default:
		panic(fmt.Errorf("unknown kind %v", kind))
	}
}
