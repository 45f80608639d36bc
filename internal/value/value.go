// Package value implements the property Value tagged union (spec §3,
// §9 "Dynamic property values"): null, bool, i64, f64, string, bytes,
// list, map, and a UTC-millisecond timestamp. Encoding follows the
// teacher's length-prefixed binary framing (see btree/page.go cell
// layout) rather than a generic serialization library: every case is
// explicit and unknown tags are rejected as corruption instead of
// silently decoding garbage.
package value

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/nervusdb/kernel/common"
	"github.com/nervusdb/kernel/internal/binfmt"
)

// Tag identifies which case of the union a Value holds.
type Tag uint8

const (
	TagNull Tag = iota
	TagBool
	TagInt64
	TagFloat64
	TagString
	TagBytes
	TagList
	TagMap
	TagTimestampMillis
)

// MaxValueSize bounds the encoded size of a single Value. Writes that
// would exceed it fail with common.PayloadTooLarge instead of panicking
// (spec §3, §4.4, §7).
const MaxValueSize = 1 << 20 // 1 MiB

// Value is the in-memory representation of a property value.
type Value struct {
	tag   Tag
	b     bool
	i     int64
	f     float64
	s     string
	bytes []byte
	list  []Value
	m     map[string]Value
}

func Null() Value                { return Value{tag: TagNull} }
func Bool(b bool) Value          { return Value{tag: TagBool, b: b} }
func Int64(i int64) Value        { return Value{tag: TagInt64, i: i} }
func Float64(f float64) Value    { return Value{tag: TagFloat64, f: f} }
func String(s string) Value      { return Value{tag: TagString, s: s} }
func Bytes(b []byte) Value       { return Value{tag: TagBytes, bytes: append([]byte(nil), b...)} }
func List(items []Value) Value   { return Value{tag: TagList, list: items} }
func Map(m map[string]Value) Value { return Value{tag: TagMap, m: m} }
func TimestampMillis(ms int64) Value { return Value{tag: TagTimestampMillis, i: ms} }

func (v Value) Tag() Tag       { return v.tag }
func (v Value) IsNull() bool   { return v.tag == TagNull }
func (v Value) AsBool() bool   { return v.b }
func (v Value) AsInt64() int64 { return v.i }
func (v Value) AsFloat64() float64 { return v.f }
func (v Value) AsString() string   { return v.s }
func (v Value) AsBytes() []byte    { return v.bytes }
func (v Value) AsList() []Value    { return v.list }
func (v Value) AsMap() map[string]Value { return v.m }
func (v Value) AsTimestampMillis() int64 { return v.i }

// Equal reports deep equality, used by round-trip property tests.
func Equal(a, b Value) bool {
	if a.tag != b.tag {
		return false
	}
	switch a.tag {
	case TagNull:
		return true
	case TagBool:
		return a.b == b.b
	case TagInt64, TagTimestampMillis:
		return a.i == b.i
	case TagFloat64:
		return a.f == b.f || (math.IsNaN(a.f) && math.IsNaN(b.f))
	case TagString:
		return a.s == b.s
	case TagBytes:
		if len(a.bytes) != len(b.bytes) {
			return false
		}
		for i := range a.bytes {
			if a.bytes[i] != b.bytes[i] {
				return false
			}
		}
		return true
	case TagList:
		if len(a.list) != len(b.list) {
			return false
		}
		for i := range a.list {
			if !Equal(a.list[i], b.list[i]) {
				return false
			}
		}
		return true
	case TagMap:
		if len(a.m) != len(b.m) {
			return false
		}
		for k, av := range a.m {
			bv, ok := b.m[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}

// Encode serializes v into a length-prefixed binary form. Returns
// *common.PayloadTooLarge if the result would exceed MaxValueSize.
func Encode(v Value) ([]byte, error) {
	buf := make([]byte, 0, 32)
	buf = appendValue(buf, v)
	if len(buf) > MaxValueSize {
		return nil, &common.PayloadTooLarge{Size: len(buf), Limit: MaxValueSize}
	}
	return buf, nil
}

func appendValue(buf []byte, v Value) []byte {
	buf = append(buf, byte(v.tag))
	switch v.tag {
	case TagNull:
		// no payload
	case TagBool:
		if v.b {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case TagInt64, TagTimestampMillis:
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], uint64(v.i))
		buf = append(buf, tmp[:]...)
	case TagFloat64:
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], math.Float64bits(v.f))
		buf = append(buf, tmp[:]...)
	case TagString:
		buf = appendLenPrefixed(buf, []byte(v.s))
	case TagBytes:
		buf = appendLenPrefixed(buf, v.bytes)
	case TagList:
		var tmp [binfmt.MaxVarintLen]byte
		n := binfmt.PutUvarint(tmp[:], uint64(len(v.list)))
		buf = append(buf, tmp[:n]...)
		for _, item := range v.list {
			buf = appendValue(buf, item)
		}
	case TagMap:
		var tmp [binfmt.MaxVarintLen]byte
		n := binfmt.PutUvarint(tmp[:], uint64(len(v.m)))
		buf = append(buf, tmp[:n]...)
		for k, item := range v.m {
			buf = appendLenPrefixed(buf, []byte(k))
			buf = appendValue(buf, item)
		}
	}
	return buf
}

func appendLenPrefixed(buf, data []byte) []byte {
	var tmp [binfmt.MaxVarintLen]byte
	n := binfmt.PutUvarint(tmp[:], uint64(len(data)))
	buf = append(buf, tmp[:n]...)
	return append(buf, data...)
}

// Decode parses a Value from buf, returning the value and bytes consumed.
func Decode(buf []byte) (Value, int, error) {
	if len(buf) < 1 {
		return Value{}, 0, fmt.Errorf("value: %w", common.ErrWalTruncated)
	}
	tag := Tag(buf[0])
	rest := buf[1:]
	consumed := 1
	switch tag {
	case TagNull:
		return Null(), consumed, nil
	case TagBool:
		if len(rest) < 1 {
			return Value{}, 0, fmt.Errorf("value: truncated bool")
		}
		return Bool(rest[0] != 0), consumed + 1, nil
	case TagInt64, TagTimestampMillis:
		if len(rest) < 8 {
			return Value{}, 0, fmt.Errorf("value: truncated int64")
		}
		i := int64(binary.BigEndian.Uint64(rest[:8]))
		if tag == TagTimestampMillis {
			return TimestampMillis(i), consumed + 8, nil
		}
		return Int64(i), consumed + 8, nil
	case TagFloat64:
		if len(rest) < 8 {
			return Value{}, 0, fmt.Errorf("value: truncated float64")
		}
		f := math.Float64frombits(binary.BigEndian.Uint64(rest[:8]))
		return Float64(f), consumed + 8, nil
	case TagString:
		data, n, err := decodeLenPrefixed(rest)
		if err != nil {
			return Value{}, 0, err
		}
		return String(string(data)), consumed + n, nil
	case TagBytes:
		data, n, err := decodeLenPrefixed(rest)
		if err != nil {
			return Value{}, 0, err
		}
		return Bytes(data), consumed + n, nil
	case TagList:
		count, n := binfmt.Uvarint(rest)
		if n <= 0 {
			return Value{}, 0, fmt.Errorf("value: truncated list length")
		}
		rest = rest[n:]
		consumed += n
		items := make([]Value, 0, count)
		for i := uint64(0); i < count; i++ {
			item, m, err := Decode(rest)
			if err != nil {
				return Value{}, 0, err
			}
			items = append(items, item)
			rest = rest[m:]
			consumed += m
		}
		return List(items), consumed, nil
	case TagMap:
		count, n := binfmt.Uvarint(rest)
		if n <= 0 {
			return Value{}, 0, fmt.Errorf("value: truncated map length")
		}
		rest = rest[n:]
		consumed += n
		m := make(map[string]Value, count)
		for i := uint64(0); i < count; i++ {
			key, kn, err := decodeLenPrefixed(rest)
			if err != nil {
				return Value{}, 0, err
			}
			rest = rest[kn:]
			consumed += kn
			item, vn, err := Decode(rest)
			if err != nil {
				return Value{}, 0, err
			}
			m[string(key)] = item
			rest = rest[vn:]
			consumed += vn
		}
		return Map(m), consumed, nil
	default:
		return Value{}, 0, fmt.Errorf("value: unknown tag %d: %w", tag, common.ErrManifestUnreadable)
	}
}

func decodeLenPrefixed(buf []byte) ([]byte, int, error) {
	l, n := binfmt.Uvarint(buf)
	if n <= 0 {
		return nil, 0, fmt.Errorf("value: truncated length prefix")
	}
	if uint64(len(buf)-n) < l {
		return nil, 0, fmt.Errorf("value: truncated payload")
	}
	return buf[n : uint64(n)+l], n + int(l), nil
}
