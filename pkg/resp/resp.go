// Package resp implements the classic (RESP2) Redis Serialization Protocol:
// simple strings, errors, integers, bulk strings, and arrays.
//
// Decoding is streaming: Decode consumes at most one complete top-level
// value from the front of a buffer and reports whether it needs more bytes
// rather than blocking or guessing. Encoding is the mirror operation,
// producing canonical wire bytes from a Value.
//
// This package also carries the RESP2 "Append" family used to build
// outbound command frames and to serialize arbitrary Go values, in the
// same style used for serializing server
// replies.
package resp

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/IceFireDB/redwire/internal/framing"
)

// Type is the RESP2 type-marker byte.
type Type byte

const (
	TypeSimpleString Type = '+'
	TypeError        Type = '-'
	TypeInteger      Type = ':'
	TypeBulkString   Type = '$'
	TypeArray        Type = '*'
)

// Kind enumerates the RESP2 value shapes carried by Value.
type Kind int

const (
	KindSimpleString Kind = iota
	KindError
	KindInteger
	KindBulkString
	KindArray
)

// Value is the RESP2 tagged union. A BulkString or Array with Null set to
// true carries no meaningful Bytes/Items and is distinct from an empty
// bulk string or empty array.
type Value struct {
	Kind  Kind
	Str   []byte  // SimpleString / Error payload
	Int   int64   // Integer payload
	Bytes []byte  // BulkString payload; nil iff Null
	Items []Value // Array payload; nil iff Null
	Null  bool    // true for BulkString($-1) / Array(*-1)
}

// Equal reports deep value equality, treating Null specially (a Null bulk
// string is never equal to a non-null empty bulk string).
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind || v.Null != o.Null {
		return false
	}
	switch v.Kind {
	case KindSimpleString, KindError:
		return string(v.Str) == string(o.Str)
	case KindInteger:
		return v.Int == o.Int
	case KindBulkString:
		if v.Null {
			return true
		}
		return string(v.Bytes) == string(o.Bytes)
	case KindArray:
		if v.Null {
			return true
		}
		if len(v.Items) != len(o.Items) {
			return false
		}
		for i := range v.Items {
			if !v.Items[i].Equal(o.Items[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// SimpleStringValue builds a non-null simple-string value.
func SimpleStringValue(s string) Value { return Value{Kind: KindSimpleString, Str: []byte(s)} }

// ErrorValue builds an error value.
func ErrorValue(msg string) Value { return Value{Kind: KindError, Str: []byte(msg)} }

// IntegerValue builds an integer value.
func IntegerValue(n int64) Value { return Value{Kind: KindInteger, Int: n} }

// BulkStringValue builds a non-null bulk string value.
func BulkStringValue(b []byte) Value { return Value{Kind: KindBulkString, Bytes: b} }

// NullBulkString builds the RESP2 null bulk string ($-1).
func NullBulkString() Value { return Value{Kind: KindBulkString, Null: true} }

// ArrayValue builds a non-null array value.
func ArrayValue(items []Value) Value { return Value{Kind: KindArray, Items: items} }

// NullArray builds the RESP2 null array (*-1).
func NullArray() Value { return Value{Kind: KindArray, Null: true} }

// Decode consumes exactly one RESP2 value from the front of buf.
//
// On success it returns the value and the number of bytes consumed. If buf
// does not yet hold a complete value it returns framing.ErrNeedMore and the
// buffer must be re-presented, grown, once more bytes arrive. Any other
// error is a *framing.MalformedError: the stream is corrupt and
// unrecoverable.
func Decode(buf []byte) (Value, int, error) {
	c := framing.NewCursor(buf)
	v, err := decode(c)
	if err != nil {
		return Value{}, 0, err
	}
	return v, c.Pos(), nil
}

func decode(c *framing.Cursor) (Value, error) {
	b, ok := c.PeekByte()
	if !ok {
		return Value{}, framing.ErrNeedMore
	}
	switch Type(b) {
	case TypeSimpleString:
		c.Advance(1)
		line, err := c.ReadCRLFLine()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindSimpleString, Str: line}, nil
	case TypeError:
		c.Advance(1)
		line, err := c.ReadCRLFLine()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindError, Str: line}, nil
	case TypeInteger:
		c.Advance(1)
		line, err := c.ReadCRLFLine()
		if err != nil {
			return Value{}, err
		}
		n, ok := framing.ParseDecimalInt(line)
		if !ok {
			return Value{}, &framing.MalformedError{Msg: "invalid integer"}
		}
		return Value{Kind: KindInteger, Int: n}, nil
	case TypeBulkString:
		c.Advance(1)
		line, err := c.ReadCRLFLine()
		if err != nil {
			return Value{}, err
		}
		n, ok := framing.ParseDecimalInt(line)
		if !ok {
			return Value{}, &framing.MalformedError{Msg: "invalid bulk length"}
		}
		if n < 0 {
			return NullBulkString(), nil
		}
		data, err := c.ReadN(int(n))
		if err != nil {
			return Value{}, err
		}
		cp := make([]byte, len(data))
		copy(cp, data)
		return Value{Kind: KindBulkString, Bytes: cp}, nil
	case TypeArray:
		c.Advance(1)
		line, err := c.ReadCRLFLine()
		if err != nil {
			return Value{}, err
		}
		n, ok := framing.ParseDecimalInt(line)
		if !ok {
			return Value{}, &framing.MalformedError{Msg: "invalid array length"}
		}
		if n < 0 {
			return NullArray(), nil
		}
		items := make([]Value, 0, n)
		for i := int64(0); i < n; i++ {
			item, err := decode(c)
			if err != nil {
				return Value{}, err
			}
			items = append(items, item)
		}
		return Value{Kind: KindArray, Items: items}, nil
	default:
		return Value{}, &framing.MalformedError{Msg: fmt.Sprintf("invalid leading byte %q", b)}
	}
}

// Encode appends the canonical wire form of v to b and returns the result.
func Encode(b []byte, v Value) []byte {
	switch v.Kind {
	case KindSimpleString:
		b = append(b, byte(TypeSimpleString))
		b = append(b, stripNewlines(string(v.Str))...)
		return append(b, '\r', '\n')
	case KindError:
		b = append(b, byte(TypeError))
		b = append(b, stripNewlines(string(v.Str))...)
		return append(b, '\r', '\n')
	case KindInteger:
		return appendPrefix(b, byte(TypeInteger), v.Int)
	case KindBulkString:
		if v.Null {
			return append(b, '$', '-', '1', '\r', '\n')
		}
		b = appendPrefix(b, byte(TypeBulkString), int64(len(v.Bytes)))
		b = append(b, v.Bytes...)
		return append(b, '\r', '\n')
	case KindArray:
		if v.Null {
			return append(b, '*', '-', '1', '\r', '\n')
		}
		b = appendPrefix(b, byte(TypeArray), int64(len(v.Items)))
		for _, item := range v.Items {
			b = Encode(b, item)
		}
		return b
	}
	return b
}

func appendPrefix(b []byte, c byte, n int64) []byte {
	if n >= 0 && n <= 9 {
		return append(b, c, byte('0'+n), '\r', '\n')
	}
	b = append(b, c)
	b = strconv.AppendInt(b, n, 10)
	return append(b, '\r', '\n')
}

func stripNewlines(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\r' || s[i] == '\n' {
			s = strings.ReplaceAll(s, "\r", " ")
			s = strings.ReplaceAll(s, "\n", " ")
			break
		}
	}
	return s
}

// AppendBulk appends a bulk-string-framed byte slice, the building block
// used to encode outbound command arguments.
func AppendBulk(b []byte, bulk []byte) []byte {
	b = appendPrefix(b, byte(TypeBulkString), int64(len(bulk)))
	b = append(b, bulk...)
	return append(b, '\r', '\n')
}

// AppendArrayHeader appends an array header for n upcoming elements.
func AppendArrayHeader(b []byte, n int) []byte {
	return appendPrefix(b, byte(TypeArray), int64(n))
}

// SimpleString is a wrapper type recognized by AppendAny to force
// simple-string (rather than bulk-string) encoding.
type SimpleString string

// SimpleInt is a wrapper type recognized by AppendAny to force integer
// (rather than bulk-string) encoding.
type SimpleInt int64

// Marshaler lets a caller-defined type control its own RESP2 encoding via
// AppendAny.
type Marshaler interface {
	MarshalRESP() []byte
}

// AppendAny serializes an arbitrary Go value to RESP2 with these
// conversion rules: scalars become bulk
// strings unless wrapped in SimpleString/SimpleInt, slices become arrays,
// string-keyed maps become sorted key/value arrays, errors become RESP
// errors.
func AppendAny(b []byte, v interface{}) []byte {
	switch v := v.(type) {
	case SimpleString:
		return Encode(b, SimpleStringValue(string(v)))
	case SimpleInt:
		return Encode(b, IntegerValue(int64(v)))
	case nil:
		return Encode(b, NullBulkString())
	case error:
		return Encode(b, ErrorValue(prefixERRIfNeeded(v.Error())))
	case string:
		return AppendBulk(b, []byte(v))
	case []byte:
		return AppendBulk(b, v)
	case bool:
		if v {
			return AppendBulk(b, []byte("1"))
		}
		return AppendBulk(b, []byte("0"))
	case int:
		return AppendBulk(b, strconv.AppendInt(nil, int64(v), 10))
	case int64:
		return AppendBulk(b, strconv.AppendInt(nil, v, 10))
	case uint64:
		return AppendBulk(b, strconv.AppendUint(nil, v, 10))
	case float64:
		return AppendBulk(b, strconv.AppendFloat(nil, v, 'f', -1, 64))
	case Marshaler:
		return append(b, v.MarshalRESP()...)
	default:
		return appendAnyReflect(b, v)
	}
}

func appendAnyReflect(b []byte, v interface{}) []byte {
	vv := reflect.ValueOf(v)
	switch vv.Kind() {
	case reflect.Slice, reflect.Array:
		n := vv.Len()
		b = AppendArrayHeader(b, n)
		for i := 0; i < n; i++ {
			b = AppendAny(b, vv.Index(i).Interface())
		}
		return b
	case reflect.Map:
		n := vv.Len()
		b = AppendArrayHeader(b, n*2)
		type kv struct {
			key   string
			value interface{}
		}
		items := make([]kv, 0, n)
		iter := vv.MapRange()
		for iter.Next() {
			items = append(items, kv{fmt.Sprint(iter.Key().Interface()), iter.Value().Interface()})
		}
		sort.Slice(items, func(i, j int) bool { return items[i].key < items[j].key })
		for _, item := range items {
			b = AppendBulk(b, []byte(item.key))
			b = AppendAny(b, item.value)
		}
		return b
	default:
		return AppendBulk(b, []byte(fmt.Sprint(v)))
	}
}

func prefixERRIfNeeded(msg string) string {
	msg = strings.TrimSpace(msg)
	firstWord := strings.Split(msg, " ")[0]
	addERR := len(firstWord) == 0
	for i := 0; i < len(firstWord); i++ {
		if firstWord[i] < 'A' || firstWord[i] > 'Z' {
			addERR = true
			break
		}
	}
	if addERR {
		msg = strings.TrimSpace("ERR " + msg)
	}
	return msg
}
