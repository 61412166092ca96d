package resp3

import "strconv"

// ValueKind enumerates the fourteen structured RESP3 value shapes plus
// Attribute.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindBoolean
	KindNumber
	KindDouble
	KindBigNumber
	KindSimpleString
	KindSimpleError
	KindBlobString
	KindBlobError
	KindVerbatimString
	KindArray
	KindMap
	KindSet
	KindPush
	KindAttribute
)

// KV is one key/value pair of a decoded Map or Attribute.
type KV struct {
	Key   Value
	Value Value
}

// Value is the lazily-materialized structured form of a decoded RESP3
// token. Only the fields relevant to Kind are populated.
type Value struct {
	Kind ValueKind

	Bool    bool
	Number  int64
	Double  float64
	Digits  string // BigNumber, raw decimal digits including optional sign
	Str     []byte // SimpleString / SimpleError / BlobString / BlobError
	Format  string // VerbatimString 3-byte format tag
	Content []byte // VerbatimString payload after the format tag and colon

	Items []Value // Array / Set / Push
	Pairs []KV     // Map

	Attrs []KV   // Attribute: the attribute pairs
	Inner *Value // Attribute: the value the attribute decorates
}

// Unwrap returns v itself, or for an Attribute the wrapped inner value —
// a convenience accessor for callers that don't care about attached
// attributes.
func (v Value) Unwrap() Value {
	if v.Kind == KindAttribute && v.Inner != nil {
		return *v.Inner
	}
	return v
}

// Value walks t's validated byte span and builds its structured form. It
// never fails: t was already validated by Decode.
func (t Token) Value() Value {
	switch t.Type {
	case TypeNull:
		return Value{Kind: KindNull}
	case TypeBoolean:
		return Value{Kind: KindBoolean, Bool: t.body()[0] == 't'}
	case TypeInteger:
		n, _ := strconv.ParseInt(string(t.body()), 10, 64)
		return Value{Kind: KindNumber, Number: n}
	case TypeDouble:
		f, _ := strconv.ParseFloat(string(t.body()), 64)
		return Value{Kind: KindDouble, Double: f}
	case TypeBigNumber:
		return Value{Kind: KindBigNumber, Digits: string(t.body())}
	case TypeSimpleString:
		return Value{Kind: KindSimpleString, Str: t.body()}
	case TypeSimpleError:
		return Value{Kind: KindSimpleError, Str: t.body()}
	case TypeBlobString:
		return Value{Kind: KindBlobString, Str: t.blobBody()}
	case TypeBlobError:
		return Value{Kind: KindBlobError, Str: t.blobBody()}
	case TypeVerbatimString:
		b := t.blobBody()
		return Value{Kind: KindVerbatimString, Format: string(b[:3]), Content: b[4:]}
	case TypeArray:
		return Value{Kind: KindArray, Items: valuesOf(t.Children())}
	case TypeSet:
		return Value{Kind: KindSet, Items: valuesOf(t.Children())}
	case TypePush:
		return Value{Kind: KindPush, Items: valuesOf(t.Children())}
	case TypeMap:
		return Value{Kind: KindMap, Pairs: kvsOf(t.Pairs())}
	case TypeAttribute:
		pairs := t.Pairs()
		// An Attribute token in this decoder carries only the attribute
		// pairs themselves; the value it decorates is the next sibling
		// token in the stream, attached by the caller (pipeline/pubsub)
		// that drives decoding. Standalone, it surfaces its pairs with no
		// wrapped inner value.
		return Value{Kind: KindAttribute, Attrs: kvsOf(pairs)}
	}
	return Value{Kind: KindNull}
}

// WithInner returns a copy of an Attribute value with Inner set to the
// value it decorates. Used by callers that decode the following token
// themselves and want to attach it — attributes are surfaced, never
// silently dropped.
func (v Value) WithInner(inner Value) Value {
	v.Inner = &inner
	return v
}

func valuesOf(children []Token) []Value {
	if children == nil {
		return nil
	}
	out := make([]Value, len(children))
	for i, c := range children {
		out[i] = c.Value()
	}
	return out
}

func kvsOf(pairs []TokenPair) []KV {
	if pairs == nil {
		return nil
	}
	out := make([]KV, len(pairs))
	for i, p := range pairs {
		out[i] = KV{Key: p.Key.Value(), Value: p.Value.Value()}
	}
	return out
}

// body returns the token payload between the marker byte and the
// trailing CRLF, for line-framed (non length-prefixed) types.
func (t Token) body() []byte {
	return t.Raw[1 : len(t.Raw)-2]
}

// blobBody returns the length-prefixed payload of a BlobString, BlobError,
// or VerbatimString token, skipping the "$<len>\r\n" header and the
// trailing CRLF.
func (t Token) blobBody() []byte {
	// Raw is "<marker><len>\r\n<payload>\r\n"; find the header's CRLF.
	for i := 1; i < len(t.Raw); i++ {
		if t.Raw[i] == '\n' {
			start := i + 1
			return t.Raw[start : len(t.Raw)-2]
		}
	}
	return nil
}
