package resp3

import (
	"strings"
	"testing"

	"github.com/IceFireDB/redwire/internal/framing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeBoundaryCases(t *testing.T) {
	tok, n, err := Decode([]byte("_\r\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, KindNull, tok.Value().Kind)

	tok, _, err = Decode([]byte("#t\r\n"))
	require.NoError(t, err)
	assert.True(t, tok.Value().Bool)

	_, _, err = Decode([]byte("#x\r\n"))
	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, KindMalformed, rerr.Kind)

	tok, _, err = Decode([]byte("=16\r\ntxt:aaaabbbbcccc\r\n"))
	require.NoError(t, err)
	v := tok.Value()
	assert.Equal(t, "txt", v.Format)
	assert.Equal(t, "aaaabbbbcccc", string(v.Content))

	_, _, err = Decode([]byte("=12\r\naaaabbbbcccc\r\n"))
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, KindMissingColonInVerbatimString, rerr.Kind)

	tok, _, err = Decode([]byte("(123\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "123", tok.Value().Digits)

	for _, bad := range []string{"(--1\r\n", "(1-2\r\n", "(-\r\n", "(\r\n"} {
		_, _, err := Decode([]byte(bad))
		require.ErrorAs(t, err, &rerr, bad)
		assert.Equal(t, KindCannotParseBigNumber, rerr.Kind, bad)
	}
}

func TestDecodeNeedMore(t *testing.T) {
	_, _, err := Decode([]byte(":10"))
	assert.ErrorIs(t, err, framing.ErrNeedMore)
	_, _, err = Decode([]byte(":10\r"))
	assert.ErrorIs(t, err, framing.ErrNeedMore)
}

func TestDecodeInvalidLeadingByte(t *testing.T) {
	_, _, err := Decode([]byte("X\r\n"))
	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, KindInvalidLeadingByte, rerr.Kind)
	assert.NotNil(t, rerr.Buffer)
}

func TestDecodeDoubleSpecialForms(t *testing.T) {
	for _, in := range []string{",1.5\r\n", ",inf\r\n", ",-inf\r\n", ",nan\r\n", ",3.14159e10\r\n"} {
		tok, _, err := Decode([]byte(in))
		require.NoError(t, err, in)
		assert.Equal(t, KindDouble, tok.Value().Kind)
	}
}

func TestDecodeAggregatesAndNestingDepth(t *testing.T) {
	tok, n, err := Decode([]byte("*2\r\n:1\r\n:2\r\n"))
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	v := tok.Value()
	require.Len(t, v.Items, 2)
	assert.Equal(t, int64(1), v.Items[0].Number)
	assert.Equal(t, int64(2), v.Items[1].Number)

	tok, _, err = Decode([]byte("%1\r\n+key\r\n:1\r\n"))
	require.NoError(t, err)
	v = tok.Value()
	require.Len(t, v.Pairs, 1)
	assert.Equal(t, "key", string(v.Pairs[0].Key.Str))
	assert.Equal(t, int64(1), v.Pairs[0].Value.Number)

	// Build a 1001-deep nested array: "*1\r\n" repeated, terminated by ":1\r\n".
	var sb strings.Builder
	for i := 0; i < 1001; i++ {
		sb.WriteString("*1\r\n")
	}
	sb.WriteString(":1\r\n")
	_, _, err = Decode([]byte(sb.String()))
	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, KindTooDeeplyNestedAggregatedTypes, rerr.Kind)
}

func TestDecodeArrayNeedsMoreChildren(t *testing.T) {
	_, _, err := Decode([]byte("*2\r\n:1\r\n"))
	assert.ErrorIs(t, err, framing.ErrNeedMore)
}

func TestConcatenatedTokensDecodeOneAtATime(t *testing.T) {
	buf := []byte(":1\r\n+OK\r\n$1\r\nx\r\n")
	var kinds []ValueKind
	for len(buf) > 0 {
		tok, n, err := Decode(buf)
		require.NoError(t, err)
		kinds = append(kinds, tok.Value().Kind)
		buf = buf[n:]
	}
	assert.Equal(t, []ValueKind{KindNumber, KindSimpleString, KindBlobString}, kinds)
}

func TestAttributeSurfacedNotDropped(t *testing.T) {
	tok, _, err := Decode([]byte("|1\r\n+ttl\r\n:100\r\n"))
	require.NoError(t, err)
	v := tok.Value()
	require.Len(t, v.Attrs, 1)
	assert.Equal(t, "ttl", string(v.Attrs[0].Key.Str))

	wrapped := v.WithInner(Value{Kind: KindSimpleString, Str: []byte("OK")})
	unwrapped := wrapped.Unwrap()
	assert.Equal(t, KindSimpleString, unwrapped.Kind)
	assert.Equal(t, "OK", string(unwrapped.Str))
}
