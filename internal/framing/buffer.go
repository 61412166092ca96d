// Package framing holds the byte-level primitives shared by the RESP2 and
// RESP3 codecs: CRLF search, decimal-integer parsing, and a cursor over a
// byte slice that never copies and never advances on failure.
package framing

import (
	"bytes"
	"strconv"
)

// NeedMore is the error (as ErrNeedMore) that ReadCRLFLine and ReadN
// return when the buffer does not yet hold enough bytes; PeekByte reports
// the same condition as ok=false. The buffer/cursor is left untouched so
// the caller can retry once more bytes arrive.
type NeedMore struct{}

func (NeedMore) Error() string { return "framing: need more bytes" }

// ErrNeedMore is the sentinel instance returned for incomplete input.
var ErrNeedMore error = NeedMore{}

// MalformedError reports unrecoverable framing corruption: the bytes seen
// so far can never become valid no matter how many more arrive.
type MalformedError struct {
	Msg string
}

func (e *MalformedError) Error() string { return "framing: malformed: " + e.Msg }

// Cursor is a read-only view over a byte slice with a movable read
// position. All "read" methods either advance pos and return data, or
// leave pos untouched and return an error (ErrNeedMore or *MalformedError).
type Cursor struct {
	buf []byte
	pos int
}

// NewCursor wraps buf for reading from the start.
func NewCursor(buf []byte) *Cursor { return &Cursor{buf: buf} }

// Pos returns the current read offset.
func (c *Cursor) Pos() int { return c.pos }

// Remaining returns the unread tail of the buffer without advancing.
func (c *Cursor) Remaining() []byte { return c.buf[c.pos:] }

// Len returns the number of unread bytes.
func (c *Cursor) Len() int { return len(c.buf) - c.pos }

// PeekByte returns the next unread byte without advancing. ok is false if
// no byte is available.
func (c *Cursor) PeekByte() (b byte, ok bool) {
	if c.pos >= len(c.buf) {
		return 0, false
	}
	return c.buf[c.pos], true
}

// Advance moves the cursor forward n bytes. It panics if n exceeds the
// remaining length; callers must only Advance by amounts they have already
// validated as present (e.g. after PeekByte or ReadCRLFLine succeeded).
func (c *Cursor) Advance(n int) {
	if n < 0 || c.pos+n > len(c.buf) {
		panic("framing: Advance out of range")
	}
	c.pos += n
}

// ReadCRLFLine returns the bytes before the first "\r\n" found at or after
// the current position, and advances the cursor past the terminator. It
// does not include the type-marker byte; callers that haven't already
// consumed it should do so first. Returns ErrNeedMore if no terminator is
// present yet, or a *MalformedError if a bare '\n' is seen without a
// preceding '\r'.
func (c *Cursor) ReadCRLFLine() ([]byte, error) {
	rest := c.buf[c.pos:]
	i := bytes.IndexByte(rest, '\n')
	if i < 0 {
		return nil, ErrNeedMore
	}
	if i == 0 || rest[i-1] != '\r' {
		return nil, &MalformedError{Msg: "line terminator missing CR"}
	}
	line := rest[:i-1]
	c.Advance(i + 1)
	return line, nil
}

// ReadN returns exactly n bytes at the current position followed by a
// "\r\n" terminator, advancing past both. Returns ErrNeedMore if fewer than
// n+2 bytes remain, or *MalformedError if the terminator is wrong.
func (c *Cursor) ReadN(n int) ([]byte, error) {
	if n < 0 {
		return nil, &MalformedError{Msg: "negative length"}
	}
	rest := c.buf[c.pos:]
	if len(rest) < n+2 {
		return nil, ErrNeedMore
	}
	if rest[n] != '\r' || rest[n+1] != '\n' {
		return nil, &MalformedError{Msg: "missing CRLF after fixed-length payload"}
	}
	data := rest[:n]
	c.Advance(n + 2)
	return data, nil
}

// ParseDecimalInt parses b as a signed base-10 integer. It rejects the
// empty string and any non-digit byte (other than a single leading '-').
// This mirrors the hand-rolled digit loops used elsewhere in the RESP parser,
// generalized into one routine shared by both codecs.
func ParseDecimalInt(b []byte) (int64, bool) {
	if len(b) == 0 {
		return 0, false
	}
	neg := false
	i := 0
	if b[0] == '-' {
		neg = true
		i = 1
		if i == len(b) {
			return 0, false
		}
	}
	var n int64
	for ; i < len(b); i++ {
		if b[i] < '0' || b[i] > '9' {
			return 0, false
		}
		n = n*10 + int64(b[i]-'0')
	}
	if neg {
		n = -n
	}
	return n, true
}

// ParseUnsignedDecimalDigits validates that b is non-empty ASCII decimal
// digits with an optional single leading '-', without overflow-checked
// accumulation — used for RESP3 BigNumber, whose magnitude is not bounded
// by int64.
func ParseUnsignedDecimalDigits(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	i := 0
	if b[0] == '-' {
		i = 1
		if i == len(b) {
			return false
		}
	}
	for ; i < len(b); i++ {
		if b[i] < '0' || b[i] > '9' {
			return false
		}
	}
	return true
}

// FormatDecimalInt renders n the way the wire protocol expects, reusing
// strconv rather than a hand-rolled itoa.
func FormatDecimalInt(n int64) []byte {
	return strconv.AppendInt(nil, n, 10)
}
