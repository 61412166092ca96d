package resp3

import "fmt"

// Kind tags the specific way a RESP3 token failed validation, matching the
// specification's error taxonomy for the protocol layer.
type Kind string

const (
	KindInvalidLeadingByte            Kind = "InvalidLeadingByte"
	KindMalformed                      Kind = "Malformed"
	KindTooDeeplyNestedAggregatedTypes Kind = "TooDeeplyNestedAggregatedTypes"
	KindCannotParseInteger             Kind = "CannotParseInteger"
	KindCannotParseDouble              Kind = "CannotParseDouble"
	KindCannotParseBigNumber           Kind = "CannotParseBigNumber"
	KindMissingColonInVerbatimString   Kind = "MissingColonInVerbatimString"
)

// Error is the RESP3 decoder's malformed-input error. Errors raised while
// validating a nested child propagate unchanged up to depth 0, where Decode
// sets Buffer to the whole top-level input for diagnostics.
type Error struct {
	Kind   Kind
	Msg    string
	Buffer []byte
}

func (e *Error) Error() string {
	return fmt.Sprintf("resp3: %s: %s", e.Kind, e.Msg)
}

func newErr(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// attachBuffer stamps buf onto err if err is a *Error raised without one
// yet. Decode calls it once, at depth 0, with the whole input, so every
// *Error Decode returns carries that input, whether it was raised at the
// top level or inside a nested child.
func attachBuffer(err error, buf []byte) error {
	if e, ok := err.(*Error); ok && e.Buffer == nil {
		e.Buffer = buf
	}
	return err
}
