package pipeline

import (
	"github.com/IceFireDB/redwire/pkg/resp"
	"github.com/IceFireDB/redwire/pkg/resp3"
)

// RESP2Decoder adapts pkg/resp to the pipeline's Decoder interface, for
// connections that have not negotiated RESP3 via HELLO.
type RESP2Decoder struct{}

func (RESP2Decoder) Decode(buf []byte) (Reply, int, error) {
	v, n, err := resp.Decode(buf)
	if err != nil {
		return Reply{}, 0, err
	}
	return Reply{Resp2: &Resp2Value{
		IsError: v.Kind == resp.KindError,
		Message: string(v.Str),
		Native:  v,
	}}, n, nil
}

// RESP3Decoder adapts pkg/resp3 to the pipeline's Decoder interface, for
// connections that negotiated RESP3.
type RESP3Decoder struct{}

// Decode consumes one top-level value. An Attribute token is never handed
// to the caller on its own: resp3.Decode validates it as a complete unit
// covering only its own key/value pairs, but on the wire an Attribute
// always precedes the single reply it decorates, so Decode pulls that
// following value too and merges it in via Value.WithInner before
// resolving — otherwise the pipeline's FIFO would resolve the head command
// with the bare Attribute and the next queued command with the value the
// Attribute was meant to decorate.
func (RESP3Decoder) Decode(buf []byte) (Reply, int, error) {
	tok, n, err := resp3.Decode(buf)
	if err != nil {
		return Reply{}, 0, err
	}
	value := tok.Value()
	if value.Kind == resp3.KindAttribute {
		innerTok, innerN, err := resp3.Decode(buf[n:])
		if err != nil {
			return Reply{}, 0, err
		}
		inner := innerTok.Value()
		value = value.WithInner(inner)
		n += innerN
		isErr := inner.Kind == resp3.KindSimpleError || inner.Kind == resp3.KindBlobError
		return Reply{Resp3: &Resp3Value{
			IsError: isErr,
			Message: string(inner.Str),
			Native:  value,
		}}, n, nil
	}
	isErr := value.Kind == resp3.KindSimpleError || value.Kind == resp3.KindBlobError
	return Reply{Resp3: &Resp3Value{
		IsError: isErr,
		Message: string(value.Str),
		Native:  value,
	}}, n, nil
}
