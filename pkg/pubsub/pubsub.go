// Package pubsub implements the Pub/Sub multiplexer:
// a composable handler installed upstream of the command pipeline that
// intercepts push-type replies before they reach the command FIFO.
package pubsub

import (
	"errors"
	"sync"

	"github.com/IceFireDB/redwire/internal/framing"
	"github.com/IceFireDB/redwire/pkg/pipeline"
	"github.com/IceFireDB/redwire/pkg/resp"
	"github.com/IceFireDB/redwire/pkg/resp3"
)

// MessageKind is the Pub/Sub envelope type, matching the RESP2 array's
// first element / the RESP3 Push's first element.
type MessageKind string

const (
	KindSubscribe    MessageKind = "subscribe"
	KindUnsubscribe  MessageKind = "unsubscribe"
	KindPSubscribe   MessageKind = "psubscribe"
	KindPUnsubscribe MessageKind = "punsubscribe"
	KindMessage      MessageKind = "message"
	KindPMessage     MessageKind = "pmessage"
)

// Message is one dispatched Pub/Sub event.
type Message struct {
	Kind    MessageKind
	Channel string
	Pattern string // set only for pmessage/psubscribe/punsubscribe
	Payload []byte
}

// Receiver is called for every Message matching a channel or pattern
// subscription.
type Receiver func(Message)

// Multiplexer sits in front of a pipeline.Handler. Dispatch inspects every
// decoded reply: Pub/Sub-shaped values are routed to subscribers and never
// reach the command FIFO; everything else is forwarded to the wrapped
// handler unchanged.
type Multiplexer struct {
	decoder pipeline.Decoder
	handler *pipeline.Handler
	writer  pipeline.Writer

	mu       sync.Mutex
	channels map[string]Receiver
	patterns map[string]Receiver

	// onPush receives a RESP3 Push aggregate that doesn't match the
	// known Pub/Sub tuple shape (e.g. client-tracking invalidation
	// pushes), so it is never silently dropped.
	onPush func(resp3.Value)
}

// OnPush installs the callback for RESP3 Push values outside the Pub/Sub
// message shape.
func (m *Multiplexer) OnPush(fn func(resp3.Value)) {
	m.mu.Lock()
	m.onPush = fn
	m.mu.Unlock()
}

// New builds a multiplexer wrapping handler, which continues to own the
// command FIFO for everything the multiplexer passes through. writer is the
// same outbound sink the connection gives to handler; the multiplexer uses
// it directly for its own subscribe/unsubscribe commands so they never
// occupy a FIFO reply slot — their confirmation arrives as a push-shaped
// message the multiplexer intercepts itself.
func New(decoder pipeline.Decoder, handler *pipeline.Handler, writer pipeline.Writer) *Multiplexer {
	return &Multiplexer{
		decoder:  decoder,
		handler:  handler,
		writer:   writer,
		channels: make(map[string]Receiver),
		patterns: make(map[string]Receiver),
	}
}

// Dispatch consumes exactly one reply from buf, routing it to a Pub/Sub
// subscriber or forwarding it to the wrapped pipeline.Handler.
func (m *Multiplexer) Dispatch(buf []byte) (int, error) {
	reply, n, err := m.decoder.Decode(buf)
	if err != nil {
		if errors.Is(err, framing.ErrNeedMore) {
			return 0, nil
		}
		protoErr := pipeline.WrapProtocolError(err)
		m.handler.FailAll(protoErr)
		return 0, protoErr
	}

	if msg, ok := detectMessage(reply); ok {
		m.route(msg)
		return n, nil
	}

	if reply.Resp3 != nil {
		if v, ok := reply.Resp3.Native.(resp3.Value); ok && v.Kind == resp3.KindPush {
			m.mu.Lock()
			onPush := m.onPush
			m.mu.Unlock()
			if onPush != nil {
				onPush(v)
				return n, nil
			}
		}
	}

	if err := m.handler.ResolveNext(reply); err != nil {
		return n, err
	}
	return n, nil
}

func (m *Multiplexer) route(msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch msg.Kind {
	case KindMessage, KindSubscribe, KindUnsubscribe:
		if r, ok := m.channels[msg.Channel]; ok {
			r(msg)
		}
	case KindPMessage, KindPSubscribe, KindPUnsubscribe:
		if r, ok := m.patterns[msg.Pattern]; ok {
			r(msg)
		}
	}
}

// Subscribe registers receiver for channel and issues the SUBSCRIBE command
// directly, bypassing the pipeline's public Submit so the confirmation
// reply is intercepted here instead of queued as a command reply.
func (m *Multiplexer) Subscribe(channel string, receiver Receiver) error {
	m.mu.Lock()
	m.channels[channel] = receiver
	m.mu.Unlock()
	_, err := m.writer.Write(resp.NewCommand("SUBSCRIBE", channel).Encode(nil))
	return err
}

// Unsubscribe removes channel's receiver and issues UNSUBSCRIBE. Removing a
// channel with no registered receiver is a no-op on the local registry, but
// the command is still sent so the server state stays consistent.
func (m *Multiplexer) Unsubscribe(channel string) error {
	m.mu.Lock()
	delete(m.channels, channel)
	m.mu.Unlock()
	_, err := m.writer.Write(resp.NewCommand("UNSUBSCRIBE", channel).Encode(nil))
	return err
}

// PSubscribe registers receiver for pattern and issues PSUBSCRIBE.
func (m *Multiplexer) PSubscribe(pattern string, receiver Receiver) error {
	m.mu.Lock()
	m.patterns[pattern] = receiver
	m.mu.Unlock()
	_, err := m.writer.Write(resp.NewCommand("PSUBSCRIBE", pattern).Encode(nil))
	return err
}

// PUnsubscribe removes pattern's receiver and issues PUNSUBSCRIBE.
func (m *Multiplexer) PUnsubscribe(pattern string) error {
	m.mu.Lock()
	delete(m.patterns, pattern)
	m.mu.Unlock()
	_, err := m.writer.Write(resp.NewCommand("PUNSUBSCRIBE", pattern).Encode(nil))
	return err
}

// Idle reports whether the multiplexer holds no active subscriptions, the
// precondition for removing it from the pipeline.
func (m *Multiplexer) Idle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.channels) == 0 && len(m.patterns) == 0
}

func detectMessage(reply pipeline.Reply) (Message, bool) {
	if reply.Resp2 != nil {
		if v, ok := reply.Resp2.Native.(resp.Value); ok {
			return detectRESP2Message(v)
		}
	}
	if reply.Resp3 != nil {
		if v, ok := reply.Resp3.Native.(resp3.Value); ok && v.Kind == resp3.KindPush {
			return detectRESP3PushMessage(v)
		}
	}
	return Message{}, false
}

func detectRESP2Message(v resp.Value) (Message, bool) {
	if v.Kind != resp.KindArray || v.Null || len(v.Items) < 3 {
		return Message{}, false
	}
	kind := MessageKind(itemString(v.Items[0]))
	switch kind {
	case KindMessage:
		if len(v.Items) < 3 {
			return Message{}, false
		}
		return Message{Kind: kind, Channel: itemString(v.Items[1]), Payload: itemBytes(v.Items[2])}, true
	case KindPMessage:
		if len(v.Items) < 4 {
			return Message{}, false
		}
		return Message{Kind: kind, Pattern: itemString(v.Items[1]), Channel: itemString(v.Items[2]), Payload: itemBytes(v.Items[3])}, true
	case KindSubscribe, KindUnsubscribe:
		return Message{Kind: kind, Channel: itemString(v.Items[1])}, true
	case KindPSubscribe, KindPUnsubscribe:
		return Message{Kind: kind, Pattern: itemString(v.Items[1])}, true
	}
	return Message{}, false
}

func detectRESP3PushMessage(v resp3.Value) (Message, bool) {
	if len(v.Items) < 3 {
		return Message{}, false
	}
	kind := MessageKind(string(resp3Str(v.Items[0])))
	switch kind {
	case KindMessage:
		return Message{Kind: kind, Channel: string(resp3Str(v.Items[1])), Payload: resp3Str(v.Items[2])}, true
	case KindPMessage:
		if len(v.Items) < 4 {
			return Message{}, false
		}
		return Message{Kind: kind, Pattern: string(resp3Str(v.Items[1])), Channel: string(resp3Str(v.Items[2])), Payload: resp3Str(v.Items[3])}, true
	case KindSubscribe, KindUnsubscribe:
		return Message{Kind: kind, Channel: string(resp3Str(v.Items[1]))}, true
	case KindPSubscribe, KindPUnsubscribe:
		return Message{Kind: kind, Pattern: string(resp3Str(v.Items[1]))}, true
	}
	return Message{}, false
}

func itemString(v resp.Value) string {
	switch v.Kind {
	case resp.KindSimpleString, resp.KindError:
		return string(v.Str)
	case resp.KindBulkString:
		return string(v.Bytes)
	}
	return ""
}

func itemBytes(v resp.Value) []byte {
	if v.Kind == resp.KindBulkString {
		return v.Bytes
	}
	return v.Str
}

func resp3Str(v resp3.Value) []byte {
	switch v.Kind {
	case resp3.KindSimpleString, resp3.KindSimpleError:
		return v.Str
	case resp3.KindBlobString, resp3.KindBlobError:
		return v.Str
	}
	return nil
}
