// Package pipeline implements the command pipeline handler: a FIFO coupling
// outbound commands to inbound reply resolution on a single connection,
// preserving request-response ordering.
package pipeline

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/IceFireDB/redwire/internal/framing"
	"github.com/IceFireDB/redwire/pkg/resp3"
	"github.com/IceFireDB/redwire/pkg/rerror"
)

// Reply is the decoded form of one inbound value. Exactly one of Resp2/Resp3
// is set, matching the protocol mode the owning connection negotiated.
type Reply struct {
	Resp2 *Resp2Value
	Resp3 *Resp3Value
}

// Resp2Value and Resp3Value are narrow views a Decoder fills in; defined
// here (rather than importing pkg/resp/pkg/resp3 directly into this type)
// so pipeline stays decoupled from which codec produced the reply. See
// decoder.go for the concrete adapters.
type Resp2Value struct {
	IsError bool
	Message string
	Native  interface{}
}

type Resp3Value struct {
	IsError bool
	Message string
	Native  interface{}
}

// IsServerError reports whether the reply is a simple/blob error from the
// server, per the error-propagation policy: server errors fail only the
// head reply, the stream stays healthy.
func (r Reply) IsServerError() bool {
	if r.Resp2 != nil {
		return r.Resp2.IsError
	}
	if r.Resp3 != nil {
		return r.Resp3.IsError
	}
	return false
}

func (r Reply) ErrorMessage() string {
	if r.Resp2 != nil {
		return r.Resp2.Message
	}
	if r.Resp3 != nil {
		return r.Resp3.Message
	}
	return ""
}

// Decoder consumes exactly one reply from the front of buf, matching the
// (value, consumed, error) shape of the two concrete codecs: a nil error
// with n == 0 never happens; framing.ErrNeedMore reports "buf incomplete,
// try again once more bytes arrive" without consuming anything.
type Decoder interface {
	Decode(buf []byte) (Reply, int, error)
}

// Writer sends the encoded bytes of one command downstream. Connection
// implements this over gnet.Conn.AsyncWrite/Write; tests use a buffer.
type Writer interface {
	Write(b []byte) (int, error)
}

// CommandContext is a single-assignment reply slot plus a correlation id
// used only for logging and tracing, never placed on the wire.
type CommandContext struct {
	ID   uuid.UUID
	done chan struct{}
	once sync.Once

	reply Reply
	err   error
}

func newCommandContext() *CommandContext {
	return &CommandContext{ID: uuid.New(), done: make(chan struct{})}
}

func (c *CommandContext) resolve(r Reply) {
	c.once.Do(func() {
		c.reply = r
		close(c.done)
	})
}

func (c *CommandContext) fail(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

// Done returns the channel closed once the reply slot is resolved, either
// with a value or an error.
func (c *CommandContext) Done() <-chan struct{} { return c.done }

// Result returns the resolved reply and error; only meaningful after Done
// is closed.
func (c *CommandContext) Result() (Reply, error) { return c.reply, c.err }

// Handler is the per-connection FIFO of outstanding command reply slots. It
// must only be mutated from the connection's owning event-loop goroutine
// for Dispatch/Close, but Submit may be called from any goroutine — it only
// appends to the queue and writes, both safe to interleave with Dispatch
// under the internal mutex.
type Handler struct {
	mu       sync.Mutex
	queue    []*CommandContext
	decoder  Decoder
	writer   Writer
	closed   bool
	closeErr error
}

// NewHandler builds a pipeline handler bound to one connection's decoder
// and writer.
func NewHandler(decoder Decoder, writer Writer) *Handler {
	return &Handler{decoder: decoder, writer: writer}
}

// Submit appends a fresh reply slot to the tail of the in-flight FIFO and
// writes the encoded command. Per the cancellation contract: either the
// bytes are flushed and the slot stays live, or they are not flushed and
// the slot is failed before Submit returns.
func (h *Handler) Submit(token []byte) (*CommandContext, error) {
	h.mu.Lock()
	if h.closed {
		err := h.closeErr
		h.mu.Unlock()
		if err == nil {
			err = &rerror.ConnectionClosedError{}
		}
		return nil, err
	}
	cc := newCommandContext()
	h.queue = append(h.queue, cc)
	h.mu.Unlock()

	if _, err := h.writer.Write(token); err != nil {
		h.mu.Lock()
		h.removeLocked(cc)
		h.mu.Unlock()
		cc.fail(err)
		return cc, err
	}
	return cc, nil
}

func (h *Handler) removeLocked(cc *CommandContext) {
	for i, q := range h.queue {
		if q == cc {
			h.queue = append(h.queue[:i], h.queue[i+1:]...)
			return
		}
	}
}

// Dispatch feeds buf to the decoder. On success it resolves the head of the
// FIFO with the decoded reply and returns the number of bytes consumed. A
// framing/protocol error fails every queued reply, marks the handler
// closed, and is returned to the caller so it can close the transport.
func (h *Handler) Dispatch(buf []byte) (int, error) {
	reply, n, err := h.decoder.Decode(buf)
	if err != nil {
		if errors.Is(err, framing.ErrNeedMore) {
			return 0, nil
		}
		protoErr := WrapProtocolError(err)
		h.FailAll(protoErr)
		return 0, protoErr
	}

	if err := h.ResolveNext(reply); err != nil {
		return n, err
	}
	return n, nil
}

// WrapProtocolError normalizes whichever codec raised err (RESP2's
// *framing.MalformedError or RESP3's *resp3.Error) into the shared
// *rerror.ProtocolError taxonomy, the single point every unrecoverable
// decode failure passes through on its way to a caller's
// CommandContext.Result(). Exported so other Decoder-driven dispatchers
// (the Pub/Sub multiplexer) raise the same taxonomy on a decode failure.
func WrapProtocolError(err error) error {
	switch e := err.(type) {
	case *framing.MalformedError:
		return &rerror.ProtocolError{Kind: "Malformed", Msg: e.Msg}
	case *resp3.Error:
		return &rerror.ProtocolError{Kind: string(e.Kind), Msg: e.Msg}
	case *rerror.ProtocolError:
		return e
	default:
		return &rerror.ProtocolError{Kind: "Unknown", Msg: err.Error()}
	}
}

// ResolveNext resolves the head of the FIFO with an already-decoded reply,
// without decoding anything itself. The Pub/Sub multiplexer calls this for
// values it has determined are not push-shaped, after decoding them once
// itself, so a reply is never decoded twice on its way through the chain of
// composable handlers in front of the connection.
func (h *Handler) ResolveNext(reply Reply) error {
	h.mu.Lock()
	if len(h.queue) == 0 {
		h.mu.Unlock()
		return &rerror.AssertionError{Detail: "reply received with no in-flight command"}
	}
	cc := h.queue[0]
	h.queue = h.queue[1:]
	h.mu.Unlock()

	if reply.IsServerError() {
		cc.fail(&rerror.ServerError{Message: reply.ErrorMessage()})
	} else {
		cc.resolve(reply)
	}
	return nil
}

// FailAll fails every queued reply with err and marks the handler closed to
// further submissions, per the "unexpected close fails every queued reply"
// propagation rule.
func (h *Handler) FailAll(err error) {
	h.mu.Lock()
	queue := h.queue
	h.queue = nil
	h.closed = true
	h.closeErr = err
	h.mu.Unlock()

	for _, cc := range queue {
		cc.fail(err)
	}
}

// Pending returns the current in-flight FIFO depth, for metrics/tests.
func (h *Handler) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queue)
}
