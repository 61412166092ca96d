// Package connection implements the single-transport connection lifecycle
// connect, authenticate, select-db, open, quiescing,
// closed, with graceful QUIT vs hard close.
package connection

import (
	"errors"
	"net"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/panjf2000/gnet/v2"
	"github.com/valyala/bytebufferpool"

	"github.com/IceFireDB/redwire/pkg/logging"
	"github.com/IceFireDB/redwire/pkg/metrics"
	"github.com/IceFireDB/redwire/pkg/pipeline"
	"github.com/IceFireDB/redwire/pkg/resp"
	"github.com/IceFireDB/redwire/pkg/rerror"
)

// accumPool recycles the per-connection accumulation buffer across a
// connection's whole lifetime instead of letting each one allocate and GC
// its own bytes.Buffer backing array.
var accumPool bytebufferpool.Pool

// Credentials is the optional AUTH payload: Username is empty for the
// single-argument AUTH form (servers older than the ACL-username syntax).
type Credentials struct {
	Username string
	Password string
}

// Protocol selects the RESP wire protocol version a Connection negotiates
// during Open. RESP2 (the zero value) sends no negotiation command; RESP3
// sends HELLO 3 (folding AUTH into it when Credentials are set) before the
// usual SELECT, so every reply after the handshake — including the
// handshake's own — arrives decoded through the RESP3 codec.
type Protocol int

const (
	RESP2 Protocol = iota
	RESP3
)

// FlushMode selects when a Connection's outbound command bytes reach the
// transport. FlushPerCommand (the default) sends every Write immediately,
// one transport write per command. ManualFlush buffers writes instead,
// letting a caller batch several commands (Lease, several Submits, one
// Flush) into a single transport write; switching back to
// FlushPerCommand flushes whatever is pending first, so no buffered
// command is ever silently stranded.
type FlushMode int

const (
	FlushPerCommand FlushMode = iota
	ManualFlush
)

// Dispatcher is the front of a connection's inbound chain: either a bare
// pipeline.Handler or a pubsub.Multiplexer wrapping one.
type Dispatcher interface {
	Dispatch(buf []byte) (int, error)
}

// Connection owns one gnet.Conn, one pipeline FIFO (reachable through
// Dispatcher), and the accumulation buffer across partial reads — the same
// per-connection bookkeeping shape as a connBuffer, generalized
// from "accumulate commands" to "accumulate replies".
type Connection struct {
	ID   uuid.UUID
	Addr string

	mu        sync.Mutex
	state     State
	gconn     gnet.Conn
	rawConn   net.Conn // set instead of gconn for transports that bypass gnet (TLS)
	rawMu     sync.Mutex
	accum     *bytebufferpool.ByteBuffer
	protocol  Protocol
	flushMode FlushMode
	pending   []byte // buffered writes under ManualFlush, sent whole on Flush

	handler    *pipeline.Handler
	dispatcher Dispatcher

	onUnexpectedClose func(*Connection, error)
	logger            logging.Logger
	metrics           metrics.Collector
}

// New builds a Connection and its pipeline handler, wired to write through
// this connection (lazily, since the live gnet.Conn doesn't exist until
// Attach runs after gnet.Client.Dial returns). The dispatcher defaults to
// the bare handler; SetDispatcher swaps in a Pub/Sub front end.
func New(addr string, decoder pipeline.Decoder, logger logging.Logger, metricsCollector metrics.Collector) *Connection {
	c := &Connection{
		ID:      uuid.New(),
		Addr:    addr,
		state:   Connecting,
		logger:  logger,
		metrics: metricsCollector,
		accum:   accumPool.Get(),
	}
	c.handler = pipeline.NewHandler(decoder, asyncWriter{owner: c})
	c.dispatcher = c.handler
	return c
}

// Writer exposes the connection's lazy, cross-goroutine-safe outbound
// writer for collaborators installed in front of the pipeline handler (the
// Pub/Sub multiplexer's own subscribe/unsubscribe commands).
func (c *Connection) Writer() pipeline.Writer { return asyncWriter{owner: c} }

// Handler returns the underlying pipeline handler, for collaborators (the
// Pub/Sub multiplexer) that wrap it as the Dispatcher.
func (c *Connection) Handler() *pipeline.Handler { return c.handler }

// SetDispatcher installs d (typically a pubsub.Multiplexer wrapping
// c.Handler()) as the front of the inbound chain.
func (c *Connection) SetDispatcher(d Dispatcher) {
	c.mu.Lock()
	c.dispatcher = d
	c.mu.Unlock()
}

// OnUnexpectedClose registers the callback invoked when the connection
// closes other than through a caller-initiated Close/Quiesce.
func (c *Connection) OnUnexpectedClose(fn func(*Connection, error)) {
	c.mu.Lock()
	c.onUnexpectedClose = fn
	c.mu.Unlock()
}

// SetProtocol selects which protocol Open negotiates. Callers set this
// before Open runs; the default (unset) is RESP2, no negotiation.
func (c *Connection) SetProtocol(p Protocol) {
	c.mu.Lock()
	c.protocol = p
	c.mu.Unlock()
}

// SetFlushMode selects FlushPerCommand or ManualFlush. Switching to
// FlushPerCommand sends whatever is currently buffered under ManualFlush
// before returning.
func (c *Connection) SetFlushMode(mode FlushMode) error {
	c.mu.Lock()
	prev := c.flushMode
	c.flushMode = mode
	var pending []byte
	if prev == ManualFlush && mode == FlushPerCommand && len(c.pending) > 0 {
		pending = c.pending
		c.pending = nil
	}
	c.mu.Unlock()
	if pending != nil {
		return c.writeThrough(pending)
	}
	return nil
}

// Flush sends every write buffered since the last Flush (or since
// ManualFlush was selected) to the transport in a single call. A no-op
// under FlushPerCommand, since nothing is ever buffered in that mode.
func (c *Connection) Flush() error {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}
	return c.writeThrough(pending)
}

// writeThrough sends b to whichever transport is attached, bypassing the
// flush-mode buffering asyncWriter.Write applies.
func (c *Connection) writeThrough(b []byte) error {
	c.mu.Lock()
	gconn := c.gconn
	rawConn := c.rawConn
	c.mu.Unlock()

	if gconn != nil {
		return gconn.AsyncWrite(b, nil)
	}
	if rawConn != nil {
		c.rawMu.Lock()
		defer c.rawMu.Unlock()
		_, err := rawConn.Write(b)
		return err
	}
	return errNotAttached
}

// Attach binds the live gnet.Conn produced by Client.Dial.
func (c *Connection) Attach(gconn gnet.Conn) {
	c.mu.Lock()
	c.gconn = gconn
	c.mu.Unlock()
}

// AttachRaw binds a blocking net.Conn (a crypto/tls connection dialed
// outside gnet, whose non-blocking Conn model has no TLS support) and
// starts the goroutine pumping its bytes through the same dispatch path
// onTraffic drives for gnet connections.
func (c *Connection) AttachRaw(conn net.Conn) {
	c.mu.Lock()
	c.rawConn = conn
	c.mu.Unlock()
	go c.pumpRaw(conn)
}

func (c *Connection) pumpRaw(conn net.Conn) {
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if ferr := c.feed(buf[:n]); ferr != nil {
				_ = conn.Close()
				c.onClose(ferr)
				return
			}
		}
		if err != nil {
			c.onClose(err)
			return
		}
	}
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Open performs the post-connect handshake: optional RESP3 negotiation
// (HELLO 3, folding in AUTH), or plain AUTH when not negotiating RESP3;
// then optional SELECT; then transitions to Ready. It blocks until the
// handshake completes or fails; callers run it from the goroutine driving
// the dial, never from the event loop itself (Submit's AsyncWrite would
// otherwise never flush).
func (c *Connection) Open(creds *Credentials, db *int) error {
	if c.protocol == RESP3 {
		c.setState(Authenticating)
		args := []string{"HELLO", "3"}
		if creds != nil {
			username := creds.Username
			if username == "" {
				username = "default"
			}
			args = append(args, "AUTH", username, creds.Password)
		}
		if err := c.handshakeCommand(args); err != nil {
			c.failHandshake(err)
			return err
		}
	} else if creds != nil {
		c.setState(Authenticating)
		var args []string
		if creds.Username != "" {
			args = []string{"AUTH", creds.Username, creds.Password}
		} else {
			args = []string{"AUTH", creds.Password}
		}
		if err := c.handshakeCommand(args); err != nil {
			c.failHandshake(err)
			return err
		}
	}
	if db != nil {
		c.setState(Authenticating)
		if err := c.handshakeCommand([]string{"SELECT", strconv.Itoa(*db)}); err != nil {
			c.failHandshake(err)
			return err
		}
	}
	c.setState(Ready)
	return nil
}

func (c *Connection) handshakeCommand(args []string) error {
	cc, err := c.handler.Submit(resp.NewCommand(args...).Encode(nil))
	if err != nil {
		return err
	}
	<-cc.Done()
	_, err = cc.Result()
	return err
}

func (c *Connection) failHandshake(err error) {
	c.setState(Closed)
	if c.logger != nil {
		c.logger.Error("handshake failed", logging.String("id", c.ID.String()), logging.String("error", err.Error()))
	}
	c.mu.Lock()
	gconn := c.gconn
	c.mu.Unlock()
	if gconn != nil {
		_ = gconn.Close()
	}
}

// Submit encodes nothing itself: callers pass already-encoded command
// bytes (resp.Command.Encode or a RESP3 equivalent). Submissions on a
// non-Ready connection fail synchronously.
func (c *Connection) Submit(token []byte) (*pipeline.CommandContext, error) {
	if c.State() != Ready {
		return nil, &rerror.ConnectionClosedError{}
	}
	return c.handler.Submit(token)
}

// Quiesce sends QUIT and waits for its reply before hard-closing the
// transport, rejecting new submissions for the duration.
func (c *Connection) Quiesce() error {
	c.setState(Quiescing)
	cc, err := c.handler.Submit(resp.NewCommand("QUIT").Encode(nil))
	if err == nil {
		<-cc.Done()
	}
	return c.Close()
}

// Close hard-closes the transport without issuing QUIT.
func (c *Connection) Close() error {
	c.setState(Closed)
	c.mu.Lock()
	gconn := c.gconn
	rawConn := c.rawConn
	c.mu.Unlock()
	if rawConn != nil {
		return rawConn.Close()
	}
	if gconn == nil {
		return nil
	}
	return gconn.Close()
}

// onOpen is invoked by the EventHandler when gnet signals the socket is
// ready for traffic.
func (c *Connection) onOpen() {
	if c.logger != nil {
		c.logger.Debug("connection opened", logging.String("addr", c.Addr), logging.String("id", c.ID.String()))
	}
}

// onClose is invoked by the EventHandler on socket teardown. It fails every
// queued reply, and — unless the close was caller-initiated (Quiescing or
// already Closed) — runs the unexpected-close hook.
func (c *Connection) onClose(err error) {
	wasRequested := c.State() == Quiescing || c.State() == Closed
	c.setState(Closed)
	c.handler.FailAll(&rerror.ConnectionClosedError{Reason: err})

	c.mu.Lock()
	buf := c.accum
	c.accum = nil
	c.mu.Unlock()
	if buf != nil {
		accumPool.Put(buf)
	}

	if !wasRequested {
		c.mu.Lock()
		hook := c.onUnexpectedClose
		c.mu.Unlock()
		if hook != nil {
			hook(c, err)
		}
	}
}

// onTraffic drains every complete reply currently buffered, decoding one at
// a time through the dispatcher (pipeline.Handler directly, or a
// pubsub.Multiplexer in front of it).
func (c *Connection) onTraffic(gconn gnet.Conn) gnet.Action {
	data, _ := gconn.Next(-1)
	if len(data) == 0 {
		return gnet.None
	}
	if err := c.feed(data); err != nil {
		return gnet.Close
	}
	return gnet.None
}

// decodeErrorKind labels a decode failure for the metrics collector,
// matching the wrapped taxonomy pipeline.Dispatch produces so per-kind
// decode-error counters line up with errors.As(err, &rerror.ProtocolError{}).
func decodeErrorKind(err error) string {
	var protoErr *rerror.ProtocolError
	if errors.As(err, &protoErr) {
		return protoErr.Kind
	}
	return "Unknown"
}

// feed accumulates data and decodes every complete reply it contains
// through the dispatcher, shared by the gnet event loop (onTraffic) and the
// raw-transport read pump (pumpRaw).
func (c *Connection) feed(data []byte) error {
	c.mu.Lock()
	c.accum.Write(data)
	buf := c.accum.B
	consumedTotal := 0

	for len(buf) > consumedTotal {
		n, err := c.dispatcher.Dispatch(buf[consumedTotal:])
		if err != nil {
			c.mu.Unlock()
			if c.logger != nil {
				c.logger.Error("protocol error, closing connection", logging.String("id", c.ID.String()), logging.String("error", err.Error()))
			}
			if c.metrics != nil {
				c.metrics.IncDecodeError(decodeErrorKind(err))
			}
			return err
		}
		if n == 0 {
			break
		}
		consumedTotal += n
	}

	remaining := make([]byte, len(buf)-consumedTotal)
	copy(remaining, buf[consumedTotal:])
	c.accum.Reset()
	c.accum.Write(remaining)
	c.mu.Unlock()
	return nil
}
