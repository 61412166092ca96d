package redwire

import (
	"context"

	"github.com/IceFireDB/redwire/pkg/connection"
	"github.com/IceFireDB/redwire/pkg/pipeline"
	"github.com/IceFireDB/redwire/pkg/pool"
	"github.com/IceFireDB/redwire/pkg/pubsub"
	"github.com/IceFireDB/redwire/pkg/resp"
)

// Client is a pool of connections to one logical server (a standalone
// instance, or one node of a cluster when used from ClusterClient). It
// owns the transport every connection in its pool dials through and must
// be Closed to release it.
type Client struct {
	pool      *pool.Pool
	transport interface{ Stop() error }
	decoder   pipeline.Decoder
}

// New builds the shared transport (gnet, or crypto/tls when
// cfg.Transport.TLS is set) that every connection to cfg.InitialAddresses
// dials through, and starts the bounded connection pool backing every
// Do/Subscribe call. The pool dials on the first Lease, or earlier when
// MinimumConnections is set.
func New(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	decoder := decoderFor(cfg.Protocol)

	var dial pool.Dialer
	var transport interface{ Stop() error }
	if cfg.Transport.TLS != nil {
		dial = pool.NewTLSTransport(cfg.Transport.TLS, decoder, cfg.Logger, cfg.Metrics, cfg.Credentials, cfg.InitialDatabase, cfg.Protocol, cfg.FlushMode).Dial
	} else {
		t, err := pool.NewGnetTransport(decoder, cfg.Logger, cfg.Metrics, cfg.Credentials, cfg.InitialDatabase, cfg.Protocol, cfg.FlushMode, cfg.Transport.GnetOpts...)
		if err != nil {
			return nil, err
		}
		dial = t.Dial
		transport = t
	}
	return newWithDialer(cfg, dial, transport)
}

// decoderFor picks the Decoder matching a negotiated protocol, shared by
// New and Subscribe/PSubscribe so a connection's Pub/Sub multiplexer reads
// replies with the same codec its handshake negotiated.
func decoderFor(p Protocol) pipeline.Decoder {
	if p == RESP3 {
		return pipeline.RESP3Decoder{}
	}
	return pipeline.RESP2Decoder{}
}

// newWithDialer builds a Client around an already-resolved Dialer, letting
// tests substitute a fake one that skips the network entirely.
func newWithDialer(cfg Config, dial pool.Dialer, transport interface{ Stop() error }) (*Client, error) {
	p, err := pool.New(cfg.toPoolConfig(dial))
	if err != nil {
		if transport != nil {
			_ = transport.Stop()
		}
		return nil, err
	}
	return &Client{pool: p, transport: transport, decoder: decoderFor(cfg.Protocol)}, nil
}

// Do leases a connection, submits cmd, waits for its reply, and releases
// the connection back to the pool. Callers needing several commands to run
// on the same connection (MULTI/EXEC, a transaction) should Lease once and
// issue each command against the returned Conn instead.
func (c *Client) Do(ctx context.Context, args ...string) (pipeline.Reply, error) {
	l, err := c.pool.Lease(ctx)
	if err != nil {
		return pipeline.Reply{}, err
	}
	defer l.Release()
	return submitAndWait(l.Conn(), resp.NewCommand(args...))
}

// DoSequence leases one connection and submits each command in args in
// order, waiting for each reply before sending the next, returning only
// the last reply. Used for command pairs that must land on the same
// connection back-to-back (ASKING followed by the redirected command).
func (c *Client) DoSequence(ctx context.Context, argLists ...[]string) (pipeline.Reply, error) {
	l, err := c.pool.Lease(ctx)
	if err != nil {
		return pipeline.Reply{}, err
	}
	defer l.Release()

	var reply pipeline.Reply
	for _, args := range argLists {
		reply, err = submitAndWait(l.Conn(), resp.NewCommand(args...))
		if err != nil {
			return reply, err
		}
	}
	return reply, nil
}

func submitAndWait(conn *connection.Connection, cmd resp.Command) (pipeline.Reply, error) {
	cc, err := conn.Submit(cmd.Encode(nil))
	if err != nil {
		return pipeline.Reply{}, err
	}
	// Under ManualFlush the command is only buffered; send it now so the
	// reply can arrive. A no-op under FlushPerCommand.
	if err := conn.Flush(); err != nil {
		return pipeline.Reply{}, err
	}
	<-cc.Done()
	return cc.Result()
}

// Lease hands the caller direct, exclusive possession of one connection
// until Release, for multi-command sequences that must land on the same
// connection.
func (c *Client) Lease(ctx context.Context) (*pool.Lease, error) {
	return c.pool.Lease(ctx)
}

// Subscription is a leased connection dedicated to Pub/Sub: it is removed
// from the pool's rotation for its lifetime and returned only on Close.
type Subscription struct {
	lease *pool.Lease
	mux   *pubsub.Multiplexer
}

// Subscribe leases a connection, installs a Pub/Sub multiplexer in front
// of its command pipeline, and subscribes to channel. The connection is
// not usable for regular commands for the Subscription's lifetime.
func (c *Client) Subscribe(ctx context.Context, channel string, receiver pubsub.Receiver) (*Subscription, error) {
	l, err := c.pool.Lease(ctx)
	if err != nil {
		return nil, err
	}
	conn := l.Conn()
	mux := pubsub.New(c.decoder, conn.Handler(), conn.Writer())
	conn.SetDispatcher(mux)
	if err := mux.Subscribe(channel, receiver); err != nil {
		l.Release()
		return nil, err
	}
	return &Subscription{lease: l, mux: mux}, nil
}

// PSubscribe is Subscribe's pattern-matching counterpart.
func (c *Client) PSubscribe(ctx context.Context, pattern string, receiver pubsub.Receiver) (*Subscription, error) {
	l, err := c.pool.Lease(ctx)
	if err != nil {
		return nil, err
	}
	conn := l.Conn()
	mux := pubsub.New(c.decoder, conn.Handler(), conn.Writer())
	conn.SetDispatcher(mux)
	if err := mux.PSubscribe(pattern, receiver); err != nil {
		l.Release()
		return nil, err
	}
	return &Subscription{lease: l, mux: mux}, nil
}

// Unsubscribe drops one channel subscription. The connection stays
// dedicated to Pub/Sub (held out of the pool's rotation) until Close.
func (s *Subscription) Unsubscribe(channel string) error {
	return s.mux.Unsubscribe(channel)
}

// Close returns the connection to the pool's rotation. Callers should
// Unsubscribe every channel/pattern first; the multiplexer itself is only
// removable from the pipeline while it holds no active subscriptions.
func (s *Subscription) Close() {
	s.lease.Release()
}

// Stats reports the pool's current idle/leased connection counts.
func (c *Client) Stats() (idle, leased int) { return c.pool.Stats() }

// UpdateAddresses replaces the pool's target-address set. Already-leased
// connections keep serving their callers; no forced termination happens.
func (c *Client) UpdateAddresses(addrs []string) { c.pool.UpdateAddresses(addrs) }

// Close closes the pool (failing every pending lease, closing every idle
// connection) and stops the shared transport.
func (c *Client) Close() error {
	err := c.pool.Close()
	if c.transport != nil {
		if tErr := c.transport.Stop(); tErr != nil && err == nil {
			err = tErr
		}
	}
	return err
}
