package pool

import (
	"context"

	"github.com/panjf2000/gnet/v2"

	"github.com/IceFireDB/redwire/pkg/connection"
	"github.com/IceFireDB/redwire/pkg/logging"
	"github.com/IceFireDB/redwire/pkg/metrics"
	"github.com/IceFireDB/redwire/pkg/pipeline"
)

// GnetTransport builds the shared gnet.Client and connection.EventHandler a
// pool dials through, and produces a Dialer bound to them. One Transport is
// shared by every connection a single Pool opens: one engine, many
// connections, the same way a gnet server shares its engine across
// accepted connections, turned from accept into dial.
type GnetTransport struct {
	client   *gnet.Client
	events   *connection.EventHandler
	decoder   pipeline.Decoder
	logger    logging.Logger
	metrics   metrics.Collector
	protocol  connection.Protocol
	flushMode connection.FlushMode

	creds *connection.Credentials
	db    *int
}

// NewGnetTransport starts the shared gnet.Client event loop(s). Callers
// must call Stop when the pool using it is discarded.
func NewGnetTransport(decoder pipeline.Decoder, logger logging.Logger, metricsCollector metrics.Collector, creds *connection.Credentials, db *int, protocol connection.Protocol, flushMode connection.FlushMode, opts ...gnet.Option) (*GnetTransport, error) {
	events := connection.NewEventHandler()
	client, err := gnet.NewClient(events, opts...)
	if err != nil {
		return nil, err
	}
	if err := client.Start(); err != nil {
		return nil, err
	}
	return &GnetTransport{
		client:    client,
		events:    events,
		decoder:   decoder,
		logger:    logger,
		metrics:   metricsCollector,
		protocol:  protocol,
		flushMode: flushMode,
		creds:     creds,
		db:        db,
	}, nil
}

// Dial implements Dialer: establishes the socket, registers it with the
// shared event handler, and runs the HELLO/AUTH/SELECT handshake.
func (t *GnetTransport) Dial(ctx context.Context, addr string) (*connection.Connection, error) {
	gconn, err := t.client.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	conn := connection.New(addr, t.decoder, t.logger, t.metrics)
	conn.SetProtocol(t.protocol)
	_ = conn.SetFlushMode(t.flushMode)
	t.events.Register(gconn, conn)
	conn.Attach(gconn)

	type result struct{ err error }
	done := make(chan result, 1)
	go func() { done <- result{conn.Open(t.creds, t.db)} }()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		return conn, nil
	case <-ctx.Done():
		_ = conn.Close()
		return nil, ctx.Err()
	}
}

// Stop shuts down the shared event loop. Idempotent per gnet.Client's own
// contract.
func (t *GnetTransport) Stop() error {
	return t.client.Stop()
}
