package pool

import (
	"context"
	"crypto/tls"

	"github.com/IceFireDB/redwire/pkg/connection"
	"github.com/IceFireDB/redwire/pkg/logging"
	"github.com/IceFireDB/redwire/pkg/metrics"
	"github.com/IceFireDB/redwire/pkg/pipeline"
	"github.com/IceFireDB/redwire/pkg/rerror"
)

// TLSTransport dials through crypto/tls instead of gnet.Client: gnet v2's
// non-blocking Conn model has no TLS support, so a TLS target gets a
// blocking tls.Conn and a dedicated read pump instead of the shared event
// loop.
type TLSTransport struct {
	config   *tls.Config
	decoder   pipeline.Decoder
	logger    logging.Logger
	metrics   metrics.Collector
	protocol  connection.Protocol
	flushMode connection.FlushMode

	creds *connection.Credentials
	db    *int
}

// NewTLSTransport builds a Dialer for a TLS-protected target. cfg is
// cloned per dial by crypto/tls itself; pass nil to use Go's default
// verification policy against the dialed address's hostname.
func NewTLSTransport(cfg *tls.Config, decoder pipeline.Decoder, logger logging.Logger, metricsCollector metrics.Collector, creds *connection.Credentials, db *int, protocol connection.Protocol, flushMode connection.FlushMode) *TLSTransport {
	return &TLSTransport{
		config:    cfg,
		decoder:   decoder,
		logger:    logger,
		metrics:   metricsCollector,
		protocol:  protocol,
		flushMode: flushMode,
		creds:     creds,
		db:        db,
	}
}

// Dial implements Dialer.
func (t *TLSTransport) Dial(ctx context.Context, addr string) (*connection.Connection, error) {
	d := tls.Dialer{Config: t.config}
	rawConn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	tlsConn, ok := rawConn.(*tls.Conn)
	if !ok {
		return nil, &rerror.AssertionError{Detail: "tls.Dialer.DialContext did not return a *tls.Conn"}
	}
	if tcErr := tuneTCP(tlsConn.NetConn()); tcErr != nil && t.logger != nil {
		t.logger.Warn("TCP_NODELAY tuning failed", logging.String("addr", addr), logging.String("error", tcErr.Error()))
	}

	conn := connection.New(addr, t.decoder, t.logger, t.metrics)
	conn.SetProtocol(t.protocol)
	_ = conn.SetFlushMode(t.flushMode)
	conn.AttachRaw(tlsConn)

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
