package redwire

import (
	"crypto/tls"
	"time"

	"github.com/panjf2000/gnet/v2"

	"github.com/IceFireDB/redwire/pkg/connection"
	"github.com/IceFireDB/redwire/pkg/logging"
	"github.com/IceFireDB/redwire/pkg/metrics"
	"github.com/IceFireDB/redwire/pkg/pool"
)

// Credentials is the optional AUTH payload. Username is empty for the
// single-argument AUTH form accepted by servers older than the
// ACL-username syntax.
type Credentials = connection.Credentials

// CapacityMode selects how the pool bounds its size; build one with
// StrictMax or PreservedMax.
type CapacityMode = pool.CapacityMode

// StrictMax caps active connections (leased + idle + connecting) at n.
func StrictMax(n int) CapacityMode { return pool.StrictMax(n) }

// PreservedMax caps only idle connections at n; transient connections
// beyond n may still be opened to satisfy load, and are closed instead of
// going idle when returned.
func PreservedMax(n int) CapacityMode { return pool.PreservedMax(n) }

// Protocol selects which RESP wire protocol a Client negotiates with every
// connection it dials.
type Protocol = connection.Protocol

const (
	// RESP2 is the default: no negotiation, replies decode through pkg/resp.
	RESP2 = connection.RESP2
	// RESP3 sends HELLO 3 (folding in Credentials as its AUTH clause)
	// during every connection's handshake and decodes replies, including
	// the handshake's own, through pkg/resp3 instead.
	RESP3 = connection.RESP3
)

// FlushMode selects when a connection's outbound command bytes reach the
// transport.
type FlushMode = connection.FlushMode

const (
	// FlushPerCommand sends every command immediately (the default).
	FlushPerCommand = connection.FlushPerCommand
	// ManualFlush buffers commands until the caller calls Flush explicitly
	// on the leased Conn — for batching several commands onto one
	// transport write. Only meaningful for a manually managed Lease;
	// Do/DoSequence always flush per command regardless of this setting,
	// since they return before a caller could call Flush themselves.
	ManualFlush = connection.ManualFlush
)

// Transport selects how a Client dials its servers. The zero value dials
// plain TCP through a shared gnet.Client. Setting TLS switches every dial
// in the Client (or, for a ClusterClient, every node) to crypto/tls.
type Transport struct {
	TLS      *tls.Config
	GnetOpts []gnet.Option
}

// Config is redwire's full configuration surface: seed addresses, pool
// sizing and reconnect pacing, the handshake credentials, transport
// selection, and the observability collaborators.
type Config struct {
	// InitialAddresses seeds the pool's target-address set. Required,
	// non-empty.
	InitialAddresses []string

	// MinimumConnections is the floor the pool tries to keep open even
	// when idle.
	MinimumConnections int

	// Capacity selects StrictMax or PreservedMax sizing. Zero value is
	// PreservedMax(0), which never keeps a returned connection idle and is
	// almost certainly not what a caller wants — always set this explicitly.
	Capacity CapacityMode

	InitialBackoff time.Duration
	BackoffFactor  float64
	RetryTimeout   time.Duration

	// Credentials, if non-nil, is sent as AUTH during every connection's
	// handshake.
	Credentials *Credentials

	// InitialDatabase, if non-nil, is sent as SELECT during every
	// connection's handshake.
	InitialDatabase *int

	// Protocol selects RESP2 (the default) or RESP3 negotiation.
	Protocol Protocol

	// FlushMode selects FlushPerCommand (the default) or ManualFlush for
	// every connection dialed by this Client.
	FlushMode FlushMode

	Transport Transport

	// OnUnexpectedClose is invoked when a connection closes without a
	// client-initiated QUIT.
	OnUnexpectedClose func(addr string, err error)

	Logger  logging.Logger
	Metrics metrics.Collector

	// MaxConcurrentDials bounds how many dial attempts the pool runs at
	// once. Zero picks the pool package's default.
	MaxConcurrentDials int
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = logging.NewNoop()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NewNoop()
	}
	return c
}

func (c Config) toPoolConfig(dial pool.Dialer) pool.Config {
	return pool.Config{
		Addresses:          c.InitialAddresses,
		MinimumConnections: c.MinimumConnections,
		Capacity:           c.Capacity,
		InitialBackoff:     c.InitialBackoff,
		BackoffFactor:      c.BackoffFactor,
		RetryTimeout:       c.RetryTimeout,
		OnUnexpectedClose:  c.OnUnexpectedClose,
		Logger:             c.Logger,
		Metrics:            c.Metrics,
		Dial:               dial,
		MaxConcurrentDials: c.MaxConcurrentDials,
	}
}
