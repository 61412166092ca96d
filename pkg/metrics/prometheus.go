package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// promCollector is the default Collector, registering its metrics lazily
// on first construction rather than at package init, so a process that
// never builds a pool never pollutes the default registry. Connection
// gauges and counters are labeled by addr (decode errors additionally by
// kind) so a ClusterClient's per-node pools stay distinguishable in one
// registry.
type promCollector struct {
	leaseWait         prometheus.Histogram
	activeConnections *prometheus.GaugeVec
	idleConnections   *prometheus.GaugeVec
	reconnectTotal    *prometheus.CounterVec
	decodeErrorTotal  *prometheus.CounterVec
}

var (
	defaultOnce      sync.Once
	defaultCollector *promCollector
	registerMu       sync.Mutex
)

// NewPrometheusCollector builds a Collector registered on reg. Each call
// creates independent metrics, so tests that want isolation should pass a
// fresh prometheus.NewRegistry() rather than the global DefaultRegisterer.
func NewPrometheusCollector(reg prometheus.Registerer) Collector {
	c := &promCollector{
		leaseWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "redwire_pool_lease_wait_seconds",
			Help:    "Time spent waiting for a pool lease to become available.",
			Buckets: prometheus.DefBuckets,
		}),
		activeConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "redwire_pool_active_connections",
			Help: "Connections currently leased out by the pool, by target address.",
		}, []string{"addr"}),
		idleConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "redwire_pool_idle_connections",
			Help: "Connections currently idle in the pool, by target address.",
		}, []string{"addr"}),
		reconnectTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "redwire_pool_reconnect_total",
			Help: "Reconnect attempts started after an unexpected connection close, by target address.",
		}, []string{"addr"}),
		decodeErrorTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "redwire_decode_errors_total",
			Help: "Framing/protocol decode errors observed on any connection, by error kind.",
		}, []string{"kind"}),
	}
	registerMu.Lock()
	defer registerMu.Unlock()
	reg.MustRegister(c.leaseWait, c.activeConnections, c.idleConnections, c.reconnectTotal, c.decodeErrorTotal)
	return c
}

// Default returns the process-wide Collector backed by prometheus's default
// registry, built on first use.
func Default() Collector {
	defaultOnce.Do(func() {
		defaultCollector = NewPrometheusCollector(prometheus.DefaultRegisterer).(*promCollector)
	})
	return defaultCollector
}

// ResetDefault clears the lazily-built default collector so the next call
// to Default rebuilds it against a clean registry. Test-only hook for
// isolating successive test runs from the shared default registry.
func ResetDefault() {
	registerMu.Lock()
	defer registerMu.Unlock()
	if c := defaultCollector; c != nil {
		for _, m := range []prometheus.Collector{c.leaseWait, c.activeConnections, c.idleConnections, c.reconnectTotal, c.decodeErrorTotal} {
			prometheus.DefaultRegisterer.Unregister(m)
		}
	}
	defaultOnce = sync.Once{}
	defaultCollector = nil
}

func (c *promCollector) ObserveLeaseWait(d time.Duration) { c.leaseWait.Observe(d.Seconds()) }

func (c *promCollector) SetActiveConnections(addr string, n int) {
	c.activeConnections.WithLabelValues(addr).Set(float64(n))
}

func (c *promCollector) SetIdleConnections(addr string, n int) {
	c.idleConnections.WithLabelValues(addr).Set(float64(n))
}

func (c *promCollector) IncReconnect(addr string) {
	c.reconnectTotal.WithLabelValues(addr).Inc()
}

func (c *promCollector) IncDecodeError(kind string) {
	c.decodeErrorTotal.WithLabelValues(kind).Inc()
}
