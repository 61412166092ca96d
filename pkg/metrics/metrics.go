// Package metrics defines the metrics collaborator interface, a no-op
// implementation, and a prometheus-backed process-wide Default that is
// built lazily on first use and can be cleared with the ResetDefault test
// hook.
package metrics

import "time"

// Collector is the observability surface every pool/connection accepts
// instead of reaching for a global registry directly. Gauges and counters
// are labeled by addr (and, for decode errors, kind) so a ClusterClient's
// many per-node pools stay distinguishable in one registry.
type Collector interface {
	ObserveLeaseWait(d time.Duration)
	SetActiveConnections(addr string, n int)
	SetIdleConnections(addr string, n int)
	IncReconnect(addr string)
	IncDecodeError(kind string)
}
