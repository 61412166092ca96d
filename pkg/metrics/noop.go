package metrics

import "time"

// noop discards every observation, used when the caller configures no
// metrics collector.
type noop struct{}

// NewNoop returns a Collector that discards everything.
func NewNoop() Collector { return noop{} }

func (noop) ObserveLeaseWait(time.Duration)          {}
func (noop) SetActiveConnections(addr string, n int) {}
func (noop) SetIdleConnections(addr string, n int)   {}
func (noop) IncReconnect(addr string)                {}
func (noop) IncDecodeError(kind string)              {}
