// Package rerror holds the client-wide error taxonomy,
// shared by every layer (codec, pipeline, connection, pool) so that lower
// packages can return these directly without importing the root package.
// The root package re-exports each type as an alias for callers matching
// with errors.As against the public redwire.* names.
package rerror

import "fmt"

// ProtocolError is returned for framing or codec violations: bytes on the
// wire did not form a valid RESP2/RESP3 token.
type ProtocolError struct {
	Kind string // e.g. "InvalidLeadingByte", "Malformed", "TooDeeplyNested"
	Msg  string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("redwire: protocol error (%s): %s", e.Kind, e.Msg)
}

// ServerError wraps a RESP simple-error or blob-error reply from the server.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "redwire: server error: " + e.Message
}

// ConnectionClosedError is returned when a command is submitted on, or its
// reply is abandoned because of, a connection that is not Ready.
type ConnectionClosedError struct {
	Reason error
}

func (e *ConnectionClosedError) Error() string {
	if e.Reason != nil {
		return "redwire: connection closed: " + e.Reason.Error()
	}
	return "redwire: connection closed"
}

func (e *ConnectionClosedError) Unwrap() error { return e.Reason }

// AssertionError signals an internal invariant violation.
type AssertionError struct {
	Detail string
}

func (e *AssertionError) Error() string { return "redwire: assertion failed: " + e.Detail }

// FailedValueConversionError is raised by typed-wrapper code (outside the
// core) when a reply value cannot be converted to the requested target type.
type FailedValueConversionError struct {
	Target string
}

func (e *FailedValueConversionError) Error() string {
	return "redwire: failed to convert reply value to " + e.Target
}

// PoolClosedError is returned by lease requests made against, or pending
// on, a pool that has been closed.
type PoolClosedError struct{}

func (e *PoolClosedError) Error() string { return "redwire: connection pool is closed" }

// TimedOutWaitingForConnectionError is returned when a lease request's
// retry_timeout elapses before a connection becomes available.
type TimedOutWaitingForConnectionError struct{}

func (e *TimedOutWaitingForConnectionError) Error() string {
	return "redwire: timed out waiting for an available connection"
}

// NoAvailableConnectionTargetsError is returned when a pool has an empty
// target-address set and cannot start a new connection.
type NoAvailableConnectionTargetsError struct{}

func (e *NoAvailableConnectionTargetsError) Error() string {
	return "redwire: no available connection targets"
}

// ClusterDownError surfaces a CLUSTERDOWN server reply to the caller
// unchanged, per the cluster-redirection contract.
type ClusterDownError struct {
	Message string
}

func (e *ClusterDownError) Error() string { return "redwire: CLUSTERDOWN: " + e.Message }
