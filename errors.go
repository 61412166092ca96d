package redwire

import "github.com/IceFireDB/redwire/pkg/rerror"

// Error taxonomy for the redwire client runtime, as named in the
// specification's error-handling design. Callers match on these with
// errors.Is/errors.As rather than on string content. The concrete types
// live in pkg/rerror so that internal packages (pipeline, connection, pool)
// can return them without importing this root package; these are aliases
// so existing callers keep writing redwire.ConnectionClosedError etc.
type (
	ProtocolError                     = rerror.ProtocolError
	ServerError                       = rerror.ServerError
	ConnectionClosedError             = rerror.ConnectionClosedError
	AssertionError                    = rerror.AssertionError
	FailedValueConversionError        = rerror.FailedValueConversionError
	PoolClosedError                   = rerror.PoolClosedError
	TimedOutWaitingForConnectionError = rerror.TimedOutWaitingForConnectionError
	NoAvailableConnectionTargetsError = rerror.NoAvailableConnectionTargetsError
	ClusterDownError                  = rerror.ClusterDownError
)
