package bus

import "errors"

// Domain-specific errors for bus operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when a publish is attempted while the
	// connection is not in the Connected state. The caller decides whether
	// to drop or report; the connection never queues or retries.
	ErrNotConnected = errors.New("bus: not connected")

	// ErrConnectFailed is returned when a connection attempt fails.
	ErrConnectFailed = errors.New("bus: connect failed")

	// ErrPublishFailed is returned when a publish operation fails in transit.
	ErrPublishFailed = errors.New("bus: publish failed")

	// ErrMaxReconnectExceeded is reported through the disconnect callback
	// when the configured maximum of consecutive failed connection attempts
	// is reached. The connection stops retrying; restarting is the
	// supervisor's decision.
	ErrMaxReconnectExceeded = errors.New("bus: max reconnect attempts exceeded")

	// ErrShuttingDown is returned for operations issued after Disconnect.
	ErrShuttingDown = errors.New("bus: shutting down")

	// ErrInvalidTopic is returned when an empty topic is provided.
	ErrInvalidTopic = errors.New("bus: topic cannot be empty")
)
