package bridge

import "errors"

// Sentinel errors for bridge operations.
var (
	// ErrInvalidRequest indicates a control request named an unknown
	// device or an unsupported action.
	ErrInvalidRequest = errors.New("bridge: invalid request")

	// ErrNotRunning indicates an operation was attempted before Start or
	// after Stop.
	ErrNotRunning = errors.New("bridge: not running")

	// ErrAlreadyRunning indicates Start was called twice without a Stop.
	ErrAlreadyRunning = errors.New("bridge: already running")
)
