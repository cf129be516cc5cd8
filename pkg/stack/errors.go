package stack

import "errors"

// Errors returned by the stack package.
var (
	// ErrInvalidConfig is wrapped by every configuration validation error.
	ErrInvalidConfig = errors.New("stack: invalid configuration")

	// ErrLowerCount is returned when the number of lower MACs does not match
	// the MAC indexes used by the configured networks.
	ErrLowerCount = errors.New("stack: lower MAC count does not match configuration")

	// ErrRunning is returned by Run when the stack is already running.
	ErrRunning = errors.New("stack: already running")

	// ErrAllocation is returned when the heap cannot hold an outgoing packet.
	ErrAllocation = errors.New("stack: packet allocation failed")
)
