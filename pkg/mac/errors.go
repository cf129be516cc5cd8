package mac

import "errors"

// Errors returned by the mac package.
var (
	// ErrTxQueueFull is returned by Submit when every transmit slot is used.
	ErrTxQueueFull = errors.New("mac: transmit queue full")

	// ErrInvalidMAC is returned for an out-of-range MAC index.
	ErrInvalidMAC = errors.New("mac: invalid MAC index")

	// ErrInvalidNetwork is returned for an out-of-range network index.
	ErrInvalidNetwork = errors.New("mac: invalid network index")

	// ErrSuspended is returned when the MAC is suspending or suspended.
	ErrSuspended = errors.New("mac: operation suspended")

	// ErrNotSuspended is returned by ResumeOperation on an active MAC.
	ErrNotSuspended = errors.New("mac: operation not suspended")

	// ErrNoParent is returned when polling a network without a parent.
	ErrNoParent = errors.New("mac: network has no parent")

	// ErrNullPacket is returned when submitting a Null buffer.
	ErrNullPacket = errors.New("mac: null packet")

	// ErrInvalidPacket is returned when a packet has no valid MAC header or
	// does not fit a PHY frame.
	ErrInvalidPacket = errors.New("mac: invalid packet")

	// ErrIndirectQueueFull is returned when no indirect slot is free.
	ErrIndirectQueueFull = errors.New("mac: indirect queue full")

	// ErrChildTableFull is returned when adding to a full child table.
	ErrChildTableFull = errors.New("mac: child table full")

	// ErrChildNotFound is returned for an empty child table index.
	ErrChildNotFound = errors.New("mac: child not found")

	// ErrChildEntrySize is returned when decoding a malformed child entry.
	ErrChildEntrySize = errors.New("mac: invalid child entry size")

	// ErrInvalidCSMA is returned for inconsistent CSMA parameters.
	ErrInvalidCSMA = errors.New("mac: invalid CSMA parameters")

	// ErrNoLowerMAC is returned by New without a lower MAC per index.
	ErrNoLowerMAC = errors.New("mac: lower MAC required")

	// ErrNoQueue is returned by New without an event queue.
	ErrNoQueue = errors.New("mac: event queue required")

	// ErrNoHeap is returned by New without a buffer heap.
	ErrNoHeap = errors.New("mac: buffer heap required")
)
