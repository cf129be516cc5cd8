package mac

import "github.com/backkem/ember/pkg/frame"

// LowerParams is what the upper MAC programs into a radio when it switches
// networks or a network's parameters change.
type LowerParams struct {
	Channel      uint8
	TxPower      int8
	PANID        uint16
	NodeID       uint16
	EUI64        uint64
	RxOnWhenIdle bool
}

// TxResult is the outcome of a single lower MAC transmit attempt.
type TxResult struct {
	// Status is TxStatusSuccess, TxStatusCCAFailure or TxStatusNoAck.
	Status TxStatus

	// FramePending is the frame pending bit of the acknowledgment.
	FramePending bool
}

// TxDoneFunc receives a transmit result. It may be called from any
// goroutine.
type TxDoneFunc func(result TxResult)

// LowerMAC is the radio driver beneath one MAC index.
type LowerMAC interface {
	// Attach registers the receiver for frames heard by the radio.
	Attach(macIndex uint8, r Receiver)

	// IsIdle reports whether the radio is neither transmitting nor in the
	// middle of receiving a frame.
	IsIdle() bool

	// Configure programs the radio. Only called while IsIdle is true.
	Configure(params LowerParams) error

	// SetRxOnWhenIdle turns the idle receiver on or off.
	SetRxOnWhenIdle(on bool)

	// Transmit performs one CCA and, if the channel is clear, sends packet,
	// a flat frame with PHY header. done is called exactly once unless an
	// error is returned.
	Transmit(packet []byte, done TxDoneFunc) error
}

// Receiver is the upper MAC side of a LowerMAC. Both methods are safe to
// call from any goroutine.
type Receiver interface {
	// ReceiveISR queues a flat frame with PHY header for the receive path.
	// Returns false if no buffer could hold it.
	ReceiveISR(macIndex uint8, packet []byte, rssi int8, lqi uint8) bool

	// FramePendingFor reports whether an acknowledgment to src should carry
	// the frame pending bit.
	FramePendingFor(macIndex uint8, src frame.Address) bool
}

// RxInfo describes a received frame.
type RxInfo struct {
	MACIndex     uint8
	NetworkIndex uint8
	RSSI         int8
	LQI          uint8

	// Passthrough is set when no network matched the frame and a
	// PassthroughFilter claimed it.
	Passthrough bool
}
