package mac

import (
	"github.com/backkem/ember/pkg/buffer"
	"github.com/backkem/ember/pkg/frame"
)

// TxCallback reports the final status of a submitted packet.
type TxCallback func(packet buffer.Buffer, status TxStatus, tag any)

// ShutdownFunc is called once a suspending MAC has drained.
type ShutdownFunc func(macIndex uint8)

// IncomingFunc receives frames while a MAC is suspending or suspended.
type IncomingFunc func(packet buffer.Buffer, header *frame.Header, info RxInfo)

// NetworkHandler is the network layer seam of one network. Every method is
// called on the event loop goroutine.
type NetworkHandler interface {
	// PrepareTransmit may edit the flattened frame (without PHY header) just
	// before it goes to the radio. Returning false aborts the frame.
	PrepareTransmit(nwkIndex uint8, packet []byte) bool

	// PassthroughFilter claims a frame that matched no network.
	PassthroughFilter(macIndex uint8, header *frame.Header) bool

	// PollHandler is told about a data request from a child.
	PollHandler(nwkIndex uint8, childIndex int, transmitExpected bool)

	// IndirectTxComplete reports the fate of a frame for a sleepy child.
	IndirectTxComplete(nwkIndex uint8, childIndex int, status TxStatus)

	// MakeJITMessage may submit a frame for a child that polled with nothing
	// queued. Returns true if it did.
	MakeJITMessage(nwkIndex uint8, childIndex int) bool

	// ProcessNetworkHeader receives an accepted frame. packet holds the MAC
	// frame without PHY header; payloadOffset locates the MAC payload.
	ProcessNetworkHeader(packet buffer.Buffer, header *frame.Header, payloadOffset int, info RxInfo)

	// PollTxComplete reports the result of a data poll.
	PollTxComplete(nwkIndex uint8, status TxStatus)

	// PollRx reports the receiver being held on after a poll (true) and
	// released again (false).
	PollRx(nwkIndex uint8, receiving bool)
}

// BaseNetworkHandler accepts every transmission and ignores every
// notification. Embed it to implement only some methods.
type BaseNetworkHandler struct{}

func (BaseNetworkHandler) PrepareTransmit(uint8, []byte) bool { return true }

func (BaseNetworkHandler) PassthroughFilter(uint8, *frame.Header) bool { return false }

func (BaseNetworkHandler) PollHandler(uint8, int, bool) {}

func (BaseNetworkHandler) IndirectTxComplete(uint8, int, TxStatus) {}

func (BaseNetworkHandler) MakeJITMessage(uint8, int) bool { return false }

func (BaseNetworkHandler) ProcessNetworkHeader(buffer.Buffer, *frame.Header, int, RxInfo) {}

func (BaseNetworkHandler) PollTxComplete(uint8, TxStatus) {}

func (BaseNetworkHandler) PollRx(uint8, bool) {}

var _ NetworkHandler = BaseNetworkHandler{}
