package stack

import (
	"github.com/backkem/ember/pkg/buffer"
	"github.com/backkem/ember/pkg/frame"
	"github.com/backkem/ember/pkg/mac"
)

// networkHandler connects one configured network to the stack.
type networkHandler struct {
	mac.BaseNetworkHandler
	stack   *Stack
	network int
}

func (h *networkHandler) ProcessNetworkHeader(packet buffer.Buffer, header *frame.Header, payloadOffset int, info mac.RxInfo) {
	if header.Type != frame.FrameTypeData {
		return
	}
	data := h.stack.heap.LinkedBytes(packet)
	if payloadOffset > len(data) {
		return
	}
	if log := h.stack.log; log != nil {
		log.Tracef("network %d: %d bytes from %s", h.network, len(data)-payloadOffset, header.Src)
	}
	if h.stack.opts.OnReceive == nil {
		return
	}
	h.stack.opts.OnReceive(Delivery{
		Network:      h.network,
		MACIndex:     info.MACIndex,
		NetworkIndex: info.NetworkIndex,
		Source:       header.Src,
		Sequence:     header.Sequence,
		Payload:      data[payloadOffset:],
		RSSI:         info.RSSI,
		LQI:          info.LQI,
	})
}

func (h *networkHandler) PollHandler(nwkIndex uint8, childIndex int, transmitExpected bool) {
	if log := h.stack.log; log != nil {
		log.Tracef("network %d: poll from child %d, pending %v", h.network, childIndex, transmitExpected)
	}
}

func (h *networkHandler) IndirectTxComplete(nwkIndex uint8, childIndex int, status mac.TxStatus) {
	if log := h.stack.log; log != nil && status != mac.TxStatusSuccess {
		log.Debugf("network %d: indirect frame for child %d: %s", h.network, childIndex, status)
	}
}

func (h *networkHandler) PollTxComplete(nwkIndex uint8, status mac.TxStatus) {
	if log := h.stack.log; log != nil && status != mac.TxStatusSuccess {
		log.Debugf("network %d: poll failed: %s", h.network, status)
	}
}
