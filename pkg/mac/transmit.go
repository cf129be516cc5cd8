package mac

import (
	"encoding/binary"

	"github.com/backkem/ember/pkg/event"
	"github.com/backkem/ember/pkg/frame"
	"github.com/backkem/ember/pkg/handoff"
)

// txHandler picks the next job for an idle transmitter.
func (ms *macState) txHandler(*event.Event) {
	if ms.state != txIdle || ms.busy || ms.opState == OperationSuspended {
		return
	}
	if ms.paramsDirty && ms.activeNetwork >= 0 && !ms.updateLowerMACParams(ms.activeNetwork) {
		ms.txEvent.SetDelayMs(lowerBusyRetryMs)
		return
	}

	nwk, poll := ms.selectTask()
	if nwk < 0 {
		if ms.opState == OperationSuspending {
			ms.checkShutdown()
		}
		return
	}
	if nwk != ms.activeNetwork && !ms.updateLowerMACParams(nwk) {
		ms.txEvent.SetDelayMs(lowerBusyRetryMs)
		return
	}

	var e txEntry
	if poll {
		n := ms.networks[nwk]
		if n.tasks&TaskPollBeforeSend != 0 {
			n.tasks &^= TaskPollBeforeSend
		} else {
			n.tasks &^= TaskPollAfterSend
		}
		e = txEntry{nwkIndex: uint8(nwk), isPoll: true}
	} else {
		e = ms.dequeue()
	}
	ms.start(e)
}

// selectTask returns the network of the next job and whether it is a poll,
// or -1 if there is nothing to do. Polls are skipped while suspending.
func (ms *macState) selectTask() (int, bool) {
	active := ms.opState == OperationActive
	if active {
		for i, n := range ms.networks {
			if n.tasks&TaskPollBeforeSend != 0 {
				return i, true
			}
		}
	}
	if ms.queueLen > 0 {
		return int(ms.queue[0].nwkIndex), false
	}
	if active {
		for i, n := range ms.networks {
			if n.tasks&TaskPollAfterSend != 0 {
				return i, true
			}
		}
	}
	return -1, false
}

func (ms *macState) checkShutdown() {
	if !ms.lower.IsIdle() {
		ms.txEvent.SetDelayMs(lowerBusyRetryMs)
		return
	}
	ms.opState = OperationSuspended
	cb := ms.shutdownCB
	ms.shutdownCB = nil
	if ms.mac.log != nil {
		ms.mac.log.Infof("mac%d: suspended", ms.index)
	}
	if cb != nil {
		cb(ms.index)
	}
}

// start makes e the frame in flight and begins CSMA.
func (ms *macState) start(e txEntry) {
	ms.inFlight = e
	ms.busy = true

	wire, status := ms.flatten(&ms.inFlight)
	if status != TxStatusSuccess {
		ms.complete(status, false)
		return
	}
	ms.wire = wire
	ms.ccaAttempts = 0
	ms.retries = 0
	ms.be = ms.csma().MinBackoffExponent
	ms.scheduleBackoff()
}

func (ms *macState) csma() CSMAParams {
	return ms.networks[ms.inFlight.nwkIndex].params.CSMA
}

// flatten builds the wire form of e: outgoing handoff, sequence number,
// frame pending bit, PrepareTransmit and PHY header.
func (ms *macState) flatten(e *txEntry) ([]byte, TxStatus) {
	m := ms.mac
	n := ms.networks[e.nwkIndex]

	var flat []byte
	if e.isPoll {
		if n.params.Parent == nil {
			return nil, TxStatusAborted
		}
		flat = ms.pollFrame(n)
	} else {
		fc, err := frame.FlatFrameControl(m.heap.LinkedBytes(e.packet), false)
		if err != nil {
			return nil, TxStatusAborted
		}
		action := m.handoff.Outgoing(m.heap, packetTypeFor(fc.Type()), &e.packet, e.nwkIndex, nil)
		if !action.Accepts() {
			return nil, TxStatusDropped
		}

		flat = m.heap.LinkedBytes(e.packet)
		if fc, err = frame.FlatFrameControl(flat, false); err != nil {
			return nil, TxStatusAborted
		}
		if len(flat) < frame.MinHeaderSize {
			return nil, TxStatusAborted
		}
		if !e.sequenced {
			e.sequence = m.NextSequence()
			e.sequenced = true
		}
		flat[frame.FlatFieldOffset(frame.FieldSequence, fc, false)] = e.sequence
		if e.framePending {
			binary.LittleEndian.PutUint16(flat, uint16(fc.WithFramePending(true)))
		}
	}

	if !n.handler().PrepareTransmit(e.nwkIndex, flat) {
		return nil, TxStatusAborted
	}
	wire, err := frame.AppendPHYHeader(flat)
	if err != nil {
		return nil, TxStatusAborted
	}
	return wire, TxStatusSuccess
}

// pollFrame builds a MAC data request command to the parent of n.
func (ms *macState) pollFrame(n *network) []byte {
	p := &n.params
	h := frame.Header{
		Type:             frame.FrameTypeCommand,
		AckRequest:       true,
		PANIDCompression: true,
		Sequence:         ms.mac.NextSequence(),
		DestPANID:        p.PANID,
		Dest:             p.Parent.address(),
		Src:              frame.LongAddress(p.EUI64),
	}
	if validNodeID(p.NodeID) {
		h.Src = frame.ShortAddress(p.NodeID)
	}
	buf := make([]byte, h.Size()+1)
	off := h.EncodeTo(buf)
	buf[off] = frame.CommandDataRequest
	return buf
}

func (ms *macState) scheduleBackoff() {
	ms.state = txBackoff
	ms.backoffEvent.SetDelayMs(ms.mac.backoff.Calculate(ms.csma(), ms.be))
}

// backoffHandler hands the frame to the radio once the backoff expires.
func (ms *macState) backoffHandler(*event.Event) {
	if ms.state != txBackoff {
		return
	}
	if !ms.lower.IsIdle() {
		ms.backoffEvent.SetDelayMs(lowerBusyRetryMs)
		return
	}
	ms.state = txWaitLower
	if err := ms.lower.Transmit(ms.wire, ms.onTxDone); err != nil {
		if ms.mac.log != nil {
			ms.mac.log.Warnf("mac%d: transmit: %v", ms.index, err)
		}
		ms.complete(TxStatusRadioError, false)
	}
}

// onTxDone runs on the radio's goroutine.
func (ms *macState) onTxDone(result TxResult) {
	ms.resultMu.Lock()
	ms.result = result
	ms.resultMu.Unlock()
	ms.txDoneEvent.SetActive()
}

func (ms *macState) txDoneHandler(*event.Event) {
	if ms.state != txWaitLower {
		return
	}
	ms.resultMu.Lock()
	result := ms.result
	ms.resultMu.Unlock()

	csma := ms.csma()
	switch result.Status {
	case TxStatusSuccess:
		ms.complete(TxStatusSuccess, result.FramePending)
	case TxStatusCCAFailure:
		ms.ccaAttempts++
		if ms.ccaAttempts >= int(csma.CCAAttemptMax) {
			ms.complete(TxStatusCCAFailure, false)
			return
		}
		ms.be = nextExponent(csma, ms.be)
		ms.scheduleBackoff()
	case TxStatusNoAck:
		ms.retries++
		if ms.retries > int(csma.MaxFrameRetries) {
			ms.complete(TxStatusNoAck, false)
			return
		}
		ms.ccaAttempts = 0
		ms.be = csma.MinBackoffExponent
		ms.scheduleBackoff()
	default:
		ms.complete(result.Status, false)
	}
}

// complete finishes the frame in flight and reports its status.
func (ms *macState) complete(status TxStatus, framePending bool) {
	e := ms.inFlight
	ms.inFlight = txEntry{}
	ms.busy = false
	ms.state = txIdle
	ms.wire = nil

	if ms.mac.log != nil {
		ms.mac.log.Debugf("mac%d: nwk %d %s frame done: %s", ms.index, e.nwkIndex, kindOf(e), status)
	}

	n := ms.networks[e.nwkIndex]
	if e.isPoll {
		n.handler().PollTxComplete(e.nwkIndex, status)
		if status == TxStatusSuccess && framePending {
			ms.openPollRx(int(e.nwkIndex))
		}
	} else {
		if e.indirect {
			n.handler().IndirectTxComplete(e.nwkIndex, e.child, status)
		}
		if e.callback != nil {
			e.callback(e.packet, status, e.tag)
		}
	}
	ms.txEvent.SetActive()
}

func kindOf(e txEntry) string {
	switch {
	case e.isPoll:
		return "poll"
	case e.indirect:
		return "indirect"
	default:
		return "data"
	}
}

// openPollRx holds the receiver on while the parent delivers pending data.
func (ms *macState) openPollRx(nwk int) {
	opened := ms.pollRxNetwork != nwk
	ms.pollRxNetwork = nwk
	ms.lower.SetRxOnWhenIdle(true)
	ms.pollRxEvent.SetDelayMs(ms.mac.pollRxTimeoutMs)
	if opened {
		ms.networks[nwk].handler().PollRx(uint8(nwk), true)
	}
}

func (ms *macState) pollRxHandler(*event.Event) {
	ms.closePollRx()
}

func (ms *macState) closePollRx() {
	nwk := ms.pollRxNetwork
	if nwk < 0 {
		return
	}
	ms.pollRxNetwork = -1
	ms.pollRxEvent.SetInactive()
	rxOn := false
	if ms.activeNetwork >= 0 {
		rxOn = ms.networks[ms.activeNetwork].params.RxOnWhenIdle
	}
	ms.lower.SetRxOnWhenIdle(rxOn)
	ms.networks[nwk].handler().PollRx(uint8(nwk), false)
}

func packetTypeFor(t frame.FrameType) handoff.PacketType {
	switch t {
	case frame.FrameTypeCommand:
		return handoff.PacketTypeMACCommand
	case frame.FrameTypeBeacon:
		return handoff.PacketTypeBeacon
	default:
		return handoff.PacketTypeRawMAC
	}
}
