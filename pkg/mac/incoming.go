package mac

import (
	"math"

	"github.com/backkem/ember/pkg/buffer"
	"github.com/backkem/ember/pkg/event"
	"github.com/backkem/ember/pkg/frame"
	"github.com/backkem/ember/pkg/handoff"
	"github.com/pion/transport/v3/replaydetector"
)

// rxHeaderSize is the size of the prefix stored ahead of each received
// packet in the heap receive queue: mac index, RSSI, LQI.
const rxHeaderSize = 3

// ReceiveISR implements Receiver.
func (m *MAC) ReceiveISR(macIndex uint8, packet []byte, rssi int8, lqi uint8) bool {
	if int(macIndex) >= len(m.macs) || len(packet) < frame.PHYHeaderSize {
		return false
	}
	record := make([]byte, rxHeaderSize+len(packet))
	record[0] = macIndex
	record[1] = byte(rssi)
	record[2] = lqi
	copy(record[rxHeaderSize:], packet)
	if !m.heap.ReceiveFromISR(record) {
		return false
	}
	m.rxEvent.SetActive()
	return true
}

func (m *MAC) rxHandler(*event.Event) {
	for {
		b := m.heap.TakeReceived()
		if b == buffer.Null {
			return
		}
		m.receive(m.heap.Bytes(b))
	}
}

// receive runs one frame through network matching, duplicate and replay
// checks and the incoming handoff before passing it up.
func (m *MAC) receive(record []byte) {
	if len(record) < rxHeaderSize+frame.PHYHeaderSize {
		return
	}
	info := RxInfo{
		MACIndex: record[0],
		RSSI:     int8(record[1]),
		LQI:      record[2],
	}
	if int(info.MACIndex) >= len(m.macs) {
		return
	}
	ms := m.macs[info.MACIndex]
	flat := record[rxHeaderSize:]

	var hdr frame.Header
	payloadOff, err := hdr.DecodeFlat(flat, true)
	if err != nil {
		if m.log != nil {
			m.log.Debugf("mac%d: dropping malformed frame: %v", ms.index, err)
		}
		return
	}
	if hdr.Type == frame.FrameTypeAck {
		return
	}
	payload, err := frame.FlatPayload(flat, true)
	if err != nil {
		return
	}

	nwk := ms.matchNetwork(&hdr)
	if nwk < 0 {
		if !ms.passthrough(&hdr) {
			return
		}
		info.Passthrough = true
		nwk = 0
	}
	info.NetworkIndex = uint8(nwk)
	n := ms.networks[nwk]

	if !info.Passthrough {
		if n.duplicate(&hdr) {
			if m.log != nil {
				m.log.Tracef("mac%d: duplicate seq %d from %s", ms.index, hdr.Sequence, hdr.Src)
			}
			return
		}
		if hdr.SecurityEnabled && !m.checkReplay(n, &hdr) {
			if m.log != nil {
				m.log.Warnf("mac%d: replayed frame counter %d from %s", ms.index, hdr.FrameCounter, hdr.Src)
			}
			return
		}
	}

	// The stored MAC frame drops the PHY header and the FCS.
	end := frame.PHYHeaderSize + int(flat[0]) - frame.FCSSize
	packet := m.heap.AllocateFrom(flat[frame.PHYHeaderSize:end])
	if packet == buffer.Null {
		if m.log != nil {
			m.log.Warnf("mac%d: no buffer for received frame", ms.index)
		}
		return
	}
	payloadOff -= frame.PHYHeaderSize

	if ms.opState != OperationActive {
		if ms.incomingCB != nil {
			ms.incomingCB(packet, &hdr, info)
		}
		return
	}

	if !info.Passthrough && hdr.Type == frame.FrameTypeCommand &&
		len(payload) > 0 && payload[0] == frame.CommandDataRequest {
		ms.handleDataRequest(info.NetworkIndex, hdr.Src)
	}

	action := m.handoff.Incoming(m.heap, packetTypeFor(hdr.Type), &packet, info.NetworkIndex, info)
	if !action.Accepts() {
		return
	}
	if action == handoff.ActionMangle {
		if payloadOff, err = hdr.Decode(m.heap.LinkedBytes(packet)); err != nil {
			return
		}
	}

	if ms.pollRxNetwork == nwk && n.params.Parent != nil && n.params.Parent.matches(hdr.Src) {
		if hdr.FramePending {
			ms.openPollRx(nwk)
		} else {
			ms.closePollRx()
		}
	}

	n.handler().ProcessNetworkHeader(packet, &hdr, payloadOff, info)
}

// matchNetwork returns the configured network a frame is addressed to, or -1.
func (ms *macState) matchNetwork(hdr *frame.Header) int {
	for i, n := range ms.networks {
		if !n.configured {
			continue
		}
		p := &n.params
		if hdr.Dest.Mode == frame.AddrModeNone {
			if hdr.EffectiveSrcPANID() == p.PANID {
				return i
			}
			continue
		}
		if hdr.DestPANID != p.PANID && hdr.DestPANID != frame.BroadcastPANID {
			continue
		}
		switch hdr.Dest.Mode {
		case frame.AddrModeShort:
			if hdr.Dest.Short == frame.BroadcastShortID || (validNodeID(p.NodeID) && hdr.Dest.Short == p.NodeID) {
				return i
			}
		case frame.AddrModeLong:
			if hdr.Dest.Long == p.EUI64 {
				return i
			}
		}
	}
	return -1
}

// passthrough offers an unmatched frame to each network's filter.
func (ms *macState) passthrough(hdr *frame.Header) bool {
	for _, n := range ms.networks {
		if n.configured && n.handler().PassthroughFilter(ms.index, hdr) {
			return true
		}
	}
	return false
}

// duplicate reports whether the network recently accepted the same sequence
// number from the same source, and records the frame otherwise.
func (n *network) duplicate(hdr *frame.Header) bool {
	if hdr.Src.Mode == frame.AddrModeNone {
		return false
	}
	for i := range n.recent {
		r := &n.recent[i]
		if r.valid && r.src == hdr.Src {
			if r.sequence == hdr.Sequence {
				return true
			}
			r.sequence = hdr.Sequence
			return false
		}
	}
	n.recent[n.next] = recentFrame{src: hdr.Src, sequence: hdr.Sequence, valid: true}
	n.next = (n.next + 1) % len(n.recent)
	return false
}

// checkReplay runs the frame counter of a secured frame through a sliding
// window kept per source.
func (m *MAC) checkReplay(n *network, hdr *frame.Header) bool {
	if hdr.Src.Mode == frame.AddrModeNone {
		return false
	}
	d, ok := n.replay[hdr.Src]
	if !ok {
		d = replaydetector.New(m.replayWindow, math.MaxUint32)
		n.replay[hdr.Src] = d
	}
	accept, ok := d.Check(uint64(hdr.FrameCounter))
	if !ok {
		return false
	}
	accept()
	return true
}
