package mac

import (
	"github.com/backkem/ember/pkg/event"
	"github.com/backkem/ember/pkg/frame"
)

// sleepyChild returns the index of the child dest refers to when that child
// needs indirect delivery, or -1.
func (ms *macState) sleepyChild(n *network, dest frame.Address) int {
	if dest.Mode == frame.AddrModeNone || dest.IsBroadcast() {
		return -1
	}
	i := n.children.FindAddress(dest)
	if i < 0 || n.children.HasFlags(i, ChildRxOnWhenIdle) {
		return -1
	}
	return i
}

func (ms *macState) queueIndirect(e txEntry, child int) error {
	if len(ms.indirect) >= ms.mac.indirectQueueSize {
		return ErrIndirectQueueFull
	}
	e.indirect = true
	e.child = child
	e.deadline = ms.mac.queue.Clock().NowMs() + ms.mac.indirectTimeoutMs
	ms.indirect = append(ms.indirect, &e)
	ms.refreshPending()
	ms.scheduleIndirectTimeout()
	return nil
}

func (ms *macState) hasIndirectFor(nwk uint8, child int) bool {
	for _, e := range ms.indirect {
		if e.nwkIndex == nwk && e.child == child {
			return true
		}
	}
	return false
}

// deliverIndirect moves the oldest frame for a polling child to the front of
// the transmit queue. Returns false if there is none or no slot is free.
func (ms *macState) deliverIndirect(nwk uint8, child int) bool {
	if ms.occupied() >= TxQueueSize {
		return false
	}
	for i, e := range ms.indirect {
		if e.nwkIndex != nwk || e.child != child {
			continue
		}
		ms.indirect = append(ms.indirect[:i], ms.indirect[i+1:]...)
		e.framePending = ms.hasIndirectFor(nwk, child)
		e.priority = PriorityHigh
		ms.insertAt(0, *e)
		ms.refreshPending()
		ms.scheduleIndirectTimeout()
		ms.txEvent.SetActive()
		return true
	}
	return false
}

// handleDataRequest answers a poll from a child.
func (ms *macState) handleDataRequest(nwk uint8, src frame.Address) {
	n := ms.networks[nwk]
	child := n.children.FindAddress(src)
	if child < 0 {
		return
	}
	handler := n.handler()
	handler.PollHandler(nwk, child, ms.hasIndirectFor(nwk, child))
	if ms.deliverIndirect(nwk, child) {
		return
	}
	if handler.MakeJITMessage(nwk, child) {
		ms.deliverIndirect(nwk, child)
	}
}

// indirectHandler expires frames whose child never polled.
func (ms *macState) indirectHandler(*event.Event) {
	now := ms.mac.queue.Clock().NowMs()
	var expired []*txEntry
	remaining := ms.indirect[:0:0]
	for _, e := range ms.indirect {
		if int32(now-e.deadline) >= 0 {
			expired = append(expired, e)
		} else {
			remaining = append(remaining, e)
		}
	}
	ms.indirect = remaining
	ms.refreshPending()
	ms.scheduleIndirectTimeout()

	for _, e := range expired {
		ms.finishIndirect(e, TxStatusIndirectTimeout)
	}
}

func (ms *macState) purgeIndirect(nwk uint8, child int) {
	var purged []*txEntry
	remaining := ms.indirect[:0:0]
	for _, e := range ms.indirect {
		if e.nwkIndex == nwk && e.child == child {
			purged = append(purged, e)
		} else {
			remaining = append(remaining, e)
		}
	}
	ms.indirect = remaining
	ms.refreshPending()
	ms.scheduleIndirectTimeout()

	for _, e := range purged {
		ms.finishIndirect(e, TxStatusPurged)
	}
}

func (ms *macState) finishIndirect(e *txEntry, status TxStatus) {
	if ms.mac.log != nil {
		ms.mac.log.Debugf("mac%d: indirect frame for child %d: %s", ms.index, e.child, status)
	}
	ms.networks[e.nwkIndex].handler().IndirectTxComplete(e.nwkIndex, e.child, status)
	if e.callback != nil {
		e.callback(e.packet, status, e.tag)
	}
}

// markIndirect is the indirect event's marker. The event is scheduled
// exactly while frames are waiting.
func (ms *macState) markIndirect(*event.Event) {
	for _, e := range ms.indirect {
		ms.mac.heap.Mark(&e.packet)
	}
}

func (ms *macState) scheduleIndirectTimeout() {
	if len(ms.indirect) == 0 {
		ms.indirectEvent.SetInactive()
		return
	}
	now := ms.mac.queue.Clock().NowMs()
	earliest := ms.indirect[0].deadline
	for _, e := range ms.indirect[1:] {
		if int32(e.deadline-earliest) < 0 {
			earliest = e.deadline
		}
	}
	var delay uint32
	if int32(earliest-now) > 0 {
		delay = earliest - now
	}
	ms.indirectEvent.SetDelayMs(delay)
}

// refreshPending recomputes which children have data waiting, both in the
// child tables and in the set consulted by the radio when acknowledging.
func (ms *macState) refreshPending() {
	pending := make(map[frame.Address]bool)
	for nwk, n := range ms.networks {
		n.children.ForEach(func(i int, c ChildEntry) bool {
			has := ms.hasIndirectFor(uint8(nwk), i)
			if has {
				n.children.SetFlags(i, ChildPendingMessage)
			} else {
				n.children.ClearFlags(i, ChildPendingMessage)
			}
			if has || c.Info.Has(ChildJITExpected) {
				if validNodeID(c.ShortID) {
					pending[frame.ShortAddress(c.ShortID)] = true
				}
				if c.LongID != 0 {
					pending[frame.LongAddress(c.LongID)] = true
				}
			}
			return true
		})
	}

	ms.pendingMu.Lock()
	ms.pending = pending
	ms.pendingMu.Unlock()
}

// FramePendingFor implements Receiver.
func (m *MAC) FramePendingFor(macIndex uint8, src frame.Address) bool {
	if int(macIndex) >= len(m.macs) {
		return false
	}
	ms := m.macs[macIndex]
	ms.pendingMu.Lock()
	defer ms.pendingMu.Unlock()
	return ms.pending[src]
}
