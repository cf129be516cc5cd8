package mac

import (
	"fmt"
	"sync"

	"github.com/backkem/ember/pkg/buffer"
	"github.com/backkem/ember/pkg/event"
	"github.com/backkem/ember/pkg/frame"
	"github.com/backkem/ember/pkg/handoff"
	"github.com/pion/logging"
	"github.com/pion/transport/v3/replaydetector"
)

// Config configures the upper MAC.
type Config struct {
	// Lower holds one radio per MAC index. Required; at most MaxMACs.
	Lower []LowerMAC

	// NetworksPerMAC is the number of networks per MAC index.
	// Defaults to 1.
	NetworksPerMAC int

	// Queue is the event queue driving the MAC. Required.
	Queue *event.Queue

	// Heap holds packets. Required.
	Heap *buffer.Heap

	// Handoff filters packets at the MAC boundary. Optional.
	Handoff *handoff.Filter

	// Random drives CSMA backoff. Defaults to DefaultRandomSource.
	Random RandomSource

	// ChildTableSize defaults to DefaultChildTableSize.
	ChildTableSize int

	// IndirectQueueSize defaults to DefaultIndirectQueueSize.
	IndirectQueueSize int

	// IndirectTimeoutMs defaults to DefaultIndirectTimeoutMs.
	IndirectTimeoutMs uint32

	// PollRxTimeoutMs defaults to DefaultPollRxTimeoutMs.
	PollRxTimeoutMs uint32

	// ReplayWindow defaults to DefaultReplayWindow.
	ReplayWindow uint

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// MAC is the upper MAC of a device.
type MAC struct {
	queue   *event.Queue
	heap    *buffer.Heap
	handoff *handoff.Filter
	backoff *BackoffCalculator
	log     logging.LeveledLogger

	macs     []*macState
	sequence uint8
	rxEvent  *event.Event

	indirectQueueSize int
	indirectTimeoutMs uint32
	pollRxTimeoutMs   uint32
	replayWindow      uint
}

// txEntry is one transmit queue slot.
type txEntry struct {
	packet   buffer.Buffer
	nwkIndex uint8
	priority Priority
	callback TxCallback
	tag      any

	isPoll    bool
	sequence  uint8
	sequenced bool

	// Indirect delivery.
	indirect     bool
	child        int
	deadline     uint32
	framePending bool
}

// network is the per-network state of a MAC index.
type network struct {
	params     RadioParameters
	configured bool
	tasks      PendingTask
	children   *ChildTable

	replay map[frame.Address]replaydetector.ReplayDetector
	recent [duplicateCacheSize]recentFrame
	next   int
}

type recentFrame struct {
	src      frame.Address
	sequence uint8
	valid    bool
}

func (n *network) handler() NetworkHandler {
	if n.params.Handler == nil {
		return BaseNetworkHandler{}
	}
	return n.params.Handler
}

// macState is the state of one MAC index.
type macState struct {
	mac   *MAC
	index uint8
	lower LowerMAC

	networks      []*network
	activeNetwork int
	paramsDirty   bool

	queue    [TxQueueSize]txEntry
	queueLen int
	inFlight txEntry
	busy     bool
	state    txState
	wire     []byte

	ccaAttempts int
	retries     int
	be          uint8

	txEvent       *event.Event
	backoffEvent  *event.Event
	txDoneEvent   *event.Event
	pollRxEvent   *event.Event
	indirectEvent *event.Event

	resultMu sync.Mutex
	result   TxResult

	opState    OperationState
	shutdownCB ShutdownFunc
	incomingCB IncomingFunc

	indirect []*txEntry

	pendingMu sync.Mutex
	pending   map[frame.Address]bool

	pollRxNetwork int
}

// New creates the upper MAC and attaches it to every lower MAC.
func New(config Config) (*MAC, error) {
	if len(config.Lower) == 0 {
		return nil, ErrNoLowerMAC
	}
	if len(config.Lower) > MaxMACs {
		return nil, ErrInvalidMAC
	}
	if config.Queue == nil {
		return nil, ErrNoQueue
	}
	if config.Heap == nil {
		return nil, ErrNoHeap
	}

	networks := config.NetworksPerMAC
	if networks == 0 {
		networks = 1
	}
	if networks < 0 || networks > MaxNetworksPerMAC {
		return nil, ErrInvalidNetwork
	}
	childTableSize := config.ChildTableSize
	if childTableSize == 0 {
		childTableSize = DefaultChildTableSize
	}

	m := &MAC{
		queue:             config.Queue,
		heap:              config.Heap,
		handoff:           config.Handoff,
		backoff:           NewBackoffCalculator(config.Random),
		indirectQueueSize: config.IndirectQueueSize,
		indirectTimeoutMs: config.IndirectTimeoutMs,
		pollRxTimeoutMs:   config.PollRxTimeoutMs,
		replayWindow:      config.ReplayWindow,
	}
	if m.indirectQueueSize == 0 {
		m.indirectQueueSize = DefaultIndirectQueueSize
	}
	if m.indirectTimeoutMs == 0 {
		m.indirectTimeoutMs = DefaultIndirectTimeoutMs
	}
	if m.pollRxTimeoutMs == 0 {
		m.pollRxTimeoutMs = DefaultPollRxTimeoutMs
	}
	if m.replayWindow == 0 {
		m.replayWindow = DefaultReplayWindow
	}
	if config.LoggerFactory != nil {
		m.log = config.LoggerFactory.NewLogger("mac")
	}

	m.rxEvent = m.queue.NewISREvent("mac-rx", m.rxHandler)

	for i, lower := range config.Lower {
		if lower == nil {
			return nil, ErrNoLowerMAC
		}
		ms := &macState{
			mac:           m,
			index:         uint8(i),
			lower:         lower,
			activeNetwork: -1,
			pollRxNetwork: -1,
			pending:       make(map[frame.Address]bool),
		}
		for n := 0; n < networks; n++ {
			ms.networks = append(ms.networks, &network{
				children: NewChildTable(m.heap, uint8(i), childTableSize),
				replay:   make(map[frame.Address]replaydetector.ReplayDetector),
			})
		}
		name := fmt.Sprintf("mac%d", i)
		ms.txEvent = m.queue.NewEvent(name+"-tx", ms.txHandler)
		ms.backoffEvent = m.queue.NewEvent(name+"-backoff", ms.backoffHandler)
		ms.txDoneEvent = m.queue.NewISREvent(name+"-tx-done", ms.txDoneHandler)
		ms.pollRxEvent = m.queue.NewEvent(name+"-poll-rx", ms.pollRxHandler)
		ms.indirectEvent = m.queue.NewEvent(name+"-indirect", ms.indirectHandler)
		ms.indirectEvent.Actions.Marker = ms.markIndirect
		m.macs = append(m.macs, ms)

		lower.Attach(uint8(i), m)
	}

	return m, nil
}

func (m *MAC) mac(macIndex uint8) (*macState, error) {
	if int(macIndex) >= len(m.macs) {
		return nil, ErrInvalidMAC
	}
	return m.macs[macIndex], nil
}

func (m *MAC) network(macIndex, nwkIndex uint8) (*macState, *network, error) {
	ms, err := m.mac(macIndex)
	if err != nil {
		return nil, nil, err
	}
	if int(nwkIndex) >= len(ms.networks) {
		return nil, nil, ErrInvalidNetwork
	}
	return ms, ms.networks[nwkIndex], nil
}

// MACCount returns the number of MAC indexes.
func (m *MAC) MACCount() int {
	return len(m.macs)
}

// NetworksPerMAC returns the number of networks per MAC index.
func (m *MAC) NetworksPerMAC() int {
	return len(m.macs[0].networks)
}

// Heap returns the packet heap.
func (m *MAC) Heap() *buffer.Heap {
	return m.heap
}

// NextSequence returns the next MAC sequence number. One counter serves
// every MAC index and network of the device.
func (m *MAC) NextSequence() uint8 {
	m.sequence++
	return m.sequence
}

// Submit queues packet, an in-memory MAC frame without PHY header, for
// transmission on a network. callback, if non-nil, receives the final
// status. A frame addressed to a sleepy child is held in the indirect queue
// until the child polls.
func (m *MAC) Submit(macIndex, nwkIndex uint8, packet buffer.Buffer, priority Priority, callback TxCallback, tag any) error {
	ms, n, err := m.network(macIndex, nwkIndex)
	if err != nil {
		return err
	}
	if packet == buffer.Null {
		return ErrNullPacket
	}
	if ms.opState != OperationActive {
		return ErrSuspended
	}

	data := m.heap.LinkedBytes(packet)
	var hdr frame.Header
	if _, err := hdr.Decode(data); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPacket, err)
	}
	if len(data)+frame.FCSSize > frame.MaxPHYPacketSize {
		return fmt.Errorf("%w: %d bytes", ErrInvalidPacket, len(data))
	}

	entry := txEntry{
		packet:   packet,
		nwkIndex: nwkIndex,
		priority: priority,
		callback: callback,
		tag:      tag,
	}
	if child := ms.sleepyChild(n, hdr.Dest); child >= 0 {
		return ms.queueIndirect(entry, child)
	}
	if ms.occupied() >= TxQueueSize {
		return ErrTxQueueFull
	}
	ms.enqueue(entry)
	ms.txEvent.SetActive()
	return nil
}

// QueuedPackets returns the number of transmit slots in use on a MAC index.
func (m *MAC) QueuedPackets(macIndex uint8) int {
	ms, err := m.mac(macIndex)
	if err != nil {
		return 0
	}
	return ms.occupied()
}

// IndirectPackets returns the number of frames waiting for sleepy children.
func (m *MAC) IndirectPackets(macIndex uint8) int {
	ms, err := m.mac(macIndex)
	if err != nil {
		return 0
	}
	return len(ms.indirect)
}

// SuspendOperation stops accepting frames on a MAC index. Frames already
// queued are sent; then, once the radio is idle, shutdown is called. Until
// ResumeOperation, received frames go to incoming instead of the network
// handler (or are dropped if incoming is nil).
func (m *MAC) SuspendOperation(macIndex uint8, shutdown ShutdownFunc, incoming IncomingFunc) error {
	ms, err := m.mac(macIndex)
	if err != nil {
		return err
	}
	if ms.opState != OperationActive {
		return ErrSuspended
	}
	ms.opState = OperationSuspending
	ms.shutdownCB = shutdown
	ms.incomingCB = incoming
	if m.log != nil {
		m.log.Infof("mac%d: suspending with %d queued frames", macIndex, ms.occupied())
	}
	ms.txEvent.SetActive()
	return nil
}

// ResumeOperation returns a suspending or suspended MAC index to normal
// operation. A shutdown callback that has not fired yet never will.
func (m *MAC) ResumeOperation(macIndex uint8) error {
	ms, err := m.mac(macIndex)
	if err != nil {
		return err
	}
	if ms.opState == OperationActive {
		return ErrNotSuspended
	}
	ms.opState = OperationActive
	ms.shutdownCB = nil
	ms.incomingCB = nil
	if m.log != nil {
		m.log.Infof("mac%d: resumed", macIndex)
	}
	ms.txEvent.SetActive()
	return nil
}

// OperationState returns the suspend state of a MAC index.
func (m *MAC) OperationState(macIndex uint8) (OperationState, error) {
	ms, err := m.mac(macIndex)
	if err != nil {
		return OperationActive, err
	}
	return ms.opState, nil
}

// RequestPoll schedules a data poll to the network's parent, either ahead of
// queued frames or, with afterSend, once the queue is empty.
func (m *MAC) RequestPoll(macIndex, nwkIndex uint8, afterSend bool) error {
	ms, n, err := m.network(macIndex, nwkIndex)
	if err != nil {
		return err
	}
	if ms.opState != OperationActive {
		return ErrSuspended
	}
	if n.params.Parent == nil {
		return ErrNoParent
	}
	if afterSend {
		n.tasks |= TaskPollAfterSend
	} else {
		n.tasks |= TaskPollBeforeSend
	}
	ms.txEvent.SetActive()
	return nil
}

// CancelPoll clears the pending polls of a network.
func (m *MAC) CancelPoll(macIndex, nwkIndex uint8) error {
	_, n, err := m.network(macIndex, nwkIndex)
	if err != nil {
		return err
	}
	n.tasks &^= TaskPollBeforeSend | TaskPollAfterSend
	return nil
}

// PendingTasks returns the pending task bits of a network.
func (m *MAC) PendingTasks(macIndex, nwkIndex uint8) PendingTask {
	_, n, err := m.network(macIndex, nwkIndex)
	if err != nil {
		return 0
	}
	return n.tasks
}

// SetNetworkRadioParameters replaces the parameters of a network. If the
// network is the one programmed into the radio, the radio is updated as soon
// as it is idle.
func (m *MAC) SetNetworkRadioParameters(macIndex, nwkIndex uint8, params RadioParameters) error {
	ms, n, err := m.network(macIndex, nwkIndex)
	if err != nil {
		return err
	}
	params.applyDefaults()
	if err := params.CSMA.Validate(); err != nil {
		return err
	}
	n.params = params
	n.configured = true

	if ms.activeNetwork < 0 || ms.activeNetwork == int(nwkIndex) {
		if ms.state == txIdle && !ms.busy {
			ms.updateLowerMACParams(int(nwkIndex))
		} else {
			ms.paramsDirty = true
		}
		if ms.paramsDirty {
			ms.txEvent.SetActive()
		}
	}
	return nil
}

// NetworkRadioParameters returns the parameters of a network.
func (m *MAC) NetworkRadioParameters(macIndex, nwkIndex uint8) (RadioParameters, error) {
	_, n, err := m.network(macIndex, nwkIndex)
	if err != nil {
		return RadioParameters{}, err
	}
	return n.params, nil
}

func (m *MAC) modifyParams(macIndex, nwkIndex uint8, fn func(p *RadioParameters)) error {
	p, err := m.NetworkRadioParameters(macIndex, nwkIndex)
	if err != nil {
		return err
	}
	fn(&p)
	return m.SetNetworkRadioParameters(macIndex, nwkIndex, p)
}

// SetChannel changes the channel of a network.
func (m *MAC) SetChannel(macIndex, nwkIndex, channel uint8) error {
	return m.modifyParams(macIndex, nwkIndex, func(p *RadioParameters) { p.Channel = channel })
}

// SetTxPower changes the transmit power of a network.
func (m *MAC) SetTxPower(macIndex, nwkIndex uint8, power int8) error {
	return m.modifyParams(macIndex, nwkIndex, func(p *RadioParameters) { p.TxPower = power })
}

// SetPANID changes the PAN ID of a network.
func (m *MAC) SetPANID(macIndex, nwkIndex uint8, panID uint16) error {
	return m.modifyParams(macIndex, nwkIndex, func(p *RadioParameters) { p.PANID = panID })
}

// SetNodeID changes the short address of a network.
func (m *MAC) SetNodeID(macIndex, nwkIndex uint8, nodeID uint16) error {
	return m.modifyParams(macIndex, nwkIndex, func(p *RadioParameters) { p.NodeID = nodeID })
}

// ActiveNetwork returns the network programmed into the radio, or -1.
func (m *MAC) ActiveNetwork(macIndex uint8) int {
	ms, err := m.mac(macIndex)
	if err != nil {
		return -1
	}
	return ms.activeNetwork
}

// ChildTable returns the child table of a network.
func (m *MAC) ChildTable(macIndex, nwkIndex uint8) (*ChildTable, error) {
	_, n, err := m.network(macIndex, nwkIndex)
	if err != nil {
		return nil, err
	}
	return n.children, nil
}

// AddChild adds or updates a child of a network and refreshes the frame
// pending state the radio acknowledges it with.
func (m *MAC) AddChild(macIndex, nwkIndex uint8, shortID uint16, longID uint64, flags ChildFlags) (int, error) {
	ms, n, err := m.network(macIndex, nwkIndex)
	if err != nil {
		return -1, err
	}
	index, err := n.children.Add(shortID, longID, flags)
	if err != nil {
		return -1, err
	}
	ms.refreshPending()
	return index, nil
}

// RemoveChild removes a child and completes its indirect frames with
// TxStatusPurged.
func (m *MAC) RemoveChild(macIndex, nwkIndex uint8, childIndex int) error {
	ms, n, err := m.network(macIndex, nwkIndex)
	if err != nil {
		return err
	}
	if err := n.children.Remove(childIndex); err != nil {
		return err
	}
	ms.purgeIndirect(nwkIndex, childIndex)
	return nil
}

// MarkBuffers marks the transmit queues, the frames in flight and the child
// tables. It is a buffer.MarkFunc. Frames waiting for a sleepy child belong
// to the indirect timeout event and are marked by Queue.MarkBuffers, so a
// reclaim must run both.
func (m *MAC) MarkBuffers(h *buffer.Heap) {
	for _, ms := range m.macs {
		for i := 0; i < ms.queueLen; i++ {
			h.Mark(&ms.queue[i].packet)
		}
		h.Mark(&ms.inFlight.packet)
		for _, n := range ms.networks {
			n.children.Mark(h)
		}
	}
}

// occupied counts queued frames plus the data frame in flight.
func (ms *macState) occupied() int {
	n := ms.queueLen
	if ms.busy && !ms.inFlight.isPoll {
		n++
	}
	return n
}

// enqueue inserts e after every frame of equal or higher priority.
func (ms *macState) enqueue(e txEntry) {
	pos := ms.queueLen
	if e.priority == PriorityHigh {
		for i := 0; i < ms.queueLen; i++ {
			if ms.queue[i].priority != PriorityHigh {
				pos = i
				break
			}
		}
	}
	ms.insertAt(pos, e)
}

func (ms *macState) insertAt(pos int, e txEntry) {
	copy(ms.queue[pos+1:ms.queueLen+1], ms.queue[pos:ms.queueLen])
	ms.queue[pos] = e
	ms.queueLen++
}

func (ms *macState) dequeue() txEntry {
	e := ms.queue[0]
	copy(ms.queue[:], ms.queue[1:ms.queueLen])
	ms.queueLen--
	ms.queue[ms.queueLen] = txEntry{}
	return e
}

// updateLowerMACParams programs network nwk into the radio. The radio is
// only touched while idle; otherwise the update is left pending.
func (ms *macState) updateLowerMACParams(nwk int) bool {
	if !ms.lower.IsIdle() {
		ms.paramsDirty = true
		return false
	}
	lp := ms.networks[nwk].params.lowerParams()
	if ms.pollRxNetwork == nwk {
		lp.RxOnWhenIdle = true
	}
	if err := ms.lower.Configure(lp); err != nil && ms.mac.log != nil {
		ms.mac.log.Errorf("mac%d: configuring network %d: %v", ms.index, nwk, err)
	}
	ms.activeNetwork = nwk
	ms.paramsDirty = false
	return true
}
