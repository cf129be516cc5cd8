// Package stack assembles a node from the packet heap, the event queue and
// the upper MAC, and drives it from a single event loop goroutine.
//
// All MAC and heap state belongs to the goroutine calling Run. Other
// goroutines reach it through Invoke, Send and Shutdown, which hand work to
// the loop through an ISR-class event.
package stack

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/backkem/ember/pkg/buffer"
	"github.com/backkem/ember/pkg/event"
	"github.com/backkem/ember/pkg/frame"
	"github.com/backkem/ember/pkg/handoff"
	"github.com/backkem/ember/pkg/mac"
	"github.com/pion/logging"
	"github.com/pkg/errors"
)

// maxIdleMs bounds how long Run sleeps with nothing scheduled.
const maxIdleMs = 1000

// Options are the runtime collaborators of a Stack.
type Options struct {
	// Lower holds one radio per MAC index used by the configuration.
	// Required.
	Lower []mac.LowerMAC

	// Clock drives the event queue. Defaults to the system clock.
	Clock event.Clock

	// Random drives CSMA backoff. Optional.
	Random mac.RandomSource

	// Handoff filters packets at the MAC boundary. Optional.
	Handoff *handoff.Filter

	// OnReceive is called on the event loop for every data frame accepted
	// by a network. Optional.
	OnReceive func(d Delivery)

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Delivery is a data frame received by a network.
type Delivery struct {
	// Network is the index of the network in Config.Networks.
	Network int

	MACIndex     uint8
	NetworkIndex uint8
	Source       frame.Address
	Sequence     uint8
	Payload      []byte
	RSSI         int8
	LQI          uint8
}

// networkRef locates a configured network in the MAC.
type networkRef struct {
	macIndex  uint8
	nwkIndex  uint8
	hasParent bool
}

// Stack is a running node.
type Stack struct {
	config Config
	opts   Options
	log    logging.LeveledLogger

	heap  *buffer.Heap
	queue *event.Queue
	mac   *mac.MAC

	networks []networkRef

	reclaimEvent *event.Event
	pollEvent    *event.Event
	callEvent    *event.Event

	callMu sync.Mutex
	calls  []func()

	running atomic.Bool
}

// New builds a node. The configuration is defaulted and validated.
func New(config Config, opts Options) (*Stack, error) {
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if len(opts.Lower) != config.MACCount() {
		return nil, errors.Wrapf(ErrLowerCount, "have %d, need %d", len(opts.Lower), config.MACCount())
	}

	s := &Stack{
		config: config,
		opts:   opts,
		heap:   buffer.NewHeap(config.Heap.SizeBytes),
		queue:  event.NewQueue(opts.Clock),
	}
	if opts.LoggerFactory != nil {
		s.log = opts.LoggerFactory.NewLogger("stack")
	}
	s.heap.SetReservedSpace(config.Heap.reserved())

	m, err := mac.New(mac.Config{
		Lower:             opts.Lower,
		NetworksPerMAC:    config.networksPerMAC(),
		Queue:             s.queue,
		Heap:              s.heap,
		Handoff:           opts.Handoff,
		Random:            opts.Random,
		IndirectTimeoutMs: config.IndirectTimeoutMs,
		PollRxTimeoutMs:   config.PollRxTimeoutMs,
		LoggerFactory:     opts.LoggerFactory,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create mac")
	}
	s.mac = m

	next := make(map[uint8]uint8)
	for i := range config.Networks {
		n := &config.Networks[i]
		ref := networkRef{
			macIndex:  n.MACIndex,
			nwkIndex:  next[n.MACIndex],
			hasParent: n.Parent != nil,
		}
		next[n.MACIndex]++
		s.networks = append(s.networks, ref)

		handler := &networkHandler{stack: s, network: i}
		if err := m.SetNetworkRadioParameters(ref.macIndex, ref.nwkIndex, n.radioParameters(handler)); err != nil {
			return nil, errors.Wrapf(err, "network %d", i)
		}
		for j, ch := range n.Children {
			flags := mac.ChildFlags(0)
			if ch.RxOnWhenIdle {
				flags |= mac.ChildRxOnWhenIdle
			}
			if _, err := m.AddChild(ref.macIndex, ref.nwkIndex, ch.ShortID, ch.LongID, flags); err != nil {
				return nil, errors.Wrapf(err, "network %d child %d", i, j)
			}
		}
	}

	s.callEvent = s.queue.NewISREvent("stack-call", s.callHandler)
	s.reclaimEvent = s.queue.NewEvent("stack-reclaim", s.reclaimHandler)
	s.reclaimEvent.SetDelayMs(config.ReclaimIntervalMs)
	if config.PollIntervalMs > 0 {
		s.pollEvent = s.queue.NewEvent("stack-poll", s.pollHandler)
		s.pollEvent.SetDelayMs(config.PollIntervalMs)
	}

	return s, nil
}

// Config returns the effective configuration.
func (s *Stack) Config() Config {
	return s.config
}

// Heap returns the packet heap. Only use it on the event loop.
func (s *Stack) Heap() *buffer.Heap {
	return s.heap
}

// Queue returns the event queue. Only use it on the event loop.
func (s *Stack) Queue() *event.Queue {
	return s.queue
}

// MAC returns the upper MAC. Only use it on the event loop.
func (s *Stack) MAC() *mac.MAC {
	return s.mac
}

// Run drives the event loop until ctx is done.
func (s *Stack) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer s.running.Store(false)

	if s.log != nil {
		s.log.Infof("running %d networks on %d radios", len(s.networks), s.config.MACCount())
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		s.queue.Run()
		s.relieveAsyncPressure()

		wait := s.queue.MsToNextEvent(maxIdleMs)
		timer.Reset(time.Duration(wait) * time.Millisecond)
		select {
		case <-ctx.Done():
			if s.log != nil {
				s.log.Info("event loop stopped")
			}
			return nil
		case <-s.queue.Wakeup():
		case <-timer.C:
		}
	}
}

// Invoke runs fn on the event loop. It is safe to call from any goroutine.
func (s *Stack) Invoke(fn func()) {
	s.callMu.Lock()
	s.calls = append(s.calls, fn)
	s.callMu.Unlock()
	s.callEvent.SetActive()
}

func (s *Stack) callHandler(*event.Event) {
	s.callMu.Lock()
	calls := s.calls
	s.calls = nil
	s.callMu.Unlock()

	for _, fn := range calls {
		fn()
	}
}

// Submit queues a data frame carrying payload from a network to dest.
// callback receives the final status. Call it on the event loop.
func (s *Stack) Submit(network int, dest uint16, payload []byte, callback mac.TxCallback, tag any) error {
	if network < 0 || network >= len(s.networks) {
		return mac.ErrInvalidNetwork
	}
	ref := s.networks[network]
	params, err := s.mac.NetworkRadioParameters(ref.macIndex, ref.nwkIndex)
	if err != nil {
		return err
	}

	hdr := frame.Header{
		Type:             frame.FrameTypeData,
		AckRequest:       dest != frame.BroadcastShortID,
		PANIDCompression: true,
		DestPANID:        params.PANID,
		Dest:             frame.ShortAddress(dest),
		Src:              frame.ShortAddress(params.NodeID),
	}
	packet := s.heap.AllocateFrom(append(hdr.Encode(), payload...))
	if packet == buffer.Null {
		return ErrAllocation
	}
	return s.mac.Submit(ref.macIndex, ref.nwkIndex, packet, mac.PriorityNormal, callback, tag)
}

// Send submits a data frame from any goroutine and waits for its final
// status. A frame for a sleepy child completes when the child polls.
func (s *Stack) Send(ctx context.Context, network int, dest uint16, payload []byte) (mac.TxStatus, error) {
	type result struct {
		status mac.TxStatus
		err    error
	}
	done := make(chan result, 1)
	s.Invoke(func() {
		err := s.Submit(network, dest, payload, func(_ buffer.Buffer, status mac.TxStatus, _ any) {
			done <- result{status: status}
		}, nil)
		if err != nil {
			done <- result{err: err}
		}
	})

	select {
	case r := <-done:
		return r.status, r.err
	case <-ctx.Done():
		return mac.TxStatusAborted, ctx.Err()
	}
}

// Poll asks the parent of a network for pending data. It returns once the
// poll is queued, or with ctx's error if the event loop does not get to it.
func (s *Stack) Poll(ctx context.Context, network int) error {
	if network < 0 || network >= len(s.networks) {
		return mac.ErrInvalidNetwork
	}
	ref := s.networks[network]
	done := make(chan error, 1)
	s.Invoke(func() {
		done <- s.mac.RequestPoll(ref.macIndex, ref.nwkIndex, false)
	})
	return awaitLoop(ctx, done)
}

// Shutdown suspends every MAC index and waits until queued frames are sent
// and the radios are idle.
func (s *Stack) Shutdown(ctx context.Context) error {
	count := s.config.MACCount()
	done := make(chan error, count)
	s.Invoke(func() {
		for i := 0; i < count; i++ {
			err := s.mac.SuspendOperation(uint8(i), func(uint8) { done <- nil }, nil)
			if err != nil {
				done <- errors.Wrapf(err, "suspend mac %d", i)
			}
		}
	})

	for i := 0; i < count; i++ {
		select {
		case err := <-done:
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Resume returns suspended MAC indexes to normal operation.
func (s *Stack) Resume(ctx context.Context) error {
	done := make(chan error, 1)
	s.Invoke(func() {
		var firstErr error
		for i := 0; i < s.config.MACCount(); i++ {
			if err := s.mac.ResumeOperation(uint8(i)); err != nil && firstErr == nil {
				firstErr = errors.Wrapf(err, "resume mac %d", i)
			}
		}
		done <- firstErr
	})
	return awaitLoop(ctx, done)
}

func awaitLoop(ctx context.Context, done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Stack) reclaimHandler(e *event.Event) {
	freed := s.heap.Reclaim(nil, s.mac.MarkBuffers, s.markEvents)
	if s.log != nil && freed > 0 {
		s.log.Tracef("reclaimed %d bytes, %d free", freed, s.heap.Free())
	}
	e.SetDelayMs(s.config.ReclaimIntervalMs)
}

// relieveAsyncPressure brings the next reclaim forward once received frames
// fill half of the reserved partition. Asynchronous space is only recovered
// by compaction.
func (s *Stack) relieveAsyncPressure() {
	reserved := s.heap.ReservedSpace()
	if reserved == 0 || s.heap.AsyncUsed() <= reserved/2 {
		return
	}
	if rem, ok := s.reclaimEvent.RemainingMs(); ok && rem == 0 {
		return
	}
	s.reclaimEvent.SetDelayMs(0)
}

func (s *Stack) markEvents(*buffer.Heap) {
	s.queue.MarkBuffers()
}

func (s *Stack) pollHandler(e *event.Event) {
	for i, ref := range s.networks {
		if !ref.hasParent {
			continue
		}
		if err := s.mac.RequestPoll(ref.macIndex, ref.nwkIndex, false); err != nil && s.log != nil {
			s.log.Debugf("network %d: poll skipped: %v", i, err)
		}
	}
	e.SetDelayMs(s.config.PollIntervalMs)
}
