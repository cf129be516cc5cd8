// Package event implements the cooperative, single-threaded event scheduler.
//
// Events are statically allocated records linked into a Queue sorted by
// absolute deadline. Run pops and invokes every due event; handlers reschedule
// themselves or other events rather than blocking. "Waiting" is modelled as
// scheduling an event for later and cancelling it if the awaited condition
// happens first.
//
// ISR-class events (Actions.ISR) may be activated from any goroutine. They
// only accept a zero delay and live on a separate FIFO ring that is spliced
// under a mutex in constant time; Run services that ring before any
// time-sorted event.
package event

import (
	"sync"

	"github.com/pkg/errors"
)

// MaxDelayMs is the longest delay that can be scheduled. Half the tick range
// keeps deadline comparisons unambiguous across wraparound.
const MaxDelayMs uint32 = 1<<31 - 1

// Handler runs a fired event.
type Handler func(e *Event)

// Marker reports the buffers an event owns; see buffer.MarkFunc.
type Marker func(e *Event)

// Actions is the static description shared by an event's lifetime.
type Actions struct {
	// Queue is the queue the event belongs to. An event never moves queues.
	Queue *Queue

	// Handler is invoked when the event fires.
	Handler Handler

	// Marker is optional; it is invoked by Queue.MarkBuffers while the event
	// is scheduled.
	Marker Marker

	// Name is used in logs.
	Name string

	// ISR marks an event that may be activated from interrupt context
	// (any goroutine). ISR events only support zero delay.
	ISR bool
}

// Event is a schedulable callback record.
type Event struct {
	Actions *Actions

	// next links the event into its queue. nil means inactive; listEnd
	// terminates the sorted list.
	next *Event

	timeToExecute uint32

	// firedPass is the Run pass in which the event last fired.
	firedPass uint32

	// Data and DataPtr are free for the owner's use.
	Data    uint32
	DataPtr any
}

// listEnd terminates the sorted list so that a nil link always means inactive.
var listEnd = &Event{}

// String returns the event name.
func (e *Event) String() string {
	if e.Actions == nil {
		return "<unbound>"
	}
	return e.Actions.Name
}

func (e *Event) queue() *Queue {
	if e.Actions == nil || e.Actions.Queue == nil {
		panic(errors.New("event: event is not bound to a queue"))
	}
	return e.Actions.Queue
}

// SetDelayMs schedules the event to fire delay milliseconds from now.
func (e *Event) SetDelayMs(delay uint32) {
	e.queue().setDelayMs(e, delay)
}

// SetActive schedules the event to fire on the next Run.
func (e *Event) SetActive() {
	e.queue().setDelayMs(e, 0)
}

// SetInactive cancels the event. It is a no-op if the event is not scheduled.
func (e *Event) SetInactive() {
	e.queue().setInactive(e)
}

// IsScheduled reports whether the event is waiting in its queue.
func (e *Event) IsScheduled() bool {
	q := e.queue()
	if e.Actions.ISR {
		q.isrMu.Lock()
		defer q.isrMu.Unlock()
	}
	return e.next != nil
}

// RemainingMs returns the time until the event fires. The second result is
// false if the event is not scheduled.
func (e *Event) RemainingMs() (uint32, bool) {
	q := e.queue()
	if !e.IsScheduled() {
		return 0, false
	}
	if e.Actions.ISR {
		return 0, true
	}
	now := q.clock.NowMs()
	if timeGTE(now, e.timeToExecute) {
		return 0, true
	}
	return e.timeToExecute - now, true
}

// Queue is a deadline-sorted list of events plus the ISR ring.
//
// Only the goroutine calling Run may schedule or cancel ordinary events.
type Queue struct {
	clock Clock

	// events is the sorted list head, listEnd when empty.
	events *Event

	isrMu sync.Mutex
	// isrEvents is the tail of the circular ISR ring, nil when empty.
	isrEvents *Event

	running bool
	runTime uint32
	pass    uint32
	current *Event

	wakeup chan struct{}
}

// NewQueue creates an empty queue driven by clock.
func NewQueue(clock Clock) *Queue {
	if clock == nil {
		clock = NewSystemClock()
	}
	return &Queue{
		clock:  clock,
		events: listEnd,
		wakeup: make(chan struct{}, 1),
	}
}

// NewEvent creates an inactive event bound to q.
func (q *Queue) NewEvent(name string, handler Handler) *Event {
	return &Event{Actions: &Actions{Queue: q, Handler: handler, Name: name}}
}

// NewISREvent creates an inactive ISR-class event bound to q.
func (q *Queue) NewISREvent(name string, handler Handler) *Event {
	return &Event{Actions: &Actions{Queue: q, Handler: handler, Name: name, ISR: true}}
}

// Clock returns the queue's clock.
func (q *Queue) Clock() Clock {
	return q.clock
}

// Wakeup is signalled whenever an ISR event is activated, so that a run loop
// sleeping until the next deadline can service it.
func (q *Queue) Wakeup() <-chan struct{} {
	return q.wakeup
}

// Current returns the event whose handler is running, or nil.
func (q *Queue) Current() *Event {
	return q.current
}

func (q *Queue) setDelayMs(e *Event, delay uint32) {
	if e.Actions.ISR {
		if delay != 0 {
			panic(errors.Errorf("event: ISR event %q scheduled with delay %d", e.Actions.Name, delay))
		}
		q.activateISR(e)
		return
	}

	if delay > MaxDelayMs {
		delay = MaxDelayMs
	}
	now := q.clock.NowMs()
	deadline := now + delay

	// An event that already fired in this pass must not fire again in it.
	if q.running && e.firedPass == q.pass && !timeGT(deadline, q.runTime) {
		deadline = q.runTime + 1
	}

	if e.next != nil {
		if e.timeToExecute == deadline {
			return
		}
		if delay == 0 && timeGTE(now, e.timeToExecute) {
			return
		}
		q.unlink(e)
	}
	e.timeToExecute = deadline
	q.insert(e)
}

// insert places e after every event with a deadline not later than its own.
func (q *Queue) insert(e *Event) {
	link := &q.events
	for *link != listEnd && !timeGT((*link).timeToExecute, e.timeToExecute) {
		link = &(*link).next
	}
	e.next = *link
	*link = e
}

func (q *Queue) unlink(e *Event) {
	for link := &q.events; *link != listEnd; link = &(*link).next {
		if *link == e {
			*link = e.next
			e.next = nil
			return
		}
	}
	e.next = nil
}

func (q *Queue) setInactive(e *Event) {
	if !e.Actions.ISR {
		if e.next != nil {
			q.unlink(e)
		}
		return
	}

	q.isrMu.Lock()
	defer q.isrMu.Unlock()
	tail := q.isrEvents
	if e.next == nil || tail == nil {
		return
	}
	prev := tail
	for {
		cur := prev.next
		if cur == e {
			if cur == prev {
				q.isrEvents = nil
			} else {
				prev.next = cur.next
				if cur == tail {
					q.isrEvents = prev
				}
			}
			e.next = nil
			return
		}
		if cur == tail {
			return
		}
		prev = cur
	}
}

func (q *Queue) activateISR(e *Event) {
	q.isrMu.Lock()
	if e.next == nil {
		if q.isrEvents == nil {
			e.next = e
		} else {
			e.next = q.isrEvents.next
			q.isrEvents.next = e
		}
		q.isrEvents = e
	}
	q.isrMu.Unlock()

	select {
	case q.wakeup <- struct{}{}:
	default:
	}
}

func (q *Queue) takeISR() *Event {
	q.isrMu.Lock()
	defer q.isrMu.Unlock()
	tail := q.isrEvents
	if tail == nil {
		return nil
	}
	head := tail.next
	if head == tail {
		q.isrEvents = nil
	} else {
		tail.next = head.next
	}
	head.next = nil
	return head
}

// Run fires every ready event once. ISR events are ready immediately and are
// serviced first, in activation order; ordinary events are ready when their
// deadline is not after the time captured at the start of the call.
//
// Handlers may schedule events; newly due ones run in the same call.
func (q *Queue) Run() {
	q.running = true
	q.pass++
	q.runTime = q.clock.NowMs()

	var deferred []*Event
	defer func() {
		q.running = false
		q.current = nil
		for _, e := range deferred {
			q.activateISR(e)
		}
	}()

	for {
		e := q.takeISR()
		if e != nil && e.firedPass == q.pass {
			deferred = append(deferred, e)
			continue
		}
		if e == nil {
			head := q.events
			if head == listEnd || !timeGTE(q.runTime, head.timeToExecute) {
				return
			}
			q.events = head.next
			head.next = nil
			e = head
		}

		e.firedPass = q.pass
		q.current = e
		e.Actions.Handler(e)
		q.current = nil
	}
}

// MsToNextEvent returns the time until the next event is due, capped at max.
// Pending ISR events count as due now; an empty queue returns max.
func (q *Queue) MsToNextEvent(max uint32) uint32 {
	q.isrMu.Lock()
	pending := q.isrEvents != nil
	q.isrMu.Unlock()
	if pending {
		return 0
	}

	head := q.events
	if head == listEnd {
		return max
	}
	now := q.clock.NowMs()
	if timeGTE(now, head.timeToExecute) {
		return 0
	}
	if d := head.timeToExecute - now; d < max {
		return d
	}
	return max
}

// Len returns the number of scheduled events, ISR events included.
func (q *Queue) Len() int {
	n := 0
	for e := q.events; e != listEnd; e = e.next {
		n++
	}
	q.isrMu.Lock()
	defer q.isrMu.Unlock()
	if tail := q.isrEvents; tail != nil {
		for e := tail.next; ; e = e.next {
			n++
			if e == tail {
				break
			}
		}
	}
	return n
}

// MarkBuffers invokes the marker of every scheduled event. Call it from a
// buffer.MarkFunc.
func (q *Queue) MarkBuffers() {
	var scheduled []*Event
	for e := q.events; e != listEnd; e = e.next {
		scheduled = append(scheduled, e)
	}
	q.isrMu.Lock()
	if tail := q.isrEvents; tail != nil {
		for e := tail.next; ; e = e.next {
			scheduled = append(scheduled, e)
			if e == tail {
				break
			}
		}
	}
	q.isrMu.Unlock()

	for _, e := range scheduled {
		if e.Actions.Marker != nil {
			e.Actions.Marker(e)
		}
	}
}
