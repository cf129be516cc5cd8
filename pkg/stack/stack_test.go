package stack

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/backkem/ember/pkg/buffer"
	"github.com/backkem/ember/pkg/event"
	"github.com/backkem/ember/pkg/frame"
	"github.com/backkem/ember/pkg/mac"
	"github.com/backkem/ember/pkg/phy"
	"github.com/stretchr/testify/require"
)

type node struct {
	stack *Stack
	radio *phy.Radio

	mu       sync.Mutex
	received []Delivery
}

func (n *node) onReceive(d Delivery) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.received = append(n.received, d)
}

func (n *node) deliveries() []Delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Delivery(nil), n.received...)
}

func newNode(t *testing.T, medium *phy.Medium, endpoint int, yamlConfig string, clock event.Clock) *node {
	t.Helper()
	cfg, err := ParseConfig([]byte(yamlConfig))
	require.NoError(t, err)

	radio, err := phy.NewRadio(phy.RadioConfig{Medium: medium, Endpoint: endpoint})
	require.NoError(t, err)
	t.Cleanup(func() { _ = radio.Close() })

	n := &node{radio: radio}
	n.stack, err = New(cfg, Options{
		Lower:     []mac.LowerMAC{radio},
		Clock:     clock,
		OnReceive: n.onReceive,
	})
	require.NoError(t, err)
	return n
}

// start runs the node's event loop until the test ends.
func (n *node) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- n.stack.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-errCh)
	})
	require.Eventually(t, n.stack.running.Load, time.Second, time.Millisecond)
}

func newMedium(t *testing.T) *phy.Medium {
	t.Helper()
	medium := phy.NewMedium()
	t.Cleanup(func() { _ = medium.Close() })
	return medium
}

func TestNewRequiresLowerPerMAC(t *testing.T) {
	cfg, err := ParseConfig([]byte(coordinatorYAML))
	require.NoError(t, err)

	_, err = New(cfg, Options{})
	require.ErrorIs(t, err, ErrLowerCount)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(Config{}, Options{})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewRegistersChildren(t *testing.T) {
	medium := newMedium(t)
	n := newNode(t, medium, 0, coordinatorYAML, event.NewManualClock(0))

	table, err := n.stack.MAC().ChildTable(0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, table.Len())

	index := table.Find(0x0042)
	require.GreaterOrEqual(t, index, 0)
	entry, ok := table.Entry(index)
	require.True(t, ok)
	require.Equal(t, uint64(0x00124B0000000042), entry.LongID)
	require.False(t, entry.Info.Has(mac.ChildRxOnWhenIdle))

	params := n.radio.Params()
	require.Equal(t, uint8(15), params.Channel)
	require.Equal(t, uint16(0x1234), params.PANID)
	require.True(t, params.RxOnWhenIdle)
}

func TestPeriodicReclaim(t *testing.T) {
	medium := newMedium(t)
	clock := event.NewManualClock(0)
	n := newNode(t, medium, 0, coordinatorYAML, clock)
	s := n.stack

	for i := 0; i < 10; i++ {
		s.Heap().AllocateFrom(make([]byte, 40))
	}
	used := s.Heap().Used()

	clock.Advance(s.Config().ReclaimIntervalMs)
	s.Queue().Run()

	require.Equal(t, uint32(1), s.Heap().Generation())
	require.Less(t, s.Heap().Used(), used)

	table, err := s.MAC().ChildTable(0, 0)
	require.NoError(t, err)
	require.GreaterOrEqual(t, table.Find(0x0042), 0, "child table must survive compaction")

	rem, ok := s.reclaimEvent.RemainingMs()
	require.True(t, ok, "reclaim re-arms itself")
	require.Equal(t, s.Config().ReclaimIntervalMs, rem)
}

func TestAsyncPressureBringsReclaimForward(t *testing.T) {
	medium := newMedium(t)
	clock := event.NewManualClock(0)
	n := newNode(t, medium, 0, coordinatorYAML, clock)
	s := n.stack
	reserved := s.Heap().ReservedSpace()
	require.Equal(t, DefaultReservedBytes, reserved)

	s.relieveAsyncPressure()
	rem, ok := s.reclaimEvent.RemainingMs()
	require.True(t, ok)
	require.Equal(t, s.Config().ReclaimIntervalMs, rem)

	require.NotEqual(t, buffer.Null, s.Heap().AllocateAsync(reserved/2))
	s.relieveAsyncPressure()
	rem, ok = s.reclaimEvent.RemainingMs()
	require.True(t, ok)
	require.Zero(t, rem)

	s.Queue().Run()
	require.Equal(t, uint32(1), s.Heap().Generation())
	require.Zero(t, s.Heap().AsyncUsed())
}

func TestRunTwice(t *testing.T) {
	medium := newMedium(t)
	n := newNode(t, medium, 0, coordinatorYAML, nil)
	n.start(t)

	require.ErrorIs(t, n.stack.Run(context.Background()), ErrRunning)
}

func TestInvokeRunsOnLoop(t *testing.T) {
	medium := newMedium(t)
	n := newNode(t, medium, 0, coordinatorYAML, nil)
	n.start(t)

	done := make(chan *event.Event, 1)
	n.stack.Invoke(func() { done <- n.stack.Queue().Current() })

	select {
	case current := <-done:
		require.Equal(t, n.stack.callEvent, current)
	case <-time.After(time.Second):
		t.Fatal("Invoke did not run")
	}
}

func TestEndToEnd(t *testing.T) {
	medium := newMedium(t)
	coordinator := newNode(t, medium, 0, coordinatorYAML, nil)
	child := newNode(t, medium, 1, sleepyYAML, nil)
	coordinator.start(t)
	child.start(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Direct: the child transmits to its always-on parent.
	status, err := child.stack.Send(ctx, 0, 0x0000, []byte("up"))
	require.NoError(t, err)
	require.Equal(t, mac.TxStatusSuccess, status)

	require.Eventually(t, func() bool { return len(coordinator.deliveries()) == 1 }, time.Second, 5*time.Millisecond)
	got := coordinator.deliveries()[0]
	require.Equal(t, []byte("up"), got.Payload)
	require.Equal(t, frame.ShortAddress(0x0042), got.Source)
	require.Equal(t, 0, got.Network)

	// Indirect: the parent holds the frame until the child's next poll.
	status, err = coordinator.stack.Send(ctx, 0, 0x0042, []byte("down"))
	require.NoError(t, err)
	require.Equal(t, mac.TxStatusSuccess, status)

	require.Eventually(t, func() bool { return len(child.deliveries()) == 1 }, time.Second, 5*time.Millisecond)
	got = child.deliveries()[0]
	require.Equal(t, []byte("down"), got.Payload)
	require.Equal(t, frame.ShortAddress(0x0000), got.Source)
}

func TestShutdownAndResume(t *testing.T) {
	medium := newMedium(t)
	coordinator := newNode(t, medium, 0, coordinatorYAML, nil)
	newNode(t, medium, 1, sleepyYAML, nil) // listener for the broadcasts
	coordinator.start(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, coordinator.stack.Shutdown(ctx))

	_, err := coordinator.stack.Send(ctx, 0, 0xFFFF, []byte("x"))
	require.ErrorIs(t, err, mac.ErrSuspended)

	require.NoError(t, coordinator.stack.Resume(ctx))
	status, err := coordinator.stack.Send(ctx, 0, 0xFFFF, []byte("x"))
	require.NoError(t, err)
	require.Equal(t, mac.TxStatusSuccess, status)
}

func TestSubmitInvalidNetwork(t *testing.T) {
	medium := newMedium(t)
	n := newNode(t, medium, 0, coordinatorYAML, event.NewManualClock(0))

	require.ErrorIs(t, n.stack.Submit(1, 0x0042, nil, nil, nil), mac.ErrInvalidNetwork)
	require.ErrorIs(t, n.stack.Poll(context.Background(), -1), mac.ErrInvalidNetwork)
}

func TestBlockingCallsWithoutLoop(t *testing.T) {
	medium := newMedium(t)
	child := newNode(t, medium, 1, sleepyYAML, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.ErrorIs(t, child.stack.Poll(ctx, 0), context.DeadlineExceeded)
	require.ErrorIs(t, child.stack.Resume(ctx), context.DeadlineExceeded)
	require.ErrorIs(t, child.stack.Shutdown(ctx), context.DeadlineExceeded)
	status, err := child.stack.Send(ctx, 0, 0x0000, []byte("x"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, mac.TxStatusAborted, status)
}

func TestPollQueuesDataRequest(t *testing.T) {
	medium := newMedium(t)
	coordinator := newNode(t, medium, 0, coordinatorYAML, nil)
	child := newNode(t, medium, 1, sleepyYAML, nil)
	coordinator.start(t)
	child.start(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, child.stack.Poll(ctx, 0))
	require.ErrorIs(t, coordinator.stack.Poll(ctx, 0), mac.ErrNoParent)
}
