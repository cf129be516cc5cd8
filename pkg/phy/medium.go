// Package phy simulates 802.15.4 radios sharing an in-memory medium.
//
// A Medium joins two radios through a pion test.Bridge. Every frame on the
// medium is prefixed with the channel it was sent on, so radios tuned to
// other channels ignore it. A Radio implements mac.LowerMAC: it performs a
// simulated CCA, acknowledges unicast frames addressed to it (setting the
// frame pending bit as the upper MAC asks) and waits for acknowledgments of
// its own frames.
package phy

import (
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/pion/transport/v3/test"
)

// deliveryInterval is how often an auto-processing medium moves frames.
const deliveryInterval = time.Millisecond

// Condition configures the impairments of a Medium.
type Condition struct {
	// DropRate is the probability of losing a frame (0.0 - 1.0). A lost
	// frame that requested an acknowledgment completes with NoAck.
	DropRate float64

	// DuplicateRate is the probability of delivering a frame twice.
	DuplicateRate float64

	// CCABusyRate is the probability that a clear channel assessment finds
	// the channel busy.
	CCABusyRate float64
}

// MediumConfig configures a Medium.
type MediumConfig struct {
	// AutoProcess delivers frames from a background goroutine. Without it,
	// frames wait on the medium until Process is called.
	AutoProcess bool
}

// Medium carries frames between two radios.
type Medium struct {
	bridge *test.Bridge

	mu        sync.Mutex
	condition Condition
	bound     [2]bool
	closed    bool

	rngMu sync.Mutex
	rng   *rand.Rand

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewMedium creates a medium that delivers frames on its own.
func NewMedium() *Medium {
	return NewMediumWithConfig(MediumConfig{AutoProcess: true})
}

// NewMediumWithConfig creates a medium with the given configuration.
func NewMediumWithConfig(config MediumConfig) *Medium {
	m := &Medium{
		bridge: test.NewBridge(),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		stopCh: make(chan struct{}),
	}
	if config.AutoProcess {
		m.wg.Add(1)
		go m.deliver()
	}
	return m
}

func (m *Medium) deliver() {
	defer m.wg.Done()
	ticker := time.NewTicker(deliveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.bridge.Tick()
		}
	}
}

// SetCondition configures impairments in both directions.
func (m *Medium) SetCondition(cond Condition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.condition = cond
}

func (m *Medium) currentCondition() Condition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.condition
}

// Process delivers every queued frame and returns how many were delivered.
func (m *Medium) Process() int {
	count := 0
	for {
		n := m.bridge.Tick()
		if n == 0 {
			return count
		}
		count += n
	}
}

// Close stops delivery and closes both endpoints.
func (m *Medium) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()

	err0 := m.bridge.GetConn0().Close()
	err1 := m.bridge.GetConn1().Close()
	if err0 != nil {
		return err0
	}
	return err1
}

// bind reserves an endpoint for a radio.
func (m *Medium) bind(endpoint int) (net.Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	switch endpoint {
	case 0, 1:
	default:
		return nil, ErrInvalidEndpoint
	}
	if m.bound[endpoint] {
		return nil, ErrEndpointInUse
	}
	m.bound[endpoint] = true
	if endpoint == 0 {
		return m.bridge.GetConn0(), nil
	}
	return m.bridge.GetConn1(), nil
}

func (m *Medium) chance(p float64) bool {
	if p <= 0 {
		return false
	}
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	return m.rng.Float64() < p
}

// clearChannel performs a simulated CCA.
func (m *Medium) clearChannel() bool {
	return !m.chance(m.currentCondition().CCABusyRate)
}

// send writes a frame to conn, applying the medium's impairments.
func (m *Medium) send(conn net.Conn, data []byte) error {
	cond := m.currentCondition()
	if m.chance(cond.DropRate) {
		return nil
	}
	if m.chance(cond.DuplicateRate) {
		if _, err := conn.Write(data); err != nil {
			return err
		}
	}
	_, err := conn.Write(data)
	return err
}
