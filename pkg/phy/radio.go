package phy

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/backkem/ember/pkg/frame"
	"github.com/backkem/ember/pkg/mac"
	"github.com/pion/logging"
)

const (
	// MinChannel and MaxChannel bound the 2.4 GHz 802.15.4 channels.
	MinChannel = 11
	MaxChannel = 26

	// DefaultAckTimeout is how long a transmitter waits for an
	// acknowledgment.
	DefaultAckTimeout = 50 * time.Millisecond

	// DefaultRSSI is reported for every received frame.
	DefaultRSSI int8 = -50

	// DefaultLQI is reported for every received frame.
	DefaultLQI uint8 = 255

	// channelPrefixSize is the channel byte ahead of every frame on the
	// medium.
	channelPrefixSize = 1

	maxMediumFrame = channelPrefixSize + frame.PHYHeaderSize + frame.MaxPHYPacketSize
)

// RadioConfig configures a Radio.
type RadioConfig struct {
	// Medium carries the radio's frames. Required.
	Medium *Medium

	// Endpoint is the medium side the radio is attached to, 0 or 1.
	Endpoint int

	// AckTimeout defaults to DefaultAckTimeout.
	AckTimeout time.Duration

	// RSSI defaults to DefaultRSSI.
	RSSI int8

	// LQI defaults to DefaultLQI.
	LQI uint8

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Radio is a simulated lower MAC.
type Radio struct {
	medium     *Medium
	conn       net.Conn
	ackTimeout time.Duration
	rssi       int8
	lqi        uint8
	log        logging.LeveledLogger

	mu           sync.Mutex
	macIndex     uint8
	receiver     mac.Receiver
	params       mac.LowerParams
	rxOn         bool
	transmitting bool
	awaitingAck  bool
	ackSequence  uint8
	ackCh        chan bool
	closed       bool

	closeCh chan struct{}
	wg      sync.WaitGroup
}

// NewRadio binds a radio to one side of a medium and starts its receive
// loop.
func NewRadio(config RadioConfig) (*Radio, error) {
	if config.Medium == nil {
		return nil, ErrNoMedium
	}
	conn, err := config.Medium.bind(config.Endpoint)
	if err != nil {
		return nil, err
	}

	r := &Radio{
		medium:     config.Medium,
		conn:       conn,
		ackTimeout: config.AckTimeout,
		rssi:       config.RSSI,
		lqi:        config.LQI,
		ackCh:      make(chan bool, 1),
		closeCh:    make(chan struct{}),
	}
	if r.ackTimeout == 0 {
		r.ackTimeout = DefaultAckTimeout
	}
	if r.rssi == 0 {
		r.rssi = DefaultRSSI
	}
	if r.lqi == 0 {
		r.lqi = DefaultLQI
	}
	if config.LoggerFactory != nil {
		r.log = config.LoggerFactory.NewLogger("phy")
	}

	r.wg.Add(1)
	go r.readLoop()
	return r, nil
}

// Attach implements mac.LowerMAC.
func (r *Radio) Attach(macIndex uint8, rcv mac.Receiver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.macIndex = macIndex
	r.receiver = rcv
}

// IsIdle implements mac.LowerMAC.
func (r *Radio) IsIdle() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.transmitting
}

// Configure implements mac.LowerMAC.
func (r *Radio) Configure(params mac.LowerParams) error {
	if params.Channel < MinChannel || params.Channel > MaxChannel {
		return ErrInvalidChannel
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.transmitting {
		return ErrBusy
	}
	r.params = params
	r.rxOn = params.RxOnWhenIdle
	if r.log != nil {
		r.log.Debugf("channel %d pan 0x%04X node 0x%04X rx-on %v",
			params.Channel, params.PANID, params.NodeID, params.RxOnWhenIdle)
	}
	return nil
}

// Params returns the parameters last programmed by Configure.
func (r *Radio) Params() mac.LowerParams {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.params
}

// SetRxOnWhenIdle implements mac.LowerMAC.
func (r *Radio) SetRxOnWhenIdle(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rxOn = on
}

// RxOnWhenIdle reports whether the receiver is on between transmissions.
func (r *Radio) RxOnWhenIdle() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rxOn
}

// Transmit implements mac.LowerMAC. The attempt runs on its own goroutine;
// done reports CCA failure, a missing acknowledgment or success.
func (r *Radio) Transmit(packet []byte, done mac.TxDoneFunc) error {
	var hdr frame.Header
	if _, err := hdr.DecodeFlat(packet, true); err != nil {
		return err
	}

	r.mu.Lock()
	switch {
	case r.closed:
		r.mu.Unlock()
		return ErrClosed
	case r.receiver == nil:
		r.mu.Unlock()
		return ErrNotAttached
	case r.transmitting:
		r.mu.Unlock()
		return ErrBusy
	}
	r.transmitting = true
	channel := r.params.Channel
	wantAck := hdr.AckRequest && !hdr.Dest.IsBroadcast()
	if wantAck {
		r.awaitingAck = true
		r.ackSequence = hdr.Sequence
		select {
		case <-r.ackCh:
		default:
		}
	}
	// wg.Add stays under mu: Close sets closed under mu before it waits.
	r.wg.Add(1)
	r.mu.Unlock()

	data := make([]byte, channelPrefixSize+len(packet))
	data[0] = channel
	copy(data[channelPrefixSize:], packet)

	go func() {
		defer r.wg.Done()
		result := r.transmit(data, wantAck)

		r.mu.Lock()
		r.transmitting = false
		r.awaitingAck = false
		r.mu.Unlock()
		done(result)
	}()
	return nil
}

func (r *Radio) transmit(data []byte, wantAck bool) mac.TxResult {
	if !r.medium.clearChannel() {
		return mac.TxResult{Status: mac.TxStatusCCAFailure}
	}
	if err := r.medium.send(r.conn, data); err != nil {
		if r.log != nil {
			r.log.Warnf("send failed: %v", err)
		}
		return mac.TxResult{Status: mac.TxStatusNoAck}
	}
	if !wantAck {
		return mac.TxResult{Status: mac.TxStatusSuccess}
	}

	timer := time.NewTimer(r.ackTimeout)
	defer timer.Stop()
	select {
	case pending := <-r.ackCh:
		return mac.TxResult{Status: mac.TxStatusSuccess, FramePending: pending}
	case <-timer.C:
		return mac.TxResult{Status: mac.TxStatusNoAck}
	case <-r.closeCh:
		return mac.TxResult{Status: mac.TxStatusNoAck}
	}
}

// Close stops the radio and waits for its goroutines.
func (r *Radio) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.closed = true
	r.mu.Unlock()

	close(r.closeCh)
	r.conn.SetReadDeadline(time.Now())
	r.conn.Close()
	r.wg.Wait()
	return nil
}

func (r *Radio) readLoop() {
	defer r.wg.Done()

	buf := make([]byte, maxMediumFrame)
	for {
		n, err := r.conn.Read(buf)
		if err != nil {
			select {
			case <-r.closeCh:
				return
			default:
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
				return
			}
			if r.log != nil {
				r.log.Warnf("read error: %v", err)
			}
			continue
		}
		if n <= channelPrefixSize {
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		r.handleFrame(data[0], data[channelPrefixSize:])
	}
}

func (r *Radio) handleFrame(channel uint8, packet []byte) {
	var hdr frame.Header
	if _, err := hdr.DecodeFlat(packet, true); err != nil {
		if r.log != nil {
			r.log.Tracef("undecodable frame: %v", err)
		}
		return
	}

	r.mu.Lock()
	if r.closed || channel != r.params.Channel {
		r.mu.Unlock()
		return
	}

	if hdr.Type == frame.FrameTypeAck {
		if r.awaitingAck && hdr.Sequence == r.ackSequence {
			r.awaitingAck = false
			// Hardware keeps listening when the parent announces data.
			if hdr.FramePending {
				r.rxOn = true
			}
			select {
			case r.ackCh <- hdr.FramePending:
			default:
			}
		}
		r.mu.Unlock()
		return
	}

	if !r.rxOn {
		r.mu.Unlock()
		return
	}
	params := r.params
	receiver := r.receiver
	macIndex := r.macIndex
	r.mu.Unlock()

	if receiver == nil {
		return
	}
	if hdr.AckRequest && addressedTo(&hdr, params) {
		r.sendAck(channel, hdr.Sequence, receiver.FramePendingFor(macIndex, hdr.Src))
	}
	if !receiver.ReceiveISR(macIndex, packet, r.rssi, r.lqi) && r.log != nil {
		r.log.Warnf("receive queue full, dropped seq %d from %s", hdr.Sequence, hdr.Src)
	}
}

// addressedTo reports whether a frame is unicast to the radio.
func addressedTo(hdr *frame.Header, params mac.LowerParams) bool {
	if hdr.DestPANID != params.PANID && hdr.DestPANID != frame.BroadcastPANID {
		return false
	}
	switch hdr.Dest.Mode {
	case frame.AddrModeShort:
		return !hdr.Dest.IsBroadcast() && hdr.Dest.Short == params.NodeID
	case frame.AddrModeLong:
		return hdr.Dest.Long == params.EUI64
	default:
		return false
	}
}

func (r *Radio) sendAck(channel, sequence uint8, framePending bool) {
	ack := frame.Header{
		Type:         frame.FrameTypeAck,
		FramePending: framePending,
		Sequence:     sequence,
	}
	wire, err := frame.AppendPHYHeader(ack.Encode())
	if err != nil {
		return
	}
	data := append([]byte{channel}, wire...)
	if err := r.medium.send(r.conn, data); err != nil && r.log != nil {
		r.log.Warnf("ack send failed: %v", err)
	}
}

var _ mac.LowerMAC = (*Radio)(nil)
