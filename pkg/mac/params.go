package mac

import "github.com/backkem/ember/pkg/frame"

const (
	// TxQueueSize is the number of transmit slots per MAC index, the frame
	// in flight included.
	TxQueueSize = 8

	// MaxMACs is the number of radios a device may drive.
	MaxMACs = 2

	// MaxNetworksPerMAC is the number of networks time-sliced on one radio.
	MaxNetworksPerMAC = 4
)

// Defaults applied by New.
const (
	DefaultChildTableSize    = 16
	DefaultIndirectQueueSize = 16

	// DefaultIndirectTimeoutMs is how long a frame waits for its sleepy child
	// to poll.
	DefaultIndirectTimeoutMs = 7680

	// DefaultPollRxTimeoutMs keeps the receiver on after an acknowledged poll
	// that announced pending data.
	DefaultPollRxTimeoutMs = 100

	// DefaultReplayWindow is the frame counter window per secured sender.
	DefaultReplayWindow = 64
)

const (
	// lowerBusyRetryMs is how long to wait before retrying while the radio
	// is busy.
	lowerBusyRetryMs = 1

	duplicateCacheSize = 8
)

// CSMA defaults (IEEE 802.15.4 macMinBE, macMaxBE, macMaxFrameRetries).
const (
	DefaultMinBackoffExponent = 3
	DefaultMaxBackoffExponent = 5
	DefaultCCAAttemptMax      = 5
	DefaultMaxFrameRetries    = 3
	DefaultBackoffUnitMs      = 1
)

// CSMAParams configures channel access for one network.
type CSMAParams struct {
	// MinBackoffExponent is the backoff exponent of the first CCA attempt.
	MinBackoffExponent uint8

	// MaxBackoffExponent caps the exponent growth after CCA failures.
	MaxBackoffExponent uint8

	// CCAAttemptMax is the number of CCA attempts before a frame fails with
	// TxStatusCCAFailure.
	CCAAttemptMax uint8

	// MaxFrameRetries is the number of retransmissions after a missing
	// acknowledgment.
	MaxFrameRetries uint8

	// MinimumBackoff is the lower bound of a backoff, in units.
	MinimumBackoff uint8

	// BackoffUnitMs is the duration of one backoff unit.
	BackoffUnitMs uint32
}

// DefaultCSMAParams returns the IEEE 802.15.4 defaults.
func DefaultCSMAParams() CSMAParams {
	return CSMAParams{
		MinBackoffExponent: DefaultMinBackoffExponent,
		MaxBackoffExponent: DefaultMaxBackoffExponent,
		CCAAttemptMax:      DefaultCCAAttemptMax,
		MaxFrameRetries:    DefaultMaxFrameRetries,
		BackoffUnitMs:      DefaultBackoffUnitMs,
	}
}

// Validate checks the parameters for consistency.
func (c CSMAParams) Validate() error {
	if c.MinBackoffExponent > c.MaxBackoffExponent || c.MaxBackoffExponent > 8 {
		return ErrInvalidCSMA
	}
	if c.CCAAttemptMax == 0 {
		return ErrInvalidCSMA
	}
	return nil
}

// ParentInfo identifies the parent a network polls.
type ParentInfo struct {
	NodeID uint16
	EUI64  uint64
}

// address returns the parent's short address when it is usable, its long
// address otherwise.
func (p *ParentInfo) address() frame.Address {
	if validNodeID(p.NodeID) {
		return frame.ShortAddress(p.NodeID)
	}
	return frame.LongAddress(p.EUI64)
}

// matches reports whether a is the parent's short or long address.
func (p *ParentInfo) matches(a frame.Address) bool {
	switch a.Mode {
	case frame.AddrModeShort:
		return validNodeID(p.NodeID) && a.Short == p.NodeID
	case frame.AddrModeLong:
		return p.EUI64 != 0 && a.Long == p.EUI64
	default:
		return false
	}
}

// RadioParameters are the per-network settings of a MAC index.
type RadioParameters struct {
	Channel uint8
	TxPower int8
	PANID   uint16
	NodeID  uint16
	EUI64   uint64

	// Parent is nil for a node without a parent (a coordinator).
	Parent *ParentInfo

	// RxOnWhenIdle keeps the receiver on between transmissions. Sleepy
	// end devices clear it and receive only in poll windows.
	RxOnWhenIdle bool

	// CSMA is replaced by DefaultCSMAParams when zero.
	CSMA CSMAParams

	// Handler receives the network's callbacks. If nil,
	// BaseNetworkHandler is used.
	Handler NetworkHandler
}

func (p *RadioParameters) applyDefaults() {
	if p.CSMA == (CSMAParams{}) {
		p.CSMA = DefaultCSMAParams()
	}
	if p.CSMA.BackoffUnitMs == 0 {
		p.CSMA.BackoffUnitMs = DefaultBackoffUnitMs
	}
	if p.Handler == nil {
		p.Handler = BaseNetworkHandler{}
	}
}

func (p *RadioParameters) lowerParams() LowerParams {
	return LowerParams{
		Channel:      p.Channel,
		TxPower:      p.TxPower,
		PANID:        p.PANID,
		NodeID:       p.NodeID,
		EUI64:        p.EUI64,
		RxOnWhenIdle: p.RxOnWhenIdle,
	}
}

// validNodeID reports whether id is a unicast short address. 0xFFF8 and
// above are broadcast or "use long address" values.
func validNodeID(id uint16) bool {
	return id < 0xFFF8
}
