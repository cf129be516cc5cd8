package frame

import "errors"

// Frame layer errors.
var (
	ErrFrameTooShort    = errors.New("frame: data too short")
	ErrFrameTooLong     = errors.New("frame: exceeds maximum PHY packet size")
	ErrReservedAddrMode = errors.New("frame: reserved addressing mode")
	ErrFieldAbsent      = errors.New("frame: field not present")
	ErrBadPHYLength     = errors.New("frame: PHY length inconsistent with frame")
	ErrNotSecured       = errors.New("frame: security not enabled")
	ErrKeyIDMode        = errors.New("frame: unsupported key identifier mode")
)

// 802.15.4 size constants.
const (
	// PHYHeaderSize is the PHY length byte preceding a flat frame.
	PHYHeaderSize = 1

	// MaxPHYPacketSize is aMaxPHYPacketSize: the largest value of the PHY
	// length byte (MPDU including FCS).
	MaxPHYPacketSize = 127

	// FCSSize is the CRC appended by the radio. Flat buffers never store it,
	// but the PHY length byte counts it.
	FCSSize = 2

	// FrameControlSize is the size of the frame control field.
	FrameControlSize = 2

	// SequenceSize is the size of the sequence number.
	SequenceSize = 1

	// PANIDSize is the size of a PAN identifier.
	PANIDSize = 2

	// ShortAddrSize is the size of a short address.
	ShortAddrSize = 2

	// LongAddrSize is the size of an extended (EUI-64) address.
	LongAddrSize = 8

	// AuxSecurityHeaderSize is security control (1) + frame counter (4).
	// The key identifier mode is always 0, so no key identifier follows.
	AuxSecurityHeaderSize = 5

	// MICSize is the MIC length of security level ENC-MIC-32.
	MICSize = 4

	// MinHeaderSize is frame control + sequence number.
	MinHeaderSize = FrameControlSize + SequenceSize
)

// Frame control bits.
const (
	fcTypeMask         uint16 = 0x0007
	fcSecurityEnabled  uint16 = 0x0008
	fcFramePending     uint16 = 0x0010
	fcAckRequest       uint16 = 0x0020
	fcPANIDCompression uint16 = 0x0040
	fcDestModeMask     uint16 = 0x0C00
	fcDestModeShift           = 10
	fcVersionMask      uint16 = 0x3000
	fcVersionShift            = 12
	fcSrcModeMask      uint16 = 0xC000
	fcSrcModeShift            = 14
)

// Well-known frame control values.
const (
	// DataFrameControl is a data frame with ACK request, PAN ID compression
	// and short source and destination addresses.
	DataFrameControl FrameControl = 0x8861

	// CommandFrameControl is DataFrameControl with the command frame type.
	CommandFrameControl FrameControl = 0x8863
)

// Addressing constants.
const (
	BroadcastPANID   uint16 = 0xFFFF
	BroadcastShortID uint16 = 0xFFFF

	// NullNodeID means the node has no short address and uses its EUI-64.
	NullNodeID uint16 = 0xFFFE
)

// SecurityLevelEncMIC32 is the only security level produced by the stack.
const SecurityLevelEncMIC32 uint8 = 0x05

// CommandDataRequest is the MAC data request (poll) command identifier.
const CommandDataRequest uint8 = 0x04

// Security control bits.
const (
	secLevelMask     uint8 = 0x07
	secKeyIDModeMask uint8 = 0x18
)
