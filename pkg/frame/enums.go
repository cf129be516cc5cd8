// Package frame implements the IEEE 802.15.4 MAC header codec.
//
// Header field positions are not fixed: they depend on the addressing modes,
// the PAN ID compression bit and the security bit of the frame control
// field, and on whether the buffer starts with the PHY length byte.
// FlatFieldOffset is the single place that arithmetic lives; every accessor
// is expressed in terms of it.
//
// Field presence rules:
//   - Destination PAN ID is present iff the destination mode is not None.
//   - Source PAN ID is present iff the source mode is not None and PAN ID
//     compression is clear.
//   - The auxiliary security header (5 bytes) is present iff security is
//     enabled.
package frame

// FrameType is the frame type subfield (bits 0-2).
type FrameType uint8

const (
	FrameTypeBeacon  FrameType = 0
	FrameTypeData    FrameType = 1
	FrameTypeAck     FrameType = 2
	FrameTypeCommand FrameType = 3
)

// String returns a human-readable name for the frame type.
func (t FrameType) String() string {
	switch t {
	case FrameTypeBeacon:
		return "Beacon"
	case FrameTypeData:
		return "Data"
	case FrameTypeAck:
		return "Ack"
	case FrameTypeCommand:
		return "Command"
	default:
		return "Unknown"
	}
}

// AddrMode is an addressing mode subfield.
type AddrMode uint8

const (
	AddrModeNone     AddrMode = 0
	AddrModeReserved AddrMode = 1
	AddrModeShort    AddrMode = 2
	AddrModeLong     AddrMode = 3
)

// String returns a human-readable name for the addressing mode.
func (m AddrMode) String() string {
	switch m {
	case AddrModeNone:
		return "None"
	case AddrModeShort:
		return "Short"
	case AddrModeLong:
		return "Long"
	default:
		return "Reserved"
	}
}

// IsValid returns false for the reserved mode.
func (m AddrMode) IsValid() bool {
	return m != AddrModeReserved && m <= AddrModeLong
}

// Size returns the address field size for the mode.
func (m AddrMode) Size() int {
	switch m {
	case AddrModeShort:
		return ShortAddrSize
	case AddrModeLong:
		return LongAddrSize
	default:
		return 0
	}
}

// Field identifies a MAC header field.
type Field int

const (
	FieldFrameControl Field = iota
	FieldSequence
	FieldDestPANID
	FieldDestAddr
	FieldSrcPANID
	FieldSrcAddr
	FieldAuxSecurity
	FieldFrameCounter
	FieldPayload
)

// String returns the field name.
func (f Field) String() string {
	switch f {
	case FieldFrameControl:
		return "FrameControl"
	case FieldSequence:
		return "Sequence"
	case FieldDestPANID:
		return "DestPANID"
	case FieldDestAddr:
		return "DestAddr"
	case FieldSrcPANID:
		return "SrcPANID"
	case FieldSrcAddr:
		return "SrcAddr"
	case FieldAuxSecurity:
		return "AuxSecurity"
	case FieldFrameCounter:
		return "FrameCounter"
	case FieldPayload:
		return "Payload"
	default:
		return "Unknown"
	}
}
