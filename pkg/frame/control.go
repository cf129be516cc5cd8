package frame

import "fmt"

// FrameControl is the 16-bit MAC frame control field.
type FrameControl uint16

// Type returns the frame type.
func (fc FrameControl) Type() FrameType {
	return FrameType(uint16(fc) & fcTypeMask)
}

// SecurityEnabled reports whether the auxiliary security header is present.
func (fc FrameControl) SecurityEnabled() bool {
	return uint16(fc)&fcSecurityEnabled != 0
}

// FramePending reports the frame pending bit.
func (fc FrameControl) FramePending() bool {
	return uint16(fc)&fcFramePending != 0
}

// AckRequest reports the acknowledgment request bit.
func (fc FrameControl) AckRequest() bool {
	return uint16(fc)&fcAckRequest != 0
}

// PANIDCompression reports the PAN ID compression bit.
func (fc FrameControl) PANIDCompression() bool {
	return uint16(fc)&fcPANIDCompression != 0
}

// DestMode returns the destination addressing mode.
func (fc FrameControl) DestMode() AddrMode {
	return AddrMode((uint16(fc) & fcDestModeMask) >> fcDestModeShift)
}

// SrcMode returns the source addressing mode.
func (fc FrameControl) SrcMode() AddrMode {
	return AddrMode((uint16(fc) & fcSrcModeMask) >> fcSrcModeShift)
}

// Version returns the frame version subfield.
func (fc FrameControl) Version() uint8 {
	return uint8((uint16(fc) & fcVersionMask) >> fcVersionShift)
}

// WithFramePending returns fc with the frame pending bit set to pending.
func (fc FrameControl) WithFramePending(pending bool) FrameControl {
	if pending {
		return fc | FrameControl(fcFramePending)
	}
	return fc &^ FrameControl(fcFramePending)
}

// Validate rejects reserved addressing modes.
func (fc FrameControl) Validate() error {
	if !fc.DestMode().IsValid() || !fc.SrcMode().IsValid() {
		return ErrReservedAddrMode
	}
	return nil
}

// String returns a compact description such as "Data(0x8861)".
func (fc FrameControl) String() string {
	return fmt.Sprintf("%s(0x%04X)", fc.Type(), uint16(fc))
}

// DestPANIDPresent reports whether a frame with this control field carries a
// destination PAN ID.
func DestPANIDPresent(fc FrameControl) bool {
	return fc.DestMode() != AddrModeNone
}

// SrcPANIDPresent reports whether a frame with this control field carries a
// source PAN ID. PAN ID compression elides it.
func SrcPANIDPresent(fc FrameControl) bool {
	return fc.SrcMode() != AddrModeNone && !fc.PANIDCompression()
}

// Address is a MAC address of either mode. Long addresses are held in host
// order; on the wire they are little-endian like every other field.
type Address struct {
	Mode  AddrMode
	Short uint16
	Long  uint64
}

// ShortAddress returns a short-mode address.
func ShortAddress(id uint16) Address {
	return Address{Mode: AddrModeShort, Short: id}
}

// LongAddress returns a long-mode address.
func LongAddress(eui64 uint64) Address {
	return Address{Mode: AddrModeLong, Long: eui64}
}

// IsBroadcast reports whether a is the short broadcast address.
func (a Address) IsBroadcast() bool {
	return a.Mode == AddrModeShort && a.Short == BroadcastShortID
}

func (a Address) String() string {
	switch a.Mode {
	case AddrModeShort:
		return fmt.Sprintf("0x%04X", a.Short)
	case AddrModeLong:
		return fmt.Sprintf("%016X", a.Long)
	default:
		return "none"
	}
}
