package frame

import "encoding/binary"

// Header is a decoded MAC header. Field presence follows the addressing
// modes and flags exactly as the flat layout does.
type Header struct {
	Type             FrameType
	SecurityEnabled  bool
	FramePending     bool
	AckRequest       bool
	PANIDCompression bool
	Version          uint8

	Sequence uint8

	// DestPANID is meaningful when Dest.Mode is not None.
	DestPANID uint16
	Dest      Address

	// SrcPANID is meaningful when SrcPANIDPresent(FrameControl()); see
	// EffectiveSrcPANID.
	SrcPANID uint16
	Src      Address

	// SecurityLevel and FrameCounter form the auxiliary security header.
	SecurityLevel uint8
	FrameCounter  uint32
}

// FrameControl constructs the frame control field.
func (h *Header) FrameControl() FrameControl {
	fc := uint16(h.Type) & fcTypeMask
	if h.SecurityEnabled {
		fc |= fcSecurityEnabled
	}
	if h.FramePending {
		fc |= fcFramePending
	}
	if h.AckRequest {
		fc |= fcAckRequest
	}
	if h.PANIDCompression {
		fc |= fcPANIDCompression
	}
	fc |= uint16(h.Dest.Mode) << fcDestModeShift & fcDestModeMask
	fc |= uint16(h.Version) << fcVersionShift & fcVersionMask
	fc |= uint16(h.Src.Mode) << fcSrcModeShift & fcSrcModeMask
	return FrameControl(fc)
}

func (h *Header) setFrameControl(fc FrameControl) {
	h.Type = fc.Type()
	h.SecurityEnabled = fc.SecurityEnabled()
	h.FramePending = fc.FramePending()
	h.AckRequest = fc.AckRequest()
	h.PANIDCompression = fc.PANIDCompression()
	h.Version = fc.Version()
	h.Dest = Address{Mode: fc.DestMode()}
	h.Src = Address{Mode: fc.SrcMode()}
}

// Size returns the encoded header size in bytes.
func (h *Header) Size() int {
	return FlatFieldOffset(FieldPayload, h.FrameControl(), false)
}

// Encode serializes the header.
func (h *Header) Encode() []byte {
	buf := make([]byte, h.Size())
	h.EncodeTo(buf)
	return buf
}

// EncodeTo serializes the header into buf, which must be at least Size()
// bytes long. Returns the number of bytes written.
func (h *Header) EncodeTo(buf []byte) int {
	fc := h.FrameControl()
	off := func(f Field) []byte {
		return buf[FlatFieldOffset(f, fc, false):]
	}

	binary.LittleEndian.PutUint16(off(FieldFrameControl), uint16(fc))
	off(FieldSequence)[0] = h.Sequence

	if DestPANIDPresent(fc) {
		binary.LittleEndian.PutUint16(off(FieldDestPANID), h.DestPANID)
	}
	putAddress(off(FieldDestAddr), h.Dest)
	if SrcPANIDPresent(fc) {
		binary.LittleEndian.PutUint16(off(FieldSrcPANID), h.SrcPANID)
	}
	putAddress(off(FieldSrcAddr), h.Src)

	if fc.SecurityEnabled() {
		// Key identifier mode 0: no key identifier field.
		off(FieldAuxSecurity)[0] = h.SecurityLevel & secLevelMask
		binary.LittleEndian.PutUint32(off(FieldFrameCounter), h.FrameCounter)
	}
	return FlatFieldOffset(FieldPayload, fc, false)
}

func putAddress(buf []byte, a Address) {
	switch a.Mode {
	case AddrModeShort:
		binary.LittleEndian.PutUint16(buf, a.Short)
	case AddrModeLong:
		binary.LittleEndian.PutUint64(buf, a.Long)
	}
}

// Decode deserializes a header from a MAC frame without PHY header.
// Returns the number of bytes consumed, which is the payload offset.
func (h *Header) Decode(data []byte) (int, error) {
	return h.DecodeFlat(data, false)
}

// DecodeFlat deserializes the header of a flat packet. Returns the payload
// offset within packet.
func (h *Header) DecodeFlat(packet []byte, hasPHYHeader bool) (int, error) {
	fc, err := FlatFrameControl(packet, hasPHYHeader)
	if err != nil {
		return 0, err
	}
	payload := FlatFieldOffset(FieldPayload, fc, hasPHYHeader)
	if len(packet) < payload {
		return 0, ErrFrameTooShort
	}

	*h = Header{}
	h.setFrameControl(fc)
	field := func(f Field) []byte {
		return packet[FlatFieldOffset(f, fc, hasPHYHeader):]
	}

	h.Sequence = field(FieldSequence)[0]
	if DestPANIDPresent(fc) {
		h.DestPANID = binary.LittleEndian.Uint16(field(FieldDestPANID))
	}
	h.Dest = readAddress(field(FieldDestAddr), h.Dest.Mode)
	if SrcPANIDPresent(fc) {
		h.SrcPANID = binary.LittleEndian.Uint16(field(FieldSrcPANID))
	}
	h.Src = readAddress(field(FieldSrcAddr), h.Src.Mode)

	if fc.SecurityEnabled() {
		control := field(FieldAuxSecurity)[0]
		if control&secKeyIDModeMask != 0 {
			return 0, ErrKeyIDMode
		}
		h.SecurityLevel = control & secLevelMask
		h.FrameCounter = binary.LittleEndian.Uint32(field(FieldFrameCounter))
	}
	return payload, nil
}

func readAddress(buf []byte, mode AddrMode) Address {
	switch mode {
	case AddrModeShort:
		return ShortAddress(binary.LittleEndian.Uint16(buf))
	case AddrModeLong:
		return LongAddress(binary.LittleEndian.Uint64(buf))
	default:
		return Address{}
	}
}

// EffectiveSrcPANID returns the PAN the source belongs to.
func (h *Header) EffectiveSrcPANID() uint16 {
	if h.PANIDCompression {
		return h.DestPANID
	}
	return h.SrcPANID
}
