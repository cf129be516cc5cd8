package frame

import "encoding/binary"

// FlatMACHeaderOffset returns the offset of the frame control field within a
// flat packet.
func FlatMACHeaderOffset(hasPHYHeader bool) int {
	if hasPHYHeader {
		return PHYHeaderSize
	}
	return 0
}

// fieldSizes returns the size of every header field up to the auxiliary
// security header, indexed by Field. Absent fields have size zero.
func fieldSizes(fc FrameControl) [FieldFrameCounter]int {
	var sizes [FieldFrameCounter]int
	sizes[FieldFrameControl] = FrameControlSize
	sizes[FieldSequence] = SequenceSize
	if DestPANIDPresent(fc) {
		sizes[FieldDestPANID] = PANIDSize
	}
	sizes[FieldDestAddr] = fc.DestMode().Size()
	if SrcPANIDPresent(fc) {
		sizes[FieldSrcPANID] = PANIDSize
	}
	sizes[FieldSrcAddr] = fc.SrcMode().Size()
	if fc.SecurityEnabled() {
		sizes[FieldAuxSecurity] = AuxSecurityHeaderSize
	}
	return sizes
}

// FlatFieldOffset returns where field starts in a flat packet whose frame
// control is fc. Absent fields report the offset they would occupy.
func FlatFieldOffset(field Field, fc FrameControl, hasPHYHeader bool) int {
	sizes := fieldSizes(fc)
	off := FlatMACHeaderOffset(hasPHYHeader)

	end := field
	if field == FieldFrameCounter {
		end = FieldAuxSecurity
	}
	if end > FieldFrameCounter {
		end = FieldFrameCounter
	}
	for f := FieldFrameControl; f < end; f++ {
		off += sizes[f]
	}
	if field == FieldFrameCounter {
		off++ // security control byte
	}
	return off
}

// FlatFrameControl reads the frame control field and rejects reserved
// addressing modes.
func FlatFrameControl(packet []byte, hasPHYHeader bool) (FrameControl, error) {
	off := FlatMACHeaderOffset(hasPHYHeader)
	if len(packet) < off+FrameControlSize {
		return 0, ErrFrameTooShort
	}
	fc := FrameControl(binary.LittleEndian.Uint16(packet[off:]))
	if err := fc.Validate(); err != nil {
		return 0, err
	}
	return fc, nil
}

// flatField returns the bytes of field, which is size bytes long.
func flatField(packet []byte, hasPHYHeader bool, field Field, size int) ([]byte, error) {
	fc, err := FlatFrameControl(packet, hasPHYHeader)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, ErrFieldAbsent
	}
	off := FlatFieldOffset(field, fc, hasPHYHeader)
	if len(packet) < off+size {
		return nil, ErrFrameTooShort
	}
	return packet[off : off+size], nil
}

// FlatSequence returns the sequence number.
func FlatSequence(packet []byte, hasPHYHeader bool) (uint8, error) {
	b, err := flatField(packet, hasPHYHeader, FieldSequence, SequenceSize)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func flatPANID(packet []byte, hasPHYHeader bool, field Field, present func(FrameControl) bool) (uint16, error) {
	fc, err := FlatFrameControl(packet, hasPHYHeader)
	if err != nil {
		return 0, err
	}
	if !present(fc) {
		return 0, ErrFieldAbsent
	}
	b, err := flatField(packet, hasPHYHeader, field, PANIDSize)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// FlatDestPANID returns the destination PAN ID.
func FlatDestPANID(packet []byte, hasPHYHeader bool) (uint16, error) {
	return flatPANID(packet, hasPHYHeader, FieldDestPANID, DestPANIDPresent)
}

// FlatSrcPANID returns the source PAN ID. It is absent when PAN ID
// compression is set; the destination PAN ID applies then.
func FlatSrcPANID(packet []byte, hasPHYHeader bool) (uint16, error) {
	return flatPANID(packet, hasPHYHeader, FieldSrcPANID, SrcPANIDPresent)
}

func flatAddress(packet []byte, hasPHYHeader bool, field Field, mode AddrMode) (Address, error) {
	if mode == AddrModeNone {
		return Address{}, nil
	}
	b, err := flatField(packet, hasPHYHeader, field, mode.Size())
	if err != nil {
		return Address{}, err
	}
	if mode == AddrModeShort {
		return ShortAddress(binary.LittleEndian.Uint16(b)), nil
	}
	return LongAddress(binary.LittleEndian.Uint64(b)), nil
}

// FlatDestAddress returns the destination address. A frame without one yields
// the zero Address.
func FlatDestAddress(packet []byte, hasPHYHeader bool) (Address, error) {
	fc, err := FlatFrameControl(packet, hasPHYHeader)
	if err != nil {
		return Address{}, err
	}
	return flatAddress(packet, hasPHYHeader, FieldDestAddr, fc.DestMode())
}

// FlatSrcAddress returns the source address.
func FlatSrcAddress(packet []byte, hasPHYHeader bool) (Address, error) {
	fc, err := FlatFrameControl(packet, hasPHYHeader)
	if err != nil {
		return Address{}, err
	}
	return flatAddress(packet, hasPHYHeader, FieldSrcAddr, fc.SrcMode())
}

// FlatDestShort returns the short destination address.
func FlatDestShort(packet []byte, hasPHYHeader bool) (uint16, error) {
	a, err := FlatDestAddress(packet, hasPHYHeader)
	if err != nil {
		return 0, err
	}
	if a.Mode != AddrModeShort {
		return 0, ErrFieldAbsent
	}
	return a.Short, nil
}

// FlatSrcShort returns the short source address.
func FlatSrcShort(packet []byte, hasPHYHeader bool) (uint16, error) {
	a, err := FlatSrcAddress(packet, hasPHYHeader)
	if err != nil {
		return 0, err
	}
	if a.Mode != AddrModeShort {
		return 0, ErrFieldAbsent
	}
	return a.Short, nil
}

// FlatSrcLong returns the long source address.
func FlatSrcLong(packet []byte, hasPHYHeader bool) (uint64, error) {
	a, err := FlatSrcAddress(packet, hasPHYHeader)
	if err != nil {
		return 0, err
	}
	if a.Mode != AddrModeLong {
		return 0, ErrFieldAbsent
	}
	return a.Long, nil
}

// FlatFrameCounter returns the auxiliary header frame counter.
func FlatFrameCounter(packet []byte, hasPHYHeader bool) (uint32, error) {
	fc, err := FlatFrameControl(packet, hasPHYHeader)
	if err != nil {
		return 0, err
	}
	if !fc.SecurityEnabled() {
		return 0, ErrNotSecured
	}
	b, err := flatField(packet, hasPHYHeader, FieldFrameCounter, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// FlatPayloadOffset returns the offset of the MAC payload, checking that the
// packet holds the complete header.
func FlatPayloadOffset(packet []byte, hasPHYHeader bool) (int, error) {
	fc, err := FlatFrameControl(packet, hasPHYHeader)
	if err != nil {
		return 0, err
	}
	off := FlatFieldOffset(FieldPayload, fc, hasPHYHeader)
	if len(packet) < off {
		return 0, ErrFrameTooShort
	}
	return off, nil
}

// flatMACEnd returns the end of the MAC frame within packet. With a PHY
// header the length byte decides: it counts the FCS, which flat packets do
// not store.
func flatMACEnd(packet []byte, hasPHYHeader bool) (int, error) {
	if !hasPHYHeader {
		return len(packet), nil
	}
	if len(packet) < PHYHeaderSize {
		return 0, ErrFrameTooShort
	}
	phyLen := int(packet[0])
	if phyLen < FCSSize || phyLen > MaxPHYPacketSize {
		return 0, ErrBadPHYLength
	}
	end := PHYHeaderSize + phyLen - FCSSize
	if end > len(packet) {
		return 0, ErrBadPHYLength
	}
	return end, nil
}

// FlatMICOffset returns the offset of the 4-byte MIC that closes a secured
// frame. The position depends on the PHY header like every other field.
func FlatMICOffset(packet []byte, hasPHYHeader bool) (int, error) {
	fc, err := FlatFrameControl(packet, hasPHYHeader)
	if err != nil {
		return 0, err
	}
	if !fc.SecurityEnabled() {
		return 0, ErrNotSecured
	}
	payload, err := FlatPayloadOffset(packet, hasPHYHeader)
	if err != nil {
		return 0, err
	}
	end, err := flatMACEnd(packet, hasPHYHeader)
	if err != nil {
		return 0, err
	}
	off := end - MICSize
	if off < payload {
		return 0, ErrFrameTooShort
	}
	return off, nil
}

// FlatMIC returns the MIC bytes of a secured frame.
func FlatMIC(packet []byte, hasPHYHeader bool) ([]byte, error) {
	off, err := FlatMICOffset(packet, hasPHYHeader)
	if err != nil {
		return nil, err
	}
	return packet[off : off+MICSize], nil
}

// FlatPayload returns the MAC payload, excluding the MIC of a secured frame.
func FlatPayload(packet []byte, hasPHYHeader bool) ([]byte, error) {
	fc, err := FlatFrameControl(packet, hasPHYHeader)
	if err != nil {
		return nil, err
	}
	start, err := FlatPayloadOffset(packet, hasPHYHeader)
	if err != nil {
		return nil, err
	}
	end, err := flatMACEnd(packet, hasPHYHeader)
	if err != nil {
		return nil, err
	}
	if fc.SecurityEnabled() {
		end -= MICSize
	}
	if end < start {
		return nil, ErrFrameTooShort
	}
	return packet[start:end], nil
}

// AppendPHYHeader returns frame prefixed with the PHY length byte for a
// frame of that MAC length plus FCS.
func AppendPHYHeader(frame []byte) ([]byte, error) {
	if len(frame)+FCSSize > MaxPHYPacketSize {
		return nil, ErrFrameTooLong
	}
	out := make([]byte, PHYHeaderSize+len(frame))
	out[0] = byte(len(frame) + FCSSize)
	copy(out[PHYHeaderSize:], frame)
	return out, nil
}
