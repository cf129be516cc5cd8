package frame

import (
	"bytes"
	"errors"
	"testing"
)

func TestHeaderSize(t *testing.T) {
	tests := []struct {
		name     string
		header   Header
		wantSize int
	}{
		{
			name:     "Ack",
			header:   Header{Type: FrameTypeAck},
			wantSize: 3,
		},
		{
			name: "Short/short compressed",
			header: Header{
				Type:             FrameTypeData,
				PANIDCompression: true,
				Dest:             ShortAddress(1),
				Src:              ShortAddress(2),
			},
			wantSize: 9,
		},
		{
			name: "Short dest, long src, no compression",
			header: Header{
				Type: FrameTypeData,
				Dest: ShortAddress(1),
				Src:  LongAddress(2),
			},
			wantSize: 17, // 3 + 2 + 2 + 2 + 8
		},
		{
			name: "Secured",
			header: Header{
				Type:             FrameTypeData,
				SecurityEnabled:  true,
				PANIDCompression: true,
				Dest:             ShortAddress(1),
				Src:              ShortAddress(2),
			},
			wantSize: 14,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.header.Size(); got != tc.wantSize {
				t.Errorf("Size() = %d, want %d", got, tc.wantSize)
			}
		})
	}
}

func TestHeaderEncodeMatchesDataFrame(t *testing.T) {
	h := Header{
		Type:             FrameTypeData,
		AckRequest:       true,
		PANIDCompression: true,
		Sequence:         0x42,
		DestPANID:        0xABCD,
		Dest:             ShortAddress(0x0000),
		Src:              ShortAddress(0x1234),
	}
	if fc := h.FrameControl(); fc != DataFrameControl {
		t.Errorf("FrameControl() = %s, want %s", fc, DataFrameControl)
	}
	if got := h.Encode(); !bytes.Equal(got, dataFrame[:9]) {
		t.Errorf("Encode() = %x, want %x", got, dataFrame[:9])
	}
}

func TestHeaderEncodeDecodeRoundtrip(t *testing.T) {
	tests := []struct {
		name   string
		header Header
	}{
		{
			name: "Data request command",
			header: Header{
				Type:       FrameTypeCommand,
				AckRequest: true,
				Sequence:   9,
				DestPANID:  0x1AAA,
				Dest:       ShortAddress(0x0000),
				SrcPANID:   0x1AAA,
				Src:        LongAddress(0x0011223344556677),
			},
		},
		{
			name: "Secured broadcast",
			header: Header{
				Type:             FrameTypeData,
				SecurityEnabled:  true,
				PANIDCompression: true,
				Sequence:         200,
				DestPANID:        BroadcastPANID,
				Dest:             ShortAddress(BroadcastShortID),
				Src:              ShortAddress(0x7777),
				SecurityLevel:    SecurityLevelEncMIC32,
				FrameCounter:     0xCAFEBABE,
			},
		},
		{
			name: "Frame pending ack",
			header: Header{
				Type:         FrameTypeAck,
				FramePending: true,
				Sequence:     3,
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			encoded := tc.header.Encode()

			var decoded Header
			n, err := decoded.Decode(encoded)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if n != len(encoded) {
				t.Errorf("Decode() consumed %d bytes, want %d", n, len(encoded))
			}
			if decoded != tc.header {
				t.Errorf("Decode() = %+v, want %+v", decoded, tc.header)
			}
		})
	}
}

func TestHeaderDecodeFlatWithPHY(t *testing.T) {
	packet, err := AppendPHYHeader(dataFrame)
	if err != nil {
		t.Fatal(err)
	}
	var h Header
	n, err := h.DecodeFlat(packet, true)
	if err != nil {
		t.Fatalf("DecodeFlat() error = %v", err)
	}
	if n != 10 {
		t.Errorf("payload offset = %d, want 10", n)
	}
	if h.Src != ShortAddress(0x1234) || h.EffectiveSrcPANID() != 0xABCD {
		t.Errorf("src = %s on PAN %#x", h.Src, h.EffectiveSrcPANID())
	}
}

func TestHeaderDecodeRejectsKeyIDMode(t *testing.T) {
	h := Header{
		Type:             FrameTypeData,
		SecurityEnabled:  true,
		PANIDCompression: true,
		Dest:             ShortAddress(1),
		Src:              ShortAddress(2),
	}
	buf := h.Encode()
	buf[FlatFieldOffset(FieldAuxSecurity, h.FrameControl(), false)] = 0x08 | SecurityLevelEncMIC32

	var decoded Header
	if _, err := decoded.Decode(buf); !errors.Is(err, ErrKeyIDMode) {
		t.Errorf("Decode() error = %v, want ErrKeyIDMode", err)
	}
}

func TestFrameControlWithFramePending(t *testing.T) {
	fc := DataFrameControl.WithFramePending(true)
	if !fc.FramePending() {
		t.Fatal("frame pending not set")
	}
	if fc.WithFramePending(false) != DataFrameControl {
		t.Error("clearing frame pending should restore the original value")
	}
}
