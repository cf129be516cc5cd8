package handoff

import (
	"bytes"
	"testing"

	"github.com/backkem/ember/pkg/buffer"
)

func TestFilterNilHandlerAccepts(t *testing.T) {
	h := buffer.NewHeap(256)
	b := h.AllocateFrom([]byte{1, 2, 3})

	var nilFilter *Filter
	if got := nilFilter.Incoming(h, PacketTypeRawMAC, &b, 0, nil); got != ActionAccept {
		t.Errorf("nil filter = %s, want Accept", got)
	}
	f := NewFilter(FilterConfig{})
	if got := f.Outgoing(h, PacketTypeRawMAC, &b, 0, nil); got != ActionAccept {
		t.Errorf("no handler = %s, want Accept", got)
	}
}

func TestFilterActions(t *testing.T) {
	tests := []struct {
		name   string
		action Action
	}{
		{"drop", ActionDrop},
		{"accept", ActionAccept},
		{"override security", ActionAcceptOverrideSecurity},
		{"skip nwk crypto", ActionAcceptSkipNwkCrypto},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := buffer.NewHeap(256)
			b := h.AllocateFrom([]byte("frame"))
			var seen []byte
			f := NewFilter(FilterConfig{Handler: HandlerFuncs{
				Incoming: func(pt PacketType, packet []byte, index uint8, data any) (Action, []byte) {
					seen = packet
					return tc.action, nil
				},
			}})

			if got := f.Incoming(h, PacketTypeNetworkData, &b, 1, nil); got != tc.action {
				t.Errorf("Incoming() = %s, want %s", got, tc.action)
			}
			if string(seen) != "frame" {
				t.Errorf("handler saw %q, want %q", seen, "frame")
			}
			if string(h.Bytes(b)) != "frame" {
				t.Errorf("packet changed to %q without mangle", h.Bytes(b))
			}
		})
	}
}

func TestFilterMangleResizes(t *testing.T) {
	tests := []struct {
		name    string
		mangled []byte
	}{
		{"shrink", []byte("ab")},
		{"same", []byte("XYZW1")},
		{"grow", []byte("a much longer packet")},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := buffer.NewHeap(512)
			head := h.AllocateFrom([]byte("abc"))
			tail := h.AllocateFrom([]byte("de"))
			h.SetLink(head, buffer.PayloadLink, tail)

			f := NewFilter(FilterConfig{Handler: HandlerFuncs{
				Outgoing: func(pt PacketType, packet []byte, index uint8, data any) (Action, []byte) {
					if string(packet) != "abcde" {
						t.Errorf("flattened packet = %q", packet)
					}
					return ActionMangle, tc.mangled
				},
			}})

			packet := head
			if got := f.Outgoing(h, PacketTypeAPSData, &packet, 0, nil); got != ActionMangle {
				t.Fatalf("Outgoing() = %s, want Mangle", got)
			}
			if got := h.LinkedBytes(packet); !bytes.Equal(got, tc.mangled) {
				t.Errorf("packet = %q, want %q", got, tc.mangled)
			}
		})
	}
}

func TestFilterMangleResizeFailureDrops(t *testing.T) {
	h := buffer.NewHeap(64)
	b := h.AllocateFrom([]byte{1, 2, 3, 4})
	orig := b

	f := NewFilter(FilterConfig{Handler: HandlerFuncs{
		Incoming: func(PacketType, []byte, uint8, any) (Action, []byte) {
			return ActionMangle, make([]byte, 200)
		},
	}})

	if got := f.Incoming(h, PacketTypeRawMAC, &b, 0, nil); got != ActionDrop {
		t.Fatalf("Incoming() = %s, want Drop", got)
	}
	if b != orig || !bytes.Equal(h.Bytes(b), []byte{1, 2, 3, 4}) {
		t.Error("failed resize must leave the packet untouched")
	}
}

func TestFilterTypes(t *testing.T) {
	h := buffer.NewHeap(256)
	b := h.AllocateFrom([]byte{9})
	calls := 0
	f := NewFilter(FilterConfig{
		Types: []PacketType{PacketTypeMACCommand},
		Handler: HandlerFuncs{
			Incoming: func(PacketType, []byte, uint8, any) (Action, []byte) {
				calls++
				return ActionDrop, nil
			},
		},
	})

	if got := f.Incoming(h, PacketTypeNetworkData, &b, 0, nil); got != ActionAccept {
		t.Errorf("unfiltered type = %s, want Accept", got)
	}
	if got := f.Incoming(h, PacketTypeMACCommand, &b, 0, nil); got != ActionDrop {
		t.Errorf("filtered type = %s, want Drop", got)
	}
	if calls != 1 {
		t.Errorf("handler calls = %d, want 1", calls)
	}
}
