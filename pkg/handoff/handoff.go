// Package handoff lets an application inspect, drop or rewrite packets as
// they cross the MAC boundary.
//
// The Filter flattens the linked packet, hands the bytes to the Handler and,
// when the handler mangles the packet, resizes the linked buffers before
// copying the new contents back. A resize failure turns the action into
// Drop so that length and contents never disagree.
package handoff

import (
	"github.com/backkem/ember/pkg/buffer"
	"github.com/pion/logging"
)

// PacketType classifies a packet offered to a Handler.
type PacketType uint8

const (
	PacketTypeRawMAC PacketType = iota
	PacketTypeMACCommand
	PacketTypeNetworkData
	PacketTypeNetworkCommand
	PacketTypeAPSData
	PacketTypeAPSCommand
	PacketTypeBeacon
	PacketTypeInterPAN

	packetTypeCount
)

// String returns the packet type name.
func (t PacketType) String() string {
	switch t {
	case PacketTypeRawMAC:
		return "RawMAC"
	case PacketTypeMACCommand:
		return "MACCommand"
	case PacketTypeNetworkData:
		return "NetworkData"
	case PacketTypeNetworkCommand:
		return "NetworkCommand"
	case PacketTypeAPSData:
		return "APSData"
	case PacketTypeAPSCommand:
		return "APSCommand"
	case PacketTypeBeacon:
		return "Beacon"
	case PacketTypeInterPAN:
		return "InterPAN"
	default:
		return "Unknown"
	}
}

// Action is a Handler verdict.
type Action uint8

const (
	// ActionDrop discards the packet.
	ActionDrop Action = iota
	// ActionAccept passes the packet on unchanged.
	ActionAccept
	// ActionMangle passes the packet on with the handler's new contents.
	ActionMangle
	// ActionAcceptOverrideSecurity accepts a packet that would otherwise fail
	// a security check.
	ActionAcceptOverrideSecurity
	// ActionAcceptSkipNwkCrypto accepts and skips network layer crypto.
	ActionAcceptSkipNwkCrypto
)

// String returns the action name.
func (a Action) String() string {
	switch a {
	case ActionDrop:
		return "Drop"
	case ActionAccept:
		return "Accept"
	case ActionMangle:
		return "Mangle"
	case ActionAcceptOverrideSecurity:
		return "AcceptOverrideSecurity"
	case ActionAcceptSkipNwkCrypto:
		return "AcceptSkipNwkCrypto"
	default:
		return "Unknown"
	}
}

// Accepts reports whether the packet continues through the stack.
func (a Action) Accepts() bool {
	return a != ActionDrop
}

// Handler decides the fate of a packet. packet is a flattened copy the
// handler may modify freely; when the action is ActionMangle the returned
// slice becomes the packet's new contents and may differ in length.
type Handler interface {
	HandleIncoming(packetType PacketType, packet []byte, index uint8, data any) (Action, []byte)
	HandleOutgoing(packetType PacketType, packet []byte, index uint8, data any) (Action, []byte)
}

// HandlerFuncs adapts plain functions to Handler. A nil function accepts.
type HandlerFuncs struct {
	Incoming func(packetType PacketType, packet []byte, index uint8, data any) (Action, []byte)
	Outgoing func(packetType PacketType, packet []byte, index uint8, data any) (Action, []byte)
}

// HandleIncoming implements Handler.
func (h HandlerFuncs) HandleIncoming(packetType PacketType, packet []byte, index uint8, data any) (Action, []byte) {
	if h.Incoming == nil {
		return ActionAccept, nil
	}
	return h.Incoming(packetType, packet, index, data)
}

// HandleOutgoing implements Handler.
func (h HandlerFuncs) HandleOutgoing(packetType PacketType, packet []byte, index uint8, data any) (Action, []byte) {
	if h.Outgoing == nil {
		return ActionAccept, nil
	}
	return h.Outgoing(packetType, packet, index, data)
}

// FilterConfig configures a Filter.
type FilterConfig struct {
	// Handler receives the packets. If nil, every packet is accepted without
	// being flattened.
	Handler Handler

	// Types restricts the filter to the listed packet types. Empty means all.
	Types []PacketType

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Filter runs packets through a Handler.
type Filter struct {
	handler Handler
	enabled [packetTypeCount]bool
	log     logging.LeveledLogger
}

// NewFilter creates a filter.
func NewFilter(config FilterConfig) *Filter {
	f := &Filter{handler: config.Handler}
	if len(config.Types) == 0 {
		for i := range f.enabled {
			f.enabled[i] = true
		}
	}
	for _, t := range config.Types {
		if t < packetTypeCount {
			f.enabled[t] = true
		}
	}
	if config.LoggerFactory != nil {
		f.log = config.LoggerFactory.NewLogger("handoff")
	}
	return f
}

// Incoming offers a received packet to the handler. *packet may be replaced
// when a mangle grows it.
func (f *Filter) Incoming(heap *buffer.Heap, packetType PacketType, packet *buffer.Buffer, index uint8, data any) Action {
	if f == nil || f.handler == nil {
		return ActionAccept
	}
	return f.run(heap, packetType, packet, index, data, f.handler.HandleIncoming)
}

// Outgoing offers a packet about to be transmitted to the handler.
func (f *Filter) Outgoing(heap *buffer.Heap, packetType PacketType, packet *buffer.Buffer, index uint8, data any) Action {
	if f == nil || f.handler == nil {
		return ActionAccept
	}
	return f.run(heap, packetType, packet, index, data, f.handler.HandleOutgoing)
}

type handleFunc func(PacketType, []byte, uint8, any) (Action, []byte)

func (f *Filter) run(heap *buffer.Heap, packetType PacketType, packet *buffer.Buffer, index uint8, data any, handle handleFunc) Action {
	if packetType >= packetTypeCount || !f.enabled[packetType] {
		return ActionAccept
	}
	if packet == nil || *packet == buffer.Null {
		return ActionDrop
	}

	flat := heap.LinkedBytes(*packet)
	action, mangled := handle(packetType, flat, index, data)
	if action != ActionMangle {
		return action
	}

	if err := heap.SetLinkedLength(packet, len(mangled)); err != nil {
		if f.log != nil {
			f.log.Warnf("dropping %s packet: resize to %d bytes failed: %v", packetType, len(mangled), err)
		}
		return ActionDrop
	}
	if err := heap.CopyToLinked(*packet, 0, mangled); err != nil {
		if f.log != nil {
			f.log.Warnf("dropping %s packet: copy failed: %v", packetType, err)
		}
		return ActionDrop
	}
	return ActionMangle
}
