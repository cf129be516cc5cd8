package mac

import (
	"encoding/binary"
	"fmt"

	"github.com/backkem/ember/pkg/buffer"
	"github.com/backkem/ember/pkg/frame"
)

// ChildEntrySize is the binary size of a ChildEntry:
// mac index (1), short ID (2), long ID (8), info flags (8).
const ChildEntrySize = 19

// ChildFlags is the status bitmask of a child.
type ChildFlags uint64

const (
	// ChildPresent marks an occupied entry.
	ChildPresent ChildFlags = 1 << iota
	// ChildRxOnWhenIdle marks a child that does not need indirect delivery.
	ChildRxOnWhenIdle
	// ChildPendingMessage is maintained by the MAC while frames wait in the
	// indirect queue.
	ChildPendingMessage
	// ChildJITExpected makes polls from the child acknowledged with frame
	// pending so a MakeJITMessage handler can answer them.
	ChildJITExpected
	// ChildSecureDataRequest marks a child whose polls are secured.
	ChildSecureDataRequest
)

// Has reports whether every bit of flags is set.
func (f ChildFlags) Has(flags ChildFlags) bool {
	return f&flags == flags
}

// ChildEntry is one child table row.
type ChildEntry struct {
	MACIndex uint8
	ShortID  uint16
	LongID   uint64
	Info     ChildFlags
}

// MarshalBinary encodes the entry. Multi-byte fields are little-endian.
func (e ChildEntry) MarshalBinary() ([]byte, error) {
	buf := make([]byte, ChildEntrySize)
	e.put(buf)
	return buf, nil
}

func (e ChildEntry) put(buf []byte) {
	buf[0] = e.MACIndex
	binary.LittleEndian.PutUint16(buf[1:], e.ShortID)
	binary.LittleEndian.PutUint64(buf[3:], e.LongID)
	binary.LittleEndian.PutUint64(buf[11:], uint64(e.Info))
}

// UnmarshalBinary decodes an entry.
func (e *ChildEntry) UnmarshalBinary(data []byte) error {
	if len(data) != ChildEntrySize {
		return ErrChildEntrySize
	}
	e.MACIndex = data[0]
	e.ShortID = binary.LittleEndian.Uint16(data[1:])
	e.LongID = binary.LittleEndian.Uint64(data[3:])
	e.Info = ChildFlags(binary.LittleEndian.Uint64(data[11:]))
	return nil
}

// Matches reports whether a is the child's short or long address.
func (e ChildEntry) Matches(a frame.Address) bool {
	switch a.Mode {
	case frame.AddrModeShort:
		return validNodeID(e.ShortID) && a.Short == e.ShortID
	case frame.AddrModeLong:
		return e.LongID != 0 && a.Long == e.LongID
	default:
		return false
	}
}

// ChildTable tracks the children of one network. Entries live in a heap
// Vector, so indexes stay stable across removals and the table must be
// marked during Reclaim; the MAC does that for the tables it owns.
type ChildTable struct {
	macIndex uint8
	capacity int
	entries  *buffer.Vector
}

// NewChildTable creates an empty table holding up to capacity children.
func NewChildTable(heap *buffer.Heap, macIndex uint8, capacity int) *ChildTable {
	return &ChildTable{
		macIndex: macIndex,
		capacity: capacity,
		entries:  buffer.NewVector(heap, ChildEntrySize),
	}
}

// Len returns the number of children.
func (t *ChildTable) Len() int {
	return t.entries.Count()
}

// Capacity returns the maximum number of children.
func (t *ChildTable) Capacity() int {
	return t.capacity
}

// Add inserts a child or, if its long ID (or short ID when the long ID is
// unknown) is already present, updates it. Returns the child index.
func (t *ChildTable) Add(shortID uint16, longID uint64, flags ChildFlags) (int, error) {
	return t.put(ChildEntry{
		MACIndex: t.macIndex,
		ShortID:  shortID,
		LongID:   longID,
		Info:     flags | ChildPresent,
	})
}

func (t *ChildTable) put(e ChildEntry) (int, error) {
	index := -1
	if e.LongID != 0 {
		index = t.FindByLong(e.LongID)
	} else if validNodeID(e.ShortID) {
		index = t.Find(e.ShortID)
	}

	var buf [ChildEntrySize]byte
	e.put(buf[:])
	if index >= 0 {
		if err := t.entries.Set(index, buf[:]); err != nil {
			return -1, err
		}
		return index, nil
	}

	if t.Len() >= t.capacity {
		return -1, ErrChildTableFull
	}
	index, err := t.entries.Add(buf[:])
	if err != nil {
		return -1, fmt.Errorf("%w: %v", ErrChildTableFull, err)
	}
	return index, nil
}

// Remove deletes the child at index.
func (t *ChildTable) Remove(index int) error {
	if _, ok := t.Entry(index); !ok {
		return ErrChildNotFound
	}
	t.entries.Remove(index)
	return nil
}

// Entry returns the child at index.
func (t *ChildTable) Entry(index int) (ChildEntry, bool) {
	data := t.entries.Get(index)
	if data == nil {
		return ChildEntry{}, false
	}
	var e ChildEntry
	if err := e.UnmarshalBinary(data); err != nil {
		return ChildEntry{}, false
	}
	return e, true
}

func (t *ChildTable) find(match func(e ChildEntry) bool) int {
	return t.entries.Find(nil, func(_, stored []byte) bool {
		var e ChildEntry
		return e.UnmarshalBinary(stored) == nil && match(e)
	})
}

// Find returns the index of the child with shortID, or -1.
func (t *ChildTable) Find(shortID uint16) int {
	return t.FindAddress(frame.ShortAddress(shortID))
}

// FindByLong returns the index of the child with longID, or -1.
func (t *ChildTable) FindByLong(longID uint64) int {
	return t.FindAddress(frame.LongAddress(longID))
}

// FindAddress returns the index of the child using address a, or -1.
func (t *ChildTable) FindAddress(a frame.Address) int {
	return t.find(func(e ChildEntry) bool { return e.Matches(a) })
}

// SetFlags sets flags on the child at index.
func (t *ChildTable) SetFlags(index int, flags ChildFlags) error {
	return t.update(index, func(e *ChildEntry) { e.Info |= flags })
}

// ClearFlags clears flags on the child at index. ChildPresent cannot be
// cleared; use Remove.
func (t *ChildTable) ClearFlags(index int, flags ChildFlags) error {
	return t.update(index, func(e *ChildEntry) { e.Info &^= flags &^ ChildPresent })
}

// HasFlags reports whether the child at index has every bit of flags.
func (t *ChildTable) HasFlags(index int, flags ChildFlags) bool {
	e, ok := t.Entry(index)
	return ok && e.Info.Has(flags)
}

func (t *ChildTable) update(index int, fn func(e *ChildEntry)) error {
	e, ok := t.Entry(index)
	if !ok {
		return ErrChildNotFound
	}
	fn(&e)
	var buf [ChildEntrySize]byte
	e.put(buf[:])
	return t.entries.Set(index, buf[:])
}

// ForEach calls fn for every child in index order until fn returns false.
func (t *ChildTable) ForEach(fn func(index int, e ChildEntry) bool) {
	for i := 0; i < t.entries.Slots(); i++ {
		if e, ok := t.Entry(i); ok {
			if !fn(i, e) {
				return
			}
		}
	}
}

// MarshalBinary encodes every child as consecutive entries.
func (t *ChildTable) MarshalBinary() ([]byte, error) {
	out := make([]byte, 0, t.Len()*ChildEntrySize)
	t.ForEach(func(_ int, e ChildEntry) bool {
		var buf [ChildEntrySize]byte
		e.put(buf[:])
		out = append(out, buf[:]...)
		return true
	})
	return out, nil
}

// UnmarshalBinary replaces the table contents with the encoded entries.
func (t *ChildTable) UnmarshalBinary(data []byte) error {
	if len(data)%ChildEntrySize != 0 {
		return ErrChildEntrySize
	}
	if len(data)/ChildEntrySize > t.capacity {
		return ErrChildTableFull
	}
	for i := 0; i < t.entries.Slots(); i++ {
		t.entries.Remove(i)
	}
	for off := 0; off < len(data); off += ChildEntrySize {
		var e ChildEntry
		if err := e.UnmarshalBinary(data[off : off+ChildEntrySize]); err != nil {
			return err
		}
		e.Info |= ChildPresent
		if _, err := t.put(e); err != nil {
			return err
		}
	}
	return nil
}

// Mark roots the table storage. Call it from a buffer.MarkFunc.
func (t *ChildTable) Mark(h *buffer.Heap) {
	t.entries.Mark(h)
}
