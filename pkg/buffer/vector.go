package buffer

// VectorQuanta is the number of slots a Vector grows by.
const VectorQuanta = 4

const (
	slotEmpty uint8 = 0
	slotUsed  uint8 = 1
)

// Vector is a small growable array of fixed-size values stored in a heap
// buffer. Removed slots are reused by later adds; lookup is a linear scan.
//
// The owner must call Mark from a MarkFunc so the storage survives Reclaim.
type Vector struct {
	heap      *Heap
	values    Buffer
	valueSize int

	// valueCount is the number of slots ever filled (high-water mark).
	valueCount int
	// emptyCount is the number of removed slots below valueCount.
	emptyCount int
}

// NewVector creates an empty vector of values of valueSize bytes.
func NewVector(heap *Heap, valueSize int) *Vector {
	return &Vector{heap: heap, valueSize: valueSize}
}

func (v *Vector) slotSize() int {
	return 1 + v.valueSize
}

func (v *Vector) capacity() int {
	return v.heap.Length(v.values) / v.slotSize()
}

func (v *Vector) slot(i int) []byte {
	data := v.heap.Bytes(v.values)
	off := i * v.slotSize()
	return data[off : off+v.slotSize()]
}

// Count returns the number of values held.
func (v *Vector) Count() int {
	return v.valueCount - v.emptyCount
}

// Slots returns the number of slots ever filled. Indexes below it may be
// empty.
func (v *Vector) Slots() int {
	return v.valueCount
}

// Add stores value in the first free slot and returns its index.
func (v *Vector) Add(value []byte) (int, error) {
	if len(value) != v.valueSize {
		return -1, ErrValueSize
	}

	index := -1
	if v.emptyCount > 0 {
		for i := 0; i < v.valueCount; i++ {
			if v.slot(i)[0] == slotEmpty {
				index = i
				v.emptyCount--
				break
			}
		}
	}
	if index < 0 {
		if v.valueCount == v.capacity() {
			if err := v.grow(); err != nil {
				return -1, err
			}
		}
		index = v.valueCount
		v.valueCount++
	}

	s := v.slot(index)
	s[0] = slotUsed
	copy(s[1:], value)
	return index, nil
}

func (v *Vector) grow() error {
	newCap := v.capacity() + VectorQuanta
	nb := v.heap.Allocate(newCap * v.slotSize())
	if nb == Null {
		return ErrNoBuffers
	}
	if v.values != Null {
		copy(v.heap.Bytes(nb), v.heap.Bytes(v.values))
	}
	v.values = nb
	return nil
}

// Get returns the value at index, or nil if the slot is empty or out of range.
// The slice aliases heap memory until the next Reclaim.
func (v *Vector) Get(index int) []byte {
	if index < 0 || index >= v.valueCount {
		return nil
	}
	s := v.slot(index)
	if s[0] != slotUsed {
		return nil
	}
	return s[1:]
}

// Set overwrites the value at an occupied index.
func (v *Vector) Set(index int, value []byte) error {
	if len(value) != v.valueSize {
		return ErrValueSize
	}
	if v.Get(index) == nil {
		return ErrOutOfRange
	}
	copy(v.slot(index)[1:], value)
	return nil
}

// Remove empties the slot at index.
func (v *Vector) Remove(index int) {
	if v.Get(index) == nil {
		return
	}
	v.slot(index)[0] = slotEmpty
	v.emptyCount++
}

// Find returns the index of the first value for which match(value, stored)
// is true, or -1.
func (v *Vector) Find(value []byte, match func(a, b []byte) bool) int {
	for i := 0; i < v.valueCount; i++ {
		if stored := v.Get(i); stored != nil && match(value, stored) {
			return i
		}
	}
	return -1
}

// Mark roots the vector storage. Call it from a MarkFunc.
func (v *Vector) Mark(h *Heap) {
	h.Mark(&v.values)
}
