// Package buffer implements the packet buffer heap shared by the MAC and the
// layers above it.
//
// The heap is one contiguous byte array divided into variable-length blocks.
// A block is identified by a Buffer: the 16-bit word offset of its header,
// never a Go pointer. Blocks are relocated by Reclaim, so a handle (and any
// slice returned by Bytes) is only valid until the next compaction unless it
// is re-rooted by a marker.
//
// Each block carries two link words (QueueLink and PayloadLink) that callers
// use to chain buffers without extra allocation: queues are intrusive lists
// threaded through those words.
//
// Synchronous allocations grow up from the bottom of the free region.
// Asynchronous allocations, the only ones allowed from a radio goroutine,
// grow down from the top. A reservation splits the heap into two partitions:
// the top reserved bytes belong to asynchronous callers, the rest to
// synchronous ones, and neither side may spill into the other until Reclaim
// empties the asynchronous partition again.
package buffer

import (
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"
)

// Buffer is a handle to a block in a Heap.
type Buffer uint16

// Null is the null buffer handle.
const Null Buffer = 0

// Link selects one of the two in-block link words.
type Link uint8

const (
	// QueueLink chains a buffer into a queue.
	QueueLink Link = iota

	// PayloadLink chains additional payload onto a buffer.
	PayloadLink
)

// String returns the link name.
func (l Link) String() string {
	switch l {
	case QueueLink:
		return "QueueLink"
	case PayloadLink:
		return "PayloadLink"
	default:
		return "Unknown"
	}
}

func (l Link) word() int {
	if l == PayloadLink {
		return wordPayloadLink
	}
	return wordQueueLink
}

// Heap is a compacting arena of packet buffers.
//
// Heap methods are safe to call from any goroutine. Reclaim must only run on
// the goroutine that owns the buffers being marked.
type Heap struct {
	mu sync.Mutex

	data     []byte
	capWords int

	// low is the first free word; synchronous blocks occupy [1, low).
	low int
	// high is the first asynchronous block; async blocks occupy [high, capWords).
	high int

	reservedWords int

	// rxQueue is the PHY->MAC receive queue (tail handle, circular via QueueLink).
	rxQueue Buffer

	generation uint32

	// gc is non-nil while Reclaim is marking.
	gc *collector
}

// NewHeap creates a heap of the given size in bytes.
// The size is rounded down to whole words and capped at MaxHeapWords.
func NewHeap(sizeBytes int) *Heap {
	words := sizeBytes / WordSize
	if words > MaxHeapWords {
		words = MaxHeapWords
	}
	if words < 1+headerWords {
		panic(errors.Errorf("buffer: heap of %d bytes is too small", sizeBytes))
	}
	return &Heap{
		data:     make([]byte, words*WordSize),
		capWords: words,
		low:      1, // word 0 backs the null handle
		high:     words,
	}
}

// Capacity returns the usable heap size in bytes.
func (h *Heap) Capacity() int {
	return (h.capWords - 1) * WordSize
}

// Free returns the number of unallocated bytes, reserved space included.
func (h *Heap) Free() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return (h.high - h.low) * WordSize
}

// Used returns the number of allocated bytes, headers included.
func (h *Heap) Used() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.usedWords() * WordSize
}

func (h *Heap) usedWords() int {
	return (h.low - 1) + h.asyncWords()
}

// AsyncUsed returns the bytes held by asynchronous blocks since the last
// Reclaim.
func (h *Heap) AsyncUsed() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.asyncWords() * WordSize
}

func (h *Heap) asyncWords() int {
	return h.capWords - h.high
}

// Generation returns the number of compactions performed so far.
// A handle obtained in one generation is meaningless in the next.
func (h *Heap) Generation() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.generation
}

// BlockCount returns the number of allocated blocks.
func (h *Heap) BlockCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	h.forEachBlock(func(Buffer) { n++ })
	return n
}

// SetReservedSpace reserves the top sizeBytes of the heap for asynchronous
// allocations and confines them to it. Zero removes the reservation.
func (h *Heap) SetReservedSpace(sizeBytes int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reservedWords = (sizeBytes + WordSize - 1) / WordSize
}

// ReservedSpace returns the current reservation in bytes.
func (h *Heap) ReservedSpace() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reservedWords * WordSize
}

// Allocate allocates a synchronous buffer of sizeBytes.
// Returns Null when the heap is exhausted.
func (h *Heap) Allocate(sizeBytes int) Buffer {
	return h.ReallyAllocate(sizeBytes, false)
}

// AllocateAsync allocates a buffer from the asynchronous side of the heap.
// It never blocks on anything but the heap mutex. While a reservation is
// active it only uses reserved space.
func (h *Heap) AllocateAsync(sizeBytes int) Buffer {
	return h.ReallyAllocate(sizeBytes, true)
}

// ReallyAllocate allocates sizeBytes from the synchronous or asynchronous
// partition.
//
// A synchronous request that can never fit while a reservation is active is
// a configuration error and panics.
func (h *Heap) ReallyAllocate(sizeBytes int, async bool) Buffer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.allocate(sizeBytes, async)
}

func (h *Heap) allocate(sizeBytes int, async bool) Buffer {
	if sizeBytes < 0 || sizeBytes > MaxBufferSize {
		return Null
	}
	words := headerWords + (sizeBytes+WordSize-1)/WordSize
	free := h.high - h.low

	var b Buffer
	if async {
		if words > free {
			return Null
		}
		if h.reservedWords > 0 && h.asyncWords()+words > h.reservedWords {
			return Null
		}
		h.high -= words
		b = Buffer(h.high)
	} else {
		if h.reservedWords > 0 && words > h.capWords-1-h.reservedWords {
			panic(errors.Errorf(
				"buffer: synchronous request of %d bytes exceeds partition of %d bytes (reserved %d)",
				sizeBytes, (h.capWords-1-h.reservedWords)*WordSize, h.reservedWords*WordSize))
		}
		if words > free || h.low+words > h.capWords-h.reservedWords {
			return Null
		}
		b = Buffer(h.low)
		h.low += words
	}

	start := int(b) * WordSize
	clear(h.data[start : start+words*WordSize])
	h.setWord(b, wordSize, uint16(words))
	h.setWord(b, wordLength, uint16(sizeBytes))
	return b
}

// AllocateFrom allocates a synchronous buffer holding a copy of data.
func (h *Heap) AllocateFrom(data []byte) Buffer {
	h.mu.Lock()
	defer h.mu.Unlock()
	b := h.allocate(len(data), false)
	if b != Null {
		copy(h.bytes(b), data)
	}
	return b
}

// Copy allocates a new buffer with the contents of b (payload chain not followed).
func (h *Heap) Copy(b Buffer) Buffer {
	h.mu.Lock()
	defer h.mu.Unlock()
	if b == Null {
		return Null
	}
	n := h.allocate(h.length(b), false)
	if n != Null {
		copy(h.bytes(n), h.bytes(b))
	}
	return n
}

// Bytes returns the contents of b. The slice aliases the heap and is only
// valid until the next Reclaim.
func (h *Heap) Bytes(b Buffer) []byte {
	if b == Null {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bytes(b)
}

func (h *Heap) bytes(b Buffer) []byte {
	start := (int(b) + headerWords) * WordSize
	return h.data[start : start+h.length(b) : start+h.capacityBytes(b)]
}

// Length returns the length of b in bytes.
func (h *Heap) Length(b Buffer) int {
	if b == Null {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.length(b)
}

func (h *Heap) length(b Buffer) int {
	return int(h.word(b, wordLength))
}

func (h *Heap) capacityBytes(b Buffer) int {
	return (int(h.word(b, wordSize)) - headerWords) * WordSize
}

// SetLength truncates b to length bytes, keeping the leading bytes.
func (h *Heap) SetLength(b Buffer, length int) error {
	if b == Null {
		return ErrNullBuffer
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if length < 0 || length > h.length(b) {
		return ErrLengthGrow
	}
	h.setWord(b, wordLength, uint16(length))
	return nil
}

// SetLengthFromEnd truncates b to length bytes, keeping the trailing bytes.
func (h *Heap) SetLengthFromEnd(b Buffer, length int) error {
	if b == Null {
		return ErrNullBuffer
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	old := h.length(b)
	if length < 0 || length > old {
		return ErrLengthGrow
	}
	data := h.bytes(b)
	copy(data, data[old-length:])
	h.setWord(b, wordLength, uint16(length))
	return nil
}

// GetLink returns the buffer linked from b through link.
func (h *Heap) GetLink(b Buffer, link Link) Buffer {
	if b == Null {
		return Null
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.link(b, link)
}

// SetLink sets the buffer linked from b through link.
func (h *Heap) SetLink(b Buffer, link Link, to Buffer) {
	if b == Null {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.setLink(b, link, to)
}

func (h *Heap) link(b Buffer, link Link) Buffer {
	return Buffer(h.word(b, link.word()))
}

func (h *Heap) setLink(b Buffer, link Link, to Buffer) {
	h.setWord(b, link.word(), uint16(to))
}

func (h *Heap) word(b Buffer, index int) uint16 {
	off := (int(b) + index) * WordSize
	return binary.LittleEndian.Uint16(h.data[off:])
}

func (h *Heap) setWord(b Buffer, index int, v uint16) {
	off := (int(b) + index) * WordSize
	binary.LittleEndian.PutUint16(h.data[off:], v)
}

// forEachBlock visits blocks in address order: synchronous, then asynchronous.
func (h *Heap) forEachBlock(fn func(b Buffer)) {
	for w := 1; w < h.low; {
		b := Buffer(w)
		fn(b)
		w += int(h.word(b, wordSize))
	}
	for w := h.high; w < h.capWords; {
		b := Buffer(w)
		fn(b)
		w += int(h.word(b, wordSize))
	}
}

// ReceiveFromISR copies data into a new asynchronous buffer and appends it
// to the PHY->MAC receive queue. Returns false if no space is available.
func (h *Heap) ReceiveFromISR(data []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	b := h.allocate(len(data), true)
	if b == Null {
		return false
	}
	copy(h.bytes(b), data)
	h.queueAdd(&h.rxQueue, b, QueueLink)
	return true
}

// TakeReceived removes the oldest buffer from the PHY->MAC receive queue.
func (h *Heap) TakeReceived() Buffer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.queueRemoveHead(&h.rxQueue, QueueLink)
}

// ReceivedCount returns the number of buffers waiting in the receive queue.
func (h *Heap) ReceivedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.queueLength(h.rxQueue, QueueLink)
}
