package buffer

import "errors"

// Buffer layer errors.
var (
	// ErrNoBuffers is returned when the heap cannot satisfy an allocation.
	ErrNoBuffers = errors.New("buffer: no buffer space available")

	// ErrLengthGrow is returned when an in-place length change would grow a buffer.
	// Growing requires a new allocation (see SetLinkedLength).
	ErrLengthGrow = errors.New("buffer: cannot grow buffer in place")

	// ErrOutOfRange is returned when an offset falls outside a buffer chain.
	ErrOutOfRange = errors.New("buffer: offset out of range")

	// ErrValueSize is returned when a vector value has the wrong size.
	ErrValueSize = errors.New("buffer: vector value size mismatch")

	// ErrNullBuffer is returned when an operation is given the null handle.
	ErrNullBuffer = errors.New("buffer: null buffer")
)

// Heap layout constants.
const (
	// WordSize is the allocation granularity in bytes.
	WordSize = 2

	// headerWords is the per-block overhead:
	// block size (words) + length (bytes) + queue link + payload link.
	headerWords = 4

	// HeaderSize is the per-block overhead in bytes.
	HeaderSize = headerWords * WordSize

	// MaxHeapWords is the largest heap addressable by a 16-bit handle.
	MaxHeapWords = 0xFFFF

	// MaxBufferSize is the largest length a single buffer can hold. The
	// length header is one word.
	MaxBufferSize = 0xFFFF
)

// Header word indexes relative to the block start.
const (
	wordSize        = 0
	wordLength      = 1
	wordQueueLink   = 2
	wordPayloadLink = 3
)
