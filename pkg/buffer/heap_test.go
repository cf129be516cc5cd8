package buffer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func fill(h *Heap, b Buffer, seed byte) {
	data := h.Bytes(b)
	for i := range data {
		data[i] = seed + byte(i)
	}
}

func pattern(n int, seed byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = seed + byte(i)
	}
	return out
}

func TestAllocateRoundTrip(t *testing.T) {
	h := NewHeap(4096)

	var bufs []Buffer
	for size := 0; size <= 120; size += 7 {
		b := h.Allocate(size)
		require.NotEqual(t, Null, b, "size %d", size)
		require.Equal(t, size, h.Length(b))
		fill(h, b, byte(size))
		bufs = append(bufs, b)
	}
	for i, b := range bufs {
		size := i * 7
		require.Equal(t, pattern(size, byte(size)), h.Bytes(b))
	}
}

func TestAllocateExhaustion(t *testing.T) {
	h := NewHeap(64)

	b := h.Allocate(h.Capacity() - HeaderSize)
	require.NotEqual(t, Null, b)
	require.Equal(t, 0, h.Free())

	require.Equal(t, Null, h.Allocate(0))
	require.Equal(t, Null, h.AllocateAsync(0))
}

func TestAllocateRejectsOversize(t *testing.T) {
	h := NewHeap(64)
	require.Equal(t, Null, h.Allocate(-1))
	require.Equal(t, Null, h.Allocate(MaxBufferSize+1))
}

func TestReservedSpace(t *testing.T) {
	// 100 words, 99 usable; reserve 20 words for async callers.
	h := NewHeap(200)
	h.SetReservedSpace(40)
	require.Equal(t, 40, h.ReservedSpace())

	big := h.Allocate(150) // 79 words: the whole synchronous partition
	require.NotEqual(t, Null, big)

	require.Equal(t, Null, h.Allocate(1), "synchronous side must not touch the reservation")

	isr := h.AllocateAsync(32) // 20 words
	require.NotEqual(t, Null, isr)
	require.Equal(t, Null, h.AllocateAsync(0))
}

func TestAllocateLengthWordBoundary(t *testing.T) {
	h := NewHeap(MaxHeapWords * WordSize)

	b := h.Allocate(0xFFFF)
	require.NotEqual(t, Null, b)
	require.Equal(t, 0xFFFF, h.Length(b))
	require.Len(t, h.Bytes(b), 0xFFFF)

	require.Equal(t, Null, h.Allocate(0x10000))
	require.Equal(t, Null, h.AllocateAsync(70000))

	grown := h.Allocate(10)
	require.ErrorIs(t, h.SetLinkedLength(&grown, 0x10000), ErrNoBuffers)
	require.Equal(t, 10, h.Length(grown))
}

func TestAsyncConfinedToReservation(t *testing.T) {
	h := NewHeap(4096)
	h.SetReservedSpace(64)

	require.Equal(t, Null, h.AllocateAsync(2000), "asynchronous side must stay inside the reservation")
	require.NotEqual(t, Null, h.Allocate(3000))

	isr := h.AllocateAsync(64 - HeaderSize) // the whole reservation
	require.NotEqual(t, Null, isr)
	require.Equal(t, 64, h.AsyncUsed())
	require.Equal(t, Null, h.AllocateAsync(0))
	require.False(t, h.ReceiveFromISR([]byte{1}))

	// Compaction moves live async blocks down and empties the partition.
	h.Reclaim([]*Buffer{&isr})
	require.Zero(t, h.AsyncUsed())
	require.NotEqual(t, Null, h.AllocateAsync(0))
}

func TestReservedSpaceOverrunPanics(t *testing.T) {
	h := NewHeap(200)
	h.SetReservedSpace(40)

	require.Panics(t, func() { h.Allocate(151) })

	h.SetReservedSpace(0)
	require.NotPanics(t, func() { h.Allocate(151) })
}

func TestSetLength(t *testing.T) {
	h := NewHeap(256)
	b := h.AllocateFrom([]byte{1, 2, 3, 4, 5, 6})

	require.ErrorIs(t, h.SetLength(b, 7), ErrLengthGrow)
	require.NoError(t, h.SetLength(b, 4))
	require.Equal(t, []byte{1, 2, 3, 4}, h.Bytes(b))

	require.ErrorIs(t, h.SetLengthFromEnd(b, 5), ErrLengthGrow)
	require.NoError(t, h.SetLengthFromEnd(b, 2))
	require.Equal(t, []byte{3, 4}, h.Bytes(b))

	require.ErrorIs(t, h.SetLength(Null, 0), ErrNullBuffer)
}

func TestBytesCapacityIsBounded(t *testing.T) {
	h := NewHeap(256)
	a := h.AllocateFrom([]byte{1, 2, 3})
	b := h.AllocateFrom([]byte{9, 9})

	data := h.Bytes(a)
	require.Equal(t, 4, cap(data)) // rounded up to whole words
	_ = append(data, 0xEE, 0xEE, 0xEE)
	require.Equal(t, []byte{9, 9}, h.Bytes(b))
}

func TestReclaimPreservesRooted(t *testing.T) {
	h := NewHeap(1024)

	a := h.AllocateFrom(pattern(10, 1))
	garbage := h.AllocateFrom(pattern(20, 2))
	c := h.AllocateFrom(pattern(6, 3))
	require.NotEqual(t, Null, garbage)
	oldC := c

	freed := h.Reclaim([]*Buffer{&a, &c})
	require.Equal(t, 14*WordSize, freed)
	require.Equal(t, uint32(1), h.Generation())
	require.Equal(t, 2, h.BlockCount())

	require.Equal(t, pattern(10, 1), h.Bytes(a))
	require.Equal(t, pattern(6, 3), h.Bytes(c))
	require.NotEqual(t, oldC, c, "survivor should slide into the freed gap")

	// The freed space is reusable.
	d := h.Allocate(20)
	require.NotEqual(t, Null, d)
	require.Equal(t, pattern(6, 3), h.Bytes(c))
}

func TestReclaimMarkers(t *testing.T) {
	h := NewHeap(1024)

	var owned [3]Buffer
	for i := range owned {
		h.Allocate(8) // garbage between survivors
		owned[i] = h.AllocateFrom(pattern(5, byte(10*i)))
	}

	marker := func(h *Heap) {
		for i := range owned {
			h.Mark(&owned[i])
		}
	}
	h.Reclaim(nil, marker)

	require.Equal(t, 3, h.BlockCount())
	for i := range owned {
		require.Equal(t, pattern(5, byte(10*i)), h.Bytes(owned[i]))
	}
}

func TestReclaimWeakReferences(t *testing.T) {
	h := NewHeap(1024)

	onlyWeak := h.AllocateFrom([]byte{1})
	both := h.AllocateFrom([]byte{2})
	bothWeak := both

	h.Allocate(30) // shift survivors on compaction
	h.Reclaim([]*Buffer{&both}, func(h *Heap) {
		h.MarkWeak(&onlyWeak)
		h.MarkWeak(&bothWeak)
	})

	require.Equal(t, Null, onlyWeak)
	require.Equal(t, both, bothWeak)
	require.Equal(t, []byte{2}, h.Bytes(bothWeak))
}

func TestReclaimDuplicateReference(t *testing.T) {
	h := NewHeap(1024)
	h.Allocate(16)
	b := h.AllocateFrom([]byte{7, 7})

	h.Reclaim([]*Buffer{&b, &b}, func(h *Heap) {
		h.Mark(&b)
		h.MarkWeak(&b)
	})
	require.Equal(t, Buffer(1), b)
	require.Equal(t, []byte{7, 7}, h.Bytes(b))
}

func TestReclaimFollowsLinks(t *testing.T) {
	h := NewHeap(1024)

	var queue Buffer
	var want [][]byte
	for i := 0; i < 4; i++ {
		h.Allocate(10)
		data := pattern(3, byte(i))
		h.QueueAdd(&queue, h.AllocateFrom(data), QueueLink)
		want = append(want, data)
	}
	head := h.QueueHead(queue, QueueLink)
	extra := h.AllocateFrom([]byte{0xAB})
	h.SetLink(head, PayloadLink, extra)

	h.Reclaim([]*Buffer{&queue})
	require.Equal(t, 5, h.BlockCount())

	head = h.QueueHead(queue, QueueLink)
	require.Equal(t, []byte{0xAB}, h.Bytes(h.GetLink(head, PayloadLink)))

	for _, data := range want {
		b := h.QueueRemoveHead(&queue, QueueLink)
		require.Equal(t, data, h.Bytes(b))
	}
	require.True(t, QueueIsEmpty(queue))
}

func TestReclaimMovesAsyncBlocks(t *testing.T) {
	h := NewHeap(512)
	h.Allocate(40)
	isr := h.AllocateAsync(8)
	fill(h, isr, 0x40)

	h.Reclaim([]*Buffer{&isr})
	require.Equal(t, Buffer(1), isr)
	require.Equal(t, pattern(8, 0x40), h.Bytes(isr))
	require.Equal(t, h.Capacity()-(HeaderSize+8), h.Free())
}

func TestReceiveQueueIsRoot(t *testing.T) {
	h := NewHeap(512)
	h.Allocate(20)

	require.True(t, h.ReceiveFromISR([]byte("first")))
	require.True(t, h.ReceiveFromISR([]byte("second")))
	require.Equal(t, 2, h.ReceivedCount())

	h.Reclaim(nil)

	require.Equal(t, "first", string(h.Bytes(h.TakeReceived())))
	require.Equal(t, "second", string(h.Bytes(h.TakeReceived())))
	require.Equal(t, Null, h.TakeReceived())
}

func TestReceiveFromISRExhaustion(t *testing.T) {
	h := NewHeap(32)
	require.False(t, h.ReceiveFromISR(make([]byte, 64)))
	require.Equal(t, 0, h.ReceivedCount())
}

func TestMarkOutsideReclaimPanics(t *testing.T) {
	h := NewHeap(64)
	b := h.Allocate(1)
	require.Panics(t, func() { h.Mark(&b) })
}

func TestMarkInvalidHandlePanics(t *testing.T) {
	h := NewHeap(64)
	h.Allocate(4)
	bogus := Buffer(2)
	require.Panics(t, func() { h.Reclaim([]*Buffer{&bogus}) })
}

func TestCopy(t *testing.T) {
	h := NewHeap(256)
	a := h.AllocateFrom([]byte("payload"))
	b := h.Copy(a)
	require.NotEqual(t, a, b)
	require.True(t, bytes.Equal(h.Bytes(a), h.Bytes(b)))
	require.Equal(t, Null, h.Copy(Null))
}
