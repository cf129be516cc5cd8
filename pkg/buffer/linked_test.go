package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func chain(t *testing.T, h *Heap, parts ...[]byte) Buffer {
	t.Helper()
	var head, prev Buffer
	for _, p := range parts {
		b := h.AllocateFrom(p)
		require.NotEqual(t, Null, b)
		if head == Null {
			head = b
		} else {
			h.SetLink(prev, PayloadLink, b)
		}
		prev = b
	}
	return head
}

func TestLinkedLengthAndBytes(t *testing.T) {
	h := NewHeap(512)
	b := chain(t, h, []byte{1, 2, 3}, []byte{4, 5}, []byte{6})

	require.Equal(t, 6, h.LinkedLength(b))
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6}, h.LinkedBytes(b))

	v, err := h.LinkedByte(b, 4)
	require.NoError(t, err)
	require.Equal(t, byte(5), v)
	_, err = h.LinkedByte(b, 6)
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestSetLinkedLengthShrink(t *testing.T) {
	h := NewHeap(512)
	b := chain(t, h, []byte{1, 2, 3}, []byte{4, 5}, []byte{6})
	orig := b

	require.NoError(t, h.SetLinkedLength(&b, 4))
	require.Equal(t, orig, b)
	require.Equal(t, []byte{1, 2, 3, 4}, h.LinkedBytes(b))
}

func TestSetLinkedLengthGrow(t *testing.T) {
	h := NewHeap(512)
	b := chain(t, h, []byte{1, 2}, []byte{3})
	orig := b

	require.NoError(t, h.SetLinkedLength(&b, 5))
	require.NotEqual(t, orig, b)
	require.Equal(t, []byte{1, 2, 3, 0, 0}, h.LinkedBytes(b))
}

func TestSetLinkedLengthGrowFails(t *testing.T) {
	h := NewHeap(32)
	b := h.AllocateFrom([]byte{1, 2})
	orig := b

	require.ErrorIs(t, h.SetLinkedLength(&b, 40), ErrNoBuffers)
	require.Equal(t, orig, b)
	require.ErrorIs(t, h.SetLinkedLength(nil, 1), ErrNullBuffer)
}

func TestAppendAndCopyToLinked(t *testing.T) {
	h := NewHeap(512)
	b := chain(t, h, []byte{1, 2}, []byte{3})

	require.NoError(t, h.AppendToLinked(&b, []byte{9, 8}))
	require.Equal(t, []byte{1, 2, 3, 9, 8}, h.LinkedBytes(b))

	c := chain(t, h, []byte{0, 0}, []byte{0, 0})
	require.NoError(t, h.CopyToLinked(c, 1, []byte{7, 7, 7}))
	require.Equal(t, []byte{0, 7, 7, 7}, h.LinkedBytes(c))
	require.ErrorIs(t, h.CopyToLinked(c, 3, []byte{1, 1}), ErrOutOfRange)
}
