package buffer

// Linked buffers are a Null-terminated chain through PayloadLink. The helpers
// below treat the chain as one logical byte string.

// LinkedLength returns the total length of the chain starting at b.
func (h *Heap) LinkedLength(b Buffer) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.linkedLength(b)
}

func (h *Heap) linkedLength(b Buffer) int {
	n := 0
	for ; b != Null; b = h.link(b, PayloadLink) {
		n += h.length(b)
	}
	return n
}

// LinkedBytes returns a flattened copy of the chain starting at b.
func (h *Heap) LinkedBytes(b Buffer) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.linkedBytes(b)
}

func (h *Heap) linkedBytes(b Buffer) []byte {
	out := make([]byte, 0, h.linkedLength(b))
	for ; b != Null; b = h.link(b, PayloadLink) {
		out = append(out, h.bytes(b)...)
	}
	return out
}

// SetLinkedLength changes the logical length of the chain at *b.
//
// Shrinking truncates in place and detaches the rest of the chain. Growing
// allocates a single new buffer holding the old contents followed by zero
// bytes and stores its handle in *b. A queued buffer must be dequeued before
// it is grown. Returns ErrNoBuffers if that allocation fails; *b is left
// untouched in that case.
func (h *Heap) SetLinkedLength(b *Buffer, length int) error {
	if b == nil || *b == Null {
		return ErrNullBuffer
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	total := h.linkedLength(*b)
	if length <= total {
		remaining := length
		for cur := *b; cur != Null; cur = h.link(cur, PayloadLink) {
			n := h.length(cur)
			if remaining <= n {
				h.setWord(cur, wordLength, uint16(remaining))
				h.setLink(cur, PayloadLink, Null)
				return nil
			}
			remaining -= n
		}
		return nil
	}

	nb := h.allocate(length, false)
	if nb == Null {
		return ErrNoBuffers
	}
	copy(h.bytes(nb), h.linkedBytes(*b))
	*b = nb
	return nil
}

// CopyToLinked writes data into the chain at b starting at offset.
func (h *Heap) CopyToLinked(b Buffer, offset int, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if offset < 0 || offset+len(data) > h.linkedLength(b) {
		return ErrOutOfRange
	}
	for cur := b; cur != Null && len(data) > 0; cur = h.link(cur, PayloadLink) {
		dst := h.bytes(cur)
		if offset >= len(dst) {
			offset -= len(dst)
			continue
		}
		n := copy(dst[offset:], data)
		data = data[n:]
		offset = 0
	}
	return nil
}

// AppendToLinked appends data to the chain at *b, possibly relocating it.
func (h *Heap) AppendToLinked(b *Buffer, data []byte) error {
	if b == nil || *b == Null {
		return ErrNullBuffer
	}
	old := h.LinkedLength(*b)
	if err := h.SetLinkedLength(b, old+len(data)); err != nil {
		return err
	}
	return h.CopyToLinked(*b, old, data)
}

// LinkedByte returns the byte at index in the chain at b.
func (h *Heap) LinkedByte(b Buffer, index int) (byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for cur := b; cur != Null; cur = h.link(cur, PayloadLink) {
		data := h.bytes(cur)
		if index < len(data) {
			return data[index], nil
		}
		index -= len(data)
	}
	return 0, ErrOutOfRange
}
