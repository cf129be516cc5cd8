package buffer

// Buffer queues are circular singly linked lists threaded through one of the
// link words. The queue variable holds the tail (Null when empty) and the
// tail's link points at the head, so both append and remove-head are O(1).
//
// Lengths are not cached; QueueLength walks the list.

// QueueAdd appends b to the tail of the queue.
func (h *Heap) QueueAdd(queue *Buffer, b Buffer, link Link) {
	if b == Null {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queueAdd(queue, b, link)
}

func (h *Heap) queueAdd(queue *Buffer, b Buffer, link Link) {
	h.queueAddToHead(queue, b, link)
	*queue = b
}

// QueueAddToHead inserts b at the head of the queue.
func (h *Heap) QueueAddToHead(queue *Buffer, b Buffer, link Link) {
	if b == Null {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queueAddToHead(queue, b, link)
}

func (h *Heap) queueAddToHead(queue *Buffer, b Buffer, link Link) {
	tail := *queue
	if tail == Null {
		h.setLink(b, link, b)
		*queue = b
		return
	}
	h.setLink(b, link, h.link(tail, link))
	h.setLink(tail, link, b)
}

// QueueRemoveHead removes and returns the head of the queue, or Null.
func (h *Heap) QueueRemoveHead(queue *Buffer, link Link) Buffer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.queueRemoveHead(queue, link)
}

func (h *Heap) queueRemoveHead(queue *Buffer, link Link) Buffer {
	tail := *queue
	if tail == Null {
		return Null
	}
	head := h.link(tail, link)
	if head == tail {
		*queue = Null
	} else {
		h.setLink(tail, link, h.link(head, link))
	}
	h.setLink(head, link, Null)
	return head
}

// QueueHead returns the head of the queue without removing it.
func (h *Heap) QueueHead(queue Buffer, link Link) Buffer {
	if queue == Null {
		return Null
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.link(queue, link)
}

// QueueIsEmpty reports whether the queue holds no buffers.
func QueueIsEmpty(queue Buffer) bool {
	return queue == Null
}

// QueueRemove removes b from anywhere in the queue.
// Returns false if b is not a member.
func (h *Heap) QueueRemove(queue *Buffer, b Buffer, link Link) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	tail := *queue
	if tail == Null || b == Null {
		return false
	}
	prev := tail
	for {
		cur := h.link(prev, link)
		if cur == b {
			if cur == prev {
				*queue = Null
			} else {
				h.setLink(prev, link, h.link(cur, link))
				if cur == tail {
					*queue = prev
				}
			}
			h.setLink(cur, link, Null)
			return true
		}
		if cur == tail {
			return false
		}
		prev = cur
	}
}

// QueueLength returns the number of buffers in the queue.
func (h *Heap) QueueLength(queue Buffer, link Link) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.queueLength(queue, link)
}

func (h *Heap) queueLength(queue Buffer, link Link) int {
	n := 0
	h.queueForEach(queue, link, func(Buffer) bool {
		n++
		return true
	})
	return n
}

// QueueByteLength returns the summed length of the buffers in the queue.
func (h *Heap) QueueByteLength(queue Buffer, link Link) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	h.queueForEach(queue, link, func(b Buffer) bool {
		n += h.length(b)
		return true
	})
	return n
}

// QueueForEach visits the queue from head to tail until fn returns false.
// fn must not modify the queue; to filter a queue, drain it into a temporary
// queue and re-add the buffers to keep.
func (h *Heap) QueueForEach(queue Buffer, link Link, fn func(b Buffer) bool) {
	var members []Buffer
	h.mu.Lock()
	h.queueForEach(queue, link, func(b Buffer) bool {
		members = append(members, b)
		return true
	})
	h.mu.Unlock()

	for _, b := range members {
		if !fn(b) {
			return
		}
	}
}

func (h *Heap) queueForEach(queue Buffer, link Link, fn func(b Buffer) bool) {
	if queue == Null {
		return
	}
	b := h.link(queue, link)
	for {
		if !fn(b) || b == queue {
			return
		}
		b = h.link(b, link)
	}
}
