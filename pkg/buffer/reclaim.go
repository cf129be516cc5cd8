package buffer

import (
	"github.com/pkg/errors"
)

// MarkFunc reports the buffer references owned by a subsystem by calling
// Heap.Mark or Heap.MarkWeak for each of them.
//
// A marker runs with the heap locked: it must not call any Heap method other
// than Mark and MarkWeak, and must not read through a reference after
// marking it.
type MarkFunc func(h *Heap)

type collector struct {
	blocks map[Buffer]struct{}
	marked map[Buffer]struct{}

	// refs maps every recorded reference to true when it is strong.
	refs map[*Buffer]bool
}

// Mark records ref as a strong reference. The buffer and everything reachable
// through its link words survive the collection, and *ref is rewritten to the
// buffer's new location.
//
// Mark may only be called from within Reclaim (by a MarkFunc).
func (h *Heap) Mark(ref *Buffer) {
	gc := h.collecting()
	if ref == nil || *ref == Null {
		return
	}
	gc.refs[ref] = true
	h.markReachable(*ref)
}

// MarkWeak records ref as a weak reference. It does not keep the buffer alive;
// after collection *ref is rewritten if something else marked the buffer and
// set to Null otherwise.
//
// MarkWeak may only be called from within Reclaim (by a MarkFunc).
func (h *Heap) MarkWeak(ref *Buffer) {
	gc := h.collecting()
	if ref == nil || *ref == Null {
		return
	}
	if _, ok := gc.refs[ref]; !ok {
		gc.refs[ref] = false
	}
}

func (h *Heap) collecting() *collector {
	if h.gc == nil {
		panic(errors.New("buffer: Mark called outside Reclaim"))
	}
	return h.gc
}

func (h *Heap) markReachable(root Buffer) {
	gc := h.gc
	work := []Buffer{root}
	for len(work) > 0 {
		b := work[len(work)-1]
		work = work[:len(work)-1]
		if b == Null {
			continue
		}
		if _, ok := gc.blocks[b]; !ok {
			panic(errors.Errorf("buffer: marked handle 0x%04X is not a buffer", uint16(b)))
		}
		if _, ok := gc.marked[b]; ok {
			continue
		}
		gc.marked[b] = struct{}{}
		work = append(work, h.link(b, QueueLink), h.link(b, PayloadLink))
	}
}

// Reclaim frees every buffer not reachable from roots, the receive queue or
// the markers, then slides the survivors to the bottom of the heap.
//
// All recorded references are rewritten; every other handle and every slice
// obtained from Bytes is invalid afterwards. Returns the number of bytes
// reclaimed.
func (h *Heap) Reclaim(roots []*Buffer, markers ...MarkFunc) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	gc := &collector{
		blocks: make(map[Buffer]struct{}),
		marked: make(map[Buffer]struct{}),
		refs:   make(map[*Buffer]bool),
	}
	h.forEachBlock(func(b Buffer) { gc.blocks[b] = struct{}{} })
	h.gc = gc
	defer func() { h.gc = nil }()

	for _, r := range roots {
		h.Mark(r)
	}
	h.Mark(&h.rxQueue)
	for _, m := range markers {
		if m != nil {
			m(h)
		}
	}

	before := h.usedWords()
	forward := h.compact(gc.marked)

	for ref, strong := range gc.refs {
		if nb, ok := forward[*ref]; ok {
			*ref = nb
		} else if !strong {
			*ref = Null
		}
	}

	h.generation++
	return (before - h.usedWords()) * WordSize
}

// compact moves marked blocks down in address order and returns the
// old-to-new handle mapping.
func (h *Heap) compact(marked map[Buffer]struct{}) map[Buffer]Buffer {
	forward := make(map[Buffer]Buffer, len(marked))
	var order []Buffer
	next := 1
	h.forEachBlock(func(b Buffer) {
		if _, ok := marked[b]; !ok {
			return
		}
		forward[b] = Buffer(next)
		order = append(order, b)
		next += int(h.word(b, wordSize))
	})

	// Destinations never exceed sources, so moving in address order is safe.
	for _, old := range order {
		nb := forward[old]
		size := int(h.word(old, wordSize)) * WordSize
		copy(h.data[int(nb)*WordSize:], h.data[int(old)*WordSize:int(old)*WordSize+size])
	}
	for _, old := range order {
		nb := forward[old]
		for _, l := range []Link{QueueLink, PayloadLink} {
			if to := h.link(nb, l); to != Null {
				h.setLink(nb, l, forward[to])
			}
		}
	}

	h.low = next
	h.high = h.capWords
	return forward
}
