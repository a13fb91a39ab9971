package allocator

// findNext returns the physically adjacent next block. b must not be the
// epilogue.
func (h *Heap) findNext(b Ptr) Ptr {
	return b + Ptr(h.size(b))
}

// findPrev returns the physically adjacent previous block. The caller must
// have already checked that b's prev_alloc bit is false: an allocated
// predecessor carries no footer, so its boundary is unrecoverable from b
// alone and this function must not be called in that case.
func (h *Heap) findPrev(b Ptr) Ptr {
	if h.isPrevAlloc(b) {
		panic("allocator: findPrev called on a block whose predecessor is allocated")
	}

	if h.isPrevMin(b) {
		return b - minBlockSize
	}

	footer := h.readWord(b - wordSize)

	return b - Ptr(wordSizeOf(footer))
}
