package allocator

// coalesce merges b with its immediate free physical neighbors. b must
// already have its header (and footer, if applicable) written as free with
// accurate size/prev_alloc/prev_min bits; coalesce reads the previous
// block's allocation state from b's own prev_alloc bit rather than ever
// walking backward across an allocated neighbor. It returns the address of
// the (possibly merged) block, which has already been inserted into the
// free-list index.
func (h *Heap) coalesce(b Ptr) Ptr {
	size := h.size(b)
	prevAlloc := h.isPrevAlloc(b)
	prevMin := h.isPrevMin(b)

	next := b + Ptr(size)
	nextAlloc := h.isAlloc(next)

	switch {
	case prevAlloc && nextAlloc:
		h.listInsert(b, size)
		return b

	case prevAlloc && !nextAlloc:
		nSize := h.size(next)
		h.listDelete(next, nSize)

		merged := size + nSize
		h.writeBlock(b, merged, false, prevAlloc, prevMin)
		h.listInsert(b, merged)

		return b

	case !prevAlloc && nextAlloc:
		prev := h.findPrev(b)
		pSize := h.size(prev)
		ppAlloc := h.isPrevAlloc(prev)
		ppMin := h.isPrevMin(prev)
		h.listDelete(prev, pSize)

		merged := pSize + size
		h.writeBlock(prev, merged, false, ppAlloc, ppMin)
		h.listInsert(prev, merged)

		return prev

	default: // !prevAlloc && !nextAlloc
		prev := h.findPrev(b)
		pSize := h.size(prev)
		ppAlloc := h.isPrevAlloc(prev)
		ppMin := h.isPrevMin(prev)
		nSize := h.size(next)

		h.listDelete(prev, pSize)
		h.listDelete(next, nSize)

		merged := pSize + size + nSize
		h.writeBlock(prev, merged, false, ppAlloc, ppMin)
		h.listInsert(prev, merged)

		return prev
	}
}
