package allocator

// findFit searches the segregated index starting at asize's own class.
// Classes below smallClassCutoff use plain first-fit; higher classes use a
// bounded better-fit that tracks the smallest acceptable block seen but
// gives up on a class after 5 acceptable candidates, trading a small
// utilization loss for a bounded worst-case search.
func (h *Heap) findFit(asize uint64) Ptr {
	start := classify(asize)

	if start < smallClassCutoff {
		for c := start; c < numClasses; c++ {
			for p := h.freeHeads[c]; p != 0; p = h.listNext(p) {
				if h.size(p) >= asize {
					return p
				}
			}
		}

		return 0
	}

	var best Ptr

	var bestSize uint64

	for c := start; c < numClasses; c++ {
		considered := 0

		for p := h.freeHeads[c]; p != 0; p = h.listNext(p) {
			sz := h.size(p)
			if sz < asize {
				continue
			}

			if sz == asize {
				return p
			}

			if best == 0 || sz < bestSize {
				best, bestSize = p, sz
			}

			considered++
			if considered >= 5 {
				break
			}
		}

		if best != 0 {
			return best
		}
	}

	return best
}

// splitBlock carves a free residue off b when the leftover is at least a
// minimum block. b must already be marked allocated at its full size; on
// return b is exactly asize and, if a residue was carved, the residue has
// been written and inserted into the free-list index.
func (h *Heap) splitBlock(b Ptr, asize uint64) {
	total := h.size(b)
	residue := total - asize

	if residue < minBlockSize {
		return
	}

	prevAlloc := h.isPrevAlloc(b)
	prevMin := h.isPrevMin(b)

	h.writeBlock(b, asize, true, prevAlloc, prevMin)

	free := b + Ptr(asize)
	h.writeBlock(free, residue, false, true, asize == minBlockSize)
	h.listInsert(free, residue)
}
