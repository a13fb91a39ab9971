package allocator

import "fmt"

// CheckHeap walks the entire heap and every free list, validating I1
// through I7. It is always compiled in (tests call it directly regardless
// of build tags); the debug-only checkheap(line) surface in
// check_debug.go/check_release.go is what gets compiled away in release
// builds.
func (h *Heap) CheckHeap() error {
	if err := h.checkPrologueEpilogue(); err != nil {
		return err
	}

	if err := h.checkBlocks(); err != nil {
		return err
	}

	return h.checkFreeLists()
}

func (h *Heap) checkPrologueEpilogue() error {
	prologueWord := h.readWord(h.heapLo - wordSize)
	if !wordAlloc(prologueWord) || wordSizeOf(prologueWord) != 0 {
		return fmt.Errorf("%w: prologue corrupted", ErrInvariantViolation)
	}

	epilogue := Ptr(h.mem.Hi()) - wordSize

	epilogueWord := h.readWord(epilogue)
	if !wordAlloc(epilogueWord) || wordSizeOf(epilogueWord) != 0 {
		return fmt.Errorf("%w: epilogue corrupted", ErrInvariantViolation)
	}

	return nil
}

// checkBlocks walks every physical block in address order (I7, I1, I2, I3).
func (h *Heap) checkBlocks() error {
	lo, hi := h.heapLo, Ptr(h.mem.Hi())
	prevWasFree := false

	for p := lo; p < hi-wordSize; {
		if p < lo || p >= hi {
			return fmt.Errorf("%w: block at %d out of heap bounds", ErrInvariantViolation, p)
		}

		size := h.size(p)
		if size%16 != 0 || size < minBlockSize {
			return fmt.Errorf("%w: block at %d has illegal size %d", ErrInvariantViolation, p, size)
		}

		alloc := h.isAlloc(p)

		if !alloc {
			if prevWasFree {
				return fmt.Errorf("%w: adjacent free blocks ending at %d", ErrInvariantViolation, p)
			}

			if size > minBlockSize {
				footer := h.readWord(p + Ptr(size) - wordSize)
				if wordSizeOf(footer) != size || wordAlloc(footer) {
					return fmt.Errorf("%w: header/footer mismatch at %d", ErrInvariantViolation, p)
				}
			}
		}

		next := p + Ptr(size)
		if next < hi {
			if h.isPrevAlloc(next) != alloc {
				return fmt.Errorf("%w: prev_alloc bit wrong at %d", ErrInvariantViolation, next)
			}

			if h.isPrevMin(next) != (size == minBlockSize) {
				return fmt.Errorf("%w: prev_min bit wrong at %d", ErrInvariantViolation, next)
			}
		}

		prevWasFree = !alloc
		p = next
	}

	return nil
}

// checkFreeLists validates I4, I5, I6, and acyclicity (tortoise-and-hare)
// for every class.
func (h *Heap) checkFreeLists() error {
	freeBlocks, listed := 0, 0

	for p := h.heapLo; p < Ptr(h.mem.Hi())-wordSize; p += Ptr(h.size(p)) {
		if !h.isAlloc(p) {
			freeBlocks++
		}
	}

	for c := 0; c < numClasses; c++ {
		if err := h.checkListAcyclic(c); err != nil {
			return err
		}

		for p := h.freeHeads[c]; p != 0; p = h.listNext(p) {
			listed++
			size := h.size(p)

			if classify(size) != c {
				return fmt.Errorf("%w: block %d of size %d misclassified into list %d", ErrInvariantViolation, p, size, c)
			}

			if h.isAlloc(p) {
				return fmt.Errorf("%w: allocated block %d found on free list %d", ErrInvariantViolation, p, c)
			}

			if c != 0 {
				if next := h.listNext(p); next != 0 {
					prevOfNext := Ptr(h.readWord(next + 2*wordSize))
					if prevOfNext != p {
						return fmt.Errorf("%w: broken back-pointer after block %d in list %d", ErrInvariantViolation, p, c)
					}
				}
			}
		}
	}

	if listed != freeBlocks {
		return fmt.Errorf("%w: %d free blocks but %d free-list entries", ErrInvariantViolation, freeBlocks, listed)
	}

	return nil
}

func (h *Heap) checkListAcyclic(class int) error {
	slow, fast := h.freeHeads[class], h.freeHeads[class]

	for fast != 0 {
		fast = h.listNext(fast)
		if fast == 0 {
			break
		}

		fast = h.listNext(fast)
		slow = h.listNext(slow)

		if fast == slow {
			return fmt.Errorf("%w: cycle detected in free list %d", ErrInvariantViolation, class)
		}
	}

	return nil
}
