package allocator

import "encoding/binary"

// Ptr is an offset into the simulated heap. 0 is reserved as the null
// pointer; the real heap never starts at offset 0 because the prologue
// word occupies it.
type Ptr uint64

const (
	wordSize     = 8  // bytes per header/footer/link word
	minBlockSize = 16 // smallest legal block: header + one link word
	chunkSize    = 4096

	allocBit     = uint64(1) << 0
	prevAllocBit = uint64(1) << 1
	prevMinBit   = uint64(1) << 2
	sizeMask     = ^uint64(0xF)
)

// packWord builds a header/footer word. The low 4 bits carry the flags;
// bits 4..63 carry size, which is always a multiple of 16.
func packWord(size uint64, alloc, prevAlloc, prevMin bool) uint64 {
	w := size & sizeMask
	if alloc {
		w |= allocBit
	}

	if prevAlloc {
		w |= prevAllocBit
	}

	if prevMin {
		w |= prevMinBit
	}

	return w
}

func wordSizeOf(w uint64) uint64 { return w & sizeMask }
func wordAlloc(w uint64) bool    { return w&allocBit != 0 }
func wordPrevAlloc(w uint64) bool {
	return w&prevAllocBit != 0
}
func wordPrevMin(w uint64) bool { return w&prevMinBit != 0 }

func alignUp16(n uint64) uint64 { return (n + 15) &^ 15 }

func (h *Heap) readWord(p Ptr) uint64 {
	return binary.LittleEndian.Uint64(h.mem.Bytes()[p:])
}

func (h *Heap) writeWord(p Ptr, w uint64) {
	binary.LittleEndian.PutUint64(h.mem.Bytes()[p:], w)
}

func (h *Heap) size(p Ptr) uint64      { return wordSizeOf(h.readWord(p)) }
func (h *Heap) isAlloc(p Ptr) bool     { return wordAlloc(h.readWord(p)) }
func (h *Heap) isPrevAlloc(p Ptr) bool { return wordPrevAlloc(h.readWord(p)) }
func (h *Heap) isPrevMin(p Ptr) bool   { return wordPrevMin(h.readWord(p)) }

// writeBlock is the single source of truth for I2: it writes a block's
// header (and footer, for free non-minimum blocks), preserving the
// prev_alloc/prev_min bits the caller supplies, and then propagates this
// block's own size/alloc state into the next physical block's header so
// that block's prev_alloc/prev_min bits stay correct.
func (h *Heap) writeBlock(p Ptr, size uint64, alloc, prevAlloc, prevMin bool) {
	w := packWord(size, alloc, prevAlloc, prevMin)
	h.writeWord(p, w)

	if !alloc && size > minBlockSize {
		h.writeWord(p+Ptr(size)-wordSize, w)
	}

	next := p + Ptr(size)
	nw := h.readWord(next)
	h.writeWord(next, packWord(wordSizeOf(nw), wordAlloc(nw), alloc, size == minBlockSize))
}
