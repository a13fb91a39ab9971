package allocator

import (
	"errors"
	"fmt"

	"github.com/heapforge/segalloc/internal/poison"
	"github.com/heapforge/segalloc/internal/simheap"
)

// Sentinel errors. The public operation surface never propagates these:
// per the spec's error taxonomy every failure collapses to a null return
// or a silent no-op. They exist for the internal helpers (growHeap,
// CheckHeap) and for the harness layered on top of this package.
var (
	ErrOutOfMemory        = errors.New("segalloc: heap extension failed")
	ErrInvariantViolation = errors.New("segalloc: heap consistency check failed")
)

// Config configures a Heap. Zero-value fields are filled by defaultConfig
// inside New.
type Config struct {
	// ChunkSize is the granularity of heap extension requests (both the
	// initial heap and every subsequent growHeap call use at least this
	// many bytes).
	ChunkSize uint64

	// CheckHeap runs the full consistency checker after every top-level
	// operation when true. Expensive; meant for tests and debug builds.
	CheckHeap bool

	// Poison enables the byte-level corruption-detection layer on freed
	// payloads.
	Poison bool
}

// Option mutates a Config. Constructed with the With* functions below.
type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		ChunkSize: chunkSize,
		CheckHeap: false,
		Poison:    false,
	}
}

// WithChunkSize overrides the default heap-extension granularity.
func WithChunkSize(n uint64) Option {
	return func(c *Config) { c.ChunkSize = alignUp16(n) }
}

// WithCheckHeap enables the consistency checker after every operation.
func WithCheckHeap(enabled bool) Option {
	return func(c *Config) { c.CheckHeap = enabled }
}

// WithPoisoning enables write-after-free detection on freed payloads.
func WithPoisoning(enabled bool) Option {
	return func(c *Config) { c.Poison = enabled }
}

// Heap is the allocator's process-wide state: the backing byte arena, the
// segregated free-list index, and the fixed heap_start boundary. It is not
// safe for concurrent use — per the spec, the allocator is single-threaded
// per process and every public operation runs to completion with no
// suspension points.
type Heap struct {
	cfg    *Config
	mem    *simheap.Heap
	poison *poison.Layer

	heapLo    Ptr
	freeHeads [numClasses]Ptr

	stats Stats
}

// New constructs and initializes a Heap.
func New(opts ...Option) (*Heap, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	h := &Heap{cfg: cfg, poison: poison.New(cfg.Poison)}
	if err := h.Init(); err != nil {
		return nil, err
	}

	return h, nil
}

// Init (re)initializes the heap: prologue, epilogue, heap_start, empty
// free lists, and one initial free block of ChunkSize bytes. Calling it
// again after operations have run fully resets all state, matching the
// "second init call resets" contract.
func (h *Heap) Init() error {
	h.mem = simheap.New()
	h.freeHeads = [numClasses]Ptr{}
	h.stats = Stats{}

	total := int(h.cfg.ChunkSize) + 2*wordSize

	off, err := h.mem.Extend(total)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOutOfMemory, err)
	}

	h.heapLo = Ptr(off) + wordSize

	prologue := Ptr(off)
	h.writeWord(prologue, packWord(0, true, true, false))

	firstBlock := h.heapLo
	epilogue := firstBlock + Ptr(h.cfg.ChunkSize)
	h.writeWord(epilogue, packWord(0, true, false, false))

	h.writeBlock(firstBlock, h.cfg.ChunkSize, false, true, false)
	h.listInsert(firstBlock, h.cfg.ChunkSize)

	return nil
}

// HeapLo returns heap_start: the first byte after the prologue.
func (h *Heap) HeapLo() Ptr { return h.heapLo }

// HeapHi returns the current end of the backing arena (one past the
// epilogue's final byte).
func (h *Heap) HeapHi() Ptr { return Ptr(h.mem.Hi()) }

// Stats reports a snapshot of allocation counters.
func (h *Heap) Stats() Stats { return h.stats }

// adjustSize converts a requested payload size into the smallest 16-byte
// multiple that also accounts for header overhead and the minimum block.
func adjustSize(size uint64) uint64 {
	asize := alignUp16(size + wordSize)
	if asize < minBlockSize {
		asize = minBlockSize
	}

	return asize
}

// growHeap extends the backing arena by max(minAsize, ChunkSize) bytes,
// folding the old epilogue's slot into the new free block's header and
// coalescing it against the previous block if that was free.
func (h *Heap) growHeap(minAsize uint64) error {
	n := alignUp16(minAsize)
	if h.cfg.ChunkSize > n {
		n = h.cfg.ChunkSize
	}

	oldHi := Ptr(h.mem.Hi())
	newBlock := oldHi - wordSize

	oldEpilogue := h.readWord(newBlock)
	prevAlloc := wordPrevAlloc(oldEpilogue)
	prevMin := wordPrevMin(oldEpilogue)

	if _, err := h.mem.Extend(int(n)); err != nil {
		return fmt.Errorf("%w: %v", ErrOutOfMemory, err)
	}

	newEpilogue := newBlock + Ptr(n)
	h.writeWord(newEpilogue, packWord(0, true, false, false))
	h.writeBlock(newBlock, n, false, prevAlloc, prevMin)
	h.coalesce(newBlock)

	return nil
}

// Malloc allocates at least size bytes and returns a pointer to the
// payload, or 0 (null) if size is 0 or the heap cannot grow far enough.
func (h *Heap) Malloc(size uint64) Ptr {
	if size == 0 {
		return 0
	}

	asize := adjustSize(size)

	p := h.findFit(asize)
	if p == 0 {
		if err := h.growHeap(asize); err != nil {
			return 0
		}

		p = h.findFit(asize)
		if p == 0 {
			return 0
		}
	}

	blockSize := h.size(p)
	h.listDelete(p, blockSize)

	prevAlloc := h.isPrevAlloc(p)
	prevMin := h.isPrevMin(p)
	h.writeBlock(p, blockSize, true, prevAlloc, prevMin)
	h.splitBlock(p, asize)

	h.stats.onAlloc(h.size(p))
	h.assertConsistent()

	return p + wordSize
}

// Free releases the block owning payload pointer p. A null p is a no-op.
func (h *Heap) Free(p Ptr) {
	if p == 0 {
		return
	}

	b := p - wordSize
	size := h.size(b)

	if h.poison.Enabled() {
		// Skip the prefix free-list insertion overwrites with link fields
		// (one word for the minimum class, two otherwise) and the suffix
		// a non-minimum block's footer occupies.
		prefix := uint64(wordSize)

		var suffix uint64
		if size > minBlockSize {
			prefix = 2 * wordSize
			suffix = wordSize
		}

		payload := size - wordSize
		if payload > prefix+suffix {
			h.poison.Mark(h.mem.Bytes(), uint64(p)+prefix, int(payload-prefix-suffix))
		}
	}

	prevAlloc := h.isPrevAlloc(b)
	prevMin := h.isPrevMin(b)
	h.writeBlock(b, size, false, prevAlloc, prevMin)
	h.coalesce(b)

	h.stats.onFree(size)
	h.assertConsistent()
}

// Realloc resizes the allocation at p to size bytes, preserving
// min(size, old payload size) bytes, and returns the new pointer.
// realloc(nil, n) behaves as Malloc(n); realloc(p, 0) behaves as Free(p).
func (h *Heap) Realloc(p Ptr, size uint64) Ptr {
	if size == 0 {
		h.Free(p)
		return 0
	}

	if p == 0 {
		return h.Malloc(size)
	}

	b := p - wordSize
	oldPayload := h.size(b) - wordSize

	newPtr := h.Malloc(size)
	if newPtr == 0 {
		return 0
	}

	n := oldPayload
	if size < n {
		n = size
	}

	if n > 0 {
		h.poison.Write(h.mem.Bytes(), uint64(newPtr), h.poison.Read(h.mem.Bytes(), uint64(p), int(n)))
	}

	h.Free(p)

	return newPtr
}

// Calloc allocates space for n elements of size bytes each, zero-fills the
// payload, and returns the pointer, or 0 on overflow or allocation failure.
func (h *Heap) Calloc(n, size uint64) Ptr {
	if n == 0 || size == 0 {
		return 0
	}

	total := n * size
	if total/size != n {
		return 0
	}

	p := h.Malloc(total)
	if p == 0 {
		return 0
	}

	b := p - wordSize
	payloadSize := h.size(b) - wordSize
	zeros := make([]byte, payloadSize)

	if h.poison.Enabled() {
		h.poison.Write(h.mem.Bytes(), uint64(p), zeros)
	} else {
		copy(h.mem.Bytes()[p:uint64(p)+payloadSize], zeros)
	}

	return p
}

// PayloadSize returns the usable payload size of the block owning p.
func (h *Heap) PayloadSize(p Ptr) uint64 {
	if p == 0 {
		return 0
	}

	return h.size(p-wordSize) - wordSize
}

// Read copies n bytes starting at payload offset p out of the heap.
func (h *Heap) Read(p Ptr, n int) []byte {
	return h.poison.Read(h.mem.Bytes(), uint64(p), n)
}

// Write copies data into the heap starting at payload offset p.
func (h *Heap) Write(p Ptr, data []byte) {
	h.poison.Write(h.mem.Bytes(), uint64(p), data)
}

func (h *Heap) assertConsistent() {
	if !h.cfg.CheckHeap {
		return
	}

	if err := h.CheckHeap(); err != nil {
		panic(err)
	}
}
