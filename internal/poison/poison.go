// Package poison implements the optional byte-level corruption-detection
// layer described as a "consumed, optional" collaborator of the allocator
// core: it never decides allocator policy, it only fills freed payload
// bytes with a poison pattern and reports (via Intact) whether a poisoned
// range has since been overwritten.
package poison

// Byte is written across the portion of a freed payload not claimed by
// free-list link fields or the block's footer. A read that later turns up this pattern where
// live data was expected means something touched memory through a stale
// pointer after it was freed.
const Byte = 0xCC

// Layer is a thin, optional wrapper around a flat byte buffer. Mark and
// Intact are safe no-ops when Enabled() is false; Read and Write always
// copy, so the allocator can route payload access through them without a
// check at each call site.
type Layer struct {
	enabled bool
}

// New returns a poisoning layer; enabled controls whether it does anything.
func New(enabled bool) *Layer {
	return &Layer{enabled: enabled}
}

// Enabled reports whether this layer is active.
func (l *Layer) Enabled() bool {
	return l != nil && l.enabled
}

// Mark fills n bytes starting at off with Byte. Callers pass the sub-range
// of a freed payload that isn't reserved for free-list next/prev links or
// the block's footer, since those legitimately get overwritten the moment
// the block is written free and inserted into its free list.
func (l *Layer) Mark(mem []byte, off uint64, n int) {
	if !l.Enabled() || n <= 0 {
		return
	}

	end := off + uint64(n)
	for i := off; i < end; i++ {
		mem[i] = Byte
	}
}

// Intact reports whether every byte in the range is still the poison
// pattern, i.e. nothing has written through a dangling pointer since Mark.
func (l *Layer) Intact(mem []byte, off uint64, n int) bool {
	if !l.Enabled() || n <= 0 {
		return true
	}

	for i := off; i < off+uint64(n); i++ {
		if mem[i] != Byte {
			return false
		}
	}

	return true
}

// Read mirrors the harness's optional mem_read primitive: a copy-out so
// external callers never hold a slice aliasing the live heap.
func (l *Layer) Read(mem []byte, off uint64, n int) []byte {
	buf := make([]byte, n)
	copy(buf, mem[off:off+uint64(n)])

	return buf
}

// Write mirrors mem_write: every payload write the allocator performs
// (calloc's zero-fill, realloc's copy) is expected to go through here when
// a poisoning layer is attached, so a future corruption scan has a single
// choke point to instrument.
func (l *Layer) Write(mem []byte, off uint64, data []byte) {
	copy(mem[off:], data)
}
