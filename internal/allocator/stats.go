package allocator

// Stats is a snapshot of allocation activity, cheap enough to read after
// every operation.
type Stats struct {
	AllocCount     uint64
	FreeCount      uint64
	BytesAllocated uint64 // sum of block sizes ever handed out (header included)
	BytesFreed     uint64
	LiveBytes      uint64 // currently allocated block bytes, header included
}

func (s *Stats) onAlloc(blockSize uint64) {
	s.AllocCount++
	s.BytesAllocated += blockSize
	s.LiveBytes += blockSize
}

func (s *Stats) onFree(blockSize uint64) {
	s.FreeCount++
	s.BytesFreed += blockSize
	s.LiveBytes -= blockSize
}
