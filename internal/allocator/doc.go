// Package allocator implements a segregated-fit dynamic memory allocator
// over a single, contiguous, monotonically growable simulated heap.
//
// The package is organized the way the spec's components are laid out:
// word.go holds the block metadata codec, walk.go the physical-neighbor
// walker, freelist.go the segregated free-list index, placement.go the
// find-fit/split policy, coalesce.go the coalescing engine, heap.go the
// four-operation public surface, and check.go the consistency checker.
package allocator
