// Package trace implements the trace-driven test harness the spec treats
// as an external collaborator: a line-oriented operation stream, a
// replayer that drives an allocator.Heap, and utilization/throughput
// measurement.
package trace

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/heapforge/segalloc/internal/allocator"
)

// SupportedVersions is the trace format version range this replayer
// understands. A trace whose "format:" header falls outside it is
// rejected before any operation is replayed.
var SupportedVersions = mustConstraint(">= 1.0.0, < 2.0.0")

func mustConstraint(s string) *semver.Constraints {
	c, err := semver.NewConstraint(s)
	if err != nil {
		panic(err)
	}

	return c
}

type opKind byte

const (
	opAlloc opKind = iota
	opFree
	opRealloc
	opCalloc
)

type op struct {
	kind opKind
	id   string
	n    uint64
	size uint64
}

// Trace is a parsed, replayable allocation-operation stream.
type Trace struct {
	Version string
	ops     []op
}

// Parse reads a trace from r. Recognized lines:
//
//	format: <semver>     declares the trace format version (optional, defaults to 1.0.0)
//	a <id> <size>        allocate <size> bytes, remembered under <id>
//	f <id>               free the allocation remembered under <id>
//	r <id> <size>        reallocate it to <size> bytes
//	c <id> <n> <size>    zero-allocate n*size bytes
//
// Blank lines and lines starting with # are ignored.
func Parse(r io.Reader) (*Trace, error) {
	t := &Trace{Version: "1.0.0"}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "format:") {
			t.Version = strings.TrimSpace(strings.TrimPrefix(line, "format:"))
			continue
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		o, err := parseOp(fields)
		if err != nil {
			return nil, err
		}

		t.ops = append(t.ops, o)
	}

	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("trace: %w", err)
	}

	v, err := semver.NewVersion(t.Version)
	if err != nil {
		return nil, fmt.Errorf("trace: invalid format version %q: %w", t.Version, err)
	}

	if !SupportedVersions.Check(v) {
		return nil, fmt.Errorf("trace: format version %s is not supported by this replayer (%s)", t.Version, SupportedVersions)
	}

	return t, nil
}

func parseOp(fields []string) (op, error) {
	switch fields[0] {
	case "a":
		if len(fields) != 3 {
			return op{}, fmt.Errorf("trace: malformed alloc op %q", strings.Join(fields, " "))
		}

		size, err := strconv.ParseUint(fields[2], 10, 64)
		if err != nil {
			return op{}, fmt.Errorf("trace: bad alloc size: %w", err)
		}

		return op{kind: opAlloc, id: fields[1], size: size}, nil

	case "f":
		if len(fields) != 2 {
			return op{}, fmt.Errorf("trace: malformed free op %q", strings.Join(fields, " "))
		}

		return op{kind: opFree, id: fields[1]}, nil

	case "r":
		if len(fields) != 3 {
			return op{}, fmt.Errorf("trace: malformed realloc op %q", strings.Join(fields, " "))
		}

		size, err := strconv.ParseUint(fields[2], 10, 64)
		if err != nil {
			return op{}, fmt.Errorf("trace: bad realloc size: %w", err)
		}

		return op{kind: opRealloc, id: fields[1], size: size}, nil

	case "c":
		if len(fields) != 4 {
			return op{}, fmt.Errorf("trace: malformed calloc op %q", strings.Join(fields, " "))
		}

		n, err := strconv.ParseUint(fields[2], 10, 64)
		if err != nil {
			return op{}, fmt.Errorf("trace: bad calloc n: %w", err)
		}

		size, err := strconv.ParseUint(fields[3], 10, 64)
		if err != nil {
			return op{}, fmt.Errorf("trace: bad calloc size: %w", err)
		}

		return op{kind: opCalloc, id: fields[1], n: n, size: size}, nil

	default:
		return op{}, fmt.Errorf("trace: unrecognized op %q", fields[0])
	}
}

// Result summarizes one replay: peak utilization and achieved throughput.
type Result struct {
	Ops          int
	PeakLive     uint64
	PeakHeap     uint64
	Utilization  float64
	Elapsed      time.Duration
	ThroughputOp float64 // operations per second
}

// Replay drives h through every operation in t and measures utilization
// (peak live payload bytes / peak heap size) and throughput.
func Replay(h *allocator.Heap, t *Trace) (Result, error) {
	live := make(map[string]allocator.Ptr)
	liveBytes := make(map[string]uint64)

	var peakLive, peakHeap, totalLive uint64

	start := time.Now()

	for _, o := range t.ops {
		switch o.kind {
		case opAlloc:
			p := h.Malloc(o.size)
			if p == 0 && o.size != 0 {
				return Result{}, fmt.Errorf("trace: allocation %q of %d bytes failed", o.id, o.size)
			}

			live[o.id] = p
			liveBytes[o.id] = o.size
			totalLive += o.size

		case opFree:
			if p, ok := live[o.id]; ok {
				h.Free(p)
				totalLive -= liveBytes[o.id]
				delete(live, o.id)
				delete(liveBytes, o.id)
			}

		case opRealloc:
			p := live[o.id]
			totalLive -= liveBytes[o.id]

			np := h.Realloc(p, o.size)
			if o.size == 0 {
				delete(live, o.id)
				delete(liveBytes, o.id)
				continue
			}

			if np == 0 {
				return Result{}, fmt.Errorf("trace: reallocation %q to %d bytes failed", o.id, o.size)
			}

			live[o.id] = np
			liveBytes[o.id] = o.size
			totalLive += o.size

		case opCalloc:
			total := o.n * o.size

			p := h.Calloc(o.n, o.size)
			if p == 0 && total != 0 {
				return Result{}, fmt.Errorf("trace: calloc %q of %d*%d bytes failed", o.id, o.n, o.size)
			}

			live[o.id] = p
			liveBytes[o.id] = total
			totalLive += total
		}

		if totalLive > peakLive {
			peakLive = totalLive
		}

		if hi := uint64(h.HeapHi() - h.HeapLo()); hi > peakHeap {
			peakHeap = hi
		}
	}

	elapsed := time.Since(start)

	var util, throughput float64
	if peakHeap > 0 {
		util = float64(peakLive) / float64(peakHeap)
	}

	if elapsed > 0 {
		throughput = float64(len(t.ops)) / elapsed.Seconds()
	}

	return Result{
		Ops:          len(t.ops),
		PeakLive:     peakLive,
		PeakHeap:     peakHeap,
		Utilization:  util,
		Elapsed:      elapsed,
		ThroughputOp: throughput,
	}, nil
}
