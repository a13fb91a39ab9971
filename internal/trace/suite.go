package trace

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/heapforge/segalloc/internal/allocator"
)

// SuiteResult pairs a trace file's path with its replay outcome.
type SuiteResult struct {
	Path   string
	Result Result
	Err    error
}

// RunSuite replays every trace file concurrently, each against its own,
// freshly initialized allocator.Heap. The concurrency here is across
// independent heaps, never within a single one: each Heap instance is
// still driven to completion by a single goroutine, consistent with the
// allocator's single-threaded-per-process contract.
func RunSuite(ctx context.Context, paths []string, cache *ResultCache, opts ...allocator.Option) ([]SuiteResult, error) {
	results := make([]SuiteResult, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for i, path := range paths {
		i, path := i, path

		g.Go(func() error {
			results[i] = replayFile(gctx, path, cache, opts)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

func replayFile(_ context.Context, path string, cache *ResultCache, opts []allocator.Option) SuiteResult {
	data, err := os.ReadFile(path)
	if err != nil {
		return SuiteResult{Path: path, Err: err}
	}

	key := HashKey(data)
	if cache != nil {
		if r, ok := cache.Get(key); ok {
			return SuiteResult{Path: path, Result: r}
		}
	}

	tr, err := Parse(bytes.NewReader(data))
	if err != nil {
		return SuiteResult{Path: path, Err: fmt.Errorf("%s: %w", filepath.Base(path), err)}
	}

	h, err := allocator.New(opts...)
	if err != nil {
		return SuiteResult{Path: path, Err: err}
	}

	r, err := Replay(h, tr)
	if err != nil {
		return SuiteResult{Path: path, Err: fmt.Errorf("%s: %w", filepath.Base(path), err)}
	}

	if cache != nil {
		cache.Put(key, r)
	}

	return SuiteResult{Path: path, Result: r}
}
