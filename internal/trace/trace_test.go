package trace

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/heapforge/segalloc/internal/allocator"
)

const sampleTrace = `format: 1.0.0
a x 100
a y 200
f x
r y 400
c z 16 8
f y
f z
`

func TestParseAndReplay(t *testing.T) {
	tr, err := Parse(strings.NewReader(sampleTrace))
	require.NoError(t, err)
	require.Len(t, tr.ops, 7)

	h, err := allocator.New(allocator.WithCheckHeap(true))
	require.NoError(t, err)

	result, err := Replay(h, tr)
	require.NoError(t, err)
	require.Equal(t, 7, result.Ops)
	require.Greater(t, result.PeakHeap, uint64(0))
	require.Greater(t, result.Utilization, 0.0)
	require.LessOrEqual(t, result.Utilization, 1.0)
}

func TestParseRejectsUnsupportedVersion(t *testing.T) {
	_, err := Parse(strings.NewReader("format: 9.0.0\na x 10\n"))
	require.Error(t, err)
}

func TestParseRejectsUnknownOp(t *testing.T) {
	_, err := Parse(strings.NewReader("z x 10\n"))
	require.Error(t, err)
}

func TestRunSuiteConcurrentAndCached(t *testing.T) {
	dir := t.TempDir()

	var paths []string
	for i := 0; i < 4; i++ {
		p := filepath.Join(dir, "trace"+string(rune('a'+i))+".trace")
		require.NoError(t, os.WriteFile(p, []byte(sampleTrace), 0o600))
		paths = append(paths, p)
	}

	cache := NewResultCache()

	results, err := RunSuite(context.Background(), paths, cache)
	require.NoError(t, err)
	require.Len(t, results, 4)

	for _, r := range results {
		require.NoError(t, r.Err)
		require.Equal(t, 7, r.Result.Ops)
	}

	// Identical file contents hash to the same cache key, so all four files
	// share one cache entry; a second run should hit the cache for all four
	// files and return that one stored first-run result for each.
	results2, err := RunSuite(context.Background(), paths, cache)
	require.NoError(t, err)

	firstRun := make([]Result, len(results))
	for i := range results {
		firstRun[i] = results[i].Result
	}

	for i := range results2 {
		require.Equal(t, results2[0].Result, results2[i].Result)
	}

	require.Contains(t, firstRun, results2[0].Result)
}
