package scanner

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopProcessor(seen *[]string) FileProcessor {
	return func(ctx context.Context, path string, info os.FileInfo) error {
		*seen = append(*seen, path)
		return nil
	}
}

func writeFile(t *testing.T, path string, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func TestScanVisitsAllFilesUnderRoot(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "hello")
	writeFile(t, filepath.Join(root, "sub", "b.txt"), "world")

	var seen []string
	s := New(nil, nil, noopProcessor(&seen))

	result := s.Scan(context.Background(), root, DefaultOptions())

	assert.Equal(t, int64(2), result.ScannedFileCount)
	assert.False(t, result.WasCancelled)
	assert.GreaterOrEqual(t, result.DirectoriesScanned, int64(2))
}

func TestScanMaxDepthZeroVisitsOnlyRoot(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "hello")
	writeFile(t, filepath.Join(root, "sub", "b.txt"), "world")

	var seen []string
	s := New(nil, nil, noopProcessor(&seen))

	opts := DefaultOptions()
	opts.MaxDepth = 0

	result := s.Scan(context.Background(), root, opts)

	assert.Equal(t, int64(1), result.ScannedFileCount)
	assert.Equal(t, []string{filepath.Join(root, "a.txt")}, seen)
}

func TestScanSymlinkFollowDetectsCycle(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "sub")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	cycleLink := filepath.Join(sub, "loop")
	if err := os.Symlink(root, cycleLink); err != nil {
		t.Skipf("symlinks unsupported on this platform: %v", err)
	}

	var seen []string
	s := New(nil, nil, noopProcessor(&seen))

	opts := DefaultOptions()
	opts.Symlinks = SymlinkFollow

	result := s.Scan(context.Background(), root, opts)

	assert.False(t, result.WasCancelled)

	foundCycleErr := false
	for _, e := range result.Errors {
		if e.Path == cycleLink {
			foundCycleErr = true
		}
	}
	assert.True(t, foundCycleErr, "expected a recorded error for the cyclic symlink")
}

func TestScanSymlinkSkipIgnoresLinkedDir(t *testing.T) {
	root := t.TempDir()
	target := t.TempDir()
	writeFile(t, filepath.Join(target, "hidden.txt"), "nope")

	link := filepath.Join(root, "link")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unsupported on this platform: %v", err)
	}

	var seen []string
	s := New(nil, nil, noopProcessor(&seen))

	result := s.Scan(context.Background(), root, DefaultOptions())

	assert.Equal(t, int64(0), result.ScannedFileCount)
	assert.Equal(t, int64(1), result.SymbolicLinksEncountered)
}

func TestScanVisitorTerminateStopsEarly(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "hello")
	writeFile(t, filepath.Join(root, "b.txt"), "world")

	var seen []string
	s := New(nil, nil, noopProcessor(&seen))
	s.SetFileVisitor(FileVisitorFunc(func(entry Entry) Directive {
		return Terminate
	}))

	opts := DefaultOptions()
	opts.Parallelism = 1

	result := s.Scan(context.Background(), root, opts)

	assert.True(t, result.WasCancelled)
	assert.Equal(t, int64(0), result.ScannedFileCount)
}

func TestScanVisitorSkipExcludesEntry(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "hello")
	writeFile(t, filepath.Join(root, "b.txt"), "world")

	var seen []string
	s := New(nil, nil, noopProcessor(&seen))
	s.SetFileVisitor(FileVisitorFunc(func(entry Entry) Directive {
		if filepath.Base(entry.Path) == "b.txt" {
			return Skip
		}
		return Continue
	}))

	result := s.Scan(context.Background(), root, DefaultOptions())

	assert.Equal(t, int64(1), result.ScannedFileCount)
}

func TestScanCancellationStopsQuickly(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 50; i++ {
		writeFile(t, filepath.Join(root, "dir", string(rune('a'+i%26)), "f.txt"), "x")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var seen []string
	s := New(nil, nil, noopProcessor(&seen))

	result := s.Scan(ctx, root, DefaultOptions())

	assert.True(t, result.WasCancelled)
}

func TestScanExcludePatternFiltersFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "keep.txt"), "a")
	writeFile(t, filepath.Join(root, "skip.tmp"), "b")

	var seen []string
	s := New(nil, nil, noopProcessor(&seen))

	opts := DefaultOptions()
	opts.ExcludePatterns = []string{"*.tmp"}

	result := s.Scan(context.Background(), root, opts)

	assert.Equal(t, int64(1), result.ScannedFileCount)
	assert.Equal(t, []string{filepath.Join(root, "keep.txt")}, seen)
}

func TestScanHiddenFilesExcludedByDefault(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".hidden"), "a")
	writeFile(t, filepath.Join(root, "visible.txt"), "b")

	var seen []string
	s := New(nil, nil, noopProcessor(&seen))

	result := s.Scan(context.Background(), root, DefaultOptions())

	assert.Equal(t, int64(1), result.ScannedFileCount)
}

func TestScanProgressListenerReceivesEstimate(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "a")
	writeFile(t, filepath.Join(root, "b.txt"), "b")

	var seen []string
	s := New(nil, nil, noopProcessor(&seen))

	var estimates []int64
	s.SetProgressListener(ProgressListenerFunc(func(path string, processed, estimate int64) {
		estimates = append(estimates, estimate)
	}))

	opts := DefaultOptions()
	opts.Parallelism = 1

	s.Scan(context.Background(), root, opts)

	require.NotEmpty(t, estimates)
	for _, e := range estimates {
		assert.GreaterOrEqual(t, e, int64(0))
	}
}

func TestScanMinMaxSizeFilters(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "small.txt"), "x")
	writeFile(t, filepath.Join(root, "big.txt"), "this one is longer than the small one")

	var seen []string
	s := New(nil, nil, noopProcessor(&seen))

	opts := DefaultOptions()
	opts.MinSizeBytes = 10

	result := s.Scan(context.Background(), root, opts)

	assert.Equal(t, int64(1), result.ScannedFileCount)
	assert.Equal(t, []string{filepath.Join(root, "big.txt")}, seen)
}

func TestScanRecordsFileProcessorErrors(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "a")

	failing := func(ctx context.Context, path string, info os.FileInfo) error {
		return os.ErrPermission
	}
	s := New(nil, nil, failing)

	result := s.Scan(context.Background(), root, DefaultOptions())

	assert.Equal(t, int64(0), result.ScannedFileCount)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, filepath.Join(root, "a.txt"), result.Errors[0].Path)
}

func TestScanResultDurationAndThroughput(t *testing.T) {
	r := Result{
		StartTime:        time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EndTime:          time.Date(2026, 1, 1, 0, 0, 2, 0, time.UTC),
		ScannedFileCount: 10,
	}

	assert.Equal(t, int64(2000), r.DurationMillis())
	assert.InDelta(t, 5.0, r.Throughput(), 0.001)
}

func TestScanResultMarshalJSONIncludesDerivedFields(t *testing.T) {
	r := Result{
		ScanID:           "abc",
		StartTime:        time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EndTime:          time.Date(2026, 1, 1, 0, 0, 2, 0, time.UTC),
		ScannedFileCount: 10,
	}

	data, err := json.Marshal(r)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "abc", decoded["scanId"])
	assert.Equal(t, float64(2000), decoded["durationMillis"])
	assert.InDelta(t, 5.0, decoded["throughput"], 0.001)
}
