package watch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoalesceCreateThenModifyBecomesCreateWithLastSize(t *testing.T) {
	t1 := time.Now()
	t2 := t1.Add(10 * time.Millisecond)

	events := []FileChangeEvent{
		{Path: "/a", Kind: KindCreate, Size: 0, Timestamp: t1},
		{Path: "/a", Kind: KindModify, Size: 42, Timestamp: t2},
	}

	out := coalesce(events)

	require.Len(t, out, 1)
	assert.Equal(t, KindCreate, out[0].Kind)
	assert.Equal(t, int64(42), out[0].Size)
}

func TestCoalesceAnyThenDeleteBecomesDelete(t *testing.T) {
	events := []FileChangeEvent{
		{Path: "/a", Kind: KindCreate},
		{Path: "/a", Kind: KindModify},
		{Path: "/a", Kind: KindDelete},
	}

	out := coalesce(events)

	require.Len(t, out, 1)
	assert.Equal(t, KindDelete, out[0].Kind)
}

func TestCoalesceRepeatedModifyBecomesSingleModifyWithLastSize(t *testing.T) {
	events := []FileChangeEvent{
		{Path: "/a", Kind: KindModify, Size: 1},
		{Path: "/a", Kind: KindModify, Size: 2},
		{Path: "/a", Kind: KindModify, Size: 3},
	}

	out := coalesce(events)

	require.Len(t, out, 1)
	assert.Equal(t, KindModify, out[0].Kind)
	assert.Equal(t, int64(3), out[0].Size)
}

func TestCoalesceEmitsAtMostOneEventPerPath(t *testing.T) {
	events := []FileChangeEvent{
		{Path: "/z", Kind: KindCreate},
		{Path: "/a", Kind: KindCreate},
		{Path: "/a", Kind: KindModify},
		{Path: "/m", Kind: KindDelete},
		{Path: "/z", Kind: KindModify},
	}

	out := coalesce(events)

	seen := make(map[string]int)
	for _, e := range out {
		seen[e.Path]++
	}

	for path, count := range seen {
		assert.Equal(t, 1, count, "path %s appeared %d times", path, count)
	}
}

func TestCoalesceEmitsInPathOrder(t *testing.T) {
	events := []FileChangeEvent{
		{Path: "/z", Kind: KindCreate},
		{Path: "/a", Kind: KindCreate},
		{Path: "/m", Kind: KindCreate},
	}

	out := coalesce(events)

	require.Len(t, out, 3)
	assert.Equal(t, []string{"/a", "/m", "/z"}, []string{out[0].Path, out[1].Path, out[2].Path})
}

func TestCoalesceOverflowSuppressesAllOtherEvents(t *testing.T) {
	events := []FileChangeEvent{
		{Path: "/a", Kind: KindCreate},
		{Path: "/root", Kind: KindOverflow},
		{Path: "/b", Kind: KindModify},
	}

	out := coalesce(events)

	require.Len(t, out, 1)
	assert.Equal(t, KindOverflow, out[0].Kind)
}

func TestCoalesceDeleteThenRecreateBecomesCreate(t *testing.T) {
	events := []FileChangeEvent{
		{Path: "/a", Kind: KindDelete},
		{Path: "/a", Kind: KindCreate, Size: 7},
	}

	out := coalesce(events)

	require.Len(t, out, 1)
	assert.Equal(t, KindCreate, out[0].Kind)
	assert.Equal(t, int64(7), out[0].Size)
}
