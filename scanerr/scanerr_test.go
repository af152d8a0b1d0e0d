package scanerr_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/blake3vault/scancore/scanerr"
)

func TestIsKind(t *testing.T) {
	err := scanerr.New(scanerr.OutOfMemory, "", nil)
	wrapped := errors.Wrap(err, "acquiring buffer")

	require.True(t, errors.Is(wrapped, scanerr.Sentinel(scanerr.OutOfMemory)))
	require.False(t, errors.Is(wrapped, scanerr.Sentinel(scanerr.Timeout)))
	require.True(t, scanerr.OfKind(wrapped, scanerr.OutOfMemory))
}

func TestHashErrorMessage(t *testing.T) {
	err := scanerr.NewHashError("/a/b.txt", 3, errors.New("boom"))
	require.Contains(t, err.Error(), "chunk 3")
	require.Contains(t, err.Error(), "/a/b.txt")
	require.Contains(t, err.Error(), "boom")
}
