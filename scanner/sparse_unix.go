//go:build !windows

package scanner

import (
	"os"
	"syscall"
)

// isSparse reports whether info's file is sparse: allocated blocks
// cover less than the reported size by at least one 512-byte block
// (§4.6 Sparse detection). Returns false if the platform stat struct
// isn't available.
func isSparse(info os.FileInfo) bool {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return false
	}

	allocated := int64(st.Blocks) * 512

	return allocated+512 <= info.Size()
}
