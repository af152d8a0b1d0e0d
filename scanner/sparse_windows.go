//go:build windows

package scanner

import "os"

// isSparse always reports false on Windows: the allocated-blocks
// signal this package uses isn't exposed through os.FileInfo.Sys()
// there.
func isSparse(info os.FileInfo) bool {
	return false
}
