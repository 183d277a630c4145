//go:build unix

package observability

import (
	"os"
	"syscall"
)

func fileKey(info os.FileInfo) (device, inode uint64) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0
	}
	// Dev is int32 on darwin.
	return uint64(st.Dev), uint64(st.Ino)
}
