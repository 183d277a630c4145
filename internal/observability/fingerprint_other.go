//go:build !unix

package observability

import "os"

// fileKey has no device/inode pair to offer here; rotation is detected from
// the size and head checksum alone.
func fileKey(os.FileInfo) (device, inode uint64) {
	return 0, 0
}
