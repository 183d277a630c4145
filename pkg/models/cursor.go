package models

import "time"

// FileIdentity fingerprints one instance of the source log so that rotation
// (a new file at the same path) and in-place truncation can be told apart
// from ordinary appends.
type FileIdentity struct {
	Device  uint64 `json:"device"`
	Inode   uint64 `json:"inode"`
	HeadLen int64  `json:"head_len"`
	HeadSum uint64 `json:"head_sum"`
}

// IsZero reports whether no identity has been recorded yet.
func (id FileIdentity) IsZero() bool {
	return id == FileIdentity{}
}

// TailCursor records how far into the source log has been consumed.
type TailCursor struct {
	Path      string       `json:"path"`
	Offset    int64        `json:"offset"`
	Identity  FileIdentity `json:"identity"`
	UpdatedAt time.Time    `json:"updated_at"`
}
