package core

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shirou/gopsutil/v3/process"
)

// ErrAlreadyRunning is returned by AcquireDaemonLock when another live
// process holds the daemon lock.
var ErrAlreadyRunning = errors.New("cronwatch daemon is already running")

// DaemonLock is the exclusive lock held by a running daemon. The lock file
// carries the holder's PID for status reporting. Ownership is decided by the
// flock alone; a PID left behind by a crash never blocks a start.
type DaemonLock struct {
	path string
	file *os.File
}

// Status readers hold a shared flock for a few microseconds. A start that
// collides with one retries briefly before reporting ErrAlreadyRunning.
const (
	lockAttempts   = 5
	lockRetryDelay = 10 * time.Millisecond
)

// AcquireDaemonLock takes a non-blocking exclusive flock (LOCK_EX|LOCK_NB)
// on path and records the current PID in it. It fails with an error matching
// ErrAlreadyRunning within lockAttempts*lockRetryDelay if another process
// holds the lock.
func AcquireDaemonLock(path string) (*DaemonLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "creating lock directory")
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "opening lock file")
	}

	if err := flockExclusive(f); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			pid, _ := readPID(path)
			err := errors.Wrapf(ErrAlreadyRunning, "lock %s held by pid %d", path, pid)
			return nil, errors.WithHintf(err, "stop the running daemon first (kill %d) or check `cronwatch status`", pid)
		}
		return nil, errors.Wrap(err, "acquiring daemon lock")
	}

	if err := writePID(f, os.Getpid()); err != nil {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
		return nil, err
	}
	return &DaemonLock{path: path, file: f}, nil
}

func flockExclusive(f *os.File) error {
	var err error
	for attempt := 0; attempt < lockAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(lockRetryDelay)
		}
		err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if !errors.Is(err, syscall.EWOULDBLOCK) {
			return err
		}
	}
	return err
}

// Path returns the lock file path.
func (l *DaemonLock) Path() string {
	return l.path
}

// Release clears the recorded PID and drops the lock. The file is truncated
// rather than removed so every daemon locks the same inode.
func (l *DaemonLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	defer func() {
		_ = l.file.Close()
		l.file = nil
	}()
	if err := l.file.Truncate(0); err != nil {
		return errors.Wrap(err, "clearing lock file")
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		return errors.Wrap(err, "releasing daemon lock")
	}
	return nil
}

func writePID(f *os.File, pid int) error {
	if err := f.Truncate(0); err != nil {
		return errors.Wrap(err, "truncating lock file")
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(pid)+"\n"), 0); err != nil {
		return errors.Wrap(err, "writing pid")
	}
	return errors.Wrap(f.Sync(), "syncing lock file")
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return 0, nil
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, fmt.Errorf("parsing pid in %s: %w", path, err)
	}
	return pid, nil
}

// DaemonStatus describes the daemon as seen from another process.
type DaemonStatus struct {
	Running  bool          `json:"running"`
	PID      int           `json:"pid,omitempty"`
	LockPath string        `json:"lock_path"`
	Started  *time.Time    `json:"started,omitempty"`
	Uptime   time.Duration `json:"uptime,omitempty"`
	RSSBytes uint64        `json:"rss_bytes,omitempty"`
	// Stale is set when the lock file names a PID but nobody holds the lock,
	// typically after a crash.
	Stale bool `json:"stale,omitempty"`
}

// ReadDaemonStatus reports whether a daemon holds the lock at path. The
// lock itself is tested, so a leftover PID from a dead process is reported
// as stale rather than running.
func ReadDaemonStatus(path string) (DaemonStatus, error) {
	status := DaemonStatus{LockPath: path}

	pid, err := readPID(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return status, nil
		}
		return status, err
	}
	status.PID = pid

	held, err := lockHeld(path)
	if err != nil {
		return status, err
	}
	if !held {
		status.Stale = pid > 0
		return status, nil
	}
	status.Running = true

	if pid <= 0 {
		return status, nil
	}
	exists, err := process.PidExists(int32(pid))
	if err != nil || !exists {
		// Held by a process in another PID namespace; nothing more to report.
		return status, nil
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return status, nil
	}
	if ms, err := proc.CreateTime(); err == nil {
		started := time.UnixMilli(ms)
		status.Started = &started
		status.Uptime = time.Since(started).Truncate(time.Second)
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		status.RSSBytes = mem.RSS
	}
	return status, nil
}

// lockHeld tests the lock with a non-blocking shared flock. A daemon starting
// at the same instant sees EWOULDBLOCK and retries in flockExclusive.
func lockHeld(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, errors.Wrap(err, "opening lock file")
	}
	defer func() { _ = f.Close() }()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_SH|syscall.LOCK_NB); err != nil {
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return true, nil
		}
		return false, errors.Wrap(err, "testing daemon lock")
	}
	_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	return false, nil
}
