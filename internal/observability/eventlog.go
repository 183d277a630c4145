package observability

import (
	"bufio"
	"io"
	"os"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"

	"github.com/valter-silva-au/cronwatch/pkg/models"
)

// HeadSize is how many leading bytes of the source log are checksummed to
// recognise the same file instance across polls.
const HeadSize = 256

// Batch is the set of complete lines read by one Poll. The tailer does not
// move past them until the batch is committed.
type Batch struct {
	Lines []string
	// Reset is true when rotation or truncation was detected and the batch
	// was read from the start of the file.
	Reset bool

	next models.TailCursor
}

// Cursor returns the position the tailer will hold once b is committed.
func (b Batch) Cursor() models.TailCursor {
	return b.next
}

// Tailer reads newline-terminated lines appended to a single log file. It
// owns its cursor; nothing else mutates it. A Tailer is not safe for
// concurrent use.
type Tailer struct {
	path   string
	cursor models.TailCursor
}

// NewTailer creates a Tailer for path. A nil cursor, or one saved for a
// different path, starts from the beginning of the file.
func NewTailer(path string, cursor *models.TailCursor) *Tailer {
	t := &Tailer{path: path, cursor: models.TailCursor{Path: path}}
	if cursor != nil && cursor.Path == path {
		t.cursor = *cursor
	}
	return t
}

// Path returns the file being tailed.
func (t *Tailer) Path() string {
	return t.path
}

// Cursor returns the last committed position.
func (t *Tailer) Cursor() models.TailCursor {
	return t.cursor
}

// Poll returns the complete lines appended since the committed cursor. A
// trailing line without a newline is left for a later poll. If the file
// does not exist the batch is empty. If the file was replaced or shrank the
// batch is read from offset zero and Reset is set.
func (t *Tailer) Poll() (Batch, error) {
	f, err := os.Open(t.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Batch{next: t.cursor}, nil
		}
		return Batch{}, errors.Wrapf(err, "open %s", t.path)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return Batch{}, errors.Wrapf(err, "stat %s", t.path)
	}
	size := info.Size()

	offset := t.cursor.Offset
	reset := false
	if size < offset {
		reset = true
	} else if !t.cursor.Identity.IsZero() {
		same, err := sameInstance(f, info, t.cursor.Identity)
		if err != nil {
			return Batch{}, err
		}
		reset = !same
	}
	if reset {
		offset = 0
	}

	identity, err := fingerprint(f, info)
	if err != nil {
		return Batch{}, err
	}

	lines, consumed, err := readLines(f, offset, size-offset)
	if err != nil {
		return Batch{}, errors.Wrapf(err, "read %s", t.path)
	}

	return Batch{
		Lines: lines,
		Reset: reset,
		next: models.TailCursor{
			Path:      t.path,
			Offset:    offset + consumed,
			Identity:  identity,
			UpdatedAt: time.Now().UTC(),
		},
	}, nil
}

// Commit advances the cursor past b. Call it only after every line in b has
// been handled.
func (t *Tailer) Commit(b Batch) {
	if b.next.Path == "" {
		return
	}
	t.cursor = b.next
}

// readLines reads at most limit bytes from offset and splits them into
// complete lines. consumed counts only the bytes of complete lines.
func readLines(f *os.File, offset, limit int64) ([]string, int64, error) {
	if limit <= 0 {
		return nil, 0, nil
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, 0, err
	}

	r := bufio.NewReader(io.LimitReader(f, limit))
	var (
		lines    []string
		consumed int64
	)
	for {
		line, err := r.ReadString('\n')
		if err == io.EOF {
			// Partial line still being written.
			return lines, consumed, nil
		}
		if err != nil {
			return nil, 0, err
		}
		consumed += int64(len(line))
		lines = append(lines, strings.TrimRight(line, "\r\n"))
	}
}

func fingerprint(f *os.File, info os.FileInfo) (models.FileIdentity, error) {
	device, inode := fileKey(info)
	headLen := min(info.Size(), HeadSize)
	sum, err := headSum(f, headLen)
	if err != nil {
		return models.FileIdentity{}, err
	}
	return models.FileIdentity{
		Device:  device,
		Inode:   inode,
		HeadLen: headLen,
		HeadSum: sum,
	}, nil
}

// sameInstance reports whether f is still the file described by id: same
// device and inode where the platform provides them, and unchanged leading
// bytes.
func sameInstance(f *os.File, info os.FileInfo, id models.FileIdentity) (bool, error) {
	device, inode := fileKey(info)
	if device != id.Device || inode != id.Inode {
		return false, nil
	}
	if info.Size() < id.HeadLen {
		return false, nil
	}
	sum, err := headSum(f, id.HeadLen)
	if err != nil {
		return false, err
	}
	return sum == id.HeadSum, nil
}

func headSum(f *os.File, n int64) (uint64, error) {
	if n <= 0 {
		return 0, nil
	}
	buf := make([]byte, n)
	if _, err := f.ReadAt(buf, 0); err != nil && !errors.Is(err, io.EOF) {
		return 0, errors.Wrap(err, "checksum file head")
	}
	return xxhash.Sum64(buf), nil
}
