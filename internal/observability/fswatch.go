package observability

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// FileWatcher signals when the source log is written, created or replaced.
// It watches the parent directory so a log recreated after rotation is
// still seen. Signals are coalesced: at most one is pending at a time.
type FileWatcher struct {
	path    string
	dir     string
	watched string
	watcher *fsnotify.Watcher
	wake    chan struct{}
	logger  *zap.SugaredLogger
}

// WatchFile starts watching path. Directories belong to the producer and are
// never created here: while the parent is missing, the nearest existing
// ancestor is watched and the watch moves down as directories appear.
func WatchFile(path string, logger *zap.SugaredLogger) (*FileWatcher, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	path = filepath.Clean(path)
	watched, err := nearestDir(path)
	if err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "creating file watcher")
	}
	if err := w.Add(watched); err != nil {
		_ = w.Close()
		return nil, errors.Wrapf(err, "watching %s", watched)
	}

	return &FileWatcher{
		path:    path,
		dir:     filepath.Dir(path),
		watched: watched,
		watcher: w,
		wake:    make(chan struct{}, 1),
		logger:  logger,
	}, nil
}

// nearestDir returns the closest existing directory on the way up from the
// parent of path.
func nearestDir(path string) (string, error) {
	dir := filepath.Dir(path)
	for {
		info, err := os.Stat(dir)
		if err == nil {
			if !info.IsDir() {
				return "", errors.Newf("%s is not a directory", dir)
			}
			return dir, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", errors.Wrapf(err, "inspecting %s", dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.Wrapf(err, "no existing directory above %s", path)
		}
		dir = parent
	}
}

// Wake receives a value after the watched file changes.
func (fw *FileWatcher) Wake() <-chan struct{} {
	return fw.wake
}

// Run forwards file events to Wake until ctx is done or the watcher is
// closed.
func (fw *FileWatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Clean(event.Name)
			if fw.watched != fw.dir && event.Has(fsnotify.Create) && onPathTo(name, fw.dir) {
				fw.descend()
				continue
			}
			if name != fw.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			fw.signal()
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warnw("File watcher error", "path", fw.path, "error", err)
		}
	}
}

// descend moves the watch to the deepest directory that now exists. The log
// may have been written before the new watch was in place, so its presence
// counts as a change.
func (fw *FileWatcher) descend() {
	for {
		next, err := nearestDir(fw.path)
		if err != nil || next == fw.watched {
			break
		}
		if err := fw.watcher.Add(next); err != nil {
			fw.logger.Warnw("File watcher could not follow new directory", "dir", next, "error", err)
			return
		}
		_ = fw.watcher.Remove(fw.watched)
		fw.watched = next
	}
	if fw.watched != fw.dir {
		return
	}
	if _, err := os.Stat(fw.path); err == nil {
		fw.signal()
	}
}

func (fw *FileWatcher) signal() {
	select {
	case fw.wake <- struct{}{}:
	default:
	}
}

// onPathTo reports whether name is dir or one of its ancestors.
func onPathTo(name, dir string) bool {
	return name == dir || strings.HasPrefix(dir, name+string(filepath.Separator))
}

// Close stops watching.
func (fw *FileWatcher) Close() error {
	return fw.watcher.Close()
}
