package project

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileChange represents a detected change to the watched project file.
type FileChange struct {
	Path string
	At   time.Time
}

// Watcher monitors a project file for external edits using fsnotify. Rapid
// save bursts (editors often write several events per save) are debounced
// into a single change notification.
type Watcher struct {
	Changes <-chan FileChange // Read-only external channel

	path     string
	debounce time.Duration
	changes  chan FileChange
	done     chan struct{}
	watcher  *fsnotify.Watcher
}

// NewWatcher creates a watcher for the given project file. The containing
// directory is watched rather than the file itself, because atomic saves
// (temp file plus rename) replace the inode the file path points at.
func NewWatcher(path string, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}

	ch := make(chan FileChange, 16)
	w := &Watcher{
		Changes:  ch,
		path:     filepath.Clean(path),
		debounce: debounce,
		changes:  ch,
		done:     make(chan struct{}),
		watcher:  fw,
	}
	return w, nil
}

// Start begins watching for changes.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	go w.loop()
	return nil
}

// Stop closes the watcher and channels.
func (w *Watcher) Stop() {
	w.watcher.Close()
	<-w.done // Wait for loop to exit
	close(w.changes)
}

func (w *Watcher) loop() {
	defer close(w.done)

	var pending time.Time
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				if !pending.IsZero() {
					w.changes <- FileChange{Path: w.path, At: pending}
				}
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				pending = time.Now()
			}

		case _, ok := <-ticker.C:
			if !ok {
				return
			}
			if !pending.IsZero() && time.Since(pending) >= w.debounce {
				w.changes <- FileChange{Path: w.path, At: pending}
				pending = time.Time{}
			}

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Watch errors are non-fatal; the next event still arrives.
		}
	}
}
