package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FSNotifyWatcher implements Watcher using fsnotify.
type FSNotifyWatcher struct {
	mu sync.RWMutex

	// fsnotify watcher
	watcher *fsnotify.Watcher

	// Optional; events it rejects are dropped
	filter EventFilter

	// Watched files, and how many of them live in each directory
	files map[string]bool
	dirs  map[string]int

	// Output channels
	events chan Event
	errors chan error

	// Stats
	startTime   time.Time
	totalEvents int64
	totalErrors int64
	lastError   error

	// Lifecycle
	closed   bool
	closeCh  chan struct{}
	closedWg sync.WaitGroup
}

// NewFSNotifyWatcher creates a new fsnotify-based watcher.
func NewFSNotifyWatcher(opts ...WatcherOption) (*FSNotifyWatcher, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &FSNotifyWatcher{
		watcher:   fsw,
		filter:    o.filter,
		files:     make(map[string]bool),
		dirs:      make(map[string]int),
		events:    make(chan Event, bufferSize),
		errors:    make(chan error, bufferSize),
		startTime: time.Now(),
		closeCh:   make(chan struct{}),
	}

	w.closedWg.Add(1)
	go w.processLoop()

	return w, nil
}

// Watch starts watching a regular file. The parent directory is registered
// with the OS the first time one of its files is watched.
func (w *FSNotifyWatcher) Watch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrPathNotExist
		}
		return err
	}
	if !info.Mode().IsRegular() {
		return ErrNotRegularFile
	}

	if w.files[absPath] {
		return ErrAlreadyWatching
	}

	dir := filepath.Dir(absPath)
	if w.dirs[dir] == 0 {
		if err := w.watcher.Add(dir); err != nil {
			return err
		}
	}
	w.dirs[dir]++
	w.files[absPath] = true
	return nil
}

// Unwatch stops watching a file. The parent directory is released once no
// watched file remains in it.
func (w *FSNotifyWatcher) Unwatch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	if !w.files[absPath] {
		return ErrNotWatching
	}
	delete(w.files, absPath)

	dir := filepath.Dir(absPath)
	w.dirs[dir]--
	if w.dirs[dir] > 0 {
		return nil
	}
	delete(w.dirs, dir)
	if err := w.watcher.Remove(dir); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
		return err
	}
	return nil
}

// Events returns the event channel.
func (w *FSNotifyWatcher) Events() <-chan Event {
	return w.events
}

// Errors returns the error channel.
func (w *FSNotifyWatcher) Errors() <-chan error {
	return w.errors
}

// Close stops the watcher.
func (w *FSNotifyWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	// Wait for processLoop to finish
	w.closedWg.Wait()

	close(w.events)
	close(w.errors)

	return w.watcher.Close()
}

// Stats returns watcher statistics.
func (w *FSNotifyWatcher) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return Stats{
		WatchedFiles:  len(w.files),
		WatchedDirs:   len(w.dirs),
		PendingEvents: len(w.events),
		TotalEvents:   atomic.LoadInt64(&w.totalEvents),
		Errors:        atomic.LoadInt64(&w.totalErrors),
		LastError:     w.lastError,
		StartTime:     w.startTime,
	}
}

// IsWatching returns true if the file is being watched.
func (w *FSNotifyWatcher) IsWatching(path string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return w.files[absPath]
}

// processLoop handles incoming fsnotify events.
func (w *FSNotifyWatcher) processLoop() {
	defer w.closedWg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case fsEvent, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(fsEvent)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.recordError(err)
			w.sendError(err)
		}
	}
}

// handleFSEvent converts an fsnotify event and dispatches it when it
// concerns a watched file.
func (w *FSNotifyWatcher) handleFSEvent(fsEvent fsnotify.Event) {
	op := convertOp(fsEvent.Op)
	if op == 0 {
		return
	}

	w.mu.RLock()
	watched := w.files[filepath.Clean(fsEvent.Name)]
	w.mu.RUnlock()
	if !watched {
		return
	}

	event := Event{
		Path:      filepath.Clean(fsEvent.Name),
		Op:        op,
		Timestamp: time.Now(),
	}

	if w.filter != nil && !w.filter(event) {
		return
	}

	w.sendEvent(event)
}

// convertOp converts fsnotify.Op to watcher.Op.
func convertOp(fsOp fsnotify.Op) Op {
	var op Op
	if fsOp.Has(fsnotify.Create) {
		op |= OpCreate
	}
	if fsOp.Has(fsnotify.Write) {
		op |= OpWrite
	}
	if fsOp.Has(fsnotify.Remove) {
		op |= OpRemove
	}
	if fsOp.Has(fsnotify.Rename) {
		op |= OpRename
	}
	if fsOp.Has(fsnotify.Chmod) {
		op |= OpChmod
	}
	return op
}

// sendEvent sends an event to the output channel.
func (w *FSNotifyWatcher) sendEvent(event Event) {
	select {
	case w.events <- event:
		atomic.AddInt64(&w.totalEvents, 1)
	default:
		// Channel full, drop event
		w.recordError(errors.New("event channel full, dropping event"))
	}
}

// sendError sends an error to the output channel.
func (w *FSNotifyWatcher) sendError(err error) {
	select {
	case w.errors <- err:
	default:
	}
}

// recordError records an error in stats.
func (w *FSNotifyWatcher) recordError(err error) {
	atomic.AddInt64(&w.totalErrors, 1)
	w.mu.Lock()
	w.lastError = err
	w.mu.Unlock()
}

// Ensure FSNotifyWatcher implements Watcher.
var _ Watcher = (*FSNotifyWatcher)(nil)
