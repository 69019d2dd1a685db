// Package watcher reports external changes to files backing open sources.
//
// Files are watched through their parent directory so that replacements made
// by rename (the usual way editors and build tools save) are still observed
// after the original inode goes away. Events for unrelated files in the same
// directory are filtered out. A DebouncedWatcher coalesces bursts of writes
// to one file into a single event.
package watcher

import (
	"context"
	"errors"
	"time"
)

// Common errors returned by watcher operations.
var (
	ErrWatcherClosed   = errors.New("watcher is closed")
	ErrAlreadyWatching = errors.New("file is already being watched")
	ErrNotWatching     = errors.New("file is not being watched")
	ErrPathNotExist    = errors.New("path does not exist")
	ErrNotRegularFile  = errors.New("path is not a regular file")
)

// Op represents the type of file system operation.
type Op uint32

const (
	// OpCreate indicates the file was created, usually by a replacing rename.
	OpCreate Op = 1 << iota
	// OpWrite indicates the file was written to.
	OpWrite
	// OpRemove indicates the file was removed.
	OpRemove
	// OpRename indicates the file was renamed away.
	OpRename
	// OpChmod indicates file permissions were changed.
	OpChmod
)

// String returns a human-readable representation of the operation.
func (op Op) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpWrite:
		return "WRITE"
	case OpRemove:
		return "REMOVE"
	case OpRename:
		return "RENAME"
	case OpChmod:
		return "CHMOD"
	default:
		return "UNKNOWN"
	}
}

// Has returns true if the operation includes the given op.
func (op Op) Has(o Op) bool {
	return op&o == o
}

// ChangesContent returns true if the operation can alter the bytes a reader
// of the path observes. Permission changes do not.
func (op Op) ChangesContent() bool {
	return op&(OpCreate|OpWrite|OpRemove|OpRename) != 0
}

// Event represents a change to a watched file.
type Event struct {
	// Path is the absolute path of the watched file.
	Path string

	// Op is the operation that occurred. Debounced events may combine several.
	Op Op

	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// Stats provides watcher status information.
type Stats struct {
	// WatchedFiles is the number of files being watched.
	WatchedFiles int

	// WatchedDirs is the number of directories registered with the OS.
	WatchedDirs int

	// PendingEvents is the number of events waiting to be delivered.
	PendingEvents int

	// TotalEvents is the total number of events delivered.
	TotalEvents int64

	// Errors is the total number of errors encountered.
	Errors int64

	// LastError is the most recent error, if any.
	LastError error

	// StartTime is when the watcher was started.
	StartTime time.Time
}

// Watcher monitors individual files.
type Watcher interface {
	// Watch starts watching a regular file.
	// Returns ErrAlreadyWatching if the file is already being watched.
	Watch(path string) error

	// Unwatch stops watching a file.
	// Returns ErrNotWatching if the file isn't being watched.
	Unwatch(path string) error

	// Events returns the channel of file change events.
	// The channel is closed when the watcher is closed.
	Events() <-chan Event

	// Errors returns the channel of watcher errors.
	// The channel is closed when the watcher is closed.
	Errors() <-chan error

	// Close stops the watcher and releases resources.
	Close() error

	// Stats returns watcher statistics.
	Stats() Stats

	// IsWatching returns true if the file is being watched.
	IsWatching(path string) bool
}

// Handler is a function that handles file events.
type Handler func(event Event)

// ErrorHandler is a function that handles watcher errors.
type ErrorHandler func(err error)

// EventFilter is a function that filters events.
// Return true to keep the event, false to discard it.
type EventFilter func(event Event) bool

// DefaultDebounceDelay is the coalescing window NewDebouncedWatcher uses
// when given no positive delay.
const DefaultDebounceDelay = 100 * time.Millisecond

// bufferSize is the capacity of every event and error channel.
const bufferSize = 64

type options struct {
	filter EventFilter
}

// WatcherOption configures NewFSNotifyWatcher.
type WatcherOption func(*options)

// WithEventFilter drops events for which filter returns false.
func WithEventFilter(filter EventFilter) WatcherOption {
	return func(o *options) {
		o.filter = filter
	}
}

// EventDispatcher manages event handlers and dispatches events.
type EventDispatcher struct {
	handlers      []Handler
	errorHandlers []ErrorHandler
}

// NewEventDispatcher creates a new event dispatcher.
func NewEventDispatcher() *EventDispatcher {
	return &EventDispatcher{}
}

// OnEvent registers a handler for file events.
func (d *EventDispatcher) OnEvent(handler Handler) {
	d.handlers = append(d.handlers, handler)
}

// OnError registers a handler for errors.
func (d *EventDispatcher) OnError(handler ErrorHandler) {
	d.errorHandlers = append(d.errorHandlers, handler)
}

// Dispatch sends an event to all handlers.
func (d *EventDispatcher) Dispatch(event Event) {
	for _, handler := range d.handlers {
		handler(event)
	}
}

// DispatchError sends an error to all error handlers.
func (d *EventDispatcher) DispatchError(err error) {
	for _, handler := range d.errorHandlers {
		handler(err)
	}
}

// Run listens to a watcher and dispatches events until ctx is cancelled or
// the watcher is closed.
func (d *EventDispatcher) Run(ctx context.Context, w Watcher) {
	events, errs := w.Events(), w.Errors()
	for events != nil || errs != nil {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			d.Dispatch(event)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			d.DispatchError(err)
		}
	}
}
