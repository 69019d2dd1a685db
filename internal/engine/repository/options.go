package repository

import (
	"time"

	"github.com/dshills/bined/internal/engine/pagecache"
)

// Logger is the logging interface used by the repository. The application
// logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// NopLogger discards every message.
var NopLogger Logger = nopLogger{}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}

// ChangeHandler is called when a watched file changes on disk. The source
// has already been marked stale.
type ChangeHandler func(change Change)

// Options configures a Repository.
type Options struct {
	// PageSize is the page cache page size for file sources.
	PageSize int

	// MaxPages is the page cache capacity for file sources.
	MaxPages int

	// Lock takes an exclusive advisory lock on opened files.
	Lock bool

	// Watch reports external modifications of opened files.
	Watch bool

	// WatchDelay coalesces bursts of file events.
	WatchDelay time.Duration

	// Verify validates segment structure after every document mutation.
	Verify bool

	// Logger receives repository events. Defaults to a no-op logger.
	Logger Logger
}

// DefaultOptions returns the default repository options.
func DefaultOptions() Options {
	return Options{
		PageSize:   pagecache.DefaultPageSize,
		MaxPages:   pagecache.DefaultMaxPages,
		Lock:       true,
		WatchDelay: 100 * time.Millisecond,
		Logger:     nopLogger{},
	}
}

// Option is a functional option for configuring a Repository.
type Option func(*Options)

// WithPageSize sets the page size of file source caches.
func WithPageSize(size int) Option {
	return func(o *Options) {
		o.PageSize = size
	}
}

// WithMaxPages sets the page capacity of file source caches.
func WithMaxPages(n int) Option {
	return func(o *Options) {
		o.MaxPages = n
	}
}

// WithLock enables or disables exclusive file locks.
func WithLock(enable bool) Option {
	return func(o *Options) {
		o.Lock = enable
	}
}

// WithWatch enables or disables watching opened files for external changes.
func WithWatch(enable bool) Option {
	return func(o *Options) {
		o.Watch = enable
	}
}

// WithWatchDelay sets the debounce window for file events.
func WithWatchDelay(d time.Duration) Option {
	return func(o *Options) {
		o.WatchDelay = d
	}
}

// WithVerify makes every document created by the repository validate its
// segment structure after each mutation.
func WithVerify(enable bool) Option {
	return func(o *Options) {
		o.Verify = enable
	}
}

// WithLogger sets the repository logger.
func WithLogger(l Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}
