// Package source provides the read-only backing stores that source-range
// segments point into.
//
// A Source is either an opened file, read through a page cache and held
// under an exclusive lock, or an immutable in-memory buffer. Every segment
// that references a Source holds one reference; Close refuses to release the
// underlying file while any reference remains.
package source

import (
	"bytes"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	derrors "github.com/dshills/bined/internal/engine/errors"
	"github.com/dshills/bined/internal/engine/pagecache"
)

var errIsDirectory = errors.New("is a directory")

// Kind identifies the storage behind a Source.
type Kind uint8

const (
	KindFile   Kind = iota // Opened file read through a page cache
	KindMemory             // Immutable byte buffer
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindMemory:
		return "memory"
	default:
		return "unknown"
	}
}

// Source is a read-only backing store shared by any number of segments.
// Reads are safe for concurrent use.
type Source struct {
	id   uuid.UUID
	kind Kind
	path string
	size int64

	file   *os.File
	cache  *pagecache.Cache
	data   []byte
	locked bool

	refs   atomic.Int64
	closed atomic.Bool
	stale  atomic.Bool

	closeMu sync.Mutex
}

// Options configures how a Source is opened.
type Options struct {
	PageSize int
	MaxPages int
	Lock     bool
}

// DefaultOptions returns the default source options.
func DefaultOptions() Options {
	return Options{
		PageSize: pagecache.DefaultPageSize,
		MaxPages: pagecache.DefaultMaxPages,
		Lock:     true,
	}
}

// Option configures a Source.
type Option func(*Options)

// WithPageSize sets the page cache page size.
func WithPageSize(size int) Option {
	return func(o *Options) {
		o.PageSize = size
	}
}

// WithMaxPages sets the page cache budget.
func WithMaxPages(n int) Option {
	return func(o *Options) {
		o.MaxPages = n
	}
}

// WithLock enables or disables the exclusive file lock.
func WithLock(enable bool) Option {
	return func(o *Options) {
		o.Lock = enable
	}
}

// OpenFile opens path read-only, takes an exclusive lock on it when enabled,
// and wraps it in a page cache.
func OpenFile(path string, opts ...Option) (*Source, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, derrors.NewIOError("open", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, derrors.NewIOError("stat", path, err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, derrors.NewIOError("open", path, errIsDirectory)
	}

	if o.Lock {
		if err := lockFile(f); err != nil {
			_ = f.Close()
			return nil, derrors.NewIOError("lock", path, err)
		}
	}

	s := &Source{
		id:     uuid.New(),
		kind:   KindFile,
		path:   path,
		size:   info.Size(),
		file:   f,
		locked: o.Lock,
	}
	s.cache = pagecache.New(f, s.size,
		pagecache.WithPageSize(o.PageSize),
		pagecache.WithMaxPages(o.MaxPages),
		pagecache.WithName(path),
	)
	return s, nil
}

// NewMemory creates a Source over a private copy of data.
func NewMemory(data []byte) *Source {
	buf := make([]byte, len(data))
	copy(buf, data)
	return &Source{
		id:   uuid.New(),
		kind: KindMemory,
		size: int64(len(buf)),
		data: buf,
	}
}

// NewMemoryFromReader creates a memory Source holding everything read from r.
func NewMemoryFromReader(r io.Reader) (*Source, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, derrors.NewIOError("read", "", err)
	}
	return &Source{
		id:   uuid.New(),
		kind: KindMemory,
		size: int64(buf.Len()),
		data: buf.Bytes(),
	}, nil
}

// ID returns the unique identifier of the source.
func (s *Source) ID() uuid.UUID { return s.id }

// Kind returns the storage kind.
func (s *Source) Kind() Kind { return s.kind }

// Path returns the file path, or "" for memory sources.
func (s *Source) Path() string { return s.path }

// Size returns the number of bytes in the source.
func (s *Source) Size() int64 { return s.size }

// Locked returns true if the source holds an exclusive file lock.
func (s *Source) Locked() bool { return s.locked }

// ByteAt returns the byte at offset.
func (s *Source) ByteAt(offset int64) (byte, error) {
	if s.closed.Load() {
		return 0, derrors.NewIOError("read", s.path, derrors.ErrSourceClosed)
	}
	if offset < 0 || offset >= s.size {
		return 0, derrors.NewBoundsError("read", offset, 0, s.size)
	}
	if s.kind == KindMemory {
		return s.data[offset], nil
	}
	return s.cache.ByteAt(offset)
}

// ReadAt implements io.ReaderAt.
func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	if s.closed.Load() {
		return 0, derrors.NewIOError("read", s.path, derrors.ErrSourceClosed)
	}
	if s.kind == KindMemory {
		if off < 0 {
			return 0, derrors.NewBoundsError("read", off, int64(len(p)), s.size)
		}
		if off >= s.size {
			if len(p) == 0 {
				return 0, nil
			}
			return 0, io.EOF
		}
		n := copy(p, s.data[off:])
		if n < len(p) {
			return n, io.EOF
		}
		return n, nil
	}
	return s.cache.ReadAt(p, off)
}

// CacheStats returns page cache counters. Memory sources report zero values.
func (s *Source) CacheStats() pagecache.Stats {
	if s.cache == nil {
		return pagecache.Stats{}
	}
	return s.cache.Stats()
}

// Retain records the first reference of a new holder. It fails once the
// source is closed; Close and Retain are serialized, so a successful Retain
// keeps the source open until the matching Release.
func (s *Source) Retain() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed.Load() {
		return derrors.NewIOError("retain", s.path, derrors.ErrSourceClosed)
	}
	s.refs.Add(1)
	return nil
}

// Share records one more reference on behalf of a holder that already has
// one. A held source cannot close, so Share never fails.
func (s *Source) Share() {
	s.refs.Add(1)
}

// Release drops one reference taken by Retain.
func (s *Source) Release() {
	if s.refs.Add(-1) < 0 {
		panic("source: reference count below zero")
	}
}

// Refs returns the number of live references.
func (s *Source) Refs() int64 {
	return s.refs.Load()
}

// MarkStale flags the source as modified behind the engine's back.
func (s *Source) MarkStale() {
	s.stale.Store(true)
}

// IsStale returns true if an external modification was detected.
func (s *Source) IsStale() bool {
	return s.stale.Load()
}

// IsClosed returns true if the source has been closed.
func (s *Source) IsClosed() bool {
	return s.closed.Load()
}

// Close releases the file handle and lock. It fails with ErrSourceInUse
// while any segment still references the source.
func (s *Source) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	if s.closed.Load() {
		return nil
	}
	if s.refs.Load() > 0 {
		return derrors.ErrSourceInUse
	}

	s.closed.Store(true)
	if s.cache != nil {
		s.cache.Purge()
	}

	if s.file == nil {
		return nil
	}
	if s.locked {
		_ = unlockFile(s.file)
	}
	if err := s.file.Close(); err != nil {
		return derrors.NewIOError("close", s.path, err)
	}
	return nil
}
