// Package repository owns the backing sources of an editing session and
// the documents built on them.
//
// Opening the same file twice yields the same Source, so a file is locked
// and cached once per process no matter how many documents view it. Every
// open is counted; CloseSource releases one open and only closes the
// underlying source when the last one goes away and no document still holds
// a segment referencing it. Documents created through the repository
// register themselves so unsafe closes can be reported with the documents
// that block them.
package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/bined/internal/engine/document"
	derrors "github.com/dshills/bined/internal/engine/errors"
	"github.com/dshills/bined/internal/engine/source"
	"github.com/dshills/bined/internal/project/watcher"
)

// ErrClosed is returned by operations on a closed repository.
var ErrClosed = errors.New("repository is closed")

// Change describes an external modification of a file backing a source.
type Change struct {
	Source *source.Source
	Path   string
	Op     watcher.Op
	Time   time.Time
}

// Stats summarizes the repository state.
type Stats struct {
	Sources       int
	FileSources   int
	MemorySources int
	StaleSources  int
	Documents     int
	WatchedFiles  int
	WatchEvents   int64
	WatchErrors   int64
	CacheHits     int64
	CacheMisses   int64
	CachedPages   int
}

// entry tracks one managed source and how many times it was opened.
type entry struct {
	src     *source.Source
	key     string // absolute path for file sources
	handles int
}

// Repository manages sources and documents for one session.
// It is safe for concurrent use; the documents it creates are not.
type Repository struct {
	mu      sync.Mutex
	opts    Options
	log     Logger
	sources map[uuid.UUID]*entry
	byPath  map[string]*entry
	docs    map[uuid.UUID]*document.Document
	order   []uuid.UUID

	watcher  watcher.Watcher
	handlers []ChangeHandler
	cancel   context.CancelFunc
	done     chan struct{}

	closed bool
}

// New creates a repository. When watching is enabled a file watcher is
// started and runs until Close.
func New(opts ...Option) (*Repository, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	r := &Repository{
		opts:    o,
		log:     o.Logger,
		sources: make(map[uuid.UUID]*entry),
		byPath:  make(map[string]*entry),
		docs:    make(map[uuid.UUID]*document.Document),
	}

	if o.Watch {
		if err := r.startWatcher(); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// startWatcher wires a debounced fsnotify watcher to handleChange.
func (r *Repository) startWatcher() error {
	fw, err := watcher.NewFSNotifyWatcher(watcher.WithEventFilter(func(e watcher.Event) bool {
		return e.Op.ChangesContent()
	}))
	if err != nil {
		return derrors.NewIOError("watch", "", err)
	}
	r.watcher = watcher.NewDebouncedWatcher(fw, r.opts.WatchDelay)

	dispatcher := watcher.NewEventDispatcher()
	dispatcher.OnEvent(r.handleChange)
	dispatcher.OnError(func(err error) {
		r.log.Warn("file watcher: %v", err)
	})

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		dispatcher.Run(ctx, r.watcher)
	}()
	return nil
}

// OnExternalChange registers a handler for external modifications of
// watched files. Handlers run on the watcher goroutine.
func (r *Repository) OnExternalChange(h ChangeHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, h)
}

// handleChange marks the affected source stale and notifies handlers.
func (r *Repository) handleChange(e watcher.Event) {
	r.mu.Lock()
	ent, ok := r.byPath[e.Path]
	if !ok || r.closed {
		r.mu.Unlock()
		return
	}
	ent.src.MarkStale()
	handlers := make([]ChangeHandler, len(r.handlers))
	copy(handlers, r.handlers)
	r.mu.Unlock()

	r.log.Warn("source %s changed on disk (%s)", e.Path, e.Op)

	change := Change{Source: ent.src, Path: e.Path, Op: e.Op, Time: e.Timestamp}
	for _, h := range handlers {
		h(change)
	}
}

// OpenFile opens a file source. Opening a path that is already open returns
// the same source and counts one more open.
func (r *Repository) OpenFile(path string) (*source.Source, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, derrors.NewIOError("open", path, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}

	if ent, ok := r.byPath[abs]; ok {
		ent.handles++
		r.log.Debug("reusing source %s (%d opens)", abs, ent.handles)
		return ent.src, nil
	}

	src, err := source.OpenFile(abs,
		source.WithPageSize(r.opts.PageSize),
		source.WithMaxPages(r.opts.MaxPages),
		source.WithLock(r.opts.Lock),
	)
	if err != nil {
		return nil, err
	}

	ent := &entry{src: src, key: abs, handles: 1}
	if r.watcher != nil {
		if err := r.watcher.Watch(abs); err != nil {
			r.log.Warn("cannot watch %s: %v", abs, err)
		}
	}

	r.sources[src.ID()] = ent
	r.byPath[abs] = ent
	r.log.Info("opened source %s (%d bytes)", abs, src.Size())
	return src, nil
}

// OpenMemory creates a memory source over a copy of data.
func (r *Repository) OpenMemory(data []byte) (*source.Source, error) {
	return r.addMemory(source.NewMemory(data))
}

// OpenReader creates a memory source holding everything read from rd.
func (r *Repository) OpenReader(rd io.Reader) (*source.Source, error) {
	src, err := source.NewMemoryFromReader(rd)
	if err != nil {
		return nil, err
	}
	return r.addMemory(src)
}

func (r *Repository) addMemory(src *source.Source) (*source.Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	r.sources[src.ID()] = &entry{src: src, handles: 1}
	r.log.Debug("opened memory source %s (%d bytes)", src.ID(), src.Size())
	return src, nil
}

// CloseSource releases one open of src. The source itself is closed when the
// last open is released. That fails with ErrSourceInUse while any segment
// still references the source; the open is kept so the call can be retried
// after the blocking documents are disposed.
func (r *Repository) CloseSource(src *source.Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ent, ok := r.sources[src.ID()]
	if !ok || ent.src != src {
		return derrors.ErrUnknownSource
	}

	if ent.handles > 1 {
		ent.handles--
		r.log.Debug("released source %s (%d opens left)", r.describe(ent), ent.handles)
		return nil
	}

	if users := r.usersLocked(src); len(users) > 0 || src.Refs() > 0 {
		r.log.Warn("refusing to close source %s: referenced by %d document(s)", r.describe(ent), len(users))
		return fmt.Errorf("close %s: %w", r.describe(ent), derrors.ErrSourceInUse)
	}

	if err := r.closeEntryLocked(ent); err != nil {
		return err
	}
	r.log.Info("closed source %s", r.describe(ent))
	return nil
}

// closeEntryLocked closes the source and forgets the entry.
func (r *Repository) closeEntryLocked(ent *entry) error {
	current := ent.key != "" && r.byPath[ent.key] == ent
	if current {
		r.unwatchLocked(ent.key)
	}
	if err := ent.src.Close(); err != nil {
		return err
	}
	delete(r.sources, ent.src.ID())
	if current {
		delete(r.byPath, ent.key)
	}
	return nil
}

// unwatchLocked stops watching path if it is watched.
func (r *Repository) unwatchLocked(path string) {
	if r.watcher == nil || !r.watcher.IsWatching(path) {
		return
	}
	if err := r.watcher.Unwatch(path); err != nil {
		r.log.Warn("cannot unwatch %s: %v", path, err)
	}
}

// Retire detaches the file source open at path from that path, typically
// after the file was replaced on disk. The next OpenFile of path opens the
// new file. Documents viewing the retired source keep reading the old bytes;
// the source is marked stale and is closed like any other.
func (r *Repository) Retire(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ent, ok := r.byPath[abs]
	if !ok {
		return
	}
	r.unwatchLocked(abs)
	delete(r.byPath, abs)
	ent.src.MarkStale()
	r.log.Debug("retired source %s", abs)
}

// usersLocked returns the live documents referencing src.
func (r *Repository) usersLocked(src *source.Source) []*document.Document {
	var users []*document.Document
	for _, id := range r.order {
		if d := r.docs[id]; d != nil && d.References(src) {
			users = append(users, d)
		}
	}
	return users
}

// Users returns the live documents that hold segments referencing src.
func (r *Repository) Users(src *source.Source) []*document.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usersLocked(src)
}

func (r *Repository) describe(ent *entry) string {
	if ent.key != "" {
		return ent.key
	}
	return "memory:" + ent.src.ID().String()
}

// Source returns the managed source with the given ID.
func (r *Repository) Source(id uuid.UUID) (*source.Source, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ent, ok := r.sources[id]
	if !ok {
		return nil, false
	}
	return ent.src, true
}

// Sources returns every managed source.
func (r *Repository) Sources() []*source.Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*source.Source, 0, len(r.sources))
	for _, ent := range r.sources {
		out = append(out, ent.src)
	}
	return out
}

// NewDocument creates an empty registered document.
func (r *Repository) NewDocument(opts ...document.Option) (*document.Document, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	return document.New(r.documentOptions(opts)...), nil
}

// NewDocumentFromBytes creates a registered document holding a copy of data.
func (r *Repository) NewDocumentFromBytes(data []byte, opts ...document.Option) (*document.Document, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	return document.NewFromBytes(data, r.documentOptions(opts)...), nil
}

// OpenDocument creates a registered document viewing the whole of src.
// src must be managed by this repository.
func (r *Repository) OpenDocument(src *source.Source, opts ...document.Option) (*document.Document, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	ent, ok := r.sources[src.ID()]
	r.mu.Unlock()
	if !ok || ent.src != src {
		return nil, derrors.ErrUnknownSource
	}
	return document.NewFromSource(src, r.documentOptions(opts)...)
}

func (r *Repository) documentOptions(opts []document.Option) []document.Option {
	base := []document.Option{
		document.WithVerify(r.opts.Verify),
		document.WithRegistry(r),
	}
	return append(base, opts...)
}

func (r *Repository) checkOpen() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	return nil
}

// Register implements document.Registry.
func (r *Repository) Register(d *document.Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[d.ID()]; ok {
		return
	}
	r.docs[d.ID()] = d
	r.order = append(r.order, d.ID())
	r.log.Debug("registered document %s", d.ID())
}

// Unregister implements document.Registry.
func (r *Repository) Unregister(d *document.Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[d.ID()]; !ok {
		return
	}
	delete(r.docs, d.ID())
	for i, id := range r.order {
		if id == d.ID() {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.log.Debug("unregistered document %s", d.ID())
}

// Documents returns the live documents in registration order.
func (r *Repository) Documents() []*document.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*document.Document, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.docs[id])
	}
	return out
}

// Stats returns a snapshot of the repository state.
func (r *Repository) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Stats{
		Sources:   len(r.sources),
		Documents: len(r.docs),
	}
	for _, ent := range r.sources {
		switch ent.src.Kind() {
		case source.KindFile:
			st.FileSources++
		case source.KindMemory:
			st.MemorySources++
		}
		if ent.src.IsStale() {
			st.StaleSources++
		}
		cs := ent.src.CacheStats()
		st.CacheHits += cs.Hits
		st.CacheMisses += cs.Misses
		st.CachedPages += cs.Pages
	}
	if r.watcher != nil {
		ws := r.watcher.Stats()
		st.WatchedFiles = ws.WatchedFiles
		st.WatchEvents = ws.TotalEvents
		st.WatchErrors = ws.Errors
	}
	return st
}

// Close disposes every live document, closes every source and stops the
// file watcher. The repository cannot be used afterwards.
func (r *Repository) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	docs := make([]*document.Document, 0, len(r.order))
	for _, id := range r.order {
		docs = append(docs, r.docs[id])
	}
	r.mu.Unlock()

	// Dispose calls back into Unregister.
	for _, d := range docs {
		d.Dispose()
	}

	r.mu.Lock()
	var errs []error
	for _, ent := range r.sources {
		if err := r.closeEntryLocked(ent); err != nil {
			errs = append(errs, err)
		}
	}
	r.mu.Unlock()

	if r.watcher != nil {
		r.cancel()
		if err := r.watcher.Close(); err != nil {
			errs = append(errs, err)
		}
		<-r.done
	}

	r.log.Info("repository closed")
	return errors.Join(errs...)
}
