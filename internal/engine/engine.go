package engine

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/dshills/bined/internal/engine/document"
	derrors "github.com/dshills/bined/internal/engine/errors"
	"github.com/dshills/bined/internal/engine/repository"
	"github.com/dshills/bined/internal/engine/source"
)

// Re-export commonly used types for convenience.
type (
	// Document is a mutable byte sequence assembled from segments.
	Document = document.Document

	// SegmentInfo describes one segment of a document.
	SegmentInfo = document.SegmentInfo

	// Source is an immutable backing source.
	Source = source.Source

	// Change describes an external modification of an opened file.
	Change = repository.Change

	// Stats summarizes the repository state.
	Stats = repository.Stats

	// Logger receives session and repository events.
	Logger = repository.Logger
)

// Session ties a repository to the documents opened through it. Documents
// opened from files remember their source so closing the document also
// releases the file.
type Session struct {
	mu       sync.Mutex
	repo     *repository.Repository
	log      Logger
	repoOpts []repository.Option
	owned    map[uuid.UUID]*source.Source
}

// NewSession creates a session.
func NewSession(opts ...Option) (*Session, error) {
	s := &Session{
		log:   repository.NopLogger,
		owned: make(map[uuid.UUID]*source.Source),
	}
	for _, opt := range opts {
		opt(s)
	}

	repo, err := repository.New(append(s.repoOpts, repository.WithLogger(s.log))...)
	if err != nil {
		return nil, err
	}
	s.repo = repo
	return s, nil
}

// Repository returns the underlying repository.
func (s *Session) Repository() *repository.Repository {
	return s.repo
}

// OpenFile opens path and returns a document viewing it.
func (s *Session) OpenFile(path string) (*Document, error) {
	src, err := s.repo.OpenFile(path)
	if err != nil {
		return nil, err
	}

	doc, err := s.repo.OpenDocument(src)
	if err != nil {
		_ = s.repo.CloseSource(src)
		return nil, err
	}

	s.mu.Lock()
	s.owned[doc.ID()] = src
	s.mu.Unlock()

	s.log.Debug("document %s opened on %s", doc.ID(), path)
	return doc, nil
}

// NewDocument creates an empty document.
func (s *Session) NewDocument() (*Document, error) {
	return s.repo.NewDocument()
}

// NewDocumentFromBytes creates a document holding a copy of data.
func (s *Session) NewDocumentFromBytes(data []byte) (*Document, error) {
	return s.repo.NewDocumentFromBytes(data)
}

// Load creates a document holding everything read from r.
func (s *Session) Load(r io.Reader) (*Document, error) {
	doc, err := s.repo.NewDocument()
	if err != nil {
		return nil, err
	}
	if _, err := doc.ReadFrom(r); err != nil {
		doc.Dispose()
		return nil, err
	}
	return doc, nil
}

// CloseDocument disposes doc and releases the file it was opened from.
func (s *Session) CloseDocument(doc *Document) error {
	doc.Dispose()

	s.mu.Lock()
	src, ok := s.owned[doc.ID()]
	delete(s.owned, doc.ID())
	s.mu.Unlock()

	if !ok {
		return nil
	}
	err := s.repo.CloseSource(src)
	if errors.Is(err, derrors.ErrSourceInUse) {
		// Copies of the document still view the file; it stays open until
		// the session closes.
		s.log.Debug("source %s kept open for remaining documents", src.Path())
		return nil
	}
	return err
}

// Save writes the content of doc to w.
func (s *Session) Save(doc *Document, w io.Writer) (int64, error) {
	return doc.WriteTo(w)
}

// SaveAs writes the content of doc to path. The bytes go to a temporary
// file in the same directory which then replaces path, so a failed save
// leaves path untouched. Saving over the file a document was opened from is
// allowed: the open source keeps reading the replaced file, and the next
// OpenFile of path reads the saved bytes.
func (s *Session) SaveAs(doc *Document, path string) error {
	dir := filepath.Dir(path)
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return derrors.NewIOError("save", path, err)
	}
	tmpName := tmp.Name()
	fail := func(op string, err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return derrors.NewIOError(op, path, err)
	}

	n, err := doc.WriteTo(tmp)
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		return fail("chmod", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return derrors.NewIOError("save", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return derrors.NewIOError("rename", path, err)
	}
	s.repo.Retire(path)

	s.log.Info("saved %d bytes to %s", n, path)
	return nil
}

// OnExternalChange registers a handler for external modifications of opened
// files. It only fires when the session watches files.
func (s *Session) OnExternalChange(h func(Change)) {
	s.repo.OnExternalChange(h)
}

// Stats returns a snapshot of the repository state.
func (s *Session) Stats() Stats {
	return s.repo.Stats()
}

// Close disposes every document and closes every source.
func (s *Session) Close() error {
	s.mu.Lock()
	s.owned = make(map[uuid.UUID]*source.Source)
	s.mu.Unlock()
	return s.repo.Close()
}
