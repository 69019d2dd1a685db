package engine

import (
	"time"

	"github.com/dshills/bined/internal/engine/repository"
)

// Option configures a Session during creation.
type Option func(*Session)

// WithPageSize sets the page size of file source caches.
func WithPageSize(size int) Option {
	return func(s *Session) {
		s.repoOpts = append(s.repoOpts, repository.WithPageSize(size))
	}
}

// WithMaxPages sets the number of pages each file source caches.
func WithMaxPages(n int) Option {
	return func(s *Session) {
		s.repoOpts = append(s.repoOpts, repository.WithMaxPages(n))
	}
}

// WithLock enables or disables exclusive locks on opened files.
func WithLock(enable bool) Option {
	return func(s *Session) {
		s.repoOpts = append(s.repoOpts, repository.WithLock(enable))
	}
}

// WithWatch enables or disables detection of external file changes.
func WithWatch(enable bool) Option {
	return func(s *Session) {
		s.repoOpts = append(s.repoOpts, repository.WithWatch(enable))
	}
}

// WithWatchDelay sets the window used to coalesce file change events.
func WithWatchDelay(d time.Duration) Option {
	return func(s *Session) {
		s.repoOpts = append(s.repoOpts, repository.WithWatchDelay(d))
	}
}

// WithVerify validates segment structure after every document mutation.
func WithVerify(enable bool) Option {
	return func(s *Session) {
		s.repoOpts = append(s.repoOpts, repository.WithVerify(enable))
	}
}

// WithLogger sets the logger used by the session and its repository.
func WithLogger(l Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}
