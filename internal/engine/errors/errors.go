// Package errors defines the error kinds shared by the document engine.
//
// Bounds and I/O failures are recoverable and returned to the caller.
// Invariant violations indicate a defect inside the engine; the operation
// that detects one is aborted and the affected document refuses further use.
package errors

import (
	"errors"
	"fmt"
)

// Standard errors returned by the engine packages.
var (
	// ErrOutOfBounds indicates a position or length outside [0, size].
	ErrOutOfBounds = errors.New("out of bounds")

	// ErrIO indicates a backing source could not be opened, locked or read.
	ErrIO = errors.New("i/o failure")

	// ErrInvariant indicates the segment structure is corrupt.
	ErrInvariant = errors.New("invariant violation")

	// ErrUnsupported indicates an operation that is intentionally not available.
	ErrUnsupported = errors.New("unsupported operation")

	// ErrSourceClosed indicates a read from a source that was already closed.
	ErrSourceClosed = errors.New("source is closed")

	// ErrSourceInUse indicates a close was refused because segments still reference the source.
	ErrSourceInUse = errors.New("source is still referenced")

	// ErrUnknownSource indicates the source is not owned by the repository.
	ErrUnknownSource = errors.New("unknown source")

	// ErrLocked indicates another process holds the exclusive lock on a file.
	ErrLocked = errors.New("file is locked by another process")

	// ErrDisposed indicates an operation on a disposed document.
	ErrDisposed = errors.New("document is disposed")
)

// BoundsError describes a position/length pair rejected by an operation.
type BoundsError struct {
	Op       string // Operation that failed (get, set, insert, remove, ...)
	Position int64
	Length   int64
	Size     int64 // Document or segment size at the time of the call
}

// Error implements the error interface.
func (e *BoundsError) Error() string {
	if e.Length > 0 {
		return fmt.Sprintf("%s [%d,%d) outside size %d: %v", e.Op, e.Position, e.Position+e.Length, e.Size, ErrOutOfBounds)
	}
	return fmt.Sprintf("%s %d outside size %d: %v", e.Op, e.Position, e.Size, ErrOutOfBounds)
}

// Unwrap returns ErrOutOfBounds.
func (e *BoundsError) Unwrap() error {
	return ErrOutOfBounds
}

// NewBoundsError creates a new BoundsError.
func NewBoundsError(op string, position, length, size int64) *BoundsError {
	return &BoundsError{Op: op, Position: position, Length: length, Size: size}
}

// IOError represents a failure of the backing storage.
type IOError struct {
	Op   string // open, lock, read, write, close
	Path string // File path, empty for memory sources
	Err  error  // Underlying error
}

// Error implements the error interface.
func (e *IOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *IOError) Unwrap() error {
	return e.Err
}

// Is reports ErrIO for every IOError.
func (e *IOError) Is(target error) bool {
	return target == ErrIO
}

// NewIOError creates a new IOError.
func NewIOError(op, path string, err error) *IOError {
	return &IOError{Op: op, Path: path, Err: err}
}

// InvariantError reports a corrupt segment structure.
type InvariantError struct {
	Op     string
	Detail string
}

// Error implements the error interface.
func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: %v: %s", e.Op, ErrInvariant, e.Detail)
}

// Unwrap returns ErrInvariant.
func (e *InvariantError) Unwrap() error {
	return ErrInvariant
}

// NewInvariantError creates a new InvariantError with a formatted detail.
func NewInvariantError(op, format string, args ...any) *InvariantError {
	return &InvariantError{Op: op, Detail: fmt.Sprintf(format, args...)}
}

// UnsupportedError reports an operation that fails loudly instead of degrading.
type UnsupportedError struct {
	Op     string
	Reason string
}

// Error implements the error interface.
func (e *UnsupportedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %v: %s", e.Op, ErrUnsupported, e.Reason)
	}
	return fmt.Sprintf("%s: %v", e.Op, ErrUnsupported)
}

// Unwrap returns ErrUnsupported.
func (e *UnsupportedError) Unwrap() error {
	return ErrUnsupported
}

// IsBounds returns true if the error is a bounds failure.
func IsBounds(err error) bool {
	return errors.Is(err, ErrOutOfBounds)
}

// IsIO returns true if the error is an I/O failure.
func IsIO(err error) bool {
	return errors.Is(err, ErrIO)
}

// IsInvariant returns true if the error reports a corrupt structure.
func IsInvariant(err error) bool {
	return errors.Is(err, ErrInvariant)
}

// IsUnsupported returns true if the error reports an unsupported operation.
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrUnsupported)
}
