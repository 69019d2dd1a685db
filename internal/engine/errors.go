package engine

import (
	derrors "github.com/dshills/bined/internal/engine/errors"
	"github.com/dshills/bined/internal/engine/repository"
)

// Errors returned by engine operations. Use errors.Is to test for them.
var (
	ErrOutOfBounds   = derrors.ErrOutOfBounds
	ErrIO            = derrors.ErrIO
	ErrInvariant     = derrors.ErrInvariant
	ErrUnsupported   = derrors.ErrUnsupported
	ErrSourceClosed  = derrors.ErrSourceClosed
	ErrSourceInUse   = derrors.ErrSourceInUse
	ErrUnknownSource = derrors.ErrUnknownSource
	ErrLocked        = derrors.ErrLocked
	ErrDisposed      = derrors.ErrDisposed

	// ErrClosed indicates the session was closed.
	ErrClosed = repository.ErrClosed
)
