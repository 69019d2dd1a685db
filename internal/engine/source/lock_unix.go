//go:build unix

package source

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"

	derrors "github.com/dshills/bined/internal/engine/errors"
)

// lockFile takes a non-blocking exclusive advisory lock on f.
func lockFile(f *os.File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		return derrors.ErrLocked
	}
	return err
}

// unlockFile releases the lock taken by lockFile.
func unlockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
