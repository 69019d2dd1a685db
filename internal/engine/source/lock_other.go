//go:build !unix

package source

import "os"

// Advisory locking is only available on unix platforms.
func lockFile(f *os.File) error { return nil }

func unlockFile(f *os.File) error { return nil }
