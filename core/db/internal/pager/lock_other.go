//go:build !unix

package pager

import "os"

// lockFile is a no-op where flock is unavailable.
func lockFile(f *os.File, exclusive bool) error {
	return nil
}

func unlockFile(f *os.File) {}
