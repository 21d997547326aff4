//go:build unix

package engine

import (
	"fmt"
	"os"

	"github.com/embeddb/embeddb/pkg/dberrors"
	"golang.org/x/sys/unix"
)

// dirLock holds the exclusive advisory lock on a data directory's
// embeddb.lock file for the engine's lifetime, enforcing the
// at-most-one-writer-per-directory discipline. golang.org/x/sys/unix is
// already an indirect dependency of this module's teacher lineage (it
// rides in via the cockroachdb/pebble transitive chain); this promotes it
// to a direct import for the one piece of OS-specific code the engine
// needs.
type dirLock struct {
	file *os.File
}

func acquireDirLock(path string) (*dirLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("engine: open lock file %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, &dberrors.LockedError{Path: path}
	}
	return &dirLock{file: f}, nil
}

func (l *dirLock) release() error {
	if l == nil || l.file == nil {
		return nil
	}
	unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	return l.file.Close()
}
