package engine

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/embeddb/embeddb/pkg/dberrors"
	"github.com/google/uuid"
)

var transientFiles = map[string]struct{}{
	lockFileName: {},
	walPrevName:  {},
	walNewName:   {},
	"wal.checkpoint.tmp": {},
}

// SnapshotResult reports how much an export or restore copied.
type SnapshotResult struct {
	Files int
	Bytes int64
}

// ExportSnapshot checkpoints the engine, then copies its data directory
// to dest. dest must not already contain files. The copy is staged under
// a uuid-suffixed sibling temp directory and atomically renamed into dest
// so a reader never observes a partial copy.
func (e *Engine) ExportSnapshot(dest string) (SnapshotResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := destMustBeEmpty(dest); err != nil {
		return SnapshotResult{}, err
	}

	if _, err := e.checkpointLockedWithResult(); err != nil {
		return SnapshotResult{}, err
	}

	staging := dest + ".staging-" + uuid.NewString()
	result, err := copyTree(e.cfg.DataDir, staging, transientFiles)
	if err != nil {
		os.RemoveAll(staging)
		return SnapshotResult{}, err
	}
	if err := os.Rename(staging, dest); err != nil {
		os.RemoveAll(staging)
		return SnapshotResult{}, fmt.Errorf("engine: finalize snapshot at %s: %w", dest, err)
	}
	return result, nil
}

// RestoreSnapshot copies src (a previously exported snapshot) to dest,
// staged the same way as ExportSnapshot. The caller then opens an engine
// on dest. This is a package function, not a method: there is no engine
// handle yet for the restored copy.
func RestoreSnapshot(src, dest string) (SnapshotResult, error) {
	if _, err := os.Stat(src); err != nil {
		return SnapshotResult{}, fmt.Errorf("engine: snapshot source %s: %w", src, err)
	}
	if err := destMustBeEmpty(dest); err != nil {
		return SnapshotResult{}, err
	}

	staging := dest + ".staging-" + uuid.NewString()
	result, err := copyTree(src, staging, transientFiles)
	if err != nil {
		os.RemoveAll(staging)
		return SnapshotResult{}, err
	}
	if err := os.Rename(staging, dest); err != nil {
		os.RemoveAll(staging)
		return SnapshotResult{}, fmt.Errorf("engine: finalize restore at %s: %w", dest, err)
	}
	return result, nil
}

func destMustBeEmpty(dest string) error {
	entries, err := os.ReadDir(dest)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("engine: read destination %s: %w", dest, err)
	}
	if len(entries) > 0 {
		return &dberrors.ValidationError{Reason: fmt.Sprintf("destination %q is not empty", dest)}
	}
	return nil
}

func copyTree(src, dst string, skip map[string]struct{}) (SnapshotResult, error) {
	var result SnapshotResult
	err := filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return os.MkdirAll(dst, 0755)
		}
		if _, skipped := skip[info.Name()]; skipped {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0755)
		}

		n, err := copyFile(path, target)
		if err != nil {
			return err
		}
		result.Files++
		result.Bytes += n
		return nil
	})
	if err != nil {
		return SnapshotResult{}, fmt.Errorf("engine: copy %s to %s: %w", src, dst, err)
	}
	return result, nil
}

func copyFile(src, dst string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return 0, err
	}
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	return io.Copy(out, in)
}
