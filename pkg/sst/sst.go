// Package sst implements the immutable, sorted-by-row-id on-disk table
// files the engine flushes memtables into and compacts, grounded on the
// original Rust storage/sst.rs module this repo's engine behavior is
// ported from.
package sst

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/embeddb/embeddb/pkg/schema"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Entry is one row (or tombstone, when Row is nil) in an SST file.
type Entry struct {
	RowID uint64           `bson:"row_id"`
	Row   *schema.RowData `bson:"row,omitempty"`
}

// File identifies one SST file on disk by its level and sequence number.
type File struct {
	Level uint32
	Seq   uint64
	Path  string
}

func filename(level uint32, seq uint64) string {
	return fmt.Sprintf("sst_L%d_%d.json", level, seq)
}

// TableDir returns the directory holding a table's SST files.
func TableDir(root, table string) string {
	return filepath.Join(root, "tables", table)
}

// ParseFilename extracts the level and sequence encoded in an SST
// filename, returning ok=false for anything that doesn't match the
// sst_L{level}_{seq}.json pattern.
func ParseFilename(name string) (level uint32, seq uint64, ok bool) {
	if !strings.HasPrefix(name, "sst_L") || !strings.HasSuffix(name, ".json") {
		return 0, 0, false
	}
	trimmed := strings.TrimSuffix(strings.TrimPrefix(name, "sst_L"), ".json")
	parts := strings.SplitN(trimmed, "_", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	l, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, 0, false
	}
	s, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return uint32(l), s, true
}

// ListFiles enumerates dir, parsing SST filenames, sorted ascending by
// (level, seq). Returns an empty slice if dir does not exist.
func ListFiles(dir string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var files []File
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		level, seq, ok := ParseFilename(de.Name())
		if !ok {
			continue
		}
		files = append(files, File{Level: level, Seq: seq, Path: filepath.Join(dir, de.Name())})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].Level != files[j].Level {
			return files[i].Level < files[j].Level
		}
		return files[i].Seq < files[j].Seq
	})
	return files, nil
}

// MaxSeq returns the largest seq among files, or 0 when empty.
func MaxSeq(files []File) uint64 {
	var max uint64
	for _, f := range files {
		if f.Seq > max {
			max = f.Seq
		}
	}
	return max
}

// Write serializes entries (already sorted ascending by RowID) to a new
// SST file under dir.
func Write(dir string, level uint32, seq uint64, entries []Entry) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("sst: mkdir %s: %w", dir, err)
	}
	path := filepath.Join(dir, filename(level, seq))
	data, err := bson.Marshal(struct {
		Entries []Entry `bson:"entries"`
	}{Entries: entries})
	if err != nil {
		return "", fmt.Errorf("sst: encode: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("sst: write %s: %w", path, err)
	}
	return path, nil
}

// Read deserializes the entries stored at path.
func Read(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sst: read %s: %w", path, err)
	}
	var wrapper struct {
		Entries []Entry `bson:"entries"`
	}
	if err := bson.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("sst: decode %s: %w", path, err)
	}
	return wrapper.Entries, nil
}

// FindEntry reads path and binary-searches it for rowID, returning nil if
// absent. Files are sorted ascending by RowID on write.
func FindEntry(path string, rowID uint64) (*Entry, error) {
	entries, err := Read(path)
	if err != nil {
		return nil, err
	}
	i := sort.Search(len(entries), func(i int) bool { return entries[i].RowID >= rowID })
	if i < len(entries) && entries[i].RowID == rowID {
		e := entries[i]
		return &e, nil
	}
	return nil, nil
}

// CompactLevelZero merges all of files (expected to be level-0) into a
// single new level-1 file at nextSeq, newest-seq-wins per row id,
// preserving tombstones. Returns nil if files is empty.
func CompactLevelZero(files []File, outputDir string, nextSeq uint64) (*File, error) {
	if len(files) == 0 {
		return nil, nil
	}

	sorted := append([]File(nil), files...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	merged := make(map[uint64]Entry)
	order := make([]uint64, 0)
	for i := len(sorted) - 1; i >= 0; i-- {
		entries, err := Read(sorted[i].Path)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if _, exists := merged[e.RowID]; !exists {
				merged[e.RowID] = e
				order = append(order, e.RowID)
			}
		}
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	out := make([]Entry, 0, len(order))
	for _, id := range order {
		out = append(out, merged[id])
	}

	path, err := Write(outputDir, 1, nextSeq, out)
	if err != nil {
		return nil, err
	}
	return &File{Level: 1, Seq: nextSeq, Path: path}, nil
}

// RemoveFiles deletes each file's backing path, ignoring already-missing
// files.
func RemoveFiles(files []File) error {
	for _, f := range files {
		if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("sst: remove %s: %w", f.Path, err)
		}
	}
	return nil
}

// EnsureDir creates dir (and parents) if missing.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}
