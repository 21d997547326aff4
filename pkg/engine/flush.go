package engine

import (
	"sort"

	"github.com/embeddb/embeddb/pkg/schema"
	"github.com/embeddb/embeddb/pkg/sst"
)

// FlushTable drains the memtable and tombstones into a new level-0 SST
// file. It does not touch the WAL: those rows are already durable there,
// and SST files are purely derived state.
func (e *Engine) FlushTable(table string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, err := e.requireTable(table)
	if err != nil {
		return err
	}
	return e.flushTableLocked(table, t)
}

func (e *Engine) flushTableLocked(table string, t *tableState) error {
	if len(t.memtable) == 0 && len(t.tombstones) == 0 {
		return nil
	}

	ids := make([]uint64, 0, len(t.memtable)+len(t.tombstones))
	for id := range t.memtable {
		ids = append(ids, id)
	}
	for id := range t.tombstones {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	entries := make([]sst.Entry, 0, len(ids))
	for _, id := range ids {
		if row, ok := t.memtable[id]; ok {
			r := row
			entries = append(entries, sst.Entry{RowID: id, Row: &r})
		} else {
			entries = append(entries, sst.Entry{RowID: id, Row: nil})
		}
	}

	dir := sst.TableDir(e.cfg.DataDir, table)
	seq := t.nextSSTSeq
	path, err := sst.Write(dir, 0, seq, entries)
	if err != nil {
		return err
	}
	t.sstFiles = append(t.sstFiles, sst.File{Level: 0, Seq: seq, Path: path})
	t.nextSSTSeq++
	t.memtable = make(map[uint64]schema.RowData)
	t.tombstones = make(map[uint64]struct{})
	return nil
}

// CompactTable merges all of a table's level-0 SST files into a single
// new level-1 file, newest-write-wins, removing the level-0 sources.
func (e *Engine) CompactTable(table string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.requireTable(table)
	if err != nil {
		return err
	}
	return e.compactTableLocked(table, t)
}

func (e *Engine) compactTableLocked(table string, t *tableState) error {
	var levelZero []sst.File
	var rest []sst.File
	for _, f := range t.sstFiles {
		if f.Level == 0 {
			levelZero = append(levelZero, f)
		} else {
			rest = append(rest, f)
		}
	}
	if len(levelZero) == 0 {
		return nil
	}

	dir := sst.TableDir(e.cfg.DataDir, table)
	seq := t.nextSSTSeq
	merged, err := sst.CompactLevelZero(levelZero, dir, seq)
	if err != nil {
		return err
	}
	t.nextSSTSeq++

	if err := sst.RemoveFiles(levelZero); err != nil {
		return err
	}

	newFiles := rest
	if merged != nil {
		newFiles = append(newFiles, *merged)
	}
	sort.Slice(newFiles, func(i, j int) bool {
		if newFiles[i].Level != newFiles[j].Level {
			return newFiles[i].Level < newFiles[j].Level
		}
		return newFiles[i].Seq < newFiles[j].Seq
	})
	t.sstFiles = newFiles
	return nil
}
