package engine

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/embeddb/embeddb/pkg/wal"
)

// CheckpointResult reports the WAL's size before and after a checkpoint.
type CheckpointResult struct {
	WalBytesBefore int64
	WalBytesAfter  int64
}

// Checkpoint flushes every table and rewrites the WAL as a minimal
// snapshot of current in-memory state, bounding future replay cost.
func (e *Engine) Checkpoint() (CheckpointResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.checkpointLockedWithResult()
}

func (e *Engine) checkpointLocked() error {
	_, err := e.checkpointLockedWithResult()
	return err
}

func (e *Engine) checkpointLockedWithResult() (CheckpointResult, error) {
	before, err := e.w.Size()
	if err != nil {
		return CheckpointResult{}, err
	}

	for name, t := range e.state.tables {
		if err := e.flushTableLocked(name, t); err != nil {
			return CheckpointResult{}, fmt.Errorf("engine: checkpoint flush %q: %w", name, err)
		}
	}

	records := buildCheckpointRecords(e.state)

	newPath := filepath.Join(e.cfg.DataDir, walNewName)
	if err := wal.WriteRecords(newPath, records); err != nil {
		return CheckpointResult{}, fmt.Errorf("engine: write checkpoint wal: %w", err)
	}

	if err := e.rotateWAL(newPath); err != nil {
		return CheckpointResult{}, err
	}

	after, err := e.w.Size()
	if err != nil {
		return CheckpointResult{}, err
	}
	return CheckpointResult{WalBytesBefore: before, WalBytesAfter: after}, nil
}

// buildCheckpointRecords rebuilds the minimal set of WAL records that
// reconstructs the current in-memory state: CreateTable always precedes
// any row/embedding record for that table, so replaying this list alone
// reproduces exactly the state captured here.
func buildCheckpointRecords(s *dbState) []wal.Record {
	var records []wal.Record
	for _, name := range s.sortedTableNames() {
		t := s.tables[name]
		schemaCopy := t.schema
		records = append(records, wal.Record{
			Type:          wal.RecordCreateTable,
			Table:         name,
			Schema:        &schemaCopy,
			EmbeddingSpec: t.embeddingSpec,
		})
		records = append(records, wal.Record{
			Type:      wal.RecordSetNextRowID,
			Table:     name,
			NextRowID: t.nextRowID,
		})
		for rowID, meta := range t.embeddingMeta {
			m := meta
			records = append(records, wal.Record{
				Type:        wal.RecordEnqueueEmbedding,
				Table:       name,
				RowID:       rowID,
				ContentHash: m.ContentHash,
			})
			attempts := m.Attempts
			nextRetry := m.NextRetryAtMs
			records = append(records, wal.Record{
				Type:          wal.RecordUpdateEmbeddingStatus,
				Table:         name,
				RowID:         rowID,
				Status:        m.Status,
				LastError:     m.LastError,
				Attempts:      &attempts,
				NextRetryAtMs: &nextRetry,
			})
		}
		for rowID, vec := range t.embeddings {
			records = append(records, wal.Record{
				Type:   wal.RecordStoreEmbedding,
				Table:  name,
				RowID:  rowID,
				Vector: vec,
			})
		}
	}
	return records
}

// rotateWAL swaps the active WAL handle for newPath via the wal.prev
// fallback dance: rename current wal.log to wal.prev (so a crash mid-way
// can be recovered by renaming it back), promote newPath to wal.log,
// reopen, and best-effort clean up the transient files.
func (e *Engine) rotateWAL(newPath string) error {
	if err := e.w.Close(); err != nil {
		return fmt.Errorf("engine: close wal before rotation: %w", err)
	}

	walPath := filepath.Join(e.cfg.DataDir, walFileName)
	prevPath := filepath.Join(e.cfg.DataDir, walPrevName)

	os.Remove(prevPath)

	if _, err := os.Stat(walPath); err == nil {
		if err := os.Rename(walPath, prevPath); err != nil {
			return fmt.Errorf("engine: rotate wal.log to wal.prev: %w", err)
		}
	}

	if err := os.Rename(newPath, walPath); err != nil {
		return fmt.Errorf("engine: promote wal.log.new: %w", err)
	}

	w, err := wal.Open(walPath, wal.DefaultOptions())
	if err != nil {
		return fmt.Errorf("engine: reopen wal after rotation: %w", err)
	}
	e.w = w

	os.Remove(prevPath)
	return nil
}
