package engine

import (
	"sort"

	"github.com/embeddb/embeddb/pkg/schema"
	"github.com/embeddb/embeddb/pkg/sst"
	"github.com/embeddb/embeddb/pkg/wal"
)

// tableState is the in-memory mirror of one table's persisted state:
// schema, the not-yet-flushed memtable and tombstones, the embedding
// scheduler's per-row bookkeeping, and the SST files backing everything
// already flushed.
type tableState struct {
	schema        schema.TableSchema
	embeddingSpec *schema.EmbeddingSpec
	nextRowID     uint64
	nextSSTSeq    uint64

	memtable   map[uint64]schema.RowData
	tombstones map[uint64]struct{}

	embeddings    map[uint64][]float32
	embeddingMeta map[uint64]schema.EmbeddingMeta

	sstFiles []sst.File
}

func newTableState() *tableState {
	return &tableState{
		nextRowID:     1,
		nextSSTSeq:    1,
		memtable:      make(map[uint64]schema.RowData),
		tombstones:    make(map[uint64]struct{}),
		embeddings:    make(map[uint64][]float32),
		embeddingMeta: make(map[uint64]schema.EmbeddingMeta),
	}
}

// dbState holds every table's in-memory mirror, keyed by name.
type dbState struct {
	tables map[string]*tableState
}

func newDBState() *dbState {
	return &dbState{tables: make(map[string]*tableState)}
}

func (s *dbState) sortedTableNames() []string {
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// applyRecord folds one decoded WAL record into state, per the apply
// rules: records referencing an unknown table (other than CreateTable)
// are skipped silently, tolerating orphaned records from a prior schema
// generation.
func applyRecord(s *dbState, rec wal.Record) {
	if rec.Type == wal.RecordCreateTable {
		t := newTableState()
		if rec.Schema != nil {
			t.schema = *rec.Schema
		}
		t.embeddingSpec = rec.EmbeddingSpec
		s.tables[rec.Table] = t
		return
	}

	t, ok := s.tables[rec.Table]
	if !ok {
		return
	}

	switch rec.Type {
	case wal.RecordSetNextRowID:
		t.nextRowID = rec.NextRowID
	case wal.RecordPutRow:
		if rec.Row == nil {
			return
		}
		t.memtable[rec.RowID] = *rec.Row
		delete(t.tombstones, rec.RowID)
		if rec.RowID+1 > t.nextRowID {
			t.nextRowID = rec.RowID + 1
		}
	case wal.RecordDeleteRow:
		delete(t.memtable, rec.RowID)
		t.tombstones[rec.RowID] = struct{}{}
		delete(t.embeddings, rec.RowID)
		delete(t.embeddingMeta, rec.RowID)
	case wal.RecordEnqueueEmbedding:
		t.embeddingMeta[rec.RowID] = schema.EmbeddingMeta{
			Status:      schema.StatusPending,
			ContentHash: rec.ContentHash,
			Attempts:    0,
		}
	case wal.RecordUpdateEmbeddingStatus:
		meta, exists := t.embeddingMeta[rec.RowID]
		if !exists {
			return
		}
		meta.Status = rec.Status
		meta.LastError = rec.LastError
		if rec.Attempts != nil {
			meta.Attempts = *rec.Attempts
		}
		if rec.NextRetryAtMs != nil {
			meta.NextRetryAtMs = *rec.NextRetryAtMs
		}
		t.embeddingMeta[rec.RowID] = meta
	case wal.RecordStoreEmbedding:
		vec := make([]float32, len(rec.Vector))
		copy(vec, rec.Vector)
		t.embeddings[rec.RowID] = vec
	}
}
