// Package engine implements the EmbedDB public handle: the durable,
// single-process store combining a schema-typed row store with a
// per-row vector index, grounded on the teacher's pkg/storage.StorageEngine
// (mutex-guarded table metadata plus a single WAL) but replacing its
// B+Tree/heap/MVCC machinery with the WAL+SST+embedding-scheduler design
// this spec calls for.
package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/embeddb/embeddb/pkg/dberrors"
	"github.com/embeddb/embeddb/pkg/schema"
	"github.com/embeddb/embeddb/pkg/sst"
	"github.com/embeddb/embeddb/pkg/value"
	"github.com/embeddb/embeddb/pkg/wal"
	"github.com/rs/zerolog/log"
)

const (
	lockFileName = "embeddb.lock"
	walFileName  = "wal.log"
	walPrevName  = "wal.prev"
	walNewName   = "wal.log.new"
)

// Config configures an Engine instance.
type Config struct {
	// DataDir is the directory the engine owns exclusively for its
	// lifetime (WAL, lock file, and per-table SST directories).
	DataDir string

	// WalAutocheckpointBytes, when > 0, makes every mutating call run a
	// checkpoint first if the WAL has already grown past this size.
	WalAutocheckpointBytes int64
}

func NewConfig(dataDir string) Config {
	return Config{DataDir: dataDir}
}

// Engine is the public, thread-safe handle. All mutating operations and
// all reads of engine-owned state serialize on mu, matching the teacher
// engine's single-mutex discipline (minus its MVCC transaction layer,
// which is out of scope here).
type Engine struct {
	mu     sync.Mutex
	cfg    Config
	lock   *dirLock
	w      *wal.Wal
	state  *dbState
	closed bool
}

// Open creates the data directory if needed, takes the exclusive
// directory lock, recovers any interrupted checkpoint rotation, opens the
// WAL, and replays it to rebuild in-memory state.
func Open(cfg Config) (*Engine, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("engine: create data dir: %w", err)
	}

	lock, err := acquireDirLock(filepath.Join(cfg.DataDir, lockFileName))
	if err != nil {
		return nil, err
	}

	if err := recoverInterruptedCheckpoint(cfg.DataDir); err != nil {
		lock.release()
		return nil, err
	}

	walPath := filepath.Join(cfg.DataDir, walFileName)
	w, err := wal.Open(walPath, wal.DefaultOptions())
	if err != nil {
		lock.release()
		return nil, err
	}

	records, err := wal.Replay(walPath)
	if err != nil {
		w.Close()
		lock.release()
		return nil, fmt.Errorf("engine: replay wal: %w", err)
	}

	state := newDBState()
	for _, rec := range records {
		applyRecord(state, rec)
	}

	for name, t := range state.tables {
		dir := sst.TableDir(cfg.DataDir, name)
		files, err := sst.ListFiles(dir)
		if err != nil {
			w.Close()
			lock.release()
			return nil, fmt.Errorf("engine: list sst files for %q: %w", name, err)
		}
		t.sstFiles = files
		t.nextSSTSeq = sst.MaxSeq(files) + 1
	}

	log.Info().Str("data_dir", cfg.DataDir).Int("tables", len(state.tables)).Msg("engine opened")

	return &Engine{cfg: cfg, lock: lock, w: w, state: state}, nil
}

// recoverInterruptedCheckpoint completes a checkpoint rotation that
// crashed between renaming wal.log to wal.prev and promoting wal.log.new
// to wal.log: if wal.log is missing but wal.prev exists, wal.prev is
// renamed back into place.
func recoverInterruptedCheckpoint(dataDir string) error {
	walPath := filepath.Join(dataDir, walFileName)
	prevPath := filepath.Join(dataDir, walPrevName)

	if _, err := os.Stat(walPath); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("engine: stat wal: %w", err)
	}

	if _, err := os.Stat(prevPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("engine: stat wal.prev: %w", err)
	}

	if err := os.Rename(prevPath, walPath); err != nil {
		return fmt.Errorf("engine: recover wal.prev: %w", err)
	}
	log.Warn().Str("data_dir", dataDir).Msg("recovered wal.log from wal.prev after interrupted checkpoint")
	return nil
}

// Close flushes and closes the WAL, then releases the directory lock.
// The engine must not be used afterward.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	var walErr error
	if e.w != nil {
		walErr = e.w.Close()
	}
	lockErr := e.lock.release()
	if walErr != nil {
		return walErr
	}
	return lockErr
}

func (e *Engine) preflightAutocheckpoint() error {
	if e.cfg.WalAutocheckpointBytes <= 0 {
		return nil
	}
	size, err := e.w.Size()
	if err != nil {
		return err
	}
	if size < e.cfg.WalAutocheckpointBytes {
		return nil
	}
	return e.checkpointLocked()
}

// ListTables returns every table name, sorted.
func (e *Engine) ListTables() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.sortedTableNames()
}

// CreateTable registers a new table with schema and an optional embedding
// spec, durably logging the definition before it becomes visible.
func (e *Engine) CreateTable(name string, tableSchema schema.TableSchema, embeddingSpec *schema.EmbeddingSpec) error {
	if err := tableSchema.Validate(); err != nil {
		return &dberrors.ValidationError{Reason: err.Error()}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.preflightAutocheckpoint(); err != nil {
		return err
	}

	if _, exists := e.state.tables[name]; exists {
		return &dberrors.TableExistsError{Name: name}
	}

	rec := wal.Record{Type: wal.RecordCreateTable, Table: name, Schema: &tableSchema, EmbeddingSpec: embeddingSpec}
	if err := e.w.Append(rec, true); err != nil {
		return err
	}
	applyRecord(e.state, rec)

	if err := sst.EnsureDir(sst.TableDir(e.cfg.DataDir, name)); err != nil {
		return err
	}
	return nil
}

func (e *Engine) requireTable(name string) (*tableState, error) {
	t, ok := e.state.tables[name]
	if !ok {
		return nil, &dberrors.TableNotFoundError{Name: name}
	}
	return t, nil
}

// InsertRow validates fields against the table's schema, allocates a new
// row id, durably appends it, and — if the table has an embedding spec —
// enqueues an embedding job for it.
func (e *Engine) InsertRow(table string, fields map[string]value.Value) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.preflightAutocheckpoint(); err != nil {
		return 0, err
	}

	t, err := e.requireTable(table)
	if err != nil {
		return 0, err
	}
	if err := t.schema.ValidateRow(fields); err != nil {
		return 0, &dberrors.ValidationError{Reason: err.Error()}
	}

	if t.embeddingSpec != nil {
		if _, err := t.embeddingSpec.InputString(fields); err != nil {
			return 0, &dberrors.ValidationError{Reason: err.Error()}
		}
	}

	rowID := t.nextRowID
	row := schema.RowData{ID: rowID, Fields: fields}

	if err := e.w.Append(wal.Record{Type: wal.RecordPutRow, Table: table, RowID: rowID, Row: &row}, true); err != nil {
		return 0, err
	}
	if err := e.w.Append(wal.Record{Type: wal.RecordSetNextRowID, Table: table, NextRowID: rowID + 1}, true); err != nil {
		return 0, err
	}
	applyRecord(e.state, wal.Record{Type: wal.RecordPutRow, Table: table, RowID: rowID, Row: &row})
	applyRecord(e.state, wal.Record{Type: wal.RecordSetNextRowID, Table: table, NextRowID: rowID + 1})

	if t.embeddingSpec != nil {
		if err := e.enqueueEmbeddingLocked(table, t, rowID, fields); err != nil {
			return 0, err
		}
	}

	return rowID, nil
}

func (e *Engine) enqueueEmbeddingLocked(table string, t *tableState, rowID uint64, fields map[string]value.Value) error {
	input, err := t.embeddingSpec.InputString(fields)
	if err != nil {
		return &dberrors.ValidationError{Reason: err.Error()}
	}
	hash := schema.ContentHash(input)
	rec := wal.Record{Type: wal.RecordEnqueueEmbedding, Table: table, RowID: rowID, ContentHash: hash}
	if err := e.w.Append(rec, true); err != nil {
		return err
	}
	applyRecord(e.state, rec)
	return nil
}

// UpdateRow requires the row currently exists (in the memtable or an SST,
// and not tombstoned), validates the new fields, and durably replaces it.
// If the table has an embedding spec, a fresh embedding job is enqueued.
func (e *Engine) UpdateRow(table string, rowID uint64, fields map[string]value.Value) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.preflightAutocheckpoint(); err != nil {
		return err
	}

	t, err := e.requireTable(table)
	if err != nil {
		return err
	}
	if _, err := e.getRowLocked(table, t, rowID); err != nil {
		return err
	}
	if err := t.schema.ValidateRow(fields); err != nil {
		return &dberrors.ValidationError{Reason: err.Error()}
	}
	if t.embeddingSpec != nil {
		if _, err := t.embeddingSpec.InputString(fields); err != nil {
			return &dberrors.ValidationError{Reason: err.Error()}
		}
	}

	row := schema.RowData{ID: rowID, Fields: fields}
	rec := wal.Record{Type: wal.RecordPutRow, Table: table, RowID: rowID, Row: &row}
	if err := e.w.Append(rec, true); err != nil {
		return err
	}
	applyRecord(e.state, rec)

	if t.embeddingSpec != nil {
		if err := e.enqueueEmbeddingLocked(table, t, rowID, fields); err != nil {
			return err
		}
	}
	return nil
}

// DeleteRow requires the row currently exists, then durably tombstones
// it and drops any embedding state for it.
func (e *Engine) DeleteRow(table string, rowID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.preflightAutocheckpoint(); err != nil {
		return err
	}

	t, err := e.requireTable(table)
	if err != nil {
		return err
	}
	if _, err := e.getRowLocked(table, t, rowID); err != nil {
		return err
	}

	rec := wal.Record{Type: wal.RecordDeleteRow, Table: table, RowID: rowID}
	if err := e.w.Append(rec, true); err != nil {
		return err
	}
	applyRecord(e.state, rec)
	return nil
}

// GetRow looks up a row id: memtable first, then tombstones, then SST
// files newest-first. A tombstone in either place reports RowNotFoundError.
func (e *Engine) GetRow(table string, rowID uint64) (*schema.RowData, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.requireTable(table)
	if err != nil {
		return nil, err
	}
	return e.getRowLocked(table, t, rowID)
}

func (e *Engine) getRowLocked(table string, t *tableState, rowID uint64) (*schema.RowData, error) {
	if row, ok := t.memtable[rowID]; ok {
		r := row
		return &r, nil
	}
	if _, tombstoned := t.tombstones[rowID]; tombstoned {
		return nil, &dberrors.RowNotFoundError{Table: table, RowID: rowID}
	}
	for i := len(t.sstFiles) - 1; i >= 0; i-- {
		entry, err := sst.FindEntry(t.sstFiles[i].Path, rowID)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			if entry.Row == nil {
				return nil, &dberrors.RowNotFoundError{Table: table, RowID: rowID}
			}
			return entry.Row, nil
		}
	}
	return nil, &dberrors.RowNotFoundError{Table: table, RowID: rowID}
}

// TableStats summarizes one table's current shape.
type TableStats struct {
	Name               string
	RowsMem            int
	TombstonesMem      int
	EmbeddingsTotal    int
	EmbeddingsPending  int
	EmbeddingsReady    int
	EmbeddingsFailed   int
	SSTFiles           int
	NextRowID          uint64
}

func (e *Engine) TableStats(table string) (TableStats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.requireTable(table)
	if err != nil {
		return TableStats{}, err
	}

	stats := TableStats{
		Name:          table,
		RowsMem:       len(t.memtable),
		TombstonesMem: len(t.tombstones),
		EmbeddingsTotal: len(t.embeddings),
		SSTFiles:      len(t.sstFiles),
		NextRowID:     t.nextRowID,
	}
	for _, meta := range t.embeddingMeta {
		switch meta.Status {
		case schema.StatusPending:
			stats.EmbeddingsPending++
		case schema.StatusReady:
			stats.EmbeddingsReady++
		case schema.StatusFailed:
			stats.EmbeddingsFailed++
		}
	}
	return stats, nil
}

// DbStats summarizes the whole engine.
type DbStats struct {
	Tables   []string
	WalBytes int64
}

func (e *Engine) DbStats() (DbStats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	size, err := e.w.Size()
	if err != nil {
		return DbStats{}, err
	}
	return DbStats{Tables: e.state.sortedTableNames(), WalBytes: size}, nil
}

// DescribeTable returns the schema and embedding spec registered for a table.
func (e *Engine) DescribeTable(table string) (schema.TableSchema, *schema.EmbeddingSpec, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, err := e.requireTable(table)
	if err != nil {
		return schema.TableSchema{}, nil, err
	}
	return t.schema, t.embeddingSpec, nil
}
