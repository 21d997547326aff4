package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/embeddb/embeddb/pkg/dberrors"
	"github.com/embeddb/embeddb/pkg/schema"
	"github.com/embeddb/embeddb/pkg/value"
	"github.com/embeddb/embeddb/pkg/vector"
)

func mustOpen(t *testing.T, dir string) *Engine {
	t.Helper()
	e, err := Open(NewConfig(dir))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return e
}

func booksSchema() schema.TableSchema {
	return schema.TableSchema{Columns: []schema.Column{
		{Name: "title", DataType: value.TypeString, Nullable: false},
		{Name: "price", DataType: value.TypeFloat, Nullable: false},
		{Name: "tag", DataType: value.TypeString, Nullable: true},
	}}
}

func TestCreateTableAndInsertRoundtrip(t *testing.T) {
	dir := t.TempDir()
	e := mustOpen(t, dir)
	defer e.Close()

	if err := e.CreateTable("books", booksSchema(), nil); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}

	id, err := e.InsertRow("books", map[string]value.Value{
		"title": value.String("Dune"),
		"price": value.Float(9.99),
	})
	if err != nil {
		t.Fatalf("InsertRow: %v", err)
	}
	if id != 1 {
		t.Fatalf("first row id = %d, want 1", id)
	}

	row, err := e.GetRow("books", id)
	if err != nil {
		t.Fatalf("GetRow: %v", err)
	}
	if row.Fields["title"].Str != "Dune" {
		t.Errorf("title = %q, want Dune", row.Fields["title"].Str)
	}
}

func TestCreateTableDuplicateNameRejected(t *testing.T) {
	dir := t.TempDir()
	e := mustOpen(t, dir)
	defer e.Close()

	if err := e.CreateTable("books", booksSchema(), nil); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	err := e.CreateTable("books", booksSchema(), nil)
	var exists *dberrors.TableExistsError
	if !errors.As(err, &exists) {
		t.Fatalf("expected TableExistsError, got %v", err)
	}
}

func TestInsertRejectsMissingRequiredColumn(t *testing.T) {
	dir := t.TempDir()
	e := mustOpen(t, dir)
	defer e.Close()

	if err := e.CreateTable("books", booksSchema(), nil); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	_, err := e.InsertRow("books", map[string]value.Value{"title": value.String("Dune")})
	var verr *dberrors.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for missing price, got %v", err)
	}
}

func TestDeleteRowTombstonesAndHidesRow(t *testing.T) {
	dir := t.TempDir()
	e := mustOpen(t, dir)
	defer e.Close()

	if err := e.CreateTable("books", booksSchema(), nil); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	id, err := e.InsertRow("books", map[string]value.Value{"title": value.String("Dune"), "price": value.Float(1)})
	if err != nil {
		t.Fatalf("InsertRow: %v", err)
	}
	if err := e.DeleteRow("books", id); err != nil {
		t.Fatalf("DeleteRow: %v", err)
	}

	_, err = e.GetRow("books", id)
	var notFound *dberrors.RowNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected RowNotFoundError after delete, got %v", err)
	}

	if err := e.DeleteRow("books", id); !errors.As(err, &notFound) {
		t.Fatalf("expected RowNotFoundError deleting an already-deleted row, got %v", err)
	}
}

func TestUpdateRowRequiresExistingRow(t *testing.T) {
	dir := t.TempDir()
	e := mustOpen(t, dir)
	defer e.Close()

	if err := e.CreateTable("books", booksSchema(), nil); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	err := e.UpdateRow("books", 99, map[string]value.Value{"title": value.String("x"), "price": value.Float(1)})
	var notFound *dberrors.RowNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected RowNotFoundError updating a nonexistent row, got %v", err)
	}
}

// TestFlushThenReadsStillResolve checks GetRow falls through to SST files
// once a table has been flushed, and that a later delete on a flushed row
// still tombstones it correctly.
func TestFlushThenReadsStillResolve(t *testing.T) {
	dir := t.TempDir()
	e := mustOpen(t, dir)
	defer e.Close()

	if err := e.CreateTable("books", booksSchema(), nil); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	id, err := e.InsertRow("books", map[string]value.Value{"title": value.String("Dune"), "price": value.Float(1)})
	if err != nil {
		t.Fatalf("InsertRow: %v", err)
	}
	if err := e.FlushTable("books"); err != nil {
		t.Fatalf("FlushTable: %v", err)
	}

	row, err := e.GetRow("books", id)
	if err != nil {
		t.Fatalf("GetRow after flush: %v", err)
	}
	if row.Fields["title"].Str != "Dune" {
		t.Errorf("title after flush = %q, want Dune", row.Fields["title"].Str)
	}

	if err := e.DeleteRow("books", id); err != nil {
		t.Fatalf("DeleteRow after flush: %v", err)
	}
	_, err = e.GetRow("books", id)
	var notFound *dberrors.RowNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected RowNotFoundError after deleting a flushed row, got %v", err)
	}
}

// TestCompactMergesLevelZeroNewestWins verifies compaction keeps the most
// recent version of a row across two flushes and drops the stale SST files.
func TestCompactMergesLevelZeroNewestWins(t *testing.T) {
	dir := t.TempDir()
	e := mustOpen(t, dir)
	defer e.Close()

	if err := e.CreateTable("books", booksSchema(), nil); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	id, err := e.InsertRow("books", map[string]value.Value{"title": value.String("v1"), "price": value.Float(1)})
	if err != nil {
		t.Fatalf("InsertRow: %v", err)
	}
	if err := e.FlushTable("books"); err != nil {
		t.Fatalf("FlushTable 1: %v", err)
	}
	if err := e.UpdateRow("books", id, map[string]value.Value{"title": value.String("v2"), "price": value.Float(2)}); err != nil {
		t.Fatalf("UpdateRow: %v", err)
	}
	if err := e.FlushTable("books"); err != nil {
		t.Fatalf("FlushTable 2: %v", err)
	}

	statsBefore, err := e.TableStats("books")
	if err != nil {
		t.Fatalf("TableStats: %v", err)
	}
	if statsBefore.SSTFiles != 2 {
		t.Fatalf("expected 2 level-0 SST files before compaction, got %d", statsBefore.SSTFiles)
	}

	if err := e.CompactTable("books"); err != nil {
		t.Fatalf("CompactTable: %v", err)
	}

	statsAfter, err := e.TableStats("books")
	if err != nil {
		t.Fatalf("TableStats after compact: %v", err)
	}
	if statsAfter.SSTFiles != 1 {
		t.Fatalf("expected 1 SST file after compaction, got %d", statsAfter.SSTFiles)
	}

	row, err := e.GetRow("books", id)
	if err != nil {
		t.Fatalf("GetRow after compact: %v", err)
	}
	if row.Fields["title"].Str != "v2" {
		t.Errorf("compacted row title = %q, want v2 (newest write should win)", row.Fields["title"].Str)
	}
}

// TestReopenReplaysWAL simulates a process restart: close the engine, then
// reopen the same data directory and confirm every row survives.
func TestReopenReplaysWAL(t *testing.T) {
	dir := t.TempDir()
	e := mustOpen(t, dir)

	if err := e.CreateTable("books", booksSchema(), nil); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	id, err := e.InsertRow("books", map[string]value.Value{"title": value.String("Dune"), "price": value.Float(1)})
	if err != nil {
		t.Fatalf("InsertRow: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	e2 := mustOpen(t, dir)
	defer e2.Close()

	row, err := e2.GetRow("books", id)
	if err != nil {
		t.Fatalf("GetRow after reopen: %v", err)
	}
	if row.Fields["title"].Str != "Dune" {
		t.Errorf("title after reopen = %q, want Dune", row.Fields["title"].Str)
	}
}

// TestCheckpointThenReopenPreservesState exercises the checkpoint rotation
// (wal.log -> wal.prev -> wal.log.new) end to end: after a checkpoint the
// WAL shrinks, and a reopen from the rewritten WAL reproduces the same rows.
func TestCheckpointThenReopenPreservesState(t *testing.T) {
	dir := t.TempDir()
	e := mustOpen(t, dir)

	if err := e.CreateTable("books", booksSchema(), nil); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := e.InsertRow("books", map[string]value.Value{"title": value.String("row"), "price": value.Float(float64(i))}); err != nil {
			t.Fatalf("InsertRow %d: %v", i, err)
		}
	}

	before, err := e.DbStats()
	if err != nil {
		t.Fatalf("DbStats: %v", err)
	}

	result, err := e.Checkpoint()
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if result.WalBytesBefore != before.WalBytes {
		t.Errorf("checkpoint WalBytesBefore = %d, want %d", result.WalBytesBefore, before.WalBytes)
	}
	if result.WalBytesAfter >= result.WalBytesBefore {
		t.Errorf("checkpoint WalBytesAfter = %d, want less than WalBytesBefore = %d", result.WalBytesAfter, result.WalBytesBefore)
	}

	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	e2 := mustOpen(t, dir)
	defer e2.Close()

	for i := uint64(1); i <= 5; i++ {
		if _, err := e2.GetRow("books", i); err != nil {
			t.Errorf("GetRow(%d) after checkpoint+reopen: %v", i, err)
		}
	}
}

// TestExportAndRestoreSnapshot checkpoints, exports to a fresh directory,
// then restores that export elsewhere and confirms an engine opened on the
// restored copy sees the same rows.
func TestExportAndRestoreSnapshot(t *testing.T) {
	srcDir := t.TempDir()
	e := mustOpen(t, srcDir)

	if err := e.CreateTable("books", booksSchema(), nil); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if _, err := e.InsertRow("books", map[string]value.Value{"title": value.String("Dune"), "price": value.Float(1)}); err != nil {
		t.Fatalf("InsertRow: %v", err)
	}

	exportDir := filepath.Join(t.TempDir(), "export")
	if _, err := e.ExportSnapshot(exportDir); err != nil {
		t.Fatalf("ExportSnapshot: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	restoreDir := filepath.Join(t.TempDir(), "restore")
	if _, err := RestoreSnapshot(exportDir, restoreDir); err != nil {
		t.Fatalf("RestoreSnapshot: %v", err)
	}

	restored := mustOpen(t, restoreDir)
	defer restored.Close()

	row, err := restored.GetRow("books", 1)
	if err != nil {
		t.Fatalf("GetRow on restored engine: %v", err)
	}
	if row.Fields["title"].Str != "Dune" {
		t.Errorf("restored title = %q, want Dune", row.Fields["title"].Str)
	}
}

// fakeEmbedder lets tests control embedding outcomes deterministically.
type fakeEmbedder struct {
	fail bool
}

func (f fakeEmbedder) Embed(_ context.Context, input string) ([]float32, error) {
	if f.fail {
		return nil, errors.New("embedding backend unavailable")
	}
	return []float32{float32(len(input)), 0, 0}, nil
}

func embeddedBooksSchema() (schema.TableSchema, *schema.EmbeddingSpec) {
	sch := booksSchema()
	return sch, &schema.EmbeddingSpec{SourceFields: []string{"title"}}
}

func TestInsertWithEmbeddingSpecEnqueuesPendingJob(t *testing.T) {
	dir := t.TempDir()
	e := mustOpen(t, dir)
	defer e.Close()

	sch, spec := embeddedBooksSchema()
	if err := e.CreateTable("books", sch, spec); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	id, err := e.InsertRow("books", map[string]value.Value{"title": value.String("Dune"), "price": value.Float(1)})
	if err != nil {
		t.Fatalf("InsertRow: %v", err)
	}

	jobs, err := e.ListEmbeddingJobs("books")
	if err != nil {
		t.Fatalf("ListEmbeddingJobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].RowID != id {
		t.Fatalf("expected one pending job for row %d, got %+v", id, jobs)
	}
	if jobs[0].Meta.Status != schema.StatusPending {
		t.Errorf("job status = %v, want Pending", jobs[0].Meta.Status)
	}
}

func TestProcessPendingJobsSucceedsAndIsSearchable(t *testing.T) {
	dir := t.TempDir()
	e := mustOpen(t, dir)
	defer e.Close()

	sch, spec := embeddedBooksSchema()
	if err := e.CreateTable("books", sch, spec); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	id, err := e.InsertRow("books", map[string]value.Value{"title": value.String("Dune"), "price": value.Float(1)})
	if err != nil {
		t.Fatalf("InsertRow: %v", err)
	}

	n, err := e.ProcessPendingJobs(context.Background(), "books", fakeEmbedder{}, 1000, nil)
	if err != nil {
		t.Fatalf("ProcessPendingJobs: %v", err)
	}
	if n != 1 {
		t.Fatalf("processed %d jobs, want 1", n)
	}

	jobs, err := e.ListEmbeddingJobs("books")
	if err != nil {
		t.Fatalf("ListEmbeddingJobs: %v", err)
	}
	if jobs[0].Meta.Status != schema.StatusReady {
		t.Fatalf("job status after success = %v, want Ready", jobs[0].Meta.Status)
	}

	hits, err := e.SearchKNN("books", []float32{4, 0, 0}, 5, vector.MetricL2)
	if err != nil {
		t.Fatalf("SearchKNN: %v", err)
	}
	if len(hits) != 1 || hits[0].RowID != id {
		t.Fatalf("expected row %d as the only hit, got %+v", id, hits)
	}
}

// TestProcessPendingJobsRetriesWithBackoffThenFails exercises the full
// Pending -> (retry with backoff)* -> Failed state machine: a job that
// always errors should fail exactly maxEmbeddingAttempts times before it is
// parked in Failed, each failed attempt pushing its retry time forward.
func TestProcessPendingJobsRetriesWithBackoffThenFails(t *testing.T) {
	dir := t.TempDir()
	e := mustOpen(t, dir)
	defer e.Close()

	sch, spec := embeddedBooksSchema()
	if err := e.CreateTable("books", sch, spec); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if _, err := e.InsertRow("books", map[string]value.Value{"title": value.String("Dune"), "price": value.Float(1)}); err != nil {
		t.Fatalf("InsertRow: %v", err)
	}

	now := uint64(0)
	for attempt := 1; attempt <= maxEmbeddingAttempts; attempt++ {
		n, err := e.ProcessPendingJobs(context.Background(), "books", fakeEmbedder{fail: true}, now, nil)
		if err != nil {
			t.Fatalf("ProcessPendingJobs attempt %d: %v", attempt, err)
		}
		if n != 1 {
			t.Fatalf("attempt %d processed %d jobs, want 1", attempt, n)
		}

		jobs, err := e.ListEmbeddingJobs("books")
		if err != nil {
			t.Fatalf("ListEmbeddingJobs: %v", err)
		}
		job := jobs[0]
		if job.Meta.Attempts != uint32(attempt) {
			t.Fatalf("after attempt %d, Attempts = %d, want %d", attempt, job.Meta.Attempts, attempt)
		}

		if attempt < maxEmbeddingAttempts {
			if job.Meta.Status != schema.StatusPending {
				t.Fatalf("after attempt %d, status = %v, want Pending", attempt, job.Meta.Status)
			}
			now = job.Meta.NextRetryAtMs
		} else {
			if job.Meta.Status != schema.StatusFailed {
				t.Fatalf("after final attempt, status = %v, want Failed", job.Meta.Status)
			}
		}
	}

	// A failed job is not re-dispatched even if its clock has moved on.
	n, err := e.ProcessPendingJobs(context.Background(), "books", fakeEmbedder{fail: true}, now+1_000_000, nil)
	if err != nil {
		t.Fatalf("ProcessPendingJobs after failure: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no jobs dispatched once Failed, got %d", n)
	}

	reset, err := e.RetryFailedJobs("books", nil)
	if err != nil {
		t.Fatalf("RetryFailedJobs: %v", err)
	}
	if reset != 1 {
		t.Fatalf("RetryFailedJobs reset %d jobs, want 1", reset)
	}

	jobs, err := e.ListEmbeddingJobs("books")
	if err != nil {
		t.Fatalf("ListEmbeddingJobs after retry: %v", err)
	}
	if jobs[0].Meta.Status != schema.StatusPending || jobs[0].Meta.Attempts != 0 {
		t.Fatalf("after RetryFailedJobs, job = %+v, want Pending/Attempts=0", jobs[0])
	}
}

func TestBackoffMsMonotonicAndCapped(t *testing.T) {
	prev := uint64(0)
	for attempt := uint32(1); attempt <= 10; attempt++ {
		ms := backoffMs(attempt)
		if ms < prev {
			t.Fatalf("backoffMs(%d) = %d is less than backoffMs(%d) = %d", attempt, ms, attempt-1, prev)
		}
		if ms > backoffCapMs {
			t.Fatalf("backoffMs(%d) = %d exceeds cap %d", attempt, ms, backoffCapMs)
		}
		prev = ms
	}
	if got := backoffMs(1000); got != backoffCapMs {
		t.Errorf("backoffMs(1000) = %d, want saturated cap %d", got, backoffCapMs)
	}
}

func TestListTablesAndDbStats(t *testing.T) {
	dir := t.TempDir()
	e := mustOpen(t, dir)
	defer e.Close()

	if err := e.CreateTable("books", booksSchema(), nil); err != nil {
		t.Fatalf("CreateTable books: %v", err)
	}
	if err := e.CreateTable("authors", booksSchema(), nil); err != nil {
		t.Fatalf("CreateTable authors: %v", err)
	}

	names := e.ListTables()
	if len(names) != 2 || names[0] != "authors" || names[1] != "books" {
		t.Fatalf("ListTables = %v, want sorted [authors books]", names)
	}

	stats, err := e.DbStats()
	if err != nil {
		t.Fatalf("DbStats: %v", err)
	}
	if len(stats.Tables) != 2 {
		t.Errorf("DbStats.Tables = %v, want 2 entries", stats.Tables)
	}
}

func TestGetRowUnknownTable(t *testing.T) {
	dir := t.TempDir()
	e := mustOpen(t, dir)
	defer e.Close()

	_, err := e.GetRow("missing", 1)
	var notFound *dberrors.TableNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected TableNotFoundError, got %v", err)
	}
}
