package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/embeddb/embeddb/pkg/value"
)

// TestRecoverInterruptedCheckpointRestoresWalPrev simulates a crash between
// renaming wal.log to wal.prev and promoting wal.log.new into place: with
// wal.log absent and wal.prev present, the next Open must recover wal.prev
// back into wal.log rather than starting from an empty WAL.
func TestRecoverInterruptedCheckpointRestoresWalPrev(t *testing.T) {
	dir := t.TempDir()
	e := mustOpen(t, dir)

	if err := e.CreateTable("books", booksSchema(), nil); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if _, err := e.InsertRow("books", map[string]value.Value{"title": value.String("Dune"), "price": value.Float(1)}); err != nil {
		t.Fatalf("InsertRow: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	walPath := filepath.Join(dir, walFileName)
	prevPath := filepath.Join(dir, walPrevName)
	if err := os.Rename(walPath, prevPath); err != nil {
		t.Fatalf("simulate interrupted checkpoint: %v", err)
	}

	e2 := mustOpen(t, dir)
	defer e2.Close()

	row, err := e2.GetRow("books", 1)
	if err != nil {
		t.Fatalf("GetRow after recovering wal.prev: %v", err)
	}
	if row.Fields["title"].Str != "Dune" {
		t.Errorf("title after recovery = %q, want Dune", row.Fields["title"].Str)
	}

	if _, err := os.Stat(prevPath); !os.IsNotExist(err) {
		t.Errorf("wal.prev should be gone after recovery, stat err = %v", err)
	}
}

func TestCheckpointOnEmptyEngineIsNoop(t *testing.T) {
	dir := t.TempDir()
	e := mustOpen(t, dir)
	defer e.Close()

	if _, err := e.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint on an empty engine: %v", err)
	}
	if len(e.ListTables()) != 0 {
		t.Errorf("expected no tables, got %v", e.ListTables())
	}
}

func TestCheckpointPreservesEmbeddingState(t *testing.T) {
	dir := t.TempDir()
	e := mustOpen(t, dir)

	sch, spec := embeddedBooksSchema()
	if err := e.CreateTable("books", sch, spec); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if _, err := e.InsertRow("books", map[string]value.Value{"title": value.String("Dune"), "price": value.Float(1)}); err != nil {
		t.Fatalf("InsertRow: %v", err)
	}
	if _, err := e.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	e2 := mustOpen(t, dir)
	defer e2.Close()

	jobs, err := e2.ListEmbeddingJobs("books")
	if err != nil {
		t.Fatalf("ListEmbeddingJobs after reopen: %v", err)
	}
	if len(jobs) != 1 || jobs[0].RowID != 1 {
		t.Fatalf("expected the pending embedding job to survive checkpoint+reopen, got %+v", jobs)
	}
}
