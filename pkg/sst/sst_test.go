package sst

import (
	"path/filepath"
	"testing"

	"github.com/embeddb/embeddb/pkg/schema"
	"github.com/embeddb/embeddb/pkg/value"
)

func TestFindEntryBinarySearchRoundtrip(t *testing.T) {
	dir := t.TempDir()
	tableDir := filepath.Join(dir, "table")

	row := schema.RowData{ID: 3, Fields: map[string]value.Value{"title": value.String("hello")}}
	entries := []Entry{
		{RowID: 1, Row: &schema.RowData{ID: 1, Fields: map[string]value.Value{}}},
		{RowID: 2, Row: nil},
		{RowID: 3, Row: &row},
	}
	path, err := Write(tableDir, 0, 1, entries)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	found, err := FindEntry(path, 3)
	if err != nil {
		t.Fatalf("FindEntry: %v", err)
	}
	if found == nil || found.Row == nil {
		t.Fatalf("expected row 3 to be found")
	}
	if found.Row.ID != 3 || found.Row.Fields["title"].Str != "hello" {
		t.Errorf("unexpected row: %+v", found.Row)
	}

	missing, err := FindEntry(path, 4)
	if err != nil {
		t.Fatalf("FindEntry: %v", err)
	}
	if missing != nil {
		t.Errorf("expected row 4 to be absent, got %+v", missing)
	}

	tombstone, err := FindEntry(path, 2)
	if err != nil {
		t.Fatalf("FindEntry: %v", err)
	}
	if tombstone == nil || tombstone.Row != nil {
		t.Errorf("expected row 2 to be a tombstone entry")
	}
}

func TestCompactLevelZeroNewestWins(t *testing.T) {
	dir := t.TempDir()
	tableDir := filepath.Join(dir, "table")

	old := schema.RowData{ID: 1, Fields: map[string]value.Value{"v": value.Int(1)}}
	fresh := schema.RowData{ID: 1, Fields: map[string]value.Value{"v": value.Int(2)}}

	p0, err := Write(tableDir, 0, 1, []Entry{{RowID: 1, Row: &old}, {RowID: 2, Row: &old}})
	if err != nil {
		t.Fatalf("Write seq1: %v", err)
	}
	p1, err := Write(tableDir, 0, 2, []Entry{{RowID: 1, Row: &fresh}, {RowID: 2, Row: nil}})
	if err != nil {
		t.Fatalf("Write seq2: %v", err)
	}

	files := []File{{Level: 0, Seq: 1, Path: p0}, {Level: 0, Seq: 2, Path: p1}}
	out, err := CompactLevelZero(files, tableDir, 1)
	if err != nil {
		t.Fatalf("CompactLevelZero: %v", err)
	}
	if out == nil {
		t.Fatalf("expected a merged level-1 file")
	}

	merged, err := Read(out.Path)
	if err != nil {
		t.Fatalf("Read merged: %v", err)
	}
	if len(merged) != 2 {
		t.Fatalf("got %d entries, want 2", len(merged))
	}
	if merged[0].Row == nil || merged[0].Row.Fields["v"].Int != 2 {
		t.Errorf("row 1 should be the newest version: %+v", merged[0])
	}
	if merged[1].Row != nil {
		t.Errorf("row 2 should remain a tombstone: %+v", merged[1])
	}
}

func TestParseFilename(t *testing.T) {
	level, seq, ok := ParseFilename("sst_L0_7.json")
	if !ok || level != 0 || seq != 7 {
		t.Fatalf("ParseFilename = (%d, %d, %v), want (0, 7, true)", level, seq, ok)
	}
	if _, _, ok := ParseFilename("not_an_sst.txt"); ok {
		t.Errorf("expected ok=false for a non-matching filename")
	}
}
