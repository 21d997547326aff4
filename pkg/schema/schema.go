// Package schema defines column and row types layered on pkg/value, the
// way the teacher's pkg/storage defines Table and DataType over raw Go
// scalars, generalized here to the tagged Value union.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/embeddb/embeddb/pkg/value"
)

// Column is a named, typed, nullable field in a TableSchema.
type Column struct {
	Name     string     `bson:"name"`
	DataType value.Type `bson:"data_type"`
	Nullable bool       `bson:"nullable"`
}

// TableSchema is an ordered list of columns.
type TableSchema struct {
	Columns []Column `bson:"columns"`
}

func (s TableSchema) ColumnByName(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Validate checks the schema itself has no duplicate column names.
func (s TableSchema) Validate() error {
	seen := make(map[string]struct{}, len(s.Columns))
	for _, c := range s.Columns {
		if _, ok := seen[c.Name]; ok {
			return fmt.Errorf("schema: duplicate column %q", c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	return nil
}

// ValidateRow checks that fields satisfies the schema: every non-nullable
// column present with a matching type, and no unknown columns.
func (s TableSchema) ValidateRow(fields map[string]value.Value) error {
	for _, c := range s.Columns {
		v, present := fields[c.Name]
		if !present {
			if !c.Nullable {
				return fmt.Errorf("schema: missing required column %q", c.Name)
			}
			continue
		}
		if !v.Matches(c.DataType) {
			return fmt.Errorf("schema: column %q expects %s, got %s", c.Name, c.DataType, v.Kind)
		}
		if v.IsNull() && !c.Nullable {
			return fmt.Errorf("schema: column %q is not nullable", c.Name)
		}
	}
	for name := range fields {
		if _, ok := s.ColumnByName(name); !ok {
			return fmt.Errorf("schema: unknown column %q", name)
		}
	}
	return nil
}

// RowData is a single stored row: an id plus its field values.
type RowData struct {
	ID     uint64                   `bson:"id"`
	Fields map[string]value.Value `bson:"fields"`
}

// EmbeddingStatus is the state of a row's embedding job.
type EmbeddingStatus uint8

const (
	StatusPending EmbeddingStatus = iota + 1
	StatusReady
	StatusFailed
)

func (s EmbeddingStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// EmbeddingSpec names the columns whose values are concatenated to form
// the canonical embedding input for a row.
type EmbeddingSpec struct {
	SourceFields []string `bson:"source_fields"`
}

// InputString renders the embedding input for fields: the AsString() form
// of each source field's value, in declared order, joined by "\n". A
// source field absent from fields entirely is an error; a field present
// with an explicit Null value renders as the empty string.
func (s EmbeddingSpec) InputString(fields map[string]value.Value) (string, error) {
	parts := make([]string, 0, len(s.SourceFields))
	for _, name := range s.SourceFields {
		v, ok := fields[name]
		if !ok {
			return "", fmt.Errorf("schema: embedding source field %q missing from row", name)
		}
		parts = append(parts, v.AsString())
	}
	return strings.Join(parts, "\n"), nil
}

// ContentHash returns the lowercase hex SHA-256 of the embedding input
// string, used to detect whether a stored embedding is stale.
func ContentHash(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// EmbeddingMeta tracks the scheduling state of one row's embedding job.
type EmbeddingMeta struct {
	Status        EmbeddingStatus `bson:"status"`
	ContentHash   string          `bson:"content_hash"`
	LastError     *string         `bson:"last_error,omitempty"`
	Attempts      uint32          `bson:"attempts"`
	NextRetryAtMs uint64          `bson:"next_retry_at_ms"`
}
