package wal

import (
	"fmt"

	"github.com/embeddb/embeddb/pkg/schema"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// RecordType discriminates the tagged Record union appended to the log.
type RecordType uint8

const (
	RecordCreateTable RecordType = iota + 1
	RecordSetNextRowID
	RecordPutRow
	RecordDeleteRow
	RecordEnqueueEmbedding
	RecordUpdateEmbeddingStatus
	RecordStoreEmbedding
)

// Record is every WAL record type flattened into one struct, the fields
// relevant to Type populated and the rest left zero. Self-describing BSON
// encoding (see the teacher's pkg/storage/bson.go) makes this safe to
// extend without a schema migration.
type Record struct {
	Type RecordType `bson:"type"`
	Table string    `bson:"table"`

	// CreateTable
	Schema        *schema.TableSchema  `bson:"schema,omitempty"`
	EmbeddingSpec *schema.EmbeddingSpec `bson:"embedding_spec,omitempty"`

	// SetNextRowID
	NextRowID uint64 `bson:"next_row_id,omitempty"`

	// PutRow / DeleteRow / EnqueueEmbedding / UpdateEmbeddingStatus / StoreEmbedding
	RowID uint64 `bson:"row_id,omitempty"`

	// PutRow
	Row *schema.RowData `bson:"row,omitempty"`

	// EnqueueEmbedding
	ContentHash string `bson:"content_hash,omitempty"`

	// UpdateEmbeddingStatus
	Status        schema.EmbeddingStatus `bson:"status,omitempty"`
	LastError     *string                `bson:"last_error,omitempty"`
	Attempts      *uint32                `bson:"attempts,omitempty"`
	NextRetryAtMs *uint64                `bson:"next_retry_at_ms,omitempty"`

	// StoreEmbedding
	Vector []float32 `bson:"vector,omitempty"`
}

func (r Record) Encode() ([]byte, error) {
	data, err := bson.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("wal: encode record: %w", err)
	}
	return data, nil
}

func DecodeRecord(data []byte) (Record, error) {
	var r Record
	if err := bson.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("wal: decode record: %w", err)
	}
	return r, nil
}
