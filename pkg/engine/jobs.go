package engine

import (
	"context"
	"sort"

	"github.com/embeddb/embeddb/pkg/schema"
	"github.com/embeddb/embeddb/pkg/wal"
)

const (
	maxEmbeddingAttempts = 5
	backoffBaseMs        = 250
	backoffCapMs         = 30000
)

// Embedder is the one polymorphic boundary in the engine: given a
// rendered embedding input, produce a vector or an error. Errors are
// never fatal — ProcessPendingJobs routes them through the retry state
// machine.
type Embedder interface {
	Embed(ctx context.Context, input string) ([]float32, error)
}

// backoffMs computes the exponential retry delay for a failed attempt
// count, saturating at backoffCapMs and never overflowing: attempts<=1
// gets the base delay, otherwise base*2^min(attempts-1,20).
func backoffMs(attempts uint32) uint64 {
	if attempts <= 1 {
		return backoffBaseMs
	}
	shift := attempts - 1
	if shift > 20 {
		shift = 20
	}
	ms := uint64(backoffBaseMs)
	for i := uint32(0); i < shift; i++ {
		if ms > backoffCapMs {
			return backoffCapMs
		}
		ms *= 2
	}
	if ms > backoffCapMs {
		return backoffCapMs
	}
	return ms
}

// EmbeddingJob is a single row's scheduler state, as returned by
// ListEmbeddingJobs.
type EmbeddingJob struct {
	RowID uint64
	Meta  schema.EmbeddingMeta
}

// ListEmbeddingJobs returns every row's embedding state for a table,
// sorted by row id.
func (e *Engine) ListEmbeddingJobs(table string) ([]EmbeddingJob, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.requireTable(table)
	if err != nil {
		return nil, err
	}

	ids := make([]uint64, 0, len(t.embeddingMeta))
	for id := range t.embeddingMeta {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	jobs := make([]EmbeddingJob, 0, len(ids))
	for _, id := range ids {
		jobs = append(jobs, EmbeddingJob{RowID: id, Meta: t.embeddingMeta[id]})
	}
	return jobs, nil
}

// RetryFailedJobs resets Failed jobs back to Pending with a clean slate
// (attempts=0, no backoff), optionally scoped to a single row. It returns
// the count reset.
func (e *Engine) RetryFailedJobs(table string, rowID *uint64) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.preflightAutocheckpoint(); err != nil {
		return 0, err
	}

	t, err := e.requireTable(table)
	if err != nil {
		return 0, err
	}

	var targets []uint64
	for id, meta := range t.embeddingMeta {
		if meta.Status != schema.StatusFailed {
			continue
		}
		if rowID != nil && id != *rowID {
			continue
		}
		if _, exists := t.memtable[id]; !exists {
			if _, tombstoned := t.tombstones[id]; tombstoned {
				continue
			}
		}
		targets = append(targets, id)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })

	for _, id := range targets {
		attempts := uint32(0)
		nextRetry := uint64(0)
		rec := wal.Record{
			Type:          wal.RecordUpdateEmbeddingStatus,
			Table:         table,
			RowID:         id,
			Status:        schema.StatusPending,
			Attempts:      &attempts,
			NextRetryAtMs: &nextRetry,
		}
		if err := e.w.Append(rec, true); err != nil {
			return 0, err
		}
		applyRecord(e.state, rec)
	}
	return len(targets), nil
}

type pendingJob struct {
	rowID uint64
	input string
}

// ProcessPendingJobs dispatches every Pending job whose retry time has
// elapsed (optionally capped at limit) to embedder. The embedder is
// invoked with the engine mutex released so its latency cannot block
// other operations; results are applied under the lock in a second pass.
func (e *Engine) ProcessPendingJobs(ctx context.Context, table string, embedder Embedder, nowMs uint64, limit *int) (int, error) {
	jobs, err := e.collectPendingJobs(table, nowMs, limit)
	if err != nil {
		return 0, err
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	for _, job := range jobs {
		vec, embedErr := embedder.Embed(ctx, job.input)
		e.applyEmbeddingResult(table, job.rowID, vec, embedErr, nowMs)
	}
	return len(jobs), nil
}

func (e *Engine) collectPendingJobs(table string, nowMs uint64, limit *int) ([]pendingJob, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.preflightAutocheckpoint(); err != nil {
		return nil, err
	}

	t, err := e.requireTable(table)
	if err != nil {
		return nil, err
	}
	if t.embeddingSpec == nil {
		return nil, nil
	}

	var ids []uint64
	for id, meta := range t.embeddingMeta {
		if meta.Status == schema.StatusPending && meta.NextRetryAtMs <= nowMs {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit != nil && *limit >= 0 && len(ids) > *limit {
		ids = ids[:*limit]
	}

	jobs := make([]pendingJob, 0, len(ids))
	for _, id := range ids {
		row, err := e.getRowLocked(table, t, id)
		if err != nil || row == nil {
			continue
		}
		input, err := t.embeddingSpec.InputString(row.Fields)
		if err != nil {
			continue
		}
		jobs = append(jobs, pendingJob{rowID: id, input: input})
	}
	return jobs, nil
}

func (e *Engine) applyEmbeddingResult(table string, rowID uint64, vec []float32, embedErr error, nowMs uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.state.tables[table]
	if !ok {
		return
	}
	meta, exists := t.embeddingMeta[rowID]
	if !exists {
		return
	}

	if embedErr == nil {
		storeRec := wal.Record{Type: wal.RecordStoreEmbedding, Table: table, RowID: rowID, Vector: vec}
		if err := e.w.Append(storeRec, true); err != nil {
			return
		}
		applyRecord(e.state, storeRec)

		attempts := uint32(0)
		nextRetry := uint64(0)
		statusRec := wal.Record{
			Type:          wal.RecordUpdateEmbeddingStatus,
			Table:         table,
			RowID:         rowID,
			Status:        schema.StatusReady,
			Attempts:      &attempts,
			NextRetryAtMs: &nextRetry,
		}
		if err := e.w.Append(statusRec, true); err != nil {
			return
		}
		applyRecord(e.state, statusRec)
		return
	}

	attempts := meta.Attempts + 1
	errMsg := embedErr.Error()
	var status schema.EmbeddingStatus
	var nextRetry uint64
	if attempts >= maxEmbeddingAttempts {
		status = schema.StatusFailed
		nextRetry = 0
	} else {
		status = schema.StatusPending
		nextRetry = nowMs + backoffMs(attempts)
	}

	statusRec := wal.Record{
		Type:          wal.RecordUpdateEmbeddingStatus,
		Table:         table,
		RowID:         rowID,
		Status:        status,
		LastError:     &errMsg,
		Attempts:      &attempts,
		NextRetryAtMs: &nextRetry,
	}
	if err := e.w.Append(statusRec, true); err != nil {
		return
	}
	applyRecord(e.state, statusRec)
}
