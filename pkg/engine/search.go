package engine

import (
	"sort"

	"github.com/embeddb/embeddb/pkg/filter"
	"github.com/embeddb/embeddb/pkg/schema"
	"github.com/embeddb/embeddb/pkg/vector"
)

// SearchHit is one ranked result of a k-NN search.
type SearchHit struct {
	RowID    uint64
	Distance float32
}

// SearchKNN performs an exact scan over the table's in-memory embeddings,
// skipping rows whose meta says the embedding failed or is still
// pending (rows with no meta entry at all are included, matching the
// ported engine's behavior), and returns the k closest by metric.
func (e *Engine) SearchKNN(table string, query []float32, k int, metric vector.Metric) ([]SearchHit, error) {
	return e.SearchKNNFiltered(table, query, k, metric, nil)
}

// SearchKNNFiltered is SearchKNN plus row-level filter conditions: a
// candidate is dropped if its row cannot be loaded or any condition
// rejects it.
func (e *Engine) SearchKNNFiltered(table string, query []float32, k int, metric vector.Metric, conditions []filter.Condition) ([]SearchHit, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.requireTable(table)
	if err != nil {
		return nil, err
	}

	hits := make([]SearchHit, 0, len(t.embeddings))
	for rowID, vec := range t.embeddings {
		if meta, ok := t.embeddingMeta[rowID]; ok && meta.Status != schema.StatusReady {
			continue
		}

		if len(conditions) > 0 {
			row, err := e.getRowLocked(table, t, rowID)
			if err != nil || row == nil {
				continue
			}
			if !filter.MatchesAll(row.Fields, conditions) {
				continue
			}
		}

		d := vector.Distance(query, vec, metric)
		hits = append(hits, SearchHit{RowID: rowID, Distance: d})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return totalOrderLess(hits[i].Distance, hits[j].Distance)
	})

	if k >= 0 && k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// totalOrderLess imposes a total order on float32 where NaN sorts last,
// so k-NN results never place a NaN distance ahead of a real one.
func totalOrderLess(a, b float32) bool {
	if a != a { // a is NaN
		return false
	}
	if b != b { // b is NaN, a is not
		return true
	}
	return a < b
}
