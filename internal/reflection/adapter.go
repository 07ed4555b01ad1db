package reflection

import (
	"context"

	"github.com/oscillatelabsllc/memoria/internal/indexsvc"
)

// IndexSearcher adapts indexsvc.Service to the Searcher interface the
// deep-analysis searchMemory tool depends on, dropping the time-weighting
// knob the tool has no opinion about.
type IndexSearcher struct {
	Service *indexsvc.Service
}

// Search implements Searcher.
func (a IndexSearcher) Search(ctx context.Context, query string, k int) ([]SearchHit, error) {
	results, err := a.Service.Search(ctx, query, k, false)
	if err != nil {
		return nil, err
	}
	hits := make([]SearchHit, len(results))
	for i, r := range results {
		hits[i] = SearchHit{Path: r.Path, Score: r.Score}
	}
	return hits, nil
}
