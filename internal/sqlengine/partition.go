package sqlengine

import "context"

// PartitionEvaluator adapts an Engine to catalog.PartitionFilterEvaluator,
// evaluating one partition-filter predicate against one catalog
// entry's partition values at a time.
type PartitionEvaluator struct {
	ctx    context.Context
	engine *Engine
}

// NewPartitionEvaluator binds engine to ctx for the lifetime of one
// catalog Split call.
func NewPartitionEvaluator(ctx context.Context, engine *Engine) *PartitionEvaluator {
	return &PartitionEvaluator{ctx: ctx, engine: engine}
}

// Matches reports whether filter holds for the single row (columns, values).
func (p *PartitionEvaluator) Matches(filter string, columns []string, values []string) (bool, error) {
	indices, err := p.engine.MatchingIndices(p.ctx, filter, columns, [][]string{values})
	if err != nil {
		return false, err
	}
	return len(indices) == 1, nil
}
