// Package planner implements the query planner (spec §4.1): turning a
// client-submitted two-step Query into a DistributedPlan addressed at
// concrete HBee workers and HComb aggregators.
package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudfuse-io/buzz-go/internal/catalog"
	"github.com/cloudfuse-io/buzz-go/internal/errors"
	"github.com/cloudfuse-io/buzz-go/internal/model"
	"github.com/cloudfuse-io/buzz-go/internal/sql"
	"github.com/cloudfuse-io/buzz-go/internal/sqlengine"
)

// QueryPlanner holds the catalogs registered for one query's planning
// context, mirroring spec §4.1's "per-query SQL-parse/plan context
// that knows the registered catalog tables."
type QueryPlanner struct {
	catalogs map[string]*catalog.CatalogTable
}

// New returns a planner with no catalogs registered.
func New() *QueryPlanner {
	return &QueryPlanner{catalogs: make(map[string]*catalog.CatalogTable)}
}

// Register binds name (as referenced in map SQL's FROM clause) to table.
func (p *QueryPlanner) Register(name string, table *catalog.CatalogTable) {
	p.catalogs[name] = table
}

// Plan runs the algorithm spec §4.1 describes and returns the
// DistributedPlan to execute, or an empty plan if no file survived
// partition filtering.
func (p *QueryPlanner) Plan(ctx context.Context, queryID string, query model.Query, zonesRequested int) (model.DistributedPlan, error) {
	mapStep, ok := query.MapStep()
	if !ok {
		return model.DistributedPlan{}, errors.NewBadRequest("query has no map step", "submit a query with one hbee step and one hcomb step")
	}
	reduceStep, ok := query.ReduceStep()
	if !ok {
		return model.DistributedPlan{}, errors.NewBadRequest("query has no reduce step", "submit a query with one hbee step and one hcomb step")
	}

	parsedMap, err := sql.Parse(mapStep.SQL)
	if err != nil {
		return model.DistributedPlan{}, err
	}

	table, ok := p.catalogs[parsedMap.SourceName]
	if !ok {
		return model.DistributedPlan{}, errors.NewBadRequest(
			fmt.Sprintf("unknown table %q", parsedMap.SourceName),
			"register the catalog referenced by the map step before planning",
		)
	}

	partitionFilter, err := partitionOnlyFilter(parsedMap.Predicates, table.PartitionColumns())
	if err != nil {
		return model.DistributedPlan{}, err
	}

	engine, err := sqlengine.New()
	if err != nil {
		return model.DistributedPlan{}, errors.NewInternal(fmt.Sprintf("starting partition-filter engine: %v", err))
	}
	defer engine.Close()
	evaluator := sqlengine.NewPartitionEvaluator(ctx, engine)

	descs, err := table.Split(evaluator, partitionFilter)
	if err != nil {
		return model.DistributedPlan{}, err
	}
	n := len(descs)
	if n == 0 {
		return model.DistributedPlan{}, nil
	}

	hbeePlans := make([]model.HBeePlan, n)
	for i, d := range descs {
		hbeePlans[i] = model.HBeePlan{
			TableDesc:  d,
			SQL:        mapStep.SQL,
			SourceName: parsedMap.SourceName,
		}
	}

	parsedReduce, err := sql.Parse(reduceStep.SQL)
	if err != nil {
		return model.DistributedPlan{}, err
	}
	if parsedReduce.SourceName != mapStep.Name {
		return model.DistributedPlan{}, errors.NewReduceSourceMismatch(mapStep.Name, parsedReduce.SourceName)
	}

	// The aggregator's input is the map step's output: take its schema
	// from running the map SQL over an empty table of the scan schema.
	if err := engine.RegisterBatches(ctx, parsedMap.SourceName, descs[0].Schema, nil); err != nil {
		return model.DistributedPlan{}, err
	}
	mapSchema, _, err := engine.RunSQL(ctx, mapStep.SQL)
	if err != nil {
		return model.DistributedPlan{}, err
	}

	hcombTableDesc := model.HCombTableDesc{
		QueryID: queryID,
		NbHBee:  uint32(n),
		Schema:  mapSchema,
	}
	hcombPlan := model.HCombPlan{
		TableDesc:  hcombTableDesc,
		SQL:        reduceStep.SQL,
		SourceName: mapStep.Name,
	}

	zonesUsed := zonesRequested
	if zonesUsed > n {
		zonesUsed = n
	}
	if zonesUsed == 0 {
		return model.DistributedPlan{}, nil
	}

	zones := make([]model.ZonePlan, zonesUsed)
	for i := range zones {
		zones[i].HComb = hcombPlan
	}
	for i, plan := range hbeePlans {
		zi := i % zonesUsed
		zones[zi].HBee = append(zones[zi].HBee, plan)
	}

	return model.DistributedPlan{Zones: zones, NbHBeeTotal: n}, nil
}

// partitionOnlyFilter classifies every predicate spec §4.1 step 2
// requires, rejecting mixed ones, and ANDs the partition-only
// predicates into a single filter expression. Row-level predicates
// stay embedded in the (unmodified) map SQL each worker runs.
func partitionOnlyFilter(preds []sql.Predicate, partitionCols []string) (string, error) {
	var clauses []string
	for _, pred := range preds {
		switch catalog.ClassifyPredicate(pred.Columns, partitionCols) {
		case catalog.Mixed:
			return "", errors.NewMixedPredicate(pred.Expr)
		case catalog.PartitionOnly:
			clauses = append(clauses, pred.Expr)
		case catalog.RowLevel:
			// left in the map SQL; not part of the partition filter.
		}
	}
	return strings.Join(clauses, " AND "), nil
}
