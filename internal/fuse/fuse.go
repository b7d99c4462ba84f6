package fuse

import (
	"context"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/google/uuid"

	"github.com/cloudfuse-io/buzz-go/internal/catalog"
	"github.com/cloudfuse-io/buzz-go/internal/cloud"
	buzzerrors "github.com/cloudfuse-io/buzz-go/internal/errors"
	"github.com/cloudfuse-io/buzz-go/internal/model"
	"github.com/cloudfuse-io/buzz-go/internal/observability"
	"github.com/cloudfuse-io/buzz-go/internal/planner"
)

// combFinder is HCombManager's find_or_start surface, narrowed to an
// interface so tests can substitute a fake without the container
// launcher/poll machinery.
type combFinder interface {
	FindOrStart(ctx context.Context, zones int) ([]string, error)
}

// Fuse is the query-controller entrypoint (spec §4.3): plan, find or
// start aggregators, dispatch workers, and collect the zone results.
type Fuse struct {
	planner      *planner.QueryPlanner
	combManager  combFinder
	invoker      cloud.FunctionInvoker
	functionName string
	logger       observability.QueryLogger
}

// New wires a Fuse from its collaborators. Callers register catalogs
// on planner before calling Run.
func New(p *planner.QueryPlanner, combManager combFinder, invoker cloud.FunctionInvoker, functionName string, logger observability.QueryLogger) *Fuse {
	if logger == nil {
		logger = observability.NoopLogger{}
	}
	return &Fuse{planner: p, combManager: combManager, invoker: invoker, functionName: functionName, logger: logger}
}

// RegisterCatalog exposes a catalog table under name for queries this
// Fuse plans.
func (f *Fuse) RegisterCatalog(name string, table *catalog.CatalogTable) {
	f.planner.Register(name, table)
}

// Run executes spec §4.3's orchestration loop for one query: plan,
// find_or_start the aggregators, dispatch the workers round-robin,
// and collect each zone's single result record in zone order.
func (f *Fuse) Run(ctx context.Context, query model.Query) ([]arrow.Record, error) {
	queryID := uuid.NewString()
	started := time.Now()

	plan, err := f.planner.Plan(ctx, queryID, query, query.Capacity.Zones)
	if err != nil {
		f.logEvent(queryID, -1, "plan", "error", started, err)
		return nil, err
	}
	if plan.Empty() {
		f.logEvent(queryID, -1, "plan", "ok", started, nil)
		return nil, nil
	}

	addresses, err := f.combManager.FindOrStart(ctx, len(plan.Zones))
	if err != nil {
		f.logEvent(queryID, -1, "schedule", "error", started, err)
		return nil, err
	}
	if len(addresses) < len(plan.Zones) {
		return nil, buzzerrors.NewInternal("fewer aggregator addresses returned than zones planned")
	}

	handles := make([]*AggregatorHandle, len(plan.Zones))
	for i, zone := range plan.Zones {
		h, err := scheduleAggregator(ctx, addresses[i], zone.HComb)
		if err != nil {
			f.logEvent(queryID, i, "schedule", "error", started, err)
			return nil, err
		}
		handles[i] = h
	}

	tasks := interleaveWorkers(plan.Zones, addresses, f.functionName)
	if err := dispatchWorkers(ctx, f.invoker, queryID, tasks); err != nil {
		f.logEvent(queryID, -1, "schedule", "error", started, err)
		return nil, err
	}

	results := make([]arrow.Record, 0, len(handles))
	for i, h := range handles {
		rec, err := h.Wait(ctx)
		if err != nil {
			f.logEvent(queryID, i, "reduce", "error", started, err)
			return nil, err
		}
		if rec != nil {
			results = append(results, rec)
		}
	}

	f.logEvent(queryID, -1, "reduce", "ok", started, nil)
	return results, nil
}

func (f *Fuse) logEvent(queryID string, zone int, stage, outcome string, started time.Time, err error) {
	evt := observability.QueryEvent{
		QueryID:    queryID,
		Role:       "fuse",
		Zone:       zone,
		Stage:      stage,
		Outcome:    outcome,
		DurationMS: time.Since(started).Milliseconds(),
	}
	if err != nil {
		evt.Error = err.Error()
	}
	f.logger.LogEvent(evt)
}
