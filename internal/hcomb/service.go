package hcomb

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/apache/arrow-go/v18/arrow"

	buzzerrors "github.com/cloudfuse-io/buzz-go/internal/errors"
	"github.com/cloudfuse-io/buzz-go/internal/flightrpc"
	"github.com/cloudfuse-io/buzz-go/internal/observability"
	"github.com/cloudfuse-io/buzz-go/internal/sqlengine"
)

// failActionBody is the JSON body carried by a DoAction "F" call
// (spec §6: `body = JSON {qid, r}`).
type failActionBody struct {
	QueryID string `json:"qid"`
	Reason  string `json:"r"`
}

// Service implements flightrpc.Server for the aggregator role (spec
// §4.4). It tracks activity for the idle-expiry watchdog and merges
// each query's worker partials through an embedded sqlengine.Engine.
type Service struct {
	results          *ResultsService
	lastActivityUnix atomic.Int64
	logger           observability.QueryLogger
}

// NewService returns a Service with its activity clock started now.
func NewService(logger observability.QueryLogger) *Service {
	if logger == nil {
		logger = observability.NoopLogger{}
	}
	s := &Service{results: NewResultsService(), logger: logger}
	s.touch()
	return s
}

func (s *Service) touch() {
	s.lastActivityUnix.Store(time.Now().Unix())
}

// IdleSeconds reports how long it has been since the last activity.
func (s *Service) IdleSeconds() int64 {
	return time.Now().Unix() - s.lastActivityUnix.Load()
}

var _ flightrpc.Server = (*Service)(nil)

// DoGet opens the result channel for the plan's query_id, acks
// readiness via ready before anything can block, then blocks until
// every worker has reported in (or one has failed), merges the
// collected partials through the reduce SQL, and streams back the
// single resulting batch (spec §4.4.1). Workers must not be dispatched
// until ready has returned successfully (spec §4.3).
func (s *Service) DoGet(ticket []byte, ready func(schema *arrow.Schema) error, send func(rec arrow.Record) error) error {
	plan, err := flightrpc.DecodeHCombPlan(ticket)
	if err != nil {
		return err
	}
	queryID := plan.TableDesc.QueryID
	s.touch()

	rc := s.results.Open(queryID, plan.TableDesc.NbHBee)
	defer s.results.Remove(queryID)

	if err := ready(plan.TableDesc.Schema); err != nil {
		return fmt.Errorf("acking aggregator readiness: %w", err)
	}

	started := time.Now()
	var batches []arrow.Record
	for item := range rc.Stream() {
		s.touch()
		if item.Err != nil {
			s.logger.LogEvent(observability.QueryEvent{
				QueryID: queryID, Role: "hcomb", Zone: -1, Stage: "reduce",
				Outcome: "error", DurationMS: time.Since(started).Milliseconds(), Error: item.Err.Error(),
			})
			return item.Err
		}
		if item.Record != nil {
			batches = append(batches, item.Record)
		}
	}

	engine, err := sqlengine.New()
	if err != nil {
		return buzzerrors.NewInternal(fmt.Sprintf("starting reduce engine: %v", err))
	}
	defer engine.Close()

	ctx := context.Background()
	if err := engine.RegisterBatches(ctx, plan.SourceName, plan.TableDesc.Schema, batches); err != nil {
		return err
	}
	_, rec, err := engine.RunSQL(ctx, plan.SQL)
	if err != nil {
		return err
	}
	defer rec.Release()

	s.logger.LogEvent(observability.QueryEvent{
		QueryID: queryID, Role: "hcomb", Zone: -1, Stage: "reduce",
		Outcome: "ok", DurationMS: time.Since(started).Milliseconds(),
	})
	return send(rec)
}

// DoPut forwards a worker's partial batches to its query's
// ResultChannel, then marks that worker finished (spec §4.4.2).
func (s *Service) DoPut(descriptorCmd string, schema *arrow.Schema, batches <-chan arrow.Record) error {
	s.touch()
	rc, ok := s.results.Lookup(descriptorCmd)
	if !ok {
		return buzzerrors.NewInternal(fmt.Sprintf("no result channel open for query %q", descriptorCmd))
	}
	for rec := range batches {
		rc.addResult(resultItem{Record: rec})
	}
	rc.taskFinished()
	return nil
}

// DoAction handles the "F" (Fail) action: a worker reporting it could
// not produce a partial aggregate (spec §4.4.3).
func (s *Service) DoAction(actionType string, body []byte) error {
	s.touch()
	if actionType != "F" {
		return buzzerrors.NewNotImplemented(fmt.Sprintf("unsupported action type %q", actionType))
	}
	var payload failActionBody
	if err := json.Unmarshal(body, &payload); err != nil {
		return buzzerrors.NewBadRequest("malformed Fail action body", "send JSON {qid, r}")
	}
	rc, ok := s.results.Lookup(payload.QueryID)
	if !ok {
		// the query already closed or expired; nothing to fail.
		return nil
	}
	rc.fail(buzzerrors.NewHBeeFailure(payload.QueryID, payload.Reason))
	return nil
}
