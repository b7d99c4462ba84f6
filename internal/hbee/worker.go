// Package hbee implements the worker (HBee) role (spec §4.5): scan
// one object through the byte-range cache, run the map SQL against
// the scanned batches, and hand the result to a Collector that pushes
// it to the aggregator or reports failure.
package hbee

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"google.golang.org/grpc"

	buzzerrors "github.com/cloudfuse-io/buzz-go/internal/errors"
	"github.com/cloudfuse-io/buzz-go/internal/execplan"
	"github.com/cloudfuse-io/buzz-go/internal/flightrpc"
	"github.com/cloudfuse-io/buzz-go/internal/model"
	"github.com/cloudfuse-io/buzz-go/internal/observability"
	"github.com/cloudfuse-io/buzz-go/internal/rangecache"
	"github.com/cloudfuse-io/buzz-go/internal/sqlengine"
)

// Publisher is the Collector's aggregator-facing half (spec §4.5 step
// 3): push a successful result, or report a failure. Backed by
// grpcPublisher in production and a fake in tests.
type Publisher interface {
	PutBatches(ctx context.Context, queryID string, batches []arrow.Record) error
	Fail(ctx context.Context, queryID, reason string) error
}

// grpcPublisher adapts a Flight-shaped gRPC connection to the aggregator.
type grpcPublisher struct {
	conn *grpc.ClientConn
}

// NewGRPCPublisher wraps conn (already dialed to the target aggregator).
func NewGRPCPublisher(conn *grpc.ClientConn) Publisher {
	return &grpcPublisher{conn: conn}
}

func (p *grpcPublisher) PutBatches(ctx context.Context, queryID string, batches []arrow.Record) error {
	return flightrpc.DoPutClient(ctx, p.conn, queryID, batches)
}

type failBody struct {
	QueryID string `json:"qid"`
	Reason  string `json:"r"`
}

func (p *grpcPublisher) Fail(ctx context.Context, queryID, reason string) error {
	body, err := json.Marshal(failBody{QueryID: queryID, Reason: reason})
	if err != nil {
		return err
	}
	return flightrpc.DoActionClient(ctx, p.conn, "F", body)
}

// Worker holds the byte-range cache an HBee process scans through.
// One Worker handles many sequential query executions (spec §4.5 is
// per-invocation; the cache it scans through may be process-lifetime
// or per-invocation depending on the deployment).
type Worker struct {
	cache         *rangecache.RangeCache
	downloaderID  string
	parquetReader execplan.ParquetFileReader
	logger        observability.QueryLogger
}

// NewWorker builds a Worker backed by downloader under downloaderID,
// with a dispatcher bounded to concurrency simultaneous downloads
// (spec §4.6.1 default 8).
func NewWorker(downloader rangecache.Downloader, downloaderID string, reader execplan.ParquetFileReader, concurrency int, logger observability.QueryLogger) *Worker {
	if logger == nil {
		logger = observability.NoopLogger{}
	}
	cache := rangecache.New(concurrency)
	cache.RegisterDownloader(downloaderID, downloader)
	return &Worker{cache: cache, downloaderID: downloaderID, parquetReader: reader, logger: logger}
}

// Close releases the byte-range cache's dispatcher.
func (w *Worker) Close() {
	w.cache.Close()
}

// ExecuteQuery runs spec §4.5's three steps: scan, run SQL, then hand
// the outcome to pub (the Collector).
func (w *Worker) ExecuteQuery(ctx context.Context, queryID string, plan model.HBeePlan, pub Publisher) error {
	started := time.Now()
	batches, err := w.scanAndRun(ctx, plan)
	if err != nil {
		w.logger.LogEvent(observability.QueryEvent{
			QueryID: queryID, Role: "hbee", Zone: -1, Stage: "scan",
			Outcome: "error", DurationMS: time.Since(started).Milliseconds(), Error: err.Error(),
		})
		if failErr := pub.Fail(ctx, queryID, err.Error()); failErr != nil {
			return buzzerrors.NewCloudClient("reporting hbee failure", failErr)
		}
		return err
	}

	if err := pub.PutBatches(ctx, queryID, batches); err != nil {
		return buzzerrors.NewCloudClient("pushing hbee results", err)
	}
	w.logger.LogEvent(observability.QueryEvent{
		QueryID: queryID, Role: "hbee", Zone: -1, Stage: "push",
		Outcome: "ok", DurationMS: time.Since(started).Milliseconds(),
	})
	return nil
}

// scanAndRun reads every file in the plan's table desc through the
// byte-range cache, then runs the map SQL against the union of
// scanned batches, collecting the result in memory (spec §4.5 steps
// 1-2; "collapse partitions with a merge operator" becomes "register
// every file's batches under one source name").
func (w *Worker) scanAndRun(ctx context.Context, plan model.HBeePlan) ([]arrow.Record, error) {
	var scanned []arrow.Record
	for _, file := range plan.TableDesc.Files {
		sp := execplan.New(w.cache, w.downloaderID, file, plan.TableDesc.Schema, w.parquetReader)
		stream, err := sp.Execute(ctx)
		if err != nil {
			return nil, err
		}
		for {
			rec, err := stream.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, err
			}
			scanned = append(scanned, rec)
		}
	}

	engine, err := sqlengine.New()
	if err != nil {
		return nil, buzzerrors.NewInternal("starting map-stage engine: " + err.Error())
	}
	defer engine.Close()

	if err := engine.RegisterBatches(ctx, plan.SourceName, plan.TableDesc.Schema, scanned); err != nil {
		return nil, err
	}
	_, rec, err := engine.RunSQL(ctx, plan.SQL)
	if err != nil {
		return nil, err
	}
	return []arrow.Record{rec}, nil
}
