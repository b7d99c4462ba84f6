package fuse

import (
	"context"
	"encoding/base64"
	"io"
	"net"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cloudfuse-io/buzz-go/internal/catalog"
	"github.com/cloudfuse-io/buzz-go/internal/cloud"
	"github.com/cloudfuse-io/buzz-go/internal/execplan"
	"github.com/cloudfuse-io/buzz-go/internal/flightrpc"
	"github.com/cloudfuse-io/buzz-go/internal/hbee"
	"github.com/cloudfuse-io/buzz-go/internal/hcomb"
	"github.com/cloudfuse-io/buzz-go/internal/model"
	"github.com/cloudfuse-io/buzz-go/internal/planner"
)

var arrowAllocator = memory.NewGoAllocator()

// fakeCombFinder returns addresses of aggregators already started by
// the test, bypassing the container-launcher machinery.
type fakeCombFinder struct{ addresses []string }

func (f *fakeCombFinder) FindOrStart(ctx context.Context, zones int) ([]string, error) {
	return f.addresses[:zones], nil
}

// startAggregator boots a real hcomb.Service behind a TCP gRPC
// listener and returns its address.
func startAggregator(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := grpc.NewServer()
	flightrpc.RegisterServer(s, hcomb.NewService(nil))
	go s.Serve(lis)
	t.Cleanup(s.Stop)
	return lis.Addr().String()
}

var fuseSchema = arrow.NewSchema([]arrow.Field{{Name: "amount", Type: arrow.PrimitiveTypes.Int64}}, nil)

type fuseParquetReader struct{ value int64 }

func (r fuseParquetReader) ParseFooter(footer io.Reader, footerStart, fileLength uint64) (*arrow.Schema, []execplan.RowGroupMeta, error) {
	return fuseSchema, []execplan.RowGroupMeta{{
		Index:   0,
		NumRows: 1,
		Columns: []execplan.ColumnChunkMeta{{Name: "amount", Start: 0, Length: 8}},
	}}, nil
}

func (r fuseParquetReader) ReadRowGroup(rg execplan.RowGroupMeta, columns map[string]io.Reader, schema *arrow.Schema) (arrow.Record, error) {
	b := array.NewInt64Builder(arrowAllocator)
	b.Append(r.value)
	return array.NewRecord(schema, []arrow.Array{b.NewArray()}, 1), nil
}

type fuseDownloader struct{}

func (fuseDownloader) Download(ctx context.Context, fileID string, start uint64, length int) ([]byte, error) {
	return make([]byte, length), nil
}

// fuseTable is an unpartitioned catalog table with fileCount files;
// every file scans to one row of value 1 through fuseParquetReader.
type fuseTable struct{ fileCount int }

func (f *fuseTable) Entries() []model.CatalogEntry {
	entries := make([]model.CatalogEntry, f.fileCount)
	for i := range entries {
		entries[i] = model.CatalogEntry{File: model.SizedFile{Key: "f", Length: 64}}
	}
	return entries
}
func (f *fuseTable) PartitionColumns() []string { return nil }
func (f *fuseTable) RowSchema() *arrow.Schema   { return fuseSchema }
func (f *fuseTable) Split(files []model.SizedFile) ([]model.HBeeTableDesc, error) {
	out := make([]model.HBeeTableDesc, len(files))
	for i, file := range files {
		out[i] = model.HBeeTableDesc{Bucket: "b", Files: []model.SizedFile{file}, Schema: fuseSchema}
	}
	return out, nil
}

// TestFuseRunEndToEnd drives the full orchestration loop: plan two
// workers into one zone, invoke them in-process through an hbee
// Worker, and merge their partials through a real hcomb.Service.
func TestFuseRunEndToEnd(t *testing.T) {
	addr := startAggregator(t)

	p := planner.New()
	p.Register("orders", catalog.NewCatalogTable(&fuseTable{fileCount: 2}))

	invoker := cloud.NewLocalFunctionInvoker(func(ctx context.Context, payload cloud.InvokePayload) {
		body, err := base64.StdEncoding.DecodeString(payload.Plan.Body)
		if err != nil {
			t.Errorf("decode invoke plan body: %v", err)
			return
		}
		plan, err := flightrpc.DecodeHBeePlan(body)
		if err != nil {
			t.Errorf("decode hbee plan: %v", err)
			return
		}

		conn, err := grpc.NewClient(payload.Address, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			t.Errorf("dial aggregator: %v", err)
			return
		}
		defer conn.Close()

		w := hbee.NewWorker(fuseDownloader{}, "dl", fuseParquetReader{value: 1}, 4, nil)
		defer w.Close()
		pub := hbee.NewGRPCPublisher(conn)
		if err := w.ExecuteQuery(ctx, payload.ID, plan, pub); err != nil {
			t.Errorf("ExecuteQuery: %v", err)
		}
	})

	combFinder := &fakeCombFinder{addresses: []string{addr}}
	f := New(p, combFinder, invoker, "worker-fn", nil)

	query := model.Query{
		Steps: []model.BuzzStep{
			{Name: "sales", SQL: "SELECT amount FROM orders", Type: model.StepHBee},
			{Name: "total", SQL: "SELECT sum(amount) AS total FROM sales", Type: model.StepHComb},
		},
		Capacity: model.Capacity{Zones: 1},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	results, err := f.Run(ctx, query)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 zone result, got %d", len(results))
	}
	got := results[0].Column(0).(*array.Int64).Value(0)
	if got != 2 {
		t.Fatalf("expected sum of two fixed-value(1) rows = 2, got %d", got)
	}
}
