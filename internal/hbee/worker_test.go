package hbee

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/cloudfuse-io/buzz-go/internal/execplan"
	"github.com/cloudfuse-io/buzz-go/internal/model"
)

var workerSchema = arrow.NewSchema([]arrow.Field{{Name: "v", Type: arrow.PrimitiveTypes.Int64}}, nil)

type fakeDownloader struct{ data []byte }

func (d *fakeDownloader) Download(ctx context.Context, fileID string, start uint64, length int) ([]byte, error) {
	return d.data[start : start+uint64(length)], nil
}

type fakeParquetReader struct{ values []int64 }

func (f *fakeParquetReader) ParseFooter(footer io.Reader, footerStart, fileLength uint64) (*arrow.Schema, []execplan.RowGroupMeta, error) {
	return workerSchema, []execplan.RowGroupMeta{{
		Index:   0,
		NumRows: int64(len(f.values)),
		Columns: []execplan.ColumnChunkMeta{{Name: "v", Start: 0, Length: len(f.values) * 8}},
	}}, nil
}

func (f *fakeParquetReader) ReadRowGroup(rg execplan.RowGroupMeta, columns map[string]io.Reader, schema *arrow.Schema) (arrow.Record, error) {
	mem := memory.NewGoAllocator()
	b := array.NewInt64Builder(mem)
	for _, v := range f.values {
		b.Append(v)
	}
	return array.NewRecord(schema, []arrow.Array{b.NewArray()}, int64(len(f.values))), nil
}

type fakePublisher struct {
	putQueryID string
	putBatches []arrow.Record
	failReason string
	failed     bool
}

func (p *fakePublisher) PutBatches(ctx context.Context, queryID string, batches []arrow.Record) error {
	p.putQueryID = queryID
	p.putBatches = batches
	return nil
}

func (p *fakePublisher) Fail(ctx context.Context, queryID, reason string) error {
	p.failed = true
	p.failReason = reason
	return nil
}

func TestExecuteQueryPushesOnSuccess(t *testing.T) {
	data := make([]byte, 64)
	w := NewWorker(&fakeDownloader{data: data}, "dl", &fakeParquetReader{values: []int64{1, 2, 3}}, 4, nil)
	defer w.Close()

	plan := model.HBeePlan{
		TableDesc: model.HBeeTableDesc{
			Region: "us-east-1",
			Bucket: "b",
			Files:  []model.SizedFile{{Key: "f1", Length: uint64(len(data))}},
			Schema: workerSchema,
		},
		SQL:        "SELECT sum(v) AS total FROM t",
		SourceName: "t",
	}

	pub := &fakePublisher{}
	if err := w.ExecuteQuery(context.Background(), "q1", plan, pub); err != nil {
		t.Fatalf("ExecuteQuery: %v", err)
	}
	if pub.failed {
		t.Fatal("expected success, got failure report")
	}
	if pub.putQueryID != "q1" {
		t.Fatalf("expected queryID q1, got %q", pub.putQueryID)
	}
	if len(pub.putBatches) != 1 {
		t.Fatalf("expected 1 result batch, got %d", len(pub.putBatches))
	}
	got := pub.putBatches[0].Column(0).(*array.Int64).Value(0)
	if got != 6 {
		t.Fatalf("expected sum 6, got %d", got)
	}
}

type failingReader struct{}

func (failingReader) ParseFooter(io.Reader, uint64, uint64) (*arrow.Schema, []execplan.RowGroupMeta, error) {
	return nil, nil, errors.New("simulated footer parse failure")
}
func (failingReader) ReadRowGroup(execplan.RowGroupMeta, map[string]io.Reader, *arrow.Schema) (arrow.Record, error) {
	return nil, errors.New("unreachable")
}

func TestExecuteQueryReportsFailureOnScanError(t *testing.T) {
	data := make([]byte, 64)
	w := NewWorker(&fakeDownloader{data: data}, "dl", failingReader{}, 4, nil)
	defer w.Close()

	plan := model.HBeePlan{
		TableDesc: model.HBeeTableDesc{
			Files:  []model.SizedFile{{Key: "f1", Length: uint64(len(data))}},
			Schema: workerSchema,
		},
		SQL:        "SELECT sum(v) FROM t",
		SourceName: "t",
	}

	pub := &fakePublisher{}
	err := w.ExecuteQuery(context.Background(), "q2", plan, pub)
	if err == nil {
		t.Fatal("expected scan error to propagate")
	}
	if !pub.failed {
		t.Fatal("expected Fail to have been reported")
	}
}
