package execplan

import (
	"context"
	"io"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/cloudfuse-io/buzz-go/internal/model"
	"github.com/cloudfuse-io/buzz-go/internal/rangecache"
)

var testSchema = arrow.NewSchema([]arrow.Field{{Name: "v", Type: arrow.PrimitiveTypes.Int64}}, nil)

// fakeReader treats the whole object as a single row group with one
// column chunk located entirely before the footer.
type fakeReader struct {
	values []int64
}

func (f *fakeReader) ParseFooter(footer io.Reader, footerStart, fileLength uint64) (*arrow.Schema, []RowGroupMeta, error) {
	return testSchema, []RowGroupMeta{{
		Index:   0,
		NumRows: int64(len(f.values)),
		Columns: []ColumnChunkMeta{{Name: "v", Start: 0, Length: len(f.values) * 8}},
	}}, nil
}

func (f *fakeReader) ReadRowGroup(rg RowGroupMeta, columns map[string]io.Reader, schema *arrow.Schema) (arrow.Record, error) {
	mem := memory.NewGoAllocator()
	b := array.NewInt64Builder(mem)
	for _, v := range f.values {
		b.Append(v)
	}
	return array.NewRecord(schema, []arrow.Array{b.NewArray()}, int64(len(f.values))), nil
}

type fakeDownloader struct {
	data []byte
}

func (d *fakeDownloader) Download(ctx context.Context, fileID string, start uint64, length int) ([]byte, error) {
	return d.data[start : start+uint64(length)], nil
}

func TestScanPlanProducesOneRecordPerRowGroup(t *testing.T) {
	data := make([]byte, 100)
	cache := rangecache.New(4)
	defer cache.Close()
	cache.RegisterDownloader("dl", &fakeDownloader{data: data})

	file := model.SizedFile{Key: "f", Length: uint64(len(data))}
	plan := New(cache, "dl", file, testSchema, &fakeReader{values: []int64{1, 2, 3}})

	stream, err := plan.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	rec, err := stream.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if rec.NumRows() != 3 {
		t.Fatalf("expected 3 rows, got %d", rec.NumRows())
	}

	if _, err := stream.Next(); err != io.EOF {
		t.Fatalf("expected EOF after single row group, got %v", err)
	}
}

func TestScanPlanRejectsSchemaMismatch(t *testing.T) {
	data := make([]byte, 100)
	cache := rangecache.New(4)
	defer cache.Close()
	cache.RegisterDownloader("dl", &fakeDownloader{data: data})

	wrongSchema := arrow.NewSchema([]arrow.Field{{Name: "other", Type: arrow.BinaryTypes.String}}, nil)
	file := model.SizedFile{Key: "f", Length: uint64(len(data))}
	plan := New(cache, "dl", file, wrongSchema, &fakeReader{values: []int64{1}})

	_, err := plan.Execute(context.Background())
	if err == nil {
		t.Fatal("expected schema mismatch error")
	}
}
