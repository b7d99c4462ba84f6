package sqlengine

import (
	"context"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

func buildInt64StringRecord(t *testing.T, schema *arrow.Schema, ids []int64, names []string) arrow.Record {
	t.Helper()
	mem := memory.NewGoAllocator()
	idB := array.NewInt64Builder(mem)
	nameB := array.NewStringBuilder(mem)
	for i := range ids {
		idB.Append(ids[i])
		nameB.Append(names[i])
	}
	return array.NewRecord(schema, []arrow.Array{idB.NewArray(), nameB.NewArray()}, int64(len(ids)))
}

func TestEngineRegisterAndRunSQL(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "name", Type: arrow.BinaryTypes.String},
	}, nil)
	rec := buildInt64StringRecord(t, schema, []int64{1, 2, 3}, []string{"a", "b", "c"})
	defer rec.Release()

	e, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	ctx := context.Background()
	if err := e.RegisterBatches(ctx, "t", schema, []arrow.Record{rec}); err != nil {
		t.Fatalf("RegisterBatches: %v", err)
	}

	_, out, err := e.RunSQL(ctx, "SELECT id, name FROM t WHERE id >= 2 ORDER BY id")
	if err != nil {
		t.Fatalf("RunSQL: %v", err)
	}
	defer out.Release()

	if out.NumRows() != 2 {
		t.Fatalf("expected 2 rows, got %d", out.NumRows())
	}
	got := out.Column(0).(*array.Int64).Value(0)
	if got != 2 {
		t.Fatalf("expected first id 2, got %d", got)
	}
}

func TestEngineMatchingIndices(t *testing.T) {
	e, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	ctx := context.Background()
	rows := [][]string{{"us-east-1", "2024-01-01"}, {"eu-west-1", "2024-01-01"}, {"us-east-1", "2024-02-01"}}
	matched, err := e.MatchingIndices(ctx, "region = 'us-east-1'", []string{"region", "day"}, rows)
	if err != nil {
		t.Fatalf("MatchingIndices: %v", err)
	}
	if len(matched) != 2 || matched[0] != 0 || matched[1] != 2 {
		t.Fatalf("expected indices [0 2], got %v", matched)
	}
}

func TestEngineMatchingIndicesEmptyFilterMatchesAll(t *testing.T) {
	e, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	matched, err := e.MatchingIndices(context.Background(), "", []string{"region"}, [][]string{{"a"}, {"b"}})
	if err != nil {
		t.Fatalf("MatchingIndices: %v", err)
	}
	if len(matched) != 2 {
		t.Fatalf("expected all rows matched, got %v", matched)
	}
}

func TestPartitionEvaluatorMatches(t *testing.T) {
	e, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	ev := NewPartitionEvaluator(context.Background(), e)
	ok, err := ev.Matches("region = 'us-east-1'", []string{"region"}, []string{"us-east-1"})
	if err != nil {
		t.Fatalf("Matches: %v", err)
	}
	if !ok {
		t.Fatal("expected match")
	}

	ok, err = ev.Matches("region = 'us-east-1'", []string{"region"}, []string{"eu-west-1"})
	if err != nil {
		t.Fatalf("Matches: %v", err)
	}
	if ok {
		t.Fatal("expected no match")
	}
}
