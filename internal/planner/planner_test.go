package planner

import (
	"context"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/cloudfuse-io/buzz-go/internal/catalog"
	"github.com/cloudfuse-io/buzz-go/internal/model"
)

// fakeTable is a tiny in-memory SplittableTable: two files, each
// tagged with a "day" partition value.
type fakeTable struct {
	entries []model.CatalogEntry
}

func (f *fakeTable) Entries() []model.CatalogEntry { return f.entries }
func (f *fakeTable) PartitionColumns() []string    { return []string{"day"} }
func (f *fakeTable) RowSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{{Name: "amount", Type: arrow.PrimitiveTypes.Float64}}, nil)
}
func (f *fakeTable) Split(files []model.SizedFile) ([]model.HBeeTableDesc, error) {
	out := make([]model.HBeeTableDesc, len(files))
	for i, file := range files {
		out[i] = model.HBeeTableDesc{
			Region: "us-east-1",
			Bucket: "my-bucket",
			Files:  []model.SizedFile{file},
			Schema: catalog.Schema(f),
		}
	}
	return out, nil
}

func newTestQuery(partitionFilter string) model.Query {
	return model.Query{
		Steps: []model.BuzzStep{
			{Name: "sales", SQL: "SELECT * FROM orders WHERE day = '2024-01-01'", Type: model.StepHBee, PartitionFilter: partitionFilter},
			{Name: "total", SQL: "SELECT sum(amount) FROM sales", Type: model.StepHComb},
		},
		Capacity: model.Capacity{Zones: 2},
	}
}

func TestPlanBuildsZonesRoundRobin(t *testing.T) {
	p := New()
	p.Register("orders", catalog.NewCatalogTable(&fakeTable{entries: []model.CatalogEntry{
		{File: model.SizedFile{Key: "a.parquet", Length: 100}, PartitionValues: []string{"2024-01-01"}},
		{File: model.SizedFile{Key: "b.parquet", Length: 100}, PartitionValues: []string{"2024-01-01"}},
		{File: model.SizedFile{Key: "c.parquet", Length: 100}, PartitionValues: []string{"2024-02-01"}},
	}}))

	plan, err := p.Plan(context.Background(), "q1", newTestQuery(""), 2)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.NbHBeeTotal != 2 {
		t.Fatalf("expected 2 workers (only day=2024-01-01 matches), got %d", plan.NbHBeeTotal)
	}
	if len(plan.Zones) != 2 {
		t.Fatalf("expected 2 zones, got %d", len(plan.Zones))
	}
	for _, z := range plan.Zones {
		if len(z.HBee) != 1 {
			t.Fatalf("expected 1 worker per zone, got %d", len(z.HBee))
		}
		if z.HComb.TableDesc.NbHBee != 2 {
			t.Fatalf("expected hcomb nb_hbee=2, got %d", z.HComb.TableDesc.NbHBee)
		}
	}
}

func TestPlanEmptyWhenNoFileMatches(t *testing.T) {
	p := New()
	p.Register("orders", catalog.NewCatalogTable(&fakeTable{entries: []model.CatalogEntry{
		{File: model.SizedFile{Key: "c.parquet", Length: 100}, PartitionValues: []string{"2024-02-01"}},
	}}))

	plan, err := p.Plan(context.Background(), "q1", newTestQuery(""), 2)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if !plan.Empty() {
		t.Fatalf("expected empty plan, got %+v", plan)
	}
}

func TestPlanEmptyWhenZeroZonesRequested(t *testing.T) {
	p := New()
	p.Register("orders", catalog.NewCatalogTable(&fakeTable{entries: []model.CatalogEntry{
		{File: model.SizedFile{Key: "a.parquet", Length: 100}, PartitionValues: []string{"2024-01-01"}},
	}}))

	plan, err := p.Plan(context.Background(), "q1", newTestQuery(""), 0)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if !plan.Empty() {
		t.Fatalf("expected empty plan when zonesRequested=0, got %+v", plan)
	}
}

func TestPlanRejectsReduceSourceMismatch(t *testing.T) {
	p := New()
	p.Register("orders", catalog.NewCatalogTable(&fakeTable{entries: []model.CatalogEntry{
		{File: model.SizedFile{Key: "a.parquet", Length: 100}, PartitionValues: []string{"2024-01-01"}},
	}}))

	q := newTestQuery("")
	q.Steps[1].SQL = "SELECT sum(amount) FROM wrong_name"

	_, err := p.Plan(context.Background(), "q1", q, 2)
	if err == nil {
		t.Fatal("expected reduce source mismatch error")
	}
}

func TestPlanRejectsMixedPredicate(t *testing.T) {
	p := New()
	p.Register("orders", catalog.NewCatalogTable(&fakeTable{entries: []model.CatalogEntry{
		{File: model.SizedFile{Key: "a.parquet", Length: 100}, PartitionValues: []string{"2024-01-01"}},
	}}))

	q := newTestQuery("")
	q.Steps[0].SQL = "SELECT * FROM orders WHERE day = '2024-01-01' OR amount > 10"

	_, err := p.Plan(context.Background(), "q1", q, 2)
	if err == nil {
		t.Fatal("expected mixed-predicate error")
	}
}
