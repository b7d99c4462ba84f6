// Package catalog implements the splittable-catalog abstraction: a
// schema plus a partition-aware file listing that the planner can
// filter down to the files a query actually needs.
package catalog

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/cloudfuse-io/buzz-go/internal/model"
)

// SplittableTable is the implementation-specific half of a catalog:
// it knows how to turn a filtered file list into per-worker table
// descriptors. A static list, a Delta-log-derived listing, or a test
// mock all satisfy this.
type SplittableTable interface {
	// Entries returns every entry in the table, unfiltered.
	Entries() []model.CatalogEntry

	// PartitionColumns names the columns carried only in
	// CatalogEntry.PartitionValues, not in the underlying files.
	PartitionColumns() []string

	// RowSchema is the schema of the files themselves, without
	// partition columns.
	RowSchema() *arrow.Schema

	// Split builds one HBeeTableDesc per file that survived
	// filtering, addressed at region/bucket.
	Split(files []model.SizedFile) ([]model.HBeeTableDesc, error)
}

// Schema returns the row schema extended with the partition columns,
// each typed as a UTF-8 string (partition values are always carried
// as their string encoding).
func Schema(t SplittableTable) *arrow.Schema {
	fields := append([]arrow.Field{}, t.RowSchema().Fields()...)
	for _, col := range t.PartitionColumns() {
		fields = append(fields, arrow.Field{Name: col, Type: arrow.BinaryTypes.String})
	}
	return arrow.NewSchema(fields, nil)
}

// PredicateKind classifies a filter predicate by which columns it
// references.
type PredicateKind int

const (
	PartitionOnly PredicateKind = iota
	RowLevel
	Mixed
)

// ClassifyPredicate reports which columns referenced appear in
// partitionCols.
func ClassifyPredicate(referencedCols []string, partitionCols []string) PredicateKind {
	partSet := make(map[string]bool, len(partitionCols))
	for _, c := range partitionCols {
		partSet[c] = true
	}
	sawPartition, sawRow := false, false
	for _, c := range referencedCols {
		if partSet[c] {
			sawPartition = true
		} else {
			sawRow = true
		}
	}
	switch {
	case sawPartition && sawRow:
		return Mixed
	case sawPartition:
		return PartitionOnly
	default:
		return RowLevel
	}
}

// CatalogTable wraps a SplittableTable with the generic partition-
// filter evaluation shared by every implementation.
type CatalogTable struct {
	impl SplittableTable
}

// NewCatalogTable wraps impl.
func NewCatalogTable(impl SplittableTable) *CatalogTable {
	return &CatalogTable{impl: impl}
}

func (c *CatalogTable) PartitionColumns() []string { return c.impl.PartitionColumns() }
func (c *CatalogTable) Schema() *arrow.Schema       { return Schema(c.impl) }

// Split evaluates partitionFilter (a SQL boolean expression over the
// partition columns only, or "" for no filter) against every entry's
// partition values, then hands the surviving files to the
// implementation's Split.
func (c *CatalogTable) Split(evaluator PartitionFilterEvaluator, partitionFilter string) ([]model.HBeeTableDesc, error) {
	entries := c.impl.Entries()
	cols := c.impl.PartitionColumns()

	var matched []model.SizedFile
	for _, e := range entries {
		ok, err := evaluator.Matches(partitionFilter, cols, e.PartitionValues)
		if err != nil {
			return nil, fmt.Errorf("evaluating partition filter: %w", err)
		}
		if ok {
			matched = append(matched, e.File)
		}
	}
	if len(matched) == 0 {
		return nil, nil
	}
	return c.impl.Split(matched)
}

// PartitionFilterEvaluator evaluates a partition-only SQL predicate
// against one row of partition column values. Implemented by the
// embedded SQL engine (internal/sqlengine) so catalog.go itself stays
// free of a hard dependency on any one execution engine.
type PartitionFilterEvaluator interface {
	Matches(filter string, columns []string, values []string) (bool, error)
}
