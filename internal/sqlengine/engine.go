// Package sqlengine provides the in-process SQL execution context
// the HBee and HComb roles use to run their planned map/reduce SQL,
// and that the catalog uses to evaluate partition filters. It stands
// in for the "logical/physical operator library" spec.md treats as an
// external collaborator (§1), backed by an embedded DuckDB connection
// per query.
package sqlengine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	_ "github.com/marcboeker/go-duckdb"

	buzzerrors "github.com/cloudfuse-io/buzz-go/internal/errors"
)

// Engine wraps one DuckDB connection. Each HBee/HComb query gets its
// own Engine so that registered tables never leak across queries —
// mirroring the per-query SQL-parse/plan context spec §4.1 describes.
type Engine struct {
	mu  sync.Mutex
	db  *sql.DB
	mem *memory.GoAllocator
}

// New opens a fresh in-memory DuckDB connection.
func New() (*Engine, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening duckdb: %w", err)
	}
	return &Engine{db: db, mem: memory.NewGoAllocator()}, nil
}

// Close releases the underlying connection.
func (e *Engine) Close() error {
	return e.db.Close()
}

// RegisterBatches materializes records under name as a queryable
// table, standing in for "registers that provider under source_name"
// (spec §4.4.1, §4.5 step 1). A single-use registration: a name may
// only be registered once per Engine.
func (e *Engine) RegisterBatches(ctx context.Context, name string, schema *arrow.Schema, records []arrow.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ddl, err := createTableDDL(name, schema)
	if err != nil {
		return err
	}
	if _, err := e.db.ExecContext(ctx, ddl); err != nil {
		return buzzerrors.NewPlanExecution(fmt.Errorf("creating table %q: %w", name, err))
	}

	for _, rec := range records {
		if err := insertRecord(ctx, e.db, name, rec); err != nil {
			return buzzerrors.NewPlanExecution(fmt.Errorf("loading batch into %q: %w", name, err))
		}
	}
	return nil
}

// RunSQL executes sql (which must reference only tables previously
// registered with RegisterBatches) and returns its result as a single
// Arrow record batch plus its schema.
func (e *Engine) RunSQL(ctx context.Context, sqlText string) (*arrow.Schema, arrow.Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rows, err := e.db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, nil, buzzerrors.NewPlanExecution(fmt.Errorf("executing %q: %w", sqlText, err))
	}
	defer rows.Close()

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, nil, buzzerrors.NewPlanExecution(err)
	}
	fields := make([]arrow.Field, len(colTypes))
	builders := make([]array.Builder, len(colTypes))
	for i, ct := range colTypes {
		dt, builder, err := arrowTypeFor(ct.DatabaseTypeName(), e.mem)
		if err != nil {
			return nil, nil, buzzerrors.NewColumnarIO(err.Error(), nil)
		}
		nullable, _ := ct.Nullable()
		fields[i] = arrow.Field{Name: ct.Name(), Type: dt, Nullable: nullable}
		builders[i] = builder
	}
	schema := arrow.NewSchema(fields, nil)

	scanDest := make([]interface{}, len(colTypes))
	for i := range scanDest {
		scanDest[i] = new(interface{})
	}
	nRows := 0
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if err := rows.Scan(scanDest...); err != nil {
			return nil, nil, buzzerrors.NewPlanExecution(err)
		}
		for i, d := range scanDest {
			if err := appendValue(builders[i], *(d.(*interface{}))); err != nil {
				return nil, nil, buzzerrors.NewColumnarIO(err.Error(), nil)
			}
		}
		nRows++
	}
	if err := rows.Err(); err != nil {
		return nil, nil, buzzerrors.NewPlanExecution(err)
	}

	cols := make([]arrow.Array, len(builders))
	for i, b := range builders {
		cols[i] = b.NewArray()
	}
	rec := array.NewRecord(schema, cols, int64(nRows))
	return schema, rec, nil
}

// MatchingIndices evaluates filter (a SQL boolean expression over
// columns) against each row of values and returns the indices of the
// rows that satisfy it, following spec §4.2's "build an in-memory
// row-batch listing ... evaluate the partition filters against it
// using the embedded SQL engine."
func (e *Engine) MatchingIndices(ctx context.Context, filter string, columns []string, rows [][]string) ([]int, error) {
	if filter == "" {
		out := make([]int, len(rows))
		for i := range rows {
			out[i] = i
		}
		return out, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tmpTable := "buzz_partition_eval"
	colDefs := make([]string, 0, len(columns)+1)
	colDefs = append(colDefs, "buzz_row_idx BIGINT")
	for _, c := range columns {
		colDefs = append(colDefs, quoteIdent(c)+" VARCHAR")
	}
	ddl := fmt.Sprintf("CREATE TEMP TABLE %s (%s)", tmpTable, strings.Join(colDefs, ", "))
	if _, err := e.db.ExecContext(ctx, ddl); err != nil {
		return nil, buzzerrors.NewPlanExecution(fmt.Errorf("creating partition eval table: %w", err))
	}
	defer e.db.ExecContext(ctx, "DROP TABLE "+tmpTable)

	for i, row := range rows {
		vals := make([]string, 0, len(row)+1)
		vals = append(vals, fmt.Sprintf("%d", i))
		for _, v := range row {
			vals = append(vals, quoteLiteral(v))
		}
		insert := fmt.Sprintf("INSERT INTO %s VALUES (%s)", tmpTable, strings.Join(vals, ", "))
		if _, err := e.db.ExecContext(ctx, insert); err != nil {
			return nil, buzzerrors.NewPlanExecution(fmt.Errorf("loading partition eval row: %w", err))
		}
	}

	q := fmt.Sprintf("SELECT buzz_row_idx FROM %s WHERE %s ORDER BY buzz_row_idx", tmpTable, filter)
	rset, err := e.db.QueryContext(ctx, q)
	if err != nil {
		return nil, buzzerrors.NewPlanExecution(fmt.Errorf("evaluating partition filter: %w", err))
	}
	defer rset.Close()

	var matched []int
	for rset.Next() {
		var idx int64
		if err := rset.Scan(&idx); err != nil {
			return nil, buzzerrors.NewPlanExecution(err)
		}
		matched = append(matched, int(idx))
	}
	return matched, rset.Err()
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
