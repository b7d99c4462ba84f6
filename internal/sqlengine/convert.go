package sqlengine

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// duckDBType maps an Arrow field to the DuckDB column type used for
// registered-batch tables. Kept to the same closed vocabulary
// flightrpc's wire schema supports (int64/float64/string/bool/timestamp).
func duckDBType(f arrow.Field) (string, error) {
	switch f.Type.ID() {
	case arrow.INT64:
		return "BIGINT", nil
	case arrow.FLOAT64:
		return "DOUBLE", nil
	case arrow.STRING:
		return "VARCHAR", nil
	case arrow.BOOL:
		return "BOOLEAN", nil
	case arrow.TIMESTAMP:
		return "TIMESTAMP", nil
	default:
		return "", fmt.Errorf("unsupported arrow type %s for column %q", f.Type, f.Name)
	}
}

func createTableDDL(table string, schema *arrow.Schema) (string, error) {
	cols := make([]string, len(schema.Fields()))
	for i, f := range schema.Fields() {
		dt, err := duckDBType(f)
		if err != nil {
			return "", err
		}
		cols[i] = quoteIdent(f.Name) + " " + dt
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(table), strings.Join(cols, ", ")), nil
}

// insertRecord loads rec into table one row at a time via a
// parameterized INSERT. Buzz's map/reduce batches are small (one
// object's matched rows, or one worker's partial aggregate) so this
// favors simplicity over the bulk Appender API go-duckdb also exposes.
func insertRecord(ctx context.Context, db *sql.DB, table string, rec arrow.Record) error {
	if rec.NumRows() == 0 {
		return nil
	}
	placeholders := make([]string, rec.NumCols())
	for i := range placeholders {
		placeholders[i] = "?"
	}
	stmt, err := db.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)", quoteIdent(table), strings.Join(placeholders, ", ")))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for row := 0; row < int(rec.NumRows()); row++ {
		args := make([]interface{}, rec.NumCols())
		for col := 0; col < int(rec.NumCols()); col++ {
			v, err := cellValue(rec.Column(col), row)
			if err != nil {
				return err
			}
			args[col] = v
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return err
		}
	}
	return nil
}

func cellValue(col arrow.Array, row int) (interface{}, error) {
	if col.IsNull(row) {
		return nil, nil
	}
	switch a := col.(type) {
	case *array.Int64:
		return a.Value(row), nil
	case *array.Float64:
		return a.Value(row), nil
	case *array.String:
		return a.Value(row), nil
	case *array.Boolean:
		return a.Value(row), nil
	case *array.Timestamp:
		return a.Value(row).ToTime(arrow.Nanosecond), nil
	default:
		return nil, fmt.Errorf("unsupported arrow array type %T", col)
	}
}

// arrowTypeFor maps a DuckDB result column's declared type name back
// to an Arrow type and a fresh builder for it.
func arrowTypeFor(dbType string, mem memory.Allocator) (arrow.DataType, array.Builder, error) {
	switch strings.ToUpper(dbType) {
	case "BIGINT", "HUGEINT", "INTEGER", "SMALLINT", "TINYINT":
		return arrow.PrimitiveTypes.Int64, array.NewInt64Builder(mem), nil
	case "DOUBLE", "FLOAT", "DECIMAL":
		return arrow.PrimitiveTypes.Float64, array.NewFloat64Builder(mem), nil
	case "VARCHAR", "TEXT":
		return arrow.BinaryTypes.String, array.NewStringBuilder(mem), nil
	case "BOOLEAN", "BOOL":
		return arrow.FixedWidthTypes.Boolean, array.NewBooleanBuilder(mem), nil
	case "TIMESTAMP", "TIMESTAMP_NS", "TIMESTAMP WITH TIME ZONE":
		return arrow.FixedWidthTypes.Timestamp_ns, array.NewTimestampBuilder(mem, &arrow.TimestampType{Unit: arrow.Nanosecond}), nil
	default:
		return nil, nil, fmt.Errorf("unsupported duckdb result type %q", dbType)
	}
}

// appendValue appends v (as produced by database/sql scanning into an
// interface{}) onto builder, matching the type arrowTypeFor chose.
func appendValue(builder array.Builder, v interface{}) error {
	if v == nil {
		builder.AppendNull()
		return nil
	}
	switch b := builder.(type) {
	case *array.Int64Builder:
		i, err := toInt64(v)
		if err != nil {
			return err
		}
		b.Append(i)
	case *array.Float64Builder:
		f, err := toFloat64(v)
		if err != nil {
			return err
		}
		b.Append(f)
	case *array.StringBuilder:
		switch s := v.(type) {
		case string:
			b.Append(s)
		case []byte:
			b.Append(string(s))
		default:
			b.Append(fmt.Sprintf("%v", s))
		}
	case *array.BooleanBuilder:
		bo, ok := v.(bool)
		if !ok {
			return fmt.Errorf("expected bool, got %T", v)
		}
		b.Append(bo)
	case *array.TimestampBuilder:
		t, ok := v.(time.Time)
		if !ok {
			return fmt.Errorf("expected time.Time, got %T", v)
		}
		ts, err := arrow.TimestampFromTime(t, arrow.Nanosecond)
		if err != nil {
			return err
		}
		b.Append(ts)
	default:
		return fmt.Errorf("unsupported builder type %T", builder)
	}
	return nil
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case *big.Int:
		if !n.IsInt64() {
			return 0, fmt.Errorf("integer %s overflows int64", n)
		}
		return n.Int64(), nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

func toFloat64(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("expected float, got %T", v)
	}
}
