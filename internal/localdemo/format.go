// Package localdemo provides a self-contained, stdlib-only columnar
// file format for main_fuse_local/main_hbee_local: a stand-in for the
// real Parquet/Thrift decoder execplan.ParquetFileReader leaves as an
// interface seam (see DESIGN.md). Every column is int64 and laid out
// column-major after a small fixed header, so the whole file can be
// treated as one row group with one column chunk per column.
package localdemo

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/cloudfuse-io/buzz-go/internal/execplan"
)

var magic = [4]byte{'B', 'Z', 'D', '1'}

// WriteFile writes a demo columnar file for schema, with values giving
// each column's rows in the same order as schema.Fields(). Every
// column must have the same length.
func WriteFile(path string, schema *arrow.Schema, values map[string][]int64) error {
	fields := schema.Fields()
	var numRows uint32
	if len(fields) > 0 {
		numRows = uint32(len(values[fields[0].Name]))
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(magic[:]); err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, numRows); err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, uint32(len(fields))); err != nil {
		return err
	}
	for _, field := range fields {
		if err := binary.Write(f, binary.LittleEndian, uint16(len(field.Name))); err != nil {
			return err
		}
		if _, err := f.WriteString(field.Name); err != nil {
			return err
		}
	}
	for _, field := range fields {
		col := values[field.Name]
		if uint32(len(col)) != numRows {
			return fmt.Errorf("column %s has %d rows, want %d", field.Name, len(col), numRows)
		}
		for _, v := range col {
			if err := binary.Write(f, binary.LittleEndian, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// Reader implements execplan.ParquetFileReader over the format
// WriteFile produces. It assumes the whole file arrives in footer (the
// ~1MiB default footer prefetch covers demo-sized files in full).
type Reader struct{}

var _ execplan.ParquetFileReader = Reader{}

func (Reader) ParseFooter(footer io.Reader, footerStart, fileLength uint64) (*arrow.Schema, []execplan.RowGroupMeta, error) {
	if footerStart != 0 {
		return nil, nil, fmt.Errorf("localdemo: file too large for single-footer prefetch (footerStart=%d)", footerStart)
	}

	var gotMagic [4]byte
	if _, err := io.ReadFull(footer, gotMagic[:]); err != nil {
		return nil, nil, fmt.Errorf("reading magic: %w", err)
	}
	if gotMagic != magic {
		return nil, nil, fmt.Errorf("bad magic %x", gotMagic)
	}

	var numRows, numCols uint32
	if err := binary.Read(footer, binary.LittleEndian, &numRows); err != nil {
		return nil, nil, fmt.Errorf("reading row count: %w", err)
	}
	if err := binary.Read(footer, binary.LittleEndian, &numCols); err != nil {
		return nil, nil, fmt.Errorf("reading column count: %w", err)
	}

	names := make([]string, numCols)
	for i := range names {
		var nameLen uint16
		if err := binary.Read(footer, binary.LittleEndian, &nameLen); err != nil {
			return nil, nil, fmt.Errorf("reading column %d name length: %w", i, err)
		}
		nameBuf := make([]byte, nameLen)
		if _, err := io.ReadFull(footer, nameBuf); err != nil {
			return nil, nil, fmt.Errorf("reading column %d name: %w", i, err)
		}
		names[i] = string(nameBuf)
	}

	headerLen := uint64(4 + 4 + 4)
	for _, name := range names {
		headerLen += 2 + uint64(len(name))
	}

	fields := make([]arrow.Field, numCols)
	columns := make([]execplan.ColumnChunkMeta, numCols)
	colLen := int(numRows) * 8
	for i, name := range names {
		fields[i] = arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Int64}
		columns[i] = execplan.ColumnChunkMeta{
			Name:   name,
			Start:  headerLen + uint64(i*colLen),
			Length: colLen,
		}
	}

	schema := arrow.NewSchema(fields, nil)
	rowGroups := []execplan.RowGroupMeta{{Index: 0, NumRows: int64(numRows), Columns: columns}}
	return schema, rowGroups, nil
}

func (Reader) ReadRowGroup(rg execplan.RowGroupMeta, columns map[string]io.Reader, schema *arrow.Schema) (arrow.Record, error) {
	alloc := memory.NewGoAllocator()
	arrays := make([]arrow.Array, len(schema.Fields()))
	for i, field := range schema.Fields() {
		r, ok := columns[field.Name]
		if !ok {
			return nil, fmt.Errorf("no column chunk for %s", field.Name)
		}
		b := array.NewInt64Builder(alloc)
		for row := int64(0); row < rg.NumRows; row++ {
			var v int64
			if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
				return nil, fmt.Errorf("reading %s row %d: %w", field.Name, row, err)
			}
			b.Append(v)
		}
		arrays[i] = b.NewArray()
	}
	return array.NewRecord(schema, arrays, rg.NumRows), nil
}
