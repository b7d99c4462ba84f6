// Package flightrpc implements the wire contracts spec names as
// external collaborators: serializing HBeePlan/HCombPlan for the
// function-invoke and DoGet/DoPut paths, and the Flight-shaped
// DoGet/DoPut/DoAction RPC surface itself.
package flightrpc

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

// WireFieldType enumerates the scalar Arrow types Buzz's schemas use
// on the wire. Buzz's map/reduce plans only ever carry the columnar
// primitives a parquet row-group projects plus the string-typed
// partition columns catalog.Schema appends, so this is a closed set
// rather than a general Arrow-type codec.
type WireFieldType string

const (
	WireInt64     WireFieldType = "int64"
	WireFloat64   WireFieldType = "float64"
	WireString    WireFieldType = "string"
	WireBool      WireFieldType = "bool"
	WireTimestamp WireFieldType = "timestamp"
)

// WireField is one column of a serialized schema.
type WireField struct {
	Name     string        `json:"name"`
	Type     WireFieldType `json:"type"`
	Nullable bool          `json:"nullable"`
}

// WireSchema is the serializable form of *arrow.Schema.
type WireSchema struct {
	Fields []WireField `json:"fields"`
}

// ToWireSchema converts an Arrow schema for the wire. It fails on any
// field whose type is outside the closed set above.
func ToWireSchema(s *arrow.Schema) (WireSchema, error) {
	if s == nil {
		return WireSchema{}, nil
	}
	out := WireSchema{Fields: make([]WireField, 0, s.NumFields())}
	for _, f := range s.Fields() {
		t, err := toWireType(f.Type)
		if err != nil {
			return WireSchema{}, fmt.Errorf("field %q: %w", f.Name, err)
		}
		out.Fields = append(out.Fields, WireField{Name: f.Name, Type: t, Nullable: f.Nullable})
	}
	return out, nil
}

// FromWireSchema reconstructs an Arrow schema from its wire form.
func FromWireSchema(w WireSchema) (*arrow.Schema, error) {
	fields := make([]arrow.Field, 0, len(w.Fields))
	for _, wf := range w.Fields {
		t, err := fromWireType(wf.Type)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", wf.Name, err)
		}
		fields = append(fields, arrow.Field{Name: wf.Name, Type: t, Nullable: wf.Nullable})
	}
	return arrow.NewSchema(fields, nil), nil
}

func toWireType(t arrow.DataType) (WireFieldType, error) {
	switch t.ID() {
	case arrow.INT64:
		return WireInt64, nil
	case arrow.FLOAT64:
		return WireFloat64, nil
	case arrow.STRING:
		return WireString, nil
	case arrow.BOOL:
		return WireBool, nil
	case arrow.TIMESTAMP:
		return WireTimestamp, nil
	default:
		return "", fmt.Errorf("unsupported wire type %s", t)
	}
}

func fromWireType(t WireFieldType) (arrow.DataType, error) {
	switch t {
	case WireInt64:
		return arrow.PrimitiveTypes.Int64, nil
	case WireFloat64:
		return arrow.PrimitiveTypes.Float64, nil
	case WireString:
		return arrow.BinaryTypes.String, nil
	case WireBool:
		return arrow.FixedWidthTypes.Boolean, nil
	case WireTimestamp:
		return arrow.FixedWidthTypes.Timestamp_us, nil
	default:
		return nil, fmt.Errorf("unknown wire type %q", t)
	}
}

// SchemaFieldsEqual compares two schemas by field list, the
// comparison the round-trip law (spec §8.5) is checked against.
func SchemaFieldsEqual(a, b *arrow.Schema) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.NumFields() != b.NumFields() {
		return false
	}
	for i, f := range a.Fields() {
		g := b.Field(i)
		if f.Name != g.Name || !arrow.TypeEqual(f.Type, g.Type) || f.Nullable != g.Nullable {
			return false
		}
	}
	return true
}
