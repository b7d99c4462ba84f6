package flightrpc

import (
	"encoding/json"
	"fmt"

	"github.com/cloudfuse-io/buzz-go/internal/model"
)

// wireSizedFile, wireHBeeTableDesc, wireHCombTableDesc mirror their
// model.* counterparts with WireSchema standing in for *arrow.Schema,
// since arrow.Schema does not itself round-trip through
// encoding/json.

type wireSizedFile struct {
	Key    string `json:"key"`
	Length uint64 `json:"length"`
}

type wireHBeeTableDesc struct {
	Region string          `json:"region"`
	Bucket string          `json:"bucket"`
	Files  []wireSizedFile `json:"files"`
	Schema WireSchema      `json:"schema"`
}

type wireHCombTableDesc struct {
	QueryID string     `json:"query_id"`
	NbHBee  uint32      `json:"nb_hbee"`
	Schema  WireSchema `json:"schema"`
}

type wireHBeePlan struct {
	TableDesc  wireHBeeTableDesc `json:"table_desc"`
	SQL        string            `json:"sql"`
	SourceName string            `json:"source_name"`
}

type wireHCombPlan struct {
	TableDesc  wireHCombTableDesc `json:"table_desc"`
	SQL        string             `json:"sql"`
	SourceName string             `json:"source_name"`
}

// EncodeHBeePlan serializes plan for the function-invoke payload.
func EncodeHBeePlan(plan model.HBeePlan) ([]byte, error) {
	ws, err := ToWireSchema(plan.TableDesc.Schema)
	if err != nil {
		return nil, fmt.Errorf("encoding hbee plan schema: %w", err)
	}
	files := make([]wireSizedFile, len(plan.TableDesc.Files))
	for i, f := range plan.TableDesc.Files {
		files[i] = wireSizedFile{Key: f.Key, Length: f.Length}
	}
	w := wireHBeePlan{
		TableDesc: wireHBeeTableDesc{
			Region: plan.TableDesc.Region,
			Bucket: plan.TableDesc.Bucket,
			Files:  files,
			Schema: ws,
		},
		SQL:        plan.SQL,
		SourceName: plan.SourceName,
	}
	return json.Marshal(w)
}

// DecodeHBeePlan reverses EncodeHBeePlan.
func DecodeHBeePlan(raw []byte) (model.HBeePlan, error) {
	var w wireHBeePlan
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.HBeePlan{}, fmt.Errorf("decoding hbee plan: %w", err)
	}
	schema, err := FromWireSchema(w.TableDesc.Schema)
	if err != nil {
		return model.HBeePlan{}, fmt.Errorf("decoding hbee plan schema: %w", err)
	}
	files := make([]model.SizedFile, len(w.TableDesc.Files))
	for i, f := range w.TableDesc.Files {
		files[i] = model.SizedFile{Key: f.Key, Length: f.Length}
	}
	return model.HBeePlan{
		TableDesc: model.HBeeTableDesc{
			Region: w.TableDesc.Region,
			Bucket: w.TableDesc.Bucket,
			Files:  files,
			Schema: schema,
		},
		SQL:        w.SQL,
		SourceName: w.SourceName,
	}, nil
}

// EncodeHCombPlan serializes plan for DoGet's ticket.
func EncodeHCombPlan(plan model.HCombPlan) ([]byte, error) {
	ws, err := ToWireSchema(plan.TableDesc.Schema)
	if err != nil {
		return nil, fmt.Errorf("encoding hcomb plan schema: %w", err)
	}
	w := wireHCombPlan{
		TableDesc: wireHCombTableDesc{
			QueryID: plan.TableDesc.QueryID,
			NbHBee:  plan.TableDesc.NbHBee,
			Schema:  ws,
		},
		SQL:        plan.SQL,
		SourceName: plan.SourceName,
	}
	return json.Marshal(w)
}

// DecodeHCombPlan reverses EncodeHCombPlan.
func DecodeHCombPlan(raw []byte) (model.HCombPlan, error) {
	var w wireHCombPlan
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.HCombPlan{}, fmt.Errorf("decoding hcomb plan: %w", err)
	}
	schema, err := FromWireSchema(w.TableDesc.Schema)
	if err != nil {
		return model.HCombPlan{}, fmt.Errorf("decoding hcomb plan schema: %w", err)
	}
	return model.HCombPlan{
		TableDesc: model.HCombTableDesc{
			QueryID: w.TableDesc.QueryID,
			NbHBee:  w.TableDesc.NbHBee,
			Schema:  schema,
		},
		SQL:        w.SQL,
		SourceName: w.SourceName,
	}, nil
}
