package localdemo

import (
	"os"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/cloudfuse-io/buzz-go/internal/model"
)

// DirectoryTable is a catalog.SplittableTable over a flat directory of
// WriteFile-produced demo files, for main_fuse_local/main_hbee_local.
// It carries no partition columns; every file in the directory is one
// entry.
type DirectoryTable struct {
	dir    string
	schema *arrow.Schema
}

// NewDirectoryTable lists dir's demo files against schema (the column
// types WriteFile/Reader always produce as int64, so schema's fields
// must all be Int64).
func NewDirectoryTable(dir string, schema *arrow.Schema) *DirectoryTable {
	return &DirectoryTable{dir: dir, schema: schema}
}

func (t *DirectoryTable) Entries() []model.CatalogEntry {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		return nil
	}
	out := make([]model.CatalogEntry, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, model.CatalogEntry{
			File: model.SizedFile{Key: e.Name(), Length: uint64(info.Size())},
		})
	}
	return out
}

func (t *DirectoryTable) PartitionColumns() []string { return nil }
func (t *DirectoryTable) RowSchema() *arrow.Schema   { return t.schema }

func (t *DirectoryTable) Split(files []model.SizedFile) ([]model.HBeeTableDesc, error) {
	out := make([]model.HBeeTableDesc, len(files))
	for i, f := range files {
		out[i] = model.HBeeTableDesc{Bucket: t.dir, Files: []model.SizedFile{f}, Schema: t.schema}
	}
	return out, nil
}
