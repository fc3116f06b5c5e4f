package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	internal "github.com/openlabel/annostore/anno"
	"github.com/openlabel/annostore/anno/schema"
)

// FieldSpec declares one dataset column by name and type expression. Specs
// are kept as an ordered list, the column order of the shards.
type FieldSpec struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Category is an optional dataset-level category definition.
type Category struct {
	ID   int32  `json:"id"`
	Name string `json:"name"`
}

// Info is the dataset descriptor persisted as spec.json in the dataset
// directory.
type Info struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Description   string      `json:"description"`
	EstimatedSize string      `json:"estimated_size,omitempty"`
	NumElements   int         `json:"num_elements,omitempty"`
	Preview       string      `json:"preview,omitempty"`
	Splits        []string    `json:"splits,omitempty"`
	Fields        []FieldSpec `json:"fields,omitempty"`
	Categories    []Category  `json:"categories,omitempty"`
}

// SchemaFields parses the declared field specs into schema nodes.
func (info *Info) SchemaFields() ([]schema.Field, error) {
	pairs := make([][2]string, len(info.Fields))
	for i, f := range info.Fields {
		pairs[i] = [2]string{f.Name, f.Type}
	}
	return schema.ParseFields(pairs)
}

// LoadInfo reads the spec.json descriptor of a dataset directory.
func LoadInfo(dir string) (*Info, error) {
	path := filepath.Join(dir, internal.DefaultInfoFile)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: read info: %w", err)
	}
	var info Info
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("dataset: parse %s: %w", path, err)
	}
	return &info, nil
}

// SaveInfo writes the descriptor atomically.
func SaveInfo(dir string, info *Info) error {
	raw, err := json.MarshalIndent(info, "", "\t")
	if err != nil {
		return fmt.Errorf("dataset: encode info: %w", err)
	}
	return atomicWriteFile(filepath.Join(dir, internal.DefaultInfoFile), raw)
}

// Info loads the store's dataset descriptor.
func (s *Store) Info() (*Info, error) {
	return LoadInfo(s.dir)
}
