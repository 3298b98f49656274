// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/dataverse-harvester/pkg/types"
)

// Export is the full catalog snapshot written by ExportYAML and ExportJSON.
type Export struct {
	Datasets []types.DatasetRecord `json:"datasets" yaml:"datasets"`
	Files    []FileRow             `json:"files" yaml:"files"`
}

func (s *Store) snapshot(ctx context.Context) (Export, error) {
	datasets, err := s.Datasets(ctx)
	if err != nil {
		return Export{}, fmt.Errorf("collecting datasets for export: %w", err)
	}
	files, err := s.Files(ctx, "")
	if err != nil {
		return Export{}, fmt.Errorf("collecting files for export: %w", err)
	}
	if datasets == nil {
		datasets = []types.DatasetRecord{}
	}
	if files == nil {
		files = []FileRow{}
	}
	return Export{Datasets: datasets, Files: files}, nil
}

// ExportYAML writes the catalog snapshot to w as YAML.
func (s *Store) ExportYAML(ctx context.Context, w io.Writer) error {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("marshaling YAML: %w", err)
	}
	return enc.Close()
}

// ExportJSON writes the catalog snapshot to w as indented JSON.
func (s *Store) ExportJSON(ctx context.Context, w io.Writer) error {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	return nil
}
