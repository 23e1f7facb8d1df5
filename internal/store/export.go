// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/litreview-engine/pkg/types"
)

const exportBase = "taxonomy"

// Taxonomy returns the categories of the latest completed round-1 run
// followed by those of the latest completed round-2 run. A missing round-2
// run is not an error.
func (s *Store) Taxonomy(ctx context.Context) ([]types.CategoryRecord, error) {
	r1, err := s.LatestCompleted(ctx, RoundOne)
	if err != nil {
		return nil, err
	}
	out, err := s.Categories(ctx, r1.ID)
	if err != nil {
		return nil, err
	}

	r2, err := s.LatestCompleted(ctx, RoundTwo)
	if errors.Is(err, ErrRunNotFound) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	children, err := s.Categories(ctx, r2.ID)
	if err != nil {
		return nil, err
	}
	return append(out, children...), nil
}

// ExportYAML writes the taxonomy to taxonomy.yaml in the output directory
// and returns the file path.
func (s *Store) ExportYAML(ctx context.Context) (string, error) {
	cats, err := s.Taxonomy(ctx)
	if err != nil {
		return "", fmt.Errorf("querying for export: %w", err)
	}
	data, err := yaml.Marshal(cats)
	if err != nil {
		return "", fmt.Errorf("marshaling YAML: %w", err)
	}
	path := filepath.Join(s.dir, exportBase+".yaml")
	return path, os.WriteFile(path, data, 0o644)
}

// ExportJSON writes the taxonomy to taxonomy.json in the output directory
// and returns the file path.
func (s *Store) ExportJSON(ctx context.Context) (string, error) {
	cats, err := s.Taxonomy(ctx)
	if err != nil {
		return "", fmt.Errorf("querying for export: %w", err)
	}
	data, err := json.MarshalIndent(cats, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling JSON: %w", err)
	}
	path := filepath.Join(s.dir, exportBase+".json")
	return path, os.WriteFile(path, data, 0o644)
}

// Round2Categories flattens a round-2 output into child category records
// ordered by parent label.
func Round2Categories(out types.Round2Output) []types.CategoryRecord {
	var cats []types.CategoryRecord
	for _, parent := range out.Keys() {
		cats = append(cats, out[parent].Categories(parent)...)
	}
	return cats
}
