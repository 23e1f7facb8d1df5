// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pdiddy/litreview-engine/pkg/types"
)

// Output file names under the output directory.
const (
	Round1File = "round1_results.json"
	Round2File = "round2_results.json"
)

// WriteRound1 writes the round-1 output to Round1File.
func (s *Store) WriteRound1(out *types.RoundOutput) error {
	return s.writeJSON(Round1File, out)
}

// ReadRound1 reads Round1File.
func (s *Store) ReadRound1() (*types.RoundOutput, error) {
	var out types.RoundOutput
	if err := s.readJSON(Round1File, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WriteRound2 writes the round-2 output to Round2File.
func (s *Store) WriteRound2(out types.Round2Output) error {
	return s.writeJSON(Round2File, out)
}

// ReadRound2 reads Round2File.
func (s *Store) ReadRound2() (types.Round2Output, error) {
	var out types.Round2Output
	if err := s.readJSON(Round2File, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// writeJSON replaces name through a temporary file so readers never see a
// partial write.
func (s *Store) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", name, err)
	}
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing %s: %w", name, err)
	}
	return nil
}

func (s *Store) readJSON(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return fmt.Errorf("reading %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	return nil
}
