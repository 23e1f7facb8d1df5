// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads API keys from a directory of plain-text files. Each
// file is one secret: the file name is the key and the trimmed contents are
// the value.
//
// Supported key files: llm-api-key, embedding-api-key.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdiddy/litreview-engine/pkg/types"
)

// Key file names.
const (
	LLMAPIKey       = "llm-api-key"
	EmbeddingAPIKey = "embedding-api-key"
)

// envFallback names the environment variable consulted when a key file is
// absent. ARK_API_KEY is what the hosted model console hands out.
var envFallback = map[string]string{
	LLMAPIKey:       "ARK_API_KEY",
	EmbeddingAPIKey: "ARK_API_KEY",
}

// Secrets maps key names to values.
type Secrets map[string]string

// Load reads all files in dir. A missing directory is not an error; Load
// returns an empty set. Unreadable files are skipped and named in the
// returned warnings.
func Load(dir string) (Secrets, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return Secrets{}, nil, nil
		}
		return nil, nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	out := make(Secrets)
	var warnings []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("could not read secret %s: %v", name, err))
			continue
		}
		if value := strings.TrimSpace(string(data)); value != "" {
			out[name] = value
		}
	}
	return out, warnings, nil
}

// Get returns the value for key, falling back to its environment variable.
func (s Secrets) Get(key string) string {
	if v := s[key]; v != "" {
		return v
	}
	if env, ok := envFallback[key]; ok {
		return strings.TrimSpace(os.Getenv(env))
	}
	return ""
}

// Apply fills API keys the configuration leaves empty.
func (s Secrets) Apply(cfg *types.TaxonomyConfig) {
	if cfg.AI.APIKey == "" {
		cfg.AI.APIKey = s.Get(LLMAPIKey)
	}
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = s.Get(EmbeddingAPIKey)
	}
}
