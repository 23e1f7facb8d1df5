// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/litreview-engine/pkg/types"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T) string
		want  Secrets
	}{
		{
			name: "reads key files and trims whitespace",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, LLMAPIKey, "  ark_abc123  \n")
				writeFile(t, dir, EmbeddingAPIKey, "emb_xyz789")
				return dir
			},
			want: Secrets{
				LLMAPIKey:       "ark_abc123",
				EmbeddingAPIKey: "emb_xyz789",
			},
		},
		{
			name: "returns empty set for nonexistent directory",
			setup: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "does-not-exist")
			},
			want: Secrets{},
		},
		{
			name: "skips empty files",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, LLMAPIKey, "valid-key")
				writeFile(t, dir, "empty-key", "")
				writeFile(t, dir, "whitespace-only", "   \n\t  ")
				return dir
			},
			want: Secrets{LLMAPIKey: "valid-key"},
		},
		{
			name: "skips dotfiles and subdirectories",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, ".gitkeep", "")
				writeFile(t, dir, ".hidden-key", "secret")
				writeFile(t, dir, EmbeddingAPIKey, "emb_real")
				require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o755))
				return dir
			},
			want: Secrets{EmbeddingAPIKey: "emb_real"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, warnings, err := Load(tt.setup(t))
			require.NoError(t, err)
			assert.Empty(t, warnings)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetFallsBackToEnvironment(t *testing.T) {
	t.Setenv("ARK_API_KEY", " from-env ")

	assert.Equal(t, "from-file", Secrets{LLMAPIKey: "from-file"}.Get(LLMAPIKey))
	assert.Equal(t, "from-env", Secrets{}.Get(LLMAPIKey))
	assert.Equal(t, "", Secrets{}.Get("unknown-key"))
}

func TestApply(t *testing.T) {
	t.Setenv("ARK_API_KEY", "")

	cfg := types.DefaultTaxonomyConfig()
	cfg.Embedding.APIKey = "configured"
	Secrets{LLMAPIKey: "llm", EmbeddingAPIKey: "emb"}.Apply(&cfg)

	assert.Equal(t, "llm", cfg.AI.APIKey)
	assert.Equal(t, "configured", cfg.Embedding.APIKey, "explicit configuration wins")
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}
