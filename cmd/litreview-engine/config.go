// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/litreview-engine/internal/embed"
	"github.com/pdiddy/litreview-engine/internal/llm"
	"github.com/pdiddy/litreview-engine/internal/taxonomy"
	"github.com/pdiddy/litreview-engine/pkg/types"
)

// weightsFile is the layout of a --weights file.
type weightsFile struct {
	Round1         *types.Weights `yaml:"round1"`
	Round2         *types.Weights `yaml:"round2"`
	Round1Keywords *types.Weights `yaml:"round1_keywords"`
	Round2Keywords *types.Weights `yaml:"round2_keywords"`
}

// taxonomyConfig starts from the defaults, applies the "taxonomy" section
// of the config file, then command flags, then secrets.
func taxonomyConfig(cmd *cobra.Command) (types.TaxonomyConfig, error) {
	cfg := types.DefaultTaxonomyConfig()
	if viper.IsSet("taxonomy") {
		if err := viper.UnmarshalKey("taxonomy", &cfg); err != nil {
			return cfg, fmt.Errorf("reading taxonomy config: %w", err)
		}
	}

	flags := cmd.Flags()
	if flags.Changed("paper-description") {
		cfg.PaperDescription, _ = flags.GetString("paper-description")
	}
	if flags.Changed("method") {
		m, _ := flags.GetString("method")
		cfg.Cluster.Method = types.ClusterMethod(m)
	}
	if flags.Changed("candidates") {
		cfg.Candidates, _ = flags.GetInt("candidates")
	}
	if flags.Changed("embedding") {
		b, _ := flags.GetString("embedding")
		cfg.Embedding.Backend = types.EmbeddingBackend(b)
	}
	if path, _ := flags.GetString("weights"); path != "" {
		if err := applyWeightsFile(&cfg, path); err != nil {
			return cfg, err
		}
	}

	loadedSecrets.Apply(&cfg)

	for name, w := range map[string]types.Weights{
		"round1": cfg.Round1.Weights,
		"round2": cfg.Round2.Weights,
	} {
		if err := w.Validate(); err != nil {
			return cfg, fmt.Errorf("%s weights: %w", name, err)
		}
	}
	return cfg, nil
}

func applyWeightsFile(cfg *types.TaxonomyConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading weights file: %w", err)
	}
	var wf weightsFile
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return fmt.Errorf("parsing weights file %s: %w", path, err)
	}
	if wf.Round1 != nil {
		cfg.Round1.Weights = *wf.Round1
	}
	if wf.Round2 != nil {
		cfg.Round2.Weights = *wf.Round2
	}
	if wf.Round1Keywords != nil {
		cfg.Round1.KeywordWeights = *wf.Round1Keywords
	}
	if wf.Round2Keywords != nil {
		cfg.Round2.KeywordWeights = *wf.Round2Keywords
	}
	return nil
}

// storeConfig reads the "store" section, with --output-dir taking precedence.
func storeConfig(cmd *cobra.Command) (types.StoreConfig, error) {
	cfg := types.DefaultStoreConfig()
	if viper.IsSet("store") {
		if err := viper.UnmarshalKey("store", &cfg); err != nil {
			return cfg, fmt.Errorf("reading store config: %w", err)
		}
	}
	if dir, _ := cmd.Flags().GetString("output-dir"); dir != "" {
		cfg.OutputDir = dir
	}
	return cfg, nil
}

// newOrchestrator wires the embedder and the model-backed generators.
func newOrchestrator(cfg types.TaxonomyConfig) (*taxonomy.Orchestrator, error) {
	emb, err := embed.New(cfg.Embedding, log)
	if err != nil {
		return nil, err
	}
	if cfg.AI.APIKey == "" {
		log.Warn("no LLM API key configured; anchor generation will fail and rounds fall back to unsupervised clustering")
	}

	client := &llm.ChatBackend{
		BaseURL:    cfg.AI.BaseURL,
		APIKey:     cfg.AI.APIKey,
		Model:      cfg.AI.Model,
		MaxRetries: cfg.AI.MaxRetries,
		Client:     &http.Client{Timeout: cfg.AI.Timeout},
	}
	return &taxonomy.Orchestrator{
		Embedder: emb,
		Anchors:  &llm.AnchorGenerator{Client: client, MaxRetries: cfg.AI.MaxRetries},
		Keywords: &llm.KeywordGenerator{Client: client, MaxRetries: cfg.AI.MaxRetries, Log: log},
		Log:      log,
		Cfg:      cfg,
	}, nil
}
