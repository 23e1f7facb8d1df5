// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the litreview-engine CLI. It loads a
// corpus of per-paper summaries, builds a two-level taxonomy with anchor
// guided clustering, and records runs in the output directory.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/litreview-engine/internal/logger"
	"github.com/pdiddy/litreview-engine/internal/secrets"
)

// version is set at build time via ldflags.
var version = "dev"

var (
	// loadedSecrets holds API keys loaded from .secrets/ at startup.
	loadedSecrets secrets.Secrets

	log = logger.Nop()
)

var rootCmd = &cobra.Command{
	Use:   "litreview-engine",
	Short: "Build literature review taxonomies from paper summaries",
	Long: `litreview-engine clusters a corpus of structured paper summaries into a
two-level taxonomy. Each round asks a language model for candidate category
descriptions, injects them as anchors, and keeps the candidate whose
categories are best balanced. Round 1 builds parent categories; round 2
refines each parent into child categories.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		mode, _ := cmd.Flags().GetString("log-mode")
		if mode == "" {
			mode = viper.GetString("log_mode")
		}
		l, err := logger.New(mode)
		if err != nil {
			return err
		}
		log = l

		s, warnings, err := secrets.Load(".secrets/")
		if err != nil {
			return err
		}
		for _, w := range warnings {
			log.Warn(w)
		}
		loadedSecrets = s
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			fmt.Fprintf(os.Stderr, "Loaded secrets: %v\n", keys)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		log.Sync()
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./litreview-engine.yaml or ~/.config/litreview-engine/config.yaml)")
	rootCmd.PersistentFlags().String("log-mode", "", "log format: dev (console, debug) or prod (JSON, info)")
	rootCmd.PersistentFlags().String("output-dir", "", "directory for round results, exports, and the run database")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("litreview-engine")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "litreview-engine"))
		}
	}

	viper.SetEnvPrefix("LITREVIEW_ENGINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
