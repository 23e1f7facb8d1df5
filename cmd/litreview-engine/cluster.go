// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/pdiddy/litreview-engine/internal/corpus"
	"github.com/pdiddy/litreview-engine/internal/embed"
	"github.com/pdiddy/litreview-engine/internal/store"
	"github.com/pdiddy/litreview-engine/internal/taxonomy"
	"github.com/pdiddy/litreview-engine/pkg/types"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Build the taxonomy (round1, round2, all) or cluster one section",
	Long: `Cluster runs the anchor guided clustering rounds over a corpus of paper
summaries. Round 1 writes round1_results.json; round 2 reads it and writes
round2_results.json. Every round is recorded as a run in the output
directory's database.`,
}

var clusterRound1Cmd = &cobra.Command{
	Use:   "round1",
	Short: "Partition the corpus into parent categories",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRun(cmd, func(ctx context.Context, o *taxonomy.Orchestrator, st *store.Store) error {
			_, err := runRound1(ctx, cmd, o, st)
			return err
		})
	},
}

var clusterRound2Cmd = &cobra.Command{
	Use:   "round2",
	Short: "Refine each round-1 category into child categories",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRun(cmd, func(ctx context.Context, o *taxonomy.Orchestrator, st *store.Store) error {
			parent, err := st.ReadRound1()
			if err != nil {
				return fmt.Errorf("round 2 needs a round-1 result: %w", err)
			}
			return runRound2(ctx, o, st, parent)
		})
	},
}

var clusterAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Run round 1 and then round 2",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRun(cmd, func(ctx context.Context, o *taxonomy.Orchestrator, st *store.Store) error {
			parent, err := runRound1(ctx, cmd, o, st)
			if err != nil {
				return err
			}
			return runRound2(ctx, o, st, parent)
		})
	},
}

var clusterSectionCmd = &cobra.Command{
	Use:   "section",
	Short: "Embed and cluster a single summary section",
	Long: `Section embeds one section of every summary and clusters it with a fixed
backend configuration, without anchors. It writes section_<view>.json to the
output directory.`,
	RunE: runSection,
}

func init() {
	for _, c := range []*cobra.Command{clusterRound1Cmd, clusterRound2Cmd, clusterAllCmd, clusterSectionCmd} {
		c.Flags().String("method", "", "clustering backend: dbscan, hdbscan, or kmeans")
		c.Flags().String("embedding", "", "embedding backend: hashing or http")
		clusterCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{clusterRound1Cmd, clusterRound2Cmd, clusterAllCmd} {
		c.Flags().String("paper-description", "", "description of the review being written")
		c.Flags().Int("candidates", 0, "anchor candidates per round (default 3)")
		c.Flags().String("weights", "", "YAML file with round1/round2 fusion weights")
	}
	for _, c := range []*cobra.Command{clusterRound1Cmd, clusterAllCmd, clusterSectionCmd} {
		c.Flags().String("corpus", "summaries", "directory of per-paper summary Markdown files")
	}

	clusterSectionCmd.Flags().String("section", "map", "section to cluster: main, summary, map, or lineage")
	clusterSectionCmd.Flags().Int("dims", 0, "reduced embedding dimension (default 20)")
	clusterSectionCmd.Flags().Float64("eps", 0, "DBSCAN radius or HDBSCAN selection epsilon")
	clusterSectionCmd.Flags().Int("min-samples", 0, "DBSCAN core-point threshold")
	clusterSectionCmd.Flags().Int("min-cluster-size", 0, "HDBSCAN minimum cluster size")
	clusterSectionCmd.Flags().Int("k", 0, "k-means cluster count (0 searches)")

	rootCmd.AddCommand(clusterCmd)
}

// withRun builds the configuration, the orchestrator and the store, then
// calls fn.
func withRun(cmd *cobra.Command, fn func(context.Context, *taxonomy.Orchestrator, *store.Store) error) error {
	cfg, err := taxonomyConfig(cmd)
	if err != nil {
		return err
	}
	scfg, err := storeConfig(cmd)
	if err != nil {
		return err
	}
	o, err := newOrchestrator(cfg)
	if err != nil {
		return err
	}
	st, err := store.Open(scfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(cmd.Context(), o, st)
}

func loadCorpus(cmd *cobra.Command, w io.Writer) ([]types.Document, error) {
	dir, _ := cmd.Flags().GetString("corpus")
	docs, summary, err := corpus.LoadDocuments(dir, w)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(w, "loaded: %d, incomplete: %d, failed: %d\n", summary.Loaded, summary.Incomplete, summary.Failed)
	if len(docs) == 0 {
		return nil, fmt.Errorf("no complete summaries in %s", dir)
	}
	return docs, nil
}

// track points the orchestrator's progress at a run and stdout.
func track(ctx context.Context, o *taxonomy.Orchestrator, st *store.Store, run store.Run) {
	o.Progress = func(percent int, message string) {
		fmt.Fprintf(os.Stdout, "[%3d%%] %s\n", percent, message)
		if err := st.UpdateProgress(ctx, run.ID, percent, message); err != nil {
			log.Warn("recording progress", "run", run.ID, "error", err)
		}
	}
}

func runRound1(ctx context.Context, cmd *cobra.Command, o *taxonomy.Orchestrator, st *store.Store) (*types.RoundOutput, error) {
	docs, err := loadCorpus(cmd, os.Stdout)
	if err != nil {
		return nil, err
	}

	run, err := st.StartRun(ctx, store.RoundOne)
	if err != nil {
		return nil, err
	}
	track(ctx, o, st, run)
	fmt.Printf("round 1 run %s over %d documents\n", run.ID, len(docs))

	out, err := o.RunRound1(ctx, docs)
	if err != nil {
		return nil, failRun(st, run, err)
	}
	if err := st.WriteRound1(out); err != nil {
		return nil, failRun(st, run, err)
	}
	if err := st.SaveCategories(ctx, run.ID, out.Categories(-1)); err != nil {
		return nil, failRun(st, run, err)
	}
	msg := fmt.Sprintf("%d categories via %s", len(out.Results.CategoryLabels()), out.Method)
	if err := completeRun(ctx, st, run, out.Score, msg); err != nil {
		return nil, err
	}

	printRound(os.Stdout, "round 1", out)
	return out, nil
}

func runRound2(ctx context.Context, o *taxonomy.Orchestrator, st *store.Store, parent *types.RoundOutput) error {
	run, err := st.StartRun(ctx, store.RoundTwo)
	if err != nil {
		return err
	}
	track(ctx, o, st, run)
	fmt.Printf("round 2 run %s over %d parents\n", run.ID, len(parent.Results.CategoryLabels()))

	out, err := o.RunRound2(ctx, parent)
	if err != nil {
		return failRun(st, run, err)
	}
	if err := st.WriteRound2(out); err != nil {
		return failRun(st, run, err)
	}
	if err := st.SaveCategories(ctx, run.ID, store.Round2Categories(out)); err != nil {
		return failRun(st, run, err)
	}

	total := 0.0
	for _, label := range out.Keys() {
		sub := out[label]
		total += sub.Score
		printRound(os.Stdout, fmt.Sprintf("parent %d", label), &sub)
	}
	msg := fmt.Sprintf("%d of %d parents refined", len(out), len(parent.Results.CategoryLabels()))
	return completeRun(ctx, st, run, total/float64(len(out)), msg)
}

// completeRun marks the run completed, or failed when that update fails.
func completeRun(ctx context.Context, st *store.Store, run store.Run, score float64, msg string) error {
	if err := st.Complete(ctx, run.ID, score, msg); err != nil {
		return failRun(st, run, err)
	}
	return nil
}

// failRun records err on the run with a fresh context so a cancelled
// round is still marked failed.
func failRun(st *store.Store, run store.Run, err error) error {
	if ferr := st.Fail(context.Background(), run.ID, err); ferr != nil {
		log.Error("recording run failure", "run", run.ID, "error", ferr)
	}
	return err
}

func printRound(w io.Writer, name string, out *types.RoundOutput) {
	fallback := ""
	if out.Fallback {
		fallback = " (fallback)"
	}
	fmt.Fprintf(w, "\n%s: method %s%s, score %.4f\n", name, out.Method, fallback, out.Score)
	sizes := out.Results.Sizes()
	for _, label := range out.Results.CategoryLabels() {
		fmt.Fprintf(w, "  %3d  %4d  %s\n", label, sizes[label], truncate(out.Anchor[label], 60))
	}
	noise := 0
	for t, r := range out.Results {
		if r.Label == types.NoiseLabel && !types.IsAnchorTitle(t) {
			noise++
		}
	}
	if noise > 0 {
		fmt.Fprintf(w, "  noise %d\n", noise)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// sectionRow is one line of section_<view>.json.
type sectionRow struct {
	Title  string    `json:"title"`
	Label  int       `json:"label"`
	Coords []float64 `json:"coords_3d"`
}

func runSection(cmd *cobra.Command, args []string) error {
	cfg, err := taxonomyConfig(cmd)
	if err != nil {
		return err
	}
	scfg, err := storeConfig(cmd)
	if err != nil {
		return err
	}

	name, _ := cmd.Flags().GetString("section")
	view, err := types.ParseView(name)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("eps") {
		eps, _ := flags.GetFloat64("eps")
		cfg.Cluster.Eps, cfg.Cluster.SelectionEpsilon = eps, eps
	}
	if flags.Changed("min-samples") {
		cfg.Cluster.MinSamples, _ = flags.GetInt("min-samples")
	}
	if flags.Changed("min-cluster-size") {
		cfg.Cluster.MinClusterSize, _ = flags.GetInt("min-cluster-size")
	}
	if flags.Changed("k") {
		cfg.Cluster.K, _ = flags.GetInt("k")
	}
	dims, _ := flags.GetInt("dims")
	if dims <= 0 {
		dims = cfg.Embedding.Dims
	}

	dir, _ := flags.GetString("corpus")
	texts, err := corpus.ExtractSection(dir, corpus.ViewMarkers[view])
	if err != nil {
		return err
	}
	if len(texts) == 0 {
		return fmt.Errorf("no %s sections in %s", view, dir)
	}

	emb, err := embed.New(cfg.Embedding, log)
	if err != nil {
		return err
	}
	res, err := emb.Embed(cmd.Context(), texts, embed.Options{Dims: dims, Method: cfg.Cluster.Method, Cluster: cfg.Cluster})
	if err != nil {
		return err
	}

	rows := make([]sectionRow, 0, len(res))
	counts := make(map[int]int)
	for title, e := range res {
		rows = append(rows, sectionRow{Title: title, Label: e.Label, Coords: e.Viz})
		counts[e.Label]++
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Title < rows[j].Title })

	if err := os.MkdirAll(scfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	path := filepath.Join(scfg.OutputDir, fmt.Sprintf("section_%s.json", view))
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling section result: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	labels := make([]int, 0, len(counts))
	for l := range counts {
		labels = append(labels, l)
	}
	sort.Ints(labels)
	fmt.Printf("%s: %d documents, method %s\n", view, len(rows), cfg.Cluster.Method)
	for _, l := range labels {
		fmt.Printf("  %3d  %4d\n", l, counts[l])
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}
