// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/litreview-engine/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show clustering runs and their progress",
	Long: `Status lists recent runs with their round, status, progress, and score.
Pass a run ID to show that run only.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().Int("limit", 10, "number of runs to list (0 lists all)")
	statusCmd.Flags().Bool("json", false, "output runs as JSON")

	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	scfg, err := storeConfig(cmd)
	if err != nil {
		return err
	}
	st, err := store.Open(scfg)
	if err != nil {
		return err
	}
	defer st.Close()

	var runs []store.Run
	if len(args) == 1 {
		run, err := st.GetRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		runs = []store.Run{run}
	} else {
		limit, _ := cmd.Flags().GetInt("limit")
		if runs, err = st.ListRuns(cmd.Context(), limit); err != nil {
			return err
		}
	}

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}
	fmt.Fprintf(os.Stdout, "%-36s  %-6s  %-9s  %4s  %8s  %-20s  %s\n",
		"Run", "Round", "Status", "%", "Score", "Started", "Message")
	fmt.Fprintln(os.Stdout, strings.Repeat("-", 120))
	for _, r := range runs {
		fmt.Fprintf(os.Stdout, "%-36s  %-6s  %-9s  %4d  %8.4f  %-20s  %s\n",
			r.ID, r.Round, r.Status, r.Progress, r.Score,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"), truncate(r.Message, 40))
	}
	return nil
}
