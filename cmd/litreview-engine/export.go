package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pdiddy/litreview-engine/internal/store"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the latest taxonomy to YAML or JSON",
	Long: `Export writes the categories of the latest completed round-1 and round-2
runs, with descriptions, keywords, and member titles, to taxonomy.yaml or
taxonomy.json in the output directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		scfg, err := storeConfig(cmd)
		if err != nil {
			return err
		}
		st, err := store.Open(scfg)
		if err != nil {
			return err
		}
		defer st.Close()

		format, _ := cmd.Flags().GetString("format")
		var path string
		switch format {
		case "yaml", "yml":
			path, err = st.ExportYAML(cmd.Context())
		case "json":
			path, err = st.ExportJSON(cmd.Context())
		default:
			return fmt.Errorf("unknown export format %q (want yaml or json)", format)
		}
		if err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", path)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("format", "yaml", "export format: yaml or json")

	rootCmd.AddCommand(exportCmd)
}
