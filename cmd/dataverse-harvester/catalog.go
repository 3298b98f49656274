// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/dataverse-harvester/internal/catalog"
	"github.com/pdiddy/dataverse-harvester/pkg/types"
)

const defaultCatalogPath = "catalog.db"

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Query the harvest catalog (authors, datasets, runs, export)",
	Long: `Catalog reads the SQLite index written by "harvest --catalog". Use
subcommands to list authors by affiliation or name, list datasets, show
recent runs, or export the whole catalog.`,
}

// --- authors subcommand ---

var catalogAuthorsCmd = &cobra.Command{
	Use:   "authors",
	Short: "List dataset authors, optionally filtered by affiliation or name",
	RunE:  runCatalogAuthors,
}

func runCatalogAuthors(cmd *cobra.Command, args []string) error {
	store, err := openCatalog(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	affiliation, _ := cmd.Flags().GetString("affiliation")
	name, _ := cmd.Flags().GetString("name")
	limit, _ := cmd.Flags().GetInt("limit")

	rows, err := store.Authors(cmd.Context(), catalog.AuthorQuery{
		Affiliation: affiliation,
		Name:        name,
		Limit:       limit,
	})
	if err != nil {
		return err
	}

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		return writeJSON(os.Stdout, rows)
	}
	if len(rows) == 0 {
		fmt.Println("No authors found.")
		return nil
	}

	fmt.Fprintf(os.Stdout, "%-30s  %-30s  %s\n", "Name", "Affiliation", "Dataset")
	fmt.Fprintln(os.Stdout, strings.Repeat("-", 100))
	for _, r := range rows {
		fmt.Fprintf(os.Stdout, "%-30s  %-30s  %s\n",
			truncate(orDash(r.Name), 30), truncate(orDash(r.Affiliation), 30), r.DatasetPersistentID)
	}
	fmt.Fprintf(os.Stdout, "\n%d authors\n", len(rows))
	return nil
}

// --- datasets subcommand ---

var catalogDatasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "List cataloged datasets with their author counts",
	RunE:  runCatalogDatasets,
}

func runCatalogDatasets(cmd *cobra.Command, args []string) error {
	store, err := openCatalog(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	datasets, err := store.Datasets(cmd.Context())
	if err != nil {
		return err
	}

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		if datasets == nil {
			datasets = []types.DatasetRecord{}
		}
		return writeJSON(os.Stdout, datasets)
	}
	if len(datasets) == 0 {
		fmt.Println("No datasets cataloged.")
		return nil
	}

	fmt.Fprintf(os.Stdout, "%-32s  %-8s  %-7s  %s\n", "Persistent ID", "ID", "Authors", "Name")
	fmt.Fprintln(os.Stdout, strings.Repeat("-", 100))
	for _, d := range datasets {
		fmt.Fprintf(os.Stdout, "%-32s  %-8s  %-7d  %s\n",
			truncate(d.PersistentID, 32), d.ID, len(d.Authors), truncate(d.Name, 45))
	}
	fmt.Fprintf(os.Stdout, "\n%d datasets\n", len(datasets))
	return nil
}

// --- runs subcommand ---

var catalogRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show recent harvest runs",
	RunE:  runCatalogRuns,
}

func runCatalogRuns(cmd *cobra.Command, args []string) error {
	store, err := openCatalog(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	runs, err := store.Runs(cmd.Context(), limit)
	if err != nil {
		return err
	}

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		return writeJSON(os.Stdout, runs)
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	fmt.Fprintf(os.Stdout, "%-36s  %-20s  %9s  %5s  %7s  %6s  %s\n",
		"Run", "Started", "Processed", "Saved", "Skipped", "Failed", "Error")
	fmt.Fprintln(os.Stdout, strings.Repeat("-", 110))
	for _, r := range runs {
		fmt.Fprintf(os.Stdout, "%-36s  %-20s  %9d  %5d  %7d  %6d  %s\n",
			r.ID, truncate(r.StartedAt, 20), r.Processed, r.Saved, r.Skipped, r.Failed, orDash(r.Error))
	}
	return nil
}

// --- export subcommand ---

var catalogExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export datasets, authors and file outcomes to YAML or JSON",
	Long: `Export writes every cataloged dataset with its ordered authors and the
latest outcome of every file. Output goes to stdout unless --output is set.`,
	RunE: runCatalogExport,
}

func runCatalogExport(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	if format != "yaml" && format != "json" {
		return fmt.Errorf("unsupported format %q: use yaml or json", format)
	}

	store, err := openCatalog(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	var w io.Writer = os.Stdout
	if path, _ := cmd.Flags().GetString("output"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
		defer f.Close()
		w = f
	}

	if format == "json" {
		return store.ExportJSON(cmd.Context(), w)
	}
	return store.ExportYAML(cmd.Context(), w)
}

// --- helpers ---

// openCatalog opens the catalog named by --catalog, else by the
// catalog_path setting, else catalog.db.
func openCatalog(cmd *cobra.Command) (*catalog.Store, error) {
	path, _ := cmd.Flags().GetString("catalog")
	if !cmd.Flags().Changed("catalog") {
		if v := viper.GetString("catalog_path"); v != "" {
			path = v
		}
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("catalog %s not found (run harvest --catalog %s first): %w", path, path, err)
	}
	return catalog.Open(path)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func init() {
	catalogCmd.PersistentFlags().String("catalog", defaultCatalogPath, "SQLite catalog file")

	catalogAuthorsCmd.Flags().String("affiliation", "", "match affiliations containing this text (case-insensitive)")
	catalogAuthorsCmd.Flags().String("name", "", "match names containing this text (case-insensitive)")
	catalogAuthorsCmd.Flags().Int("limit", 0, "maximum rows (default 1000)")
	catalogAuthorsCmd.Flags().Bool("json", false, "output as JSON")

	catalogDatasetsCmd.Flags().Bool("json", false, "output as JSON")

	catalogRunsCmd.Flags().Int("limit", 20, "number of runs to show")
	catalogRunsCmd.Flags().Bool("json", false, "output as JSON")

	catalogExportCmd.Flags().String("format", "yaml", "export format: yaml or json")
	catalogExportCmd.Flags().String("output", "", "write to this file instead of stdout")

	catalogCmd.AddCommand(catalogAuthorsCmd, catalogDatasetsCmd, catalogRunsCmd, catalogExportCmd)
	rootCmd.AddCommand(catalogCmd)
}
