// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/dataverse-harvester/internal/catalog"
	"github.com/pdiddy/dataverse-harvester/internal/harvest"
	"github.com/pdiddy/dataverse-harvester/internal/observability"
	"github.com/pdiddy/dataverse-harvester/internal/secrets"
	"github.com/pdiddy/dataverse-harvester/pkg/types"
)

// tokenEnvVar is the conventional Dataverse token variable, consulted after
// the flag, the prefixed variable and the config file.
const tokenEnvVar = "DATAVERSE_API_TOKEN"

var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Search, download and record authors for every matching file",
	Long: `Harvest pages through the Dataverse Search API for files matching the
query, downloads each accessible file into --output-dir under a
"{fileID}_{name}" name, and writes each dataset's authors to
--metadata-dir/{datasetID}_authors.json.

Files without download permission are skipped. A failed metadata lookup or
download is logged and counted; only a failed search page stops the run.
The command exits non-zero when the run stopped early or any download
failed.`,
	RunE: runHarvest,
}

func init() {
	f := harvestCmd.Flags()
	f.String("base-url", types.DefaultBaseURL, "Dataverse installation base URL")
	f.String("search-endpoint", "", "Search API URL (default {base-url}/api/search)")
	f.String("metadata-endpoint", "", "dataset metadata URL (default {base-url}/api/datasets/:persistentId)")
	f.String("file-endpoint", "", "download URL template with {id} (default {base-url}/api/access/datafile/{id})")
	f.String("query", "", "search query (default fileType:{file-type})")
	f.String("file-type", types.DefaultFileType, "file extension to search for when --query is empty")
	f.String("output-dir", "files", "directory for downloaded files")
	f.String("metadata-dir", "metadata", "directory for dataset author side-records")
	f.Int("page-size", 50, "search results per page")
	f.Duration("delay", 0, "minimum spacing between search page requests (default 500ms)")
	f.Int("workers", 1, "items processed concurrently")
	f.Duration("timeout", 0, "search and metadata request timeout (default 30s)")
	f.Duration("download-timeout", 0, "file download timeout (default 2m)")
	f.Int("max-retries", 0, "retries on 429 and gateway errors (default 3)")
	f.String("user-agent", "", "User-Agent header (default dataverse-harvester/0.1)")
	f.String("api-token", "", "Dataverse API token sent as X-Dataverse-key")
	f.Bool("skip-existing", false, "reuse files already present in --output-dir")
	f.String("catalog", "", "SQLite catalog file to record runs, datasets and files")
	f.String("metrics-file", "", "write Prometheus metrics to this file after the run")
	f.Bool("json", false, "print the summary as JSON")

	bindHarvestFlags()

	rootCmd.AddCommand(harvestCmd)
}

// harvestFlagKeys maps configuration keys to the harvest flags that set them.
var harvestFlagKeys = map[string]string{
	"base_url":               "base-url",
	"search_endpoint":        "search-endpoint",
	"metadata_endpoint":      "metadata-endpoint",
	"file_endpoint_template": "file-endpoint",
	"query":                  "query",
	"file_type":              "file-type",
	"output_dir":             "output-dir",
	"metadata_dir":           "metadata-dir",
	"page_size":              "page-size",
	"politeness_delay":       "delay",
	"workers":                "workers",
	"timeout":                "timeout",
	"download_timeout":       "download-timeout",
	"max_retries":            "max-retries",
	"user_agent":             "user-agent",
	"api_token":              "api-token",
	"skip_existing":          "skip-existing",
	"catalog_path":           "catalog",
	"metrics_file":           "metrics-file",
}

func bindHarvestFlags() {
	for key, flag := range harvestFlagKeys {
		viper.BindPFlag(key, harvestCmd.Flags().Lookup(flag))
	}
}

// harvestConfig merges flags, environment and config file over the
// defaults derived from the base URL. Zero values mean "use the default".
func harvestConfig() (types.HarvestConfig, error) {
	def := types.DefaultHarvestConfig(viper.GetString("base_url"))
	cfg := def
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("reading configuration: %w", err)
	}

	for _, f := range []struct {
		dst *string
		def string
	}{
		{&cfg.SearchEndpoint, def.SearchEndpoint},
		{&cfg.MetadataEndpoint, def.MetadataEndpoint},
		{&cfg.FileEndpointTemplate, def.FileEndpointTemplate},
		{&cfg.UserAgent, def.UserAgent},
		{&cfg.OutputDir, def.OutputDir},
		{&cfg.MetadataDir, def.MetadataDir},
	} {
		if *f.dst == "" {
			*f.dst = f.def
		}
	}
	if cfg.Query == "" {
		ft := viper.GetString("file_type")
		if ft == "" {
			ft = types.DefaultFileType
		}
		cfg.Query = types.FileTypeQuery(ft)
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.PolitenessDelay == 0 {
		cfg.PolitenessDelay = def.PolitenessDelay
	}
	if cfg.Workers < 1 {
		cfg.Workers = def.Workers
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.DownloadTimeout == 0 {
		cfg.DownloadTimeout = def.DownloadTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.APIToken == "" {
		cfg.APIToken = secrets.Lookup(loadedSecrets, secrets.DataverseTokenKey, tokenEnvVar)
	}

	return cfg, cfg.Validate()
}

func runHarvest(cmd *cobra.Command, args []string) error {
	cfg, err := harvestConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()
	deps := harvest.NewDeps(cfg, logger, metrics)

	if cfg.CatalogPath != "" {
		store, err := catalog.Open(cfg.CatalogPath)
		if err != nil {
			return err
		}
		defer store.Close()
		deps.Recorder = store
	}

	logger.Info().
		Str("search", cfg.SearchEndpoint).
		Str("query", cfg.Query).
		Bool("token", cfg.APIToken != "").
		Msg("harvesting")

	summary, runErr := harvest.New(cfg, deps).Run(ctx)

	jsonOutput, _ := cmd.Flags().GetBool("json")
	if err := printSummary(os.Stdout, summary, jsonOutput); err != nil {
		return err
	}

	if cfg.MetricsFile != "" {
		if err := metrics.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.Warn().Err(err).Msg("metrics not written")
		}
	}

	switch {
	case runErr != nil && ctx.Err() != nil:
		return fmt.Errorf("harvest interrupted: %w", runErr)
	case runErr != nil:
		return fmt.Errorf("harvest stopped early: %w", runErr)
	case summary.HasFailures():
		return fmt.Errorf("%d file(s) failed to download", summary.Failed)
	}
	return nil
}

func printSummary(w io.Writer, s types.HarvestSummary, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}
	fmt.Fprintf(w, "\nHarvest summary: %d processed, %d saved, %d skipped, %d failed (%d forbidden)\n",
		s.Processed, s.Saved, s.Skipped, s.Failed, s.Forbidden)
	fmt.Fprintf(w, "Datasets: %d side-records written, %d metadata errors\n",
		s.SideRecords, s.MetadataErrors)
	return nil
}
