package types

import (
	"fmt"
	"strings"
	"time"
)

// DefaultBaseURL is the Dataverse installation harvested when none is configured.
const DefaultBaseURL = "https://dataverse.harvard.edu"

// DefaultFileType is the file extension searched for by default.
const DefaultFileType = ".qdpx"

// FileIDPlaceholder marks where the file identifier goes in FileEndpointTemplate.
const FileIDPlaceholder = "{id}"

// HTTPConfig holds shared HTTP settings used by components that make network requests.
type HTTPConfig struct {
	// Timeout is the request timeout for search and metadata calls.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// DownloadTimeout is the request timeout for file downloads.
	DownloadTimeout time.Duration `json:"download_timeout" yaml:"download_timeout" mapstructure:"download_timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "dataverse-harvester/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`

	// APIToken is sent as the X-Dataverse-key header when non-empty.
	APIToken string `json:"-" yaml:"-" mapstructure:"api_token"`

	// MaxRetries bounds retries on rate limiting and transient failures (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`
}

// HarvestConfig holds every setting of one harvest run. It is built once
// by the CLI and passed to the harvester at construction.
type HarvestConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// SearchEndpoint is the Search API URL (e.g. ".../api/search").
	SearchEndpoint string `json:"search_endpoint" yaml:"search_endpoint" mapstructure:"search_endpoint"`

	// MetadataEndpoint is the dataset-by-persistent-id URL
	// (e.g. ".../api/datasets/:persistentId").
	MetadataEndpoint string `json:"metadata_endpoint" yaml:"metadata_endpoint" mapstructure:"metadata_endpoint"`

	// FileEndpointTemplate builds a download URL from a file ID; it must
	// contain "{id}" (e.g. ".../api/access/datafile/{id}").
	FileEndpointTemplate string `json:"file_endpoint_template" yaml:"file_endpoint_template" mapstructure:"file_endpoint_template"`

	// Query is the search expression sent as q (e.g. "fileType:.qdpx").
	Query string `json:"query" yaml:"query" mapstructure:"query"`

	// OutputDir receives downloaded files.
	OutputDir string `json:"output_dir" yaml:"output_dir" mapstructure:"output_dir"`

	// MetadataDir receives per-dataset author side-records.
	MetadataDir string `json:"metadata_dir" yaml:"metadata_dir" mapstructure:"metadata_dir"`

	// PageSize is the number of search results requested per page (default 50).
	PageSize int `json:"page_size" yaml:"page_size" mapstructure:"page_size"`

	// PolitenessDelay is the minimum spacing between search page requests.
	PolitenessDelay time.Duration `json:"politeness_delay" yaml:"politeness_delay" mapstructure:"politeness_delay"`

	// Workers is the number of items processed concurrently (default 1).
	Workers int `json:"workers" yaml:"workers" mapstructure:"workers"`

	// SkipExisting reuses files already present at their destination path.
	SkipExisting bool `json:"skip_existing" yaml:"skip_existing" mapstructure:"skip_existing"`

	// CatalogPath is an optional SQLite catalog file; empty disables the catalog.
	CatalogPath string `json:"catalog_path,omitempty" yaml:"catalog_path,omitempty" mapstructure:"catalog_path"`

	// MetricsFile is an optional Prometheus textfile written after the run.
	MetricsFile string `json:"metrics_file,omitempty" yaml:"metrics_file,omitempty" mapstructure:"metrics_file"`
}

// DefaultHarvestConfig returns a configuration whose endpoints are derived
// from baseURL and whose remaining settings carry their defaults.
func DefaultHarvestConfig(baseURL string) HarvestConfig {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	return HarvestConfig{
		HTTPConfig: HTTPConfig{
			Timeout:         30 * time.Second,
			DownloadTimeout: 120 * time.Second,
			UserAgent:       "dataverse-harvester/0.1",
			MaxRetries:      3,
		},
		SearchEndpoint:       baseURL + "/api/search",
		MetadataEndpoint:     baseURL + "/api/datasets/:persistentId",
		FileEndpointTemplate: baseURL + "/api/access/datafile/" + FileIDPlaceholder,
		Query:                FileTypeQuery(DefaultFileType),
		OutputDir:            "files",
		MetadataDir:          "metadata",
		PageSize:             50,
		PolitenessDelay:      500 * time.Millisecond,
		Workers:              1,
	}
}

// FileTypeQuery returns the search expression matching files of the given
// extension, e.g. ".qdpx" -> "fileType:.qdpx".
func FileTypeQuery(ext string) string {
	ext = strings.TrimSpace(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return "fileType:" + ext
}

// Validate reports the first setting that would make a harvest impossible.
func (c HarvestConfig) Validate() error {
	switch {
	case c.SearchEndpoint == "":
		return fmt.Errorf("search endpoint is empty")
	case c.MetadataEndpoint == "":
		return fmt.Errorf("metadata endpoint is empty")
	case !strings.Contains(c.FileEndpointTemplate, FileIDPlaceholder):
		return fmt.Errorf("file endpoint template %q has no %s placeholder", c.FileEndpointTemplate, FileIDPlaceholder)
	case c.Query == "":
		return fmt.Errorf("search query is empty")
	case c.PageSize < 1:
		return fmt.Errorf("page size must be at least 1, got %d", c.PageSize)
	case c.OutputDir == "":
		return fmt.Errorf("output directory is empty")
	case c.MetadataDir == "":
		return fmt.Errorf("metadata directory is empty")
	case c.PolitenessDelay < 0:
		return fmt.Errorf("politeness delay must not be negative")
	}
	return nil
}

// FileURL builds the download URL for a file ID from FileEndpointTemplate.
func (c HarvestConfig) FileURL(fileID string) string {
	return strings.ReplaceAll(c.FileEndpointTemplate, FileIDPlaceholder, fileID)
}
