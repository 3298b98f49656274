// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package harvest

import (
	"github.com/rs/zerolog"

	"github.com/pdiddy/dataverse-harvester/internal/download"
	"github.com/pdiddy/dataverse-harvester/internal/httputil"
	"github.com/pdiddy/dataverse-harvester/internal/metadata"
	"github.com/pdiddy/dataverse-harvester/internal/observability"
	"github.com/pdiddy/dataverse-harvester/internal/search"
	"github.com/pdiddy/dataverse-harvester/pkg/types"
)

// NewDeps builds the Dataverse-backed paginator, extractor and download
// manager for cfg and hooks them to m. API calls use cfg.Timeout; file
// transfers use cfg.DownloadTimeout.
func NewDeps(cfg types.HarvestConfig, log zerolog.Logger, m *observability.Metrics) Deps {
	if m == nil {
		m = observability.NewMetrics()
	}
	apiClient := httputil.NewClient(cfg.Timeout, cfg.UserAgent, cfg.APIToken)
	fileClient := httputil.NewClient(cfg.DownloadTimeout, cfg.UserAgent, cfg.APIToken)

	pager := search.NewPaginator(apiClient, cfg)
	pager.OnPage = func(p search.Page) {
		m.SearchPages.Inc()
		log.Debug().Int("start", p.Start).Int("items", p.Items).Int("total", p.Total).Msg("search page")
	}
	pager.OnBadItem = func(start, index int, err error) {
		log.Warn().Err(err).Int("start", start).Int("index", index).Msg("skipping undecodable search result")
	}

	dl := download.NewManager(fileClient, cfg, log)
	dl.OnBytes = func(n int64) { m.BytesDownloaded.Add(float64(n)) }

	return Deps{
		Source:     pager,
		Datasets:   metadata.NewExtractor(apiClient, cfg),
		Downloader: dl,
		Metrics:    m,
		Log:        log,
	}
}
