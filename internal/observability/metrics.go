// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pdiddy/dataverse-harvester/pkg/types"
)

const namespace = "dataverse_harvester"

// Metrics holds the counters of one harvest. Each instance owns its own
// registry so several harvests (or tests) never collide.
type Metrics struct {
	Registry *prometheus.Registry

	// SearchPages counts search pages fetched.
	SearchPages prometheus.Counter

	// ItemsDiscovered counts search items pulled from the paginator.
	ItemsDiscovered prometheus.Counter

	// DownloadOutcomes counts download outcomes, labeled by outcome kind.
	DownloadOutcomes *prometheus.CounterVec

	// BytesDownloaded counts bytes written to saved files.
	BytesDownloaded prometheus.Counter

	// MetadataFetches counts dataset metadata fetches, labeled ok or error.
	MetadataFetches *prometheus.CounterVec

	// SideRecordsWritten counts per-dataset author files written.
	SideRecordsWritten prometheus.Counter
}

// NewMetrics registers the harvest metrics on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	m := &Metrics{
		Registry: reg,
		SearchPages: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_pages_total",
			Help:      "Search API pages fetched",
		}),
		ItemsDiscovered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_discovered_total",
			Help:      "Search result items discovered",
		}),
		DownloadOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_outcomes_total",
			Help:      "Download outcomes by kind",
		}, []string{"outcome"}),
		BytesDownloaded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloaded_bytes_total",
			Help:      "Bytes written to downloaded files",
		}),
		MetadataFetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metadata_fetches_total",
			Help:      "Dataset metadata fetches by result",
		}, []string{"result"}),
		SideRecordsWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "side_records_written_total",
			Help:      "Per-dataset author side-records written",
		}),
	}
	for _, kind := range []types.OutcomeKind{
		types.OutcomeSaved, types.OutcomeSkippedNoPermission, types.OutcomeSkippedNoLocator,
		types.OutcomeForbidden, types.OutcomeFailed,
	} {
		m.DownloadOutcomes.WithLabelValues(string(kind))
	}
	m.MetadataFetches.WithLabelValues("ok")
	m.MetadataFetches.WithLabelValues("error")
	return m
}

// ObserveOutcome counts one download outcome.
func (m *Metrics) ObserveOutcome(out types.DownloadOutcome) {
	m.DownloadOutcomes.WithLabelValues(string(out.Kind)).Inc()
}

// ObserveMetadata counts one metadata fetch.
func (m *Metrics) ObserveMetadata(err error) {
	if err != nil {
		m.MetadataFetches.WithLabelValues("error").Inc()
		return
	}
	m.MetadataFetches.WithLabelValues("ok").Inc()
}

// WriteTextfile writes the metrics in the Prometheus text format, suitable
// for the node exporter's textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
