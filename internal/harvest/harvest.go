// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package harvest drives one crawl: it pulls search results, records each
// result's dataset authors and downloads each file, and tallies outcomes.
package harvest

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/dataverse-harvester/internal/download"
	"github.com/pdiddy/dataverse-harvester/internal/metadata"
	"github.com/pdiddy/dataverse-harvester/internal/observability"
	"github.com/pdiddy/dataverse-harvester/pkg/types"
)

// ItemSource produces search results lazily.
type ItemSource interface {
	Items(ctx context.Context) iter.Seq2[types.SearchResultItem, error]
}

// DatasetFetcher retrieves a dataset's distilled metadata.
type DatasetFetcher interface {
	FetchDataset(ctx context.Context, persistentID string) (types.DatasetRecord, error)
}

// Downloader retrieves one search result to destDir.
type Downloader interface {
	Download(ctx context.Context, item types.SearchResultItem, destDir string) types.DownloadOutcome
}

// Recorder persists run, dataset and file records. The catalog store
// satisfies it.
type Recorder interface {
	BeginRun(ctx context.Context, query string) (string, error)
	FinishRun(ctx context.Context, runID string, summary types.HarvestSummary, runErr error) error
	RecordDataset(ctx context.Context, rec types.DatasetRecord) error
	RecordFile(ctx context.Context, runID, dedupKey string, item types.SearchResultItem, out types.DownloadOutcome) error
}

// Deps are the collaborators of a Harvester.
type Deps struct {
	Source     ItemSource
	Datasets   DatasetFetcher
	Downloader Downloader

	// Recorder is optional.
	Recorder Recorder

	// Metrics is optional; a private set is created when nil.
	Metrics *observability.Metrics

	Log zerolog.Logger
}

// Harvester runs harvests with a fixed configuration.
type Harvester struct {
	cfg     types.HarvestConfig
	deps    Deps
	metrics *observability.Metrics
	log     zerolog.Logger
}

// New returns a Harvester for cfg.
func New(cfg types.HarvestConfig, deps Deps) *Harvester {
	m := deps.Metrics
	if m == nil {
		m = observability.NewMetrics()
	}
	return &Harvester{cfg: cfg, deps: deps, metrics: m, log: deps.Log}
}

// Metrics returns the counters updated by Run.
func (h *Harvester) Metrics() *observability.Metrics {
	return h.metrics
}

// run holds the transient state of one Run call.
type run struct {
	id  string
	log zerolog.Logger

	mu       sync.Mutex
	summary  types.HarvestSummary
	datasets map[string]struct{}
}

func (r *run) tally(f func(*types.HarvestSummary)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f(&r.summary)
}

// claimDataset reports whether pid has not been claimed yet in this run.
func (r *run) claimDataset(pid string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.datasets[pid]; ok {
		return false
	}
	r.datasets[pid] = struct{}{}
	return true
}

func (r *run) snapshot() types.HarvestSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summary
}

// Run crawls every search result once. Per-item failures are counted and
// logged; only a search failure (or cancellation) ends the run early, in
// which case the summary so far is returned together with the error.
func (h *Harvester) Run(ctx context.Context) (types.HarvestSummary, error) {
	r := &run{datasets: make(map[string]struct{})}

	if h.deps.Recorder != nil {
		id, err := h.deps.Recorder.BeginRun(ctx, h.cfg.Query)
		if err != nil {
			return types.HarvestSummary{}, fmt.Errorf("recording run start: %w", err)
		}
		r.id = id
	} else {
		r.id = uuid.NewString()
	}
	r.log = h.log.With().Str("run_id", r.id).Logger()
	r.log.Info().Str("query", h.cfg.Query).Int("workers", max(h.cfg.Workers, 1)).Msg("harvest started")

	runErr := h.crawl(ctx, r)
	summary := r.snapshot()

	if h.deps.Recorder != nil {
		if err := h.deps.Recorder.FinishRun(context.WithoutCancel(ctx), r.id, summary, runErr); err != nil {
			r.log.Warn().Err(err).Msg("recording run end")
		}
	}

	ev := r.log.Info()
	if runErr != nil {
		ev = r.log.Error().Err(runErr)
	}
	ev.Int("processed", summary.Processed).
		Int("saved", summary.Saved).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Int("forbidden", summary.Forbidden).
		Int("metadata_errors", summary.MetadataErrors).
		Msg("harvest finished")

	return summary, runErr
}

func (h *Harvester) crawl(ctx context.Context, r *run) error {
	concurrent := h.cfg.Workers > 1

	var g errgroup.Group
	if concurrent {
		g.SetLimit(h.cfg.Workers)
	}

	var runErr error
	for item, err := range h.deps.Source.Items(ctx) {
		if err != nil {
			runErr = err
			break
		}
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		r.tally(func(s *types.HarvestSummary) { s.Processed++ })
		h.metrics.ItemsDiscovered.Inc()

		if !concurrent {
			h.process(ctx, r, item, false)
			continue
		}
		g.Go(func() error {
			h.process(ctx, r, item, true)
			return nil
		})
	}
	g.Wait()
	return runErr
}

// process handles one search result. Metadata and download are
// independent; a failure of one never affects the other.
func (h *Harvester) process(ctx context.Context, r *run, item types.SearchResultItem, concurrent bool) {
	r.log.Info().
		Str("file", item.Name).
		Str("dataset", item.DatasetName).
		Str("pid", types.Deref(item.DatasetPersistentID)).
		Str("file_id", types.Deref(item.FileID)).
		Bool("can_download", item.CanDownload).
		Msg("found file")

	if !concurrent {
		h.harvestDataset(ctx, r, item)
		h.harvestFile(ctx, r, item)
		return
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.harvestDataset(ctx, r, item)
	}()
	h.harvestFile(ctx, r, item)
	wg.Wait()
}

func (h *Harvester) harvestDataset(ctx context.Context, r *run, item types.SearchResultItem) {
	pid := types.Deref(item.DatasetPersistentID)
	if pid == "" || !r.claimDataset(pid) {
		return
	}
	log := r.log.With().Str("pid", pid).Logger()

	rec, err := h.deps.Datasets.FetchDataset(ctx, pid)
	h.metrics.ObserveMetadata(err)
	if err != nil {
		log.Warn().Err(err).Msg("dataset metadata unavailable")
		r.tally(func(s *types.HarvestSummary) { s.MetadataErrors++ })
		return
	}
	if rec.PersistentID == "" {
		rec.PersistentID = pid
	}
	if rec.ID == "" {
		rec.ID = types.Deref(item.DatasetID)
	}
	if rec.Name == "" {
		rec.Name = item.DatasetName
	}

	path, err := metadata.WriteSideRecord(h.cfg.MetadataDir, rec)
	if err != nil {
		log.Error().Err(err).Msg("writing authors side-record")
		r.tally(func(s *types.HarvestSummary) { s.MetadataErrors++ })
		return
	}
	h.metrics.SideRecordsWritten.Inc()
	r.tally(func(s *types.HarvestSummary) { s.SideRecords++ })
	log.Info().Str("path", path).Int("authors", len(rec.Authors)).Msg("saved authors")

	if h.deps.Recorder != nil {
		if err := h.deps.Recorder.RecordDataset(ctx, rec); err != nil {
			log.Warn().Err(err).Msg("cataloging dataset")
		}
	}
}

func (h *Harvester) harvestFile(ctx context.Context, r *run, item types.SearchResultItem) {
	out := h.deps.Downloader.Download(ctx, item, h.cfg.OutputDir)
	h.metrics.ObserveOutcome(out)
	r.tally(func(s *types.HarvestSummary) { s.Add(out) })

	log := r.log.With().Str("file", item.Name).Str("outcome", string(out.Kind)).Logger()
	switch out.Kind {
	case types.OutcomeSaved:
		log.Info().Str("path", out.Path).Bool("reused", out.Reused).Msg("saved file")
	case types.OutcomeSkippedNoPermission:
		log.Info().Msg("skipping: no download permission")
	case types.OutcomeSkippedNoLocator:
		log.Warn().Msg("skipping: no URL or file ID")
	case types.OutcomeForbidden:
		log.Warn().Msg("download forbidden (HTTP 403)")
	case types.OutcomeFailed:
		log.Warn().Err(out.Err).Msg("download failed")
	}

	if h.deps.Recorder != nil {
		if err := h.deps.Recorder.RecordFile(ctx, r.id, download.DedupKey(item), item, out); err != nil {
			log.Warn().Err(err).Msg("cataloging file")
		}
	}
}
