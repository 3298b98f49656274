// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package harvest

import (
	"context"
	"errors"
	"iter"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/dataverse-harvester/internal/metadata"
	"github.com/pdiddy/dataverse-harvester/internal/search"
	"github.com/pdiddy/dataverse-harvester/pkg/types"
)

// --- fakes ---

type sliceSource struct {
	items []types.SearchResultItem
	err   error
}

func (s sliceSource) Items(ctx context.Context) iter.Seq2[types.SearchResultItem, error] {
	return func(yield func(types.SearchResultItem, error) bool) {
		for _, it := range s.items {
			if !yield(it, nil) {
				return
			}
		}
		if s.err != nil {
			yield(types.SearchResultItem{}, s.err)
		}
	}
}

type fakeFetcher struct {
	records map[string]types.DatasetRecord
	calls   atomic.Int32
}

func (f *fakeFetcher) FetchDataset(ctx context.Context, pid string) (types.DatasetRecord, error) {
	f.calls.Add(1)
	rec, ok := f.records[pid]
	if !ok {
		return types.DatasetRecord{}, &metadata.MetadataFetchError{PersistentID: pid, HTTPStatus: 404}
	}
	return rec, nil
}

type fakeDownloader struct {
	outcomes map[string]types.DownloadOutcome
	calls    atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func (d *fakeDownloader) Download(ctx context.Context, item types.SearchResultItem, destDir string) types.DownloadOutcome {
	d.calls.Add(1)
	n := d.inFlight.Add(1)
	defer d.inFlight.Add(-1)
	for {
		p := d.peak.Load()
		if n <= p || d.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	if !item.CanDownload {
		return types.SkippedNoPermission()
	}
	if out, ok := d.outcomes[item.Name]; ok {
		return out
	}
	return types.Saved(filepath.Join(destDir, item.Name))
}

type fakeRecorder struct {
	mu       sync.Mutex
	began    int
	finished []types.HarvestSummary
	finalErr error
	datasets []types.DatasetRecord
	files    map[string]types.OutcomeKind
}

func (r *fakeRecorder) BeginRun(ctx context.Context, query string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.began++
	return "run-1", nil
}

func (r *fakeRecorder) FinishRun(ctx context.Context, runID string, s types.HarvestSummary, runErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, s)
	r.finalErr = runErr
	return nil
}

func (r *fakeRecorder) RecordDataset(ctx context.Context, rec types.DatasetRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.datasets = append(r.datasets, rec)
	return nil
}

func (r *fakeRecorder) RecordFile(ctx context.Context, runID, key string, item types.SearchResultItem, out types.DownloadOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.files == nil {
		r.files = map[string]types.OutcomeKind{}
	}
	r.files[key] = out.Kind
	return nil
}

// --- helpers ---

func fileItem(name, fileID, pid string, canDownload bool) types.SearchResultItem {
	it := types.SearchResultItem{Name: name, DatasetName: "Dataset " + pid, CanDownload: canDownload}
	if fileID != "" {
		it.FileID = types.StringPtr(fileID)
	}
	if pid != "" {
		it.DatasetPersistentID = types.StringPtr(pid)
	}
	return it
}

func testConfig(t *testing.T) types.HarvestConfig {
	t.Helper()
	cfg := types.DefaultHarvestConfig("")
	dir := t.TempDir()
	cfg.OutputDir = filepath.Join(dir, "files")
	cfg.MetadataDir = filepath.Join(dir, "metadata")
	cfg.PolitenessDelay = 0
	return cfg
}

func dataset(id, pid string, authors ...string) types.DatasetRecord {
	rec := types.DatasetRecord{ID: id, PersistentID: pid, Name: "Dataset " + pid, Authors: []types.Author{}}
	for _, a := range authors {
		rec.Authors = append(rec.Authors, types.Author{Name: types.StringPtr(a)})
	}
	return rec
}

// --- tests ---

func TestRun_CountsOutcomes(t *testing.T) {
	cfg := testConfig(t)
	src := sliceSource{items: []types.SearchResultItem{
		fileItem("a.qdpx", "1", "doi:A", true),
		fileItem("b.qdpx", "2", "doi:A", false),
		fileItem("c.qdpx", "", "", true),
		fileItem("d.qdpx", "4", "doi:B", true),
		fileItem("e.qdpx", "5", "doi:B", true),
	}}
	dl := &fakeDownloader{outcomes: map[string]types.DownloadOutcome{
		"c.qdpx": types.SkippedNoLocator(),
		"d.qdpx": types.Forbidden(),
		"e.qdpx": types.Failed(errors.New("connection reset")),
	}}
	fetcher := &fakeFetcher{records: map[string]types.DatasetRecord{
		"doi:A": dataset("10", "doi:A", "Doe, Jane"),
		"doi:B": dataset("20", "doi:B"),
	}}

	h := New(cfg, Deps{Source: src, Datasets: fetcher, Downloader: dl, Log: zerolog.Nop()})
	summary, err := h.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, types.HarvestSummary{
		Processed: 5, Saved: 1, Skipped: 2, Failed: 2, Forbidden: 1, SideRecords: 2,
	}, summary)
	assert.True(t, summary.HasFailures())
	assert.Equal(t, 5.0, testutil.ToFloat64(h.Metrics().ItemsDiscovered))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.Metrics().DownloadOutcomes.WithLabelValues("forbidden")))
}

func TestRun_MetadataFailureDoesNotAffectDownload(t *testing.T) {
	cfg := testConfig(t)
	src := sliceSource{items: []types.SearchResultItem{
		fileItem("a.qdpx", "1", "doi:MISSING", true),
		fileItem("b.qdpx", "2", "doi:OK", true),
	}}
	fetcher := &fakeFetcher{records: map[string]types.DatasetRecord{
		"doi:OK": dataset("2", "doi:OK", "Roe, Rick"),
	}}
	dl := &fakeDownloader{}

	summary, err := New(cfg, Deps{Source: src, Datasets: fetcher, Downloader: dl, Log: zerolog.Nop()}).
		Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Saved)
	assert.Equal(t, 1, summary.MetadataErrors)
	assert.Equal(t, 1, summary.SideRecords)
	assert.EqualValues(t, 2, dl.calls.Load())
	assert.FileExists(t, filepath.Join(cfg.MetadataDir, "2_authors.json"))
}

func TestRun_DownloadFailureDoesNotAffectMetadata(t *testing.T) {
	cfg := testConfig(t)
	src := sliceSource{items: []types.SearchResultItem{fileItem("a.qdpx", "1", "doi:A", true)}}
	fetcher := &fakeFetcher{records: map[string]types.DatasetRecord{"doi:A": dataset("9", "doi:A", "Doe, Jane")}}
	dl := &fakeDownloader{outcomes: map[string]types.DownloadOutcome{"a.qdpx": types.Failed(errors.New("timeout"))}}

	summary, err := New(cfg, Deps{Source: src, Datasets: fetcher, Downloader: dl, Log: zerolog.Nop()}).
		Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.SideRecords)
	rec, err := metadata.ReadSideRecord(filepath.Join(cfg.MetadataDir, "9_authors.json"))
	require.NoError(t, err)
	assert.Equal(t, "Doe, Jane", types.Deref(rec.Authors[0].Name))
}

func TestRun_ItemWithoutDatasetSkipsMetadata(t *testing.T) {
	cfg := testConfig(t)
	src := sliceSource{items: []types.SearchResultItem{fileItem("a.qdpx", "1", "", true)}}
	fetcher := &fakeFetcher{}

	summary, err := New(cfg, Deps{Source: src, Datasets: fetcher, Downloader: &fakeDownloader{}, Log: zerolog.Nop()}).
		Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 0, fetcher.calls.Load())
	assert.Equal(t, 1, summary.Saved)
	assert.Zero(t, summary.MetadataErrors)
}

func TestRun_DatasetFetchedOncePerRun(t *testing.T) {
	cfg := testConfig(t)
	src := sliceSource{items: []types.SearchResultItem{
		fileItem("a.qdpx", "1", "doi:A", true),
		fileItem("b.qdpx", "2", "doi:A", true),
		fileItem("c.qdpx", "3", "doi:A", false),
	}}
	fetcher := &fakeFetcher{records: map[string]types.DatasetRecord{"doi:A": dataset("1", "doi:A")}}
	h := New(cfg, Deps{Source: src, Datasets: fetcher, Downloader: &fakeDownloader{}, Log: zerolog.Nop()})

	summary, err := h.Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, fetcher.calls.Load())
	assert.Equal(t, 1, summary.SideRecords)

	// A second run starts with a fresh guard.
	_, err = h.Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, fetcher.calls.Load())
}

func TestRun_SideRecordIDFallsBackToItem(t *testing.T) {
	cfg := testConfig(t)
	item := fileItem("a.qdpx", "1", "doi:10.7910/DVN/X", true)
	item.DatasetID = types.StringPtr("77")
	src := sliceSource{items: []types.SearchResultItem{item}}
	fetcher := &fakeFetcher{records: map[string]types.DatasetRecord{
		"doi:10.7910/DVN/X": {Authors: []types.Author{{Name: types.StringPtr("Doe, Jane")}}},
	}}

	_, err := New(cfg, Deps{Source: src, Datasets: fetcher, Downloader: &fakeDownloader{}, Log: zerolog.Nop()}).
		Run(context.Background())
	require.NoError(t, err)

	rec, err := metadata.ReadSideRecord(filepath.Join(cfg.MetadataDir, "77_authors.json"))
	require.NoError(t, err)
	assert.Equal(t, "77", rec.ID)
	assert.Equal(t, "doi:10.7910/DVN/X", rec.PersistentID)
	assert.Equal(t, item.DatasetName, rec.Name)
}

func TestRun_SearchErrorReturnsPartialSummary(t *testing.T) {
	cfg := testConfig(t)
	searchErr := &search.SearchError{Start: 2, HTTPStatus: 500}
	src := sliceSource{
		items: []types.SearchResultItem{fileItem("a.qdpx", "1", "", true), fileItem("b.qdpx", "2", "", true)},
		err:   searchErr,
	}
	rec := &fakeRecorder{}

	summary, err := New(cfg, Deps{
		Source: src, Datasets: &fakeFetcher{}, Downloader: &fakeDownloader{}, Recorder: rec, Log: zerolog.Nop(),
	}).Run(context.Background())

	var se *search.SearchError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 2, se.Start)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 2, summary.Saved)

	require.Len(t, rec.finished, 1)
	assert.Equal(t, summary, rec.finished[0])
	assert.ErrorIs(t, rec.finalErr, searchErr)
}

func TestRun_CancelledContextStopsPulling(t *testing.T) {
	cfg := testConfig(t)
	src := sliceSource{items: []types.SearchResultItem{fileItem("a.qdpx", "1", "", true)}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dl := &fakeDownloader{}
	summary, err := New(cfg, Deps{Source: src, Datasets: &fakeFetcher{}, Downloader: dl, Log: zerolog.Nop()}).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, summary.Processed)
	assert.EqualValues(t, 0, dl.calls.Load())
}

func TestRun_RecorderReceivesDatasetsAndFiles(t *testing.T) {
	cfg := testConfig(t)
	src := sliceSource{items: []types.SearchResultItem{
		fileItem("a.qdpx", "1", "doi:A", true),
		fileItem("b.qdpx", "2", "doi:A", false),
	}}
	fetcher := &fakeFetcher{records: map[string]types.DatasetRecord{"doi:A": dataset("5", "doi:A", "Doe, Jane")}}
	rec := &fakeRecorder{}

	_, err := New(cfg, Deps{
		Source: src, Datasets: fetcher, Downloader: &fakeDownloader{}, Recorder: rec, Log: zerolog.Nop(),
	}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, rec.began)
	require.Len(t, rec.datasets, 1)
	assert.Equal(t, "doi:A", rec.datasets[0].PersistentID)
	assert.Equal(t, map[string]types.OutcomeKind{
		"1_a.qdpx": types.OutcomeSaved,
		"2_b.qdpx": types.OutcomeSkippedNoPermission,
	}, rec.files)
	assert.NoError(t, rec.finalErr)
}

func TestRun_ParallelWorkersMatchSequential(t *testing.T) {
	var items []types.SearchResultItem
	records := map[string]types.DatasetRecord{}
	for i := range 20 {
		pid := "doi:" + string(rune('A'+i%5))
		items = append(items, fileItem("f"+string(rune('a'+i))+".qdpx", "", pid, i%4 != 0))
		records[pid] = dataset("", pid, "Author "+pid)
	}

	harvestWith := func(workers int) (types.HarvestSummary, *fakeFetcher, *fakeDownloader) {
		cfg := testConfig(t)
		cfg.Workers = workers
		fetcher := &fakeFetcher{records: records}
		dl := &fakeDownloader{delay: 5 * time.Millisecond}
		s, err := New(cfg, Deps{Source: sliceSource{items: items}, Datasets: fetcher, Downloader: dl, Log: zerolog.Nop()}).
			Run(context.Background())
		require.NoError(t, err)
		return s, fetcher, dl
	}

	seq, seqFetch, seqDL := harvestWith(1)
	par, parFetch, parDL := harvestWith(4)

	assert.Equal(t, seq, par)
	assert.Equal(t, types.HarvestSummary{Processed: 20, Saved: 15, Skipped: 5, SideRecords: 5}, par)
	assert.EqualValues(t, 5, seqFetch.calls.Load())
	assert.EqualValues(t, 5, parFetch.calls.Load())
	assert.EqualValues(t, 1, seqDL.peak.Load())
	assert.LessOrEqual(t, parDL.peak.Load(), int32(4))
	assert.Greater(t, parDL.peak.Load(), int32(1))
}

func TestRun_SideRecordsWrittenForEveryDataset(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workers = 3
	src := sliceSource{items: []types.SearchResultItem{
		fileItem("a.qdpx", "1", "doi:A", true),
		fileItem("b.qdpx", "2", "doi:B", true),
		fileItem("c.qdpx", "3", "doi:C", true),
	}}
	fetcher := &fakeFetcher{records: map[string]types.DatasetRecord{
		"doi:A": dataset("1", "doi:A", "x"),
		"doi:B": dataset("2", "doi:B", "y"),
		"doi:C": dataset("3", "doi:C", "z"),
	}}

	_, err := New(cfg, Deps{Source: src, Datasets: fetcher, Downloader: &fakeDownloader{}, Log: zerolog.Nop()}).
		Run(context.Background())
	require.NoError(t, err)

	matches, err := filepath.Glob(filepath.Join(cfg.MetadataDir, "*_authors.json"))
	require.NoError(t, err)
	sort.Strings(matches)
	require.Len(t, matches, 3)
	assert.Equal(t, "1_authors.json", filepath.Base(matches[0]))
}
