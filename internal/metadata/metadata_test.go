// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package metadata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/dataverse-harvester/internal/httputil"
	"github.com/pdiddy/dataverse-harvester/pkg/types"
)

func init() {
	httputil.RetryBaseDelay = time.Millisecond
}

const sampleDatasetJSON = `{
  "status": "OK",
  "data": {
    "id": 4242,
    "identifier": "DVN/ABC123",
    "latestVersion": {
      "datasetPersistentId": "doi:10.7910/DVN/ABC123",
      "metadataBlocks": {
        "citation": {
          "displayName": "Citation Metadata",
          "fields": [
            {"typeName": "title", "multiple": false, "typeClass": "primitive", "value": "Interview Coding Project"},
            {"typeName": "author", "multiple": true, "typeClass": "compound", "value": [
              {"authorName": {"typeName": "authorName", "value": "Doe, Jane"},
               "authorAffiliation": {"typeName": "authorAffiliation", "value": "Harvard University"}},
              {"authorName": {"typeName": "authorName", "value": "Roe, Richard"}},
              {"authorAffiliation": {"typeName": "authorAffiliation", "value": "MIT"}}
            ]}
          ]
        }
      }
    }
  }
}`

const noCitationJSON = `{
  "status": "OK",
  "data": {"id": 7, "latestVersion": {"metadataBlocks": {"geospatial": {"fields": []}}}}
}`

func newDatasetServer(t *testing.T, bodies map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pid := r.URL.Query().Get("persistentId")
		body, ok := bodies[pid]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"status":"ERROR","message":"not found"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
}

func newTestExtractor(ts *httptest.Server) *Extractor {
	cfg := types.DefaultHarvestConfig("")
	cfg.MetadataEndpoint = ts.URL + "/api/datasets/:persistentId"
	cfg.MaxRetries = 1
	return NewExtractor(ts.Client(), cfg)
}

func TestFetchDataset_ParsesAuthorsInOrder(t *testing.T) {
	ts := newDatasetServer(t, map[string]string{"doi:10.7910/DVN/ABC123": sampleDatasetJSON})
	defer ts.Close()

	rec, err := newTestExtractor(ts).FetchDataset(context.Background(), "doi:10.7910/DVN/ABC123")
	require.NoError(t, err)

	assert.Equal(t, "4242", rec.ID)
	assert.Equal(t, "doi:10.7910/DVN/ABC123", rec.PersistentID)
	assert.Equal(t, "Interview Coding Project", rec.Name)
	assert.Equal(t, []types.Author{
		{Name: types.StringPtr("Doe, Jane"), Affiliation: types.StringPtr("Harvard University")},
		{Name: types.StringPtr("Roe, Richard")},
		{Affiliation: types.StringPtr("MIT")},
	}, rec.Authors)
}

func TestFetchAuthors_MissingCitationBlockIsEmpty(t *testing.T) {
	ts := newDatasetServer(t, map[string]string{"doi:x": noCitationJSON})
	defer ts.Close()

	authors, err := newTestExtractor(ts).FetchAuthors(context.Background(), "doi:x")
	require.NoError(t, err)
	assert.NotNil(t, authors)
	assert.Empty(t, authors)
}

func TestFetchDataset_TolerantParse(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no data", `{"status":"OK"}`},
		{"no latest version", `{"status":"OK","data":{"id":1}}`},
		{"no metadata blocks", `{"status":"OK","data":{"id":1,"latestVersion":{}}}`},
		{"no author field", `{"status":"OK","data":{"latestVersion":{"metadataBlocks":{"citation":{"fields":[{"typeName":"title","value":"T"}]}}}}}`},
		{"author value not a list", `{"status":"OK","data":{"latestVersion":{"metadataBlocks":{"citation":{"fields":[{"typeName":"author","value":"oops"}]}}}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newDatasetServer(t, map[string]string{"doi:y": tt.body})
			defer ts.Close()

			rec, err := newTestExtractor(ts).FetchDataset(context.Background(), "doi:y")
			require.NoError(t, err)
			assert.Empty(t, rec.Authors)
			assert.Equal(t, "doi:y", rec.PersistentID)
		})
	}
}

func TestFetchAuthors_NonStringSubvaluesAreNil(t *testing.T) {
	body := `{"status":"OK","data":{"latestVersion":{"metadataBlocks":{"citation":{"fields":[
		{"typeName":"author","value":[{"authorName":{"value":42},"authorAffiliation":{"value":"  "}}]}]}}}}}`
	ts := newDatasetServer(t, map[string]string{"doi:z": body})
	defer ts.Close()

	authors, err := newTestExtractor(ts).FetchAuthors(context.Background(), "doi:z")
	require.NoError(t, err)
	require.Len(t, authors, 1)
	assert.Nil(t, authors[0].Name)
	assert.Nil(t, authors[0].Affiliation)
}

func TestFetchAuthors_MalformedEntryKeepsOthers(t *testing.T) {
	body := `{"status":"OK","data":{"latestVersion":{"metadataBlocks":{"citation":{"fields":[
		{"typeName":"author","value":[
			{"authorName":{"value":"A"},"authorAffiliation":"MIT"},
			"junk",
			42,
			{"authorName":{"value":"B"},"authorAffiliation":{"value":"Yale"}}
		]}]}}}}}`
	ts := newDatasetServer(t, map[string]string{"doi:mixed": body})
	defer ts.Close()

	authors, err := newTestExtractor(ts).FetchAuthors(context.Background(), "doi:mixed")
	require.NoError(t, err)
	assert.Equal(t, []types.Author{
		{Name: types.StringPtr("A")},
		{Name: types.StringPtr("B"), Affiliation: types.StringPtr("Yale")},
	}, authors)
}

func TestFetchDataset_WrongShapedLevelsReadAsMissing(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		wantID string
	}{
		{"metadata blocks as list", `{"status":"OK","data":{"id":5,"latestVersion":{"metadataBlocks":[]}}}`, "5"},
		{"non-numeric id", `{"status":"OK","data":{"id":"abc","latestVersion":{}}}`, "abc"},
		{"id as object", `{"status":"OK","data":{"id":{"n":1}}}`, ""},
		{"data as list", `{"status":"OK","data":[]}`, ""},
		{"fields as object", `{"status":"OK","data":{"id":6,"latestVersion":{"metadataBlocks":{"citation":{"fields":{}}}}}}`, "6"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newDatasetServer(t, map[string]string{"doi:w": tt.body})
			defer ts.Close()

			rec, err := newTestExtractor(ts).FetchDataset(context.Background(), "doi:w")
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, rec.ID)
			assert.NotNil(t, rec.Authors)
			assert.Empty(t, rec.Authors)
		})
	}
}

func TestFetchDataset_HTTPErrorIsMetadataFetchError(t *testing.T) {
	ts := newDatasetServer(t, nil)
	defer ts.Close()

	_, err := newTestExtractor(ts).FetchDataset(context.Background(), "doi:missing")
	var mfe *MetadataFetchError
	require.True(t, errors.As(err, &mfe))
	assert.Equal(t, http.StatusNotFound, mfe.HTTPStatus)
	assert.Equal(t, "doi:missing", mfe.PersistentID)
}

func TestFetchDataset_NonOKBodyStatus(t *testing.T) {
	ts := newDatasetServer(t, map[string]string{"doi:e": `{"status":"ERROR","message":"bad"}`})
	defer ts.Close()

	_, err := newTestExtractor(ts).FetchDataset(context.Background(), "doi:e")
	var mfe *MetadataFetchError
	assert.True(t, errors.As(err, &mfe))
}

func TestFetchDataset_TimeoutIsMetadataFetchError(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	ex := newTestExtractor(ts)
	ex.client = &http.Client{Timeout: 20 * time.Millisecond}
	ex.maxRetries = 1

	_, err := ex.FetchDataset(context.Background(), "doi:slow")
	var mfe *MetadataFetchError
	require.True(t, errors.As(err, &mfe))
	assert.Zero(t, mfe.HTTPStatus)
}

func TestSideRecord_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	rec := types.DatasetRecord{
		ID:           "4242",
		PersistentID: "doi:10.7910/DVN/ABC123",
		Name:         "Interview Coding Project",
		Authors: []types.Author{
			{Name: types.StringPtr("Doe, Jane"), Affiliation: types.StringPtr("Harvard University")},
			{Name: types.StringPtr("Roe, Richard")},
			{Affiliation: types.StringPtr("MIT")},
		},
	}

	path, err := WriteSideRecord(dir, rec)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "4242_authors.json"), path)

	got, err := ReadSideRecord(path)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestSideRecord_OverwritesWithoutMerge(t *testing.T) {
	dir := t.TempDir()
	first := types.DatasetRecord{ID: "1", PersistentID: "doi:a", Authors: []types.Author{
		{Name: types.StringPtr("A")}, {Name: types.StringPtr("B")},
	}}
	second := types.DatasetRecord{ID: "1", PersistentID: "doi:a", Authors: []types.Author{
		{Name: types.StringPtr("C")},
	}}

	_, err := WriteSideRecord(dir, first)
	require.NoError(t, err)
	path, err := WriteSideRecord(dir, second)
	require.NoError(t, err)

	got, err := ReadSideRecord(path)
	require.NoError(t, err)
	assert.Equal(t, second.Authors, got.Authors)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestSideRecord_EmptyAuthorsWrittenAsList(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteSideRecord(dir, types.DatasetRecord{ID: "9"})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"authors": []`)
}

func TestSideRecordKey(t *testing.T) {
	assert.Equal(t, "12", SideRecordKey(types.DatasetRecord{ID: "12", PersistentID: "doi:10.1/X"}))
	assert.Equal(t, "doi-10.7910-DVN-X", SideRecordKey(types.DatasetRecord{PersistentID: "doi:10.7910/DVN/X"}))

	_, err := WriteSideRecord(t.TempDir(), types.DatasetRecord{})
	assert.Error(t, err)
}
