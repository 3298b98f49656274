// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package metadata fetches Dataverse dataset records and distills their
// citation author lists, and persists them as per-dataset side-records.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/pdiddy/dataverse-harvester/internal/httputil"
	"github.com/pdiddy/dataverse-harvester/pkg/types"
)

// MetadataFetchError is returned when a dataset record cannot be obtained.
// It never aborts a harvest; the caller logs it and moves on.
type MetadataFetchError struct {
	PersistentID string
	// HTTPStatus is the response status, or 0 when no response arrived.
	HTTPStatus int
	Err        error
}

func (e *MetadataFetchError) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("fetching dataset %s: HTTP %d", e.PersistentID, e.HTTPStatus)
	}
	return fmt.Sprintf("fetching dataset %s: %v", e.PersistentID, e.Err)
}

func (e *MetadataFetchError) Unwrap() error { return e.Err }

// Extractor reads dataset records from the dataset-by-persistent-id endpoint.
type Extractor struct {
	client     *http.Client
	endpoint   string
	maxRetries int
}

// NewExtractor returns an extractor for cfg.MetadataEndpoint.
func NewExtractor(client *http.Client, cfg types.HarvestConfig) *Extractor {
	return &Extractor{
		client:     client,
		endpoint:   cfg.MetadataEndpoint,
		maxRetries: cfg.MaxRetries,
	}
}

// FetchAuthors returns the dataset's citation authors in source order.
func (e *Extractor) FetchAuthors(ctx context.Context, persistentID string) ([]types.Author, error) {
	rec, err := e.FetchDataset(ctx, persistentID)
	if err != nil {
		return nil, err
	}
	return rec.Authors, nil
}

// FetchDataset fetches the dataset record for persistentID and distills it.
// Missing structure inside a successful response yields empty fields and
// an empty author list rather than an error.
func (e *Extractor) FetchDataset(ctx context.Context, persistentID string) (types.DatasetRecord, error) {
	fail := func(status int, err error) (types.DatasetRecord, error) {
		return types.DatasetRecord{}, &MetadataFetchError{PersistentID: persistentID, HTTPStatus: status, Err: err}
	}

	reqURL := e.endpoint + "?" + url.Values{"persistentId": {persistentID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fail(0, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httputil.DoWithRetry(ctx, e.client, req, e.maxRetries)
	if err != nil {
		return fail(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail(resp.StatusCode, nil)
	}

	var dr datasetResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fail(0, fmt.Errorf("parsing dataset response: %w", err))
	}
	if dr.Status != "" && dr.Status != "OK" {
		return fail(0, fmt.Errorf("API returned status %q", dr.Status))
	}

	return distill(persistentID, dr), nil
}

// datasetResponse is the dataset API envelope. Everything below data is
// walked as raw JSON so a malformed level reads as missing.
type datasetResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func distill(persistentID string, dr datasetResponse) types.DatasetRecord {
	rec := types.DatasetRecord{
		PersistentID: persistentID,
		Authors:      []types.Author{},
	}
	data := object(dr.Data)
	if data == nil {
		return rec
	}
	rec.ID = rawID(data["id"])

	version := object(data["latestVersion"])
	if version == nil {
		return rec
	}
	if pid := rawString(version["datasetPersistentId"]); pid != nil {
		rec.PersistentID = *pid
	}
	citation := object(object(version["metadataBlocks"])["citation"])
	if citation == nil {
		return rec
	}

	var fields []json.RawMessage
	if err := json.Unmarshal(citation["fields"], &fields); err != nil {
		return rec
	}
	for _, raw := range fields {
		f := object(raw)
		switch types.Deref(rawString(f["typeName"])) {
		case "title":
			if s := rawString(f["value"]); s != nil {
				rec.Name = *s
			}
		case "author":
			rec.Authors = parseAuthors(f["value"])
		}
	}
	return rec
}

// parseAuthors reads the compound author entries in order. An entry that
// is not an object is skipped. A missing or malformed authorName or
// authorAffiliation yields a nil field.
func parseAuthors(raw json.RawMessage) []types.Author {
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return []types.Author{}
	}
	authors := make([]types.Author, 0, len(entries))
	for _, e := range entries {
		entry := object(e)
		if entry == nil {
			continue
		}
		authors = append(authors, types.Author{
			Name:        subfieldString(entry["authorName"]),
			Affiliation: subfieldString(entry["authorAffiliation"]),
		})
	}
	return authors
}

// subfieldString returns the string value of a compound subfield such as
// {"typeName": "authorName", "value": "Doe, Jane"}.
func subfieldString(raw json.RawMessage) *string {
	return rawString(object(raw)["value"])
}

// object decodes raw as a JSON object, returning nil for anything else.
func object(raw json.RawMessage) map[string]json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

// rawID reads a dataset id given as a JSON number or string.
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return types.Deref(rawString(raw))
}

// rawString decodes a JSON string value, returning nil for anything else
// or for a blank string.
func rawString(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
