// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the dataverse-harvester pipeline.
// Implements: search result items, dataset records and authors, download
// outcomes, and the harvest configuration.
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// SearchResultItem is one file returned by the Dataverse Search API.
// Optional identifiers are nil when the service omits them.
type SearchResultItem struct {
	// Name is the file's display name (e.g. "interviews.qdpx").
	Name string `json:"name"`

	// FileID is the numeric datafile identifier, kept as a string.
	FileID *string `json:"file_id"`

	// DatasetName is the parent dataset's display name.
	DatasetName string `json:"dataset_name"`

	// DatasetPersistentID is the parent dataset's DOI-like identifier
	// (e.g. "doi:10.7910/DVN/ABC123").
	DatasetPersistentID *string `json:"dataset_persistent_id"`

	// DatasetID is the parent dataset's numeric identifier, kept as a string.
	DatasetID *string `json:"dataset_id"`

	// URL is a direct download URL, when the service provides one.
	URL *string `json:"url"`

	// CanDownload mirrors the service's canDownloadFile flag.
	CanDownload bool `json:"canDownloadFile"`
}

// Retrievable reports whether the item carries a download URL or a file ID.
func (it SearchResultItem) Retrievable() bool {
	return nonEmpty(it.URL) || nonEmpty(it.FileID)
}

// UnmarshalJSON decodes a search item, accepting identifiers encoded as
// either JSON strings or JSON numbers.
func (it *SearchResultItem) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name                string          `json:"name"`
		FileID              json.RawMessage `json:"file_id"`
		DatasetName         string          `json:"dataset_name"`
		DatasetPersistentID *string         `json:"dataset_persistent_id"`
		DatasetID           json.RawMessage `json:"dataset_id"`
		URL                 *string         `json:"url"`
		CanDownload         *bool           `json:"canDownloadFile"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	fileID, err := decodeID(raw.FileID)
	if err != nil {
		return fmt.Errorf("file_id: %w", err)
	}
	datasetID, err := decodeID(raw.DatasetID)
	if err != nil {
		return fmt.Errorf("dataset_id: %w", err)
	}

	*it = SearchResultItem{
		Name:                raw.Name,
		FileID:              fileID,
		DatasetName:         raw.DatasetName,
		DatasetPersistentID: blankToNil(raw.DatasetPersistentID),
		DatasetID:           datasetID,
		URL:                 blankToNil(raw.URL),
		CanDownload:         raw.CanDownload != nil && *raw.CanDownload,
	}
	return nil
}

// decodeID turns a JSON string, number, or null into an optional string.
func decodeID(raw json.RawMessage) (*string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return blankToNil(&s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("expected string or number, got %s", raw)
	}
	s := n.String()
	return &s, nil
}

func blankToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}

func nonEmpty(s *string) bool {
	return s != nil && *s != ""
}

// StringPtr returns a pointer to s. It is a convenience for building
// optional fields in literals.
func StringPtr(s string) *string {
	return &s
}

// Deref returns the value of s, or "" when s is nil.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
