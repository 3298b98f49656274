// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdiddy/dataverse-harvester/pkg/types"
)

const sideRecordSuffix = "_authors.json"

// SideRecordKey returns the file-name key of a dataset's side-record: its
// numeric ID, or its persistent ID with path separators replaced when the
// numeric ID is unknown.
func SideRecordKey(rec types.DatasetRecord) string {
	if rec.ID != "" {
		return rec.ID
	}
	return strings.NewReplacer("/", "-", ":", "-", `\`, "-").Replace(rec.PersistentID)
}

// SideRecordPath returns {dir}/{key}_authors.json for rec.
func SideRecordPath(dir string, rec types.DatasetRecord) string {
	return filepath.Join(dir, SideRecordKey(rec)+sideRecordSuffix)
}

// WriteSideRecord writes rec to its side-record path under dir, replacing
// any previous file. The write goes through a temporary file so readers
// never observe a partial record. It returns the written path.
func WriteSideRecord(dir string, rec types.DatasetRecord) (string, error) {
	if SideRecordKey(rec) == "" {
		return "", fmt.Errorf("dataset record has neither an ID nor a persistent ID")
	}
	if rec.Authors == nil {
		rec.Authors = []types.Author{}
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling side-record: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating directory %s: %w", dir, err)
	}

	path := SideRecordPath(dir, rec)
	tmp, err := os.CreateTemp(dir, ".sidecar-*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	_, writeErr := tmp.Write(append(data, '\n'))
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("writing side-record %s: %w", path, errors.Join(writeErr, closeErr))
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("renaming temp file: %w", err)
	}
	return path, nil
}

// ReadSideRecord reads a side-record written by WriteSideRecord.
func ReadSideRecord(path string) (types.DatasetRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.DatasetRecord{}, err
	}
	var rec types.DatasetRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return types.DatasetRecord{}, fmt.Errorf("parsing side-record %s: %w", path, err)
	}
	return rec, nil
}
