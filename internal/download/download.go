// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package download retrieves search result files to a local directory
// under deterministic, collision-free names.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/pdiddy/dataverse-harvester/internal/httputil"
	"github.com/pdiddy/dataverse-harvester/pkg/types"
)

// ChunkSize is the size of each read/write while streaming a file to disk.
const ChunkSize = 32 * 1024

const fallbackName = "unknown"

// HTTPStatusError reports a non-success download response other than 403.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d from %s", e.StatusCode, e.URL)
}

// Manager downloads search items. It is safe for concurrent use;
// concurrent downloads of the same destination collapse into one fetch.
type Manager struct {
	client       *http.Client
	fileURL      func(fileID string) string
	maxRetries   int
	skipExisting bool
	log          zerolog.Logger
	group        singleflight.Group

	// OnBytes, when set, receives the size of every saved file.
	OnBytes func(n int64)
}

// NewManager returns a Manager that synthesizes download URLs from
// cfg.FileEndpointTemplate.
func NewManager(client *http.Client, cfg types.HarvestConfig, log zerolog.Logger) *Manager {
	return &Manager{
		client:       client,
		fileURL:      cfg.FileURL,
		maxRetries:   cfg.MaxRetries,
		skipExisting: cfg.SkipExisting,
		log:          log,
	}
}

// DedupKey returns the destination file name of item:
// "{fileID}_{name}" when a file ID exists, else the bare name. Path
// separators are replaced so the key is always a single path element.
func DedupKey(item types.SearchResultItem) string {
	name := sanitize(item.Name)
	if name == "" {
		name = fallbackName
	}
	if id := sanitize(types.Deref(item.FileID)); id != "" {
		return id + "_" + name
	}
	return name
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("/", "_", `\`, "_", "\x00", "").Replace(s)
	if s == "." || s == ".." {
		return ""
	}
	return s
}

// ResolveURL returns the item's direct URL, or one synthesized from its
// file ID, or "" when the item has neither.
func (m *Manager) ResolveURL(item types.SearchResultItem) string {
	if u := types.Deref(item.URL); u != "" {
		return u
	}
	if id := types.Deref(item.FileID); id != "" {
		return m.fileURL(id)
	}
	return ""
}

// Download fetches item into destDir and classifies the result. Items
// without download permission or without a locator are skipped before any
// network call. Only a fully received file is ever placed at the
// destination path.
func (m *Manager) Download(ctx context.Context, item types.SearchResultItem, destDir string) types.DownloadOutcome {
	if !item.CanDownload {
		return types.SkippedNoPermission()
	}
	u := m.ResolveURL(item)
	if u == "" {
		return types.SkippedNoLocator()
	}

	dest := filepath.Join(destDir, DedupKey(item))
	v, _, shared := m.group.Do(dest, func() (any, error) {
		return m.fetch(ctx, u, dest), nil
	})
	if shared {
		m.log.Debug().Str("path", dest).Msg("download shared with concurrent caller")
	}
	return v.(types.DownloadOutcome)
}

func (m *Manager) fetch(ctx context.Context, u, dest string) types.DownloadOutcome {
	if m.skipExisting {
		if info, err := os.Stat(dest); err == nil && info.Mode().IsRegular() {
			out := types.Saved(dest)
			out.Reused = true
			return out
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return types.Failed(fmt.Errorf("creating request: %w", err))
	}

	resp, err := httputil.DoWithRetry(ctx, m.client, req, m.maxRetries)
	if err != nil {
		return types.Failed(fmt.Errorf("HTTP request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return types.Forbidden()
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return types.Failed(&HTTPStatusError{URL: u, StatusCode: resp.StatusCode})
	}

	n, err := writeAtomically(resp.Body, dest)
	if err != nil {
		return types.Failed(err)
	}
	if m.OnBytes != nil {
		m.OnBytes(n)
	}
	return types.Saved(dest)
}

// writeAtomically streams r to a temporary file next to dest and renames
// it onto dest once the whole body has been written.
func writeAtomically(r io.Reader, dest string) (int64, error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmpFile, err := os.CreateTemp(dir, ".download-*.tmp")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	n, copyErr := copyChunks(tmpFile, r)
	closeErr := tmpFile.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("writing download: %w", errors.Join(copyErr, closeErr))
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("renaming temp file: %w", err)
	}
	return n, nil
}

// copyChunks copies r to w in ChunkSize pieces, never holding more than
// one chunk of the payload in memory.
func copyChunks(w io.Writer, r io.Reader) (int64, error) {
	buf := make([]byte, ChunkSize)
	var total int64
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			written, err := w.Write(buf[:n])
			total += int64(written)
			if err != nil {
				return total, err
			}
			if written != n {
				return total, io.ErrShortWrite
			}
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			return total, readErr
		}
	}
}
