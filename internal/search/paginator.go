// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package search walks the Dataverse Search API page by page.
// The paginator is restartable per call and never resumes across runs.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/pdiddy/dataverse-harvester/internal/httputil"
	"github.com/pdiddy/dataverse-harvester/pkg/types"
)

const statusOK = "OK"

// SearchError ends a crawl. It is the only run-fatal error of a harvest.
type SearchError struct {
	// Start is the offset of the page that failed.
	Start int
	// HTTPStatus is the HTTP status code, or 0 when no response arrived.
	HTTPStatus int
	// Status is the body's status field when it was not "OK".
	Status string
	Err    error
}

func (e *SearchError) Error() string {
	switch {
	case e.Status != "":
		return fmt.Sprintf("search page at start=%d: API returned status %q", e.Start, e.Status)
	case e.HTTPStatus != 0:
		return fmt.Sprintf("search page at start=%d: HTTP %d", e.Start, e.HTTPStatus)
	default:
		return fmt.Sprintf("search page at start=%d: %v", e.Start, e.Err)
	}
}

func (e *SearchError) Unwrap() error { return e.Err }

// Page describes one fetched search page.
type Page struct {
	Start int
	Items int
	// Skipped counts results on the page that could not be decoded.
	Skipped int
	Total   int
}

// Paginator pulls file results for one query from the Search API.
type Paginator struct {
	client     *http.Client
	endpoint   string
	query      string
	pageSize   int
	maxRetries int
	limiter    *rate.Limiter

	// OnPage, when set, is called after each page is decoded.
	OnPage func(Page)
	// OnBadItem, when set, is called for each result that could not be
	// decoded. Such results are dropped and the crawl continues.
	OnBadItem func(start, index int, err error)
}

// NewPaginator builds a paginator for cfg.SearchEndpoint and cfg.Query.
// Page requests are spaced by at least cfg.PolitenessDelay across every
// sequence the paginator produces.
func NewPaginator(client *http.Client, cfg types.HarvestConfig) *Paginator {
	return &Paginator{
		client:     client,
		endpoint:   cfg.SearchEndpoint,
		query:      cfg.Query,
		pageSize:   max(cfg.PageSize, 1),
		maxRetries: cfg.MaxRetries,
		limiter:    newLimiter(cfg.PolitenessDelay),
	}
}

func newLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

// Items returns the lazy sequence of search results in service order.
// A failed page yields one (zero item, *SearchError) pair and ends the
// sequence. Iteration also ends on an empty page or once the offset
// reaches the reported total.
func (p *Paginator) Items(ctx context.Context) iter.Seq2[types.SearchResultItem, error] {
	return func(yield func(types.SearchResultItem, error) bool) {
		start := 0
		for {
			if err := p.limiter.Wait(ctx); err != nil {
				yield(types.SearchResultItem{}, &SearchError{Start: start, Err: err})
				return
			}

			page, err := p.fetchPage(ctx, start)
			if err != nil {
				yield(types.SearchResultItem{}, err)
				return
			}
			items := p.decodeItems(start, page.Items)
			if p.OnPage != nil {
				p.OnPage(Page{
					Start:   start,
					Items:   len(items),
					Skipped: len(page.Items) - len(items),
					Total:   page.TotalCount,
				})
			}
			if len(page.Items) == 0 {
				return
			}

			for _, item := range items {
				if !yield(item, nil) {
					return
				}
			}

			start += p.pageSize
			if start >= page.TotalCount {
				return
			}
		}
	}
}

// Search API JSON structures.
type searchResponse struct {
	Status  string     `json:"status"`
	Message string     `json:"message"`
	Data    searchData `json:"data"`
}

type searchData struct {
	Items      []json.RawMessage `json:"items"`
	TotalCount int               `json:"total_count"`
}

// decodeItems decodes each result on its own so one malformed record does
// not cost the rest of the page.
func (p *Paginator) decodeItems(start int, raw []json.RawMessage) []types.SearchResultItem {
	items := make([]types.SearchResultItem, 0, len(raw))
	for i, r := range raw {
		var item types.SearchResultItem
		if err := json.Unmarshal(r, &item); err != nil {
			if p.OnBadItem != nil {
				p.OnBadItem(start, i, err)
			}
			continue
		}
		items = append(items, item)
	}
	return items
}

func (p *Paginator) fetchPage(ctx context.Context, start int) (searchData, error) {
	params := url.Values{
		"q":        {p.query},
		"type":     {"file"},
		"per_page": {strconv.Itoa(p.pageSize)},
		"start":    {strconv.Itoa(start)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return searchData{}, &SearchError{Start: start, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httputil.DoWithRetry(ctx, p.client, req, p.maxRetries)
	if err != nil {
		return searchData{}, &SearchError{Start: start, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return searchData{}, &SearchError{Start: start, HTTPStatus: resp.StatusCode}
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return searchData{}, &SearchError{Start: start, Err: fmt.Errorf("parsing search response: %w", err)}
	}
	if sr.Status != statusOK {
		status := sr.Status
		if status == "" {
			status = "(missing)"
		}
		return searchData{}, &SearchError{Start: start, Status: status}
	}
	return sr.Data, nil
}
