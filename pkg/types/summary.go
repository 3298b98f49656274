// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// HarvestSummary holds the counts of one harvest run.
type HarvestSummary struct {
	// Processed is the number of search items pulled from the paginator.
	Processed int `json:"processed" yaml:"processed"`

	// Saved counts files written (or reused with skip-existing).
	Saved int `json:"saved" yaml:"saved"`

	// Skipped counts items without download permission or without a locator.
	Skipped int `json:"skipped" yaml:"skipped"`

	// Failed counts forbidden and failed downloads.
	Failed int `json:"failed" yaml:"failed"`

	// Forbidden is the subset of Failed that received HTTP 403.
	Forbidden int `json:"forbidden" yaml:"forbidden"`

	// MetadataErrors counts dataset metadata fetches that failed.
	MetadataErrors int `json:"metadata_errors" yaml:"metadata_errors"`

	// SideRecords counts per-dataset author files written.
	SideRecords int `json:"side_records" yaml:"side_records"`
}

// Add tallies one download outcome.
func (s *HarvestSummary) Add(out DownloadOutcome) {
	switch {
	case out.Kind == OutcomeSaved:
		s.Saved++
	case out.IsSkipped():
		s.Skipped++
	case out.IsFailure():
		s.Failed++
		if out.Kind == OutcomeForbidden {
			s.Forbidden++
		}
	}
}

// HasFailures reports whether any download failed.
func (s HarvestSummary) HasFailures() bool {
	return s.Failed > 0
}
