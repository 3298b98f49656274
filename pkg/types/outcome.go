// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "fmt"

// OutcomeKind classifies what happened to one search item's download.
type OutcomeKind string

const (
	OutcomeSaved               OutcomeKind = "saved"
	OutcomeSkippedNoPermission OutcomeKind = "skipped_no_permission"
	OutcomeSkippedNoLocator    OutcomeKind = "skipped_no_locator"
	OutcomeForbidden           OutcomeKind = "forbidden"
	OutcomeFailed              OutcomeKind = "failed"
)

// DownloadOutcome is the result of one download attempt. It drives the
// harvest counters and logs and is never persisted on its own.
type DownloadOutcome struct {
	Kind OutcomeKind

	// Path is the destination file; set only for OutcomeSaved.
	Path string

	// Err is the cause; set only for OutcomeFailed.
	Err error

	// Reused is true when Path already existed and no fetch was made.
	Reused bool
}

func Saved(path string) DownloadOutcome {
	return DownloadOutcome{Kind: OutcomeSaved, Path: path}
}

func SkippedNoPermission() DownloadOutcome {
	return DownloadOutcome{Kind: OutcomeSkippedNoPermission}
}

func SkippedNoLocator() DownloadOutcome {
	return DownloadOutcome{Kind: OutcomeSkippedNoLocator}
}

func Forbidden() DownloadOutcome {
	return DownloadOutcome{Kind: OutcomeForbidden}
}

func Failed(cause error) DownloadOutcome {
	return DownloadOutcome{Kind: OutcomeFailed, Err: cause}
}

// IsSkipped reports whether the item was skipped without a fetch attempt.
func (o DownloadOutcome) IsSkipped() bool {
	return o.Kind == OutcomeSkippedNoPermission || o.Kind == OutcomeSkippedNoLocator
}

// IsFailure reports whether a fetch was attempted and did not save a file.
func (o DownloadOutcome) IsFailure() bool {
	return o.Kind == OutcomeForbidden || o.Kind == OutcomeFailed
}

func (o DownloadOutcome) String() string {
	switch o.Kind {
	case OutcomeSaved:
		if o.Reused {
			return fmt.Sprintf("saved(%s, existing)", o.Path)
		}
		return fmt.Sprintf("saved(%s)", o.Path)
	case OutcomeFailed:
		return fmt.Sprintf("failed(%v)", o.Err)
	default:
		return string(o.Kind)
	}
}
