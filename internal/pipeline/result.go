// Package pipeline composes probing, transcoding, splitting, and merging
// into the end-to-end policy that turns an uploaded audio file into one
// or more artifacts at or under the configured size ceiling.
package pipeline

import (
	"time"

	"audiopress/internal/media"
)

// Mode tags the shape of a pipeline result.
type Mode string

const (
	// ModeSingle means compression alone brought the file under the
	// ceiling; one artifact.
	ModeSingle Mode = "single"
	// ModeSplit means the file was segmented; one artifact per part.
	ModeSplit Mode = "split"
	// ModeSplitMerged means the file was segmented, per-part transcoded,
	// and concatenated back into one artifact.
	ModeSplitMerged Mode = "split_merged"
	// ModeFallback means whole-file compression timed out and the
	// unmodified original is returned. The ceiling may be violated; the
	// caller is told explicitly.
	ModeFallback Mode = "fallback"
)

// SegmentOutcome records what happened to one segment.
type SegmentOutcome string

const (
	// OutcomeTranscoded means the segment was re-encoded successfully.
	OutcomeTranscoded SegmentOutcome = "transcoded"
	// OutcomeFallbackOriginal means re-encoding failed (after one retry at
	// a lower bitrate) and the untranscoded segment was substituted.
	OutcomeFallbackOriginal SegmentOutcome = "fallback_original"
	// OutcomeSkipped means re-encoding was not attempted; raw byte slices
	// are passed through as-is.
	OutcomeSkipped SegmentOutcome = "skipped"
)

// SegmentReport is the per-segment record in a split result. Reports are
// always ordered by Index, never by completion order.
type SegmentReport struct {
	Index    int
	Artifact media.Artifact
	Outcome  SegmentOutcome
	// Error holds the last transcode failure when Outcome is
	// fallback_original.
	Error string
}

// Result is the terminal state of one pipeline run. Exactly one variant
// is populated: Artifact for single/split_merged/fallback, Segments for
// split.
type Result struct {
	Mode Mode
	// Artifact is the deliverable for single, split_merged, and fallback
	// modes.
	Artifact media.Artifact
	// Segments are the ordered per-part reports for split modes. Also set
	// alongside Artifact in split_merged mode.
	Segments []SegmentReport
	// PartCount is the number of parts produced by splitting.
	PartCount int
	// Degraded is set when any ceiling or quality guarantee was given up:
	// fallback mode, a fallback_original segment, or a failed merge.
	Degraded bool
	// Detail explains the degradation when Degraded is set.
	Detail string
	// Elapsed is the total processing time.
	Elapsed time.Duration
}

// PartEvent notifies a caller that one part has become available. Events
// fire in completion order; the final result still lists parts in index
// order.
type PartEvent struct {
	Index   int
	Path    string
	Outcome SegmentOutcome
	OfTotal int
}
