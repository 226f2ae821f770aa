// Package server provides the HTTP surface of the audio preprocess
// service: handlers, middleware, routes, and DTOs separated from domain
// types.
package server

import "fmt"

// ProcessQuery holds the validated query parameters of /process.
type ProcessQuery struct {
	// MaxMB overrides the configured size ceiling for this request only.
	MaxMB int `validate:"min=1,max=512"`
	// Strategy optionally forces a segmentation strategy.
	Strategy string `validate:"omitempty,oneof=duration fixed bytes"`
}

// PartInfo describes one delivered part in a split response.
type PartInfo struct {
	// Part is the zero-based part index.
	Part int `json:"part"`
	// URL is the download URL for this part.
	URL string `json:"url"`
	// SizeBytes is the part's size.
	SizeBytes int64 `json:"size_bytes"`
	// Status reports how this part was produced: "transcoded",
	// "fallback_original", or "skipped".
	Status string `json:"status"`
}

// ProcessResponse is the JSON body returned by /process.
type ProcessResponse struct {
	// OK is false when the pipeline degraded to a fallback result.
	OK bool `json:"ok"`
	// Mode is "single", "split", "split_merged", or "fallback".
	Mode string `json:"mode"`
	// URL is the artifact URL in single mode.
	URL string `json:"url,omitempty"`
	// FinalURL is the merged artifact URL in split_merged mode.
	FinalURL string `json:"final_url,omitempty"`
	// FallbackURL points at the unmodified original in fallback mode.
	FallbackURL string `json:"fallback_url,omitempty"`
	// FolderURL lists the parts directory in split mode.
	FolderURL string `json:"folder_url,omitempty"`
	// Count is the number of parts produced by splitting.
	Count int `json:"count,omitempty"`
	// Parts are the ordered per-part records in split mode.
	Parts []PartInfo `json:"parts,omitempty"`
	// SizeBytes is the deliverable artifact size, when there is one.
	SizeBytes int64 `json:"size_bytes,omitempty"`
	// SizeHuman is SizeBytes formatted for humans.
	SizeHuman string `json:"size_human,omitempty"`
	// Detail explains a degraded result.
	Detail string `json:"detail,omitempty"`
	// ProcessingTimeSec is the total pipeline wall-clock time.
	ProcessingTimeSec float64 `json:"processing_time_sec"`
}

// StreamEvent is one server-sent event emitted by /process_stream.
type StreamEvent struct {
	// Done is true only on the terminating event.
	Done bool `json:"done"`
	// Part is the zero-based index of a completed part.
	Part *int `json:"part,omitempty"`
	// URL is the completed part's download URL, or the artifact URL on
	// the terminating event of a non-split result.
	URL string `json:"url,omitempty"`
	// Status reports how the part was produced.
	Status string `json:"status,omitempty"`
	// Mode is set on the terminating event.
	Mode string `json:"mode,omitempty"`
	// PartsCount is set on the terminating event of a split result.
	PartsCount int `json:"parts_count,omitempty"`
	// ProcessingTimeSec is set on the terminating event.
	ProcessingTimeSec float64 `json:"processing_time_sec,omitempty"`
	// Detail explains a degraded terminating event.
	Detail string `json:"detail,omitempty"`
}

// FolderResponse is the JSON listing returned by /files for a directory.
type FolderResponse struct {
	// Folder is the requested directory, relative to the upload root.
	Folder string `json:"folder"`
	// Files are the public URLs of the directory entries, sorted by name.
	Files []string `json:"files"`
}

// ErrorResponse is the body of an error status response.
type ErrorResponse struct {
	// Detail is the human-readable error message.
	Detail string `json:"detail"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	OK bool `json:"ok"`
}

// humanSize formats a byte count as B/KB/MB/GB.
func humanSize(n int64) string {
	v := float64(n)
	for _, unit := range []string{"B", "KB", "MB"} {
		if v < 1024 {
			return fmt.Sprintf("%.1f%s", v, unit)
		}
		v /= 1024
	}
	return fmt.Sprintf("%.1fGB", v)
}
