package segment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrNoParts is returned when Merge is called with an empty input list.
var ErrNoParts = errors.New("segment: no parts to merge")

// Merger concatenates an ordered sequence of same-format segments back
// into one file using stream copy. Inputs must share container and codec;
// mismatches surface as a tool error.
type Merger interface {
	// Merge concatenates parts, in the order given, into output.
	Merge(ctx context.Context, parts []string, output string) error
}

// FFmpegMerger implements Merger using the ffmpeg concat demuxer.
type FFmpegMerger struct {
	ffmpegPath string
}

// NewFFmpegMerger creates a new FFmpegMerger.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegMerger(ffmpegPath string) *FFmpegMerger {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegMerger{ffmpegPath: ffmpegPath}
}

// Merge implements Merger.Merge. The temporary concat list file is
// removed on both success and failure.
func (m *FFmpegMerger) Merge(ctx context.Context, parts []string, output string) error {
	if len(parts) == 0 {
		return ErrNoParts
	}

	listFile, err := m.createConcatList(parts)
	if err != nil {
		return fmt.Errorf("create concat list: %w", err)
	}
	defer func() { _ = os.Remove(listFile) }()

	args := []string{
		"-y",           // Overwrite output
		"-f", "concat", // Use concat demuxer
		"-safe", "0", // Allow absolute paths
		"-i", listFile,
		"-c", "copy", // Copy streams without re-encoding
		output,
	}

	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, m.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return fmt.Errorf("ffmpeg error: %w, stderr: %s", err, stderr.String())
	}

	return nil
}

// createConcatList writes a temporary file listing the parts in the
// format required by ffmpeg's concat demuxer.
func (m *FFmpegMerger) createConcatList(parts []string) (string, error) {
	f, err := os.CreateTemp("", "ffmpeg-concat-*.txt")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = f.Close() }()

	for _, p := range parts {
		// Convert to absolute path for safety
		absPath, err := filepath.Abs(p)
		if err != nil {
			_ = os.Remove(f.Name())
			return "", fmt.Errorf("get absolute path for %s: %w", p, err)
		}
		// Escape single quotes in path
		escapedPath := strings.ReplaceAll(absPath, "'", "'\\''")
		if _, err := fmt.Fprintf(f, "file '%s'\n", escapedPath); err != nil {
			_ = os.Remove(f.Name())
			return "", fmt.Errorf("write to concat list: %w", err)
		}
	}

	return f.Name(), nil
}

// Verify interface implementation at compile time.
var _ Merger = (*FFmpegMerger)(nil)
