package segment

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
)

// Mode selects how a plan's windows are materialized into files.
type Mode string

const (
	// ModeLosslessRepackage re-containerizes the source per time window
	// with stream copy. Quality is preserved, but segment sizes track the
	// local bitrate rather than an exact byte target.
	ModeLosslessRepackage Mode = "lossless-repackage"
	// ModeRawByteSlice copies byte ranges directly, ignoring container and
	// frame boundaries. Byte-exact size control, but parts may not be
	// independently playable. Low-latency fallback only.
	ModeRawByteSlice Mode = "raw-byte-slice"
)

// Splitter executes a segmentation plan, producing one file per window in
// strictly increasing window order. Order is significant: the Merger and
// the parts listing both rely on it.
type Splitter interface {
	// Split materializes plan against the input file, writing parts into
	// outputDir (created if missing). Returned paths match the plan's
	// window order. On error, any parts already written have been removed.
	Split(ctx context.Context, inputPath, outputDir string, plan Plan, mode Mode) ([]string, error)
}

// FFmpegSplitter implements Splitter using the ffmpeg CLI for stream-copy
// extraction, and direct file I/O for raw byte slicing.
type FFmpegSplitter struct {
	ffmpegPath string
}

// NewFFmpegSplitter creates a new FFmpegSplitter.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegSplitter(ffmpegPath string) *FFmpegSplitter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegSplitter{ffmpegPath: ffmpegPath}
}

// Split implements Splitter.Split.
func (s *FFmpegSplitter) Split(ctx context.Context, inputPath, outputDir string, plan Plan, mode Mode) ([]string, error) {
	if _, err := os.Stat(inputPath); err != nil {
		return nil, fmt.Errorf("input file: %w", err)
	}
	if err := os.MkdirAll(outputDir, 0750); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	if mode == ModeRawByteSlice {
		return s.splitBytes(inputPath, outputDir, plan)
	}
	return s.splitWindows(ctx, inputPath, outputDir, plan)
}

// splitWindows extracts each time window with stream copy.
func (s *FFmpegSplitter) splitWindows(ctx context.Context, inputPath, outputDir string, plan Plan) ([]string, error) {
	ext := filepath.Ext(inputPath)
	if ext == "" {
		ext = ".ogg"
	}

	var parts []string
	for i, w := range plan.TimeWindows {
		outputPath := filepath.Join(outputDir, fmt.Sprintf("part_%03d%s", i, ext))

		if err := s.extractWindow(ctx, inputPath, outputPath, w.Start, w.Duration); err != nil {
			// Cleanup already created parts on error
			for _, p := range parts {
				_ = os.Remove(p)
			}
			return nil, fmt.Errorf("extract window %d: %w", i, err)
		}

		parts = append(parts, outputPath)
	}

	return parts, nil
}

// extractWindow copies one time window of the input to a new file without
// re-encoding.
func (s *FFmpegSplitter) extractWindow(ctx context.Context, inputPath, outputPath string, start, duration float64) error {
	args := []string{
		"-y", // Overwrite output
		"-ss", fmt.Sprintf("%.3f", start),
		"-t", fmt.Sprintf("%.3f", duration),
		"-i", inputPath,
		"-vn",
		"-c", "copy", // Copy without re-encoding
		outputPath,
	}

	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, s.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg error: %w, stderr: %s", err, stderr.String())
	}

	return nil
}

// splitBytes copies each byte window directly out of the input file. The
// output carries a .part suffix: these chunks are byte slices, not
// necessarily valid media files.
func (s *FFmpegSplitter) splitBytes(inputPath, outputDir string, plan Plan) ([]string, error) {
	in, err := os.Open(inputPath) // #nosec G304 - path is produced by the pipeline
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer func() { _ = in.Close() }()

	var parts []string
	for i, w := range plan.ByteWindows {
		outputPath := filepath.Join(outputDir, fmt.Sprintf("part_%03d%s.part", i, filepath.Ext(inputPath)))

		if err := copyRange(in, outputPath, w.Offset, w.Length); err != nil {
			for _, p := range parts {
				_ = os.Remove(p)
			}
			return nil, fmt.Errorf("slice window %d: %w", i, err)
		}

		parts = append(parts, outputPath)
	}

	return parts, nil
}

// copyRange writes length bytes starting at offset from in to a new file.
func copyRange(in *os.File, outputPath string, offset, length int64) error {
	if _, err := in.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek: %w", err)
	}

	out, err := os.Create(outputPath) // #nosec G304 - path is produced by the pipeline
	if err != nil {
		return fmt.Errorf("create part: %w", err)
	}

	if _, err := io.CopyN(out, in, length); err != nil && err != io.EOF {
		_ = out.Close()
		_ = os.Remove(outputPath)
		return fmt.Errorf("copy bytes: %w", err)
	}

	if err := out.Close(); err != nil {
		_ = os.Remove(outputPath)
		return fmt.Errorf("close part: %w", err)
	}

	return nil
}

// Verify interface implementation at compile time.
var _ Splitter = (*FFmpegSplitter)(nil)
