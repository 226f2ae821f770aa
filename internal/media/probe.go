// Package media wraps the external ffmpeg/ffprobe tools behind narrow
// interfaces for probing and transcoding audio files.
package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Artifact describes a media file on disk. It is immutable once produced;
// each pipeline stage owns the artifacts it created until it hands them to
// the next stage.
type Artifact struct {
	// Path is the location of the file on disk.
	Path string
	// SizeBytes is the stored byte length of the file.
	SizeBytes int64
	// DurationSeconds is the probed media duration, or 0.0 when unknown.
	DurationSeconds float64
	// Format is the container/codec tag derived from the file extension.
	Format string
}

// Prober inspects the size and duration of a media file.
type Prober interface {
	// Probe returns an Artifact for the file at path. Size lookup never
	// fails for an existing file; duration lookup degrades to 0.0 on any
	// failure (corrupt file, unsupported format, tool absent). Callers
	// must treat a zero duration as "unknown".
	Probe(ctx context.Context, path string) (Artifact, error)
}

// FFprobeProber implements Prober using the ffprobe CLI.
type FFprobeProber struct {
	ffprobePath string
}

// NewFFprobeProber creates a new FFprobeProber.
// If ffprobePath is empty, it defaults to "ffprobe" (found via PATH).
func NewFFprobeProber(ffprobePath string) *FFprobeProber {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFprobeProber{ffprobePath: ffprobePath}
}

// Probe implements Prober.Probe.
func (p *FFprobeProber) Probe(ctx context.Context, path string) (Artifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Artifact{}, fmt.Errorf("stat %s: %w", path, err)
	}

	return Artifact{
		Path:            path,
		SizeBytes:       info.Size(),
		DurationSeconds: p.duration(ctx, path),
		Format:          strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")),
	}, nil
}

// duration returns the media duration in seconds, or 0.0 if it cannot be
// determined for any reason.
func (p *FFprobeProber) duration(ctx context.Context, path string) float64 {
	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		return 0.0
	}

	d, err := strconv.ParseFloat(strings.TrimSpace(stdout.String()), 64)
	if err != nil || d < 0 {
		return 0.0
	}

	return d
}

// Verify interface implementation at compile time.
var _ Prober = (*FFprobeProber)(nil)
