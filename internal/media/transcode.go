package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"
)

// ErrTimedOut is returned when a transcode exceeds its wall-clock budget.
// The external process has been terminated; any partial output file was
// removed.
var ErrTimedOut = errors.New("media: transcode timed out")

// stderrTailLen bounds the amount of tool diagnostic output carried in a
// ToolError.
const stderrTailLen = 500

// ToolError represents a non-zero exit from the external tool, including
// a truncated tail of its stderr output.
type ToolError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// Profile specifies the normalization target for a transcode: resampling
// rate, channel count (1 downmixes to mono), constant target bitrate, and
// output codec.
type Profile struct {
	SampleRate int
	Channels   int
	Bitrate    string
	Codec      string
}

// Bitrate ladder used by ProfileFor. Larger inputs select lower bitrates
// to keep processing time bounded, trading quality for predictability.
const (
	bitrateHigh   = "32k"
	bitrateMedium = "24k"
	bitrateLow    = "16k"

	profileSizeMediumMB = 10
	profileSizeLowMB    = 30
)

// DefaultProfile returns the standard normalization target:
// Opus in OGG, 16 kHz, mono, 24 kbps.
func DefaultProfile() Profile {
	return Profile{
		SampleRate: 16000,
		Channels:   1,
		Bitrate:    bitrateMedium,
		Codec:      "libopus",
	}
}

// ProfileFor selects a bitrate profile for an input of the given size.
// It is a pure policy function: <10MB gets the high profile, 10-30MB the
// medium one, and anything larger the low one.
func ProfileFor(sizeBytes int64) Profile {
	p := DefaultProfile()
	switch {
	case sizeBytes < profileSizeMediumMB*1024*1024:
		p.Bitrate = bitrateHigh
	case sizeBytes < profileSizeLowMB*1024*1024:
		p.Bitrate = bitrateMedium
	default:
		p.Bitrate = bitrateLow
	}
	return p
}

// Cap bounds p's bitrate by limit's. Segments are smaller than the file
// they came from, so ProfileFor alone would let a segment re-encode at a
// higher bitrate than the whole-file pass and inflate it past its size
// target.
func (p Profile) Cap(limit Profile) Profile {
	if bitrateRank(p.Bitrate) > bitrateRank(limit.Bitrate) {
		p.Bitrate = limit.Bitrate
	}
	return p
}

// bitrateRank orders the ladder's bitrates from lowest to highest.
func bitrateRank(b string) int {
	switch b {
	case bitrateLow:
		return 0
	case bitrateMedium:
		return 1
	default:
		return 2
	}
}

// Lower returns the next profile down the bitrate ladder, for retrying a
// failed transcode. ok is false when the profile is already at the bottom.
func (p Profile) Lower() (lower Profile, ok bool) {
	lower = p
	switch p.Bitrate {
	case bitrateHigh:
		lower.Bitrate = bitrateMedium
		return lower, true
	case bitrateMedium:
		lower.Bitrate = bitrateLow
		return lower, true
	default:
		return p, false
	}
}

// Transcoder converts a source file into a normalized, compressed target.
type Transcoder interface {
	// Transcode converts input into output using the given profile,
	// bounded by timeout. It returns nil on success, ErrTimedOut when the
	// budget is exceeded (the tool is terminated), or a *ToolError on a
	// non-zero tool exit. On any failure the partial output file has been
	// removed.
	Transcode(ctx context.Context, input, output string, profile Profile, timeout time.Duration) error
}

// FFmpegTranscoder implements Transcoder using the ffmpeg CLI.
type FFmpegTranscoder struct {
	ffmpegPath string
}

// NewFFmpegTranscoder creates a new FFmpegTranscoder.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegTranscoder(ffmpegPath string) *FFmpegTranscoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegTranscoder{ffmpegPath: ffmpegPath}
}

// Transcode implements Transcoder.Transcode.
func (t *FFmpegTranscoder) Transcode(ctx context.Context, input, output string, profile Profile, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	args := []string{
		"-y", // Overwrite output
		"-i", input,
		"-vn", // Audio only
		"-ar", strconv.Itoa(profile.SampleRate),
		"-ac", strconv.Itoa(profile.Channels),
		"-b:a", profile.Bitrate,
		"-c:a", profile.Codec,
		output,
	}

	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, t.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}

	// A failed run may leave a partial output behind; it is invalid.
	_ = os.Remove(output)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrTimedOut, timeout)
	}
	if ctx.Err() != nil {
		return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
	}

	return &ToolError{
		Args:   args,
		Stderr: tailString(stderr.String(), stderrTailLen),
		Err:    err,
	}
}

// tailString returns at most the last n bytes of s. The end of ffmpeg's
// stderr carries the actual failure reason.
func tailString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// Verify interface implementation at compile time.
var _ Transcoder = (*FFmpegTranscoder)(nil)
