package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMB = int64(1024 * 1024)

func TestProfileFor(t *testing.T) {
	tests := []struct {
		name    string
		size    int64
		bitrate string
	}{
		{"small file gets high bitrate", 5 * testMB, "32k"},
		{"medium boundary drops to medium", 10 * testMB, "24k"},
		{"mid-range file gets medium bitrate", 15 * testMB, "24k"},
		{"large boundary drops to low", 30 * testMB, "16k"},
		{"large file gets low bitrate", 100 * testMB, "16k"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ProfileFor(tt.size)
			assert.Equal(t, tt.bitrate, p.Bitrate)
			// Only the bitrate varies across the ladder.
			assert.Equal(t, 16000, p.SampleRate)
			assert.Equal(t, 1, p.Channels)
			assert.Equal(t, "libopus", p.Codec)
		})
	}
}

func TestProfile_Lower(t *testing.T) {
	p := ProfileFor(5 * testMB)

	lower, ok := p.Lower()
	require.True(t, ok)
	assert.Equal(t, "24k", lower.Bitrate)

	lowest, ok := lower.Lower()
	require.True(t, ok)
	assert.Equal(t, "16k", lowest.Bitrate)

	_, ok = lowest.Lower()
	assert.False(t, ok, "bottom of the ladder has nothing lower")
}

func TestProfile_Cap(t *testing.T) {
	high := ProfileFor(5 * testMB)
	low := ProfileFor(100 * testMB)

	t.Run("never raises a segment above its source's bitrate", func(t *testing.T) {
		assert.Equal(t, "16k", high.Cap(low).Bitrate)
	})

	t.Run("keeps an already lower bitrate", func(t *testing.T) {
		assert.Equal(t, "16k", low.Cap(high).Bitrate)
	})

	t.Run("equal profiles are unchanged", func(t *testing.T) {
		assert.Equal(t, high, high.Cap(high))
	})
}

func TestTailString(t *testing.T) {
	assert.Equal(t, "short", tailString("short", 10))
	long := strings.Repeat("a", 20) + "tail"
	assert.Equal(t, "atail", tailString(long, 5))
}

func TestFFmpegTranscoder_Transcode(t *testing.T) {
	requireFFmpeg(t)

	tr := NewFFmpegTranscoder("")

	t.Run("produces compressed output", func(t *testing.T) {
		dir := t.TempDir()
		input := generateTestAudio(t, dir, 2)
		output := filepath.Join(dir, "out.ogg")

		err := tr.Transcode(context.Background(), input, output, DefaultProfile(), 30*time.Second)
		require.NoError(t, err)

		info, err := os.Stat(output)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
	})

	t.Run("invalid input yields a tool error and no partial output", func(t *testing.T) {
		dir := t.TempDir()
		input := filepath.Join(dir, "garbage.ogg")
		require.NoError(t, os.WriteFile(input, []byte("this is not audio"), 0600))
		output := filepath.Join(dir, "out.ogg")

		err := tr.Transcode(context.Background(), input, output, DefaultProfile(), 30*time.Second)
		require.Error(t, err)

		var toolErr *ToolError
		require.ErrorAs(t, err, &toolErr)
		assert.NotEmpty(t, toolErr.Stderr)

		_, statErr := os.Stat(output)
		assert.True(t, os.IsNotExist(statErr), "partial output should be removed")
	})

	t.Run("exceeding the time budget returns ErrTimedOut", func(t *testing.T) {
		dir := t.TempDir()
		input := generateTestAudio(t, dir, 5)
		output := filepath.Join(dir, "out.ogg")

		err := tr.Transcode(context.Background(), input, output, DefaultProfile(), time.Millisecond)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrTimedOut), "got %v", err)

		_, statErr := os.Stat(output)
		assert.True(t, os.IsNotExist(statErr), "partial output should be removed")
	})
}
