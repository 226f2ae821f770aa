package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audiopress/internal/config"
	"audiopress/internal/media"
	"audiopress/internal/segment"
	"audiopress/internal/workspace"
)

// fakeProber stats real files and reports durations (and optional size
// overrides) from fixture maps keyed by base name.
type fakeProber struct {
	durations map[string]float64
	sizes     map[string]int64
}

func (f *fakeProber) Probe(_ context.Context, path string) (media.Artifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		return media.Artifact{}, err
	}
	size := info.Size()
	if s, ok := f.sizes[filepath.Base(path)]; ok {
		size = s
	}
	var d float64
	if f.durations != nil {
		d = f.durations[filepath.Base(path)]
	}
	return media.Artifact{
		Path:            path,
		SizeBytes:       size,
		DurationSeconds: d,
		Format:          "ogg",
	}, nil
}

// fakeTranscoder writes a fixed-size output file, optionally failing a
// configured number of times per input base name. Calls and the profiles
// they were given are recorded in order.
type fakeTranscoder struct {
	mu       sync.Mutex
	calls    []string
	profiles []media.Profile
	failures map[string]int
	failErr  error
	sizeFor  func(input string) int64
}

func (f *fakeTranscoder) Transcode(_ context.Context, input, output string, profile media.Profile, _ time.Duration) error {
	base := filepath.Base(input)

	f.mu.Lock()
	f.calls = append(f.calls, base)
	f.profiles = append(f.profiles, profile)
	remaining := f.failures[base]
	if remaining > 0 {
		f.failures[base]--
	}
	f.mu.Unlock()

	if remaining > 0 {
		if f.failErr != nil {
			return f.failErr
		}
		return errors.New("encode failed")
	}

	size := int64(100)
	if f.sizeFor != nil {
		size = f.sizeFor(input)
	}
	return os.WriteFile(output, bytes.Repeat([]byte("x"), int(size)), 0600)
}

func (f *fakeTranscoder) callCount(base string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == base {
			n++
		}
	}
	return n
}

// fakeSplitter materializes one small file per plan window.
type fakeSplitter struct {
	calls    int
	lastMode segment.Mode
	err      error
}

func (f *fakeSplitter) Split(_ context.Context, _ string, outputDir string, plan segment.Plan, mode segment.Mode) ([]string, error) {
	f.calls++
	f.lastMode = mode
	if f.err != nil {
		return nil, f.err
	}
	if err := os.MkdirAll(outputDir, 0750); err != nil {
		return nil, err
	}
	parts := make([]string, plan.Count())
	for i := range parts {
		p := filepath.Join(outputDir, fmt.Sprintf("part_%03d.ogg", i))
		if err := os.WriteFile(p, []byte("segmentdata"), 0600); err != nil {
			return nil, err
		}
		parts[i] = p
	}
	return parts, nil
}

// fakeMerger concatenates the parts, or fails on demand.
type fakeMerger struct {
	gotParts []string
	err      error
}

func (f *fakeMerger) Merge(_ context.Context, parts []string, output string) error {
	f.gotParts = parts
	if f.err != nil {
		return f.err
	}
	var joined []byte
	for _, p := range parts {
		data, err := os.ReadFile(p) // #nosec G304 - test-owned path
		if err != nil {
			return err
		}
		joined = append(joined, data...)
	}
	return os.WriteFile(output, joined, 0600)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// splitSizes makes the whole-file pass produce 100 bytes and every
// re-encoded part 10 bytes, so parts land under the test ceilings.
func splitSizes(input string) int64 {
	if filepath.Base(input) == "upload.mp3" {
		return 100
	}
	return 10
}

func testRequest(t *testing.T, uploadSize int, ceiling int64) Request {
	t.Helper()
	ws, err := workspace.New(t.TempDir())
	require.NoError(t, err)

	input := ws.Path("upload.mp3")
	require.NoError(t, os.WriteFile(input, bytes.Repeat([]byte("a"), uploadSize), 0600))

	return Request{Workspace: ws, InputPath: input, CeilingBytes: ceiling}
}

func TestProcess_SingleWhenUnderCeiling(t *testing.T) {
	prober := &fakeProber{durations: map[string]float64{"processed.ogg": 600}}
	transcoder := &fakeTranscoder{}
	splitter := &fakeSplitter{}
	o := New(prober, transcoder, segment.NewPlanner(300, discardLogger()), splitter, &fakeMerger{}, discardLogger())

	req := testRequest(t, 1000, 500)
	res, err := o.Process(context.Background(), req, nil)
	require.NoError(t, err)

	assert.Equal(t, ModeSingle, res.Mode)
	assert.Equal(t, int64(100), res.Artifact.SizeBytes)
	assert.Equal(t, "processed.ogg", filepath.Base(res.Artifact.Path))
	assert.False(t, res.Degraded)
	assert.Zero(t, res.PartCount)
	assert.Equal(t, 0, splitter.calls, "under-ceiling result must never split")
}

func TestProcess_SplitsWhenOverCeiling(t *testing.T) {
	prober := &fakeProber{durations: map[string]float64{"processed.ogg": 600}}
	transcoder := &fakeTranscoder{sizeFor: splitSizes}
	splitter := &fakeSplitter{}
	o := New(prober, transcoder, segment.NewPlanner(300, discardLogger()), splitter, &fakeMerger{}, discardLogger())

	// Compressed output is 100 bytes against a 30-byte ceiling: 4 parts.
	req := testRequest(t, 1000, 30)

	var (
		mu     sync.Mutex
		events []PartEvent
	)
	res, err := o.Process(context.Background(), req, func(e PartEvent) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})
	require.NoError(t, err)

	assert.Equal(t, ModeSplit, res.Mode)
	assert.Equal(t, 4, res.PartCount)
	assert.False(t, res.Degraded)
	assert.Equal(t, segment.ModeLosslessRepackage, splitter.lastMode)

	require.Len(t, res.Segments, 4)
	for i, r := range res.Segments {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, OutcomeTranscoded, r.Outcome)
		assert.Equal(t, fmt.Sprintf("part_%03d.ogg", i), filepath.Base(r.Artifact.Path))
	}

	require.Len(t, events, 4)
	for _, e := range events {
		assert.Equal(t, 4, e.OfTotal)
		assert.Equal(t, OutcomeTranscoded, e.Outcome)
	}
}

func TestProcess_TimeoutFallsBackToOriginal(t *testing.T) {
	prober := &fakeProber{}
	transcoder := &fakeTranscoder{
		failures: map[string]int{"upload.mp3": 1},
		failErr:  fmt.Errorf("%w after 1s", media.ErrTimedOut),
	}
	splitter := &fakeSplitter{}
	o := New(prober, transcoder, segment.NewPlanner(300, discardLogger()), splitter, &fakeMerger{}, discardLogger())

	req := testRequest(t, 1000, 500)
	res, err := o.Process(context.Background(), req, nil)
	require.NoError(t, err)

	assert.Equal(t, ModeFallback, res.Mode)
	assert.True(t, res.Degraded)
	assert.NotEmpty(t, res.Detail)
	assert.Equal(t, req.InputPath, res.Artifact.Path)
	assert.Equal(t, int64(1000), res.Artifact.SizeBytes)
	assert.Equal(t, 0, splitter.calls)
}

func TestProcess_SegmentRetryAtLowerBitrate(t *testing.T) {
	prober := &fakeProber{durations: map[string]float64{"processed.ogg": 600}}
	// part_001 fails once, then the lower-bitrate retry succeeds.
	transcoder := &fakeTranscoder{failures: map[string]int{"part_001.ogg": 1}, sizeFor: splitSizes}
	o := New(prober, transcoder, segment.NewPlanner(300, discardLogger()), &fakeSplitter{}, &fakeMerger{}, discardLogger())

	req := testRequest(t, 1000, 30)
	res, err := o.Process(context.Background(), req, nil)
	require.NoError(t, err)

	assert.Equal(t, ModeSplit, res.Mode)
	assert.False(t, res.Degraded)
	assert.Equal(t, OutcomeTranscoded, res.Segments[1].Outcome)
	assert.Equal(t, 2, transcoder.callCount("part_001.ogg"))
}

func TestProcess_SegmentFallsBackToOriginal(t *testing.T) {
	prober := &fakeProber{durations: map[string]float64{"processed.ogg": 600}}
	// part_001 fails both the first attempt and the retry.
	transcoder := &fakeTranscoder{failures: map[string]int{"part_001.ogg": 2}, sizeFor: splitSizes}
	o := New(prober, transcoder, segment.NewPlanner(300, discardLogger()), &fakeSplitter{}, &fakeMerger{}, discardLogger())

	req := testRequest(t, 1000, 30)
	res, err := o.Process(context.Background(), req, nil)
	require.NoError(t, err)

	assert.Equal(t, ModeSplit, res.Mode)
	assert.True(t, res.Degraded)
	assert.NotEmpty(t, res.Detail)
	assert.Equal(t, 4, res.PartCount, "one bad segment must not shrink the batch")

	failed := res.Segments[1]
	assert.Equal(t, OutcomeFallbackOriginal, failed.Outcome)
	assert.NotEmpty(t, failed.Error)
	assert.Equal(t, "part_001.ogg", filepath.Base(failed.Artifact.Path))
	assert.Contains(t, failed.Artifact.Path, "parts", "fallback is delivered from the parts directory")

	data, err := os.ReadFile(failed.Artifact.Path) // #nosec G304 - test-owned path
	require.NoError(t, err)
	assert.Equal(t, "segmentdata", string(data), "fallback carries the untranscoded segment")

	for _, i := range []int{0, 2, 3} {
		assert.Equal(t, OutcomeTranscoded, res.Segments[i].Outcome, "segment %d", i)
	}
}

func TestProcess_OverCeilingPartsAreFlagged(t *testing.T) {
	prober := &fakeProber{durations: map[string]float64{"processed.ogg": 600}}
	// Every re-encoded part still lands over the 30-byte ceiling.
	transcoder := &fakeTranscoder{sizeFor: func(input string) int64 {
		if filepath.Base(input) == "upload.mp3" {
			return 100
		}
		return 60
	}}
	o := New(prober, transcoder, segment.NewPlanner(300, discardLogger()), &fakeSplitter{}, &fakeMerger{}, discardLogger())

	req := testRequest(t, 1000, 30)
	res, err := o.Process(context.Background(), req, nil)
	require.NoError(t, err)

	assert.Equal(t, ModeSplit, res.Mode)
	assert.True(t, res.Degraded, "over-ceiling parts must never pass silently")
	assert.Contains(t, res.Detail, "exceed the size ceiling")
	for i, r := range res.Segments {
		assert.Equal(t, OutcomeTranscoded, r.Outcome, "segment %d", i)
	}
}

func TestProcess_SegmentBitrateNeverExceedsWholeFile(t *testing.T) {
	// A 35MB upload selects the low-bitrate profile; its much smaller
	// segments would select the high one on size alone.
	prober := &fakeProber{
		durations: map[string]float64{"processed.ogg": 600},
		sizes:     map[string]int64{"upload.mp3": 35 * 1024 * 1024},
	}
	transcoder := &fakeTranscoder{sizeFor: splitSizes}
	o := New(prober, transcoder, segment.NewPlanner(300, discardLogger()), &fakeSplitter{}, &fakeMerger{}, discardLogger())

	req := testRequest(t, 1000, 30)
	_, err := o.Process(context.Background(), req, nil)
	require.NoError(t, err)

	require.NotEmpty(t, transcoder.profiles)
	for i, p := range transcoder.profiles {
		assert.Equal(t, "16k", p.Bitrate, "call %d (%s)", i, transcoder.calls[i])
	}
}

func TestProcess_MergedMode(t *testing.T) {
	prober := &fakeProber{durations: map[string]float64{"processed.ogg": 600}}
	merger := &fakeMerger{}
	o := New(prober, &fakeTranscoder{sizeFor: splitSizes}, segment.NewPlanner(300, discardLogger()), &fakeSplitter{}, merger, discardLogger(),
		WithOutputMode(config.OutputMerged),
	)

	req := testRequest(t, 1000, 30)
	res, err := o.Process(context.Background(), req, nil)
	require.NoError(t, err)

	assert.Equal(t, ModeSplitMerged, res.Mode)
	assert.Equal(t, 4, res.PartCount)
	assert.Equal(t, "merged.ogg", filepath.Base(res.Artifact.Path))
	assert.False(t, res.Degraded)

	require.Len(t, merger.gotParts, 4)
	for i, p := range merger.gotParts {
		assert.Equal(t, fmt.Sprintf("part_%03d.ogg", i), filepath.Base(p), "merge input order")
	}
}

func TestProcess_MergeFailureDegradesToParts(t *testing.T) {
	prober := &fakeProber{durations: map[string]float64{"processed.ogg": 600}}
	merger := &fakeMerger{err: errors.New("concat failed")}
	o := New(prober, &fakeTranscoder{sizeFor: splitSizes}, segment.NewPlanner(300, discardLogger()), &fakeSplitter{}, merger, discardLogger(),
		WithOutputMode(config.OutputMerged),
	)

	req := testRequest(t, 1000, 30)
	res, err := o.Process(context.Background(), req, nil)
	require.NoError(t, err)

	assert.Equal(t, ModeSplit, res.Mode)
	assert.True(t, res.Degraded)
	assert.NotEmpty(t, res.Detail)
	assert.Equal(t, 4, res.PartCount)
}

func TestProcess_ByteSliceWhenDurationUnknown(t *testing.T) {
	// No duration fixture: the compressed artifact probes as 0.0 and the
	// pipeline falls back to raw byte slicing.
	prober := &fakeProber{}
	transcoder := &fakeTranscoder{}
	splitter := &fakeSplitter{}
	o := New(prober, transcoder, segment.NewPlanner(300, discardLogger()), splitter, &fakeMerger{}, discardLogger())

	req := testRequest(t, 1000, 30)
	res, err := o.Process(context.Background(), req, nil)
	require.NoError(t, err)

	assert.Equal(t, ModeSplit, res.Mode)
	assert.Equal(t, segment.ModeRawByteSlice, splitter.lastMode)
	require.NotEmpty(t, res.Segments)
	for _, r := range res.Segments {
		assert.Equal(t, OutcomeSkipped, r.Outcome)
	}
	assert.Equal(t, []string{"upload.mp3"}, transcoder.calls, "raw slices pass through untranscoded")
}

func TestProcess_ConcurrentSegmentsKeepIndexOrder(t *testing.T) {
	prober := &fakeProber{durations: map[string]float64{"processed.ogg": 600}}
	transcoder := &fakeTranscoder{sizeFor: splitSizes}
	o := New(prober, transcoder, segment.NewPlanner(300, discardLogger()), &fakeSplitter{}, &fakeMerger{}, discardLogger(),
		WithMaxConcurrentSegments(4),
	)

	// 100-byte compressed output over a 17-byte ceiling: 6 parts.
	req := testRequest(t, 1000, 17)

	var (
		mu     sync.Mutex
		events []PartEvent
	)
	res, err := o.Process(context.Background(), req, func(e PartEvent) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})
	require.NoError(t, err)

	assert.Equal(t, 6, res.PartCount)
	for i, r := range res.Segments {
		assert.Equal(t, i, r.Index, "reports must come back in index order")
		assert.Equal(t, fmt.Sprintf("part_%03d.ogg", i), filepath.Base(r.Artifact.Path))
	}
	assert.Len(t, events, 6)
}

func TestProcess_ForcedStrategy(t *testing.T) {
	prober := &fakeProber{durations: map[string]float64{"processed.ogg": 600}}
	splitter := &fakeSplitter{}
	o := New(prober, &fakeTranscoder{}, segment.NewPlanner(300, discardLogger()), splitter, &fakeMerger{}, discardLogger())

	req := testRequest(t, 1000, 30)
	req.Strategy = segment.StrategyByteSlice

	res, err := o.Process(context.Background(), req, nil)
	require.NoError(t, err)

	assert.Equal(t, segment.ModeRawByteSlice, splitter.lastMode)
	assert.Equal(t, ModeSplit, res.Mode)
}
