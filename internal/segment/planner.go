// Package segment plans and executes size-bounded splits of audio files,
// and merges ordered segments back into a single artifact.
package segment

import (
	"log/slog"
	"math"
)

// Strategy selects how a source file is partitioned.
type Strategy string

const (
	// StrategyDurationProportional derives the part count from the ratio
	// of file size to ceiling and splits the duration evenly. Preferred
	// whenever the duration is known: it gives the tightest size bound.
	StrategyDurationProportional Strategy = "duration"
	// StrategyFixedWindow cuts constant-length time windows regardless of
	// measured size. Simpler, but the last part may land far under the
	// ceiling and a non-final part may exceed it when the content bitrate
	// varies.
	StrategyFixedWindow Strategy = "fixed"
	// StrategyByteSlice partitions the raw bytes into ceiling-sized
	// chunks. Byte-exact, but the resulting parts are not guaranteed to
	// be independently decodable media files. Fast but fragile; never the
	// default.
	StrategyByteSlice Strategy = "bytes"
)

// TimeWindow is one (start, duration) slice of the source, in seconds.
type TimeWindow struct {
	Start    float64
	Duration float64
}

// ByteWindow is one (offset, length) slice of the source file's bytes.
type ByteWindow struct {
	Offset int64
	Length int64
}

// Plan is an ordered partition of a source artifact. Exactly one of
// TimeWindows or ByteWindows is populated, depending on the strategy.
// Windows cover the source with no gaps and no overlaps, in index order.
type Plan struct {
	Strategy       Strategy
	SegmentSeconds int
	TimeWindows    []TimeWindow
	ByteWindows    []ByteWindow
	// Degenerate is set when the duration probe returned zero and the
	// planner substituted a 1-second floor. The plan will not crash the
	// splitter but carries no size guarantee.
	Degenerate bool
}

// Count returns the number of windows in the plan.
func (p Plan) Count() int {
	if p.Strategy == StrategyByteSlice {
		return len(p.ByteWindows)
	}
	return len(p.TimeWindows)
}

// Planner computes segmentation plans. It is only invoked for artifacts
// that already exceeded the size ceiling, so every plan has at least two
// windows.
type Planner struct {
	windowSec int
	logger    *slog.Logger
}

// NewPlanner creates a Planner. windowSec is the constant window length
// used by the fixed-window strategy; values <= 0 fall back to 300.
func NewPlanner(windowSec int, logger *slog.Logger) *Planner {
	if windowSec <= 0 {
		windowSec = 300
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{windowSec: windowSec, logger: logger}
}

// Plan computes a partition of a source with the given measured duration
// and size against the ceiling, using the requested strategy.
func (p *Planner) Plan(durationSeconds float64, sizeBytes, ceilingBytes int64, strategy Strategy) Plan {
	switch strategy {
	case StrategyByteSlice:
		return p.planBytes(sizeBytes, ceilingBytes)
	case StrategyFixedWindow:
		return p.planFixed(durationSeconds)
	default:
		return p.planProportional(durationSeconds, sizeBytes, ceilingBytes)
	}
}

// planProportional implements the duration-proportional strategy:
// parts = max(2, ceil(size/ceiling)), segmentSeconds = ceil(duration/parts).
func (p *Planner) planProportional(durationSeconds float64, sizeBytes, ceilingBytes int64) Plan {
	plan := Plan{Strategy: StrategyDurationProportional}

	durationSeconds, plan.Degenerate = floorDuration(durationSeconds)
	if plan.Degenerate {
		p.logger.Warn("duration unknown, planning with 1s floor",
			slog.Int64("size_bytes", sizeBytes),
		)
	}

	parts := int(math.Ceil(float64(sizeBytes) / float64(ceilingBytes)))
	if parts < 2 {
		parts = 2
	}

	segSec := int(math.Ceil(durationSeconds / float64(parts)))
	if segSec < 1 {
		segSec = 1
	}
	plan.SegmentSeconds = segSec
	plan.TimeWindows = timeWindows(durationSeconds, float64(segSec))

	return plan
}

// planFixed implements the fixed-window strategy with the configured
// constant window length.
func (p *Planner) planFixed(durationSeconds float64) Plan {
	plan := Plan{Strategy: StrategyFixedWindow, SegmentSeconds: p.windowSec}

	durationSeconds, plan.Degenerate = floorDuration(durationSeconds)
	if plan.Degenerate {
		p.logger.Warn("duration unknown, planning with 1s floor")
	}

	plan.TimeWindows = timeWindows(durationSeconds, float64(p.windowSec))
	return plan
}

// planBytes implements the raw byte-slice strategy.
func (p *Planner) planBytes(sizeBytes, ceilingBytes int64) Plan {
	plan := Plan{Strategy: StrategyByteSlice}

	if ceilingBytes <= 0 || sizeBytes <= 0 {
		// Nothing sensible to slice; emit two halves of whatever exists.
		half := sizeBytes / 2
		plan.ByteWindows = []ByteWindow{
			{Offset: 0, Length: half},
			{Offset: half, Length: sizeBytes - half},
		}
		plan.Degenerate = true
		return plan
	}

	for off := int64(0); off < sizeBytes; off += ceilingBytes {
		length := ceilingBytes
		if off+length > sizeBytes {
			length = sizeBytes - off
		}
		plan.ByteWindows = append(plan.ByteWindows, ByteWindow{Offset: off, Length: length})
	}

	// The planner is only invoked for over-ceiling inputs; keep the
	// two-part guarantee even when the arithmetic yields one window.
	if len(plan.ByteWindows) < 2 {
		half := sizeBytes / 2
		plan.ByteWindows = []ByteWindow{
			{Offset: 0, Length: half},
			{Offset: half, Length: sizeBytes - half},
		}
	}

	return plan
}

// floorDuration substitutes a 1-second floor for unknown durations so the
// arithmetic cannot divide by zero.
func floorDuration(d float64) (out float64, degenerate bool) {
	if d <= 0 {
		return 1.0, true
	}
	return d, false
}

// timeWindows covers [0, duration) with consecutive windows of segSec
// seconds, the last one truncated to the remainder. At least two windows
// are always produced.
func timeWindows(duration, segSec float64) []TimeWindow {
	var windows []TimeWindow
	for start := 0.0; start < duration; start += segSec {
		length := segSec
		if start+length > duration {
			length = duration - start
		}
		windows = append(windows, TimeWindow{Start: start, Duration: length})
	}

	if len(windows) < 2 {
		half := duration / 2
		windows = []TimeWindow{
			{Start: 0, Duration: half},
			{Start: half, Duration: duration - half},
		}
	}

	return windows
}
