package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"audiopress/internal/config"
	"audiopress/internal/media"
	"audiopress/internal/segment"
	"audiopress/internal/workspace"
)

// File names produced inside a workspace.
const (
	normalizedName = "processed.ogg"
	mergedName     = "merged.ogg"
	segmentsDir    = "segments"
	partsDir       = "parts"
)

// Request describes one pipeline run over an uploaded file.
type Request struct {
	// Workspace is the exclusive working directory for this run.
	Workspace *workspace.Workspace
	// InputPath is the uploaded file inside the workspace.
	InputPath string
	// CeilingBytes is the maximum size of a single deliverable artifact.
	CeilingBytes int64
	// Strategy optionally forces a segmentation strategy. Empty selects
	// automatically: duration-proportional when the duration is known,
	// raw byte slicing otherwise.
	Strategy segment.Strategy
}

// Orchestrator drives one upload through probe, whole-file compression,
// and, when the result still exceeds the ceiling, segmentation with
// per-segment transcoding and optional re-merging.
type Orchestrator struct {
	prober     media.Prober
	transcoder media.Transcoder
	planner    *segment.Planner
	splitter   segment.Splitter
	merger     segment.Merger
	logger     *slog.Logger

	outputMode       string
	transcodeTimeout time.Duration
	maxConcurrent    int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithOutputMode selects between config.OutputParts (default) and
// config.OutputMerged for over-ceiling results.
func WithOutputMode(mode string) Option {
	return func(o *Orchestrator) {
		if mode != "" {
			o.outputMode = mode
		}
	}
}

// WithTranscodeTimeout bounds each external transcode invocation.
func WithTranscodeTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.transcodeTimeout = d
		}
	}
}

// WithMaxConcurrentSegments bounds parallel segment transcoding. The
// default of 1 keeps segment work sequential.
func WithMaxConcurrentSegments(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxConcurrent = n
		}
	}
}

// New creates an Orchestrator.
func New(prober media.Prober, transcoder media.Transcoder, planner *segment.Planner, splitter segment.Splitter, merger segment.Merger, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		prober:           prober,
		transcoder:       transcoder,
		planner:          planner,
		splitter:         splitter,
		merger:           merger,
		logger:           logger,
		outputMode:       config.OutputParts,
		transcodeTimeout: 120 * time.Second,
		maxConcurrent:    1,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Process runs the pipeline for one request. onPart, when non-nil, is
// invoked as each part becomes available (completion order). A returned
// error is unrecoverable; degraded outcomes are reported in the Result
// instead.
func (o *Orchestrator) Process(ctx context.Context, req Request, onPart func(PartEvent)) (*Result, error) {
	start := time.Now()

	input, err := o.prober.Probe(ctx, req.InputPath)
	if err != nil {
		return nil, fmt.Errorf("probe upload: %w", err)
	}

	o.logger.Info("processing upload",
		slog.String("workspace_id", req.Workspace.ID),
		slog.Int64("size_bytes", input.SizeBytes),
		slog.Int64("ceiling_bytes", req.CeilingBytes),
	)

	// Whole-file normalization/compression, bounded by the time budget.
	normalized := req.Workspace.Path(normalizedName)
	profile := media.ProfileFor(input.SizeBytes)
	if err := o.transcoder.Transcode(ctx, req.InputPath, normalized, profile, o.transcodeTimeout); err != nil {
		if errors.Is(err, media.ErrTimedOut) {
			// Degrade to the unmodified original rather than failing the
			// request; the caller is told the ceiling is not honored.
			o.logger.Warn("whole-file compression timed out, returning original",
				slog.String("workspace_id", req.Workspace.ID),
			)
			return &Result{
				Mode:     ModeFallback,
				Artifact: input,
				Degraded: true,
				Detail:   fmt.Sprintf("compression timed out after %s", o.transcodeTimeout),
				Elapsed:  time.Since(start),
			}, nil
		}
		return nil, fmt.Errorf("compress upload: %w", err)
	}

	compressed, err := o.prober.Probe(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("probe compressed output: %w", err)
	}

	if compressed.SizeBytes <= req.CeilingBytes {
		return &Result{
			Mode:     ModeSingle,
			Artifact: compressed,
			Elapsed:  time.Since(start),
		}, nil
	}

	return o.split(ctx, req, compressed, profile, start, onPart)
}

// split handles the over-ceiling path: plan, split, per-segment
// transcode, and optional merge. baseProfile is the profile of the
// whole-file pass; segment transcodes never exceed it.
func (o *Orchestrator) split(ctx context.Context, req Request, src media.Artifact, baseProfile media.Profile, start time.Time, onPart func(PartEvent)) (*Result, error) {
	strategy := req.Strategy
	if strategy == "" {
		if src.DurationSeconds > 0 {
			strategy = segment.StrategyDurationProportional
		} else {
			strategy = segment.StrategyByteSlice
		}
	}

	plan := o.planner.Plan(src.DurationSeconds, src.SizeBytes, req.CeilingBytes, strategy)

	mode := segment.ModeLosslessRepackage
	splitDir := req.Workspace.Path(segmentsDir)
	if strategy == segment.StrategyByteSlice {
		mode = segment.ModeRawByteSlice
		splitDir = req.Workspace.Path(partsDir)
	}

	o.logger.Info("splitting",
		slog.String("workspace_id", req.Workspace.ID),
		slog.String("strategy", string(strategy)),
		slog.Int("parts", plan.Count()),
		slog.Int("segment_seconds", plan.SegmentSeconds),
		slog.Bool("degenerate", plan.Degenerate),
	)

	rawParts, err := o.splitter.Split(ctx, src.Path, splitDir, plan, mode)
	if err != nil {
		return nil, fmt.Errorf("split: %w", err)
	}

	var reports []SegmentReport
	if mode == segment.ModeRawByteSlice {
		// Raw slices are not guaranteed decodable; they pass through
		// without per-segment transcoding.
		reports, err = o.passThrough(ctx, rawParts, onPart)
	} else {
		reports, err = o.transcodeSegments(ctx, req, baseProfile, rawParts, onPart)
	}
	if err != nil {
		return nil, err
	}

	result := &Result{
		Mode:      ModeSplit,
		Segments:  reports,
		PartCount: len(reports),
		Elapsed:   time.Since(start),
	}
	for _, r := range reports {
		if r.Outcome == OutcomeFallbackOriginal {
			result.Degraded = true
			result.Detail = "one or more segments could not be re-encoded"
			break
		}
	}

	// A part can still land over the ceiling (variable content bitrate,
	// fallback originals). The caller must never get a clean result that
	// silently violates the size bound.
	over := 0
	for _, r := range reports {
		if r.Artifact.SizeBytes > req.CeilingBytes {
			over++
		}
	}
	if over > 0 {
		result.Degraded = true
		result.Detail = fmt.Sprintf("%d of %d parts exceed the size ceiling", over, len(reports))
	}

	if o.outputMode == config.OutputMerged && mode == segment.ModeLosslessRepackage {
		o.mergeResult(ctx, req, result)
	}

	result.Elapsed = time.Since(start)
	return result, nil
}

// passThrough probes raw parts and reports them unchanged.
func (o *Orchestrator) passThrough(ctx context.Context, parts []string, onPart func(PartEvent)) ([]SegmentReport, error) {
	reports := make([]SegmentReport, len(parts))
	for i, p := range parts {
		art, err := o.prober.Probe(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("probe part %d: %w", i, err)
		}
		reports[i] = SegmentReport{Index: i, Artifact: art, Outcome: OutcomeSkipped}
		if onPart != nil {
			onPart(PartEvent{Index: i, Path: p, Outcome: OutcomeSkipped, OfTotal: len(parts)})
		}
	}
	return reports, nil
}

// transcodeSegments re-encodes each raw segment independently, bounded by
// the worker limit. A per-segment failure is retried once at the next
// bitrate down, then the untranscoded segment is substituted so the batch
// keeps moving. Reports come back in index order regardless of completion
// order.
func (o *Orchestrator) transcodeSegments(ctx context.Context, req Request, baseProfile media.Profile, rawParts []string, onPart func(PartEvent)) ([]SegmentReport, error) {
	outDir := req.Workspace.Path(partsDir)
	if err := os.MkdirAll(outDir, 0750); err != nil {
		return nil, fmt.Errorf("create parts directory: %w", err)
	}

	reports := make([]SegmentReport, len(rawParts))
	sem := make(chan struct{}, o.maxConcurrent)
	var (
		wg       sync.WaitGroup
		emitMu   sync.Mutex
		probeErr error
		errOnce  sync.Once
	)

	for i, raw := range rawParts {
		wg.Add(1)
		go func(idx int, rawPath string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			report := o.transcodeOne(ctx, idx, rawPath, outDir, baseProfile)

			art, err := o.prober.Probe(ctx, report.pathOut)
			if err != nil {
				errOnce.Do(func() { probeErr = fmt.Errorf("probe part %d: %w", idx, err) })
				return
			}
			reports[idx] = SegmentReport{
				Index:    idx,
				Artifact: art,
				Outcome:  report.outcome,
				Error:    report.errText,
			}

			if onPart != nil {
				emitMu.Lock()
				onPart(PartEvent{Index: idx, Path: art.Path, Outcome: report.outcome, OfTotal: len(rawParts)})
				emitMu.Unlock()
			}
		}(i, raw)
	}
	wg.Wait()

	if probeErr != nil {
		return nil, probeErr
	}
	return reports, nil
}

// segmentAttempt is the internal outcome of transcoding one segment.
type segmentAttempt struct {
	pathOut string
	outcome SegmentOutcome
	errText string
}

// transcodeOne encodes one segment, retrying once at a lower bitrate
// before substituting the untranscoded original.
func (o *Orchestrator) transcodeOne(ctx context.Context, idx int, rawPath, outDir string, baseProfile media.Profile) segmentAttempt {
	outPath := filepath.Join(outDir, fmt.Sprintf("part_%03d.ogg", idx))

	art, err := o.prober.Probe(ctx, rawPath)
	if err != nil {
		return segmentAttempt{pathOut: rawPath, outcome: OutcomeFallbackOriginal, errText: err.Error()}
	}

	profile := media.ProfileFor(art.SizeBytes).Cap(baseProfile)
	err = o.transcoder.Transcode(ctx, rawPath, outPath, profile, o.transcodeTimeout)
	if err == nil {
		return segmentAttempt{pathOut: outPath, outcome: OutcomeTranscoded}
	}

	o.logger.Warn("segment transcode failed",
		slog.Int("part", idx),
		slog.String("error", err.Error()),
	)

	if lower, ok := profile.Lower(); ok {
		retryErr := o.transcoder.Transcode(ctx, rawPath, outPath, lower, o.transcodeTimeout)
		if retryErr == nil {
			return segmentAttempt{pathOut: outPath, outcome: OutcomeTranscoded}
		}
		err = retryErr
	}

	// Substitute the untranscoded segment and keep the batch moving. It is
	// copied next to the transcoded parts so the parts directory lists the
	// complete set.
	if copyErr := copyFile(rawPath, outPath); copyErr != nil {
		o.logger.Warn("copy fallback segment failed",
			slog.Int("part", idx),
			slog.String("error", copyErr.Error()),
		)
		return segmentAttempt{pathOut: rawPath, outcome: OutcomeFallbackOriginal, errText: err.Error()}
	}
	return segmentAttempt{pathOut: outPath, outcome: OutcomeFallbackOriginal, errText: err.Error()}
}

// copyFile copies src to dst, removing a partial dst on failure.
func copyFile(src, dst string) error {
	in, err := os.Open(src) // #nosec G304 - path is produced by the pipeline
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst) // #nosec G304 - path is produced by the pipeline
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return nil
}

// mergeResult concatenates the transcoded (or fallback) parts into one
// artifact. A merge failure degrades to the parts result rather than
// failing the run.
func (o *Orchestrator) mergeResult(ctx context.Context, req Request, result *Result) {
	parts := make([]string, len(result.Segments))
	for i, r := range result.Segments {
		parts[i] = r.Artifact.Path
	}

	mergedPath := req.Workspace.Path(mergedName)
	if err := o.merger.Merge(ctx, parts, mergedPath); err != nil {
		o.logger.Error("merge failed, returning parts instead",
			slog.String("workspace_id", req.Workspace.ID),
			slog.String("error", err.Error()),
		)
		result.Degraded = true
		result.Detail = "merge failed; parts returned individually"
		return
	}

	merged, err := o.prober.Probe(ctx, mergedPath)
	if err != nil {
		o.logger.Error("probe merged artifact failed",
			slog.String("error", err.Error()),
		)
		result.Degraded = true
		result.Detail = "merge failed; parts returned individually"
		return
	}

	result.Mode = ModeSplitMerged
	result.Artifact = merged
}
