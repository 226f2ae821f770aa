package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"audiopress/internal/config"
	"audiopress/internal/metrics"
	"audiopress/internal/pipeline"
	"audiopress/internal/segment"
	"audiopress/internal/storage"
	"audiopress/internal/workspace"
)

// maxUploadMemory bounds how much of a multipart upload is buffered in
// memory before spilling to disk.
const maxUploadMemory = 32 << 20

// errBadUpload marks client-side upload problems (bad multipart body,
// missing file field) so they surface as 400 rather than 500.
var errBadUpload = errors.New("bad upload")

// Handlers contains the HTTP handlers for the service.
type Handlers struct {
	cfg          *config.Config
	orchestrator *pipeline.Orchestrator
	store        storage.Storage
	reaper       *workspace.Reaper
	metrics      *metrics.Metrics
	validator    *validator.Validate
	logger       *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(cfg *config.Config, orchestrator *pipeline.Orchestrator, store storage.Storage, reaper *workspace.Reaper, m *metrics.Metrics, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		cfg:          cfg,
		orchestrator: orchestrator,
		store:        store,
		reaper:       reaper,
		metrics:      m,
		validator:    validator.New(),
		logger:       logger,
	}
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{OK: true})
}

// Process handles POST /process requests: accept the upload, run the
// pipeline, and answer with the artifact URL(s).
func (h *Handlers) Process(w http.ResponseWriter, r *http.Request) {
	q, err := h.parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ws, inputPath, err := h.acceptUpload(r)
	if err != nil {
		h.logger.Error("upload failed",
			slog.String("error", err.Error()),
		)
		status := http.StatusInternalServerError
		if errors.Is(err, errBadUpload) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}

	result, err := h.orchestrator.Process(r.Context(), pipeline.Request{
		Workspace:    ws,
		InputPath:    inputPath,
		CeilingBytes: int64(q.MaxMB) * 1024 * 1024,
		Strategy:     segment.Strategy(q.Strategy),
	}, nil)
	if err != nil {
		h.failWorkspace(ws)
		h.logger.Error("pipeline failed",
			slog.String("workspace_id", ws.ID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp, err := h.buildResponse(r.Context(), ws, result)
	if err != nil {
		h.failWorkspace(ws)
		h.logger.Error("resolve artifact URLs failed",
			slog.String("workspace_id", ws.ID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.finishWorkspace(ws, result)
	writeJSON(w, http.StatusOK, resp)
}

// ProcessStream handles POST /process_stream requests. It emits one
// server-sent event per completed part and a terminating summary event.
func (h *Handlers) ProcessStream(w http.ResponseWriter, r *http.Request) {
	q, err := h.parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ws, inputPath, err := h.acceptUpload(r)
	if err != nil {
		h.logger.Error("upload failed",
			slog.String("error", err.Error()),
		)
		status := http.StatusInternalServerError
		if errors.Is(err, errBadUpload) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	onPart := func(ev pipeline.PartEvent) {
		url, urlErr := h.store.URLFor(r.Context(), ev.Path)
		if urlErr != nil {
			h.logger.Error("resolve part URL failed",
				slog.Int("part", ev.Index),
				slog.String("error", urlErr.Error()),
			)
			return
		}
		idx := ev.Index
		writeEvent(w, flusher, StreamEvent{
			Part:   &idx,
			URL:    url,
			Status: string(ev.Outcome),
		})
	}

	result, err := h.orchestrator.Process(r.Context(), pipeline.Request{
		Workspace:    ws,
		InputPath:    inputPath,
		CeilingBytes: int64(q.MaxMB) * 1024 * 1024,
		Strategy:     segment.Strategy(q.Strategy),
	}, onPart)
	if err != nil {
		h.failWorkspace(ws)
		h.logger.Error("pipeline failed",
			slog.String("workspace_id", ws.ID),
			slog.String("error", err.Error()),
		)
		writeEvent(w, flusher, StreamEvent{Done: true, Detail: err.Error()})
		return
	}

	final := StreamEvent{
		Done:              true,
		Mode:              string(result.Mode),
		PartsCount:        result.PartCount,
		ProcessingTimeSec: roundSec(result.Elapsed),
		Detail:            result.Detail,
	}
	if result.Artifact.Path != "" {
		if url, urlErr := h.store.URLFor(r.Context(), result.Artifact.Path); urlErr == nil {
			final.URL = url
		}
	}

	h.finishWorkspace(ws, result)
	writeEvent(w, flusher, final)
}

// Files handles GET /files/{path...}: serve a produced artifact, or list
// a directory as public URLs.
func (h *Handlers) Files(w http.ResponseWriter, r *http.Request) {
	rel := r.PathValue("path")
	if rel == "" || !filepath.IsLocal(filepath.FromSlash(rel)) {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}

	full := filepath.Join(h.store.Root(), filepath.FromSlash(rel))
	info, err := os.Stat(full)
	if err != nil {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}

	if info.IsDir() {
		entries, err := os.ReadDir(full)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		base := strings.TrimRight(h.cfg.BaseURL, "/")
		urls := make([]string, 0, len(entries))
		for _, e := range entries {
			urls = append(urls, base+"/files/"+rel+"/"+e.Name())
		}
		sort.Strings(urls)

		writeJSON(w, http.StatusOK, FolderResponse{Folder: rel, Files: urls})
		return
	}

	http.ServeFile(w, r, full)
}

// parseQuery validates the shared query parameters of the processing
// endpoints.
func (h *Handlers) parseQuery(r *http.Request) (ProcessQuery, error) {
	q := ProcessQuery{MaxMB: h.cfg.MaxMB}

	if raw := r.URL.Query().Get("max_mb"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return q, errors.New("max_mb must be an integer")
		}
		q.MaxMB = n
	}
	q.Strategy = r.URL.Query().Get("strategy")

	if err := h.validator.Struct(q); err != nil {
		return q, err
	}
	return q, nil
}

// acceptUpload creates a workspace and stores the multipart upload in it.
func (h *Handlers) acceptUpload(r *http.Request) (*workspace.Workspace, string, error) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		return nil, "", fmt.Errorf("%w: parse multipart form: %w", errBadUpload, err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", fmt.Errorf("%w: missing field %q: %w", errBadUpload, "file", err)
	}
	defer func() { _ = file.Close() }()

	ws, err := workspace.New(h.store.Root())
	if err != nil {
		return nil, "", err
	}

	inputPath := ws.Path(sanitizeFilename(header.Filename))
	if _, err := h.store.SaveUpload(r.Context(), inputPath, file); err != nil {
		h.failWorkspace(ws)
		return nil, "", err
	}

	return ws, inputPath, nil
}

// buildResponse resolves artifact URLs for a pipeline result.
func (h *Handlers) buildResponse(ctx context.Context, ws *workspace.Workspace, result *pipeline.Result) (ProcessResponse, error) {
	resp := ProcessResponse{
		OK:                result.Mode != pipeline.ModeFallback,
		Mode:              string(result.Mode),
		Detail:            result.Detail,
		ProcessingTimeSec: roundSec(result.Elapsed),
	}

	switch result.Mode {
	case pipeline.ModeSingle:
		url, err := h.store.URLFor(ctx, result.Artifact.Path)
		if err != nil {
			return resp, err
		}
		resp.URL = url
		resp.SizeBytes = result.Artifact.SizeBytes
		resp.SizeHuman = humanSize(result.Artifact.SizeBytes)

	case pipeline.ModeFallback:
		url, err := h.store.URLFor(ctx, result.Artifact.Path)
		if err != nil {
			return resp, err
		}
		resp.FallbackURL = url
		resp.SizeBytes = result.Artifact.SizeBytes
		resp.SizeHuman = humanSize(result.Artifact.SizeBytes)

	case pipeline.ModeSplitMerged:
		url, err := h.store.URLFor(ctx, result.Artifact.Path)
		if err != nil {
			return resp, err
		}
		resp.FinalURL = url
		resp.Count = result.PartCount
		resp.SizeBytes = result.Artifact.SizeBytes
		resp.SizeHuman = humanSize(result.Artifact.SizeBytes)

	case pipeline.ModeSplit:
		for _, seg := range result.Segments {
			url, err := h.store.URLFor(ctx, seg.Artifact.Path)
			if err != nil {
				return resp, err
			}
			resp.Parts = append(resp.Parts, PartInfo{
				Part:      seg.Index,
				URL:       url,
				SizeBytes: seg.Artifact.SizeBytes,
				Status:    string(seg.Outcome),
			})
		}
		resp.Count = result.PartCount

		folderURL, err := h.store.URLFor(ctx, ws.Path("parts"))
		if err == nil {
			resp.FolderURL = folderURL
		}
	}

	return resp, nil
}

// finishWorkspace schedules retention-delay deletion and records metrics
// for a completed run.
func (h *Handlers) finishWorkspace(ws *workspace.Workspace, result *pipeline.Result) {
	h.reaper.Schedule(ws, time.Duration(h.cfg.RetentionSec)*time.Second)

	if h.metrics != nil {
		h.metrics.IncProcessed(string(result.Mode))
		if result.Degraded {
			h.metrics.IncFallbacks()
		}
		h.metrics.ObserveProcessing(result.Elapsed.Seconds())
	}
}

// failWorkspace schedules the short grace-delay deletion used on failure
// paths, so repeatedly failing uploads cannot leak space.
func (h *Handlers) failWorkspace(ws *workspace.Workspace) {
	h.reaper.Schedule(ws, time.Duration(h.cfg.FailureGraceSec)*time.Second)
}

// sanitizeFilename reduces a client-supplied filename to a safe base name.
func sanitizeFilename(name string) string {
	name = filepath.Base(filepath.Clean(strings.ReplaceAll(name, "\\", "/")))
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		return "upload.bin"
	}
	return name
}

// roundSec converts a duration to seconds with two decimals.
func roundSec(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}

// writeEvent writes one server-sent event and flushes it to the client.
func writeEvent(w http.ResponseWriter, flusher http.Flusher, ev StreamEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("failed to encode stream event", slog.String("error", err.Error()))
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, ErrorResponse{Detail: detail})
}
