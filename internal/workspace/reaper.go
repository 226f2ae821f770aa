package workspace

import (
	"log/slog"
	"sync"
	"time"
)

// Reaper schedules workspace deletion after a retention delay. Unlike a
// detached sleep-and-delete goroutine, every pending deletion is keyed by
// workspace ID and can be rescheduled or cancelled while it is pending.
// Deletion never blocks the request path and tolerates the directory
// already being gone.
type Reaper struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	logger *slog.Logger
}

// NewReaper creates a Reaper.
func NewReaper(logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		timers: make(map[string]*time.Timer),
		logger: logger,
	}
}

// Schedule arranges for ws to be deleted after delay. Scheduling a
// workspace that already has a pending deletion replaces the old timer.
func (r *Reaper) Schedule(ws *Workspace, delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.timers[ws.ID]; ok {
		t.Stop()
	}

	r.timers[ws.ID] = time.AfterFunc(delay, func() {
		r.reap(ws)
	})
}

// Cancel stops a pending deletion. It returns false when no deletion was
// pending (never scheduled, already fired, or already cancelled).
func (r *Reaper) Cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.timers[id]
	if !ok {
		return false
	}
	delete(r.timers, id)
	return t.Stop()
}

// Pending returns the number of deletions currently scheduled.
func (r *Reaper) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// Stop cancels every pending deletion. Used on shutdown; the workspaces
// themselves are left on disk.
func (r *Reaper) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
}

// reap performs the actual deletion when a timer fires.
func (r *Reaper) reap(ws *Workspace) {
	r.mu.Lock()
	delete(r.timers, ws.ID)
	r.mu.Unlock()

	if err := ws.Remove(); err != nil {
		r.logger.Error("workspace deletion failed",
			slog.String("workspace_id", ws.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	r.logger.Info("workspace deleted",
		slog.String("workspace_id", ws.ID),
	)
}
