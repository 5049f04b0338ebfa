package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/iconidentify/likevault/internal/poller"
)

// PollControl is the scheduling surface of the sync poller.
type PollControl interface {
	State() poller.State
	Pause()
	Resume()
	CheckNow()
	Activity() *poller.ActivityLog
}

// SyncHandler controls background polling.
type SyncHandler struct {
	poller PollControl
	logger *slog.Logger
}

// NewSyncHandler creates a SyncHandler.
func NewSyncHandler(p PollControl, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{poller: p, logger: logger}
}

// PollerStateResponse reports the poller state after a control request.
type PollerStateResponse struct {
	State poller.State `json:"state"`
}

// Pause handles POST /api/v1/sync/pause.
func (h *SyncHandler) Pause(w http.ResponseWriter, r *http.Request) {
	if !h.requireRunning(w) {
		return
	}
	h.poller.Pause()
	writeJSON(w, http.StatusOK, PollerStateResponse{State: h.poller.State()})
}

// Resume handles POST /api/v1/sync/resume.
func (h *SyncHandler) Resume(w http.ResponseWriter, r *http.Request) {
	if !h.requireRunning(w) {
		return
	}
	h.poller.Resume()
	writeJSON(w, http.StatusOK, PollerStateResponse{State: h.poller.State()})
}

// Check handles POST /api/v1/sync/check by queueing an immediate pass.
// The pass runs in the background, including while paused.
func (h *SyncHandler) Check(w http.ResponseWriter, r *http.Request) {
	if !h.requireRunning(w) {
		return
	}
	h.poller.CheckNow()
	writeJSON(w, http.StatusAccepted, PollerStateResponse{State: h.poller.State()})
}

// ActivityResponse lists recent poller activity, newest first.
type ActivityResponse struct {
	Events []poller.ActivityEvent `json:"events"`
}

// Activity handles GET /api/v1/sync/activity.
func (h *SyncHandler) Activity(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = l
	}

	events, err := h.poller.Activity().GetRecent(limit)
	if err != nil {
		h.logger.Error("failed to read sync activity", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read sync activity")
		return
	}
	if events == nil {
		events = []poller.ActivityEvent{}
	}
	writeJSON(w, http.StatusOK, ActivityResponse{Events: events})
}

func (h *SyncHandler) requireRunning(w http.ResponseWriter) bool {
	if h.poller.State() == poller.StateIdle {
		writeError(w, http.StatusConflict, "sync poller is not running")
		return false
	}
	return true
}
