package handler

import (
	"net/http"
	"runtime"
	"time"

	"github.com/iconidentify/likevault/internal/catalog"
	"github.com/iconidentify/likevault/internal/poller"
)

// SyncStatus exposes synchronizer progress.
type SyncStatus interface {
	State() catalog.State
	Stats() catalog.Stats
}

// PollStatus exposes the scheduler.
type PollStatus interface {
	State() poller.State
	LastPoll() time.Time
	LastError() string
}

// BusyReporter reports whether an exclusive operation is running.
type BusyReporter interface {
	Busy() bool
}

// StatusDeps are the components summarized by GET /api/v1/status. Any
// field may be nil.
type StatusDeps struct {
	Sync     SyncStatus
	Poller   PollStatus
	Deleter  BusyReporter
	Exporter BusyReporter
	Session  interface{ Identity() string }
	Catalog  CatalogStore
}

// HealthHandler serves liveness and status.
type HealthHandler struct {
	deps    StatusDeps
	version string
	started time.Time
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(deps StatusDeps, version string) *HealthHandler {
	return &HealthHandler{deps: deps, version: version, started: time.Now()}
}

// HealthResponse is the JSON response for health checks.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Live handles GET /health.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Version:   h.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// StatusResponse summarizes the running service.
type StatusResponse struct {
	Version       string         `json:"version"`
	Uptime        string         `json:"uptime"`
	Goroutines    int            `json:"goroutines"`
	Identity      string         `json:"identity"`
	CatalogCount  int            `json:"catalogCount"`
	SyncState     catalog.State  `json:"syncState,omitempty"`
	SyncStats     *catalog.Stats `json:"syncStats,omitempty"`
	PollerState   poller.State   `json:"pollerState,omitempty"`
	LastPoll      *time.Time     `json:"lastPoll,omitempty"`
	LastPollError string         `json:"lastPollError,omitempty"`
	Deleting      bool           `json:"deleting"`
	Exporting     bool           `json:"exporting"`
}

// Status handles GET /api/v1/status.
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Version:    h.version,
		Uptime:     time.Since(h.started).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
	}

	d := h.deps
	if d.Session != nil {
		resp.Identity = d.Session.Identity()
	}
	if d.Catalog != nil {
		if c, err := d.Catalog.Load(r.Context()); err == nil {
			resp.CatalogCount = c.Len()
		}
	}
	if d.Sync != nil {
		stats := d.Sync.Stats()
		resp.SyncState = d.Sync.State()
		resp.SyncStats = &stats
	}
	if d.Poller != nil {
		resp.PollerState = d.Poller.State()
		resp.LastPollError = d.Poller.LastError()
		if last := d.Poller.LastPoll(); !last.IsZero() {
			resp.LastPoll = &last
		}
	}
	if d.Deleter != nil {
		resp.Deleting = d.Deleter.Busy()
	}
	if d.Exporter != nil {
		resp.Exporting = d.Exporter.Busy()
	}

	writeJSON(w, http.StatusOK, resp)
}
