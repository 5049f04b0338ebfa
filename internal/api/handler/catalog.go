package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/iconidentify/likevault/internal/catalog"
	"github.com/iconidentify/likevault/internal/domain"
)

// CatalogStore reads the persisted catalog.
type CatalogStore interface {
	Load(ctx context.Context) (*domain.Catalog, error)
}

// Syncer runs synchronization passes on demand.
type Syncer interface {
	Synchronize(ctx context.Context) catalog.SyncResult
}

// ObservedRecorder adds media seen in live traffic.
type ObservedRecorder interface {
	AddObserved(ctx context.Context, rawURL string) (domain.CatalogItem, bool, error)
}

// Session holds the remote session cookies.
type Session interface {
	SetCookies(header string)
	Identity() string
}

// CatalogHandler serves the catalog and the inputs that feed it.
type CatalogHandler struct {
	store    CatalogStore
	syncer   Syncer
	observer ObservedRecorder
	session  Session
	logger   *slog.Logger
}

// NewCatalogHandler creates a CatalogHandler.
func NewCatalogHandler(store CatalogStore, syncer Syncer, observer ObservedRecorder, session Session, logger *slog.Logger) *CatalogHandler {
	return &CatalogHandler{
		store:    store,
		syncer:   syncer,
		observer: observer,
		session:  session,
		logger:   logger,
	}
}

// CatalogResponse is the persisted catalog as served to clients.
type CatalogResponse struct {
	Items     []domain.CatalogItem `json:"items"`
	Count     int                  `json:"count"`
	UpdatedAt time.Time            `json:"updatedAt"`
}

// List handles GET /api/v1/catalog.
// The optional deletable=true query restricts the list to items with a post id.
func (h *CatalogHandler) List(w http.ResponseWriter, r *http.Request) {
	current, err := h.store.Load(r.Context())
	if err != nil {
		h.logger.Error("failed to load catalog", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load catalog")
		return
	}

	items := current.Snapshot()
	if r.URL.Query().Get("deletable") == "true" {
		kept := items[:0]
		for _, item := range items {
			if item.Deletable() {
				kept = append(kept, item)
			}
		}
		items = kept
	}
	if items == nil {
		items = []domain.CatalogItem{}
	}

	writeJSON(w, http.StatusOK, CatalogResponse{
		Items:     items,
		Count:     len(items),
		UpdatedAt: current.UpdatedAt,
	})
}

// RefreshResponse reports the outcome of a requested pass.
type RefreshResponse struct {
	catalog.SyncResult
	Error string `json:"error,omitempty"`
}

// Refresh handles POST /api/v1/refresh by running a pass and waiting for it.
// A pass already in flight yields skipped=true.
func (h *CatalogHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	result := h.syncer.Synchronize(r.Context())

	resp := RefreshResponse{SyncResult: result}
	if result.Err != nil {
		resp.Error = result.Err.Error()
		writeJSON(w, http.StatusBadGateway, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ObservedRequest carries a media URL seen by the extension.
type ObservedRequest struct {
	URL string `json:"url"`
}

// ObservedResponse reports the stored item.
type ObservedResponse struct {
	Item   domain.CatalogItem `json:"item"`
	Stored bool               `json:"stored"`
}

// Observed handles POST /api/v1/observed.
func (h *CatalogHandler) Observed(w http.ResponseWriter, r *http.Request) {
	var req ObservedRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	item, stored, err := h.observer.AddObserved(r.Context(), req.URL)
	if err != nil {
		h.logger.Error("failed to record observed media", "url", req.URL, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to record observed media")
		return
	}
	if !stored {
		writeError(w, http.StatusUnprocessableEntity, "url is not playable media")
		return
	}
	writeJSON(w, http.StatusOK, ObservedResponse{Item: item, Stored: true})
}

// SessionRequest carries the Cookie header of the remote site.
type SessionRequest struct {
	Cookie string `json:"cookie"`
}

// SessionResponse reports the identity the cookies resolve to.
type SessionResponse struct {
	Identity string `json:"identity"`
}

// Session handles POST /api/v1/session. The body is either JSON
// {"cookie": "..."} or the raw Cookie header as text/plain.
func (h *CatalogHandler) Session(w http.ResponseWriter, r *http.Request) {
	var cookie string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "text/plain") {
		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		cookie = string(raw)
	} else {
		var req SessionRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		cookie = req.Cookie
	}

	h.session.SetCookies(strings.TrimSpace(cookie))
	identity := h.session.Identity()
	if identity == "" {
		writeError(w, http.StatusUnprocessableEntity, domain.ErrInvalidIdentity.Error())
		return
	}

	h.logger.Info("session updated", "identity", identity)
	writeJSON(w, http.StatusOK, SessionResponse{Identity: identity})
}

func isBusy(err error) bool {
	return errors.Is(err, domain.ErrBusy)
}
