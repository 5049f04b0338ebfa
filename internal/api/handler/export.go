package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/iconidentify/likevault/internal/domain"
	"github.com/iconidentify/likevault/internal/export"
)

// Exporter builds archives from the catalog.
type Exporter interface {
	Prepare(ctx context.Context, opts export.Options) (*export.Archive, error)
	Export(ctx context.Context, opts export.Options) (*export.Result, error)
	Busy() bool
}

// ExportHandler exposes archive export.
type ExportHandler struct {
	exporter Exporter
	logger   *slog.Logger
}

// NewExportHandler creates an ExportHandler.
func NewExportHandler(exporter Exporter, logger *slog.Logger) *ExportHandler {
	return &ExportHandler{exporter: exporter, logger: logger}
}

// ExportRequest selects what to export. All fields are optional.
type ExportRequest struct {
	Keys       []string `json:"keys,omitempty"`
	Passphrase string   `json:"passphrase,omitempty"`
}

func (h *ExportHandler) options(r *http.Request) (export.Options, error) {
	var req ExportRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			return export.Options{}, err
		}
	}
	return export.Options{Keys: req.Keys, Passphrase: req.Passphrase}, nil
}

// Stream handles POST /api/v1/export by returning the archive as an attachment.
func (h *ExportHandler) Stream(w http.ResponseWriter, r *http.Request) {
	opts, err := h.options(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	a, err := h.exporter.Prepare(r.Context(), opts)
	if err != nil {
		h.writeExportError(w, err)
		return
	}

	contentType := "application/zip"
	if a.Encrypted {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+a.Name+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(a.Data)))
	w.Header().Set("X-Export-Run-ID", a.RunID)
	w.Header().Set("X-Export-Entries", strconv.Itoa(a.Entries))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(a.Data); err != nil {
		h.logger.Warn("export stream interrupted", "run_id", a.RunID, "error", err)
	}
}

// Deliver handles POST /api/v1/export/sink by sending the archive to the
// configured destination.
func (h *ExportHandler) Deliver(w http.ResponseWriter, r *http.Request) {
	opts, err := h.options(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.exporter.Export(r.Context(), opts)
	if err != nil {
		h.writeExportError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *ExportHandler) writeExportError(w http.ResponseWriter, err error) {
	switch {
	case isBusy(err):
		writeError(w, http.StatusConflict, "busy")
	case errors.Is(err, domain.ErrEmptyCatalog):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrExportFailed):
		h.logger.Error("export failed", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		h.logger.Error("export failed", "error", err)
		writeError(w, http.StatusInternalServerError, "export failed")
	}
}
