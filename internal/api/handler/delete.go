package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/iconidentify/likevault/internal/deletion"
)

// Deleter removes posts remotely, one or many at a time.
type Deleter interface {
	DeleteOne(ctx context.Context, postID string) (deletion.Result, error)
	DeleteMany(ctx context.Context, postIDs []string) (deletion.BatchResult, error)
	Busy() bool
}

// DeleteHandler exposes remote deletion.
type DeleteHandler struct {
	deleter Deleter
	logger  *slog.Logger
}

// NewDeleteHandler creates a DeleteHandler.
func NewDeleteHandler(deleter Deleter, logger *slog.Logger) *DeleteHandler {
	return &DeleteHandler{deleter: deleter, logger: logger}
}

// DeleteRequest names one post to delete.
type DeleteRequest struct {
	PostID string `json:"postId"`
}

// BatchDeleteRequest names the posts to delete.
type BatchDeleteRequest struct {
	PostIDs []string `json:"postIds"`
}

// Delete handles POST /api/v1/delete. A failed delete is still a 200 with
// ok=false and the last remote status; 409 means another deletion is running.
func (h *DeleteHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var req DeleteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.deleter.DeleteOne(r.Context(), req.PostID)
	if isBusy(err) {
		writeError(w, http.StatusConflict, "busy")
		return
	}
	if err != nil {
		h.logger.Error("delete failed", "post_id", req.PostID, "error", err)
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// BatchDeleteResponse partitions the batch by outcome.
type BatchDeleteResponse struct {
	deletion.BatchResult
	Summary string `json:"summary"`
}

// Batch handles POST /api/v1/delete/batch.
func (h *DeleteHandler) Batch(w http.ResponseWriter, r *http.Request) {
	var req BatchDeleteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	batch, err := h.deleter.DeleteMany(r.Context(), req.PostIDs)
	if isBusy(err) {
		writeError(w, http.StatusConflict, "busy")
		return
	}
	if err != nil {
		h.logger.Error("batch delete failed", "error", err)
		writeError(w, http.StatusInternalServerError, "batch delete failed")
		return
	}
	writeJSON(w, http.StatusOK, BatchDeleteResponse{BatchResult: batch, Summary: batch.Summary()})
}
