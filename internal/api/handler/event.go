package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/iconidentify/likevault/internal/domain"
)

// EventSource is the queryable, subscribable event log.
type EventSource interface {
	Query(ctx context.Context, query domain.EventQuery) (*domain.EventQueryResult, error)
	QueryHistorical(ctx context.Context, query domain.EventQuery) (*domain.EventQueryResult, error)
	Subscribe() (uint64, <-chan domain.Event)
	Unsubscribe(id uint64)
}

// EventHandler serves status events.
type EventHandler struct {
	events    EventSource
	logger    *slog.Logger
	keepalive time.Duration
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(events EventSource, logger *slog.Logger) *EventHandler {
	return &EventHandler{events: events, logger: logger, keepalive: 30 * time.Second}
}

// EventListResponse contains a page of events.
type EventListResponse struct {
	Events  []domain.Event `json:"events"`
	Total   int            `json:"total"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
	HasMore bool           `json:"has_more"`
}

// List handles GET /api/v1/events.
// Query parameters: severity, category, source, search, start_time and
// end_time (RFC3339), limit, offset, and historical=true to read the
// persisted history instead of the in-memory buffer.
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := domain.EventQuery{Limit: 50}

	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 {
		query.Limit = l
	}
	if o, err := strconv.Atoi(q.Get("offset")); err == nil && o >= 0 {
		query.Offset = o
	}
	if sev := q.Get("severity"); sev != "" {
		severity := domain.EventSeverity(sev)
		query.Filter.Severity = &severity
	}
	if cat := q.Get("category"); cat != "" {
		category := domain.EventCategory(cat)
		query.Filter.Category = &category
	}
	query.Filter.Source = q.Get("source")
	query.Filter.SearchText = q.Get("search")
	if t, err := time.Parse(time.RFC3339, q.Get("start_time")); err == nil {
		query.Filter.StartTime = &t
	}
	if t, err := time.Parse(time.RFC3339, q.Get("end_time")); err == nil {
		query.Filter.EndTime = &t
	}

	var (
		result *domain.EventQueryResult
		err    error
	)
	if q.Get("historical") == "true" {
		result, err = h.events.QueryHistorical(r.Context(), query)
	} else {
		result, err = h.events.Query(r.Context(), query)
	}
	if err != nil {
		h.logger.Error("failed to query events", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to query events")
		return
	}

	events := result.Events
	if events == nil {
		events = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, EventListResponse{
		Events:  events,
		Total:   result.Total,
		Limit:   query.Limit,
		Offset:  query.Offset,
		HasMore: result.HasMore,
	})
}

// Stream handles GET /api/v1/events/stream as Server-Sent Events.
func (h *EventHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	subID, ch := h.events.Subscribe()
	defer h.events.Unsubscribe(subID)

	h.logger.Debug("event stream connected", "subscriber_id", subID, "remote_addr", r.RemoteAddr)
	fmt.Fprintf(w, "event: connected\ndata: {\"subscriber_id\": %d}\n\n", subID)
	flusher.Flush()

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug("event stream disconnected", "subscriber_id", subID)
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Warn("failed to serialize event", "event_id", event.ID, "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Category, data)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}
