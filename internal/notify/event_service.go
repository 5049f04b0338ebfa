// Package notify records status events and fans them out to live
// subscribers such as the extension's event stream.
package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/iconidentify/likevault/internal/config"
	"github.com/iconidentify/likevault/internal/domain"
)

const (
	defaultRingSize   = 1000
	defaultQueryLimit = 50
	maxQueryLimit     = 200
	subscriberBuffer  = 100
)

// EventService keeps recent events in a ring buffer, optionally persists
// them to SQLite and pushes each one to subscribers without blocking.
type EventService struct {
	cfg    config.EventsConfig
	logger *slog.Logger
	clock  domain.Clock
	ids    domain.IDGenerator

	mu     sync.RWMutex
	events []domain.Event
	head   int
	count  int

	db *sql.DB

	subMu       sync.RWMutex
	subscribers map[uint64]chan domain.Event
	subSeq      uint64

	catalogCount atomic.Int64
}

// NewEventService creates an EventService. Persistence is enabled when
// cfg.Persist is set and cfg.SQLitePath is not empty.
func NewEventService(cfg config.EventsConfig, logger *slog.Logger) (*EventService, error) {
	if cfg.RingBufferSize <= 0 {
		cfg.RingBufferSize = defaultRingSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	svc := &EventService{
		cfg:         cfg,
		logger:      logger,
		clock:       domain.RealClock{},
		ids:         domain.UUIDGenerator{},
		events:      make([]domain.Event, cfg.RingBufferSize),
		subscribers: make(map[uint64]chan domain.Event),
	}
	svc.catalogCount.Store(-1)

	if cfg.Persist && cfg.SQLitePath != "" {
		if err := svc.openDB(); err != nil {
			return nil, fmt.Errorf("init event history: %w", err)
		}
		logger.Info("event persistence enabled", "path", cfg.SQLitePath)
	}
	return svc, nil
}

// SetClock replaces the time source used to stamp events.
func (s *EventService) SetClock(c domain.Clock) {
	s.clock = c
}

// SetIDGenerator replaces the event ID source.
func (s *EventService) SetIDGenerator(g domain.IDGenerator) {
	s.ids = g
}

func (s *EventService) openDB() error {
	if dir := filepath.Dir(s.cfg.SQLitePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", s.cfg.SQLitePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		PRAGMA journal_mode = WAL;
		CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			ts INTEGER NOT NULL,
			severity TEXT NOT NULL,
			category TEXT NOT NULL,
			message TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
		CREATE INDEX IF NOT EXISTS idx_events_category ON events(category);
	`)
	if err != nil {
		db.Close()
		return fmt.Errorf("create table: %w", err)
	}

	s.db = db
	return nil
}

// Close releases the history database, if any, and disconnects subscribers.
func (s *EventService) Close() error {
	s.subMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subMu.Unlock()

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Emit records an event, filling in its ID and timestamp when unset.
func (s *EventService) Emit(event domain.Event) {
	if event.ID == "" {
		event.ID = domain.EventID(s.ids.New())
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.clock.Now()
	}

	s.mu.Lock()
	s.events[s.head] = event
	s.head = (s.head + 1) % s.cfg.RingBufferSize
	if s.count < s.cfg.RingBufferSize {
		s.count++
	}
	s.mu.Unlock()

	if s.db != nil {
		s.persist(event)
	}
	s.publish(event)

	level := slog.LevelInfo
	switch event.Severity {
	case domain.EventSeverityWarning:
		level = slog.LevelWarn
	case domain.EventSeverityError:
		level = slog.LevelError
	}
	s.logger.Log(context.Background(), level, "event emitted",
		"event_id", event.ID,
		"category", event.Category,
		"severity", event.Severity,
		"message", event.Message,
		"source", event.Source,
	)
}

// CatalogUpdated announces the catalog's new item count.
func (s *EventService) CatalogUpdated(source string, count int) {
	s.catalogCount.Store(int64(count))
	s.Emit(domain.Event{
		Severity: domain.EventSeverityInfo,
		Category: domain.EventCategoryCatalog,
		Source:   source,
		Message:  fmt.Sprintf("Catalog holds %d items", count),
		Metadata: domain.EventMetadata{"count": count}.ToJSON(),
	})
}

// CatalogCount returns the last announced catalog size, or -1 if none.
func (s *EventService) CatalogCount() int {
	return int(s.catalogCount.Load())
}

func (s *EventService) persist(event domain.Event) {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO events (id, ts, severity, category, message, source, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, string(event.ID), event.Timestamp.UnixMilli(), string(event.Severity), string(event.Category),
		event.Message, event.Source, string(event.Metadata))
	if err != nil {
		s.logger.Warn("failed to persist event", "event_id", event.ID, "error", err)
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultQueryLimit
	}
	if limit > maxQueryLimit {
		return maxQueryLimit
	}
	return limit
}

// recent returns buffered events newest first. Caller holds s.mu.
func (s *EventService) recent(n int) []domain.Event {
	if n > s.count {
		n = s.count
	}
	out := make([]domain.Event, 0, n)
	for i := 0; i < n; i++ {
		idx := (s.head - 1 - i + s.cfg.RingBufferSize) % s.cfg.RingBufferSize
		out = append(out, s.events[idx])
	}
	return out
}

// GetRecent returns up to n buffered events, newest first.
func (s *EventService) GetRecent(n int) []domain.Event {
	if n <= 0 {
		n = defaultQueryLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recent(n)
}

// Query filters and pages the buffered events, newest first.
func (s *EventService) Query(ctx context.Context, query domain.EventQuery) (*domain.EventQueryResult, error) {
	query.Limit = clampLimit(query.Limit)
	if query.Offset < 0 {
		query.Offset = 0
	}

	s.mu.RLock()
	all := s.recent(s.count)
	s.mu.RUnlock()

	matched := all[:0]
	for _, e := range all {
		if matches(e, query.Filter) {
			matched = append(matched, e)
		}
	}

	total := len(matched)
	if query.Offset >= total {
		return &domain.EventQueryResult{Events: []domain.Event{}, Total: total}, nil
	}
	end := query.Offset + query.Limit
	if end > total {
		end = total
	}
	return &domain.EventQueryResult{
		Events:  matched[query.Offset:end],
		Total:   total,
		HasMore: end < total,
	}, nil
}

// QueryHistorical filters and pages persisted events, newest first.
func (s *EventService) QueryHistorical(ctx context.Context, query domain.EventQuery) (*domain.EventQueryResult, error) {
	if s.db == nil {
		return &domain.EventQueryResult{Events: []domain.Event{}}, nil
	}
	query.Limit = clampLimit(query.Limit)

	var conditions []string
	var args []interface{}
	f := query.Filter
	if f.Severity != nil {
		conditions = append(conditions, "severity = ?")
		args = append(args, string(*f.Severity))
	}
	if f.Category != nil {
		conditions = append(conditions, "category = ?")
		args = append(args, string(*f.Category))
	}
	if f.Source != "" {
		conditions = append(conditions, "source = ?")
		args = append(args, f.Source)
	}
	if f.StartTime != nil {
		conditions = append(conditions, "ts >= ?")
		args = append(args, f.StartTime.UnixMilli())
	}
	if f.EndTime != nil {
		conditions = append(conditions, "ts <= ?")
		args = append(args, f.EndTime.UnixMilli())
	}
	if f.SearchText != "" {
		conditions = append(conditions, "message LIKE ?")
		args = append(args, "%"+f.SearchText+"%")
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, ts, severity, category, message, source, metadata FROM events "+where+
			" ORDER BY ts DESC, rowid DESC LIMIT ? OFFSET ?",
		append(args, query.Limit, query.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.Event, 0, query.Limit)
	for rows.Next() {
		var (
			e        domain.Event
			ts       int64
			metadata string
		)
		if err := rows.Scan(&e.ID, &ts, &e.Severity, &e.Category, &e.Message, &e.Source, &metadata); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts).UTC()
		if metadata != "" {
			e.Metadata = json.RawMessage(metadata)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return &domain.EventQueryResult{
		Events:  events,
		Total:   total,
		HasMore: query.Offset+len(events) < total,
	}, nil
}

func matches(e domain.Event, f domain.EventFilter) bool {
	if f.Severity != nil && e.Severity != *f.Severity {
		return false
	}
	if f.Category != nil && e.Category != *f.Category {
		return false
	}
	if f.Source != "" && e.Source != f.Source {
		return false
	}
	if f.StartTime != nil && e.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && e.Timestamp.After(*f.EndTime) {
		return false
	}
	if f.SearchText != "" && !strings.Contains(strings.ToLower(e.Message), strings.ToLower(f.SearchText)) {
		return false
	}
	return true
}

// Subscribe registers a live subscriber. The caller must Unsubscribe.
// Events are dropped for a subscriber whose buffer is full.
func (s *EventService) Subscribe() (uint64, <-chan domain.Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.subSeq++
	id := s.subSeq
	ch := make(chan domain.Event, subscriberBuffer)
	s.subscribers[id] = ch

	s.logger.Debug("event subscriber added", "subscriber_id", id, "total_subscribers", len(s.subscribers))
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *EventService) Unsubscribe(id uint64) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
		s.logger.Debug("event subscriber removed", "subscriber_id", id, "total_subscribers", len(s.subscribers))
	}
}

func (s *EventService) publish(event domain.Event) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	for id, ch := range s.subscribers {
		select {
		case ch <- event:
		default:
			s.logger.Warn("subscriber buffer full, dropping event", "subscriber_id", id, "event_id", event.ID)
		}
	}
}

// SubscriberCount returns the number of live subscribers.
func (s *EventService) SubscriberCount() int {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	return len(s.subscribers)
}

// EventStats summarizes the service for status reporting.
type EventStats struct {
	BufferSize    int  `json:"buffer_size"`
	BufferUsed    int  `json:"buffer_used"`
	Subscribers   int  `json:"subscribers"`
	SQLiteEnabled bool `json:"sqlite_enabled"`
	CatalogCount  int  `json:"catalog_count"`
}

func (s *EventService) Stats() EventStats {
	s.mu.RLock()
	used := s.count
	s.mu.RUnlock()

	return EventStats{
		BufferSize:    s.cfg.RingBufferSize,
		BufferUsed:    used,
		Subscribers:   s.SubscriberCount(),
		SQLiteEnabled: s.db != nil,
		CatalogCount:  s.CatalogCount(),
	}
}

// CleanupOldEvents deletes persisted events older than the retention period.
func (s *EventService) CleanupOldEvents(ctx context.Context) error {
	if s.db == nil || s.cfg.RetentionDays <= 0 {
		return nil
	}

	cutoff := s.clock.Now().AddDate(0, 0, -s.cfg.RetentionDays)
	result, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE ts < ?", cutoff.UnixMilli())
	if err != nil {
		return fmt.Errorf("delete old events: %w", err)
	}
	if deleted, _ := result.RowsAffected(); deleted > 0 {
		s.logger.Info("cleaned up old events", "deleted", deleted, "cutoff", cutoff)
	}
	return nil
}
