package poller

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ActivityEvent is one entry of the poll activity log.
type ActivityEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"` // "success", "failed", "skipped", "paused", "resumed", "check_now"
	Pages     int       `json:"pages,omitempty"`
	Fetched   int       `json:"fetched,omitempty"`
	Items     int       `json:"items,omitempty"`
	Reset     bool      `json:"reset,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// ActivityLog keeps the most recent poll events in a JSON lines file.
// An empty path disables it.
type ActivityLog struct {
	path string
	mu   sync.Mutex
	max  int
	now  func() time.Time
}

// NewActivityLog creates a new activity log manager.
func NewActivityLog(path string, maxEntries int) *ActivityLog {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	return &ActivityLog{
		path: path,
		max:  maxEntries,
		now:  time.Now,
	}
}

// Append adds an event, dropping the oldest beyond the size limit.
func (a *ActivityLog) Append(event ActivityEvent) error {
	if a == nil || a.path == "" {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(a.path), 0755); err != nil {
		return fmt.Errorf("create activity log dir: %w", err)
	}

	entries, _ := a.readEntriesLocked()
	if event.Timestamp.IsZero() {
		event.Timestamp = a.now()
	}
	entries = append(entries, event)
	if len(entries) > a.max {
		entries = entries[len(entries)-a.max:]
	}
	return a.writeEntriesLocked(entries)
}

// GetRecent returns the most recent events (newest first).
func (a *ActivityLog) GetRecent(limit int) ([]ActivityEvent, error) {
	if a == nil || a.path == "" {
		return nil, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entries, err := a.readEntriesLocked()
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (a *ActivityLog) readEntriesLocked() ([]ActivityEvent, error) {
	f, err := os.Open(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []ActivityEvent
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var event ActivityEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			continue // Skip malformed lines
		}
		entries = append(entries, event)
	}
	return entries, scanner.Err()
}

func (a *ActivityLog) writeEntriesLocked(entries []ActivityEvent) error {
	f, err := os.Create(a.path)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(f)
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			continue
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
