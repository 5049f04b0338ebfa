package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/iconidentify/likevault/internal/domain"
)

// FileStore keeps every key in one JSON document, rewritten atomically on
// each Set. Edits to the file by other processes are reported through Watch.
type FileStore struct {
	path   string
	logger *slog.Logger
	watch  *broadcaster

	mu        sync.Mutex
	values    map[string]json.RawMessage
	lastWrite []byte

	watcher   *fsnotify.Watcher
	startOnce sync.Once
	stop      chan struct{}
	wg        sync.WaitGroup
}

// NewFileStore opens the JSON document at path, creating its directory.
// A missing file is an empty store.
func NewFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	s := &FileStore{
		path:   path,
		logger: logger,
		watch:  newBroadcaster(),
		values: make(map[string]json.RawMessage),
		stop:   make(chan struct{}),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read store file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	values := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("parse store file: %w", err)
	}
	s.values = values
	return nil
}

// Get re-reads the file so external edits are always visible.
func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return nil, err
	}
	v, ok := s.values[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Set stores value, which must be valid JSON.
func (s *FileStore) Set(ctx context.Context, key string, value []byte) error {
	if !json.Valid(value) {
		return fmt.Errorf("set %s: value is not valid JSON", key)
	}

	s.mu.Lock()
	if err := s.load(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.values[key] = append(json.RawMessage(nil), value...)

	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("marshal store: %w", err)
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("set %s: %w", key, err)
	}
	s.lastWrite = data
	s.mu.Unlock()

	s.watch.publish(Change{Key: key})
	return nil
}

// Watch starts the fsnotify watcher on first use. The parent directory is
// watched because atomic renames replace the file's inode.
func (s *FileStore) Watch(ctx context.Context) <-chan Change {
	ch := s.watch.subscribe(ctx)
	s.startOnce.Do(func() {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			s.logger.Warn("file watcher unavailable", "error", err)
			return
		}
		if err := watcher.Add(filepath.Dir(s.path)); err != nil {
			s.logger.Warn("watch store directory failed", "path", s.path, "error", err)
			watcher.Close()
			return
		}
		s.watcher = watcher
		s.wg.Add(1)
		go s.watchLoop()
	})
	return ch
}

func (s *FileStore) watchLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stop:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if s.isOwnWrite() {
				continue
			}
			s.watch.publish(Change{External: true})
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Debug("store watcher error", "error", err)
		}
	}
}

// isOwnWrite reports whether the file still holds what this handle last wrote.
func (s *FileStore) isOwnWrite() bool {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastWrite != nil && bytes.Equal(data, s.lastWrite)
}

func (s *FileStore) Close() error {
	close(s.stop)
	var err error
	if s.watcher != nil {
		err = s.watcher.Close()
	}
	s.wg.Wait()
	s.watch.close()
	return err
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it over path, so readers never see a partial document.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".likevault-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
