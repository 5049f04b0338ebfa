package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/iconidentify/likevault/internal/domain"
)

// DefaultPollInterval is how often SQLiteStore checks for commits made by
// other processes.
const DefaultPollInterval = time.Second

// SQLiteStore is a KV backed by a single SQLite table.
//
// The pool is pinned to one connection so that PRAGMA data_version only
// moves for commits made by other processes.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	watch  *broadcaster

	pollInterval time.Duration
	startOnce    sync.Once
	stop         chan struct{}
	wg           sync.WaitGroup
}

// NewSQLiteStore opens or creates the database at path.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`
		PRAGMA busy_timeout = 5000;
		CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			updated_at DATETIME NOT NULL
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create kv table: %w", err)
	}

	return &SQLiteStore{
		db:           db,
		logger:       logger,
		watch:        newBroadcaster(),
		pollInterval: DefaultPollInterval,
		stop:         make(chan struct{}),
	}, nil
}

// SetPollInterval changes how often external commits are detected.
// It has no effect once Watch has been called.
func (s *SQLiteStore) SetPollInterval(d time.Duration) {
	if d > 0 {
		s.pollInterval = d
	}
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	s.watch.publish(Change{Key: key})
	return nil
}

// Watch starts the data_version poller on first use.
func (s *SQLiteStore) Watch(ctx context.Context) <-chan Change {
	ch := s.watch.subscribe(ctx)
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.pollDataVersion()
	})
	return ch
}

func (s *SQLiteStore) pollDataVersion() {
	defer s.wg.Done()

	last, err := s.dataVersion()
	if err != nil {
		s.logger.Warn("read data_version failed", "error", err)
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			v, err := s.dataVersion()
			if err != nil {
				s.logger.Debug("read data_version failed", "error", err)
				continue
			}
			if v != last {
				last = v
				s.watch.publish(Change{External: true})
			}
		}
	}
}

func (s *SQLiteStore) dataVersion() (int64, error) {
	var v int64
	err := s.db.QueryRow("PRAGMA data_version").Scan(&v)
	return v, err
}

func (s *SQLiteStore) Close() error {
	close(s.stop)
	s.wg.Wait()
	s.watch.close()
	return s.db.Close()
}
