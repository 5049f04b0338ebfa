// Package store provides the key-value persistence used for the catalog and
// the last-seen identity.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/iconidentify/likevault/internal/config"
)

// Change describes a committed mutation.
type Change struct {
	// Key is the mutated key, or "" when the store cannot tell.
	Key string
	// External is true when the mutation did not go through this handle.
	External bool
}

// KV is a byte-oriented key-value store with change notification.
type KV interface {
	// Get returns the value for key, or domain.ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set replaces the value for key.
	Set(ctx context.Context, key string, value []byte) error
	// Watch delivers changes until ctx is done or the store is closed.
	Watch(ctx context.Context) <-chan Change
	Close() error
}

// Open creates the store selected by cfg.
func Open(cfg config.StorageConfig, logger *slog.Logger) (KV, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return NewMemoryStore(), nil
	case config.DriverSQLite:
		return NewSQLiteStore(cfg.Path, logger)
	case config.DriverFile:
		return NewFileStore(cfg.Path, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// broadcaster fans changes out to watchers without blocking writers.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[chan Change]struct{}
	closed bool
	done   chan struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{
		subs: make(map[chan Change]struct{}),
		done: make(chan struct{}),
	}
}

func (b *broadcaster) subscribe(ctx context.Context) <-chan Change {
	ch := make(chan Change, 16)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-b.done:
		}
		b.remove(ch)
	}()
	return ch
}

func (b *broadcaster) remove(ch chan Change) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

func (b *broadcaster) publish(c Change) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- c:
		default:
			// Slow watcher, drop.
		}
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}
