package store

import (
	"context"
	"sync"

	"github.com/iconidentify/likevault/internal/domain"
)

// MemoryStore is an in-process KV used by tests and ephemeral runs.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string][]byte
	watch  *broadcaster
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string][]byte),
		watch:  newBroadcaster(),
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	s.values[key] = append([]byte(nil), value...)
	s.mu.Unlock()

	s.watch.publish(Change{Key: key})
	return nil
}

func (s *MemoryStore) Watch(ctx context.Context) <-chan Change {
	return s.watch.subscribe(ctx)
}

func (s *MemoryStore) Close() error {
	s.watch.close()
	return nil
}
