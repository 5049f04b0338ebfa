package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/iconidentify/likevault/internal/domain"
	"github.com/iconidentify/likevault/internal/store"
)

// Storage keys.
const (
	CatalogKey  = "likevault.catalog"
	IdentityKey = "likevault.identity"
)

// KVCatalogRepository implements CatalogRepository as JSON documents in a store.KV.
type KVCatalogRepository struct {
	kv  store.KV
	now func() time.Time
	mu  sync.Mutex
}

// NewKVCatalogRepository creates a repository over kv. A nil now uses time.Now.
func NewKVCatalogRepository(kv store.KV, now func() time.Time) *KVCatalogRepository {
	if now == nil {
		now = time.Now
	}
	return &KVCatalogRepository{kv: kv, now: now}
}

func (r *KVCatalogRepository) Load(ctx context.Context) (*domain.Catalog, error) {
	data, err := r.kv.Get(ctx, CatalogKey)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NewCatalog(time.Time{}), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	var catalog domain.Catalog
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if catalog.Items == nil {
		catalog.Items = []domain.CatalogItem{}
	}
	return &catalog, nil
}

func (r *KVCatalogRepository) Save(ctx context.Context, catalog *domain.Catalog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.save(ctx, catalog)
}

func (r *KVCatalogRepository) save(ctx context.Context, catalog *domain.Catalog) error {
	if catalog.Items == nil {
		catalog.Items = []domain.CatalogItem{}
	}
	data, err := json.Marshal(catalog)
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	if err := r.kv.Set(ctx, CatalogKey, data); err != nil {
		return fmt.Errorf("save catalog: %w", err)
	}
	return nil
}

func (r *KVCatalogRepository) Update(ctx context.Context, fn func(*domain.Catalog) error) (*domain.Catalog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	catalog, err := r.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := fn(catalog); err != nil {
		return nil, err
	}
	catalog.UpdatedAt = r.now()
	if err := r.save(ctx, catalog); err != nil {
		return nil, err
	}
	return catalog, nil
}

func (r *KVCatalogRepository) Identity(ctx context.Context) (string, error) {
	data, err := r.kv.Get(ctx, IdentityKey)
	if errors.Is(err, domain.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load identity: %w", err)
	}

	var identity string
	if err := json.Unmarshal(data, &identity); err != nil {
		return "", fmt.Errorf("decode identity: %w", err)
	}
	return identity, nil
}

func (r *KVCatalogRepository) SaveIdentity(ctx context.Context, identity string) error {
	data, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("encode identity: %w", err)
	}
	if err := r.kv.Set(ctx, IdentityKey, data); err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	return nil
}

// Reset writes the empty catalog before the identity, so an interrupted
// reset is repeated on the next pass rather than leaving stale items owned
// by the new identity.
func (r *KVCatalogRepository) Reset(ctx context.Context, identity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.save(ctx, domain.NewCatalog(r.now())); err != nil {
		return fmt.Errorf("reset catalog: %w", err)
	}
	return r.SaveIdentity(ctx, identity)
}

func (r *KVCatalogRepository) RemovePosts(ctx context.Context, postIDs []string) (int, error) {
	drop := make(map[string]bool, len(postIDs))
	for _, id := range postIDs {
		if id != "" {
			drop[id] = true
		}
	}
	if len(drop) == 0 {
		return 0, nil
	}

	removed := 0
	_, err := r.Update(ctx, func(c *domain.Catalog) error {
		kept := c.Items[:0]
		for _, item := range c.Items {
			if item.PostID != "" && drop[item.PostID] {
				removed++
				continue
			}
			kept = append(kept, item)
		}
		c.Items = kept
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}
