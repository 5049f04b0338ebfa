package repository

import (
	"context"

	"github.com/iconidentify/likevault/internal/domain"
)

// CatalogRepository persists the catalog and the identity that owns it.
type CatalogRepository interface {
	// Load returns the stored catalog, or an empty one if none exists.
	Load(ctx context.Context) (*domain.Catalog, error)

	// Save replaces the stored catalog as a whole.
	Save(ctx context.Context, catalog *domain.Catalog) error

	// Update loads the catalog, applies fn and saves the result.
	// Updates through the same repository never interleave.
	Update(ctx context.Context, fn func(*domain.Catalog) error) (*domain.Catalog, error)

	// Identity returns the last-seen identity, or "" if none was stored.
	Identity(ctx context.Context) (string, error)

	// SaveIdentity records the last-seen identity.
	SaveIdentity(ctx context.Context, identity string) error

	// Reset empties the catalog and then records identity as its owner.
	Reset(ctx context.Context, identity string) error

	// RemovePosts drops every item whose post id is in postIDs.
	RemovePosts(ctx context.Context, postIDs []string) (int, error)
}
