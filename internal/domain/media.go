package domain

import (
	"time"
)

// Origin records how a catalog item was discovered.
type Origin string

const (
	// OriginSynced marks items returned by the paginated liked-media listing.
	OriginSynced Origin = "synced"
	// OriginObserved marks items captured from live traffic and never reconciled.
	OriginObserved Origin = "observed"
)

// CatalogItem is one discovered video.
type CatalogItem struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	HDURL     string `json:"hdUrl,omitempty"`
	PosterURL string `json:"posterUrl,omitempty"`
	PostID    string `json:"postId,omitempty"`
	VideoID   string `json:"videoId,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
	Origin    Origin `json:"origin"`
}

// Key returns the uniqueness key of the item: its id, or its url when the id is empty.
func (i CatalogItem) Key() string {
	if i.ID != "" {
		return i.ID
	}
	return i.URL
}

// Deletable reports whether the item carries the remote id required for deletion.
func (i CatalogItem) Deletable() bool {
	return i.PostID != ""
}

// DownloadURL returns the preferred URL for fetching the media bytes.
func (i CatalogItem) DownloadURL() string {
	if i.HDURL != "" {
		return i.HDURL
	}
	return i.URL
}

// Catalog is the persisted, deduplicated collection of items for one identity.
// Items are kept sorted newest first and unique by Key.
type Catalog struct {
	Items     []CatalogItem `json:"items"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// NewCatalog returns an empty catalog stamped with the given time.
func NewCatalog(now time.Time) *Catalog {
	return &Catalog{Items: []CatalogItem{}, UpdatedAt: now}
}

// Len returns the number of items.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Items)
}

// Lookup returns the item stored under key.
func (c *Catalog) Lookup(key string) (CatalogItem, bool) {
	if c == nil {
		return CatalogItem{}, false
	}
	for _, item := range c.Items {
		if item.Key() == key {
			return item, true
		}
	}
	return CatalogItem{}, false
}

// Snapshot returns a copy of the items safe to hand to long-running readers.
func (c *Catalog) Snapshot() []CatalogItem {
	if c == nil {
		return nil
	}
	out := make([]CatalogItem, len(c.Items))
	copy(out, c.Items)
	return out
}
