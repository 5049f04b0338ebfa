// Package catalog keeps the deduplicated media catalog in step with the
// remote liked-media listing.
package catalog

import (
	"sort"

	"github.com/iconidentify/likevault/internal/domain"
)

// Merge replaces every synced item of existing with candidates while keeping
// items of any other origin. Items are unique by key and a later write for a
// key replaces an earlier one. Items without a URL are dropped.
// The result is sorted with Sort.
func Merge(existing, candidates []domain.CatalogItem) []domain.CatalogItem {
	out := make([]domain.CatalogItem, 0, len(existing)+len(candidates))
	index := make(map[string]int, cap(out))

	put := func(item domain.CatalogItem) {
		if item.URL == "" {
			return
		}
		key := item.Key()
		if i, ok := index[key]; ok {
			out[i] = item
			return
		}
		index[key] = len(out)
		out = append(out, item)
	}

	for _, item := range existing {
		if item.Origin == domain.OriginSynced {
			continue
		}
		put(item)
	}
	for _, item := range candidates {
		put(item)
	}

	Sort(out)
	return out
}

// Upsert adds or replaces a single item by key, keeping everything else.
func Upsert(existing []domain.CatalogItem, item domain.CatalogItem) []domain.CatalogItem {
	out := make([]domain.CatalogItem, 0, len(existing)+1)
	replaced := false
	for _, e := range existing {
		if e.Key() == item.Key() {
			if !replaced {
				out = append(out, item)
				replaced = true
			}
			continue
		}
		out = append(out, e)
	}
	if !replaced {
		out = append(out, item)
	}
	Sort(out)
	return out
}

// Sort orders items newest first by CreatedAt. Items whose timestamp is
// empty or unparseable sort last. Ties are broken by key.
func Sort(items []domain.CatalogItem) {
	type ranked struct {
		item domain.CatalogItem
		at   int64
		ok   bool
		key  string
	}
	rs := make([]ranked, len(items))
	for i, item := range items {
		t, ok := ParseTimestamp(item.CreatedAt)
		rs[i] = ranked{item: item, at: t.UnixNano(), ok: ok, key: item.Key()}
	}

	sort.Slice(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if a.ok != b.ok {
			return a.ok
		}
		if a.ok && a.at != b.at {
			return a.at > b.at
		}
		return a.key < b.key
	})

	for i := range rs {
		items[i] = rs[i].item
	}
}
