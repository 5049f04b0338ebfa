// Package normalize turns raw liked-media records into catalog items.
//
// Remote records are arbitrary attribute bags whose field names have drifted
// over time, so every attribute is looked up through a list of aliases.
package normalize

import (
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/iconidentify/likevault/internal/domain"
)

const (
	userAssetPrefix   = "users/"
	publicAssetPrefix = "imagine-public/"

	videoMimeType  = "video/mp4"
	videoExtension = ".mp4"
	childrenField  = "childPosts"
)

// Attribute aliases, highest priority first.
var (
	mediaURLFields  = []string{"hdMediaUrl", "mediaUrl"}
	posterFields    = []string{"thumbnailImageUrl", "previewImageUrl"}
	postIDFields    = []string{"originalPostId", "id", "postId", "videoPostId", "mediaPostId"}
	videoIDFields   = []string{"videoId", "mediaId", "media.id", "media.videoId"}
	itemIDFields    = []string{"id", "videoPostId"}
	createdAtFields = []string{"createTime", "createdAt"}
)

var errEmptyURL = errors.New("empty url")

// Normalizer converts raw remote records into domain.CatalogItem values.
// It is safe for concurrent use.
type Normalizer struct {
	assetHost    string
	publicHost   string
	pageOrigin   *url.URL
	credentialed map[string]bool
}

// Config holds the hosts used for URL rewriting.
type Config struct {
	// AssetHost serves user-owned media paths (users/...).
	AssetHost string
	// PublicHost serves public media paths (imagine-public/...).
	PublicHost string
	// PageOrigin is the page URL relative references resolve against.
	PageOrigin string
}

// New creates a Normalizer. An unparseable PageOrigin is an error.
func New(cfg Config) (*Normalizer, error) {
	origin, err := url.Parse(cfg.PageOrigin)
	if err != nil {
		return nil, err
	}
	if !origin.IsAbs() {
		return nil, errors.New("page origin must be absolute: " + cfg.PageOrigin)
	}
	credentialed := map[string]bool{originKey(origin): true}
	if asset, err := url.Parse(cfg.AssetHost); err == nil && asset.IsAbs() {
		credentialed[originKey(asset)] = true
	}
	return &Normalizer{
		assetHost:    strings.TrimRight(cfg.AssetHost, "/"),
		publicHost:   strings.TrimRight(cfg.PublicHost, "/"),
		pageOrigin:   origin,
		credentialed: credentialed,
	}, nil
}

// Resolve returns the absolute form of a raw media reference.
func (n *Normalizer) Resolve(raw string) (string, error) {
	if raw == "" {
		return "", errEmptyURL
	}
	if abs, ok := n.rewrite(raw); ok {
		return abs, nil
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	return n.pageOrigin.ResolveReference(ref).String(), nil
}

// rewrite applies the absolute and asset-host rules. It reports false when
// raw still needs page-relative resolution.
func (n *Normalizer) rewrite(raw string) (string, bool) {
	if hasScheme(raw) {
		return raw, true
	}
	path := strings.TrimPrefix(raw, "/")
	switch {
	case strings.HasPrefix(path, userAssetPrefix):
		return n.assetHost + "/" + path, true
	case strings.HasPrefix(path, publicAssetPrefix):
		return n.publicHost + "/" + path, true
	}
	return raw, false
}

// IsCredentialed reports whether rawURL is on the page origin or the asset
// host, the only origins the session cookie belongs to. Every other host,
// the public host included, gets no credentials.
func (n *Normalizer) IsCredentialed(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || !u.IsAbs() {
		return false
	}
	return n.credentialed[originKey(u)]
}

func originKey(u *url.URL) string {
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

// IsPlayable reports whether a record is mp4 video content, either by its
// declared content type or by the extension of its URL path.
func IsPlayable(rawURL, mimeType string) bool {
	if mimeType == videoMimeType {
		return true
	}
	base := rawURL
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	return strings.HasSuffix(strings.ToLower(base), videoExtension)
}

// Record normalizes a single record, ignoring any children.
func (n *Normalizer) Record(rec gjson.Result) (domain.CatalogItem, bool) {
	if !rec.IsObject() {
		return domain.CatalogItem{}, false
	}

	mediaURL, err := n.Resolve(first(rec, mediaURLFields...))
	if err != nil || !IsPlayable(mediaURL, rec.Get("mimeType").String()) {
		return domain.CatalogItem{}, false
	}

	item := domain.CatalogItem{
		URL:       mediaURL,
		PostID:    first(rec, postIDFields...),
		VideoID:   first(rec, videoIDFields...),
		CreatedAt: first(rec, createdAtFields...),
		Origin:    domain.OriginSynced,
	}
	if hd := first(rec, "hdMediaUrl"); hd != "" {
		item.HDURL, _ = n.Resolve(hd)
	}
	if poster := first(rec, posterFields...); poster != "" {
		item.PosterURL, _ = n.Resolve(poster)
	}
	item.ID = first(rec, itemIDFields...)
	if item.ID == "" {
		item.ID = mediaURL
	}
	return item, true
}

// Post normalizes a record and all of its nested children. The parent, if
// accepted, comes first, followed by accepted descendants in document order.
func (n *Normalizer) Post(raw []byte) []domain.CatalogItem {
	if !gjson.ValidBytes(raw) {
		return nil
	}
	return n.collect(gjson.ParseBytes(raw), nil)
}

// Posts normalizes a page of records into one flat candidate list.
func (n *Normalizer) Posts(posts []json.RawMessage) []domain.CatalogItem {
	var items []domain.CatalogItem
	for _, p := range posts {
		items = append(items, n.Post(p)...)
	}
	return items
}

func (n *Normalizer) collect(rec gjson.Result, out []domain.CatalogItem) []domain.CatalogItem {
	if item, ok := n.Record(rec); ok {
		out = append(out, item)
	}
	for _, child := range rec.Get(childrenField).Array() {
		out = n.collect(child, out)
	}
	return out
}

// Observed builds an item for a media URL captured from live traffic.
// Asset paths are rewritten but other references are kept as given.
func (n *Normalizer) Observed(rawURL string, now time.Time) (domain.CatalogItem, bool) {
	if rawURL == "" {
		return domain.CatalogItem{}, false
	}
	full, _ := n.rewrite(rawURL)
	if !IsPlayable(full, "") {
		return domain.CatalogItem{}, false
	}
	return domain.CatalogItem{
		ID:        full,
		URL:       full,
		CreatedAt: now.UTC().Format(time.RFC3339Nano),
		Origin:    domain.OriginObserved,
	}, true
}

// first returns the first alias holding a non-empty string or non-zero number.
func first(rec gjson.Result, paths ...string) string {
	for _, p := range paths {
		v := rec.Get(p)
		switch v.Type {
		case gjson.String:
			if v.Str != "" {
				return v.Str
			}
		case gjson.Number:
			if v.Num != 0 {
				return v.Raw
			}
		}
	}
	return ""
}

func hasScheme(raw string) bool {
	i := strings.Index(raw, "://")
	if i <= 0 {
		return false
	}
	for _, c := range raw[:i] {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.') {
			return false
		}
	}
	return true
}
