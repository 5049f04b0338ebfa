package downloader

import (
	"context"
)

// Fetcher retrieves the bytes of one media resource.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Credentials supplies the session Cookie header for authenticated fetches.
type Credentials interface {
	Cookies() string
}

// HostClassifier reports whether a URL belongs to an origin the session
// cookie was issued for.
type HostClassifier interface {
	IsCredentialed(url string) bool
}
