package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/iconidentify/likevault/internal/config"
	"github.com/iconidentify/likevault/internal/domain"
)

// ErrTooLarge is returned when a resource exceeds the configured size cap.
var ErrTooLarge = errors.New("media exceeds size limit")

// HTTPFetcher implements Fetcher over a retrying HTTP client. Transport
// errors, 429 and 5xx responses are retried; 401 and 403 are final.
type HTTPFetcher struct {
	client    *retryablehttp.Client
	creds     Credentials
	hosts     HostClassifier
	userAgent string
	maxSize   int64
	logger    *slog.Logger
}

// NewHTTPFetcher creates a fetcher. creds and hosts may be nil, in which
// case no Cookie header is sent at all.
func NewHTTPFetcher(cfg config.ExportConfig, userAgent string, creds Credentials, hosts HostClassifier, logger *slog.Logger) *HTTPFetcher {
	if logger == nil {
		logger = slog.Default()
	}

	client := retryablehttp.NewClient()
	client.Logger = logger
	client.RetryMax = cfg.RetryMax
	if cfg.RetryWait > 0 {
		client.RetryWaitMin = cfg.RetryWait
		client.RetryWaitMax = cfg.RetryWait * 8
	}
	client.HTTPClient.Timeout = cfg.Timeout
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &HTTPFetcher{
		client:    client,
		creds:     creds,
		hosts:     hosts,
		userAgent: userAgent,
		maxSize:   cfg.MaxFileSize,
		logger:    logger,
	}
}

// Fetch downloads url into memory.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "video/mp4,video/*;q=0.9,*/*;q=0.8")
	if cookie := f.cookieFor(url); cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := f.client.Do(req)
	if resp == nil {
		if err == nil {
			err = errors.New("no response")
		}
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, domain.ErrURLExpired
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, domain.ErrRateLimited
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if f.maxSize > 0 && resp.ContentLength > f.maxSize {
		return nil, ErrTooLarge
	}

	body := io.Reader(resp.Body)
	if f.maxSize > 0 {
		body = io.LimitReader(resp.Body, f.maxSize+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if f.maxSize > 0 && int64(len(data)) > f.maxSize {
		return nil, ErrTooLarge
	}

	f.logger.Debug("media fetched", "url", url, "bytes", len(data))
	return data, nil
}

// cookieFor returns the session cookie for credentialed origins only.
func (f *HTTPFetcher) cookieFor(url string) string {
	if f.creds == nil || f.hosts == nil || !f.hosts.IsCredentialed(url) {
		return ""
	}
	return f.creds.Cookies()
}
