// Package remote talks to the liked-media listing and delete endpoints.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/iconidentify/likevault/internal/config"
)

const (
	listPath   = "/rest/media/post/list"
	deletePath = "/rest/media/post/delete"

	// maxErrorBody bounds how much of an error response is kept.
	maxErrorBody = 4 << 10
)

// ListRequest is one page request against the listing endpoint.
type ListRequest struct {
	Limit  int
	Source string
	Cursor string
}

// Page is one listing response. Posts are kept raw for normalization.
type Page struct {
	Posts      []json.RawMessage `json:"posts"`
	NextCursor string            `json:"nextCursor"`
}

// StatusError is returned for non-2xx listing responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Client is an HTTP client for the remote media service. It carries the
// session cookie on every request; the cookie can be replaced at runtime.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client

	mu      sync.RWMutex
	cookies string
}

// NewClient creates a new remote client.
func NewClient(cfg config.RemoteConfig) *Client {
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		cookies:   cfg.Cookie,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// SetCookies replaces the session Cookie header.
func (c *Client) SetCookies(header string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cookies = header
}

// Cookies returns the current session Cookie header.
func (c *Client) Cookies() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cookies
}

// Identity returns the active user identity derived from the session cookie.
func (c *Client) Identity() string {
	return IdentityFromCookies(c.Cookies())
}

type listBody struct {
	Limit  int        `json:"limit"`
	Filter listFilter `json:"filter"`
	Cursor string     `json:"cursor,omitempty"`
}

type listFilter struct {
	Source string `json:"source"`
}

// ListPage fetches one page of the liked-media listing.
func (c *Client) ListPage(ctx context.Context, req ListRequest) (*Page, error) {
	body := listBody{
		Limit:  req.Limit,
		Filter: listFilter{Source: req.Source},
		Cursor: req.Cursor,
	}

	resp, err := c.post(ctx, listPath, body)
	if err != nil {
		return nil, fmt.Errorf("list page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	var page Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}
	return &page, nil
}

// DeletePost asks the remote to delete a post. The returned error is set only
// when no response was received; any HTTP status is returned as-is.
func (c *Client) DeletePost(ctx context.Context, postID string) (int, error) {
	resp, err := c.post(ctx, deletePath, map[string]string{"id": postID})
	if err != nil {
		return 0, fmt.Errorf("delete post: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	return resp.StatusCode, nil
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) (*http.Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if cookies := c.Cookies(); cookies != "" {
		req.Header.Set("Cookie", cookies)
	}

	return c.httpClient.Do(req)
}
