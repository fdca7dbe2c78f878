// Package storageclient sends best-effort DELETE requests to the image
// storage service for URLs CatalogWriter has identified as duplicates
// of an already-canonical image.
//
// Grounded on
// original_source/converter/adapters/storage_http.py's
// StorageHTTPRepository, translated onto net/http in the style of
// PriFo-HttpServer's server/dadata_client.go (a bare *http.Client
// wrapped by a small typed client, no HTTP framework).
package storageclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client issues DELETE /api/images/<name> requests against a storage
// service, tolerating 404 (already gone) as success and, unless
// FailOnError is set, logging and swallowing any other failure so one
// bad delete never aborts a sync run.
type Client struct {
	baseURL     string
	origin      string
	apiToken    string
	httpClient  *http.Client
	FailOnError bool
}

// New validates baseURL and apiToken and returns a ready Client.
// timeout defaults to 10 seconds when zero or negative.
func New(baseURL, apiToken string, timeout time.Duration) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	parsed, err := url.Parse(trimmed)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("storageclient: base_url must be a valid http(s) URL")
	}

	token := strings.TrimSpace(apiToken)
	if token == "" {
		return nil, fmt.Errorf("storageclient: api_token must be non-empty")
	}

	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL:    trimmed,
		origin:     parsed.Scheme + "://" + parsed.Host,
		apiToken:   token,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// DeleteImages extracts the unique image names addressable at this
// client's origin out of urls and deletes each one in turn. Failures
// are always logged; they are also returned, joined, when FailOnError
// is set, so a caller that wants sync runs to fail loudly on storage
// trouble can opt into that by checking the returned error.
func (c *Client) DeleteImages(ctx context.Context, urls []string) error {
	var failures []error
	for _, name := range c.uniqueImageNames(urls) {
		if err := c.deleteOne(ctx, name); err != nil {
			failures = append(failures, err)
		}
	}
	if !c.FailOnError || len(failures) == 0 {
		return nil
	}
	return fmt.Errorf("storageclient: %d image delete(s) failed: %w", len(failures), errors.Join(failures...))
}

func (c *Client) uniqueImageNames(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		name := c.imageNameFromURL(raw)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// imageNameFromURL accepts an absolute URL on this client's origin or a
// bare path, and returns the image name if it falls under
// /api/images/, /images/, or images/ — rejecting anything that would
// escape that directory (path separators, "..").
func (c *Client) imageNameFromURL(raw string) string {
	token := strings.TrimSpace(raw)
	if token == "" {
		return ""
	}

	path := token
	if parsed, err := url.Parse(token); err == nil && parsed.Scheme != "" && parsed.Host != "" {
		origin := parsed.Scheme + "://" + parsed.Host
		if origin != c.origin {
			return ""
		}
		path = parsed.Path
	}

	clean := strings.TrimSpace(path)
	var name string
	switch {
	case strings.HasPrefix(clean, "/api/images/"):
		name = strings.TrimPrefix(clean, "/api/images/")
	case strings.HasPrefix(clean, "/images/"):
		name = strings.TrimPrefix(clean, "/images/")
	case strings.HasPrefix(clean, "images/"):
		name = strings.TrimPrefix(clean, "images/")
	default:
		return ""
	}

	decoded, err := url.QueryUnescape(name)
	if err != nil {
		decoded = name
	}
	decoded = strings.TrimLeft(strings.TrimSpace(decoded), "/")
	if decoded == "" || strings.ContainsAny(decoded, "/\\") || strings.Contains(decoded, "..") {
		return ""
	}
	return decoded
}

func (c *Client) deleteOne(ctx context.Context, imageName string) error {
	target := c.baseURL + "/api/images/" + url.PathEscape(imageName)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target, nil)
	if err != nil {
		return c.reportFailure(imageName, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.reportFailure(imageName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return c.reportFailure(imageName, fmt.Errorf("HTTP %d", resp.StatusCode))
}

func (c *Client) reportFailure(imageName string, err error) error {
	wrapped := fmt.Errorf("delete failed for %s: %w", imageName, err)
	slog.Warn("storageclient: image delete failed", "image_name", imageName, "error", err)
	return wrapped
}
