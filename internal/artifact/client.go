package artifact

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/surgutroads/roadwatch/internal/log"
)

// UpstreamError reports a non-200 answer from the artifact host. The
// web proxy relays Status to its own caller.
type UpstreamError struct {
	Status int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("artifact host returned status %d", e.Status)
}

// maxImageBytes caps a single chart download.
const maxImageBytes = 16 << 20

// Client fetches chart images from the capability server's static
// /plots/ tree. The application proxies through this client instead of
// exposing the upstream host to browsers, which keeps pages same-origin
// and HTTPS-clean.
type Client struct {
	base   string
	http   *http.Client
	logger log.Logger
}

// NewClient creates an artifact client for the given upstream base URL
// (scheme://host[:port], no trailing slash needed).
func NewClient(base string, logger log.Logger) *Client {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With("component", "artifact"),
	}
}

// Fetch downloads one chart. path is the reference as it appears in
// text ("/plots/..." or just the trailing part). Path traversal is
// rejected before any request is made.
func (c *Client) Fetch(ctx context.Context, path string) ([]byte, error) {
	cleaned, err := cleanPath(path)
	if err != nil {
		return nil, err
	}

	url := c.base + "/plots/" + cleaned
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build artifact request: %w", err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch artifact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{Status: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("read artifact body: %w", err)
	}
	return data, nil
}

func cleanPath(path string) (string, error) {
	p := strings.TrimPrefix(path, "/plots/")
	p = strings.TrimPrefix(p, "plots/")
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return "", fmt.Errorf("empty artifact path")
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." || part == "" {
			return "", fmt.Errorf("invalid artifact path %q", path)
		}
	}
	return p, nil
}
