// Package metadata fetches condition metadata documents and their images
// from a content-addressed gateway.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/predictionhub/internal/domain"
)

// MaxImageBytes caps the size of a downloaded image.
const MaxImageBytes = 5 << 20

// Client reads metadata documents from the gateway.
type Client struct {
	gateway    string
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      domain.MetadataCache
	validate   *validator.Validate
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit caps gateway requests per second.
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithCache stores decoded documents by content hash.
func WithCache(cache domain.MetadataCache) Option {
	return func(c *Client) { c.cache = cache }
}

// WithLogger sets the logger used for cache failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a gateway client. gateway is the base URL, e.g.
// "https://arweave.net".
func NewClient(gateway string, opts ...Option) *Client {
	c := &Client{
		gateway:    strings.TrimRight(gateway, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With(slog.String("component", "metadata"))
	return c
}

// Fetch returns the validated metadata document stored under hash. Documents
// that fail to decode or miss a required field wrap domain.ErrInvalidMetadata.
func (c *Client) Fetch(ctx context.Context, hash string) (domain.Metadata, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return domain.Metadata{}, fmt.Errorf("metadata: empty hash: %w", domain.ErrInvalidMetadata)
	}

	if c.cache != nil {
		m, err := c.cache.GetMetadata(ctx, hash)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			c.logger.Warn("metadata cache read failed",
				slog.String("hash", hash),
				slog.String("error", err.Error()),
			)
		}
	}

	body, _, err := c.get(ctx, c.gateway+"/"+hash, 1<<20)
	if err != nil {
		return domain.Metadata{}, fmt.Errorf("metadata: fetch %s: %w", hash, err)
	}

	var m domain.Metadata
	if err := json.Unmarshal(body, &m); err != nil {
		return domain.Metadata{}, fmt.Errorf("metadata: decode %s: %v: %w", hash, err, domain.ErrInvalidMetadata)
	}
	if err := c.validate.Struct(m); err != nil {
		return domain.Metadata{}, fmt.Errorf("metadata: validate %s: %v: %w", hash, err, domain.ErrInvalidMetadata)
	}

	if c.cache != nil {
		if err := c.cache.SetMetadata(ctx, hash, m); err != nil {
			c.logger.Warn("metadata cache write failed",
				slog.String("hash", hash),
				slog.String("error", err.Error()),
			)
		}
	}
	return m, nil
}

// FetchImage downloads the image referenced by ref. A bare content hash is
// resolved against the gateway; anything with a scheme is fetched as is.
func (c *Client) FetchImage(ctx context.Context, ref string) ([]byte, string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, "", errors.New("metadata: empty image reference")
	}

	body, contentType, err := c.get(ctx, c.ImageURL(ref), MaxImageBytes)
	if err != nil {
		return nil, "", fmt.Errorf("metadata: fetch image: %w", err)
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(body)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, "", fmt.Errorf("metadata: fetch image: unexpected content type %q", contentType)
	}
	return body, contentType, nil
}

// ImageURL returns the absolute URL for an image reference.
func (c *Client) ImageURL(ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	return c.gateway + "/" + strings.TrimPrefix(ref, "ar://")
}

func (c *Client) get(ctx context.Context, url string, limit int64) ([]byte, string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, "", fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		if resp.StatusCode == http.StatusNotFound {
			return nil, "", fmt.Errorf("HTTP 404: %w", domain.ErrNotFound)
		}
		return nil, "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, snippet)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, "", fmt.Errorf("read response: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, "", fmt.Errorf("response exceeds %d bytes", limit)
	}

	contentType := resp.Header.Get("Content-Type")
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return body, strings.TrimSpace(contentType), nil
}
