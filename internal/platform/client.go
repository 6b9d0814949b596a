// Package platform is a client for the host platform's REST API: file
// downloads, form layouts and record queries and inserts.
//
// Every error it returns wraps ErrPlatform, which in turn wraps
// core.ErrExternal. Non-2xx responses are reported as *APIError.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JonMunkholm/sheetsync/internal/logging"
)

// TokenHeader carries the app API tokens.
const TokenHeader = "X-Cybozu-API-Token"

const (
	// DefaultMaxRecordsPerRequest is the insert limit of one records call.
	DefaultMaxRecordsPerRequest = 100

	defaultTimeout = 30 * time.Second

	// queryPageSize is the largest page the records endpoint returns.
	queryPageSize = 500
)

// Config configures a Client.
type Config struct {
	// BaseURL is the platform origin, e.g. https://example.cybozu.com.
	BaseURL string

	// APITokens are sent comma-joined; a request needs a token valid for
	// every app it touches.
	APITokens []string

	Timeout              time.Duration
	MaxRecordsPerRequest int

	// MaxDownloadSize caps downloaded file bodies in bytes, 0 for no cap.
	MaxDownloadSize int64

	// HTTPClient overrides the default client, mostly for tests.
	HTTPClient *http.Client
}

// Client talks to the platform REST API. It is safe for concurrent use.
type Client struct {
	base    *url.URL
	tokens  string
	http    *http.Client
	maxRecs int
	maxSize int64
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("platform: base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("platform: invalid base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("platform: base url %q must be absolute", cfg.BaseURL)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRecordsPerRequest <= 0 || cfg.MaxRecordsPerRequest > DefaultMaxRecordsPerRequest {
		cfg.MaxRecordsPerRequest = DefaultMaxRecordsPerRequest
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		base:    base,
		tokens:  strings.Join(cfg.APITokens, ","),
		http:    hc,
		maxRecs: cfg.MaxRecordsPerRequest,
		maxSize: cfg.MaxDownloadSize,
	}, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = u.Path + path
	u.RawQuery = query.Encode()
	return u.String()
}

// do sends a request and returns the response when its status is 2xx.
// The caller closes the body.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrPlatform, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != "" {
		req.Header.Set(TokenHeader, c.tokens)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrPlatform, method, path, err)
	}

	logging.FromContext(ctx).Debug("platform request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, fmt.Errorf("%s %s: %w", method, path, decodeError(resp))
	}
	return resp, nil
}

// doJSON sends a request and decodes a JSON response into out.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	resp, err := c.do(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s %s response: %w", ErrPlatform, method, path, err)
	}
	return nil
}
