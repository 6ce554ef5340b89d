package remote

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vertextoedge/media-stream-cache/internal/port"
)

// DefaultVariantParam is the query parameter that selects a transcoding variant
const DefaultVariantParam = "transcode"

// ClientConfig contains client configuration
type ClientConfig struct {
	BaseURL               string
	VariantParam          string
	SkipTLSVerify         bool
	ResponseHeaderTimeout time.Duration // 0 = none
	PingTimeout           time.Duration
	UserAgent             string
}

// DefaultClientConfig returns default client configuration
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		VariantParam:          DefaultVariantParam,
		ResponseHeaderTimeout: 30 * time.Second,
		PingTimeout:           5 * time.Second,
		UserAgent:             "media-stream-cache",
	}
}

// Client fetches resources from the origin server
type Client struct {
	baseURL        *url.URL
	config         ClientConfig
	httpClient     *http.Client
	downloadClient *http.Client
}

// Ensure Client implements port.RemoteSource
var _ port.RemoteSource = (*Client)(nil)

// NewClient creates a new origin client
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base url is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url scheme %q", base.Scheme)
	}
	if cfg.VariantParam == "" {
		cfg.VariantParam = DefaultVariantParam
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 5 * time.Second
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.SkipTLSVerify,
		},
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
	}

	downloadTransport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.SkipTLSVerify,
		},
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     120 * time.Second,

		// Bodies are stored byte for byte
		DisableCompression: true,

		// Response header timeout (not total download timeout)
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
	}

	return &Client{
		baseURL: base,
		config:  cfg,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.PingTimeout,
		},
		downloadClient: &http.Client{
			Transport: downloadTransport,
			Timeout:   0, // No timeout for downloads
		},
	}, nil
}

// BaseURL returns the configured base URL
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// ResourceURL builds the URL of a resource path with an optional variant
func (c *Client) ResourceURL(path, variant string) string {
	u := c.baseURL.JoinPath(strings.TrimPrefix(path, "/"))
	if variant != "" {
		q := u.Query()
		q.Set(c.config.VariantParam, variant)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// Fetch issues a GET for the resource, resuming at req.Offset when it is positive
func (c *Client) Fetch(ctx context.Context, req *port.FetchRequest) (*port.FetchResponse, error) {
	urlStr := c.ResourceURL(req.Path, req.Variant)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if req.Offset > 0 {
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-", req.Offset))
	}
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}
	if c.config.UserAgent != "" {
		httpReq.Header.Set("User-Agent", c.config.UserAgent)
	}

	resp, err := c.downloadClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	return &port.FetchResponse{
		StatusCode:    resp.StatusCode,
		Status:        resp.Status,
		URL:           urlStr,
		ContentLength: resp.ContentLength,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentRange:  resp.Header.Get("Content-Range"),
		Body:          resp.Body,
	}, nil
}

// Ping checks that the origin answers at all. Any HTTP status counts as reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("origin unreachable: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}
