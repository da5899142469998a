// Package backend talks to the content-addressed storage endpoint.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultContentType is reported when the backend omits Content-Type.
const DefaultContentType = "application/octet-stream"

// Config controls the backend client.
type Config struct {
	// BaseURL is the backend endpoint, e.g. http://localhost:18888.
	BaseURL string
	// Timeout bounds a whole Fetch call. Zero fails every Fetch at once.
	Timeout time.Duration
	// Transport overrides the pooled default transport.
	Transport http.RoundTripper
}

// Response is a fully buffered backend response.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
	Duration    time.Duration
}

// Client issues requests against the backend.
type Client struct {
	base    string
	timeout time.Duration
	http    *http.Client
}

// New validates cfg and builds a Client.
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend url %q must be http or https", cfg.BaseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("backend url %q has no host", cfg.BaseURL)
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("backend timeout must be >= 0")
	}
	transport := cfg.Transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	return &Client{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		http:    &http.Client{Transport: transport},
	}, nil
}

// URL returns the backend URL for address.
func (c *Client) URL(address string) string {
	return c.base + "/" + strings.TrimPrefix(address, "/")
}

// Timeout returns the per-fetch deadline.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Fetch GETs address and buffers the entire body. The deadline covers the
// headers and the body.
func (c *Client) Fetch(ctx context.Context, address string) (Response, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.Open(ctx, address)
	if err != nil {
		return Response{}, c.classify(ctx, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Response{}, &StatusError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, c.classify(ctx, fmt.Errorf("read body: %w", err))
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = DefaultContentType
	}
	return Response{
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Body:        body,
		Duration:    time.Since(start),
	}, nil
}

// Open issues a GET for address and returns the live response. The caller owns
// the body. Redirects are followed.
func (c *Client) Open(ctx context.Context, address string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(address), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend request: %w", err)
	}
	return resp, nil
}

func (c *Client) classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Timeout: c.timeout}
	}
	return &TransportError{Err: err}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
	}
}
