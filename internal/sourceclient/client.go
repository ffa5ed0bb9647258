// Package sourceclient is the shared HTTP client for upstream data sources:
// fixed-window rate limiting, credential injection, typed upstream errors and a
// small response cache. One Client exists per upstream for the life of the process.
package sourceclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultMaxRequests = 580
	DefaultWindow      = 5 * time.Minute
	DefaultTimeout     = 30 * time.Second
	defaultUserAgent   = "grantmatch/1.0 (+https://github.com/david/grantmatch)"
	maxBodyBytes       = 10 * 1024 * 1024
)

type AuthScheme string

const (
	AuthNone   AuthScheme = ""
	AuthBasic  AuthScheme = "basic"  // API key as basic-auth username, empty password
	AuthHeader AuthScheme = "header" // API key in AuthHeaderName
)

type Config struct {
	Name              string
	BaseURL           string
	APIKey            string
	RequireAPIKey     bool
	Auth              AuthScheme
	AuthHeaderName    string
	Headers           map[string]string
	UserAgent         string
	MaxRequests       int
	Window            time.Duration
	RequestsPerSecond float64
	Timeout           time.Duration
	CacheTTL          time.Duration

	// HTTPClient replaces the default client; its Timeout is left untouched.
	HTTPClient *http.Client
}

type Client struct {
	cfg      Config
	http     *http.Client
	limiter  *WindowLimiter
	smoother *rate.Limiter
	cache    *responseCache
}

func New(cfg Config) (*Client, error) {
	if cfg.RequireAPIKey && strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%s: %w", cfg.Name, ErrMissingCredentials)
	}
	if cfg.Auth == AuthHeader && cfg.AuthHeaderName == "" {
		return nil, fmt.Errorf("%s: header auth requires a header name", cfg.Name)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	c := &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: NewWindowLimiter(cfg.MaxRequests, cfg.Window),
		cache:   newResponseCache(),
	}
	if cfg.RequestsPerSecond > 0 {
		c.smoother = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c, nil
}

func (c *Client) Name() string    { return c.cfg.Name }
func (c *Client) BaseURL() string { return c.cfg.BaseURL }

// Limiter exposes the client's window limiter.
func (c *Client) Limiter() *WindowLimiter { return c.limiter }

type requestOptions struct {
	cacheTTL time.Duration
	headers  map[string]string
}

type RequestOption func(*requestOptions)

// WithCacheTTL overrides the client's default cache TTL for one request. Zero disables caching.
func WithCacheTTL(d time.Duration) RequestOption {
	return func(o *requestOptions) { o.cacheTTL = d }
}

func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) {
		if o.headers == nil {
			o.headers = make(map[string]string)
		}
		o.headers[key] = value
	}
}

// URL resolves path against the base URL. Absolute URLs pass through.
func (c *Client) URL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	base := strings.TrimRight(c.cfg.BaseURL, "/")
	if path == "" {
		return base
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

// Get performs a rate-limited GET and returns the body of a 2xx response.
// Non-2xx responses become *UpstreamError. Cached bodies skip the limiter.
func (c *Client) Get(ctx context.Context, path string, opts ...RequestOption) ([]byte, error) {
	o := requestOptions{cacheTTL: c.cfg.CacheTTL}
	for _, opt := range opts {
		opt(&o)
	}

	target := c.URL(path)
	if body, ok := c.cache.get(target, o.cacheTTL); ok {
		return body, nil
	}

	if err := c.wait(ctx); err != nil {
		return nil, fmt.Errorf("%s rate limiter: %w", c.cfg.Name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.decorate(req)
	for k, v := range o.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", c.cfg.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%s reading body: %w", c.cfg.Name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode != http.StatusNotFound {
			log.Printf("[%s] %s returned %d", c.cfg.Name, target, resp.StatusCode)
		}
		return nil, &UpstreamError{
			Client:     c.cfg.Name,
			StatusCode: resp.StatusCode,
			Body:       string(body),
			URL:        target,
		}
	}

	c.cache.set(target, body, o.cacheTTL)
	return body, nil
}

// GetJSON decodes a successful response body into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any, opts ...RequestOption) error {
	body, err := c.Get(ctx, path, opts...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s decoding response: %w", c.cfg.Name, err)
	}
	return nil
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if c.smoother != nil {
		return c.smoother.Wait(ctx)
	}
	return nil
}

func (c *Client) decorate(req *http.Request) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	for k, v := range c.cfg.Headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	if c.cfg.APIKey == "" {
		return
	}
	switch c.cfg.Auth {
	case AuthBasic:
		req.SetBasicAuth(c.cfg.APIKey, "")
	case AuthHeader:
		req.Header.Set(c.cfg.AuthHeaderName, c.cfg.APIKey)
	}
}

// Transport returns a RoundTripper that shares this client's limiter and
// credentials, for libraries that drive their own requests.
func (c *Client) Transport() http.RoundTripper {
	base := c.http.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return &limitedTransport{client: c, base: base}
}

type limitedTransport struct {
	client *Client
	base   http.RoundTripper
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.client.wait(req.Context()); err != nil {
		return nil, fmt.Errorf("%s rate limiter: %w", t.client.cfg.Name, err)
	}
	r := req.Clone(req.Context())
	t.client.decorate(r)
	return t.base.RoundTrip(r)
}
