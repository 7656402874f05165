// Package zoneminder talks to a ZoneMinder host over its HTTP API: it raises
// and annotates events, reports monitor state, and serves snapshots as frames.
package zoneminder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/okian/aidect/pkg/logger"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultIdleState = 1
	maxErrorBody     = 512
)

// Client is a ZoneMinder API client. It is safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	timeout    time.Duration
	user       string
	password   string
	idleState  int
	logger     logger.Logger

	mu    sync.Mutex
	token string
}

// New creates a client for the host rooted at baseURL, e.g. "http://nvr/zm".
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("zoneminder: parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("zoneminder: base url %q must be absolute", baseURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}

	c := &Client{
		baseURL:   u,
		timeout:   defaultTimeout,
		idleState: defaultIdleState,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	if c.logger == nil {
		c.logger = logger.Get().Named("zoneminder")
	}
	return c, nil
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	Version     string `json:"version"`
}

// Login obtains an access token when credentials are configured. Without
// credentials it is a no-op.
func (c *Client) Login(ctx context.Context) error {
	if c.user == "" {
		return nil
	}
	form := url.Values{"user": {c.user}, "pass": {c.password}}
	var resp loginResponse
	if err := c.do(ctx, http.MethodPost, "api/host/login.json", nil, form, &resp); err != nil {
		return fmt.Errorf("%w: %w", ErrLogin, err)
	}
	if resp.AccessToken == "" {
		return fmt.Errorf("%w: empty access token", ErrLogin)
	}

	c.mu.Lock()
	c.token = resp.AccessToken
	c.mu.Unlock()

	c.logger.Info(ctx, "logged in to host", logger.String("version", resp.Version))
	return nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// endpoint resolves path against the base URL and attaches the token.
func (c *Client) endpoint(path string, query url.Values) string {
	u := c.baseURL.ResolveReference(&url.URL{Path: path})
	q := url.Values{}
	for k, v := range query {
		q[k] = v
	}
	c.mu.Lock()
	if c.token != "" {
		q.Set("token", c.token)
	}
	c.mu.Unlock()
	u.RawQuery = q.Encode()
	return u.String()
}

// get issues a GET and returns the body of a 2xx response.
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path, query), http.NoBody)
	if err != nil {
		return nil, err
	}
	return c.send(req)
}

// do sends a request with an optional form body and decodes a JSON reply
// into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, query, form url.Values, out any) error {
	var body io.Reader = http.NoBody
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), body)
	if err != nil {
		return err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")

	data, err := c.send(req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) send(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: %s %s: %d %s", ErrUnexpectedStatus,
			req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return io.ReadAll(resp.Body)
}
