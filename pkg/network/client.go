package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Default configuration values
const (
	defaultTimeout         = 2 * time.Second
	defaultIdleConnTimeout = 1 * time.Second
)

// clientConfig holds internal configuration
type clientConfig struct {
	timeout           time.Duration
	disableKeepAlives bool
}

// ClientOption configures a Client
type ClientOption func(*clientConfig)

// WithTimeout sets the request timeout. Zero disables the timeout, which
// is what a long-lived event stream wants.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.timeout = d
	}
}

// WithKeepAlive enables or disables HTTP keep-alive. Enable it for clients
// that issue many small requests, like per-keystroke terminal writes.
func WithKeepAlive(enabled bool) ClientOption {
	return func(c *clientConfig) {
		c.disableKeepAlives = !enabled
	}
}

// Client provides HTTP operations against the daemon API over a Unix
// socket or TCP. It is immutable after creation and safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

func defaultConfig() *clientConfig {
	return &clientConfig{
		timeout:           defaultTimeout,
		disableKeepAlives: true,
	}
}

func newClient(baseURL string, dialFunc func(ctx context.Context, network, addr string) (net.Conn, error), cfg *clientConfig) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: cfg.timeout,
			Transport: &http.Transport{
				DialContext:           dialFunc,
				DisableKeepAlives:     cfg.disableKeepAlives,
				MaxIdleConnsPerHost:   1,
				IdleConnTimeout:       defaultIdleConnTimeout,
				ResponseHeaderTimeout: cfg.timeout,
			},
		},
	}
}

// NewUnixClient creates a new HTTP client for Unix socket communication.
func NewUnixClient(socketPath string, opts ...ClientOption) *Client {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	dialFunc := func(ctx context.Context, _, _ string) (net.Conn, error) {
		dialer := &net.Dialer{Timeout: cfg.timeout}
		return dialer.DialContext(ctx, "unix", socketPath)
	}

	return newClient("http://unix", dialFunc, cfg)
}

// NewTCPClient creates a new HTTP client for TCP communication.
func NewTCPClient(addr string, opts ...ClientOption) *Client {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	dialFunc := func(ctx context.Context, _, _ string) (net.Conn, error) {
		dialer := &net.Dialer{Timeout: cfg.timeout}
		return dialer.DialContext(ctx, "tcp", addr)
	}

	return newClient("http://"+addr, dialFunc, cfg)
}

// NewClientFromAddr builds a client for a listener address in any accepted
// form: a unix:// URL, a raw socket path, or tcp://<host>:<port>.
func NewClientFromAddr(listener string, opts ...ClientOption) (*Client, error) {
	if strings.HasPrefix(listener, "tcp://") {
		addr, err := ParseTcpAddr(listener)
		if err != nil {
			return nil, fmt.Errorf("invalid tcp URL %q: %w", listener, err)
		}
		return NewTCPClient(fmt.Sprintf("%s:%d", addr.Host, addr.Port), opts...), nil
	}

	raw := listener
	if !strings.Contains(raw, "://") {
		raw = "unix://" + raw
	}
	addr, err := ParseUnixAddr(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid unix URL %q: %w", listener, err)
	}
	return NewUnixClient(addr.Path, opts...), nil
}

// Close closes the HTTP client and cleans up resources
func (c *Client) Close() error {
	if transport, ok := c.httpClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return nil
}

// Request represents an HTTP request being built.
// Methods return the request for chaining.
type Request struct {
	client  *Client
	method  string
	path    string
	headers http.Header
	query   url.Values
	body    io.Reader
	err     error
}

// NewRequest creates a new request builder
func (c *Client) NewRequest(method, path string) *Request {
	return &Request{
		client:  c,
		method:  method,
		path:    path,
		headers: make(http.Header),
		query:   make(url.Values),
	}
}

// Get creates a GET request builder
func (c *Client) Get(path string) *Request {
	return c.NewRequest(http.MethodGet, path)
}

// Post creates a POST request builder
func (c *Client) Post(path string) *Request {
	return c.NewRequest(http.MethodPost, path)
}

// Delete creates a DELETE request builder
func (c *Client) Delete(path string) *Request {
	return c.NewRequest(http.MethodDelete, path)
}

// Header adds a header to the request
func (r *Request) Header(key, value string) *Request {
	r.headers.Set(key, value)
	return r
}

// Query adds a query parameter to the request
func (r *Request) Query(key, value string) *Request {
	r.query.Set(key, value)
	return r
}

// Body sets the request body
func (r *Request) Body(body io.Reader) *Request {
	r.body = body
	return r
}

// JSON sets Content-Type and Accept headers to application/json
func (r *Request) JSON() *Request {
	return r.Header("Content-Type", "application/json").Header("Accept", "application/json")
}

// BodyJSON marshals v as the request body and sets JSON headers.
func (r *Request) BodyJSON(v any) *Request {
	data, err := json.Marshal(v)
	if err != nil {
		r.err = fmt.Errorf("failed to marshal request body: %w", err)
		return r
	}
	r.body = bytes.NewReader(data)
	return r.JSON()
}

// buildURL constructs the full URL for the request
func (r *Request) buildURL() string {
	return r.client.baseURL + filepath.Clean(filepath.Join("/", r.path))
}

// Do executes the request and returns the response
func (r *Request) Do(ctx context.Context) (*http.Response, error) {
	if r.err != nil {
		return nil, r.err
	}

	req, err := http.NewRequestWithContext(ctx, r.method, r.buildURL(), r.body)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", r.method, err)
	}

	req.Header = r.headers
	if len(r.query) > 0 {
		req.URL.RawQuery = r.query.Encode()
	}

	logrus.Debugf("http request: %s %s", req.Method, req.URL.String())

	resp, err := r.client.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP %s request failed: %w", r.method, err)
	}

	return resp, nil
}

// DoAndRead executes the request, reads the body, and closes the response
func (r *Request) DoAndRead(ctx context.Context) ([]byte, int, error) {
	resp, err := r.Do(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer CloseResponse(resp)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}

	return body, resp.StatusCode, nil
}

// DoJSON executes the request and decodes a JSON response into out.
// Pass nil for responses with no body of interest.
func (r *Request) DoJSON(ctx context.Context, out any) (int, error) {
	body, status, err := r.DoAndRead(ctx)
	if err != nil {
		return status, err
	}
	if out == nil || len(body) == 0 {
		return status, nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return status, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return status, nil
}

// CloseResponse safely closes HTTP response body
func CloseResponse(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		if err := resp.Body.Close(); err != nil {
			logrus.Debugf("failed to close response body: %v", err)
		}
	}
}
