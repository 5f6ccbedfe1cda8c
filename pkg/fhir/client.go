package fhir

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	contentType = "application/fhir+json"
	acceptType  = "application/fhir+json;charset=utf-8"

	// sessionCookieName is the load balancer session cookie some deployments sit behind.
	sessionCookieName = "AWSELBAuthSessionCookie-0"
)

// Client talks to a FHIR server. It holds no per-request state and is safe
// for concurrent use.
type Client struct {
	baseURL  *url.URL
	user     string
	password string
	cookie   string
	timeout  time.Duration
	client   *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBasicAuth authenticates every request with HTTP basic auth.
func WithBasicAuth(user, password string) Option {
	return func(c *Client) {
		c.user = user
		c.password = password
	}
}

// WithSessionCookie sends the load balancer session cookie on every request.
func WithSessionCookie(cookie string) Option {
	return func(c *Client) {
		c.cookie = cookie
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.client = hc
	}
}

// WithTimeout sets a per-request timeout. The default is no timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// NewClient creates a client for the server rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		baseURL: u,
		client:  &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 {
		hc := *c.client
		hc.Timeout = c.timeout
		c.client = &hc
	}
	return c, nil
}

// BaseURL returns the server root, always ending in "/".
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Describe fetches the server's capability statement.
func (c *Client) Describe(ctx context.Context) (*CapabilityStatement, error) {
	body, err := c.get(ctx, "describe", c.endpoint(nil, "metadata"))
	if err != nil {
		return nil, err
	}

	var cs CapabilityStatement
	if err := json.Unmarshal(body, &cs); err != nil {
		return nil, fmt.Errorf("%w: capability statement: %v", ErrUnavailable, err)
	}
	if cs.ResourceType != "CapabilityStatement" && cs.ResourceType != "Conformance" {
		return nil, fmt.Errorf("%w: metadata returned %q", ErrUnavailable, cs.ResourceType)
	}
	return &cs, nil
}

// ListAll iterates over every instance of a resource type.
func (c *Client) ListAll(resourceType string) *Cursor {
	return c.cursor("list_all", resourceType, c.endpoint(nil, resourceType))
}

// FetchOne reads a single instance. It returns ErrNotFound for unknown ids.
func (c *Client) FetchOne(ctx context.Context, resourceType, id string) (Resource, error) {
	body, err := c.get(ctx, "fetch_one", c.endpoint(nil, resourceType, id))
	if err != nil {
		var upstream *UpstreamError
		if errors.As(err, &upstream) && (upstream.StatusCode == http.StatusNotFound || upstream.StatusCode == http.StatusGone) {
			return Resource{}, fmt.Errorf("%s/%s: %w", resourceType, id, ErrNotFound)
		}
		return Resource{}, err
	}

	res, err := ParseResource(body)
	if err != nil {
		return Resource{}, fmt.Errorf("%w: %s/%s: %v", ErrUnavailable, resourceType, id, err)
	}
	if res.Type != resourceType {
		return Resource{}, fmt.Errorf("%s/%s: server returned %s: %w", resourceType, id, res.Type, ErrNotFound)
	}
	return res, nil
}

// ScanByValue iterates over instances whose search parameter field equals value.
func (c *Client) ScanByValue(resourceType, field, value string) *Cursor {
	q := url.Values{}
	q.Set(field, value)
	return c.cursor("scan_by_value", resourceType, c.endpoint(q, resourceType))
}

// ScanNonEmpty iterates over instances where field is present, with the
// response projected down to that field. Read it with Resource.Field.
func (c *Client) ScanNonEmpty(resourceType, field string) *Cursor {
	q := url.Values{}
	q.Set(field+":missing", "false")
	q.Set("_elements", field)
	return c.cursor("scan_non_empty", resourceType, c.endpoint(q, resourceType))
}

func (c *Client) cursor(op, resourceType, firstURL string) *Cursor {
	return newCursor(c.get, op, resourceType, c.baseURL, firstURL)
}

func (c *Client) endpoint(query url.Values, segments ...string) string {
	u := c.baseURL.JoinPath(segments...)
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) get(ctx context.Context, op, rawURL string) ([]byte, error) {
	start := time.Now()
	body, err := c.do(ctx, op, rawURL)
	UpstreamDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	outcome := "success"
	switch {
	case err == nil:
	case ctx.Err() != nil:
		outcome = "canceled"
	default:
		outcome = "error"
	}
	UpstreamRequests.WithLabelValues(op, outcome).Inc()
	return body, err
}

func (c *Client) do(ctx context.Context, op, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &UpstreamError{Op: op, URL: rawURL, Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", acceptType)
	if c.user != "" {
		req.SetBasicAuth(c.user, c.password)
	}
	if c.cookie != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: c.cookie})
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &UpstreamError{Op: op, URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &UpstreamError{Op: op, URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{Op: op, URL: rawURL, Err: err}
	}
	return body, nil
}
