// Package davclient is a client for WebDAV servers with the CalDAV and
// CardDAV extensions: service discovery, collections, calendar objects,
// contacts and incremental sync.
package davclient

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/cyp0633/libdav/internal/httpclient"
)

// Error is a request the server answered outside 2xx.
type Error = httpclient.Error

// StatusOf returns the status code of an *Error in err's chain, or 0.
func StatusOf(err error) int {
	return httpclient.StatusOf(err)
}

// Client talks to one DAV server. Hrefs passed to its methods may be
// relative to the endpoint.
type Client struct {
	http     httpclient.HttpClientWrapper
	endpoint *url.URL
	client   *http.Client
	resolver DNSResolver
	logger   *slog.Logger
	username string
	password string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.client = c
	}
}

// WithBasicAuth sends credentials with every request.
func WithBasicAuth(username, password string) Option {
	return func(cl *Client) {
		cl.username = username
		cl.password = password
	}
}

// WithLogger sets the logger. Request details are logged at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = l
	}
}

// WithResolver sets the resolver used for SRV discovery.
func WithResolver(r DNSResolver) Option {
	return func(cl *Client) {
		cl.resolver = r
	}
}

// New creates a client for the server at endpoint.
func New(endpoint string, opts ...Option) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid URL %q", endpoint)
	}
	c := &Client{
		endpoint: u,
		resolver: &net.Resolver{},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}

	hc := &http.Client{}
	if c.client != nil {
		copied := *c.client
		hc = &copied
	}
	if c.username != "" {
		hc.Transport = httpclient.NewBasicAuthTransport(c.username, c.password, hc.Transport, c.logger)
	}
	c.client = hc
	c.http, err = httpclient.NewHttpClientWrapper(hc, *u, c.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client wrapper: %w", err)
	}
	return c, nil
}

// Endpoint returns the URL the client was created with.
func (c *Client) Endpoint() string {
	return c.endpoint.String()
}

// resolve returns the absolute form of ref.
func (c *Client) resolve(ref string) string {
	u, err := c.http.Resolve(ref)
	if err != nil {
		return ref
	}
	return u.String()
}

// path returns the path of ref resolved against the endpoint, the form
// servers use in multistatus hrefs.
func (c *Client) path(ref string) string {
	u, err := c.http.Resolve(ref)
	if err != nil {
		return ref
	}
	return u.EscapedPath()
}
