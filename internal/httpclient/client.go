// Package httpclient speaks the WebDAV wire protocol for the client:
// it builds request bodies, sends them and parses multistatus and
// error responses.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/beevik/etree"
	"github.com/cyp0633/libdav/server/dav"
)

// HttpClientWrapper wraps http.Client with the WebDAV methods.
type HttpClientWrapper interface {
	DoPROPFIND(ctx context.Context, url string, depth dav.Depth, props ...dav.Name) (*Multistatus, error)
	DoREPORT(ctx context.Context, url string, depth dav.Depth, body *etree.Document) (*Multistatus, error)
	DoGET(ctx context.Context, url string) (data []byte, etag string, err error)
	DoPUT(ctx context.Context, url string, contentType string, etag string, data []byte) (newEtag string, err error)
	DoDELETE(ctx context.Context, url string, etag string) error
	DoMKCOL(ctx context.Context, method string, url string, body *etree.Document) error
	// Resolve turns a possibly relative reference into an absolute URL.
	Resolve(ref string) (*url.URL, error)
}

type httpClientWrapper struct {
	client  *http.Client
	baseURL url.URL
	logger  *slog.Logger
}

// NewHttpClientWrapper creates a client wrapper resolving references
// against baseURL.
func NewHttpClientWrapper(client *http.Client, baseURL url.URL, logger *slog.Logger) (HttpClientWrapper, error) {
	if client == nil {
		return nil, fmt.Errorf("http client is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if baseURL.Scheme != "http" && baseURL.Scheme != "https" || baseURL.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL.String())
	}
	return &httpClientWrapper{client: client, baseURL: baseURL, logger: logger}, nil
}

func (c *httpClientWrapper) Resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL %q: %w", ref, err)
	}
	return c.baseURL.ResolveReference(u), nil
}

// do sends a request and turns any status outside 2xx into an *Error.
// The caller closes the body of a successful response.
func (c *httpClientWrapper) do(ctx context.Context, method, ref string, header http.Header, body []byte) (*http.Response, error) {
	u, err := c.Resolve(ref)
	if err != nil {
		return nil, err
	}
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), r)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", method, err)
	}
	for k, v := range header {
		req.Header[k] = v
	}

	c.logger.Debug("sending request",
		"method", method,
		"url", u.String())
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, u.String(), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		e := parseError(resp)
		e.Method = method
		e.URL = u.String()
		c.logger.Debug("request failed",
			"method", method,
			"url", u.String(),
			"status", resp.StatusCode,
			"condition", e.Condition)
		return nil, e
	}
	return resp, nil
}

func xmlBody(doc *etree.Document) ([]byte, http.Header, error) {
	h := http.Header{}
	if doc == nil {
		return nil, h, nil
	}
	b, err := doc.WriteToBytes()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	h.Set("Content-Type", "application/xml; charset=utf-8")
	return b, h, nil
}
