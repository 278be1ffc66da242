package httpclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
)

// BasicAuthTransport implements http.RoundTripper and adds Basic Auth
// credentials to outgoing requests.
type BasicAuthTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
	Logger    *slog.Logger
}

// NewBasicAuthTransport creates a new BasicAuthTransport with the given
// credentials and optional underlying transport. If transport is nil,
// http.DefaultTransport will be used.
func NewBasicAuthTransport(username, password string, transport http.RoundTripper, logger *slog.Logger) *BasicAuthTransport {
	if transport == nil {
		transport = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &BasicAuthTransport{
		Username:  username,
		Password:  password,
		Transport: transport,
		Logger:    logger,
	}
}

// RoundTrip implements the http.RoundTripper interface. Bodies are only
// captured for the log when debug logging is on.
func (t *BasicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Username == "" {
		return nil, errors.New("basic auth username cannot be empty")
	}
	if t.Transport == nil {
		return nil, errors.New("transport cannot be nil")
	}
	debug := t.Logger.Enabled(req.Context(), slog.LevelDebug)

	// RoundTrip must not modify the caller's request.
	req = req.Clone(req.Context())
	req.SetBasicAuth(t.Username, t.Password)
	if debug {
		var body string
		req.Body, body = capture(req.Body)
		t.Logger.Debug("outgoing request",
			"method", req.Method,
			"url", req.URL.String(),
			"depth", req.Header.Get("Depth"),
			"body", body)
	}

	resp, err := t.Transport.RoundTrip(req)
	if err != nil || !debug {
		return resp, err
	}
	var body string
	resp.Body, body = capture(resp.Body)
	t.Logger.LogAttrs(context.Background(), slog.LevelDebug, "incoming response",
		slog.String("status", resp.Status),
		slog.String("etag", resp.Header.Get("ETag")),
		slog.String("body", body))
	return resp, nil
}

// capture reads rc and returns a fresh reader over the same bytes.
func capture(rc io.ReadCloser) (io.ReadCloser, string) {
	if rc == nil || rc == http.NoBody {
		return rc, ""
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return io.NopCloser(bytes.NewReader(b)), ""
	}
	return io.NopCloser(bytes.NewReader(b)), string(b)
}
