package server

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/cyp0633/libdav/server/dav"
)

// RequestContext is handed to every handler of one request. Request
// scoped state lives here, never on the Server.
type RequestContext struct {
	Request  *http.Request
	Response *Response
	// Path is the request path relative to the base URI.
	Path string
	// Principal is the authenticated principal path, set by an
	// authentication plugin. Empty for anonymous requests.
	Principal string
	Server    *Server

	values map[any]any
}

// Context returns the request context.
func (rc *RequestContext) Context() context.Context {
	return rc.Request.Context()
}

// Method returns the HTTP method.
func (rc *RequestContext) Method() string {
	return rc.Request.Method
}

// Value returns a per-request value set by a handler.
func (rc *RequestContext) Value(key any) any {
	return rc.values[key]
}

// SetValue stores a per-request value.
func (rc *RequestContext) SetValue(key, value any) {
	if rc.values == nil {
		rc.values = make(map[any]any)
	}
	rc.values[key] = value
}

// Depth parses the Depth header, returning def when it is absent.
func (rc *RequestContext) Depth(def dav.Depth) (dav.Depth, error) {
	d, err := dav.ParseDepth(rc.Request.Header.Get("Depth"), def)
	if err != nil {
		return 0, dav.BadRequest("%v", err)
	}
	return d, nil
}

// Destination resolves the Destination header to a tree path.
func (rc *RequestContext) Destination() (string, error) {
	raw := rc.Request.Header.Get("Destination")
	if raw == "" {
		return "", dav.BadRequest("missing Destination header")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", dav.BadRequest("invalid Destination header: %v", err)
	}
	if u.Host != "" && rc.Request.Host != "" && !strings.EqualFold(u.Host, rc.Request.Host) {
		return "", dav.BadGateway("destination %s is on another server", raw)
	}
	p, ok := rc.Server.stripPrefix(u.Path)
	if !ok {
		return "", dav.BadGateway("destination %s is outside the server", raw)
	}
	return p, nil
}

// Overwrite parses the Overwrite header. It defaults to true.
func (rc *RequestContext) Overwrite() (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(rc.Request.Header.Get("Overwrite"))) {
	case "", "T":
		return true, nil
	case "F":
		return false, nil
	}
	return false, dav.BadRequest("invalid Overwrite header")
}

// PreferMinimal reports whether the client sent Prefer: return=minimal.
func (rc *RequestContext) PreferMinimal() bool {
	for _, v := range rc.Request.Header.Values("Prefer") {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), "return=minimal") {
				return true
			}
		}
	}
	return strings.EqualFold(rc.Request.Header.Get("Brief"), "t")
}

// Response records the status written through it.
type Response struct {
	http.ResponseWriter
	status  int
	written int64
}

func (r *Response) WriteHeader(status int) {
	if r.status != 0 {
		return
	}
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *Response) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.WriteHeader(http.StatusOK)
	}
	n, err := r.ResponseWriter.Write(b)
	r.written += int64(n)
	return n, err
}

// Status returns the status written, or 0.
func (r *Response) Status() int {
	return r.status
}

// Written reports whether a status has been sent.
func (r *Response) Written() bool {
	return r.status != 0
}

// BytesWritten returns the number of body bytes sent.
func (r *Response) BytesWritten() int64 {
	return r.written
}
