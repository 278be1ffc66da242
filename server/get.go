package server

import (
	"io"
	"net/http"
	"strconv"

	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/tree"
)

func (s *Server) handleGet(rc *RequestContext) error {
	node, err := s.tree.Resolve(rc.Context(), rc.Path)
	if err != nil {
		return err
	}
	f, ok := node.(tree.File)
	if !ok {
		return dav.NotImplemented("%s on a collection is not supported", rc.Method())
	}

	h := rc.Response.Header()
	if ct := f.ContentType(); ct != "" {
		h.Set("Content-Type", ct)
	}
	if etag := f.ETag(); etag != "" {
		h.Set("ETag", etag)
	}
	if m, ok := node.(tree.Modified); ok && !m.LastModified().IsZero() {
		h.Set("Last-Modified", m.LastModified().UTC().Format(http.TimeFormat))
	}
	h.Set("Content-Length", strconv.FormatInt(f.Size(), 10))

	if rc.Method() == http.MethodHead {
		rc.Response.WriteHeader(http.StatusOK)
		return nil
	}

	body, err := f.Open(rc.Context())
	if err != nil {
		h.Del("Content-Length")
		return err
	}
	defer body.Close()
	rc.Response.WriteHeader(http.StatusOK)
	if _, err := io.Copy(rc.Response, body); err != nil {
		s.logger.Warn("failed to write response body",
			"path", rc.Path,
			"error", err)
	}
	return nil
}
