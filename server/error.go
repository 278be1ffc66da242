package server

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"

	"github.com/cyp0633/libdav/internal/xml"
	"github.com/cyp0633/libdav/server/dav"
)

const contentTypeXML = "application/xml; charset=utf-8"

func (s *Server) sendError(rc *RequestContext, err error) {
	var davErr *dav.Error
	if !errors.As(err, &davErr) {
		davErr = &dav.Error{Status: http.StatusInternalServerError, Message: "internal server error", Err: err}
		s.logger.Error("request failed",
			"method", rc.Method(),
			"path", rc.Path,
			"error", err)
	}

	if rc.Response.Written() {
		s.logger.Warn("error after response was written",
			"status", davErr.Status,
			"error", err)
		return
	}

	s.logger.Info("error response",
		"status", davErr.Status,
		"condition", davErr.Condition.String(),
		"message", davErr.Message)

	h := rc.Response.Header()
	for k, vs := range davErr.Header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}

	var body bytes.Buffer
	if _, err := xml.ErrorDocument(davErr).WriteTo(&body); err != nil {
		s.logger.Error("failed to marshal error response", "error", err)
		rc.Response.WriteHeader(davErr.Status)
		return
	}
	h.Set("Content-Type", contentTypeXML)
	h.Set("Content-Length", strconv.Itoa(body.Len()))
	rc.Response.WriteHeader(davErr.Status)
	if rc.Method() != http.MethodHead {
		_, _ = rc.Response.Write(body.Bytes())
	}
}

// WriteMultistatus sends a 207 response.
func (s *Server) WriteMultistatus(rc *RequestContext, ms *xml.MultistatusResponse) error {
	var body bytes.Buffer
	if _, err := ms.WriteTo(&body); err != nil {
		return err
	}
	h := rc.Response.Header()
	h.Set("Content-Type", contentTypeXML)
	h.Set("Content-Length", strconv.Itoa(body.Len()))
	rc.Response.WriteHeader(http.StatusMultiStatus)
	_, err := rc.Response.Write(body.Bytes())
	return err
}
