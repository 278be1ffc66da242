package server

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/tree"
)

func (s *Server) handlePut(rc *RequestContext) error {
	if rc.Request.Header.Get("Content-Range") != "" {
		return dav.BadRequest("Content-Range is not supported on PUT")
	}
	if rc.Path == "" {
		return dav.MethodNotAllowed("PUT on the root collection")
	}

	node, err := s.tree.Resolve(rc.Context(), rc.Path)
	switch {
	case err == nil:
		return s.putExisting(rc, node)
	case errors.Is(err, dav.ErrNotFound):
		return s.putNew(rc)
	case errors.Is(err, dav.ErrMethodNotAllowed):
		return dav.Conflict("parent of /%s is not a collection", rc.Path)
	default:
		return err
	}
}

func (s *Server) putExisting(rc *RequestContext, node tree.Node) error {
	f, ok := node.(tree.File)
	if !ok {
		return dav.MethodNotAllowed("PUT on a collection", "OPTIONS", "GET", "HEAD", "DELETE", "PROPFIND", "PROPPATCH", "COPY", "MOVE")
	}
	data, err := io.ReadAll(rc.Request.Body)
	if err != nil {
		return dav.BadRequest("failed to read request body: %v", err)
	}
	c := &Content{Path: rc.Path, Data: data, ContentType: rc.Request.Header.Get("Content-Type"), File: f}
	res, err := s.beforeContent(rc, c, false)
	if err != nil || res == StopChain {
		return err
	}

	etag, err := f.Write(rc.Context(), bytes.NewReader(c.Data))
	if err != nil {
		return err
	}
	s.logger.Info("resource updated",
		"path", rc.Path,
		"etag", etag)
	if etag != "" {
		rc.Response.Header().Set("ETag", etag)
	}
	rc.Response.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *Server) putNew(rc *RequestContext) error {
	parentPath, name := dav.SplitPath(rc.Path)
	parent, err := s.tree.ResolveCollection(rc.Context(), parentPath)
	if err != nil {
		return err
	}
	if q, ok := parent.(tree.Quota); ok && rc.Request.ContentLength > 0 {
		_, available, err := q.QuotaInfo(rc.Context())
		if err != nil {
			return err
		}
		if available >= 0 && rc.Request.ContentLength > available {
			return dav.InsufficientStorage("%d bytes do not fit in the %d available", rc.Request.ContentLength, available)
		}
	}

	res, err := s.BeforeBind(rc, rc.Path)
	if err != nil || res == StopChain {
		return err
	}
	data, err := io.ReadAll(rc.Request.Body)
	if err != nil {
		return dav.BadRequest("failed to read request body: %v", err)
	}
	c := &Content{Path: rc.Path, Data: data, ContentType: rc.Request.Header.Get("Content-Type"), Parent: parent}
	res, err = s.beforeContent(rc, c, true)
	if err != nil || res == StopChain {
		return err
	}

	etag, err := parent.CreateFile(rc.Context(), name, bytes.NewReader(c.Data))
	if err != nil {
		return err
	}
	if err := s.AfterBind(rc, rc.Path); err != nil {
		return err
	}
	s.logger.Info("resource created",
		"path", rc.Path,
		"etag", etag)
	if etag != "" {
		rc.Response.Header().Set("ETag", etag)
	}
	rc.Response.WriteHeader(http.StatusCreated)
	return nil
}
