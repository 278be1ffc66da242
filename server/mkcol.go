package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/beevik/etree"
	"github.com/cyp0633/libdav/internal/xml"
	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/tree"
)

var tagMkcol = dav.DAVName("mkcol")

func (s *Server) handleMkcol(rc *RequestContext) error {
	root, err := s.ReadCreateBody(rc)
	if err != nil {
		return err
	}
	req, err := xml.ParseCreate(root, tagMkcol)
	if err != nil {
		return err
	}
	pp, err := s.CreateCollection(rc, rc.Path, req.ResourceType, req.Mutations)
	if err != nil {
		return err
	}
	return s.WriteCreated(rc, pp, dav.DAVName("mkcol-response"))
}

// ReadCreateBody reads the optional XML body of a collection creation. A
// body of another media type is 415.
func (s *Server) ReadCreateBody(rc *RequestContext) (*etree.Element, error) {
	ct := rc.Request.Header.Get("Content-Type")
	if ct != "" && !strings.Contains(ct, "xml") && rc.Request.ContentLength != 0 {
		return nil, dav.UnsupportedMediaType("unsupported body type %s", ct)
	}
	root, err := xml.ReadDocument(rc.Request.Body)
	if err != nil {
		if errors.Is(err, dav.ErrBadRequest) && ct == "" {
			return nil, dav.UnsupportedMediaType("request body is not XML")
		}
		return nil, err
	}
	return root, nil
}

// CreateCollection creates the collection at p, with an extended resource
// type and initial properties when given. The returned PropPatch is
// non-nil when properties were set; when it failed, nothing was created.
func (s *Server) CreateCollection(rc *RequestContext, p string, resourceType []dav.Name, muts []dav.Mutation) (*dav.PropPatch, error) {
	ctx := rc.Context()
	if p == "" {
		return nil, dav.MethodNotAllowed("the root collection already exists")
	}
	exists, err := s.tree.Exists(ctx, p)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, dav.MethodNotAllowed("/" + p + " already exists")
	}
	parentPath, name := dav.SplitPath(p)
	parent, err := s.tree.ResolveCollection(ctx, parentPath)
	if err != nil {
		return nil, err
	}

	res, err := s.BeforeBind(rc, p)
	if err != nil {
		return nil, err
	}
	if res == StopChain {
		return nil, dav.Forbidden("creating /%s was refused", p)
	}

	extra := resourceType[:0:0]
	for _, rt := range resourceType {
		if rt != dav.ElemCollection {
			extra = append(extra, rt)
		}
	}
	if len(extra) == 0 && len(muts) == 0 {
		if err := parent.CreateCollection(ctx, name); err != nil {
			return nil, err
		}
		s.logger.Info("collection created", "path", p)
		return nil, s.AfterBind(rc, p)
	}

	ext, ok := parent.(tree.ExtendedCollection)
	if !ok {
		return nil, dav.ForbiddenCondition(dav.CondValidResourceType, "/%s does not support extended collections", parentPath)
	}
	pp := dav.NewPropPatch(p, muts)
	if err := ext.CreateExtendedCollection(ctx, name, extra, pp); err != nil {
		return nil, err
	}
	created, err := parent.Child(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := s.PropPatch(rc, pp, created); err != nil {
		return nil, errors.Join(err, s.discard(rc, p))
	}
	if !pp.Commit() {
		s.logger.Warn("extended collection properties failed",
			"path", p,
			"errors", pp.Errors())
		return pp, s.discard(rc, p)
	}
	s.logger.Info("collection created",
		"path", p,
		"resource_type", len(extra))
	return pp, s.AfterBind(rc, p)
}

// discard removes a collection whose creation failed half way.
func (s *Server) discard(rc *RequestContext, p string) error {
	if err := s.tree.Delete(rc.Context(), p); err != nil && !errors.Is(err, dav.ErrNotFound) {
		return err
	}
	return nil
}

// WriteCreated answers a collection creation: 201, or a multi-status
// rooted at rootName when properties failed.
func (s *Server) WriteCreated(rc *RequestContext, pp *dav.PropPatch, rootName dav.Name) error {
	if pp != nil && pp.Failed() {
		ms := &xml.MultistatusResponse{Root: rootName}
		ms.Add(xml.Response{Href: s.Href(rc.Path, true), PropStats: pp.Groups()})
		var body strings.Builder
		if _, err := ms.WriteTo(&body); err != nil {
			return err
		}
		rc.Response.Header().Set("Content-Type", contentTypeXML)
		rc.Response.WriteHeader(http.StatusForbidden)
		_, err := rc.Response.Write([]byte(body.String()))
		return err
	}
	rc.Response.WriteHeader(http.StatusCreated)
	return nil
}
