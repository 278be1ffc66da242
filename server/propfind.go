package server

import (
	"context"
	"net/http"

	"github.com/cyp0633/libdav/internal/xml"
	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/tree"
)

func (s *Server) handlePropFind(rc *RequestContext) error {
	// Without a Depth header, fall back to 1 unless infinity is enabled.
	def := dav.DepthOne
	if s.allowInfiniteDepth {
		def = dav.DepthInfinity
	}
	depth, err := rc.Depth(def)
	if err != nil {
		return err
	}
	if depth == dav.DepthInfinity && !s.allowInfiniteDepth {
		return dav.ForbiddenCondition(dav.CondPropfindFiniteDepth, "Depth: infinity is not supported")
	}

	root, err := xml.ReadDocument(rc.Request.Body)
	if err != nil {
		return err
	}
	req, err := xml.ParsePropfind(root)
	if err != nil {
		return err
	}

	node, err := s.tree.Resolve(rc.Context(), rc.Path)
	if err != nil {
		return err
	}

	ms := &xml.MultistatusResponse{}
	minimal := rc.PreferMinimal()
	err = s.Walk(rc.Context(), rc.Path, node, depth, func(p string, n tree.Node) error {
		resp, err := s.PropFindResponse(rc, p, n, req, depth)
		if err != nil {
			return err
		}
		if minimal {
			resp.PropStats = dropNotFound(resp.PropStats)
		}
		ms.Add(resp)
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("propfind completed",
		"path", rc.Path,
		"depth", depth.String(),
		"responses", len(ms.Responses))
	if minimal {
		rc.Response.Header().Set("Preference-Applied", "return=minimal")
	}
	return s.WriteMultistatus(rc, ms)
}

// PropFindResponse runs the propFind handlers for one node and returns
// its multi-status entry.
func (s *Server) PropFindResponse(rc *RequestContext, p string, node tree.Node, req xml.PropfindRequest, depth dav.Depth) (xml.Response, error) {
	pf := dav.NewPropFind(p, req.Props, depth, req.Type)
	if err := s.PropFind(rc, pf, node); err != nil {
		return xml.Response{}, err
	}
	return xml.Response{Href: s.HrefOf(p, node), PropStats: pf.Groups()}, nil
}

// Walk visits node and, per depth, its members. Members are visited in the
// order the collection returns them.
func (s *Server) Walk(ctx context.Context, p string, node tree.Node, depth dav.Depth, fn func(p string, n tree.Node) error) error {
	if err := fn(p, node); err != nil {
		return err
	}
	if depth == dav.DepthZero {
		return nil
	}
	coll, ok := node.(tree.Collection)
	if !ok {
		return nil
	}
	children, err := coll.Children(ctx)
	if err != nil {
		return err
	}
	next := dav.DepthZero
	if depth == dav.DepthInfinity {
		next = dav.DepthInfinity
	}
	for _, c := range children {
		if err := s.Walk(ctx, dav.JoinPath(p, c.Name()), c, next, fn); err != nil {
			return err
		}
	}
	return nil
}

func dropNotFound(groups []dav.StatusGroup) []dav.StatusGroup {
	out := make([]dav.StatusGroup, 0, len(groups))
	for _, g := range groups {
		if g.Status != http.StatusNotFound {
			out = append(out, g)
		}
	}
	if len(out) == 0 {
		return []dav.StatusGroup{{Status: http.StatusOK}}
	}
	return out
}
