package server

import (
	"github.com/cyp0633/libdav/internal/xml"
	"github.com/cyp0633/libdav/server/dav"
)

func (s *Server) handlePropPatch(rc *RequestContext) error {
	node, err := s.tree.Resolve(rc.Context(), rc.Path)
	if err != nil {
		return err
	}
	root, err := xml.ReadDocument(rc.Request.Body)
	if err != nil {
		return err
	}
	if root == nil {
		return dav.BadRequest("PROPPATCH requires a propertyupdate body")
	}
	muts, err := xml.ParsePropertyUpdate(root)
	if err != nil {
		return err
	}

	pp := dav.NewPropPatch(rc.Path, muts)
	if err := s.PropPatch(rc, pp, node); err != nil {
		return err
	}
	if !pp.Commit() {
		s.logger.Warn("proppatch failed",
			"path", rc.Path,
			"errors", pp.Errors())
	}

	groups := pp.Groups()
	if rc.PreferMinimal() && !pp.Failed() {
		groups = nil
	}
	ms := &xml.MultistatusResponse{}
	ms.Add(xml.Response{Href: s.HrefOf(rc.Path, node), PropStats: groups})
	return s.WriteMultistatus(rc, ms)
}
