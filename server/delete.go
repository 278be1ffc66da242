package server

import (
	"net/http"

	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/tree"
)

func (s *Server) handleDelete(rc *RequestContext) error {
	node, err := s.tree.Resolve(rc.Context(), rc.Path)
	if err != nil {
		return err
	}
	if tree.IsCollection(node) {
		depth, err := rc.Depth(dav.DepthInfinity)
		if err != nil {
			return err
		}
		if depth != dav.DepthInfinity {
			return dav.BadRequest("DELETE on a collection requires Depth: infinity")
		}
	}

	if err := s.unbind(rc, rc.Path); err != nil {
		return err
	}
	s.logger.Info("resource deleted", "path", rc.Path)
	rc.Response.WriteHeader(http.StatusNoContent)
	return nil
}

// unbind removes the node at p between beforeUnbind and afterUnbind.
func (s *Server) unbind(rc *RequestContext, p string) error {
	res, err := s.BeforeUnbind(rc, p)
	if err != nil {
		return err
	}
	if res == StopChain {
		return dav.Forbidden("removing /%s was refused", p)
	}
	if err := s.tree.Delete(rc.Context(), p); err != nil {
		return err
	}
	return s.AfterUnbind(rc, p)
}
