package server

import (
	"net/http"

	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/tree"
)

func (s *Server) handleCopyMove(rc *RequestContext) error {
	ctx := rc.Context()
	move := rc.Method() == "MOVE"
	src := rc.Path

	dst, err := rc.Destination()
	if err != nil {
		return err
	}
	overwrite, err := rc.Overwrite()
	if err != nil {
		return err
	}
	node, err := s.tree.Resolve(ctx, src)
	if err != nil {
		return err
	}

	depth := dav.DepthInfinity
	if tree.IsCollection(node) {
		if depth, err = rc.Depth(dav.DepthInfinity); err != nil {
			return err
		}
		switch {
		case move && depth != dav.DepthInfinity:
			return dav.BadRequest("MOVE of a collection requires Depth: infinity")
		case depth == dav.DepthOne:
			return dav.BadRequest("COPY of a collection takes Depth 0 or infinity")
		}
	}

	switch {
	case src == "":
		return dav.Forbidden("the root collection cannot be copied or moved")
	case src == dst:
		return dav.Forbidden("source and destination are the same")
	case dav.IsAncestor(src, dst):
		return dav.Conflict("destination /%s is inside the source", dst)
	case dav.IsAncestor(dst, src):
		return dav.Conflict("destination /%s contains the source", dst)
	}
	dstParent, _ := dav.SplitPath(dst)
	if _, err := s.tree.ResolveCollection(ctx, dstParent); err != nil {
		return err
	}

	exists, err := s.tree.Exists(ctx, dst)
	if err != nil {
		return err
	}
	if exists && !overwrite {
		return dav.PreconditionFailed("Overwrite")
	}

	if move {
		res, err := s.BeforeUnbind(rc, src)
		if err != nil {
			return err
		}
		if res == StopChain {
			return dav.Forbidden("removing /%s was refused", src)
		}
	}
	res, err := s.BeforeBind(rc, dst)
	if err != nil {
		return err
	}
	if res == StopChain {
		return dav.Forbidden("creating /%s was refused", dst)
	}
	// The destination is replaced only once no plugin refused.
	if exists {
		if err := s.unbind(rc, dst); err != nil {
			return err
		}
	}

	if move {
		err = s.tree.Move(ctx, src, dst)
	} else {
		err = s.tree.CopyDepth(ctx, src, dst, depth)
	}
	if err != nil {
		return err
	}

	if err := s.events.afterCopyMove.each(func(fn CopyMoveHandler) error {
		return fn(rc, src, dst, move)
	}); err != nil {
		return err
	}
	if move {
		if err := s.AfterUnbind(rc, src); err != nil {
			return err
		}
	}
	if err := s.AfterBind(rc, dst); err != nil {
		return err
	}

	s.logger.Info("resource copied",
		"method", rc.Method(),
		"source", src,
		"destination", dst,
		"overwritten", exists)
	if exists {
		rc.Response.WriteHeader(http.StatusNoContent)
	} else {
		rc.Response.WriteHeader(http.StatusCreated)
	}
	return nil
}
