package server

import (
	"cmp"
	"slices"

	"github.com/beevik/etree"
	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/tree"
)

// Result tells the dispatcher whether to keep going.
type Result int

const (
	// Continue runs the next handler and, at the end of the chain, the
	// default processing.
	Continue Result = iota
	// StopChain skips the remaining handlers and the default processing.
	StopChain
)

// DefaultPriority is the priority most handlers register with. Lower runs
// first.
const DefaultPriority = 100

// Handler signatures, one per event category.
type (
	// MethodHandler handles beforeMethod and method:<VERB>.
	MethodHandler func(rc *RequestContext) (Result, error)
	// AfterMethodHandler runs once the response is complete. err is the
	// error the request failed with, if any.
	AfterMethodHandler func(rc *RequestContext, err error)
	// PropFindHandler answers properties of node.
	PropFindHandler func(rc *RequestContext, pf *dav.PropFind, node tree.Node) error
	// PropPatchHandler claims properties of node.
	PropPatchHandler func(rc *RequestContext, pp *dav.PropPatch, node tree.Node) error
	// ValidateTokensHandler marks state tokens of the If header valid.
	ValidateTokensHandler func(rc *RequestContext, conds []*IfCondition) error
	// BindHandler handles beforeBind and beforeUnbind for path.
	BindHandler func(rc *RequestContext, path string) (Result, error)
	// AfterBindHandler handles afterBind and afterUnbind for path.
	AfterBindHandler func(rc *RequestContext, path string) error
	// ContentHandler handles beforeCreateFile and beforeWriteContent. It may
	// replace c.Data.
	ContentHandler func(rc *RequestContext, c *Content) (Result, error)
	// CopyMoveHandler runs after a successful COPY or MOVE.
	CopyMoveHandler func(rc *RequestContext, src, dst string, move bool) error
	// ReportHandler answers a REPORT whose body root is name. It returns
	// StopChain once it has written the response.
	ReportHandler func(rc *RequestContext, name dav.Name, body *etree.Element) (Result, error)
)

// Content is the body of a PUT about to be stored.
type Content struct {
	Path        string
	Data        []byte
	ContentType string
	// Parent is set for a new file, File for an existing one.
	Parent tree.Collection
	File   tree.File
}

type hook[H any] struct {
	priority int
	fn       H
}

// hooks is a priority ordered callback list. Equal priorities keep
// registration order.
type hooks[H any] struct {
	list []hook[H]
}

func (h *hooks[H]) add(priority int, fn H) {
	h.list = append(h.list, hook[H]{priority: priority, fn: fn})
	slices.SortStableFunc(h.list, func(a, b hook[H]) int {
		return cmp.Compare(a.priority, b.priority)
	})
}

func (h *hooks[H]) each(fn func(H) error) error {
	for _, x := range h.list {
		if err := fn(x.fn); err != nil {
			return err
		}
	}
	return nil
}

func (h *hooks[H]) len() int {
	return len(h.list)
}

// vetoable runs handlers until one stops the chain or fails.
func vetoable[H any](h *hooks[H], call func(H) (Result, error)) (Result, error) {
	for _, x := range h.list {
		res, err := call(x.fn)
		if err != nil {
			return StopChain, err
		}
		if res == StopChain {
			return StopChain, nil
		}
	}
	return Continue, nil
}

type events struct {
	beforeMethod       hooks[MethodHandler]
	methods            map[string]*hooks[MethodHandler]
	afterMethod        hooks[AfterMethodHandler]
	propFind           hooks[PropFindHandler]
	propPatch          hooks[PropPatchHandler]
	validateTokens     hooks[ValidateTokensHandler]
	beforeBind         hooks[BindHandler]
	afterBind          hooks[AfterBindHandler]
	beforeUnbind       hooks[BindHandler]
	afterUnbind        hooks[AfterBindHandler]
	beforeCreateFile   hooks[ContentHandler]
	beforeWriteContent hooks[ContentHandler]
	afterCopyMove      hooks[CopyMoveHandler]
	report             hooks[ReportHandler]
}

// Registration. Handlers are registered while plugins initialize; the
// lists are read-only once the server serves.

// OnBeforeMethod registers a handler that runs before every method.
func (s *Server) OnBeforeMethod(priority int, fn MethodHandler) {
	s.events.beforeMethod.add(priority, fn)
}

// OnMethod registers a handler for one HTTP method. Registering a method
// the core does not implement makes the server accept it.
func (s *Server) OnMethod(method string, priority int, fn MethodHandler) {
	h, ok := s.events.methods[method]
	if !ok {
		h = &hooks[MethodHandler]{}
		s.events.methods[method] = h
	}
	h.add(priority, fn)
}

// OnAfterMethod registers a handler that sees the outcome of every request.
func (s *Server) OnAfterMethod(priority int, fn AfterMethodHandler) {
	s.events.afterMethod.add(priority, fn)
}

// OnPropFind registers a handler that fills properties of a PropFind.
func (s *Server) OnPropFind(priority int, fn PropFindHandler) {
	s.events.propFind.add(priority, fn)
}

// OnPropPatch registers a handler that claims properties of a PropPatch.
func (s *Server) OnPropPatch(priority int, fn PropPatchHandler) {
	s.events.propPatch.add(priority, fn)
}

// OnValidateTokens registers a handler that marks If header tokens valid.
func (s *Server) OnValidateTokens(priority int, fn ValidateTokensHandler) {
	s.events.validateTokens.add(priority, fn)
}

// OnBeforeBind registers a handler that may refuse creating a path.
func (s *Server) OnBeforeBind(priority int, fn BindHandler) {
	s.events.beforeBind.add(priority, fn)
}

// OnAfterBind registers a handler that runs once a path was created.
func (s *Server) OnAfterBind(priority int, fn AfterBindHandler) {
	s.events.afterBind.add(priority, fn)
}

// OnBeforeUnbind registers a handler that may refuse removing a path.
func (s *Server) OnBeforeUnbind(priority int, fn BindHandler) {
	s.events.beforeUnbind.add(priority, fn)
}

// OnAfterUnbind registers a handler that runs once a path was removed.
func (s *Server) OnAfterUnbind(priority int, fn AfterBindHandler) {
	s.events.afterUnbind.add(priority, fn)
}

// OnBeforeCreateFile registers a handler that checks the body of a new file.
func (s *Server) OnBeforeCreateFile(priority int, fn ContentHandler) {
	s.events.beforeCreateFile.add(priority, fn)
}

// OnBeforeWriteContent registers a handler that checks a replacement body.
func (s *Server) OnBeforeWriteContent(priority int, fn ContentHandler) {
	s.events.beforeWriteContent.add(priority, fn)
}

// OnAfterCopyMove registers a handler that runs after a COPY or MOVE.
func (s *Server) OnAfterCopyMove(priority int, fn CopyMoveHandler) {
	s.events.afterCopyMove.add(priority, fn)
}

// OnReport registers a handler for REPORT bodies.
func (s *Server) OnReport(priority int, fn ReportHandler) {
	s.events.report.add(priority, fn)
}

// Emitters used by the built-in methods and available to plugins that
// implement methods of their own.

// PropFind runs the propFind handlers for one node.
func (s *Server) PropFind(rc *RequestContext, pf *dav.PropFind, node tree.Node) error {
	return s.events.propFind.each(func(fn PropFindHandler) error {
		return fn(rc, pf, node)
	})
}

// PropPatch runs the propPatch handlers for one node. It does not commit.
func (s *Server) PropPatch(rc *RequestContext, pp *dav.PropPatch, node tree.Node) error {
	return s.events.propPatch.each(func(fn PropPatchHandler) error {
		return fn(rc, pp, node)
	})
}

// BeforeBind runs beforeBind for a member about to be created at path.
func (s *Server) BeforeBind(rc *RequestContext, path string) (Result, error) {
	return vetoable(&s.events.beforeBind, func(fn BindHandler) (Result, error) {
		return fn(rc, path)
	})
}

// AfterBind runs afterBind for a member created at path.
func (s *Server) AfterBind(rc *RequestContext, path string) error {
	return s.events.afterBind.each(func(fn AfterBindHandler) error {
		return fn(rc, path)
	})
}

// BeforeUnbind runs beforeUnbind for a member about to be removed.
func (s *Server) BeforeUnbind(rc *RequestContext, path string) (Result, error) {
	return vetoable(&s.events.beforeUnbind, func(fn BindHandler) (Result, error) {
		return fn(rc, path)
	})
}

// AfterUnbind runs afterUnbind for a removed member.
func (s *Server) AfterUnbind(rc *RequestContext, path string) error {
	return s.events.afterUnbind.each(func(fn AfterBindHandler) error {
		return fn(rc, path)
	})
}

func (s *Server) beforeContent(rc *RequestContext, c *Content, create bool) (Result, error) {
	h := &s.events.beforeWriteContent
	if create {
		h = &s.events.beforeCreateFile
	}
	return vetoable(h, func(fn ContentHandler) (Result, error) {
		return fn(rc, c)
	})
}
