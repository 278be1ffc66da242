// Package server is the WebDAV request engine. It resolves request paths
// against a node tree, runs the built-in method handlers and lets plugins
// take part in every step through a priority ordered event registry.
package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"slices"
	"strings"

	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/tree"
)

// Plugin extends the server. Initialize registers event handlers.
type Plugin interface {
	Name() string
	Initialize(s *Server) error
}

// FeatureProvider plugins contribute DAV header tokens.
type FeatureProvider interface {
	Features() []string
}

// MethodProvider plugins contribute to the Allow header of a path.
type MethodProvider interface {
	HTTPMethods(path string) []string
}

// ReportProvider plugins list the reports a node supports.
type ReportProvider interface {
	SupportedReports(node tree.Node) []dav.Name
}

// Server is an http.Handler serving one tree.
type Server struct {
	tree               *tree.Tree
	baseURI            string
	logger             *slog.Logger
	allowInfiniteDepth bool
	protected          map[dav.Name]bool
	pending            []Plugin
	plugins            []Plugin
	events             events
}

// Option configures a Server.
type Option func(*Server)

// WithBaseURI sets the path the server is mounted at.
func WithBaseURI(base string) Option {
	return func(s *Server) {
		s.baseURI = base
	}
}

// WithLogger sets the logger. Logging is discarded by default.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithPlugins adds plugins, initialized in order by New.
func WithPlugins(plugins ...Plugin) Option {
	return func(s *Server) {
		s.pending = append(s.pending, plugins...)
	}
}

// WithInfiniteDepth allows PROPFIND with Depth: infinity.
func WithInfiniteDepth(allow bool) Option {
	return func(s *Server) {
		s.allowInfiniteDepth = allow
	}
}

// New creates a server over root.
func New(root tree.Collection, opts ...Option) (*Server, error) {
	if root == nil {
		return nil, errors.New("root collection is required")
	}
	s := &Server{
		tree:      tree.New(root),
		protected: make(map[dav.Name]bool),
	}
	s.events.methods = make(map[string]*hooks[MethodHandler])
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.baseURI == "" {
		s.baseURI = "/"
	}
	if !strings.HasPrefix(s.baseURI, "/") {
		s.baseURI = "/" + s.baseURI
	}
	if !strings.HasSuffix(s.baseURI, "/") {
		s.baseURI += "/"
	}

	s.registerCore()

	pending := s.pending
	s.pending = nil
	for _, p := range pending {
		if err := s.AddPlugin(p); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// AddPlugin initializes a plugin. It must not be called once the server
// serves requests.
func (s *Server) AddPlugin(p Plugin) error {
	if err := p.Initialize(s); err != nil {
		return fmt.Errorf("failed to initialize plugin %s: %w", p.Name(), err)
	}
	s.plugins = append(s.plugins, p)
	s.logger.Debug("plugin initialized", "plugin", p.Name())
	return nil
}

// Plugin returns the plugin registered under name.
func (s *Server) Plugin(name string) (Plugin, bool) {
	for _, p := range s.plugins {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

func (s *Server) Tree() *tree.Tree {
	return s.tree
}

func (s *Server) Logger() *slog.Logger {
	return s.logger
}

// BaseURI returns the normalized mount path, with leading and trailing
// slash.
func (s *Server) BaseURI() string {
	return s.baseURI
}

// AddProtected marks live properties PROPPATCH must refuse.
func (s *Server) AddProtected(names ...dav.Name) {
	for _, n := range names {
		s.protected[n] = true
	}
}

// IsProtected reports whether name is a protected property.
func (s *Server) IsProtected(name dav.Name) bool {
	return s.protected[name]
}

// Href returns the escaped URL path of a tree path. Collections end with a
// slash.
func (s *Server) Href(p string, collection bool) string {
	segs := dav.Segments(p)
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	href := s.baseURI + strings.Join(segs, "/")
	if collection && len(segs) > 0 {
		href += "/"
	}
	return href
}

// HrefOf is Href for a resolved node.
func (s *Server) HrefOf(p string, n tree.Node) string {
	return s.Href(p, tree.IsCollection(n))
}

// RelativePath maps an href, a URL path or an absolute URL, to a tree
// path. It reports false for hrefs outside the base URI.
func (s *Server) RelativePath(href string) (string, bool) {
	u, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	return s.stripPrefix(u.Path)
}

// stripPrefix maps a decoded URL path to a tree path.
func (s *Server) stripPrefix(urlPath string) (string, bool) {
	urlPath = path.Clean("/" + urlPath)
	if urlPath+"/" == s.baseURI {
		return "", true
	}
	if !strings.HasPrefix(urlPath, s.baseURI) {
		return "", false
	}
	return dav.CleanPath(strings.TrimPrefix(urlPath, s.baseURI)), true
}

// Features returns the DAV header tokens.
func (s *Server) Features() []string {
	features := []string{"1", "3", "extended-mkcol"}
	for _, p := range s.plugins {
		if fp, ok := p.(FeatureProvider); ok {
			for _, f := range fp.Features() {
				if !slices.Contains(features, f) {
					features = append(features, f)
				}
			}
		}
	}
	return features
}

// SupportedReports lists the reports every plugin supports on node.
func (s *Server) SupportedReports(node tree.Node) []dav.Name {
	var out []dav.Name
	for _, p := range s.plugins {
		if rp, ok := p.(ReportProvider); ok {
			for _, r := range rp.SupportedReports(node) {
				if !slices.Contains(out, r) {
					out = append(out, r)
				}
			}
		}
	}
	return out
}

// ServeHTTP implements the http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("received request",
		"method", r.Method,
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr)

	rc := &RequestContext{
		Request:  r,
		Response: &Response{ResponseWriter: w},
		Server:   s,
	}

	p, ok := s.stripPrefix(r.URL.Path)
	var err error
	if !ok {
		err = dav.NotFound("%s is outside %s", r.URL.Path, s.baseURI)
	} else {
		rc.Path = p
		err = s.dispatch(rc)
		if errors.Is(err, errNotModified) {
			err = nil
		}
	}
	if err != nil {
		s.sendError(rc, err)
	}

	for _, h := range s.events.afterMethod.list {
		h.fn(rc, err)
	}
}

func (s *Server) dispatch(rc *RequestContext) error {
	res, err := vetoable(&s.events.beforeMethod, func(fn MethodHandler) (Result, error) {
		return fn(rc)
	})
	if err != nil || res == StopChain {
		return err
	}

	if err := s.checkConditions(rc); err != nil {
		return err
	}

	method := rc.Method()
	if h, ok := s.events.methods[method]; ok {
		res, err := vetoable(h, func(fn MethodHandler) (Result, error) {
			return fn(rc)
		})
		if err != nil || res == StopChain {
			return err
		}
	}

	if fn, ok := s.builtins()[method]; ok {
		return fn(rc)
	}
	allow, err := s.allowedMethods(rc)
	if err != nil {
		return err
	}
	return dav.MethodNotAllowed(method+" is not supported", allow...)
}

func (s *Server) builtins() map[string]func(*RequestContext) error {
	return map[string]func(*RequestContext) error{
		http.MethodGet:     s.handleGet,
		http.MethodHead:    s.handleGet,
		http.MethodPut:     s.handlePut,
		http.MethodDelete:  s.handleDelete,
		http.MethodOptions: s.handleOptions,
		"PROPFIND":         s.handlePropFind,
		"PROPPATCH":        s.handlePropPatch,
		"MKCOL":            s.handleMkcol,
		"COPY":             s.handleCopyMove,
		"MOVE":             s.handleCopyMove,
		"REPORT":           s.handleReport,
	}
}

// allowedMethods computes the Allow header for the request path.
func (s *Server) allowedMethods(rc *RequestContext) ([]string, error) {
	node, err := s.tree.Resolve(rc.Context(), rc.Path)
	exists := err == nil
	if err != nil && dav.StatusOf(err) != http.StatusNotFound && dav.StatusOf(err) != http.StatusMethodNotAllowed {
		return nil, err
	}

	var allow []string
	if exists {
		allow = []string{"OPTIONS", "GET", "HEAD", "DELETE", "PROPFIND", "PROPPATCH", "COPY", "MOVE", "REPORT"}
		if !tree.IsCollection(node) {
			allow = append(allow, "PUT")
		}
	} else {
		allow = []string{"OPTIONS", "PUT", "MKCOL"}
	}
	for _, p := range s.plugins {
		if mp, ok := p.(MethodProvider); ok {
			for _, m := range mp.HTTPMethods(rc.Path) {
				if !slices.Contains(allow, m) {
					allow = append(allow, m)
				}
			}
		}
	}
	return allow, nil
}
