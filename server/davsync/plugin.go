// Package davsync implements collection synchronization (RFC 6578): the
// sync-collection REPORT and the sync-token and getctag properties of
// collections implementing tree.SyncCollection.
package davsync

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/beevik/etree"
	"github.com/cyp0633/libdav/internal/xml"
	"github.com/cyp0633/libdav/server"
	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/tree"
	"github.com/samber/mo"
)

// TokenPrefix turns collection tokens into the URIs clients see.
const TokenPrefix = "http://libdav.cyp0633.dev/ns/sync/"

var (
	ReportSyncCollection = dav.DAVName("sync-collection")
	PropGetCTag          = dav.N(dav.NSCalendarServer, "getctag")
)

// Plugin is the sync plugin.
type Plugin struct {
	srv    *server.Server
	logger *slog.Logger
}

var (
	_ server.Plugin         = (*Plugin)(nil)
	_ server.ReportProvider = (*Plugin)(nil)
)

// New creates the plugin.
func New() *Plugin {
	return &Plugin{}
}

func (p *Plugin) Name() string { return "davsync" }

func (p *Plugin) Initialize(s *server.Server) error {
	p.srv = s
	p.logger = s.Logger().With("plugin", p.Name())
	s.AddProtected(dav.PropSyncToken, PropGetCTag)
	s.OnReport(server.DefaultPriority, p.report)
	s.OnPropFind(server.DefaultPriority, p.propFind)
	s.OnValidateTokens(server.DefaultPriority, p.validateTokens)
	return nil
}

func (p *Plugin) SupportedReports(node tree.Node) []dav.Name {
	if _, ok := node.(tree.SyncCollection); ok {
		return []dav.Name{ReportSyncCollection}
	}
	return nil
}

func (p *Plugin) report(rc *server.RequestContext, name dav.Name, body *etree.Element) (server.Result, error) {
	if name != ReportSyncCollection {
		return server.Continue, nil
	}
	ctx := rc.Context()
	node, err := p.srv.Tree().Resolve(ctx, rc.Path)
	if err != nil {
		return server.StopChain, err
	}
	sc, ok := node.(tree.SyncCollection)
	if !ok {
		return server.StopChain, dav.ForbiddenCondition(dav.CondSupportedReport,
			"/%s does not support sync-collection", rc.Path)
	}
	depth, err := rc.Depth(dav.DepthZero)
	if err != nil {
		return server.StopChain, err
	}
	if depth != dav.DepthZero {
		return server.StopChain, dav.BadRequest("sync-collection requires Depth: 0")
	}
	req, err := xml.ParseSyncCollection(body)
	if err != nil {
		return server.StopChain, err
	}

	var token string
	if req.SyncToken != "" {
		var ok bool
		if token, ok = strings.CutPrefix(req.SyncToken, TokenPrefix); !ok {
			return server.StopChain, invalidToken(req.SyncToken)
		}
	}
	cs, err := sc.Changes(ctx, token, req.Level, req.Limit)
	if errors.Is(err, tree.ErrInvalidSyncToken) {
		return server.StopChain, invalidToken(req.SyncToken)
	}
	if err != nil {
		return server.StopChain, err
	}

	ms := &xml.MultistatusResponse{SyncToken: TokenPrefix + cs.Token}
	for _, member := range slices.Concat(cs.Added, cs.Modified) {
		path := dav.JoinPath(rc.Path, member)
		n, err := p.srv.Tree().Resolve(ctx, path)
		if errors.Is(err, dav.ErrNotFound) {
			ms.Add(xml.Response{Href: p.srv.Href(path, false), Status: http.StatusNotFound})
			continue
		}
		if err != nil {
			return server.StopChain, err
		}
		resp, err := p.srv.PropFindResponse(rc, path, n, req.Prop, dav.DepthZero)
		if err != nil {
			return server.StopChain, err
		}
		ms.Add(resp)
	}
	for _, member := range cs.Deleted {
		ms.Add(xml.Response{
			Href:   p.srv.Href(dav.JoinPath(rc.Path, member), false),
			Status: http.StatusNotFound,
		})
	}
	if cs.Truncated {
		ms.Add(xml.Response{
			Href:   p.srv.HrefOf(rc.Path, node),
			Status: http.StatusInsufficientStorage,
			Error:  &dav.Error{Status: http.StatusInsufficientStorage, Condition: dav.CondNumberOfMatchesInLimit},
		})
	}

	p.logger.Debug("sync report",
		"path", rc.Path,
		"initial", token == "",
		"added", len(cs.Added),
		"modified", len(cs.Modified),
		"deleted", len(cs.Deleted),
		"truncated", cs.Truncated)
	return server.StopChain, p.srv.WriteMultistatus(rc, ms)
}

func invalidToken(token string) error {
	return dav.ForbiddenCondition(dav.CondValidSyncToken, "sync token %q is not valid", token)
}

// propFind answers the collection tokens when they are asked for by name.
func (p *Plugin) propFind(rc *server.RequestContext, pf *dav.PropFind, node tree.Node) error {
	sc, ok := node.(tree.SyncCollection)
	if !ok {
		return nil
	}
	requested := pf.Requested()
	if !slices.Contains(requested, dav.PropSyncToken) && !slices.Contains(requested, PropGetCTag) {
		return nil
	}
	token, err := sc.SyncToken(rc.Context())
	if err != nil {
		return err
	}
	token = TokenPrefix + token
	for _, name := range []dav.Name{dav.PropSyncToken, PropGetCTag} {
		if slices.Contains(requested, name) {
			pf.Handle(name, func() mo.Option[dav.Value] {
				return mo.Some[dav.Value](dav.Text(token))
			})
		}
	}
	return nil
}

// validateTokens accepts a sync token in an If header when it is the
// collection's current token.
func (p *Plugin) validateTokens(rc *server.RequestContext, conds []*server.IfCondition) error {
	for _, c := range conds {
		if c.External {
			continue
		}
		var current mo.Option[string]
		for _, l := range c.Lists {
			for _, it := range l.Items {
				if !strings.HasPrefix(it.Token, TokenPrefix) {
					continue
				}
				if current.IsAbsent() {
					token, err := p.currentToken(rc, c.Path)
					if err != nil {
						return err
					}
					current = mo.Some(token)
				}
				if it.Token == current.MustGet() {
					it.Valid = true
				}
			}
		}
	}
	return nil
}

// currentToken returns the prefixed token of the collection at path, or
// "" when there is none.
func (p *Plugin) currentToken(rc *server.RequestContext, path string) (string, error) {
	n, err := p.srv.Tree().Resolve(rc.Context(), path)
	if err != nil {
		return "", nil
	}
	sc, ok := n.(tree.SyncCollection)
	if !ok {
		return "", nil
	}
	token, err := sc.SyncToken(rc.Context())
	if err != nil {
		return "", err
	}
	return TokenPrefix + token, nil
}
