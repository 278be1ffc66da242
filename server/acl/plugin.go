// Package acl implements WebDAV access control (RFC 3744) as a server
// plugin: privilege evaluation against inherited access control lists,
// enforcement on every method, the ACL properties and the ACL method.
package acl

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/beevik/etree"
	"github.com/cyp0633/libdav/server"
	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/tree"
)

// Handler priorities. Enforcement runs right after authentication and
// the read check before any property is computed.
const (
	PriorityEnforce   = 20
	PriorityReadCheck = 10
)

// Plugin is the access control plugin.
type Plugin struct {
	srv         *server.Server
	logger      *slog.Logger
	privileges  privilegeSet
	defaultACL  []dav.ACE
	principals  PrincipalBackend
	admins      []string
	collections []string
}

var (
	_ server.Plugin          = (*Plugin)(nil)
	_ server.FeatureProvider = (*Plugin)(nil)
	_ server.MethodProvider  = (*Plugin)(nil)
)

// Option configures the plugin.
type Option func(*Plugin)

// WithPrivileges replaces the supported privilege tree.
func WithPrivileges(root *Privilege) Option {
	return func(p *Plugin) {
		p.privileges = newPrivilegeSet(root)
	}
}

// WithDefaultACL sets the entries applying where no node on the path
// carries an access control list.
func WithDefaultACL(aces []dav.ACE) Option {
	return func(p *Plugin) {
		p.defaultACL = slices.Clone(aces)
	}
}

// WithPrincipalBackend sets the group membership source.
func WithPrincipalBackend(b PrincipalBackend) Option {
	return func(p *Plugin) {
		p.principals = b
	}
}

// WithAdmins names principals holding every privilege everywhere.
func WithAdmins(principals ...string) Option {
	return func(p *Plugin) {
		for _, a := range principals {
			p.admins = append(p.admins, dav.CleanPath(a))
		}
	}
}

// WithPrincipalCollections sets {DAV:}principal-collection-set.
func WithPrincipalCollections(paths ...string) Option {
	return func(p *Plugin) {
		for _, c := range paths {
			p.collections = append(p.collections, dav.CleanPath(c))
		}
	}
}

// New creates the plugin. Without WithDefaultACL every authenticated
// principal holds every privilege.
func New(opts ...Option) *Plugin {
	p := &Plugin{
		privileges: newPrivilegeSet(DefaultPrivileges()),
		defaultACL: []dav.ACE{{Principal: dav.PrincipalAuthenticated, Privilege: PrivAll}},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Plugin) Name() string { return "acl" }

func (p *Plugin) Features() []string { return []string{"access-control"} }

func (p *Plugin) HTTPMethods(string) []string { return []string{"ACL"} }

func (p *Plugin) Initialize(s *server.Server) error {
	p.srv = s
	p.logger = s.Logger().With("plugin", p.Name())
	s.AddProtected(
		dav.PropACL,
		dav.PropCurrentUserPrivileges,
		dav.PropCurrentUserPrincipal,
		dav.PropOwner,
		PropSupportedPrivilegeSet,
		PropPrincipalCollectionSet,
		PropACLRestrictions,
		PropInheritedACLSet,
	)
	s.OnBeforeMethod(PriorityEnforce, p.beforeMethod)
	s.OnBeforeBind(server.DefaultPriority, p.beforeBind)
	s.OnBeforeUnbind(server.DefaultPriority, p.beforeUnbind)
	s.OnPropFind(PriorityReadCheck, p.readCheck)
	s.OnPropFind(server.DefaultPriority, p.propFind)
	s.OnMethod("ACL", server.DefaultPriority, p.httpACL)
	return nil
}

// IsAdmin reports whether principal bypasses access control.
func (p *Plugin) IsAdmin(principal string) bool {
	return principal != "" && slices.Contains(p.admins, principal)
}

// EffectiveACL returns the entries governing path: the node's own entries
// followed by those of its ancestors, nearest first, with Inherited set
// to the href of the node they come from. The default list applies when no node on
// the path carries entries.
func (p *Plugin) EffectiveACL(ctx context.Context, path string) ([]dav.ACE, error) {
	path = dav.CleanPath(path)
	segs := dav.Segments(path)
	var out []dav.ACE
	for i := len(segs); i >= 0; i-- {
		ap := strings.Join(segs[:i], "/")
		n, err := p.srv.Tree().Resolve(ctx, ap)
		if err != nil {
			if errors.Is(err, dav.ErrNotFound) || errors.Is(err, dav.ErrMethodNotAllowed) {
				continue
			}
			return nil, err
		}
		an, ok := n.(Node)
		if !ok {
			continue
		}
		for _, ace := range an.ACL() {
			if ap != path {
				ace.Inherited = p.srv.Href(ap, true)
			}
			out = append(out, ace)
		}
	}
	if len(out) == 0 {
		return slices.Clone(p.defaultACL), nil
	}
	return out, nil
}

// CurrentPrincipals lists what principal matches in an ACE: itself, its
// groups, and the pseudo principals that apply.
func (p *Plugin) CurrentPrincipals(ctx context.Context, principal string) ([]string, error) {
	if principal == "" {
		return []string{dav.PrincipalUnauthenticated, dav.PrincipalAll}, nil
	}
	out := []string{principal}
	if p.principals != nil {
		seen := map[string]bool{principal: true}
		queue := []string{principal}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			groups, err := p.principals.GroupMemberships(ctx, cur)
			if err != nil {
				return nil, err
			}
			for _, g := range groups {
				g = dav.CleanPath(g)
				if seen[g] {
					continue
				}
				seen[g] = true
				out = append(out, g)
				queue = append(queue, g)
			}
		}
	}
	return append(out, dav.PrincipalAuthenticated, dav.PrincipalAll), nil
}

// Privileges returns every privilege principal holds on path, aggregates
// included when all their members are held.
func (p *Plugin) Privileges(ctx context.Context, principal, path string) (map[dav.Name]bool, error) {
	have := make(map[dav.Name]bool)
	if p.IsAdmin(principal) {
		p.privileges.expand(p.privileges.root.Name, have)
		return have, nil
	}
	aces, err := p.EffectiveACL(ctx, path)
	if err != nil {
		return nil, err
	}
	current, err := p.CurrentPrincipals(ctx, principal)
	if err != nil {
		return nil, err
	}
	owner := p.owner(ctx, path)
	for _, ace := range aces {
		if p.matches(ace.Principal, current, owner, path) {
			p.privileges.expand(ace.Privilege, have)
		}
	}
	p.privileges.close(have)
	return have, nil
}

func (p *Plugin) matches(ace string, current []string, owner, path string) bool {
	switch ace {
	case dav.PrincipalOwner:
		return owner != "" && slices.Contains(current, owner)
	case dav.PrincipalSelf:
		return slices.Contains(current, path)
	}
	return slices.Contains(current, ace)
}

// owner returns the owner of the nearest owned node at or above path.
func (p *Plugin) owner(ctx context.Context, path string) string {
	segs := dav.Segments(path)
	for i := len(segs); i >= 0; i-- {
		n, err := p.srv.Tree().Resolve(ctx, strings.Join(segs[:i], "/"))
		if err != nil {
			continue
		}
		if o, ok := n.(Owned); ok && o.Owner() != "" {
			return dav.CleanPath(o.Owner())
		}
	}
	return ""
}

// Check fails unless the request principal holds every privilege on path.
func (p *Plugin) Check(rc *server.RequestContext, path string, privs ...dav.Name) error {
	have, err := p.Privileges(rc.Context(), rc.Principal, path)
	if err != nil {
		return err
	}
	var missing []dav.Name
	for _, priv := range privs {
		if !have[priv] {
			missing = append(missing, priv)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	p.logger.Info("access denied",
		"method", rc.Method(),
		"path", path,
		"principal", rc.Principal,
		"missing", len(missing))
	if rc.Principal == "" {
		return dav.NotAuthenticated(p.challenge(), "authentication required")
	}
	return p.needPrivileges(path, missing)
}

// challenge asks the authentication plugin for its WWW-Authenticate value.
func (p *Plugin) challenge() string {
	if pl, ok := p.srv.Plugin("auth"); ok {
		if c, ok := pl.(interface{ Challenge() string }); ok {
			return c.Challenge()
		}
	}
	return ""
}

func (p *Plugin) needPrivileges(path string, missing []dav.Name) *dav.Error {
	href := p.srv.Href(path, false)
	return &dav.Error{
		Status:    http.StatusForbidden,
		Condition: dav.CondNeedPrivileges,
		Message:   "insufficient privileges on /" + path,
		Detail: dav.EncoderFunc(func(b dav.Builder, parent *etree.Element) {
			for _, priv := range missing {
				res := b.Element(dav.DAVName("resource"))
				dav.Href(href).Encode(b, res)
				pe := b.Element(dav.DAVName("privilege"))
				pe.AddChild(b.Element(priv))
				res.AddChild(pe)
				parent.AddChild(res)
			}
		}),
	}
}

func (p *Plugin) beforeMethod(rc *server.RequestContext) (server.Result, error) {
	var privs []dav.Name
	switch rc.Method() {
	case http.MethodGet, http.MethodHead, http.MethodOptions, "REPORT":
		privs = []dav.Name{PrivRead}
	case http.MethodPut, "LOCK":
		privs = []dav.Name{PrivWriteContent}
	case "PROPPATCH":
		privs = []dav.Name{PrivWriteProperties}
	case "UNLOCK":
		privs = []dav.Name{PrivUnlock}
	case "PROPFIND":
		// Authenticated principals see 403 per unreadable node instead.
		if rc.Principal != "" {
			return server.Continue, nil
		}
		privs = []dav.Name{PrivRead}
	case "COPY", "MOVE":
		return server.Continue, p.checkTree(rc)
	default:
		return server.Continue, nil
	}
	// Methods on unmapped URLs are checked through bind, if at all.
	exists, err := p.srv.Tree().Exists(rc.Context(), rc.Path)
	if err != nil || !exists {
		return server.Continue, err
	}
	return server.Continue, p.Check(rc, rc.Path, privs...)
}

// checkTree requires read on the source and every member below it.
func (p *Plugin) checkTree(rc *server.RequestContext) error {
	ctx := rc.Context()
	node, err := p.srv.Tree().Resolve(ctx, rc.Path)
	if err != nil {
		return nil
	}
	return p.srv.Walk(ctx, rc.Path, node, dav.DepthInfinity, func(path string, _ tree.Node) error {
		return p.Check(rc, path, PrivRead)
	})
}

func (p *Plugin) beforeBind(rc *server.RequestContext, path string) (server.Result, error) {
	parent, _ := dav.SplitPath(path)
	return server.Continue, p.Check(rc, parent, PrivBind)
}

func (p *Plugin) beforeUnbind(rc *server.RequestContext, path string) (server.Result, error) {
	parent, _ := dav.SplitPath(path)
	return server.Continue, p.Check(rc, parent, PrivUnbind)
}
