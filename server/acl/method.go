package acl

import (
	"net/http"
	"strings"

	"github.com/cyp0633/libdav/internal/xml"
	"github.com/cyp0633/libdav/server"
	"github.com/cyp0633/libdav/server/dav"
)

var condRecognizedPrincipal = dav.DAVName("recognized-principal")

// httpACL replaces the access control list of the request node (RFC 3744
// section 8.1).
func (p *Plugin) httpACL(rc *server.RequestContext) (server.Result, error) {
	ctx := rc.Context()
	node, err := p.srv.Tree().Resolve(ctx, rc.Path)
	if err != nil {
		return server.StopChain, err
	}
	an, ok := node.(Node)
	if !ok {
		return server.StopChain, dav.NotImplemented("/%s has no access control list", rc.Path)
	}
	if err := p.Check(rc, rc.Path, PrivWriteACL); err != nil {
		return server.StopChain, err
	}

	root, err := xml.ReadDocument(rc.Request.Body)
	if err != nil {
		return server.StopChain, err
	}
	if root == nil {
		return server.StopChain, dav.BadRequest("ACL requires a body")
	}
	reqs, err := xml.ParseACL(root)
	if err != nil {
		return server.StopChain, err
	}
	aces, err := p.toACEs(reqs)
	if err != nil {
		return server.StopChain, err
	}

	// Protected entries must survive unchanged.
	for _, cur := range an.ACL() {
		if !cur.Protected {
			continue
		}
		found := false
		for i := range aces {
			if aces[i].Principal == cur.Principal && aces[i].Privilege == cur.Privilege {
				aces[i].Protected = true
				found = true
			}
		}
		if !found {
			return server.StopChain, dav.ForbiddenCondition(dav.CondNoACEConflict,
				"protected entry %s for %s cannot be removed", cur.Privilege, cur.Principal)
		}
	}

	if err := an.SetACL(ctx, aces); err != nil {
		return server.StopChain, err
	}
	p.logger.Info("acl updated",
		"path", rc.Path,
		"principal", rc.Principal,
		"entries", len(aces))
	rc.Response.Header().Set("Content-Length", "0")
	rc.Response.WriteHeader(http.StatusOK)
	return server.StopChain, nil
}

// toACEs validates the requested entries, one ACE per privilege.
// Protection is never taken from the request.
func (p *Plugin) toACEs(reqs []xml.ACERequest) ([]dav.ACE, error) {
	var out []dav.ACE
	for _, r := range reqs {
		if r.Deny {
			return nil, dav.ForbiddenCondition(dav.CondGrantOnly, "deny entries are not supported")
		}
		principal, err := p.principal(r.Principal)
		if err != nil {
			return nil, err
		}
		for _, name := range r.Privileges {
			priv, ok := p.privileges.lookup(name)
			if !ok {
				return nil, dav.ForbiddenCondition(dav.CondNotSupportedPrivilege, "privilege %s is not supported", name)
			}
			if priv.Abstract {
				return nil, dav.ForbiddenCondition(dav.CondNoAbstract, "privilege %s is abstract", name)
			}
			out = append(out, dav.ACE{Principal: principal, Privilege: name})
		}
	}
	return out, nil
}

// principal maps a requested principal to a principal path or a pseudo
// principal.
func (p *Plugin) principal(s string) (string, error) {
	if strings.HasPrefix(s, "{") {
		if !dav.IsPseudoPrincipal(s) {
			return "", dav.ForbiddenCondition(condRecognizedPrincipal, "principal %s is not supported", s)
		}
		return s, nil
	}
	path, ok := p.srv.RelativePath(s)
	if !ok || path == "" {
		return "", dav.ForbiddenCondition(condRecognizedPrincipal, "principal %s is outside the server", s)
	}
	return path, nil
}
