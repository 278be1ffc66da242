package acl

import (
	"net/http"
	"slices"

	"github.com/beevik/etree"
	"github.com/cyp0633/libdav/server"
	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/tree"
)

// Access control properties beyond those the dav package names.
var (
	PropSupportedPrivilegeSet  = dav.DAVName("supported-privilege-set")
	PropPrincipalCollectionSet = dav.DAVName("principal-collection-set")
	PropACLRestrictions        = dav.DAVName("acl-restrictions")
	PropInheritedACLSet        = dav.DAVName("inherited-acl-set")
)

// readCheck hides every property of nodes the principal cannot read.
func (p *Plugin) readCheck(rc *server.RequestContext, pf *dav.PropFind, _ tree.Node) error {
	have, err := p.Privileges(rc.Context(), rc.Principal, pf.Path())
	if err != nil {
		return err
	}
	if !have[PrivRead] {
		pf.ForbidAll()
	}
	return nil
}

func (p *Plugin) propFind(rc *server.RequestContext, pf *dav.PropFind, node tree.Node) error {
	ctx := rc.Context()
	path := pf.Path()
	requested := pf.Requested()
	wants := func(n dav.Name) bool {
		return slices.Contains(requested, n) && pf.Wants(n)
	}

	var have map[dav.Name]bool
	privileges := func() (map[dav.Name]bool, error) {
		if have != nil {
			return have, nil
		}
		var err error
		have, err = p.Privileges(ctx, rc.Principal, path)
		return have, err
	}

	if wants(dav.PropCurrentUserPrincipal) {
		pf.HandleValue(dav.PropCurrentUserPrincipal, p.currentUserPrincipal(rc.Principal))
	}
	if o, ok := node.(Owned); ok && wants(dav.PropOwner) {
		if owner := o.Owner(); owner != "" {
			pf.HandleValue(dav.PropOwner, dav.Href(p.srv.Href(owner, true)))
		}
	}
	if wants(PropSupportedPrivilegeSet) {
		pf.HandleValue(PropSupportedPrivilegeSet, p.supportedPrivilegeSet())
	}
	if wants(PropPrincipalCollectionSet) && len(p.collections) > 0 {
		hrefs := make(dav.Hrefs, len(p.collections))
		for i, c := range p.collections {
			hrefs[i] = p.srv.Href(c, true)
		}
		pf.HandleValue(PropPrincipalCollectionSet, hrefs)
	}
	if wants(PropACLRestrictions) {
		pf.HandleValue(PropACLRestrictions, dav.ResourceType{dav.DAVName("grant-only"), dav.DAVName("no-invert")})
	}

	if wants(dav.PropCurrentUserPrivileges) {
		privs, err := privileges()
		if err != nil {
			return err
		}
		if !privs[PrivReadCurrentUserPrivSet] {
			pf.SetStatus(dav.PropCurrentUserPrivileges, http.StatusForbidden)
		} else {
			pf.HandleValue(dav.PropCurrentUserPrivileges, privilegeList(p.privileges.rollup(privs)))
		}
	}

	if _, ok := node.(Node); !ok {
		return nil
	}
	if !wants(dav.PropACL) && !wants(PropInheritedACLSet) {
		return nil
	}
	privs, err := privileges()
	if err != nil {
		return err
	}
	if !privs[PrivReadACL] {
		for _, n := range []dav.Name{dav.PropACL, PropInheritedACLSet} {
			if wants(n) {
				pf.SetStatus(n, http.StatusForbidden)
			}
		}
		return nil
	}
	aces, err := p.EffectiveACL(ctx, path)
	if err != nil {
		return err
	}
	if wants(dav.PropACL) {
		pf.HandleValue(dav.PropACL, p.encodeACL(aces))
	}
	if wants(PropInheritedACLSet) {
		var hrefs dav.Hrefs
		for _, ace := range aces {
			if ace.Inherited == "" {
				continue
			}
			if !slices.Contains(hrefs, ace.Inherited) {
				hrefs = append(hrefs, ace.Inherited)
			}
		}
		pf.HandleValue(PropInheritedACLSet, hrefs)
	}
	return nil
}

func (p *Plugin) currentUserPrincipal(principal string) dav.Value {
	if principal == "" {
		return dav.ResourceType{dav.DAVName("unauthenticated")}
	}
	return dav.Href(p.srv.Href(principal, true))
}

func privilegeList(names []dav.Name) dav.Value {
	return dav.EncoderFunc(func(b dav.Builder, parent *etree.Element) {
		for _, n := range names {
			el := b.Element(dav.DAVName("privilege"))
			el.AddChild(b.Element(n))
			parent.AddChild(el)
		}
	})
}

func (p *Plugin) supportedPrivilegeSet() dav.Value {
	return dav.EncoderFunc(func(b dav.Builder, parent *etree.Element) {
		var encode func(priv *Privilege, parent *etree.Element)
		encode = func(priv *Privilege, parent *etree.Element) {
			sp := b.Element(dav.DAVName("supported-privilege"))
			pe := b.Element(dav.DAVName("privilege"))
			pe.AddChild(b.Element(priv.Name))
			sp.AddChild(pe)
			if priv.Abstract {
				sp.AddChild(b.Element(dav.DAVName("abstract")))
			}
			if priv.Description != "" {
				d := b.Element(dav.DAVName("description"))
				d.SetText(priv.Description)
				sp.AddChild(d)
			}
			for _, c := range priv.Aggregates {
				encode(c, sp)
			}
			parent.AddChild(sp)
		}
		encode(p.privileges.root, parent)
	})
}

// encodeACL renders one <d:ace> per entry.
func (p *Plugin) encodeACL(aces []dav.ACE) dav.Value {
	return dav.EncoderFunc(func(b dav.Builder, parent *etree.Element) {
		for _, ace := range aces {
			el := b.Element(dav.DAVName("ace"))
			principal := b.Element(dav.DAVName("principal"))
			p.encodePrincipal(b, principal, ace.Principal)
			el.AddChild(principal)

			grant := b.Element(dav.DAVName("grant"))
			privilegeList([]dav.Name{ace.Privilege}).Encode(b, grant)
			el.AddChild(grant)

			if ace.Protected {
				el.AddChild(b.Element(dav.DAVName("protected")))
			}
			if ace.Inherited != "" {
				inh := b.Element(dav.DAVName("inherited"))
				dav.Href(ace.Inherited).Encode(b, inh)
				el.AddChild(inh)
			}
			parent.AddChild(el)
		}
	})
}

func (p *Plugin) encodePrincipal(b dav.Builder, parent *etree.Element, principal string) {
	switch principal {
	case dav.PrincipalOwner:
		prop := b.Element(dav.DAVName("property"))
		prop.AddChild(b.Element(dav.PropOwner))
		parent.AddChild(prop)
	case dav.PrincipalAll, dav.PrincipalAuthenticated, dav.PrincipalUnauthenticated, dav.PrincipalSelf:
		parent.AddChild(b.Element(dav.MustParseName(principal)))
	default:
		dav.Href(p.srv.Href(principal, true)).Encode(b, parent)
	}
}
