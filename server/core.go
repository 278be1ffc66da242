package server

import (
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/beevik/etree"
	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/tree"
	"github.com/samber/mo"
)

// Priorities of the handlers the core registers itself.
const (
	PriorityLiveProps      = 100
	PriorityNodeProps      = 120
	PriorityProtectedCheck = 90
	PriorityNodeClaim      = 120
)

// liveProps are computed from node capabilities and never stored.
var liveProps = []dav.Name{
	dav.PropResourceType,
	dav.PropGetETag,
	dav.PropGetContentLength,
	dav.PropGetContentType,
	dav.PropGetLastModified,
	dav.PropCreationDate,
	dav.PropQuotaUsedBytes,
	dav.PropQuotaAvailableBytes,
	dav.PropSupportedReportSet,
}

// creationDater nodes know when they were created.
type creationDater interface {
	CreationDate() time.Time
}

func (s *Server) registerCore() {
	s.AddProtected(liveProps...)
	s.OnPropFind(PriorityLiveProps, s.propFindLive)
	s.OnPropFind(PriorityNodeProps, propFindNode)
	s.OnPropPatch(PriorityProtectedCheck, s.propPatchProtected)
	s.OnPropPatch(PriorityNodeClaim, propPatchNode)
}

// explicit reports whether name was requested by name. Expensive
// properties are left out of allprop.
func explicit(pf *dav.PropFind, name dav.Name) bool {
	return slices.Contains(pf.Requested(), name)
}

func (s *Server) propFindLive(rc *RequestContext, pf *dav.PropFind, node tree.Node) error {
	pf.HandleValue(dav.PropResourceType, tree.ResourceTypeOf(node))

	if f, ok := node.(tree.File); ok {
		pf.Handle(dav.PropGetETag, func() mo.Option[dav.Value] {
			if etag := f.ETag(); etag != "" {
				return mo.Some[dav.Value](dav.Text(etag))
			}
			return mo.None[dav.Value]()
		})
		pf.HandleValue(dav.PropGetContentLength, dav.Text(strconv.FormatInt(f.Size(), 10)))
		pf.Handle(dav.PropGetContentType, func() mo.Option[dav.Value] {
			if ct := f.ContentType(); ct != "" {
				return mo.Some[dav.Value](dav.Text(ct))
			}
			return mo.None[dav.Value]()
		})
	}
	if m, ok := node.(tree.Modified); ok {
		if t := m.LastModified(); !t.IsZero() {
			pf.HandleValue(dav.PropGetLastModified, dav.Text(t.UTC().Format(http.TimeFormat)))
		}
	}
	if c, ok := node.(creationDater); ok {
		if t := c.CreationDate(); !t.IsZero() {
			pf.HandleValue(dav.PropCreationDate, dav.Text(t.UTC().Format(time.RFC3339)))
		}
	}
	// Nodes keeping their own properties answer displayname from storage.
	if _, ok := node.(tree.Properties); !ok && node.Name() != "" {
		pf.HandleValue(dav.PropDisplayName, dav.Text(node.Name()))
	}

	if q, ok := node.(tree.Quota); ok &&
		(explicit(pf, dav.PropQuotaUsedBytes) || explicit(pf, dav.PropQuotaAvailableBytes)) {
		used, available, err := q.QuotaInfo(rc.Context())
		if err != nil {
			return err
		}
		pf.HandleValue(dav.PropQuotaUsedBytes, dav.Text(strconv.FormatInt(used, 10)))
		if available >= 0 {
			pf.HandleValue(dav.PropQuotaAvailableBytes, dav.Text(strconv.FormatInt(available, 10)))
		}
	}

	if explicit(pf, dav.PropSupportedReportSet) {
		reports := s.SupportedReports(node)
		pf.HandleValue(dav.PropSupportedReportSet, dav.EncoderFunc(func(b dav.Builder, parent *etree.Element) {
			for _, r := range reports {
				sr := b.Element(dav.DAVName("supported-report"))
				report := b.Element(dav.DAVName("report"))
				report.AddChild(b.Element(r))
				sr.AddChild(report)
				parent.AddChild(sr)
			}
		}))
	}
	return nil
}

func propFindNode(rc *RequestContext, pf *dav.PropFind, node tree.Node) error {
	p, ok := node.(tree.Properties)
	if !ok {
		return nil
	}
	var names []dav.Name
	if pf.Type() == dav.PropFindNamed {
		names = pf.Pending()
		if len(names) == 0 {
			return nil
		}
	}
	props, err := p.PropertiesOf(rc.Context(), names)
	if err != nil {
		return err
	}
	for name, v := range props {
		pf.HandleValue(name, v)
	}
	return nil
}

func (s *Server) propPatchProtected(_ *RequestContext, pp *dav.PropPatch, _ tree.Node) error {
	for _, name := range pp.Pending() {
		if s.IsProtected(name) {
			pp.SetStatus(name, http.StatusForbidden)
		}
	}
	return nil
}

func propPatchNode(rc *RequestContext, pp *dav.PropPatch, node tree.Node) error {
	if p, ok := node.(tree.Properties); ok {
		p.PatchProperties(rc.Context(), pp)
	}
	return nil
}
