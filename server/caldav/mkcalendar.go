package caldav

import (
	"github.com/cyp0633/libdav/internal/xml"
	"github.com/cyp0633/libdav/server"
	"github.com/cyp0633/libdav/server/dav"
)

// httpMkcalendar creates a calendar collection (RFC 4791 section 5.3.1).
func (p *Plugin) httpMkcalendar(rc *server.RequestContext) (server.Result, error) {
	if err := p.checkLocation(rc, rc.Path); err != nil {
		return server.StopChain, err
	}
	root, err := p.srv.ReadCreateBody(rc)
	if err != nil {
		return server.StopChain, err
	}
	req, err := xml.ParseCreate(root, tagMkcalendar)
	if err != nil {
		return server.StopChain, err
	}
	for _, m := range req.Mutations {
		if m.Name != PropSupportedComponentSet {
			continue
		}
		if v, ok := m.Value.Get(); ok {
			if _, ok := parseComponentSet(v); !ok {
				return server.StopChain, dav.BadRequest("%s names no component", PropSupportedComponentSet)
			}
		}
	}

	resourceType := []dav.Name{dav.ElemCollection, ResourceTypeCalendar}
	pp, err := p.srv.CreateCollection(rc, rc.Path, resourceType, req.Mutations)
	if err != nil {
		return server.StopChain, err
	}
	if pp == nil || !pp.Failed() {
		p.logger.Info("calendar created",
			"path", rc.Path,
			"properties", len(req.Mutations))
	}
	return server.StopChain, p.srv.WriteCreated(rc, pp, tagMkcalendarResponse)
}

// checkLocation refuses calendars nested in other calendars.
func (p *Plugin) checkLocation(rc *server.RequestContext, target string) error {
	segs := dav.Segments(target)
	for i := len(segs) - 1; i >= 0; i-- {
		ancestor := dav.JoinPath(segs[:i]...)
		n, err := p.srv.Tree().Resolve(rc.Context(), ancestor)
		if err != nil {
			continue
		}
		if IsCalendar(n) {
			return dav.ForbiddenCondition(CondCalendarLocationOK, "/%s is inside calendar /%s", target, ancestor)
		}
	}
	return nil
}
