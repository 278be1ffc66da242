package caldav

import (
	"net/http"
	"slices"
	"strconv"

	"github.com/beevik/etree"
	"github.com/cyp0633/libdav/server"
	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/tree"
	"github.com/samber/mo"
)

func (p *Plugin) propFind(rc *server.RequestContext, pf *dav.PropFind, node tree.Node) error {
	requested := pf.Requested()

	if rc.Principal != "" && pf.Path() == rc.Principal && pf.Wants(PropCalendarHomeSet) {
		pf.HandleValue(PropCalendarHomeSet, dav.Href(p.srv.Href(p.home(rc.Principal), true)))
	}

	if f, ok := node.(tree.File); ok && slices.Contains(requested, PropCalendarData) {
		parent, _ := dav.SplitPath(pf.Path())
		coll, err := p.srv.Tree().Resolve(rc.Context(), parent)
		if err != nil || !IsCalendar(coll) {
			return nil
		}
		data, err := readAll(rc.Context(), f)
		if err != nil {
			return err
		}
		pf.HandleValue(PropCalendarData, dav.Text(string(data)))
		return nil
	}

	if !IsCalendar(node) {
		return nil
	}
	pf.HandleValue(PropSupportedCalendarData, dav.EncoderFunc(func(b dav.Builder, parent *etree.Element) {
		el := b.Element(PropCalendarData)
		el.CreateAttr("content-type", "text/calendar")
		el.CreateAttr("version", "2.0")
		parent.AddChild(el)
	}))
	if p.maxSize > 0 {
		pf.HandleValue(PropMaxResourceSize, dav.Text(strconv.FormatInt(p.maxSize, 10)))
	}
	return nil
}

// propFindFallback fills in calendar properties the collection does not
// store itself.
func (p *Plugin) propFindFallback(rc *server.RequestContext, pf *dav.PropFind, node tree.Node) error {
	if !IsCalendar(node) {
		return nil
	}
	pf.HandleValue(PropSupportedComponentSet, componentSet(DefaultComponents))
	if slices.Contains(pf.Requested(), PropCalendarDescription) {
		pf.Handle(PropCalendarDescription, func() mo.Option[dav.Value] {
			if v, ok := pf.Get(dav.PropDisplayName).Get(); ok {
				return mo.Some(v)
			}
			return mo.Some[dav.Value](dav.Text(node.Name()))
		})
	}
	return nil
}

func componentSet(comps []string) dav.Value {
	return dav.EncoderFunc(func(b dav.Builder, parent *etree.Element) {
		for _, c := range comps {
			el := b.Element(tagComp)
			el.CreateAttr("name", c)
			parent.AddChild(el)
		}
	})
}

// propPatch keeps supported-calendar-component-set fixed once the
// calendar exists.
func (p *Plugin) propPatch(rc *server.RequestContext, pp *dav.PropPatch, _ tree.Node) error {
	if !pp.IsPending(PropSupportedComponentSet) {
		return nil
	}
	switch rc.Method() {
	case "MKCALENDAR", "MKCOL":
		return nil
	}
	pp.SetStatus(PropSupportedComponentSet, http.StatusForbidden)
	return nil
}
