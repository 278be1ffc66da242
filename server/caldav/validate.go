package caldav

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"slices"
	"strings"

	"github.com/beevik/etree"
	"github.com/cyp0633/libdav/internal/xml"
	"github.com/cyp0633/libdav/server"
	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/tree"
	"github.com/emersion/go-ical"
)

// object is what validation learns about a calendar object resource.
type object struct {
	component string
	uid       string
}

// parseObject checks that data is one VCALENDAR holding components of a
// single type, besides VTIMEZONE, that all share one UID.
func parseObject(data []byte) (object, error) {
	dec := ical.NewDecoder(bytes.NewReader(data))
	cal, err := dec.Decode()
	if err != nil {
		return object{}, &dav.Error{
			Status:    http.StatusForbidden,
			Condition: CondValidCalendarData,
			Message:   "invalid iCalendar data",
			Err:       err,
		}
	}
	if cal.Name != ical.CompCalendar {
		return object{}, dav.ForbiddenCondition(CondValidCalendarData, "expected VCALENDAR, got %s", cal.Name)
	}
	if _, err := dec.Decode(); !errors.Is(err, io.EOF) {
		return object{}, dav.ForbiddenCondition(CondValidCalendarData, "more than one VCALENDAR")
	}
	if cal.Props.Get(ical.PropVersion) == nil {
		return object{}, dav.ForbiddenCondition(CondValidCalendarData, "VCALENDAR without VERSION")
	}

	var obj object
	for _, c := range cal.Children {
		if c.Name == ical.CompTimezone {
			continue
		}
		if obj.component == "" {
			obj.component = c.Name
		} else if c.Name != obj.component {
			return object{}, dav.ForbiddenCondition(CondValidCalendarObject,
				"mixed component types %s and %s", obj.component, c.Name)
		}
		uid := c.Props.Get(ical.PropUID)
		if uid == nil || uid.Value == "" {
			return object{}, dav.ForbiddenCondition(CondValidCalendarObject, "%s without UID", c.Name)
		}
		if obj.uid == "" {
			obj.uid = uid.Value
		} else if uid.Value != obj.uid {
			return object{}, dav.ForbiddenCondition(CondValidCalendarObject, "more than one UID")
		}
	}
	if obj.component == "" {
		return object{}, dav.ForbiddenCondition(CondValidCalendarObject, "no calendar component")
	}
	return obj, nil
}

func (p *Plugin) beforeCreateFile(rc *server.RequestContext, c *server.Content) (server.Result, error) {
	if !IsCalendar(c.Parent) {
		return server.Continue, nil
	}
	parent, _ := dav.SplitPath(c.Path)
	return server.Continue, p.validate(rc, c, parent, c.Parent)
}

func (p *Plugin) beforeWriteContent(rc *server.RequestContext, c *server.Content) (server.Result, error) {
	parent, _ := dav.SplitPath(c.Path)
	coll, err := p.srv.Tree().ResolveCollection(rc.Context(), parent)
	if err != nil {
		return server.Continue, err
	}
	if !IsCalendar(coll) {
		return server.Continue, nil
	}
	return server.Continue, p.validate(rc, c, parent, coll)
}

func (p *Plugin) validate(rc *server.RequestContext, c *server.Content, parentPath string, parent tree.Collection) error {
	if c.ContentType != "" {
		mt, _, err := mime.ParseMediaType(c.ContentType)
		if err != nil || mt != "text/calendar" {
			return &dav.Error{
				Status:    http.StatusUnsupportedMediaType,
				Condition: CondSupportedCalendarData,
				Message:   "calendar objects must be text/calendar",
			}
		}
	}
	if p.maxSize > 0 && int64(len(c.Data)) > p.maxSize {
		return dav.ForbiddenCondition(CondMaxResourceSize, "%d bytes exceed the limit of %d", len(c.Data), p.maxSize)
	}

	obj, err := parseObject(c.Data)
	if err != nil {
		p.logger.Info("calendar object rejected",
			"path", c.Path,
			"error", err)
		return err
	}
	comps, err := p.components(rc.Context(), parent)
	if err != nil {
		return err
	}
	if !slices.Contains(comps, obj.component) {
		return dav.ForbiddenCondition(CondSupportedCalendarComponent,
			"/%s does not accept %s", parentPath, obj.component)
	}
	return p.checkUID(rc.Context(), c.Path, parentPath, parent, obj.uid)
}

// checkUID rejects a UID another resource of the calendar already uses.
func (p *Plugin) checkUID(ctx context.Context, target, parentPath string, parent tree.Collection, uid string) error {
	children, err := parent.Children(ctx)
	if err != nil {
		return err
	}
	for _, child := range children {
		f, ok := child.(tree.File)
		if !ok {
			continue
		}
		childPath := dav.JoinPath(parentPath, child.Name())
		if childPath == target {
			continue
		}
		data, err := readAll(ctx, f)
		if err != nil {
			return err
		}
		other, err := parseObject(data)
		if err != nil || other.uid != uid {
			continue
		}
		href := p.srv.Href(childPath, false)
		return &dav.Error{
			Status:    http.StatusForbidden,
			Condition: CondNoUIDConflict,
			Message:   "UID " + uid + " is already used",
			Detail:    dav.Href(href),
		}
	}
	return nil
}

func readAll(ctx context.Context, f tree.File) ([]byte, error) {
	r, err := f.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// components returns the component types the calendar accepts.
func (p *Plugin) components(ctx context.Context, coll tree.Node) ([]string, error) {
	props, ok := coll.(tree.Properties)
	if !ok {
		return DefaultComponents, nil
	}
	stored, err := props.PropertiesOf(ctx, []dav.Name{PropSupportedComponentSet})
	if err != nil {
		return nil, err
	}
	if v, ok := stored[PropSupportedComponentSet]; ok {
		if comps, ok := parseComponentSet(v); ok {
			return comps, nil
		}
	}
	return DefaultComponents, nil
}

// parseComponentSet reads the comp names of a
// supported-calendar-component-set value.
func parseComponentSet(v dav.Value) ([]string, bool) {
	raw, ok := v.(dav.RawXML)
	if !ok {
		return nil, false
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromString("<x>" + string(raw) + "</x>"); err != nil {
		return nil, false
	}
	var comps []string
	for _, el := range doc.Root().ChildElements() {
		if xml.NameOf(el) != tagComp {
			continue
		}
		if name := strings.ToUpper(el.SelectAttrValue("name", "")); name != "" {
			comps = append(comps, name)
		}
	}
	return comps, len(comps) > 0
}
