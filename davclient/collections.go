package davclient

import (
	"context"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"github.com/cyp0633/libdav/internal/httpclient"
	"github.com/cyp0633/libdav/internal/xml"
	"github.com/cyp0633/libdav/server/dav"
)

var (
	resourceTypeCalendar    = dav.N(dav.NSCalDAV, "calendar")
	resourceTypeAddressBook = dav.N(dav.NSCardDAV, "addressbook")

	propCalendarColor         = dav.N(dav.NSAppleICal, "calendar-color")
	propCalendarDescription   = dav.N(dav.NSCalDAV, "calendar-description")
	propSupportedComponentSet = dav.N(dav.NSCalDAV, "supported-calendar-component-set")
	propAddressBookDesc       = dav.N(dav.NSCardDAV, "addressbook-description")
	propGetCTag               = dav.N(dav.NSCalendarServer, "getctag")

	tagMkcalendar = dav.N(dav.NSCalDAV, "mkcalendar")
	tagMkcol      = dav.DAVName("mkcol")
	tagSet        = dav.DAVName("set")
	tagComp       = dav.N(dav.NSCalDAV, "comp")
	tagPrivilege  = dav.DAVName("privilege")
)

// writePrivileges are the privileges that let a user change a collection's
// members.
var writePrivileges = []dav.Name{
	dav.DAVName("all"),
	dav.DAVName("write"),
	dav.DAVName("write-content"),
	dav.DAVName("bind"),
}

type CalendarInfo struct {
	URI         string
	Name        string
	Description string
	Color       string
	ReadOnly    bool
	// Components lists the component types the calendar accepts.
	Components []string
	SyncToken  string
}

type AddressBookInfo struct {
	URI         string
	Name        string
	Description string
	ReadOnly    bool
	SyncToken   string
}

// ListCalendars lists the calendars that are members of home.
func (c *Client) ListCalendars(ctx context.Context, home string) ([]CalendarInfo, error) {
	ms, err := c.http.DoPROPFIND(ctx, home, dav.DepthOne,
		dav.PropResourceType,
		dav.PropDisplayName,
		propCalendarDescription,
		propCalendarColor,
		propSupportedComponentSet,
		dav.PropCurrentUserPrivileges,
		dav.PropSyncToken)
	if err != nil {
		return nil, fmt.Errorf("failed to list calendars: %w", err)
	}

	calendars := make([]CalendarInfo, 0)
	for _, r := range ms.Responses {
		if !r.Is(resourceTypeCalendar) {
			continue
		}
		info := CalendarInfo{
			URI:         c.resolveFrom(home, r.URI),
			Name:        r.Text(dav.PropDisplayName),
			Description: r.Text(propCalendarDescription),
			Color:       r.Text(propCalendarColor),
			ReadOnly:    readOnly(&r),
			SyncToken:   r.Text(dav.PropSyncToken),
		}
		for _, comp := range xml.Children(r.Props[propSupportedComponentSet], tagComp) {
			info.Components = append(info.Components, comp.SelectAttrValue("name", ""))
		}
		calendars = append(calendars, info)
	}
	return calendars, nil
}

// ListAddressBooks lists the address books that are members of home.
func (c *Client) ListAddressBooks(ctx context.Context, home string) ([]AddressBookInfo, error) {
	ms, err := c.http.DoPROPFIND(ctx, home, dav.DepthOne,
		dav.PropResourceType,
		dav.PropDisplayName,
		propAddressBookDesc,
		dav.PropCurrentUserPrivileges,
		dav.PropSyncToken)
	if err != nil {
		return nil, fmt.Errorf("failed to list address books: %w", err)
	}

	books := make([]AddressBookInfo, 0)
	for _, r := range ms.Responses {
		if !r.Is(resourceTypeAddressBook) {
			continue
		}
		books = append(books, AddressBookInfo{
			URI:         c.resolveFrom(home, r.URI),
			Name:        r.Text(dav.PropDisplayName),
			Description: r.Text(propAddressBookDesc),
			ReadOnly:    readOnly(&r),
			SyncToken:   r.Text(dav.PropSyncToken),
		})
	}
	return books, nil
}

// readOnly reports whether the returned privilege set lacks every write
// privilege. A server that does not report privileges is assumed to allow
// writing.
func readOnly(r *httpclient.Response) bool {
	set, ok := r.Props[dav.PropCurrentUserPrivileges]
	if !ok {
		return false
	}
	for _, p := range xml.Children(set, tagPrivilege) {
		for _, granted := range p.ChildElements() {
			for _, w := range writePrivileges {
				if xml.Is(granted, w) {
					return false
				}
			}
		}
	}
	return true
}

// CalendarOptions describes a calendar to create.
type CalendarOptions struct {
	DisplayName string
	Description string
	Color       string
	// Components restricts the component types, e.g. VEVENT. The server
	// default applies when empty.
	Components []string
}

// MakeCalendar creates a calendar collection at href with MKCALENDAR.
func (c *Client) MakeCalendar(ctx context.Context, href string, opts CalendarOptions) error {
	b := xml.NewBuilder()
	root := b.Element(tagMkcalendar)
	prop := b.Element(xml.TagProp)
	setText(b, prop, dav.PropDisplayName, opts.DisplayName)
	setText(b, prop, propCalendarDescription, opts.Description)
	setText(b, prop, propCalendarColor, opts.Color)
	if len(opts.Components) > 0 {
		set := b.Element(propSupportedComponentSet)
		for _, comp := range opts.Components {
			el := b.Element(tagComp)
			el.CreateAttr("name", strings.ToUpper(comp))
			set.AddChild(el)
		}
		prop.AddChild(set)
	}
	if len(prop.ChildElements()) > 0 {
		set := b.Element(tagSet)
		set.AddChild(prop)
		root.AddChild(set)
	}
	if err := c.http.DoMKCOL(ctx, "MKCALENDAR", href, b.Document(root)); err != nil {
		return fmt.Errorf("failed to create calendar: %w", err)
	}
	return nil
}

// MakeAddressBook creates an address book at href with an extended MKCOL.
func (c *Client) MakeAddressBook(ctx context.Context, href, displayName, description string) error {
	b := xml.NewBuilder()
	root := b.Element(tagMkcol)
	prop := b.Element(xml.TagProp)
	rt := b.Element(dav.PropResourceType)
	rt.AddChild(b.Element(dav.ElemCollection))
	rt.AddChild(b.Element(resourceTypeAddressBook))
	prop.AddChild(rt)
	setText(b, prop, dav.PropDisplayName, displayName)
	setText(b, prop, propAddressBookDesc, description)
	set := b.Element(tagSet)
	set.AddChild(prop)
	root.AddChild(set)
	if err := c.http.DoMKCOL(ctx, "MKCOL", href, b.Document(root)); err != nil {
		return fmt.Errorf("failed to create address book: %w", err)
	}
	return nil
}

// MakeCollection creates a plain collection at href.
func (c *Client) MakeCollection(ctx context.Context, href string) error {
	return c.http.DoMKCOL(ctx, "MKCOL", href, nil)
}

// CTag returns the collection tag that changes whenever a member does.
func (c *Client) CTag(ctx context.Context, collection string) (string, error) {
	ms, err := c.http.DoPROPFIND(ctx, collection, dav.DepthZero, propGetCTag)
	if err != nil {
		return "", err
	}
	for _, r := range ms.Responses {
		if tag := r.Text(propGetCTag); tag != "" {
			return tag, nil
		}
	}
	return "", fmt.Errorf("no getctag returned for %s", collection)
}

func setText(b *xml.Builder, prop *etree.Element, name dav.Name, value string) {
	if value == "" {
		return
	}
	el := b.Element(name)
	el.SetText(value)
	prop.AddChild(el)
}
