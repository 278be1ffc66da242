package davclient

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/cyp0633/libdav/internal/httpclient"
	"github.com/cyp0633/libdav/internal/xml"
	"github.com/cyp0633/libdav/server/dav"
	"github.com/emersion/go-ical"
	"github.com/emersion/go-vcard"
)

var (
	reportCalendarMultiget    = dav.N(dav.NSCalDAV, "calendar-multiget")
	reportAddressBookMultiget = dav.N(dav.NSCardDAV, "addressbook-multiget")
	reportSyncCollection      = dav.DAVName("sync-collection")

	propCalendarData = dav.N(dav.NSCalDAV, "calendar-data")
	propAddressData  = dav.N(dav.NSCardDAV, "address-data")

	condValidSyncToken = dav.DAVName("valid-sync-token")
)

// CalendarObject is a calendar object resource.
type CalendarObject struct {
	URI      string
	ETag     string
	Calendar *ical.Calendar
}

// ContactObject is an address object resource.
type ContactObject struct {
	URI  string
	ETag string
	Card vcard.Card
}

func buildMultiget(report, data dav.Name, hrefs []string) *etree.Document {
	b := xml.NewBuilder()
	root := b.Element(report)
	prop := b.Element(xml.TagProp)
	prop.AddChild(b.Element(dav.PropGetETag))
	prop.AddChild(b.Element(data))
	root.AddChild(prop)
	for _, h := range hrefs {
		el := b.Element(xml.TagHref)
		el.SetText(h)
		root.AddChild(el)
	}
	return b.Document(root)
}

// multiget runs a multiget report and returns the found responses keyed
// by absolute URL.
func (c *Client) multiget(ctx context.Context, collection string, report, data dav.Name, hrefs []string) (map[string]*httpclient.Response, error) {
	paths := make([]string, len(hrefs))
	for i, h := range hrefs {
		paths[i] = c.path(h)
	}
	ms, err := c.http.DoREPORT(ctx, collection, dav.DepthOne, buildMultiget(report, data, paths))
	if err != nil {
		return nil, fmt.Errorf("multiget failed: %w", err)
	}
	found := make(map[string]*httpclient.Response, len(ms.Responses))
	for i := range ms.Responses {
		r := &ms.Responses[i]
		if _, ok := r.Props[data]; !ok {
			c.logger.Debug("multiget member missing",
				"href", r.URI,
				"status", r.Status)
			continue
		}
		found[c.resolveFrom(collection, r.URI)] = r
	}
	return found, nil
}

// GetCalendarObjects fetches the calendars at hrefs with one
// calendar-multiget. Hrefs the server does not return are left out.
func (c *Client) GetCalendarObjects(ctx context.Context, collection string, hrefs []string) ([]CalendarObject, error) {
	found, err := c.multiget(ctx, collection, reportCalendarMultiget, propCalendarData, hrefs)
	if err != nil {
		return nil, err
	}
	objects := make([]CalendarObject, 0, len(found))
	for _, h := range hrefs {
		u := c.resolve(h)
		r, ok := found[u]
		if !ok {
			continue
		}
		cal, err := ical.NewDecoder(strings.NewReader(r.Props[propCalendarData].Text())).Decode()
		if err != nil {
			return nil, fmt.Errorf("failed to parse calendar at %s: %w", u, err)
		}
		objects = append(objects, CalendarObject{URI: u, ETag: r.Text(dav.PropGetETag), Calendar: cal})
	}
	return objects, nil
}

// GetContacts fetches the cards at hrefs with one addressbook-multiget.
func (c *Client) GetContacts(ctx context.Context, addressBook string, hrefs []string) ([]ContactObject, error) {
	found, err := c.multiget(ctx, addressBook, reportAddressBookMultiget, propAddressData, hrefs)
	if err != nil {
		return nil, err
	}
	objects := make([]ContactObject, 0, len(found))
	for _, h := range hrefs {
		u := c.resolve(h)
		r, ok := found[u]
		if !ok {
			continue
		}
		card, err := vcard.NewDecoder(strings.NewReader(r.Props[propAddressData].Text())).Decode()
		if err != nil {
			return nil, fmt.Errorf("failed to parse vcard at %s: %w", u, err)
		}
		objects = append(objects, ContactObject{URI: u, ETag: r.Text(dav.PropGetETag), Card: card})
	}
	return objects, nil
}

// SyncResult is the outcome of a sync-collection report.
type SyncResult struct {
	// Token is passed to the next Sync call.
	Token string
	// Changed maps the URL of every added or modified member to its etag.
	Changed map[string]string
	// Deleted lists the URLs of removed members.
	Deleted []string
	// Truncated is set when the server stopped at the limit; call Sync
	// again with Token for the rest.
	Truncated bool
}

// ErrInvalidSyncToken is returned by Sync when the server no longer knows
// the token. Start over with an empty token.
var ErrInvalidSyncToken = fmt.Errorf("sync token is no longer valid")

// Sync reports the members of collection changed since token, or all of
// them for an empty token. A positive limit caps the result size.
func (c *Client) Sync(ctx context.Context, collection, token string, limit int) (*SyncResult, error) {
	b := xml.NewBuilder()
	root := b.Element(reportSyncCollection)
	tok := b.Element(dav.PropSyncToken)
	tok.SetText(token)
	root.AddChild(tok)
	level := b.Element(dav.DAVName("sync-level"))
	level.SetText("1")
	root.AddChild(level)
	if limit > 0 {
		l := b.Element(dav.DAVName("limit"))
		n := b.Element(dav.DAVName("nresults"))
		n.SetText(strconv.Itoa(limit))
		l.AddChild(n)
		root.AddChild(l)
	}
	prop := b.Element(xml.TagProp)
	prop.AddChild(b.Element(dav.PropGetETag))
	root.AddChild(prop)

	ms, err := c.http.DoREPORT(ctx, collection, dav.DepthZero, b.Document(root))
	if httpclient.HasCondition(err, condValidSyncToken) {
		return nil, ErrInvalidSyncToken
	}
	if err != nil {
		return nil, fmt.Errorf("sync failed: %w", err)
	}

	res := &SyncResult{Token: ms.SyncToken, Changed: make(map[string]string)}
	self := c.path(collection)
	for _, r := range ms.Responses {
		switch {
		case r.Status == http.StatusInsufficientStorage:
			res.Truncated = true
		case r.Status == http.StatusNotFound:
			res.Deleted = append(res.Deleted, c.resolveFrom(collection, r.URI))
		case r.URI != self && strings.TrimSuffix(r.URI, "/") != strings.TrimSuffix(self, "/"):
			res.Changed[c.resolveFrom(collection, r.URI)] = r.Text(dav.PropGetETag)
		}
	}
	c.logger.Debug("sync complete",
		"collection", collection,
		"changed", len(res.Changed),
		"deleted", len(res.Deleted),
		"truncated", res.Truncated)
	return res, nil
}
