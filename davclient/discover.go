package davclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/cyp0633/libdav/server/dav"
)

var (
	propCalendarHomeSet    = dav.N(dav.NSCalDAV, "calendar-home-set")
	propAddressBookHomeSet = dav.N(dav.NSCardDAV, "addressbook-home-set")
)

// DNSResolver interface for mocking DNS lookups in tests
type DNSResolver interface {
	LookupSRV(ctx context.Context, service, proto, name string) (cname string, addrs []*net.SRV, err error)
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// Service selects the SRV records and well-known path tried by discovery.
type Service string

const (
	ServiceCalDAV  Service = "caldav"
	ServiceCardDAV Service = "carddav"
)

// Discovery is what the server tells about the current user.
type Discovery struct {
	// Principal is the absolute URL of the current user's principal.
	Principal string
	// CalendarHome and AddressBookHome are absolute URLs, empty when the
	// server has no such home for the user.
	CalendarHome    string
	AddressBookHome string
}

// ErrNoPrincipal is returned when no candidate location names the
// current user's principal.
var ErrNoPrincipal = errors.New("could not find current-user-principal")

// candidates lists the locations to ask for the current principal, in
// the order Thunderbird tries them: the endpoint when it has a path, the
// SRV targets, the well-known URL and the server root.
func (c *Client) candidates(ctx context.Context, svc Service) []string {
	var out []string
	if p := c.endpoint.Path; p != "" && p != "/" {
		out = append(out, c.endpoint.String())
	}

	for _, secure := range []bool{true, false} {
		scheme, prefix := "http", "_"+string(svc)+"._tcp."
		if secure {
			scheme, prefix = "https", "_"+string(svc)+"s._tcp."
		}
		host := prefix + c.endpoint.Hostname()
		_, addrs, err := c.resolver.LookupSRV(ctx, "", "", host)
		if err != nil {
			continue
		}
		var path string
		txts, _ := c.resolver.LookupTXT(ctx, host)
		for _, txt := range txts {
			if p, ok := strings.CutPrefix(txt, "path="); ok {
				path = p
				break
			}
		}
		for _, addr := range addrs {
			target := strings.TrimSuffix(addr.Target, ".")
			out = append(out, fmt.Sprintf("%s://%s:%d%s", scheme, target, addr.Port, path))
		}
	}

	out = append(out,
		c.endpoint.ResolveReference(&url.URL{Path: "/.well-known/" + string(svc)}).String(),
		c.endpoint.ResolveReference(&url.URL{Path: "/"}).String())
	return out
}

// Discover finds the current user's principal and home collections.
func (c *Client) Discover(ctx context.Context, svc Service) (*Discovery, error) {
	var d Discovery
	for _, loc := range c.candidates(ctx, svc) {
		ms, err := c.http.DoPROPFIND(ctx, loc, dav.DepthZero, dav.PropCurrentUserPrincipal)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Debug("discovery candidate failed", "location", loc, "error", err)
			continue
		}
		for _, r := range ms.Responses {
			if href := r.Href(dav.PropCurrentUserPrincipal); href != "" {
				d.Principal = c.resolveFrom(loc, href)
				break
			}
		}
		if d.Principal != "" {
			break
		}
	}
	if d.Principal == "" {
		return nil, ErrNoPrincipal
	}

	ms, err := c.http.DoPROPFIND(ctx, d.Principal, dav.DepthZero, propCalendarHomeSet, propAddressBookHomeSet)
	if err != nil {
		return nil, fmt.Errorf("failed to get home sets: %w", err)
	}
	for _, r := range ms.Responses {
		if href := r.Href(propCalendarHomeSet); href != "" {
			d.CalendarHome = c.resolveFrom(d.Principal, href)
		}
		if href := r.Href(propAddressBookHomeSet); href != "" {
			d.AddressBookHome = c.resolveFrom(d.Principal, href)
		}
	}
	c.logger.Debug("discovery complete",
		"principal", d.Principal,
		"calendar_home", d.CalendarHome,
		"addressbook_home", d.AddressBookHome)
	return &d, nil
}

// FindCalendars discovers the calendar home and lists its calendars.
func (c *Client) FindCalendars(ctx context.Context) ([]CalendarInfo, error) {
	d, err := c.Discover(ctx, ServiceCalDAV)
	if err != nil {
		return nil, err
	}
	if d.CalendarHome == "" {
		return nil, fmt.Errorf("no calendar-home-set found")
	}
	return c.ListCalendars(ctx, d.CalendarHome)
}

// FindAddressBooks discovers the address book home and lists its address
// books.
func (c *Client) FindAddressBooks(ctx context.Context) ([]AddressBookInfo, error) {
	d, err := c.Discover(ctx, ServiceCardDAV)
	if err != nil {
		return nil, err
	}
	if d.AddressBookHome == "" {
		return nil, fmt.Errorf("no addressbook-home-set found")
	}
	return c.ListAddressBooks(ctx, d.AddressBookHome)
}

// FindCalendars finds the calendars of a user, starting from location.
func FindCalendars(ctx context.Context, location string, username string, password string, opts ...Option) ([]CalendarInfo, error) {
	c, err := New(location, append([]Option{WithBasicAuth(username, password)}, opts...)...)
	if err != nil {
		return nil, err
	}
	return c.FindCalendars(ctx)
}

// resolveFrom resolves href against the URL it was returned for.
func (c *Client) resolveFrom(base, href string) string {
	u, err := c.http.Resolve(base)
	if err != nil {
		return href
	}
	ref, err := u.Parse(href)
	if err != nil {
		return href
	}
	return ref.String()
}
