// Package caldav adds calendar collections (RFC 4791) to the server:
// MKCALENDAR, validation of calendar object resources, the
// calendar-multiget report and the CalDAV properties.
package caldav

import (
	"log/slog"
	"path"
	"slices"

	"github.com/beevik/etree"
	"github.com/cyp0633/libdav/internal/xml"
	"github.com/cyp0633/libdav/server"
	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/tree"
	"github.com/emersion/go-ical"
)

// CalDAV names.
var (
	ResourceTypeCalendar = dav.N(dav.NSCalDAV, "calendar")
	ReportMultiget       = dav.N(dav.NSCalDAV, "calendar-multiget")

	PropCalendarData          = dav.N(dav.NSCalDAV, "calendar-data")
	PropCalendarDescription   = dav.N(dav.NSCalDAV, "calendar-description")
	PropCalendarHomeSet       = dav.N(dav.NSCalDAV, "calendar-home-set")
	PropSupportedComponentSet = dav.N(dav.NSCalDAV, "supported-calendar-component-set")
	PropSupportedCalendarData = dav.N(dav.NSCalDAV, "supported-calendar-data")
	PropMaxResourceSize       = dav.N(dav.NSCalDAV, "max-resource-size")

	CondValidCalendarData          = dav.N(dav.NSCalDAV, "valid-calendar-data")
	CondValidCalendarObject        = dav.N(dav.NSCalDAV, "valid-calendar-object-resource")
	CondSupportedCalendarData      = dav.N(dav.NSCalDAV, "supported-calendar-data")
	CondSupportedCalendarComponent = dav.N(dav.NSCalDAV, "supported-calendar-component")
	CondNoUIDConflict              = dav.N(dav.NSCalDAV, "no-uid-conflict")
	CondMaxResourceSize            = dav.N(dav.NSCalDAV, "max-resource-size")
	CondCalendarLocationOK         = dav.N(dav.NSCalDAV, "calendar-collection-location-ok")

	tagMkcalendar         = dav.N(dav.NSCalDAV, "mkcalendar")
	tagMkcalendarResponse = dav.N(dav.NSCalDAV, "mkcalendar-response")
	tagComp               = dav.N(dav.NSCalDAV, "comp")
)

// DefaultComponents is the component set of calendars created without
// one.
var DefaultComponents = []string{ical.CompEvent, ical.CompToDo, ical.CompJournal}

// PriorityFallback answers CalDAV properties the node left unanswered.
const PriorityFallback = 150

// Plugin is the CalDAV plugin.
type Plugin struct {
	srv     *server.Server
	logger  *slog.Logger
	maxSize int64
	home    func(principal string) string
}

var (
	_ server.Plugin          = (*Plugin)(nil)
	_ server.FeatureProvider = (*Plugin)(nil)
	_ server.MethodProvider  = (*Plugin)(nil)
	_ server.ReportProvider  = (*Plugin)(nil)
)

// Option configures the plugin.
type Option func(*Plugin)

// WithMaxResourceSize limits calendar object bodies. 0 disables the limit.
func WithMaxResourceSize(bytes int64) Option {
	return func(p *Plugin) {
		p.maxSize = bytes
	}
}

// WithCalendarHome maps a principal path to its calendar home collection.
func WithCalendarHome(fn func(principal string) string) Option {
	return func(p *Plugin) {
		p.home = fn
	}
}

// New creates the plugin. Calendar homes default to calendars/<user>.
func New(opts ...Option) *Plugin {
	p := &Plugin{
		maxSize: 10 << 20,
		home: func(principal string) string {
			return "calendars/" + path.Base(principal)
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Plugin) Name() string { return "caldav" }

func (p *Plugin) Features() []string { return []string{"calendar-access"} }

func (p *Plugin) HTTPMethods(string) []string { return []string{"MKCALENDAR"} }

func (p *Plugin) Initialize(s *server.Server) error {
	p.srv = s
	p.logger = s.Logger().With("plugin", p.Name())
	s.AddProtected(
		PropCalendarData,
		PropCalendarHomeSet,
		PropSupportedCalendarData,
		PropMaxResourceSize,
	)
	s.OnMethod("MKCALENDAR", server.DefaultPriority, p.httpMkcalendar)
	s.OnBeforeCreateFile(server.DefaultPriority, p.beforeCreateFile)
	s.OnBeforeWriteContent(server.DefaultPriority, p.beforeWriteContent)
	s.OnReport(server.DefaultPriority, p.report)
	s.OnPropFind(server.DefaultPriority, p.propFind)
	s.OnPropFind(PriorityFallback, p.propFindFallback)
	s.OnPropPatch(server.PriorityProtectedCheck-10, p.propPatch)
	return nil
}

func (p *Plugin) SupportedReports(node tree.Node) []dav.Name {
	if IsCalendar(node) {
		return []dav.Name{ReportMultiget}
	}
	return nil
}

// IsCalendar reports whether n is a calendar collection.
func IsCalendar(n tree.Node) bool {
	return slices.Contains(tree.ResourceTypeOf(n), ResourceTypeCalendar)
}

func (p *Plugin) report(rc *server.RequestContext, name dav.Name, body *etree.Element) (server.Result, error) {
	if name != ReportMultiget {
		return server.Continue, nil
	}
	req, err := xml.ParseMultiget(body)
	if err != nil {
		return server.StopChain, err
	}
	return server.StopChain, p.srv.Multiget(rc, req)
}
