// Package carddav adds address book collections (RFC 6352) to the server.
// Address books are created with extended MKCOL.
package carddav

import (
	"log/slog"
	"path"
	"slices"

	"github.com/beevik/etree"
	"github.com/cyp0633/libdav/internal/xml"
	"github.com/cyp0633/libdav/server"
	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/tree"
)

// CardDAV names.
var (
	ResourceTypeAddressBook = dav.N(dav.NSCardDAV, "addressbook")
	ReportMultiget          = dav.N(dav.NSCardDAV, "addressbook-multiget")

	PropAddressData          = dav.N(dav.NSCardDAV, "address-data")
	PropAddressBookHomeSet   = dav.N(dav.NSCardDAV, "addressbook-home-set")
	PropSupportedAddressData = dav.N(dav.NSCardDAV, "supported-address-data")
	PropMaxResourceSize      = dav.N(dav.NSCardDAV, "max-resource-size")

	CondValidAddressData     = dav.N(dav.NSCardDAV, "valid-address-data")
	CondSupportedAddressData = dav.N(dav.NSCardDAV, "supported-address-data")
	CondNoUIDConflict        = dav.N(dav.NSCardDAV, "no-uid-conflict")
	CondMaxResourceSize      = dav.N(dav.NSCardDAV, "max-resource-size")

	tagAddressDataType = dav.N(dav.NSCardDAV, "address-data-type")
)

// Plugin is the CardDAV plugin.
type Plugin struct {
	srv     *server.Server
	logger  *slog.Logger
	maxSize int64
	home    func(principal string) string
}

var (
	_ server.Plugin          = (*Plugin)(nil)
	_ server.FeatureProvider = (*Plugin)(nil)
	_ server.ReportProvider  = (*Plugin)(nil)
)

// Option configures the plugin.
type Option func(*Plugin)

// WithMaxResourceSize limits vCard bodies. 0 disables the limit.
func WithMaxResourceSize(bytes int64) Option {
	return func(p *Plugin) {
		p.maxSize = bytes
	}
}

// WithAddressBookHome maps a principal path to its address book home.
func WithAddressBookHome(fn func(principal string) string) Option {
	return func(p *Plugin) {
		p.home = fn
	}
}

// New creates the plugin. Homes default to addressbooks/<user>.
func New(opts ...Option) *Plugin {
	p := &Plugin{
		maxSize: 1 << 20,
		home: func(principal string) string {
			return "addressbooks/" + path.Base(principal)
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Plugin) Name() string { return "carddav" }

func (p *Plugin) Features() []string { return []string{"addressbook"} }

func (p *Plugin) Initialize(s *server.Server) error {
	p.srv = s
	p.logger = s.Logger().With("plugin", p.Name())
	s.AddProtected(
		PropAddressData,
		PropAddressBookHomeSet,
		PropSupportedAddressData,
		PropMaxResourceSize,
	)
	s.OnBeforeCreateFile(server.DefaultPriority, p.beforeCreateFile)
	s.OnBeforeWriteContent(server.DefaultPriority, p.beforeWriteContent)
	s.OnReport(server.DefaultPriority, p.report)
	s.OnPropFind(server.DefaultPriority, p.propFind)
	return nil
}

func (p *Plugin) SupportedReports(node tree.Node) []dav.Name {
	if IsAddressBook(node) {
		return []dav.Name{ReportMultiget}
	}
	return nil
}

// IsAddressBook reports whether n is an address book collection.
func IsAddressBook(n tree.Node) bool {
	return slices.Contains(tree.ResourceTypeOf(n), ResourceTypeAddressBook)
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
