// Package dav holds the vocabulary shared by the request engine, the node
// tree and every plugin: property names, depth, property values, the
// PropFind and PropPatch transactions and the protocol error taxonomy.
package dav

import (
	"fmt"
	"strings"
)

// Namespaces used by the built-in plugins.
const (
	NSDAV            = "DAV:"
	NSCalDAV         = "urn:ietf:params:xml:ns:caldav"
	NSCardDAV        = "urn:ietf:params:xml:ns:carddav"
	NSCalendarServer = "http://calendarserver.org/ns/"
	NSAppleICal      = "http://apple.com/ns/ical/"
	NSServer         = "http://libdav.cyp0633.dev/ns"
)

// Name identifies a property or an XML element by namespace and local name.
type Name struct {
	Space string
	Local string
}

// N is shorthand for Name{space, local}.
func N(space, local string) Name {
	return Name{Space: space, Local: local}
}

// DAVName returns a name in the DAV: namespace.
func DAVName(local string) Name {
	return Name{Space: NSDAV, Local: local}
}

// String renders the name in clark notation.
func (n Name) String() string {
	if n.Space == "" {
		return n.Local
	}
	return "{" + n.Space + "}" + n.Local
}

// IsZero reports whether the name is empty.
func (n Name) IsZero() bool {
	return n.Space == "" && n.Local == ""
}

// ParseName parses clark notation. A name without braces has no namespace.
func ParseName(s string) (Name, error) {
	if !strings.HasPrefix(s, "{") {
		if s == "" {
			return Name{}, fmt.Errorf("empty property name")
		}
		return Name{Local: s}, nil
	}
	end := strings.IndexByte(s, '}')
	if end < 0 || end == len(s)-1 {
		return Name{}, fmt.Errorf("malformed clark notation: %q", s)
	}
	return Name{Space: s[1:end], Local: s[end+1:]}, nil
}

// MustParseName is ParseName for compile-time constants.
func MustParseName(s string) Name {
	n, err := ParseName(s)
	if err != nil {
		panic(err)
	}
	return n
}

// Well-known DAV: property names.
var (
	PropResourceType          = DAVName("resourcetype")
	PropDisplayName           = DAVName("displayname")
	PropGetETag               = DAVName("getetag")
	PropGetContentLength      = DAVName("getcontentlength")
	PropGetContentType        = DAVName("getcontenttype")
	PropGetLastModified       = DAVName("getlastmodified")
	PropCreationDate          = DAVName("creationdate")
	PropQuotaUsedBytes        = DAVName("quota-used-bytes")
	PropQuotaAvailableBytes   = DAVName("quota-available-bytes")
	PropSupportedReportSet    = DAVName("supported-report-set")
	PropLockDiscovery         = DAVName("lockdiscovery")
	PropSupportedLock         = DAVName("supportedlock")
	PropSyncToken             = DAVName("sync-token")
	PropCurrentUserPrincipal  = DAVName("current-user-principal")
	PropOwner                 = DAVName("owner")
	PropACL                   = DAVName("acl")
	PropCurrentUserPrivileges = DAVName("current-user-privilege-set")

	ElemCollection = DAVName("collection")
)
