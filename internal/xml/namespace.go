package xml

import (
	"fmt"

	"github.com/beevik/etree"
	"github.com/cyp0633/libdav/server/dav"
)

// Namespace definitions
const (
	// DAV is the WebDAV namespace
	DAV = dav.NSDAV
	// CalDAV is the CalDAV namespace
	CalDAV = dav.NSCalDAV
	// CardDAV is the CardDAV namespace
	CardDAV = dav.NSCardDAV
	// CalendarServer is the Calendar Server namespace (used by some implementations)
	CalendarServer = dav.NSCalendarServer
	// AppleICal is Apple's iCal namespace
	AppleICal = dav.NSAppleICal
	// Server is this server's own namespace for error messages
	Server = dav.NSServer
)

// wellKnownPrefixes are the prefixes used for namespaces clients commonly
// hard-code in their parsers.
var wellKnownPrefixes = map[string]string{
	DAV:            "d",
	CalDAV:         "cal",
	CardDAV:        "card",
	CalendarServer: "cs",
	AppleICal:      "ical",
	Server:         "s",
}

// Builder allocates namespace prefixes for an outgoing document and
// declares them on the root element.
type Builder struct {
	prefixes map[string]string
	order    []string
	next     int
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{prefixes: make(map[string]string)}
}

// Prefix returns the prefix for a namespace, allocating one if needed.
func (b *Builder) Prefix(space string) string {
	if p, ok := b.prefixes[space]; ok {
		return p
	}
	p, ok := wellKnownPrefixes[space]
	if !ok {
		p = fmt.Sprintf("x%d", b.next)
		b.next++
	}
	b.prefixes[space] = p
	b.order = append(b.order, space)
	return p
}

// Element creates a detached element for name.
func (b *Builder) Element(name dav.Name) *etree.Element {
	if name.Space == "" {
		return etree.NewElement(name.Local)
	}
	return etree.NewElement(b.Prefix(name.Space) + ":" + name.Local)
}

// Declare adds xmlns attributes for every namespace used so far.
func (b *Builder) Declare(root *etree.Element) {
	for _, space := range b.order {
		root.CreateAttr("xmlns:"+b.prefixes[space], space)
	}
}

// Document wraps root into a document with an XML declaration and the
// namespace declarations collected by b.
func (b *Builder) Document(root *etree.Element) *etree.Document {
	b.Declare(root)
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	doc.SetRoot(root)
	return doc
}

// NameOf returns the resolved name of an element read from a request.
func NameOf(el *etree.Element) dav.Name {
	return dav.Name{Space: el.NamespaceURI(), Local: el.Tag}
}

// Is reports whether el has the given resolved name.
func Is(el *etree.Element, name dav.Name) bool {
	return el != nil && el.Tag == name.Local && el.NamespaceURI() == name.Space
}

// Child returns the first child element with the given name.
func Child(el *etree.Element, name dav.Name) *etree.Element {
	if el == nil {
		return nil
	}
	for _, c := range el.ChildElements() {
		if Is(c, name) {
			return c
		}
	}
	return nil
}

// Children returns every child element with the given name.
func Children(el *etree.Element, name dav.Name) []*etree.Element {
	var out []*etree.Element
	if el == nil {
		return out
	}
	for _, c := range el.ChildElements() {
		if Is(c, name) {
			out = append(out, c)
		}
	}
	return out
}
