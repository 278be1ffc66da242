package xml

import (
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/cyp0633/libdav/server/dav"
)

// maxBodySize bounds request bodies the engine parses as XML.
const maxBodySize = 1 << 20

// ReadDocument parses a request body. An empty body yields a nil root.
func ReadDocument(r io.Reader) (*etree.Element, error) {
	if r == nil {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(r, maxBodySize+1))
	if err != nil {
		return nil, dav.BadRequest("failed to read request body: %v", err)
	}
	if len(data) > maxBodySize {
		return nil, dav.BadRequest("request body too large")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, dav.BadRequest("malformed XML body: %v", err)
	}
	if doc.Root() == nil {
		return nil, dav.BadRequest("XML body has no root element")
	}
	return doc.Root(), nil
}

// PropfindRequest represents a PROPFIND request
type PropfindRequest struct {
	Type dav.PropFindType
	// Props holds the requested names, or the include list for allprop.
	Props []dav.Name
}

// ParsePropfind parses a PROPFIND body. A nil root is an allprop request.
func ParsePropfind(root *etree.Element) (PropfindRequest, error) {
	if root == nil {
		return PropfindRequest{Type: dav.PropFindAllProps}, nil
	}
	if !Is(root, dav.DAVName("propfind")) {
		return PropfindRequest{}, dav.BadRequest("expected {DAV:}propfind, got %s", NameOf(root))
	}
	req, ok := parsePropSelector(root)
	if !ok {
		return PropfindRequest{}, dav.BadRequest("propfind needs one of prop, allprop or propname")
	}
	return req, nil
}

// parsePropSelector reads the prop/allprop/propname children shared by
// PROPFIND and several REPORT bodies.
func parsePropSelector(root *etree.Element) (PropfindRequest, bool) {
	switch {
	case Child(root, dav.DAVName("propname")) != nil:
		return PropfindRequest{Type: dav.PropFindNames}, true
	case Child(root, dav.DAVName("allprop")) != nil:
		req := PropfindRequest{Type: dav.PropFindAllProps}
		if include := Child(root, dav.DAVName("include")); include != nil {
			req.Props = names(include)
		}
		return req, true
	case Child(root, TagProp) != nil:
		return PropfindRequest{Type: dav.PropFindNamed, Props: names(Child(root, TagProp))}, true
	}
	return PropfindRequest{Type: dav.PropFindAllProps}, false
}

func names(el *etree.Element) []dav.Name {
	var out []dav.Name
	for _, c := range el.ChildElements() {
		out = append(out, NameOf(c))
	}
	return out
}

// ParsePropertyUpdate parses a PROPPATCH body into ordered mutations.
func ParsePropertyUpdate(root *etree.Element) ([]dav.Mutation, error) {
	if root == nil {
		return nil, dav.BadRequest("PROPPATCH requires a body")
	}
	if !Is(root, dav.DAVName("propertyupdate")) {
		return nil, dav.BadRequest("expected {DAV:}propertyupdate, got %s", NameOf(root))
	}
	var muts []dav.Mutation
	for _, op := range root.ChildElements() {
		var remove bool
		switch {
		case Is(op, dav.DAVName("set")):
		case Is(op, dav.DAVName("remove")):
			remove = true
		default:
			continue
		}
		for _, prop := range Children(op, TagProp) {
			for _, p := range prop.ChildElements() {
				if remove {
					muts = append(muts, dav.Remove(NameOf(p)))
				} else {
					muts = append(muts, dav.Set(NameOf(p), CaptureValue(p)))
				}
			}
		}
	}
	return muts, nil
}

// CreateRequest is an extended MKCOL or MKCALENDAR body.
type CreateRequest struct {
	ResourceType []dav.Name
	Mutations    []dav.Mutation
}

// ParseCreate parses a body whose root must be rootName and whose set/prop
// children describe the new collection. A nil root yields an empty request.
func ParseCreate(root *etree.Element, rootName dav.Name) (CreateRequest, error) {
	var req CreateRequest
	if root == nil {
		return req, nil
	}
	if !Is(root, rootName) {
		return req, dav.UnsupportedMediaType("expected %s body, got %s", rootName, NameOf(root))
	}
	for _, set := range Children(root, dav.DAVName("set")) {
		for _, prop := range Children(set, TagProp) {
			for _, p := range prop.ChildElements() {
				if Is(p, dav.PropResourceType) {
					req.ResourceType = names(p)
					continue
				}
				req.Mutations = append(req.Mutations, dav.Set(NameOf(p), CaptureValue(p)))
			}
		}
	}
	return req, nil
}

// LockRequest is a parsed lockinfo body.
type LockRequest struct {
	Exclusive bool
	// Owner is the owner element content as an XML fragment.
	Owner string
}

// ParseLockInfo parses a LOCK body.
func ParseLockInfo(root *etree.Element) (LockRequest, error) {
	var req LockRequest
	if !Is(root, dav.DAVName("lockinfo")) {
		return req, dav.BadRequest("expected {DAV:}lockinfo")
	}
	scope := Child(root, dav.DAVName("lockscope"))
	switch {
	case scope == nil:
		return req, dav.BadRequest("lockinfo without lockscope")
	case Child(scope, dav.DAVName("exclusive")) != nil:
		req.Exclusive = true
	case Child(scope, dav.DAVName("shared")) != nil:
	default:
		return req, dav.BadRequest("unknown lockscope")
	}
	if owner := Child(root, dav.PropOwner); owner != nil {
		req.Owner = Fragment(CaptureValue(owner))
	}
	return req, nil
}

// ACERequest is one <d:ace> of an ACL request body. Principal is an href
// or a clark-notation pseudo principal such as {DAV:}all.
type ACERequest struct {
	Principal  string
	Privileges []dav.Name
	Deny       bool
	Protected  bool
}

// ParseACL parses an ACL request body.
func ParseACL(root *etree.Element) ([]ACERequest, error) {
	if !Is(root, dav.PropACL) {
		return nil, dav.BadRequest("expected {DAV:}acl")
	}
	var out []ACERequest
	for _, ace := range Children(root, dav.DAVName("ace")) {
		var req ACERequest
		principal := Child(ace, dav.DAVName("principal"))
		if principal == nil || len(principal.ChildElements()) == 0 {
			return nil, dav.BadRequest("ace without principal")
		}
		p := principal.ChildElements()[0]
		switch {
		case Is(p, TagHref):
			req.Principal = strings.TrimSpace(p.Text())
		case Is(p, dav.DAVName("property")):
			if len(p.ChildElements()) == 0 {
				return nil, dav.BadRequest("empty principal property")
			}
			req.Principal = NameOf(p.ChildElements()[0]).String()
		default:
			req.Principal = NameOf(p).String()
		}
		grant := Child(ace, dav.DAVName("grant"))
		if grant == nil {
			grant = Child(ace, dav.DAVName("deny"))
			req.Deny = true
		}
		if grant == nil {
			return nil, dav.BadRequest("ace without grant or deny")
		}
		for _, priv := range Children(grant, dav.DAVName("privilege")) {
			for _, c := range priv.ChildElements() {
				req.Privileges = append(req.Privileges, NameOf(c))
			}
		}
		req.Protected = Child(ace, dav.DAVName("protected")) != nil
		out = append(out, req)
	}
	return out, nil
}

// SyncCollectionRequest represents a sync-collection REPORT request
type SyncCollectionRequest struct {
	SyncToken string
	Level     dav.Depth
	Limit     int
	Prop      PropfindRequest
}

// ParseSyncCollection parses a sync-collection REPORT body.
func ParseSyncCollection(root *etree.Element) (SyncCollectionRequest, error) {
	req := SyncCollectionRequest{Level: dav.DepthOne}
	if token := Child(root, dav.PropSyncToken); token != nil {
		req.SyncToken = strings.TrimSpace(token.Text())
	}
	level := Child(root, dav.DAVName("sync-level"))
	if level == nil {
		return req, dav.BadRequest("sync-collection without sync-level")
	}
	switch strings.TrimSpace(level.Text()) {
	case "1":
	case "infinite", "infinity":
		req.Level = dav.DepthInfinity
	default:
		return req, dav.BadRequest("invalid sync-level %q", level.Text())
	}
	if limit := Child(root, dav.DAVName("limit")); limit != nil {
		nresults := Child(limit, dav.DAVName("nresults"))
		if nresults == nil {
			return req, dav.BadRequest("limit without nresults")
		}
		n, err := strconv.Atoi(strings.TrimSpace(nresults.Text()))
		if err != nil || n <= 0 {
			return req, dav.BadRequest("invalid nresults")
		}
		req.Limit = n
	}
	req.Prop, _ = parsePropSelector(root)
	return req, nil
}

// MultigetRequest is a calendar-multiget or addressbook-multiget body.
type MultigetRequest struct {
	Prop  PropfindRequest
	Hrefs []string
}

// ParseMultiget parses a multiget REPORT body.
func ParseMultiget(root *etree.Element) (MultigetRequest, error) {
	var req MultigetRequest
	req.Prop, _ = parsePropSelector(root)
	for _, h := range Children(root, TagHref) {
		req.Hrefs = append(req.Hrefs, strings.TrimSpace(h.Text()))
	}
	if len(req.Hrefs) == 0 {
		return req, dav.BadRequest("multiget without href")
	}
	return req, nil
}

// CaptureValue turns a property element from a request into a storable
// value: its text when it has no child elements, a self-contained XML
// fragment otherwise.
func CaptureValue(el *etree.Element) dav.Value {
	if len(el.ChildElements()) == 0 {
		return dav.Text(el.Text())
	}
	var sb strings.Builder
	for _, tok := range el.Child {
		switch t := tok.(type) {
		case *etree.Element:
			doc := etree.NewDocument()
			doc.SetRoot(detach(t, ""))
			s, _ := doc.WriteToString()
			sb.WriteString(s)
		case *etree.CharData:
			if !t.IsWhitespace() {
				sb.WriteString(escapeText(t.Data))
			}
		}
	}
	return dav.RawXML(sb.String())
}

// Fragment renders a value as an XML fragment suitable for RawXML.
func Fragment(v dav.Value) string {
	switch t := v.(type) {
	case dav.RawXML:
		return string(t)
	case dav.Text:
		return escapeText(string(t))
	}
	b := NewBuilder()
	holder := etree.NewElement("x")
	v.Encode(b, holder)
	b.Declare(holder)
	var sb strings.Builder
	for _, c := range holder.ChildElements() {
		doc := etree.NewDocument()
		doc.SetRoot(detach(c, ""))
		s, _ := doc.WriteToString()
		sb.WriteString(s)
	}
	return sb.String()
}

// detach copies el so that it carries its own namespace declarations.
func detach(el *etree.Element, parentSpace string) *etree.Element {
	space := el.NamespaceURI()
	out := etree.NewElement(el.Tag)
	if space != parentSpace {
		out.CreateAttr("xmlns", space)
	}
	for _, a := range el.Attr {
		if a.Space == "xmlns" || (a.Space == "" && a.Key == "xmlns") {
			continue
		}
		if a.Space != "" {
			out.CreateAttr("xmlns:"+a.Space, a.NamespaceURI())
			out.CreateAttr(a.Space+":"+a.Key, a.Value)
			continue
		}
		out.CreateAttr(a.Key, a.Value)
	}
	for _, tok := range el.Child {
		switch t := tok.(type) {
		case *etree.Element:
			out.AddChild(detach(t, space))
		case *etree.CharData:
			out.CreateText(t.Data)
		}
	}
	return out
}

var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeText(s string) string {
	return textEscaper.Replace(s)
}
