package xml

import (
	"io"

	"github.com/beevik/etree"
	"github.com/cyp0633/libdav/server/dav"
)

// Common element names
var (
	TagMultistatus = dav.DAVName("multistatus")
	TagResponse    = dav.DAVName("response")
	TagHref        = dav.DAVName("href")
	TagPropstat    = dav.DAVName("propstat")
	TagProp        = dav.DAVName("prop")
	TagStatus      = dav.DAVName("status")
	TagError       = dav.DAVName("error")
	TagSyncToken   = dav.DAVName("sync-token")
	TagDescription = dav.DAVName("responsedescription")
)

// MultistatusResponse represents a multistatus response
type MultistatusResponse struct {
	Responses []Response
	// SyncToken, when set, is appended after the responses.
	SyncToken string
	// Root overrides the root element, e.g. {DAV:}mkcol-response.
	Root dav.Name
}

// Response represents a single response within a multistatus. Either
// PropStats or Status is set.
type Response struct {
	Href        string
	PropStats   []dav.StatusGroup
	Status      int
	Error       *dav.Error
	Description string
}

// Add appends a response.
func (m *MultistatusResponse) Add(r Response) {
	m.Responses = append(m.Responses, r)
}

// ToXML converts a MultistatusResponse to an XML document
func (m *MultistatusResponse) ToXML() *etree.Document {
	b := NewBuilder()
	rootName := m.Root
	if rootName.IsZero() {
		rootName = TagMultistatus
	}
	root := b.Element(rootName)

	for _, resp := range m.Responses {
		response := b.Element(TagResponse)
		root.AddChild(response)
		appendText(b, response, TagHref, resp.Href)

		if len(resp.PropStats) == 0 || resp.Status != 0 {
			status := resp.Status
			if status == 0 {
				status = 200
			}
			appendText(b, response, TagStatus, dav.StatusLine(status))
		} else {
			for _, group := range resp.PropStats {
				ps := b.Element(TagPropstat)
				response.AddChild(ps)
				prop := b.Element(TagProp)
				ps.AddChild(prop)
				for _, p := range group.Props {
					el := b.Element(p.Name)
					if p.Value != nil {
						p.Value.Encode(b, el)
					}
					prop.AddChild(el)
				}
				appendText(b, ps, TagStatus, dav.StatusLine(group.Status))
			}
		}
		if resp.Error != nil {
			response.AddChild(errorElement(b, resp.Error))
		}
		if resp.Description != "" {
			appendText(b, response, TagDescription, resp.Description)
		}
	}

	if m.SyncToken != "" {
		appendText(b, root, TagSyncToken, m.SyncToken)
	}

	return b.Document(root)
}

// WriteTo serializes the response.
func (m *MultistatusResponse) WriteTo(w io.Writer) (int64, error) {
	return m.ToXML().WriteTo(w)
}

// PropDocument renders <d:prop><name>v</name></d:prop>, the body of a
// LOCK response.
func PropDocument(name dav.Name, v dav.Value) *etree.Document {
	b := NewBuilder()
	root := b.Element(TagProp)
	el := b.Element(name)
	v.Encode(b, el)
	root.AddChild(el)
	return b.Document(root)
}

func appendText(b *Builder, parent *etree.Element, name dav.Name, text string) *etree.Element {
	el := b.Element(name)
	el.SetText(text)
	parent.AddChild(el)
	return el
}
