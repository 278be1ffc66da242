package httpclient

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/cyp0633/libdav/internal/xml"
	"github.com/cyp0633/libdav/server/dav"
)

// Multistatus is a parsed 207 response body.
type Multistatus struct {
	Responses []Response
	SyncToken string
}

// Response is one <response> of a multistatus. Status is set for
// responses without propstats.
type Response struct {
	URI    string
	Status int
	// Props holds the elements of properties returned with 200.
	Props map[dav.Name]*etree.Element
	// PropStatus holds the status of every property named in the response.
	PropStatus map[dav.Name]int
	Error      dav.Name
}

// Lookup returns the response for href.
func (m *Multistatus) Lookup(href string) (*Response, bool) {
	for i := range m.Responses {
		if m.Responses[i].URI == href {
			return &m.Responses[i], true
		}
	}
	return nil, false
}

// Text returns the text content of a returned property.
func (r *Response) Text(name dav.Name) string {
	return text(r.Props[name])
}

// Href returns the first href inside a returned property.
func (r *Response) Href(name dav.Name) string {
	el, ok := r.Props[name]
	if !ok {
		return ""
	}
	return text(xml.Child(el, xml.TagHref))
}

// Hrefs returns every href inside a returned property.
func (r *Response) Hrefs(name dav.Name) []string {
	var out []string
	for _, h := range xml.Children(r.Props[name], xml.TagHref) {
		out = append(out, text(h))
	}
	return out
}

// ResourceType returns the names inside {DAV:}resourcetype.
func (r *Response) ResourceType() []dav.Name {
	el, ok := r.Props[dav.PropResourceType]
	if !ok {
		return nil
	}
	var out []dav.Name
	for _, c := range el.ChildElements() {
		out = append(out, xml.NameOf(c))
	}
	return out
}

// Is reports whether the resource type contains rt.
func (r *Response) Is(rt dav.Name) bool {
	for _, n := range r.ResourceType() {
		if n == rt {
			return true
		}
	}
	return false
}

// ParseMultistatus reads a multistatus body.
func ParseMultistatus(r io.Reader) (*Multistatus, error) {
	root, err := xml.ReadDocument(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse multistatus: %w", err)
	}
	if root == nil {
		return nil, fmt.Errorf("empty multistatus body")
	}
	if !xml.Is(root, xml.TagMultistatus) {
		return nil, fmt.Errorf("expected multistatus, got %s", xml.NameOf(root))
	}

	ms := &Multistatus{}
	ms.SyncToken = text(xml.Child(root, xml.TagSyncToken))
	for _, el := range xml.Children(root, xml.TagResponse) {
		resp := Response{
			URI:        text(xml.Child(el, xml.TagHref)),
			Props:      make(map[dav.Name]*etree.Element),
			PropStatus: make(map[dav.Name]int),
		}
		if st := xml.Child(el, xml.TagStatus); st != nil {
			resp.Status = parseStatusLine(text(st))
		}
		if e := xml.Child(el, xml.TagError); e != nil {
			if conds := e.ChildElements(); len(conds) > 0 {
				resp.Error = xml.NameOf(conds[0])
			}
		}
		for _, ps := range xml.Children(el, xml.TagPropstat) {
			prop := xml.Child(ps, xml.TagProp)
			if prop == nil {
				continue
			}
			code := parseStatusLine(text(xml.Child(ps, xml.TagStatus)))
			for _, p := range prop.ChildElements() {
				name := xml.NameOf(p)
				resp.PropStatus[name] = code
				if code == http.StatusOK {
					resp.Props[name] = p
				}
			}
		}
		ms.Responses = append(ms.Responses, resp)
	}
	return ms, nil
}

func text(el *etree.Element) string {
	if el == nil {
		return ""
	}
	return strings.TrimSpace(el.Text())
}

// parseStatusLine reads the code of "HTTP/1.1 200 OK". It returns 0 for
// anything else.
func parseStatusLine(s string) int {
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return 0
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0
	}
	return code
}
