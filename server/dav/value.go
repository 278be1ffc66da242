package dav

import (
	"strings"

	"github.com/beevik/etree"
)

// Builder creates elements with a namespace prefix the surrounding
// document declares.
type Builder interface {
	Element(name Name) *etree.Element
}

// Value is a property value. Encode appends the value's content to the
// property element.
type Value interface {
	Encode(b Builder, parent *etree.Element)
}

// Text is a plain character-data value.
type Text string

func (t Text) Encode(_ Builder, parent *etree.Element) {
	parent.SetText(string(t))
}

// Href renders a single <d:href>.
type Href string

func (h Href) Encode(b Builder, parent *etree.Element) {
	el := b.Element(DAVName("href"))
	el.SetText(string(h))
	parent.AddChild(el)
}

// Hrefs renders one <d:href> per entry.
type Hrefs []string

func (hs Hrefs) Encode(b Builder, parent *etree.Element) {
	for _, h := range hs {
		el := b.Element(DAVName("href"))
		el.SetText(h)
		parent.AddChild(el)
	}
}

// ResourceType renders an empty element per name, as used by
// {DAV:}resourcetype.
type ResourceType []Name

func (rt ResourceType) Encode(b Builder, parent *etree.Element) {
	for _, n := range rt {
		parent.AddChild(b.Element(n))
	}
}

// Has reports whether the resource type contains n.
func (rt ResourceType) Has(n Name) bool {
	for _, x := range rt {
		if x == n {
			return true
		}
	}
	return false
}

// EncoderFunc adapts a function to a Value.
type EncoderFunc func(b Builder, parent *etree.Element)

func (f EncoderFunc) Encode(b Builder, parent *etree.Element) {
	f(b, parent)
}

// RawXML is a stored XML fragment, typically a client-supplied dead
// property. Elements in the fragment declare their own namespaces.
type RawXML string

func (r RawXML) Encode(_ Builder, parent *etree.Element) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString("<x>" + string(r) + "</x>"); err != nil {
		parent.SetText(string(r))
		return
	}
	for _, tok := range doc.Root().Child {
		switch t := tok.(type) {
		case *etree.Element:
			parent.AddChild(t.Copy())
		case *etree.CharData:
			if strings.TrimSpace(t.Data) != "" {
				parent.CreateText(t.Data)
			}
		}
	}
}

// DeadValue is the storable form of a client-supplied property value.
type DeadValue struct {
	XML  bool   `json:"xml,omitempty"`
	Data string `json:"data"`
}

// Value converts the stored form back into a Value.
func (d DeadValue) Value() Value {
	if d.XML {
		return RawXML(d.Data)
	}
	return Text(d.Data)
}

// ToDead converts a value into its storable form. Only Text and RawXML
// values can be stored.
func ToDead(v Value) (DeadValue, bool) {
	switch t := v.(type) {
	case Text:
		return DeadValue{Data: string(t)}, true
	case RawXML:
		return DeadValue{XML: true, Data: string(t)}, true
	}
	return DeadValue{}, false
}
