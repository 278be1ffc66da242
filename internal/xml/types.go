package xml

import (
	"github.com/beevik/etree"
	"github.com/cyp0633/libdav/server/dav"
)

var tagMessage = dav.N(Server, "message")

// ErrorDocument renders a protocol error as a <d:error> body.
func ErrorDocument(e *dav.Error) *etree.Document {
	b := NewBuilder()
	return b.Document(errorElement(b, e))
}

func errorElement(b *Builder, e *dav.Error) *etree.Element {
	root := b.Element(TagError)
	if !e.Condition.IsZero() {
		cond := b.Element(e.Condition)
		if e.Detail != nil {
			e.Detail.Encode(b, cond)
		}
		root.AddChild(cond)
	}
	if e.Message != "" {
		appendText(b, root, tagMessage, e.Message)
	}
	return root
}
