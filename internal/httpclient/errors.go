package httpclient

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cyp0633/libdav/internal/xml"
	"github.com/cyp0633/libdav/server/dav"
)

var tagMessage = dav.N(dav.NSServer, "message")

// Error is a request the server answered outside 2xx.
type Error struct {
	Method     string
	URL        string
	StatusCode int
	// Condition is the precondition or postcondition of a <d:error> body.
	Condition dav.Name
	// Hrefs are the hrefs inside the condition element, e.g. the
	// resource holding a conflicting UID.
	Hrefs   []string
	Message string
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %d %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	if !e.Condition.IsZero() {
		fmt.Fprintf(&b, " (%s)", e.Condition)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	return b.String()
}

// StatusOf returns the status code of an *Error in err's chain, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}

// HasCondition reports whether err carries the given condition.
func HasCondition(err error, cond dav.Name) bool {
	var e *Error
	return errors.As(err, &e) && e.Condition == cond
}

func parseError(resp *http.Response) *Error {
	e := &Error{StatusCode: resp.StatusCode}
	root, err := xml.ReadDocument(io.LimitReader(resp.Body, 1<<20))
	if err != nil || !xml.Is(root, xml.TagError) {
		return e
	}
	for _, c := range root.ChildElements() {
		if xml.Is(c, tagMessage) {
			e.Message = text(c)
			continue
		}
		if e.Condition.IsZero() {
			e.Condition = xml.NameOf(c)
			for _, h := range xml.Children(c, xml.TagHref) {
				e.Hrefs = append(e.Hrefs, text(h))
			}
		}
	}
	return e
}
