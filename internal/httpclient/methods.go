package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/beevik/etree"
	"github.com/cyp0633/libdav/internal/xml"
	"github.com/cyp0633/libdav/server/dav"
)

var tagPropfind = dav.DAVName("propfind")

// BuildPropfind returns a PROPFIND body asking for props, or for allprop
// when props is empty.
func BuildPropfind(props ...dav.Name) *etree.Document {
	b := xml.NewBuilder()
	root := b.Element(tagPropfind)
	if len(props) == 0 {
		root.AddChild(b.Element(dav.DAVName("allprop")))
		return b.Document(root)
	}
	prop := b.Element(xml.TagProp)
	for _, p := range props {
		prop.AddChild(b.Element(p))
	}
	root.AddChild(prop)
	return b.Document(root)
}

func (c *httpClientWrapper) DoPROPFIND(ctx context.Context, url string, depth dav.Depth, props ...dav.Name) (*Multistatus, error) {
	return c.multistatus(ctx, "PROPFIND", url, depth, BuildPropfind(props...))
}

func (c *httpClientWrapper) DoREPORT(ctx context.Context, url string, depth dav.Depth, body *etree.Document) (*Multistatus, error) {
	return c.multistatus(ctx, "REPORT", url, depth, body)
}

func (c *httpClientWrapper) multistatus(ctx context.Context, method, url string, depth dav.Depth, doc *etree.Document) (*Multistatus, error) {
	body, h, err := xmlBody(doc)
	if err != nil {
		return nil, err
	}
	h.Set("Depth", depth.String())
	resp, err := c.do(ctx, method, url, h, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMultiStatus {
		return nil, fmt.Errorf("%s %s: expected 207, got %d", method, url, resp.StatusCode)
	}
	ms, err := ParseMultistatus(resp.Body)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("multistatus received",
		"method", method,
		"url", url,
		"responses", len(ms.Responses))
	return ms, nil
}

func (c *httpClientWrapper) DoGET(ctx context.Context, url string) ([]byte, string, error) {
	resp, err := c.do(ctx, http.MethodGet, url, nil, nil)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", url, err)
	}
	return data, resp.Header.Get("ETag"), nil
}

// DoPUT stores data. A non-empty etag is sent as If-Match; the etag "*"
// turns into If-None-Match so the request only creates.
func (c *httpClientWrapper) DoPUT(ctx context.Context, url string, contentType string, etag string, data []byte) (string, error) {
	h := http.Header{}
	h.Set("Content-Type", contentType)
	switch etag {
	case "":
	case "*":
		h.Set("If-None-Match", "*")
	default:
		h.Set("If-Match", etag)
	}
	resp, err := c.do(ctx, http.MethodPut, url, h, data)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	newEtag := resp.Header.Get("ETag")
	c.logger.Debug("PUT request complete",
		"url", url,
		"status", resp.StatusCode,
		"new_etag", newEtag)
	return newEtag, nil
}

// DoDELETE sends a DELETE request with If-Match header for optimistic locking
func (c *httpClientWrapper) DoDELETE(ctx context.Context, url string, etag string) error {
	h := http.Header{}
	if etag != "" {
		h.Set("If-Match", etag)
	}
	resp, err := c.do(ctx, http.MethodDelete, url, h, nil)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// DoMKCOL sends MKCOL or MKCALENDAR with an optional body.
func (c *httpClientWrapper) DoMKCOL(ctx context.Context, method string, url string, doc *etree.Document) error {
	body, h, err := xmlBody(doc)
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, method, url, h, body)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}
