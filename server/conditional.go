package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/tree"
)

// IfCondition is the part of an If header applying to one resource: a
// tagged resource, or the request path for untagged lists.
type IfCondition struct {
	Path string
	// Href is the resource tag as sent, "" for untagged lists.
	Href  string
	Lists []IfList
	// External is set when the tag names a resource outside the server.
	External bool
}

// IfList holds when all its items hold.
type IfList struct {
	Items []*IfItem
}

// IfItem is one state token or entity tag. Tokens start invalid;
// validateTokens handlers set Valid.
type IfItem struct {
	Not   bool
	Token string
	ETag  string
	Valid bool
}

// Tokens returns every state token item of the conditions.
func Tokens(conds []*IfCondition) []*IfItem {
	var out []*IfItem
	for _, c := range conds {
		for _, l := range c.Lists {
			for _, it := range l.Items {
				if it.Token != "" {
					out = append(out, it)
				}
			}
		}
	}
	return out
}

// errNotModified ends a request that was answered with 304.
var errNotModified = &dav.Error{Status: http.StatusNotModified}

// checkConditions evaluates the If header and the HTTP conditional
// headers against the request path.
func (s *Server) checkConditions(rc *RequestContext) error {
	conds, err := s.parseIf(rc)
	if err != nil {
		return err
	}
	if err := s.events.validateTokens.each(func(fn ValidateTokensHandler) error {
		return fn(rc, conds)
	}); err != nil {
		return err
	}
	for _, c := range conds {
		ok, err := s.conditionHolds(rc, c)
		if err != nil {
			return err
		}
		if !ok {
			s.logger.Warn("if header condition failed",
				"path", rc.Path,
				"resource", c.Path)
			return dav.PreconditionFailed("If")
		}
	}
	return s.checkHTTPConditions(rc)
}

func (s *Server) conditionHolds(rc *RequestContext, c *IfCondition) (bool, error) {
	etag := ""
	if !c.External {
		n, err := s.tree.Resolve(rc.Context(), c.Path)
		switch {
		case err == nil:
			etag = etagOf(n)
		case dav.StatusOf(err) == http.StatusNotFound, dav.StatusOf(err) == http.StatusMethodNotAllowed:
		default:
			return false, err
		}
	}
	for _, l := range c.Lists {
		if listHolds(l, etag) {
			return true, nil
		}
	}
	return false, nil
}

func listHolds(l IfList, etag string) bool {
	for _, it := range l.Items {
		var v bool
		if it.Token != "" {
			v = it.Valid
		} else {
			v = etag != "" && etagEqual(etag, it.ETag)
		}
		if v == it.Not {
			return false
		}
	}
	return true
}

// parseIf parses the If header (RFC 4918 section 10.4).
func (s *Server) parseIf(rc *RequestContext) ([]*IfCondition, error) {
	h := strings.Join(rc.Request.Header.Values("If"), " ")
	if strings.TrimSpace(h) == "" {
		return nil, nil
	}

	var (
		conds  []*IfCondition
		cur    *IfCondition
		tagged bool
	)
	for i := 0; ; {
		for i < len(h) && isSpace(h[i]) {
			i++
		}
		if i >= len(h) {
			break
		}
		switch h[i] {
		case '<':
			if cur != nil && !tagged {
				return nil, dav.BadRequest("If header mixes tagged and untagged lists")
			}
			end := strings.IndexByte(h[i+1:], '>')
			if end < 0 {
				return nil, dav.BadRequest("unterminated resource tag in If header")
			}
			href := h[i+1 : i+1+end]
			i += end + 2
			tagged = true
			p, ok := s.RelativePath(href)
			cur = &IfCondition{Path: p, Href: href, External: !ok}
			conds = append(conds, cur)
		case '(':
			if cur == nil {
				cur = &IfCondition{Path: rc.Path}
				conds = append(conds, cur)
			}
			list, n, err := parseIfList(h[i+1:])
			if err != nil {
				return nil, err
			}
			i += n + 1
			cur.Lists = append(cur.Lists, list)
		default:
			return nil, dav.BadRequest("unexpected %q in If header", h[i])
		}
	}
	for _, c := range conds {
		if len(c.Lists) == 0 {
			return nil, dav.BadRequest("resource tag %s without a list", c.Href)
		}
	}
	return conds, nil
}

// parseIfList parses a list after its opening parenthesis and returns the
// number of bytes consumed, closing parenthesis included.
func parseIfList(s string) (IfList, int, error) {
	var l IfList
	not := false
	for i := 0; i < len(s); {
		switch c := s[i]; {
		case isSpace(c):
			i++
		case c == ')':
			if len(l.Items) == 0 || not {
				return l, 0, dav.BadRequest("empty list in If header")
			}
			return l, i + 1, nil
		case c == '<' || c == '[':
			closer := byte('>')
			if c == '[' {
				closer = ']'
			}
			end := strings.IndexByte(s[i+1:], closer)
			if end < 0 {
				return l, 0, dav.BadRequest("unterminated condition in If header")
			}
			it := &IfItem{Not: not}
			if c == '<' {
				it.Token = s[i+1 : i+1+end]
			} else {
				it.ETag = s[i+1 : i+1+end]
			}
			l.Items = append(l.Items, it)
			not = false
			i += end + 2
		case len(s)-i >= 3 && strings.EqualFold(s[i:i+3], "not"):
			if not {
				return l, 0, dav.BadRequest("repeated Not in If header")
			}
			not = true
			i += 3
		default:
			return l, 0, dav.BadRequest("unexpected %q in If header list", c)
		}
	}
	return l, 0, dav.BadRequest("unterminated list in If header")
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

// checkHTTPConditions evaluates If-Match, If-None-Match,
// If-Modified-Since and If-Unmodified-Since (RFC 9110 section 13.2.2).
func (s *Server) checkHTTPConditions(rc *RequestContext) error {
	h := rc.Request.Header
	ifMatch := h.Get("If-Match")
	ifNoneMatch := h.Get("If-None-Match")
	ifModSince := h.Get("If-Modified-Since")
	ifUnmodSince := h.Get("If-Unmodified-Since")
	if ifMatch == "" && ifNoneMatch == "" && ifModSince == "" && ifUnmodSince == "" {
		return nil
	}

	var node tree.Node
	n, err := s.tree.Resolve(rc.Context(), rc.Path)
	switch {
	case err == nil:
		node = n
	case dav.StatusOf(err) == http.StatusNotFound, dav.StatusOf(err) == http.StatusMethodNotAllowed:
	default:
		return err
	}
	etag := ""
	var modified time.Time
	if node != nil {
		etag = etagOf(node)
		if m, ok := node.(tree.Modified); ok {
			modified = m.LastModified().Truncate(time.Second)
		}
	}
	readOnly := rc.Method() == http.MethodGet || rc.Method() == http.MethodHead

	if ifMatch != "" {
		if node == nil || !matchesETag(ifMatch, etag, true) {
			s.logger.Warn("etag mismatch",
				"client_etag", ifMatch,
				"server_etag", etag)
			return dav.PreconditionFailed("If-Match")
		}
	} else if ifUnmodSince != "" && node != nil && !modified.IsZero() {
		if t, err := http.ParseTime(ifUnmodSince); err == nil && modified.After(t) {
			return dav.PreconditionFailed("If-Unmodified-Since")
		}
	}

	if ifNoneMatch != "" {
		if node != nil && matchesETag(ifNoneMatch, etag, false) {
			if readOnly {
				return s.notModified(rc, etag)
			}
			return dav.PreconditionFailed("If-None-Match")
		}
	} else if ifModSince != "" && readOnly && node != nil && !modified.IsZero() {
		if t, err := http.ParseTime(ifModSince); err == nil && !modified.After(t) {
			return s.notModified(rc, etag)
		}
	}
	return nil
}

func (s *Server) notModified(rc *RequestContext, etag string) error {
	if etag != "" {
		rc.Response.Header().Set("ETag", etag)
	}
	rc.Response.WriteHeader(http.StatusNotModified)
	return errNotModified
}

// matchesETag matches a comma separated entity tag list or "*". "*"
// matches any existing resource, including collections without a tag.
func matchesETag(list, etag string, strong bool) bool {
	if strings.TrimSpace(list) == "*" {
		return true
	}
	if etag == "" {
		return false
	}
	for _, candidate := range strings.Split(list, ",") {
		candidate = strings.TrimSpace(candidate)
		if strong && (strings.HasPrefix(candidate, "W/") || strings.HasPrefix(etag, "W/")) {
			continue
		}
		if etagEqual(candidate, etag) {
			return true
		}
	}
	return false
}

func etagEqual(a, b string) bool {
	return strings.TrimPrefix(a, "W/") == strings.TrimPrefix(b, "W/")
}

// etagOf returns the entity tag of a file, or "" for collections.
func etagOf(n tree.Node) string {
	if f, ok := n.(tree.File); ok {
		return f.ETag()
	}
	return ""
}
