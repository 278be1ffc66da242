package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIf(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name     string
		header   string
		expected []*IfCondition
		wantErr  bool
	}{
		{
			name:   "Untagged token",
			header: "(<opaquelocktoken:a>)",
			expected: []*IfCondition{{
				Path:  "calendars/alice/home/a.ics",
				Lists: []IfList{{Items: []*IfItem{{Token: "opaquelocktoken:a"}}}},
			}},
		},
		{
			name:   "Untagged lists with not and etag",
			header: `(Not <DAV:no-lock> ["e1"]) (<opaquelocktoken:b>)`,
			expected: []*IfCondition{{
				Path: "calendars/alice/home/a.ics",
				Lists: []IfList{
					{Items: []*IfItem{{Not: true, Token: "DAV:no-lock"}, {ETag: `"e1"`}}},
					{Items: []*IfItem{{Token: "opaquelocktoken:b"}}},
				},
			}},
		},
		{
			name:   "Tagged",
			header: `<http://example.com/dav/calendars/> (<opaquelocktoken:c>) <http://other.example/x> (["e2"])`,
			expected: []*IfCondition{
				{
					Path:  "calendars",
					Href:  "http://example.com/dav/calendars/",
					Lists: []IfList{{Items: []*IfItem{{Token: "opaquelocktoken:c"}}}},
				},
				{
					Href:     "http://other.example/x",
					External: true,
					Lists:    []IfList{{Items: []*IfItem{{ETag: `"e2"`}}}},
				},
			},
		},
		{name: "Empty list", header: "()", wantErr: true},
		{name: "Unterminated", header: "(<a>", wantErr: true},
		{name: "Mixed", header: "(<a>) <http://example.com/dav/> (<b>)", wantErr: true},
		{name: "Tag without list", header: "<http://example.com/dav/>", wantErr: true},
		{name: "Garbage", header: "token", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/dav/calendars/alice/home/a.ics", nil)
			req.Header.Set("If", tt.header)
			rc := &RequestContext{Request: req, Path: "calendars/alice/home/a.ics", Server: s}
			conds, err := s.parseIf(rc)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, conds)
		})
	}
}

func TestConditionalHeaders(t *testing.T) {
	const target = "/dav/calendars/alice/home/a.ics"
	future := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
	past := time.Now().Add(-time.Hour).UTC().Format(http.TimeFormat)

	tests := []struct {
		name           string
		method         string
		target         string
		headers        func(etag string) map[string]string
		expectedStatus int
	}{
		{
			name:           "If-Match matches",
			method:         http.MethodPut,
			headers:        func(etag string) map[string]string { return map[string]string{"If-Match": etag} },
			expectedStatus: http.StatusNoContent,
		},
		{
			name:           "If-Match mismatch",
			method:         http.MethodPut,
			headers:        func(string) map[string]string { return map[string]string{"If-Match": `"nope"`} },
			expectedStatus: http.StatusPreconditionFailed,
		},
		{
			name:           "If-Match star on missing resource",
			method:         http.MethodPut,
			target:         "/dav/calendars/alice/home/new.ics",
			headers:        func(string) map[string]string { return map[string]string{"If-Match": "*"} },
			expectedStatus: http.StatusPreconditionFailed,
		},
		{
			name:           "If-None-Match star on existing resource",
			method:         http.MethodPut,
			headers:        func(string) map[string]string { return map[string]string{"If-None-Match": "*"} },
			expectedStatus: http.StatusPreconditionFailed,
		},
		{
			name:           "If-None-Match star on new resource",
			method:         http.MethodPut,
			target:         "/dav/calendars/alice/home/new.ics",
			headers:        func(string) map[string]string { return map[string]string{"If-None-Match": "*"} },
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "If-None-Match on GET",
			method:         http.MethodGet,
			headers:        func(etag string) map[string]string { return map[string]string{"If-None-Match": etag} },
			expectedStatus: http.StatusNotModified,
		},
		{
			name:           "If-Modified-Since",
			method:         http.MethodGet,
			headers:        func(string) map[string]string { return map[string]string{"If-Modified-Since": future} },
			expectedStatus: http.StatusNotModified,
		},
		{
			name:           "If-Modified-Since older",
			method:         http.MethodGet,
			headers:        func(string) map[string]string { return map[string]string{"If-Modified-Since": past} },
			expectedStatus: http.StatusOK,
		},
		{
			name:           "If-Unmodified-Since older",
			method:         http.MethodPut,
			headers:        func(string) map[string]string { return map[string]string{"If-Unmodified-Since": past} },
			expectedStatus: http.StatusPreconditionFailed,
		},
		{
			name:           "If header etag",
			method:         http.MethodPut,
			headers:        func(etag string) map[string]string { return map[string]string{"If": "([" + etag + "])"} },
			expectedStatus: http.StatusNoContent,
		},
		{
			name:           "If header wrong etag",
			method:         http.MethodPut,
			headers:        func(string) map[string]string { return map[string]string{"If": `(["nope"])`} },
			expectedStatus: http.StatusPreconditionFailed,
		},
		{
			name:           "If header negated",
			method:         http.MethodPut,
			headers:        func(string) map[string]string { return map[string]string{"If": `(Not ["nope"])`} },
			expectedStatus: http.StatusNoContent,
		},
		{
			name:           "If header unknown token",
			method:         http.MethodPut,
			headers:        func(string) map[string]string { return map[string]string{"If": "(<opaquelocktoken:x>)"} },
			expectedStatus: http.StatusPreconditionFailed,
		},
		{
			name:   "If header second list holds",
			method: http.MethodPut,
			headers: func(etag string) map[string]string {
				return map[string]string{"If": "(<opaquelocktoken:x>) ([" + etag + "])"}
			},
			expectedStatus: http.StatusNoContent,
		},
		{
			name:   "If header tagged",
			method: http.MethodPut,
			headers: func(etag string) map[string]string {
				return map[string]string{"If": "<http://example.com/dav/calendars/alice/home/a.ics> ([" + etag + "])"}
			},
			expectedStatus: http.StatusNoContent,
		},
		{
			name:           "If header malformed",
			method:         http.MethodPut,
			headers:        func(string) map[string]string { return map[string]string{"If": "(<x>"} },
			expectedStatus: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t)
			path := tt.target
			if path == "" {
				path = target
			}
			etag := etagAt(t, s, "calendars/alice/home/a.ics")
			body := ""
			if tt.method == http.MethodPut {
				body = "new body"
			}
			rec := do(s, tt.method, path, body, tt.headers(etag))
			assert.Equal(t, tt.expectedStatus, rec.Code)
		})
	}
}

func TestValidateTokens(t *testing.T) {
	s, _ := newTestServer(t)
	var seen []string
	s.OnValidateTokens(DefaultPriority, func(_ *RequestContext, conds []*IfCondition) error {
		for _, it := range Tokens(conds) {
			seen = append(seen, it.Token)
			if it.Token == "opaquelocktoken:good" {
				it.Valid = true
			}
		}
		return nil
	})

	rec := do(s, http.MethodPut, "/dav/calendars/alice/home/a.ics", "x", map[string]string{"If": "(<opaquelocktoken:good>)"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(s, http.MethodPut, "/dav/calendars/alice/home/a.ics", "x", map[string]string{"If": "(<opaquelocktoken:bad>)"})
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	rec = do(s, http.MethodPut, "/dav/calendars/alice/home/a.ics", "x", map[string]string{"If": "(Not <opaquelocktoken:good>)"})
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Equal(t, []string{"opaquelocktoken:good", "opaquelocktoken:bad", "opaquelocktoken:good"}, seen)
}
