package caldav

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/beevik/etree"
	"github.com/cyp0633/libdav/server"
	"github.com/cyp0633/libdav/server/dav"
	memtree "github.com/cyp0633/libdav/server/tree/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const home = "/dav/calendars/alice/home/"

func ics(lines ...string) string {
	all := append([]string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//libdav//test//EN"}, lines...)
	all = append(all, "END:VCALENDAR")
	return strings.Join(all, "\r\n") + "\r\n"
}

func event(uid string) []string {
	return []string{
		"BEGIN:VEVENT",
		"UID:" + uid,
		"DTSTAMP:20240101T090000Z",
		"DTSTART:20240101T100000Z",
		"SUMMARY:Standup",
		"END:VEVENT",
	}
}

func todo(uid string) []string {
	return []string{
		"BEGIN:VTODO",
		"UID:" + uid,
		"DTSTAMP:20240101T090000Z",
		"SUMMARY:Write report",
		"END:VTODO",
	}
}

// principal pretends every request comes from alice.
type principal struct{}

func (principal) Name() string { return "principal" }

func (principal) Initialize(s *server.Server) error {
	s.OnBeforeMethod(10, func(rc *server.RequestContext) (server.Result, error) {
		rc.Principal = "principals/alice"
		return server.Continue, nil
	})
	return nil
}

func newTestServer(t *testing.T, opts ...Option) *server.Server {
	t.Helper()
	ctx := context.Background()
	fs := memtree.New()
	require.NoError(t, fs.MkdirAll(ctx, "principals/alice"))
	require.NoError(t, fs.MkdirAll(ctx, "calendars/alice/home", ResourceTypeCalendar))
	require.NoError(t, fs.WriteFile(ctx, "calendars/alice/home/a.ics", []byte(ics(event("event-1")...))))
	s, err := server.New(fs.Root(),
		server.WithBaseURI("/dav"),
		server.WithPlugins(New(append([]Option{WithMaxResourceSize(2048)}, opts...)...), principal{}))
	require.NoError(t, err)
	return s
}

func do(s *server.Server, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func calendarHeaders() map[string]string {
	return map[string]string{"Content-Type": "text/calendar; charset=utf-8"}
}

func TestPut(t *testing.T) {
	tests := []struct {
		name           string
		target         string
		body           string
		headers        map[string]string
		expectedStatus int
		checkResponse  func(t *testing.T, body string)
	}{
		{
			name:           "event",
			target:         home + "b.ics",
			body:           ics(event("event-2")...),
			headers:        calendarHeaders(),
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "no content type",
			target:         home + "b.ics",
			body:           ics(todo("todo-1")...),
			expectedStatus: http.StatusCreated,
		},
		{
			name:   "with timezone",
			target: home + "b.ics",
			body: ics(append([]string{
				"BEGIN:VTIMEZONE",
				"TZID:Europe/Berlin",
				"BEGIN:STANDARD",
				"DTSTART:19701025T030000",
				"TZOFFSETFROM:+0200",
				"TZOFFSETTO:+0100",
				"END:STANDARD",
				"END:VTIMEZONE",
			}, event("event-2")...)...),
			headers:        calendarHeaders(),
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "recurrence overrides share a UID",
			target:         home + "b.ics",
			body:           ics(append(event("event-2"), event("event-2")...)...),
			headers:        calendarHeaders(),
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "wrong media type",
			target:         home + "b.ics",
			body:           ics(event("event-2")...),
			headers:        map[string]string{"Content-Type": "text/plain"},
			expectedStatus: http.StatusUnsupportedMediaType,
			checkResponse: func(t *testing.T, body string) {
				assert.Contains(t, body, "supported-calendar-data")
			},
		},
		{
			name:           "not iCalendar",
			target:         home + "b.ics",
			body:           "hello",
			headers:        calendarHeaders(),
			expectedStatus: http.StatusForbidden,
			checkResponse: func(t *testing.T, body string) {
				assert.Contains(t, body, "valid-calendar-data")
			},
		},
		{
			name:           "mixed components",
			target:         home + "b.ics",
			body:           ics(append(event("x"), todo("x")...)...),
			headers:        calendarHeaders(),
			expectedStatus: http.StatusForbidden,
			checkResponse: func(t *testing.T, body string) {
				assert.Contains(t, body, "valid-calendar-object-resource")
			},
		},
		{
			name:           "two UIDs",
			target:         home + "b.ics",
			body:           ics(append(event("x"), event("y")...)...),
			headers:        calendarHeaders(),
			expectedStatus: http.StatusForbidden,
			checkResponse: func(t *testing.T, body string) {
				assert.Contains(t, body, "valid-calendar-object-resource")
			},
		},
		{
			name:           "missing UID",
			target:         home + "b.ics",
			body:           ics("BEGIN:VEVENT", "DTSTART:20240101T100000Z", "END:VEVENT"),
			headers:        calendarHeaders(),
			expectedStatus: http.StatusForbidden,
			checkResponse: func(t *testing.T, body string) {
				assert.Contains(t, body, "valid-calendar-object-resource")
			},
		},
		{
			name:           "only a timezone",
			target:         home + "b.ics",
			body:           ics("BEGIN:VTIMEZONE", "TZID:UTC", "END:VTIMEZONE"),
			headers:        calendarHeaders(),
			expectedStatus: http.StatusForbidden,
		},
		{
			name:           "too large",
			target:         home + "b.ics",
			body:           ics(append(event("big"), "X-PAD:"+strings.Repeat("a", 3000))...),
			headers:        calendarHeaders(),
			expectedStatus: http.StatusForbidden,
			checkResponse: func(t *testing.T, body string) {
				assert.Contains(t, body, "max-resource-size")
			},
		},
		{
			name:           "UID taken",
			target:         home + "b.ics",
			body:           ics(event("event-1")...),
			headers:        calendarHeaders(),
			expectedStatus: http.StatusForbidden,
			checkResponse: func(t *testing.T, body string) {
				assert.Contains(t, body, "no-uid-conflict")
				assert.Contains(t, body, home+"a.ics")
			},
		},
		{
			name:           "rewrite keeps its UID",
			target:         home + "a.ics",
			body:           ics(event("event-1")...),
			headers:        calendarHeaders(),
			expectedStatus: http.StatusNoContent,
		},
		{
			name:           "rewrite with garbage",
			target:         home + "a.ics",
			body:           "BEGIN:VCALENDAR",
			headers:        calendarHeaders(),
			expectedStatus: http.StatusForbidden,
		},
		{
			name:           "outside calendars",
			target:         "/dav/calendars/alice/notes.txt",
			body:           "anything",
			headers:        map[string]string{"Content-Type": "text/plain"},
			expectedStatus: http.StatusCreated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			rec := do(s, http.MethodPut, tt.target, tt.body, tt.headers)
			assert.Equal(t, tt.expectedStatus, rec.Code, rec.Body.String())
			if tt.checkResponse != nil {
				tt.checkResponse(t, rec.Body.String())
			}
		})
	}
}

const mkcalendarBody = `<?xml version="1.0"?>
<C:mkcalendar xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:set><D:prop>
    <D:displayname>Tasks</D:displayname>
    <C:supported-calendar-component-set><C:comp name="VTODO"/></C:supported-calendar-component-set>
  </D:prop></D:set>
</C:mkcalendar>`

func TestMkcalendar(t *testing.T) {
	tests := []struct {
		name           string
		target         string
		body           string
		expectedStatus int
		checkResponse  func(t *testing.T, s *server.Server, body string)
	}{
		{
			name:           "without body",
			target:         "/dav/calendars/alice/work/",
			expectedStatus: http.StatusCreated,
			checkResponse: func(t *testing.T, s *server.Server, _ string) {
				rec := do(s, "PROPFIND", "/dav/calendars/alice/work/", "", map[string]string{"Depth": "0"})
				require.Equal(t, http.StatusMultiStatus, rec.Code)
				assert.Contains(t, rec.Body.String(), "calendar")
				assert.Equal(t, http.StatusCreated, do(s, http.MethodPut, "/dav/calendars/alice/work/e.ics",
					ics(event("e")...), calendarHeaders()).Code)
			},
		},
		{
			name:           "with properties",
			target:         "/dav/calendars/alice/tasks/",
			body:           mkcalendarBody,
			expectedStatus: http.StatusCreated,
			checkResponse: func(t *testing.T, s *server.Server, _ string) {
				const tasks = "/dav/calendars/alice/tasks/"
				assert.Equal(t, http.StatusForbidden, do(s, http.MethodPut, tasks+"e.ics",
					ics(event("e")...), calendarHeaders()).Code)
				assert.Equal(t, http.StatusCreated, do(s, http.MethodPut, tasks+"t.ics",
					ics(todo("t")...), calendarHeaders()).Code)

				rec := do(s, "PROPFIND", tasks, `<?xml version="1.0"?>
<D:propfind xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:prop><D:displayname/><C:supported-calendar-component-set/></D:prop>
</D:propfind>`, map[string]string{"Depth": "0"})
				require.Equal(t, http.StatusMultiStatus, rec.Code)
				doc := etree.NewDocument()
				require.NoError(t, doc.ReadFromString(rec.Body.String()))
				assert.Equal(t, "Tasks", doc.FindElement("//displayname").Text())
				comps := doc.FindElements("//supported-calendar-component-set/comp")
				require.Len(t, comps, 1)
				assert.Equal(t, "VTODO", comps[0].SelectAttrValue("name", ""))
			},
		},
		{
			name:           "already exists",
			target:         home,
			expectedStatus: http.StatusMethodNotAllowed,
		},
		{
			name:           "inside a calendar",
			target:         home + "nested/",
			expectedStatus: http.StatusForbidden,
			checkResponse: func(t *testing.T, _ *server.Server, body string) {
				assert.Contains(t, body, "calendar-collection-location-ok")
			},
		},
		{
			name:           "wrong body",
			target:         "/dav/calendars/alice/work/",
			body:           `<?xml version="1.0"?><D:mkcol xmlns:D="DAV:"/>`,
			expectedStatus: http.StatusUnsupportedMediaType,
		},
		{
			name:   "empty component set",
			target: "/dav/calendars/alice/work/",
			body: `<?xml version="1.0"?>
<C:mkcalendar xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:set><D:prop><C:supported-calendar-component-set/></D:prop></D:set>
</C:mkcalendar>`,
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			var headers map[string]string
			if tt.body != "" {
				headers = map[string]string{"Content-Type": "application/xml"}
			}
			rec := do(s, "MKCALENDAR", tt.target, tt.body, headers)
			assert.Equal(t, tt.expectedStatus, rec.Code, rec.Body.String())
			if tt.checkResponse != nil {
				tt.checkResponse(t, s, rec.Body.String())
			}
		})
	}
}

func TestMultiget(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, do(s, http.MethodPut, home+"b.ics", ics(todo("todo-1")...), calendarHeaders()).Code)

	rec := do(s, "REPORT", home, `<?xml version="1.0"?>
<C:calendar-multiget xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:prop><D:getetag/><C:calendar-data/></D:prop>
  <D:href>`+home+`a.ics</D:href>
  <D:href>`+home+`b.ics</D:href>
  <D:href>`+home+`missing.ics</D:href>
  <D:href>/elsewhere/c.ics</D:href>
</C:calendar-multiget>`, map[string]string{"Depth": "1"})
	require.Equal(t, http.StatusMultiStatus, rec.Code, rec.Body.String())

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(rec.Body.String()))
	responses := doc.FindElements("//response")
	require.Len(t, responses, 4)

	byHref := map[string]*etree.Element{}
	for _, r := range responses {
		byHref[r.FindElement("href").Text()] = r
	}
	assert.Contains(t, byHref[home+"a.ics"].FindElement(".//calendar-data").Text(), "UID:event-1")
	assert.Contains(t, byHref[home+"b.ics"].FindElement(".//calendar-data").Text(), "BEGIN:VTODO")
	assert.NotNil(t, byHref[home+"a.ics"].FindElement(".//getetag"))
	assert.Contains(t, byHref[home+"missing.ics"].SelectElement("status").Text(), "404")
	assert.Contains(t, byHref["/elsewhere/c.ics"].SelectElement("status").Text(), "404")

	rec = do(s, "REPORT", home, `<?xml version="1.0"?>
<C:calendar-multiget xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:prop><D:getetag/></D:prop>
</C:calendar-multiget>`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProperties(t *testing.T) {
	s := newTestServer(t)

	rec := do(s, "PROPFIND", home, `<?xml version="1.0"?>
<D:propfind xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:prop>
    <C:supported-calendar-component-set/>
    <C:supported-calendar-data/>
    <C:max-resource-size/>
    <C:calendar-description/>
    <D:supported-report-set/>
  </D:prop>
</D:propfind>`, map[string]string{"Depth": "0"})
	require.Equal(t, http.StatusMultiStatus, rec.Code)
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(rec.Body.String()))

	var comps []string
	for _, c := range doc.FindElements("//supported-calendar-component-set/comp") {
		comps = append(comps, c.SelectAttrValue("name", ""))
	}
	assert.Equal(t, DefaultComponents, comps)
	data := doc.FindElement("//supported-calendar-data/calendar-data")
	require.NotNil(t, data)
	assert.Equal(t, "text/calendar", data.SelectAttrValue("content-type", ""))
	assert.Equal(t, "2048", doc.FindElement("//max-resource-size").Text())
	assert.Equal(t, "home", doc.FindElement("//calendar-description").Text())
	assert.NotNil(t, doc.FindElement("//supported-report-set//calendar-multiget"))
	assert.NotContains(t, rec.Body.String(), "404 Not Found")

	// Calendar properties stay off plain collections.
	rec = do(s, "PROPFIND", "/dav/calendars/alice/", `<?xml version="1.0"?>
<D:propfind xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:prop><C:supported-calendar-component-set/></D:prop>
</D:propfind>`, map[string]string{"Depth": "0"})
	require.Equal(t, http.StatusMultiStatus, rec.Code)
	assert.Contains(t, rec.Body.String(), "404 Not Found")

	rec = do(s, "PROPFIND", "/dav/principals/alice/", `<?xml version="1.0"?>
<D:propfind xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:prop><C:calendar-home-set/></D:prop>
</D:propfind>`, map[string]string{"Depth": "0"})
	require.Equal(t, http.StatusMultiStatus, rec.Code)
	doc = etree.NewDocument()
	require.NoError(t, doc.ReadFromString(rec.Body.String()))
	assert.Equal(t, "/dav/calendars/alice/", doc.FindElement("//calendar-home-set/href").Text())
}

func TestCalendarHomeMapping(t *testing.T) {
	s := newTestServer(t, WithCalendarHome(func(string) string { return "shared/cal" }))
	rec := do(s, "PROPFIND", "/dav/principals/alice/", `<?xml version="1.0"?>
<D:propfind xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:prop><C:calendar-home-set/></D:prop>
</D:propfind>`, map[string]string{"Depth": "0"})
	require.Equal(t, http.StatusMultiStatus, rec.Code)
	assert.Contains(t, rec.Body.String(), "/dav/shared/cal/")
}

func TestComponentSetIsProtected(t *testing.T) {
	s := newTestServer(t)
	rec := do(s, "PROPPATCH", home, `<?xml version="1.0"?>
<D:propertyupdate xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:set><D:prop>
    <C:supported-calendar-component-set><C:comp name="VTODO"/></C:supported-calendar-component-set>
  </D:prop></D:set>
</D:propertyupdate>`, nil)
	require.Equal(t, http.StatusMultiStatus, rec.Code)
	assert.Contains(t, rec.Body.String(), "403 Forbidden")

	// Events are still accepted.
	assert.Equal(t, http.StatusCreated, do(s, http.MethodPut, home+"b.ics", ics(event("event-2")...), calendarHeaders()).Code)
}

func TestOptions(t *testing.T) {
	s := newTestServer(t)
	rec := do(s, http.MethodOptions, home, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("DAV"), "calendar-access")
	assert.Contains(t, rec.Header().Get("Allow"), "MKCALENDAR")
}

func TestParseObject(t *testing.T) {
	obj, err := parseObject([]byte(ics(event("event-9")...)))
	require.NoError(t, err)
	assert.Equal(t, object{component: "VEVENT", uid: "event-9"}, obj)

	_, err = parseObject([]byte(ics(event("a")...) + ics(event("b")...)))
	assert.ErrorIs(t, err, &dav.Error{Status: http.StatusForbidden, Condition: CondValidCalendarData})

	_, err = parseObject([]byte(strings.ReplaceAll(ics(event("a")...), "VERSION:2.0\r\n", "")))
	assert.ErrorIs(t, err, &dav.Error{Status: http.StatusForbidden, Condition: CondValidCalendarData})
}
