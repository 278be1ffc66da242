package xml

import (
	"net/http"
	"testing"

	"github.com/cyp0633/libdav/server/dav"
	"github.com/stretchr/testify/assert"
)

func TestMultistatusResponse_ToXML(t *testing.T) {
	tests := []struct {
		name     string
		response MultistatusResponse
		want     string
	}{
		{
			name: "single response with one property",
			response: MultistatusResponse{
				Responses: []Response{{
					Href: "/dav/calendars/alice/work/",
					PropStats: []dav.StatusGroup{{
						Status: http.StatusOK,
						Props:  []dav.PropValue{{Name: dav.PropDisplayName, Value: dav.Text("Work")}},
					}},
				}},
			},
			want: `<d:multistatus xmlns:d="DAV:">` +
				`<d:response><d:href>/dav/calendars/alice/work/</d:href>` +
				`<d:propstat><d:prop><d:displayname>Work</d:displayname></d:prop>` +
				`<d:status>HTTP/1.1 200 OK</d:status></d:propstat></d:response></d:multistatus>`,
		},
		{
			name: "resource type and foreign namespace",
			response: MultistatusResponse{
				Responses: []Response{{
					Href: "/dav/cal/",
					PropStats: []dav.StatusGroup{
						{
							Status: http.StatusOK,
							Props: []dav.PropValue{{
								Name:  dav.PropResourceType,
								Value: dav.ResourceType{dav.ElemCollection, dav.N(dav.NSCalDAV, "calendar")},
							}},
						},
						{
							Status: http.StatusNotFound,
							Props:  []dav.PropValue{{Name: dav.N("urn:example", "color")}},
						},
					},
				}},
			},
			want: `<d:multistatus xmlns:d="DAV:" xmlns:cal="urn:ietf:params:xml:ns:caldav" xmlns:x0="urn:example">` +
				`<d:response><d:href>/dav/cal/</d:href>` +
				`<d:propstat><d:prop><d:resourcetype><d:collection/><cal:calendar/></d:resourcetype></d:prop>` +
				`<d:status>HTTP/1.1 200 OK</d:status></d:propstat>` +
				`<d:propstat><d:prop><x0:color/></d:prop>` +
				`<d:status>HTTP/1.1 404 Not Found</d:status></d:propstat></d:response></d:multistatus>`,
		},
		{
			name: "status-only response and sync token",
			response: MultistatusResponse{
				Responses: []Response{{Href: "/dav/cal/gone.ics", Status: http.StatusNotFound}},
				SyncToken: "http://libdav.cyp0633.dev/ns/sync/7",
			},
			want: `<d:multistatus xmlns:d="DAV:">` +
				`<d:response><d:href>/dav/cal/gone.ics</d:href><d:status>HTTP/1.1 404 Not Found</d:status></d:response>` +
				`<d:sync-token>http://libdav.cyp0633.dev/ns/sync/7</d:sync-token></d:multistatus>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.response.ToXML().WriteToString()
			assert.NoError(t, err)
			assert.Equal(t, tt.want, normalizeXML(got))
		})
	}
}

func TestErrorDocument(t *testing.T) {
	doc := ErrorDocument(dav.Locked("/dav/doc"))
	got, err := doc.WriteToString()
	assert.NoError(t, err)
	assert.Equal(t,
		`<d:error xmlns:d="DAV:" xmlns:s="http://libdav.cyp0633.dev/ns">`+
			`<d:lock-token-submitted><d:href>/dav/doc</d:href></d:lock-token-submitted>`+
			`<s:message>resource is locked</s:message></d:error>`,
		normalizeXML(got))
}

func TestRawXMLRoundTrip(t *testing.T) {
	root, err := ReadDocument(stringsReader(`<?xml version="1.0"?>
<D:propertyupdate xmlns:D="DAV:" xmlns:Z="urn:z">
  <D:set><D:prop><Z:author><Z:name>Jane</Z:name><D:href>/x</D:href></Z:author></D:prop></D:set>
</D:propertyupdate>`))
	assert.NoError(t, err)
	muts, err := ParsePropertyUpdate(root)
	assert.NoError(t, err)
	assert.Len(t, muts, 1)

	v := muts[0].Value.MustGet()
	resp := MultistatusResponse{Responses: []Response{{
		Href: "/a",
		PropStats: []dav.StatusGroup{{
			Status: http.StatusOK,
			Props:  []dav.PropValue{{Name: muts[0].Name, Value: v}},
		}},
	}}}
	out, err := resp.ToXML().WriteToString()
	assert.NoError(t, err)

	parsed, err := ReadDocument(stringsReader(out))
	assert.NoError(t, err)
	prop := Child(Child(Child(parsed, TagResponse), TagPropstat), TagProp)
	author := Child(prop, dav.N("urn:z", "author"))
	if assert.NotNil(t, author) {
		assert.Equal(t, "Jane", Child(author, dav.N("urn:z", "name")).Text())
		assert.Equal(t, "/x", Child(author, TagHref).Text())
	}
}
