package xml

import (
	"io"
	"strings"
	"testing"

	"github.com/cyp0633/libdav/server/dav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stringsReader(s string) io.Reader {
	return strings.NewReader(s)
}

func TestReadDocument(t *testing.T) {
	root, err := ReadDocument(stringsReader("  \n "))
	assert.NoError(t, err)
	assert.Nil(t, root)

	_, err = ReadDocument(stringsReader("<a><b></a>"))
	assert.ErrorIs(t, err, dav.ErrBadRequest)
}

func TestParsePropfind(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    PropfindRequest
		wantErr bool
	}{
		{
			name: "empty body is allprop",
			body: "",
			want: PropfindRequest{Type: dav.PropFindAllProps},
		},
		{
			name: "named properties resolve namespaces",
			body: `<propfind xmlns="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav"><prop><displayname/><C:calendar-data/></prop></propfind>`,
			want: PropfindRequest{Type: dav.PropFindNamed, Props: []dav.Name{dav.PropDisplayName, dav.N(dav.NSCalDAV, "calendar-data")}},
		},
		{
			name: "allprop with include",
			body: `<D:propfind xmlns:D="DAV:"><D:allprop/><D:include><D:supported-report-set/></D:include></D:propfind>`,
			want: PropfindRequest{Type: dav.PropFindAllProps, Props: []dav.Name{dav.PropSupportedReportSet}},
		},
		{
			name: "propname",
			body: `<D:propfind xmlns:D="DAV:"><D:propname/></D:propfind>`,
			want: PropfindRequest{Type: dav.PropFindNames},
		},
		{
			name:    "wrong root",
			body:    `<D:propertyupdate xmlns:D="DAV:"/>`,
			wantErr: true,
		},
		{
			name:    "propfind without selector",
			body:    `<D:propfind xmlns:D="DAV:"/>`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root, err := ReadDocument(stringsReader(tt.body))
			require.NoError(t, err)
			got, err := ParsePropfind(root)
			if tt.wantErr {
				assert.ErrorIs(t, err, dav.ErrBadRequest)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePropertyUpdate(t *testing.T) {
	root, err := ReadDocument(stringsReader(`<D:propertyupdate xmlns:D="DAV:" xmlns:Z="urn:z">
  <D:set><D:prop><Z:color>red</Z:color></D:prop></D:set>
  <D:remove><D:prop><Z:size/></D:prop></D:remove>
  <D:set><D:prop><D:displayname>Doc</D:displayname></D:prop></D:set>
</D:propertyupdate>`))
	require.NoError(t, err)

	muts, err := ParsePropertyUpdate(root)
	require.NoError(t, err)
	assert.Equal(t, []dav.Mutation{
		dav.Set(dav.N("urn:z", "color"), dav.Text("red")),
		dav.Remove(dav.N("urn:z", "size")),
		dav.Set(dav.PropDisplayName, dav.Text("Doc")),
	}, muts)
}

func TestParseCreate(t *testing.T) {
	root, err := ReadDocument(stringsReader(`<D:mkcol xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:set><D:prop>
    <D:resourcetype><D:collection/><C:calendar/></D:resourcetype>
    <D:displayname>Work</D:displayname>
  </D:prop></D:set>
</D:mkcol>`))
	require.NoError(t, err)

	req, err := ParseCreate(root, dav.DAVName("mkcol"))
	require.NoError(t, err)
	assert.Equal(t, []dav.Name{dav.ElemCollection, dav.N(dav.NSCalDAV, "calendar")}, req.ResourceType)
	assert.Equal(t, []dav.Mutation{dav.Set(dav.PropDisplayName, dav.Text("Work"))}, req.Mutations)

	_, err = ParseCreate(root, dav.N(dav.NSCalDAV, "mkcalendar"))
	assert.ErrorIs(t, err, dav.ErrUnsupportedMediaType)
}

func TestParseLockInfo(t *testing.T) {
	root, err := ReadDocument(stringsReader(`<D:lockinfo xmlns:D="DAV:">
  <D:lockscope><D:exclusive/></D:lockscope>
  <D:locktype><D:write/></D:locktype>
  <D:owner><D:href>mailto:alice@example.com</D:href></D:owner>
</D:lockinfo>`))
	require.NoError(t, err)

	req, err := ParseLockInfo(root)
	require.NoError(t, err)
	assert.True(t, req.Exclusive)
	assert.Equal(t, `<href xmlns="DAV:">mailto:alice@example.com</href>`, req.Owner)

	root, err = ReadDocument(stringsReader(`<D:lockinfo xmlns:D="DAV:"><D:lockscope><D:shared/></D:lockscope><D:owner>a &amp; b</D:owner></D:lockinfo>`))
	require.NoError(t, err)
	req, err = ParseLockInfo(root)
	require.NoError(t, err)
	assert.False(t, req.Exclusive)
	assert.Equal(t, "a &amp; b", req.Owner)
}

func TestParseACL(t *testing.T) {
	root, err := ReadDocument(stringsReader(`<D:acl xmlns:D="DAV:">
  <D:ace>
    <D:principal><D:href>/principals/alice</D:href></D:principal>
    <D:grant><D:privilege><D:read/></D:privilege><D:privilege><D:write/></D:privilege></D:grant>
  </D:ace>
  <D:ace>
    <D:principal><D:authenticated/></D:principal>
    <D:deny><D:privilege><D:write-acl/></D:privilege></D:deny>
    <D:protected/>
  </D:ace>
  <D:ace>
    <D:principal><D:property><D:owner/></D:property></D:principal>
    <D:grant><D:privilege><D:all/></D:privilege></D:grant>
  </D:ace>
</D:acl>`))
	require.NoError(t, err)

	aces, err := ParseACL(root)
	require.NoError(t, err)
	assert.Equal(t, []ACERequest{
		{Principal: "/principals/alice", Privileges: []dav.Name{dav.DAVName("read"), dav.DAVName("write")}},
		{Principal: "{DAV:}authenticated", Privileges: []dav.Name{dav.DAVName("write-acl")}, Deny: true, Protected: true},
		{Principal: "{DAV:}owner", Privileges: []dav.Name{dav.DAVName("all")}},
	}, aces)
}

func TestParseSyncCollection(t *testing.T) {
	root, err := ReadDocument(stringsReader(`<D:sync-collection xmlns:D="DAV:">
  <D:sync-token>http://libdav.cyp0633.dev/ns/sync/3</D:sync-token>
  <D:sync-level>1</D:sync-level>
  <D:limit><D:nresults>10</D:nresults></D:limit>
  <D:prop><D:getetag/></D:prop>
</D:sync-collection>`))
	require.NoError(t, err)

	req, err := ParseSyncCollection(root)
	require.NoError(t, err)
	assert.Equal(t, SyncCollectionRequest{
		SyncToken: "http://libdav.cyp0633.dev/ns/sync/3",
		Level:     dav.DepthOne,
		Limit:     10,
		Prop:      PropfindRequest{Type: dav.PropFindNamed, Props: []dav.Name{dav.PropGetETag}},
	}, req)

	root, err = ReadDocument(stringsReader(`<D:sync-collection xmlns:D="DAV:"><D:sync-token/><D:sync-level>2</D:sync-level></D:sync-collection>`))
	require.NoError(t, err)
	_, err = ParseSyncCollection(root)
	assert.ErrorIs(t, err, dav.ErrBadRequest)
}

func TestParseMultiget(t *testing.T) {
	root, err := ReadDocument(stringsReader(`<C:calendar-multiget xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:prop><D:getetag/><C:calendar-data/></D:prop>
  <D:href>/dav/cal/a.ics</D:href>
  <D:href>/dav/cal/b.ics</D:href>
</C:calendar-multiget>`))
	require.NoError(t, err)

	req, err := ParseMultiget(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"/dav/cal/a.ics", "/dav/cal/b.ics"}, req.Hrefs)
	assert.Equal(t, []dav.Name{dav.PropGetETag, dav.N(dav.NSCalDAV, "calendar-data")}, req.Prop.Props)
}
