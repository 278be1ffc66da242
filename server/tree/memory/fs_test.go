package memory

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/storage"
	"github.com/cyp0633/libdav/server/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var calendarType = dav.N(dav.NSCalDAV, "calendar")

func childDir(t *testing.T, fs *FS, p string) *Dir {
	t.Helper()
	n, err := tree.New(fs.Root()).Resolve(context.Background(), p)
	require.NoError(t, err)
	d, ok := n.(*Dir)
	require.True(t, ok, "%s is not a collection", p)
	return d
}

func readAll(t *testing.T, f tree.File) string {
	t.Helper()
	rc, err := f.Open(context.Background())
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func TestFS_CreateAndRead(t *testing.T) {
	ctx := context.Background()
	fs := New()
	require.NoError(t, fs.MkdirAll(ctx, "calendars/alice/home", calendarType))
	require.NoError(t, fs.WriteFile(ctx, "calendars/alice/home/event.ics", []byte("BEGIN:VCALENDAR")))

	home := childDir(t, fs, "calendars/alice/home")
	assert.Equal(t, []dav.Name{calendarType}, home.ResourceType())
	assert.Equal(t, "calendars/alice/home", home.Path())

	n, err := home.Child(ctx, "event.ics")
	require.NoError(t, err)
	f := n.(*File)
	assert.Equal(t, "BEGIN:VCALENDAR", readAll(t, f))
	assert.Equal(t, int64(15), f.Size())
	assert.Equal(t, "text/calendar; charset=utf-8", f.ContentType())
	assert.True(t, strings.HasPrefix(f.ETag(), `"`))

	_, err = home.Child(ctx, "missing.ics")
	assert.ErrorIs(t, err, dav.ErrNotFound)

	_, err = home.CreateFile(ctx, "event.ics", strings.NewReader("x"))
	assert.ErrorIs(t, err, dav.ErrMethodNotAllowed)

	err = fs.WriteFile(ctx, "nowhere/x.ics", []byte("x"))
	assert.ErrorIs(t, err, dav.ErrConflict)
}

func TestFile_Write(t *testing.T) {
	ctx := context.Background()
	fs := New()
	require.NoError(t, fs.WriteFile(ctx, "a.txt", []byte("one")))
	n, err := fs.Root().Child(ctx, "a.txt")
	require.NoError(t, err)
	f := n.(*File)
	before := f.ETag()

	etag, err := f.Write(ctx, strings.NewReader("two"))
	require.NoError(t, err)
	assert.NotEqual(t, before, etag)
	assert.Equal(t, etag, f.ETag())
	assert.Equal(t, "two", readAll(t, f))
}

func TestDir_ExtendedCollection(t *testing.T) {
	ctx := context.Background()
	fs := New()
	root := fs.Root()
	color := dav.N(dav.NSAppleICal, "calendar-color")
	dead := dav.N("urn:x", "dead")

	pp := dav.NewPropPatch("work", []dav.Mutation{
		dav.Set(dav.PropDisplayName, dav.Text("Work")),
		dav.Set(color, dav.Text("#ff0000")),
		dav.Set(dead, dav.Text("kept elsewhere")),
	})
	require.NoError(t, root.CreateExtendedCollection(ctx, "work", []dav.Name{dav.ElemCollection, calendarType}, pp))
	assert.Equal(t, []dav.Name{dead}, pp.Pending())
	pp.ClaimRemaining(func([]dav.Mutation) (map[dav.Name]int, error) { return nil, nil })
	require.True(t, pp.Commit())

	work := childDir(t, fs, "work")
	props, err := work.PropertiesOf(ctx, []dav.Name{dav.PropDisplayName, dead})
	require.NoError(t, err)
	assert.Equal(t, map[dav.Name]dav.Value{dav.PropDisplayName: dav.Text("Work")}, props)

	err = root.CreateExtendedCollection(ctx, "odd", []dav.Name{dav.N("urn:x", "thing")}, dav.NewPropPatch("odd", nil))
	assert.ErrorIs(t, err, &dav.Error{Status: http.StatusForbidden, Condition: dav.CondValidResourceType})
}

func TestDir_PatchProperties(t *testing.T) {
	ctx := context.Background()
	fs := New()
	require.NoError(t, fs.MkdirAll(ctx, "cal"))
	cal := childDir(t, fs, "cal")
	desc := dav.N(dav.NSCalDAV, "calendar-description")

	pp := dav.NewPropPatch("cal", []dav.Mutation{dav.Set(desc, dav.Text("Team"))})
	cal.PatchProperties(ctx, pp)
	require.True(t, pp.Commit())
	assert.Equal(t, http.StatusOK, pp.StatusOf(desc))

	pp = dav.NewPropPatch("cal", []dav.Mutation{dav.Remove(desc)})
	cal.PatchProperties(ctx, pp)
	require.True(t, pp.Commit())

	props, err := cal.PropertiesOf(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, props)
}

func TestDir_Quota(t *testing.T) {
	ctx := context.Background()
	fs := New(WithCapacity(10))
	require.NoError(t, fs.MkdirAll(ctx, "a"))
	require.NoError(t, fs.WriteFile(ctx, "a/x", []byte("123456")))

	used, available, err := childDir(t, fs, "a").QuotaInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), used)
	assert.Equal(t, int64(4), available)

	err = fs.WriteFile(ctx, "a/y", []byte("12345"))
	assert.ErrorIs(t, err, &dav.Error{Status: http.StatusInsufficientStorage})

	_, available, err = New().Root().QuotaInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), available)
}

func TestNode_DeleteAndRename(t *testing.T) {
	ctx := context.Background()
	fs := New()
	require.NoError(t, fs.MkdirAll(ctx, "a/b"))
	require.NoError(t, fs.WriteFile(ctx, "a/b/c.txt", []byte("c")))

	b := childDir(t, fs, "a/b")
	require.NoError(t, b.SetName(ctx, "renamed"))
	assert.Equal(t, "a/renamed", b.Path())
	_, err := tree.New(fs.Root()).Resolve(ctx, "a/renamed/c.txt")
	require.NoError(t, err)

	assert.ErrorIs(t, fs.Root().Delete(ctx), dav.ErrForbidden)
	require.NoError(t, b.Delete(ctx))
	assert.ErrorIs(t, b.Delete(ctx), dav.ErrNotFound)

	_, err = tree.New(fs.Root()).Resolve(ctx, "a/renamed")
	assert.ErrorIs(t, err, dav.ErrNotFound)
}

func TestDir_OwnerAndACL(t *testing.T) {
	ctx := context.Background()
	fs := New()
	require.NoError(t, fs.MkdirAll(ctx, "shared"))
	require.NoError(t, fs.SetOwner("shared", "principals/alice"))
	aces := []dav.ACE{{Principal: dav.PrincipalAuthenticated, Privilege: dav.DAVName("read")}}
	require.NoError(t, fs.SetACL("shared", aces))

	shared := childDir(t, fs, "shared")
	assert.Equal(t, "principals/alice", shared.Owner())
	assert.Equal(t, aces, shared.ACL())

	require.NoError(t, shared.SetACL(ctx, nil))
	assert.Empty(t, shared.ACL())
	assert.ErrorIs(t, fs.SetOwner("missing", "x"), dav.ErrNotFound)
}

func TestDir_Changes(t *testing.T) {
	ctx := context.Background()
	fs := New()
	require.NoError(t, fs.MkdirAll(ctx, "cal"))
	cal := childDir(t, fs, "cal")

	token, err := cal.SyncToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0", token)

	require.NoError(t, fs.WriteFile(ctx, "cal/a.ics", []byte("a")))
	require.NoError(t, fs.WriteFile(ctx, "cal/b.ics", []byte("b")))

	cs, err := cal.Changes(ctx, "0", dav.DepthOne, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.ics", "b.ics"}, cs.Added)
	assert.Equal(t, "2", cs.Token)

	require.NoError(t, fs.WriteFile(ctx, "cal/a.ics", []byte("a2")))
	n, err := cal.Child(ctx, "b.ics")
	require.NoError(t, err)
	require.NoError(t, n.(*File).Delete(ctx))

	tests := []struct {
		name     string
		token    string
		limit    int
		expected tree.ChangeSet
	}{
		{
			name:     "since last sync",
			token:    "2",
			expected: tree.ChangeSet{Token: "4", Modified: []string{"a.ics"}, Deleted: []string{"b.ics"}},
		},
		{
			name:     "added then deleted",
			token:    "0",
			expected: tree.ChangeSet{Token: "4", Added: []string{"a.ics"}, Deleted: []string{"b.ics"}},
		},
		{
			name:     "truncated",
			token:    "0",
			limit:    1,
			expected: tree.ChangeSet{Token: "3", Added: []string{"a.ics"}, Truncated: true},
		},
		{
			name:     "nothing new",
			token:    "4",
			expected: tree.ChangeSet{Token: "4"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs, err := cal.Changes(ctx, tt.token, dav.DepthOne, tt.limit)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, *cs)
		})
	}

	for _, bad := range []string{"x", "99"} {
		_, err := cal.Changes(ctx, bad, dav.DepthOne, 0)
		assert.ErrorIs(t, err, tree.ErrInvalidSyncToken, bad)
	}
}

func TestDir_ChangesBackend(t *testing.T) {
	ctx := context.Background()
	journal := new(storage.MockChangeLog)
	journal.On("Record", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(uint64(1), nil).Maybe()
	fs := New(WithChangeLog(journal))
	require.NoError(t, fs.MkdirAll(ctx, "cal"))
	cal := childDir(t, fs, "cal")

	journal.On("Current", mock.Anything, "cal").Return(uint64(5), nil)
	journal.On("Since", mock.Anything, "cal", uint64(3)).Return(nil, storage.ErrInvalidSequence)
	journal.On("Since", mock.Anything, "cal", uint64(4)).Return(nil, storage.ErrStorageUnavailable)

	token, err := cal.SyncToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "5", token)

	_, err = cal.Changes(ctx, "3", dav.DepthOne, 0)
	assert.ErrorIs(t, err, tree.ErrInvalidSyncToken)

	_, err = cal.Changes(ctx, "4", dav.DepthOne, 0)
	assert.ErrorIs(t, err, storage.ErrStorageUnavailable)
	assert.NotErrorIs(t, err, tree.ErrInvalidSyncToken)
	journal.AssertExpectations(t)
}

func TestDir_ChangesLevel(t *testing.T) {
	ctx := context.Background()
	fs := New()
	require.NoError(t, fs.MkdirAll(ctx, "books/sub"))
	require.NoError(t, fs.WriteFile(ctx, "books/top.vcf", []byte("x")))
	require.NoError(t, fs.WriteFile(ctx, "books/sub/deep.vcf", []byte("y")))
	books := childDir(t, fs, "books")

	cs, err := books.Changes(ctx, "", dav.DepthOne, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"sub", "top.vcf"}, cs.Added)

	cs, err = books.Changes(ctx, "", dav.DepthInfinity, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"sub", "sub/deep.vcf", "top.vcf"}, cs.Added)

	cs, err = books.Changes(ctx, "0", dav.DepthInfinity, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"sub", "sub/deep.vcf", "top.vcf"}, cs.Added)
}

func TestDir_MoveInto(t *testing.T) {
	ctx := context.Background()
	fs := New()
	require.NoError(t, fs.MkdirAll(ctx, "src"))
	require.NoError(t, fs.MkdirAll(ctx, "dst"))
	require.NoError(t, fs.WriteFile(ctx, "src/f.txt", []byte("f")))

	src := childDir(t, fs, "src")
	dst := childDir(t, fs, "dst")
	n, err := src.Child(ctx, "f.txt")
	require.NoError(t, err)

	moved, err := dst.MoveInto(ctx, "g.txt", "src/f.txt", n)
	require.NoError(t, err)
	assert.True(t, moved)

	_, err = src.Child(ctx, "f.txt")
	assert.ErrorIs(t, err, dav.ErrNotFound)
	_, err = dst.Child(ctx, "g.txt")
	assert.NoError(t, err)

	// Nodes of another tree fall back to the generic strategy.
	other := New()
	require.NoError(t, other.WriteFile(ctx, "z", []byte("z")))
	foreign, err := other.Root().Child(ctx, "z")
	require.NoError(t, err)
	moved, err = dst.MoveInto(ctx, "z", "z", foreign)
	require.NoError(t, err)
	assert.False(t, moved)

	_, err = src.MoveInto(ctx, "loop", "src", src)
	assert.ErrorIs(t, err, dav.ErrConflict)
}
