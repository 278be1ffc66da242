package memory

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/cyp0633/libdav/server"
	"github.com/cyp0633/libdav/server/acl"
	"github.com/cyp0633/libdav/server/auth"
	"github.com/cyp0633/libdav/server/dav"
	memtree "github.com/cyp0633/libdav/server/tree/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const principalsYAML = `
groups:
  - name: staff
    groups: [everyone]
  - name: everyone
users:
  - username: alice
    password: secret
    groups: [staff]
  - username: bob
    password: hunter2
`

func TestStore_Authenticate(t *testing.T) {
	s := New()
	require.NoError(t, s.AddUser("alice", "secret"))

	tests := []struct {
		name    string
		creds   auth.Credentials
		wantErr bool
	}{
		{name: "valid", creds: auth.Credentials{Username: "alice", Password: "secret"}},
		{name: "wrong password", creds: auth.Credentials{Username: "alice", Password: "Secret"}, wantErr: true},
		{name: "unknown user", creds: auth.Credentials{Username: "mallory", Password: "secret"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := s.Authenticate(context.Background(), tt.creds)
			if tt.wantErr {
				var authErr *auth.Error
				require.ErrorAs(t, err, &authErr)
				assert.Equal(t, auth.ErrInvalidCredentials, authErr.Type)
				assert.Nil(t, p)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "alice", p.ID)
		})
	}
}

func TestStore_AddUser(t *testing.T) {
	s := New()
	require.NoError(t, s.AddUser("alice", "secret"))
	assert.Error(t, s.AddUser("alice", "other"))
	assert.Error(t, s.AddUser("", "x"))
	assert.Error(t, s.AddUser("a/b", "x"))

	require.NoError(t, s.AddGroup("staff"))
	assert.Error(t, s.AddGroup("staff"))
	assert.Error(t, s.AddGroup("alice"))
	assert.Error(t, s.AddUser("staff", "x"))
}

func TestStore_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "principals.yaml")
	require.NoError(t, os.WriteFile(path, []byte(principalsYAML), 0o600))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "everyone", "staff"}, s.Principals())

	_, err = s.Authenticate(context.Background(), auth.Credentials{Username: "bob", Password: "hunter2"})
	assert.NoError(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("users: [: :"), 0o600))
	_, err = Load(bad)
	assert.Error(t, err)
}

func TestStore_GroupMemberships(t *testing.T) {
	s := New()
	require.NoError(t, s.Decode([]byte(principalsYAML)))
	ctx := context.Background()

	tests := []struct {
		principal string
		expected  []string
	}{
		{principal: "principals/alice", expected: []string{"principals/staff"}},
		{principal: "/principals/alice/", expected: []string{"principals/staff"}},
		{principal: "principals/staff", expected: []string{"principals/everyone"}},
		{principal: "principals/bob", expected: []string{}},
		{principal: "principals/nobody", expected: []string{}},
		{principal: "users/alice", expected: nil},
	}
	for _, tt := range tests {
		t.Run(tt.principal, func(t *testing.T) {
			groups, err := s.GroupMemberships(ctx, tt.principal)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, groups)
		})
	}

	custom := New(WithPrincipalPrefix("users/"))
	require.NoError(t, custom.AddUser("carol", "x", "ops"))
	groups, err := custom.GroupMemberships(ctx, "users/carol")
	require.NoError(t, err)
	assert.Equal(t, []string{"users/ops"}, groups)
}

func TestStore_WithAccessControl(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Decode([]byte(principalsYAML)))

	fs := memtree.New()
	require.NoError(t, fs.WriteFile(ctx, "notes.txt", []byte("hello")))
	srv, err := server.New(fs.Root(),
		server.WithBaseURI("/dav"),
		server.WithPlugins(
			auth.New(s),
			acl.New(
				acl.WithPrincipalBackend(s),
				acl.WithDefaultACL([]dav.ACE{{Principal: "principals/everyone", Privilege: acl.PrivRead}}),
			),
		))
	require.NoError(t, err)

	get := func(user, pass string) int {
		req := httptest.NewRequest(http.MethodGet, "/dav/notes.txt", nil)
		req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(user+":"+pass)))
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		return rec.Code
	}

	// alice reaches everyone through staff.
	assert.Equal(t, http.StatusOK, get("alice", "secret"))
	assert.Equal(t, http.StatusForbidden, get("bob", "hunter2"))
	assert.Equal(t, http.StatusUnauthorized, get("alice", "wrong"))
}
