package config

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cyp0633/libdav/server/caldav"
	"github.com/cyp0633/libdav/server/tree"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateStorage(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		cfg     StorageConfig
		wantErr string
	}{
		{name: "memory", cfg: StorageConfig{Type: "memory"}},
		{name: "badger in memory", cfg: StorageConfig{Type: "badger", Badger: map[string]any{"in_memory": true}}},
		{name: "badger without path", cfg: StorageConfig{Type: "badger", Badger: map[string]any{}}, wantErr: "DBPath"},
		{name: "badger bad option", cfg: StorageConfig{Type: "badger", Badger: map[string]any{"in_memory": "yes please"}}, wantErr: "decode"},
		{name: "unknown", cfg: StorageConfig{Type: "etcd"}, wantErr: "unknown storage type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend, err := CreateStorage(ctx, &tt.cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, backend)
			if c, ok := backend.(interface{ Close() error }); ok {
				require.NoError(t, c.Close())
			}
		})
	}
}

func TestCreateTree_Memory(t *testing.T) {
	ctx := context.Background()
	backend, err := CreateStorage(ctx, &StorageConfig{Type: "memory"})
	require.NoError(t, err)

	cfg := &TreeConfig{
		Type:   "memory",
		Memory: map[string]any{"capacity": 1 << 20},
		Collections: []CollectionConfig{
			{Path: "calendars/alice/home", Type: "calendar"},
			{Path: "calendars/alice/home", Type: "calendar"},
			{Path: "/files/", Type: "collection"},
		},
	}
	root, err := CreateTree(ctx, cfg, backend)
	require.NoError(t, err)

	tr := tree.New(root)
	home, err := tr.Resolve(ctx, "calendars/alice/home")
	require.NoError(t, err)
	assert.True(t, caldav.IsCalendar(home))

	alice, err := tr.Resolve(ctx, "calendars/alice")
	require.NoError(t, err)
	assert.False(t, caldav.IsCalendar(alice))

	files, err := tr.Resolve(ctx, "files")
	require.NoError(t, err)
	assert.True(t, tree.IsCollection(files))
}

func TestCreateTree_Errors(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		cfg     TreeConfig
		wantErr string
	}{
		{name: "unknown", cfg: TreeConfig{Type: "ftp"}, wantErr: "unknown tree type"},
		{name: "negative capacity", cfg: TreeConfig{Type: "memory", Memory: map[string]any{"capacity": -1}}, wantErr: "capacity"},
		{name: "s3 without bucket", cfg: TreeConfig{Type: "s3", S3: map[string]any{"region": "eu-west-1"}}, wantErr: "Bucket"},
		{name: "s3 without region", cfg: TreeConfig{Type: "s3", S3: map[string]any{"bucket": "dav"}}, wantErr: "Region"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CreateTree(ctx, &tt.cfg, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewS3Client(t *testing.T) {
	client, err := NewS3Client(context.Background(), S3TreeConfig{
		Region:          "us-east-1",
		Endpoint:        "http://localhost:9000",
		AccessKeyID:     "minio",
		SecretAccessKey: "minio123",
		UsePathStyle:    true,
	})
	require.NoError(t, err)
	opts := client.Options()
	assert.Equal(t, "us-east-1", opts.Region)
	require.NotNil(t, opts.BaseEndpoint)
	assert.Equal(t, "http://localhost:9000", *opts.BaseEndpoint)
	assert.True(t, opts.UsePathStyle)
}

func TestNewLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "libdav.log")
	logger, closer, err := NewLogger(LoggingConfig{Level: "WARN", Format: "json", Output: path})
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "path", "a.ics")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"path":"a.ics"`)

	_, _, err = NewLogger(LoggingConfig{Level: "LOUD", Format: "text", Output: "stderr"})
	assert.Error(t, err)
}

func TestBuild(t *testing.T) {
	dir := t.TempDir()
	principals := filepath.Join(dir, "principals.yaml")
	require.NoError(t, os.WriteFile(principals, []byte(`
users:
  - username: alice
    password: secret
`), 0o600))

	cfg := &Config{
		Logging: LoggingConfig{Level: "debug", Format: "text", Output: filepath.Join(dir, "libdav.log")},
		Server:  ServerConfig{BaseURI: "/dav/"},
		Tree: TreeConfig{Collections: []CollectionConfig{
			{Path: "principals/alice"},
			{Path: "calendars/alice/home", Type: "calendar"},
		}},
		Auth:    AuthConfig{Enabled: true, PrincipalsFile: principals},
		ACL:     ACLConfig{Enabled: true},
		Locks:   LocksConfig{Enabled: true},
		CalDAV:  CalDAVConfig{Enabled: true},
		CardDAV: CardDAVConfig{Enabled: true},
		Sync:    SyncConfig{Enabled: true},
		Metrics: MetricsConfig{Enabled: true},
	}
	ApplyDefaults(cfg)
	require.NoError(t, Validate(cfg))

	inst, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, inst.Close()) })
	require.NotNil(t, inst.Metrics)

	for _, name := range []string{"metrics", "auth", "acl", "locks", "propstore", "caldav", "carddav", "davsync"} {
		_, ok := inst.Server.Plugin(name)
		assert.True(t, ok, name)
	}

	put := httptest.NewRequest(http.MethodPut, "/dav/calendars/alice/home/a.ics", strings.NewReader(
		"BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//libdav//test//EN\r\nBEGIN:VEVENT\r\nUID:a\r\nDTSTAMP:20240101T000000Z\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"))
	put.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("alice:secret")))
	put.Header.Set("Content-Type", "text/calendar")
	rec := httptest.NewRecorder()
	inst.Server.ServeHTTP(rec, put)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	anon := httptest.NewRecorder()
	inst.Server.ServeHTTP(anon, httptest.NewRequest(http.MethodGet, "/dav/calendars/alice/home/a.ics", nil))
	assert.Equal(t, http.StatusUnauthorized, anon.Code)

	assert.Equal(t, 2, mustGatherAndCount(t, inst.Metrics.Registry(), "libdav_requests_total"))
}

func TestBuild_BadPrincipals(t *testing.T) {
	cfg := &Config{Auth: AuthConfig{Enabled: true, PrincipalsFile: filepath.Join(t.TempDir(), "missing.yaml")}}
	ApplyDefaults(cfg)
	cfg.Logging.Output = "stderr"
	_, err := Build(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "principals")
}

func mustGatherAndCount(t *testing.T, g prometheus.Gatherer, name string) int {
	t.Helper()
	n, err := testutil.GatherAndCount(g, name)
	require.NoError(t, err)
	return n
}
