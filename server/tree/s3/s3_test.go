package s3

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"
	"net/url"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient is an in-memory bucket.
type fakeClient struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte
	types   map[string]string
}

func newFakeClient(bucket string) *fakeClient {
	return &fakeClient{bucket: bucket, objects: map[string][]byte{}, types: map[string]string{}}
}

func etagOf(data []byte) *string {
	sum := md5.Sum(data)
	return aws.String(`"` + hex.EncodeToString(sum[:]) + `"`)
}

func (c *fakeClient) HeadBucket(_ context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if aws.ToString(in.Bucket) != c.bucket {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (c *fakeClient) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	out := &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(data))),
		ETag:          etagOf(data),
		LastModified:  aws.Time(time.Now()),
	}
	if ct := c.types[aws.ToString(in.Key)]; ct != "" {
		out.ContentType = aws.String(ct)
	}
	return out, nil
}

func (c *fakeClient) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (c *fakeClient) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[aws.ToString(in.Key)] = data
	c.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{ETag: etagOf(data)}, nil
}

func (c *fakeClient) CopyObject(_ context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	bucket, key, _ := strings.Cut(aws.ToString(in.CopySource), "/")
	key, err := url.PathUnescape(key)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.objects[key]
	if bucket != c.bucket || !ok {
		return nil, &types.NoSuchKey{}
	}
	c.objects[aws.ToString(in.Key)] = bytes.Clone(data)
	c.types[aws.ToString(in.Key)] = c.types[key]
	return &s3.CopyObjectOutput{CopyObjectResult: &types.CopyObjectResult{ETag: etagOf(data)}}, nil
}

func (c *fakeClient) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (c *fakeClient) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := aws.ToString(in.Prefix)
	delim := aws.ToString(in.Delimiter)
	maxKeys := int(aws.ToInt32(in.MaxKeys))

	keys := make([]string, 0, len(c.objects))
	for k := range c.objects {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	seen := map[string]bool{}
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := k[len(prefix):]
		if delim != "" {
			if i := strings.Index(rest, delim); i >= 0 {
				cp := prefix + rest[:i+len(delim)]
				if !seen[cp] {
					seen[cp] = true
					out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(cp)})
				}
				continue
			}
		}
		if maxKeys > 0 && len(out.Contents) >= maxKeys {
			break
		}
		data := c.objects[k]
		out.Contents = append(out.Contents, types.Object{
			Key:  aws.String(k),
			Size: aws.Int64(int64(len(data))),
			ETag: etagOf(data),
		})
	}
	return out, nil
}

func newTestFS(t *testing.T) (*FS, *fakeClient) {
	t.Helper()
	client := newFakeClient("dav")
	fs, err := New(context.Background(), client, Config{Bucket: "dav", Prefix: "libdav"})
	require.NoError(t, err)
	return fs, client
}

func readBody(t *testing.T, n tree.Node) string {
	t.Helper()
	rc, err := n.(tree.File).Open(context.Background())
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func TestNew(t *testing.T) {
	ctx := context.Background()
	_, err := New(ctx, nil, Config{Bucket: "dav"})
	assert.Error(t, err)
	_, err = New(ctx, newFakeClient("dav"), Config{})
	assert.Error(t, err)
	_, err = New(ctx, newFakeClient("dav"), Config{Bucket: "other"})
	var notFound *types.NotFound
	assert.True(t, errors.As(err, &notFound))
}

func TestFS_CreateAndResolve(t *testing.T) {
	fs, client := newTestFS(t)
	ctx := context.Background()
	root := fs.Root()

	require.NoError(t, root.CreateCollection(ctx, "calendars"))
	assert.Contains(t, client.objects, "libdav/calendars/")

	tr := tree.New(root)
	coll, err := tr.ResolveCollection(ctx, "calendars")
	require.NoError(t, err)
	etag, err := coll.CreateFile(ctx, "event.ics", strings.NewReader("BEGIN:VCALENDAR"))
	require.NoError(t, err)
	assert.NotEmpty(t, etag)
	assert.Equal(t, "text/calendar; charset=utf-8", client.types["libdav/calendars/event.ics"])

	n, err := tr.Resolve(ctx, "calendars/event.ics")
	require.NoError(t, err)
	f := n.(tree.File)
	assert.Equal(t, etag, f.ETag())
	assert.Equal(t, int64(15), f.Size())
	assert.Equal(t, "BEGIN:VCALENDAR", readBody(t, n))

	_, err = coll.CreateFile(ctx, "event.ics", strings.NewReader("x"))
	assert.ErrorIs(t, err, dav.ErrMethodNotAllowed)
	_, err = tr.Resolve(ctx, "calendars/missing.ics")
	assert.ErrorIs(t, err, dav.ErrNotFound)
	_, err = coll.CreateFile(ctx, "a/b", strings.NewReader("x"))
	assert.ErrorIs(t, err, dav.ErrBadRequest)
}

func TestDir_Children(t *testing.T) {
	fs, client := newTestFS(t)
	ctx := context.Background()
	client.objects["libdav/books/"] = nil
	client.objects["libdav/books/a.vcf"] = []byte("A")
	client.objects["libdav/books/b.vcf"] = []byte("BB")
	// An implicit collection without a marker.
	client.objects["libdav/books/shared/c.vcf"] = []byte("C")

	n, err := tree.New(fs.Root()).Resolve(ctx, "books")
	require.NoError(t, err)
	children, err := n.(tree.Collection).Children(ctx)
	require.NoError(t, err)

	var names []string
	for _, c := range children {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"shared", "a.vcf", "b.vcf"}, names)

	shared, err := n.(tree.Collection).Child(ctx, "shared")
	require.NoError(t, err)
	assert.True(t, tree.IsCollection(shared))

	got, err := n.(tree.MultiGet).MultipleChildren(ctx, []string{"a.vcf", "nope.vcf", "b.vcf"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[1].(tree.File).Size())
}

func TestObject_Write(t *testing.T) {
	fs, client := newTestFS(t)
	ctx := context.Background()
	_, err := fs.Root().CreateFile(ctx, "note.txt", strings.NewReader("one"))
	require.NoError(t, err)

	n, err := fs.Root().Child(ctx, "note.txt")
	require.NoError(t, err)
	etag, err := n.(tree.File).Write(ctx, strings.NewReader("two"))
	require.NoError(t, err)
	assert.Equal(t, *etagOf([]byte("two")), etag)
	assert.Equal(t, []byte("two"), client.objects["libdav/note.txt"])
}

func TestObject_SizeLimit(t *testing.T) {
	client := newFakeClient("dav")
	fs, err := New(context.Background(), client, Config{Bucket: "dav", MaxObjectSize: 4})
	require.NoError(t, err)

	_, err = fs.Root().CreateFile(context.Background(), "big", strings.NewReader("12345"))
	assert.ErrorIs(t, err, &dav.Error{Status: 507})
	assert.Empty(t, client.objects)
}

func TestTree_DeleteAndCopy(t *testing.T) {
	fs, client := newTestFS(t)
	ctx := context.Background()
	tr := tree.New(fs.Root())
	require.NoError(t, fs.Root().CreateCollection(ctx, "src"))
	client.objects["libdav/src/a.ics"] = []byte("A")
	client.objects["libdav/src/sub/b.ics"] = []byte("B")

	require.NoError(t, tr.Copy(ctx, "src", "dst"))
	n, err := tr.Resolve(ctx, "dst/sub/b.ics")
	require.NoError(t, err)
	assert.Equal(t, "B", readBody(t, n))

	// Files are copied server side.
	require.NoError(t, tr.Copy(ctx, "src/a.ics", "dst/a copy.ics"))
	assert.Equal(t, []byte("A"), client.objects["libdav/dst/a copy.ics"])

	require.NoError(t, tr.Move(ctx, "dst", "moved"))
	ok, err := tr.Exists(ctx, "dst/a.ics")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = tr.Exists(ctx, "moved/sub/b.ics")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, tr.Delete(ctx, "src"))
	for k := range client.objects {
		assert.False(t, strings.HasPrefix(k, "libdav/src/"), k)
	}
	assert.ErrorIs(t, fs.Root().Delete(ctx), dav.ErrForbidden)
}
