package s3

import (
	"context"
	"io"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/tree"
)

var (
	_ tree.Collection   = (*Dir)(nil)
	_ tree.Deletable    = (*Dir)(nil)
	_ tree.MultiGet     = (*Dir)(nil)
	_ tree.NativeCopier = (*Dir)(nil)

	_ tree.File      = (*Object)(nil)
	_ tree.Deletable = (*Object)(nil)
	_ tree.Modified  = (*Object)(nil)
)

// Dir is a collection: a key prefix.
type Dir struct {
	fs   *FS
	path string
}

func (d *Dir) Name() string {
	_, name := dav.SplitPath(d.path)
	return name
}

func (d *Dir) Children(ctx context.Context) ([]tree.Node, error) {
	prefix := d.fs.dirKey(d.path)
	paginator := s3.NewListObjectsV2Paginator(d.fs.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(d.fs.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	var out []tree.Node
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, cp := range page.CommonPrefixes {
			name := aws.ToString(cp.Prefix)[len(prefix):]
			out = append(out, &Dir{fs: d.fs, path: dav.JoinPath(d.path, name)})
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == prefix {
				continue
			}
			o := &Object{
				fs:       d.fs,
				path:     dav.JoinPath(d.path, key[len(prefix):]),
				etag:     aws.ToString(obj.ETag),
				size:     aws.ToInt64(obj.Size),
				modified: aws.ToTime(obj.LastModified),
			}
			o.contentType = contentTypeOf(o.path)
			out = append(out, o)
		}
	}
	return out, nil
}

func (d *Dir) Child(ctx context.Context, name string) (tree.Node, error) {
	p := dav.JoinPath(d.path, name)
	n, err := d.fs.lookup(ctx, p)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, dav.NotFound("/%s not found", p)
	}
	return n, nil
}

func (d *Dir) MultipleChildren(ctx context.Context, names []string) ([]tree.Node, error) {
	var out []tree.Node
	for _, name := range names {
		n, err := d.fs.lookup(ctx, dav.JoinPath(d.path, name))
		if err != nil {
			return nil, err
		}
		if n != nil {
			out = append(out, n)
		}
	}
	return out, nil
}

func (d *Dir) exists(ctx context.Context, name string) error {
	n, err := d.fs.lookup(ctx, dav.JoinPath(d.path, name))
	if err != nil {
		return err
	}
	if n != nil {
		return dav.MethodNotAllowed("/" + dav.JoinPath(d.path, name) + " already exists")
	}
	return nil
}

func (d *Dir) CreateFile(ctx context.Context, name string, r io.Reader) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	if err := d.exists(ctx, name); err != nil {
		return "", err
	}
	data, err := readLimited(r, d.fs.maxSize)
	if err != nil {
		return "", err
	}
	return d.fs.put(ctx, d.fs.objectKey(dav.JoinPath(d.path, name)), data, contentTypeOf(name))
}

func (d *Dir) CreateCollection(ctx context.Context, name string) error {
	if err := validName(name); err != nil {
		return err
	}
	if err := d.exists(ctx, name); err != nil {
		return err
	}
	_, err := d.fs.put(ctx, d.fs.dirKey(dav.JoinPath(d.path, name)), nil, "")
	return err
}

func (d *Dir) Delete(ctx context.Context) error {
	if d.path == "" {
		return dav.Forbidden("the root collection cannot be deleted")
	}
	return d.fs.deletePrefix(ctx, d.fs.dirKey(d.path))
}

// CopyInto copies objects of the same bucket server side. Collections use
// the generic strategy.
func (d *Dir) CopyInto(ctx context.Context, name, _ string, source tree.Node) (bool, error) {
	src, ok := source.(*Object)
	if !ok || src.fs.bucket != d.fs.bucket {
		return false, nil
	}
	if err := validName(name); err != nil {
		return false, err
	}
	if err := d.exists(ctx, name); err != nil {
		return false, err
	}
	_, err := d.fs.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(d.fs.bucket),
		Key:        aws.String(d.fs.objectKey(dav.JoinPath(d.path, name))),
		CopySource: aws.String(src.fs.bucket + "/" + url.PathEscape(src.fs.objectKey(src.path))),
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// Object is a file stored as one object.
type Object struct {
	fs          *FS
	path        string
	etag        string
	size        int64
	contentType string
	modified    time.Time
}

func newObject(fs *FS, p string, head *s3.HeadObjectOutput) *Object {
	o := &Object{
		fs:          fs,
		path:        p,
		etag:        aws.ToString(head.ETag),
		size:        aws.ToInt64(head.ContentLength),
		contentType: aws.ToString(head.ContentType),
		modified:    aws.ToTime(head.LastModified),
	}
	if o.contentType == "" {
		o.contentType = contentTypeOf(p)
	}
	return o
}

func (o *Object) Name() string {
	_, name := dav.SplitPath(o.path)
	return name
}

func (o *Object) Open(ctx context.Context) (io.ReadCloser, error) {
	out, err := o.fs.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.fs.bucket),
		Key:    aws.String(o.fs.objectKey(o.path)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, dav.NotFound("/%s not found", o.path)
		}
		return nil, err
	}
	return out.Body, nil
}

func (o *Object) Write(ctx context.Context, r io.Reader) (string, error) {
	data, err := readLimited(r, o.fs.maxSize)
	if err != nil {
		return "", err
	}
	etag, err := o.fs.put(ctx, o.fs.objectKey(o.path), data, o.contentType)
	if err != nil {
		return "", err
	}
	o.etag = etag
	o.size = int64(len(data))
	o.modified = time.Now()
	return etag, nil
}

func (o *Object) Size() int64 {
	return o.size
}

func (o *Object) ETag() string {
	return o.etag
}

func (o *Object) ContentType() string {
	return o.contentType
}

func (o *Object) LastModified() time.Time {
	return o.modified
}

func (o *Object) Delete(ctx context.Context) error {
	return o.fs.deleteKey(ctx, o.fs.objectKey(o.path))
}
