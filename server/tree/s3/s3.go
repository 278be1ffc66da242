// Package s3 is a node tree over an S3 bucket.
//
// Files are objects. A collection is a key prefix ending in "/", made
// visible while empty by a zero-length marker object with that key. The
// bucket mirrors the tree:
//
//	Prefix:  "libdav/"
//	Path:    "calendars/alice/home/event.ics"
//	Key:     "libdav/calendars/alice/home/event.ics"
//	Marker:  "libdav/calendars/alice/home/"
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/tree"
)

// Client is the part of *s3.Client the tree uses.
type Client interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

var _ Client = (*s3.Client)(nil)

// Config selects the bucket area the tree lives in.
type Config struct {
	Bucket string `mapstructure:"bucket" validate:"required"`
	// Prefix is prepended to every key. A trailing slash is added when
	// missing.
	Prefix string `mapstructure:"prefix"`
	// MaxObjectSize bounds a single upload. 0 means unbounded.
	MaxObjectSize int64 `mapstructure:"max_object_size"`
}

// FS is a tree stored in one bucket.
type FS struct {
	client  Client
	bucket  string
	prefix  string
	maxSize int64
}

// New verifies bucket access and returns the tree. The bucket must exist.
func New(ctx context.Context, client Client, cfg Config) (*FS, error) {
	if client == nil {
		return nil, errors.New("s3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}
	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &FS{client: client, bucket: cfg.Bucket, prefix: prefix, maxSize: cfg.MaxObjectSize}, nil
}

// Root returns the root collection.
func (fs *FS) Root() *Dir {
	return &Dir{fs: fs}
}

func (fs *FS) objectKey(p string) string {
	return fs.prefix + dav.CleanPath(p)
}

func (fs *FS) dirKey(p string) string {
	p = dav.CleanPath(p)
	if p == "" {
		return fs.prefix
	}
	return fs.prefix + p + "/"
}

func (fs *FS) head(ctx context.Context, key string) (*s3.HeadObjectOutput, error) {
	out, err := fs.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(fs.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to head object %s: %w", key, err)
	}
	return out, nil
}

// hasMembers reports whether any object lives below the collection key.
func (fs *FS) hasMembers(ctx context.Context, dirKey string) (bool, error) {
	out, err := fs.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(fs.bucket),
		Prefix:  aws.String(dirKey),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, fmt.Errorf("failed to list %s: %w", dirKey, err)
	}
	return len(out.Contents) > 0, nil
}

// lookup resolves one path to a node, or nil.
func (fs *FS) lookup(ctx context.Context, p string) (tree.Node, error) {
	p = dav.CleanPath(p)
	if p == "" {
		return fs.Root(), nil
	}
	if out, err := fs.head(ctx, fs.objectKey(p)); err != nil {
		return nil, err
	} else if out != nil {
		return newObject(fs, p, out), nil
	}
	marker, err := fs.head(ctx, fs.dirKey(p))
	if err != nil {
		return nil, err
	}
	if marker != nil {
		return &Dir{fs: fs, path: p}, nil
	}
	ok, err := fs.hasMembers(ctx, fs.dirKey(p))
	if err != nil || !ok {
		return nil, err
	}
	return &Dir{fs: fs, path: p}, nil
}

func (fs *FS) put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	in := &s3.PutObjectInput{
		Bucket:        aws.String(fs.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	out, err := fs.client.PutObject(ctx, in)
	if err != nil {
		return "", fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return aws.ToString(out.ETag), nil
}

func (fs *FS) deleteKey(ctx context.Context, key string) error {
	_, err := fs.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(fs.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

// deletePrefix removes every object whose key starts with prefix.
func (fs *FS) deletePrefix(ctx context.Context, prefix string) error {
	paginator := s3.NewListObjectsV2Paginator(fs.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(fs.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			if err := fs.deleteKey(ctx, aws.ToString(obj.Key)); err != nil {
				return err
			}
		}
	}
	return nil
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	return errors.As(err, &notFound) || errors.As(err, &noSuchKey)
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
		return dav.BadRequest("invalid member name %q", name)
	}
	return nil
}

var contentTypes = map[string]string{
	".ics": "text/calendar; charset=utf-8",
	".vcf": "text/vcard; charset=utf-8",
}

func contentTypeOf(name string) string {
	if ct, ok := contentTypes[path.Ext(name)]; ok {
		return ct
	}
	return "application/octet-stream"
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, dav.InsufficientStorage("object exceeds the limit of %d bytes", limit)
	}
	return data, nil
}
