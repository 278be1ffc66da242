package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cyp0633/libdav/server/caldav"
	"github.com/cyp0633/libdav/server/carddav"
	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/storage"
	"github.com/cyp0633/libdav/server/storage/badger"
	storemem "github.com/cyp0633/libdav/server/storage/memory"
	"github.com/cyp0633/libdav/server/tree"
	memtree "github.com/cyp0633/libdav/server/tree/memory"
	s3tree "github.com/cyp0633/libdav/server/tree/s3"
	"github.com/mitchellh/mapstructure"
)

// Backend is what a storage backend provides to the plugins.
type Backend interface {
	storage.LockBackend
	storage.PropertyBackend
	storage.ChangeLog
}

// CreateStorage creates the storage backend selected by cfg.Type.
//
// Supported types:
//   - "memory": in-process maps, lost on restart
//   - "badger": BadgerDB, options decoded into badger.Config
func CreateStorage(ctx context.Context, cfg *StorageConfig) (Backend, error) {
	switch cfg.Type {
	case "memory":
		return storemem.New(), nil
	case "badger":
		return createBadgerStorage(ctx, cfg.Badger)
	default:
		return nil, fmt.Errorf("unknown storage type: %q", cfg.Type)
	}
}

func createBadgerStorage(ctx context.Context, options map[string]any) (Backend, error) {
	var storeCfg badger.Config
	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode badger storage config: %w", err)
	}
	if err := validate.Struct(storeCfg); err != nil {
		return nil, fmt.Errorf("badger storage: %w", formatValidationError(err))
	}
	store, err := badger.New(ctx, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create badger storage: %w", err)
	}
	return store, nil
}

// CreateTree creates the node tree selected by cfg.Type and the
// collections cfg lists. The memory tree journals changes into changes.
//
// Supported types:
//   - "memory": in-process tree, options: capacity (bytes)
//   - "s3": S3 bucket, options: bucket, prefix, region, endpoint,
//     access_key_id, secret_access_key, use_path_style, max_retries,
//     max_object_size
func CreateTree(ctx context.Context, cfg *TreeConfig, changes storage.ChangeLog) (tree.Collection, error) {
	var root tree.Collection
	var err error
	switch cfg.Type {
	case "memory":
		root, err = createMemoryTree(cfg.Memory, changes)
	case "s3":
		root, err = createS3Tree(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown tree type: %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	if err := ensureCollections(ctx, root, cfg.Collections); err != nil {
		return nil, err
	}
	return root, nil
}

func createMemoryTree(options map[string]any, changes storage.ChangeLog) (tree.Collection, error) {
	type MemoryTreeConfig struct {
		Capacity int64 `mapstructure:"capacity"`
	}

	var treeCfg MemoryTreeConfig
	if err := mapstructure.Decode(options, &treeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode memory tree config: %w", err)
	}
	if treeCfg.Capacity < 0 {
		return nil, errors.New("memory tree: capacity must not be negative")
	}
	opts := []memtree.Option{memtree.WithCapacity(treeCfg.Capacity)}
	if changes != nil {
		opts = append(opts, memtree.WithChangeLog(changes))
	}
	return memtree.New(opts...).Root(), nil
}

// S3TreeConfig is the option map of the s3 tree.
type S3TreeConfig struct {
	s3tree.Config `mapstructure:",squash"`

	Region          string `mapstructure:"region" validate:"required"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
	MaxRetries      int    `mapstructure:"max_retries" validate:"gte=0"`
}

func createS3Tree(ctx context.Context, options map[string]any) (tree.Collection, error) {
	var treeCfg S3TreeConfig
	if err := mapstructure.Decode(options, &treeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode s3 tree config: %w", err)
	}
	if err := validate.Struct(treeCfg); err != nil {
		return nil, fmt.Errorf("s3 tree: %w", formatValidationError(err))
	}

	client, err := NewS3Client(ctx, treeCfg)
	if err != nil {
		return nil, err
	}
	fs, err := s3tree.New(ctx, client, treeCfg.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 tree: %w", err)
	}
	return fs.Root(), nil
}

// NewS3Client builds an S3 client. Without static credentials the
// default credential chain is used.
func NewS3Client(ctx context.Context, cfg S3TreeConfig) (*s3.Client, error) {
	configOptions := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.AddWithMaxAttempts(retry.NewStandard(), maxRetries)
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			// MinIO, Localstack and friends
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// ensureCollections creates the configured collections and their missing
// ancestors.
func ensureCollections(ctx context.Context, root tree.Collection, collections []CollectionConfig) error {
	t := tree.New(root)
	for _, c := range collections {
		segs := dav.Segments(c.Path)
		for i := range segs {
			p := dav.JoinPath(segs[:i+1]...)
			exists, err := t.Exists(ctx, p)
			if err != nil {
				return err
			}
			if exists {
				continue
			}
			parent, err := t.ResolveCollection(ctx, dav.JoinPath(segs[:i]...))
			if err != nil {
				return err
			}
			last := i == len(segs)-1
			if !last || c.Type == "collection" {
				if err := parent.CreateCollection(ctx, segs[i]); err != nil {
					return fmt.Errorf("failed to create /%s: %w", p, err)
				}
				continue
			}
			ext, ok := parent.(tree.ExtendedCollection)
			if !ok {
				return fmt.Errorf("tree cannot hold %s collections", c.Type)
			}
			if err := ext.CreateExtendedCollection(ctx, segs[i], resourceTypeOf(c.Type), dav.NewPropPatch(p, nil)); err != nil {
				return fmt.Errorf("failed to create /%s: %w", p, err)
			}
		}
	}
	return nil
}

func resourceTypeOf(kind string) []dav.Name {
	switch kind {
	case "calendar":
		return []dav.Name{caldav.ResourceTypeCalendar}
	case "addressbook":
		return []dav.Name{carddav.ResourceTypeAddressBook}
	}
	return nil
}

// NewLogger builds the process logger. The returned closer releases a log
// file and is a no-op for stdout and stderr.
func NewLogger(cfg LoggingConfig) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var out io.Writer
	var closer io.Closer = nopCloser{}
	switch cfg.Output {
	case "stdout", "":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out, closer = f, f
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	default:
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
