package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/cyp0633/libdav/server"
	"github.com/cyp0633/libdav/server/acl"
	"github.com/cyp0633/libdav/server/auth"
	authmem "github.com/cyp0633/libdav/server/auth/memory"
	"github.com/cyp0633/libdav/server/caldav"
	"github.com/cyp0633/libdav/server/carddav"
	"github.com/cyp0633/libdav/server/davsync"
	"github.com/cyp0633/libdav/server/locks"
	"github.com/cyp0633/libdav/server/metrics"
	"github.com/cyp0633/libdav/server/propstore"
)

// Instance is a server assembled from a Config.
type Instance struct {
	Server  *server.Server
	Logger  *slog.Logger
	Backend Backend
	// Metrics is nil unless metrics are enabled.
	Metrics *metrics.Plugin

	closers []io.Closer
}

// Close releases the storage backend and the log file.
func (i *Instance) Close() error {
	var errs []error
	for _, c := range i.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Build creates the logger, storage, tree and plugins cfg describes and
// wires them into a server.
func Build(ctx context.Context, cfg *Config) (*Instance, error) {
	logger, logCloser, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	inst := &Instance{Logger: logger, closers: []io.Closer{logCloser}}

	backend, err := CreateStorage(ctx, &cfg.Storage)
	if err != nil {
		return nil, errors.Join(err, inst.Close())
	}
	inst.Backend = backend
	if c, ok := backend.(io.Closer); ok {
		inst.closers = append([]io.Closer{c}, inst.closers...)
	}

	root, err := CreateTree(ctx, &cfg.Tree, backend)
	if err != nil {
		return nil, errors.Join(err, inst.Close())
	}

	plugins, m, err := CreatePlugins(cfg, backend, logger)
	if err != nil {
		return nil, errors.Join(err, inst.Close())
	}
	inst.Metrics = m

	srv, err := server.New(root,
		server.WithBaseURI(cfg.Server.BaseURI),
		server.WithLogger(logger),
		server.WithInfiniteDepth(cfg.Server.InfiniteDepth),
		server.WithPlugins(plugins...))
	if err != nil {
		return nil, errors.Join(err, inst.Close())
	}
	inst.Server = srv

	logger.Info("server configured",
		"storage", cfg.Storage.Type,
		"tree", cfg.Tree.Type,
		"plugins", len(plugins))
	return inst, nil
}

// CreatePlugins builds the enabled plugins in registration order. Dead
// properties are always stored in backend.
func CreatePlugins(cfg *Config, backend Backend, logger *slog.Logger) ([]server.Plugin, *metrics.Plugin, error) {
	var plugins []server.Plugin

	var m *metrics.Plugin
	if cfg.Metrics.Enabled {
		m = metrics.New()
		plugins = append(plugins, m)
	}

	var principals *authmem.Store
	if cfg.Auth.Enabled {
		var err error
		principals, err = authmem.Load(cfg.Auth.PrincipalsFile,
			authmem.WithLogger(logger),
			authmem.WithPrincipalPrefix(cfg.Auth.PrincipalPrefix))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load principals: %w", err)
		}
		plugins = append(plugins, auth.New(principals,
			auth.WithRealm(cfg.Auth.Realm),
			auth.WithPrincipalPrefix(cfg.Auth.PrincipalPrefix),
			auth.WithAnonymous(cfg.Auth.Anonymous)))
	}

	if cfg.ACL.Enabled {
		opts := []acl.Option{acl.WithAdmins(cfg.ACL.Admins...)}
		if principals != nil {
			opts = append(opts,
				acl.WithPrincipalBackend(principals),
				acl.WithPrincipalCollections(cfg.Auth.PrincipalPrefix))
		}
		plugins = append(plugins, acl.New(opts...))
	}

	if cfg.Locks.Enabled {
		plugins = append(plugins, locks.New(backend,
			locks.WithTimeouts(cfg.Locks.DefaultTimeout, cfg.Locks.MaxTimeout)))
	}

	plugins = append(plugins, propstore.New(backend))

	if cfg.CalDAV.Enabled {
		plugins = append(plugins, caldav.New(caldav.WithMaxResourceSize(cfg.CalDAV.MaxResourceSize)))
	}
	if cfg.CardDAV.Enabled {
		plugins = append(plugins, carddav.New(carddav.WithMaxResourceSize(cfg.CardDAV.MaxResourceSize)))
	}
	if cfg.Sync.Enabled {
		plugins = append(plugins, davsync.New())
	}
	return plugins, m, nil
}
