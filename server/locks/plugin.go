// Package locks implements WebDAV write locks (RFC 4918 sections 6 and
// 9.10) as a server plugin. Locks are kept in a storage.LockBackend.
package locks

import (
	"context"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cyp0633/libdav/server"
	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/storage"
)

const (
	// DefaultTimeout applies when the client sends no Timeout header.
	DefaultTimeout = 30 * time.Minute
	// MaxTimeout bounds every lock, "Infinite" included.
	MaxTimeout = 24 * time.Hour

	tokenPrefix = "opaquelocktoken:"
)

// Plugin is the locking plugin.
type Plugin struct {
	backend        storage.LockBackend
	srv            *server.Server
	logger         *slog.Logger
	defaultTimeout time.Duration
	maxTimeout     time.Duration
	now            func() time.Time
}

var (
	_ server.Plugin          = (*Plugin)(nil)
	_ server.FeatureProvider = (*Plugin)(nil)
	_ server.MethodProvider  = (*Plugin)(nil)
)

// Option configures the plugin.
type Option func(*Plugin)

// WithTimeouts sets the default and the maximum lock timeout.
func WithTimeouts(def, max time.Duration) Option {
	return func(p *Plugin) {
		if def > 0 {
			p.defaultTimeout = def
		}
		if max > 0 {
			p.maxTimeout = max
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Plugin) {
		p.now = now
	}
}

// New creates the plugin on top of backend.
func New(backend storage.LockBackend, opts ...Option) *Plugin {
	p := &Plugin{
		backend:        backend,
		defaultTimeout: DefaultTimeout,
		maxTimeout:     MaxTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.defaultTimeout > p.maxTimeout {
		p.defaultTimeout = p.maxTimeout
	}
	return p
}

func (p *Plugin) Name() string { return "locks" }

func (p *Plugin) Features() []string { return []string{"2"} }

func (p *Plugin) HTTPMethods(string) []string { return []string{"LOCK", "UNLOCK"} }

func (p *Plugin) Initialize(s *server.Server) error {
	p.srv = s
	p.logger = s.Logger().With("plugin", p.Name())
	s.AddProtected(dav.PropLockDiscovery, dav.PropSupportedLock)
	s.OnMethod("LOCK", server.DefaultPriority, p.httpLock)
	s.OnMethod("UNLOCK", server.DefaultPriority, p.httpUnlock)
	s.OnValidateTokens(server.DefaultPriority, p.validateTokens)
	s.OnPropFind(server.DefaultPriority, p.propFind)
	s.OnAfterUnbind(server.DefaultPriority, p.afterUnbind)
	return nil
}

// Locks returns the locks applying to path.
func (p *Plugin) Locks(ctx context.Context, path string, includeChildren bool) ([]storage.LockInfo, error) {
	return p.backend.Locks(ctx, path, includeChildren)
}

// timeout parses a Timeout header (RFC 4918 section 10.7). The first
// usable entry wins.
func (p *Plugin) timeout(h string) time.Duration {
	maxSeconds := int64(p.maxTimeout / time.Second)
	for _, part := range strings.Split(h, ",") {
		part = strings.TrimSpace(part)
		switch {
		case strings.EqualFold(part, "Infinite"):
			return p.maxTimeout
		case len(part) > 7 && strings.EqualFold(part[:7], "Second-"):
			n, err := strconv.ParseInt(part[7:], 10, 64)
			if err != nil || n <= 0 {
				continue
			}
			if n >= maxSeconds {
				return p.maxTimeout
			}
			return time.Duration(n) * time.Second
		}
	}
	return p.defaultTimeout
}

// href renders the lock root of uri, with a trailing slash for
// collections.
func (p *Plugin) href(ctx context.Context, uri string) string {
	if n, err := p.srv.Tree().Resolve(ctx, uri); err == nil {
		return p.srv.HrefOf(uri, n)
	}
	return p.srv.Href(uri, false)
}

func (p *Plugin) hrefs(ctx context.Context, locks []storage.LockInfo) []string {
	out := make([]string, 0, len(locks))
	for _, l := range locks {
		h := p.href(ctx, l.URI)
		if !slices.Contains(out, h) {
			out = append(out, h)
		}
	}
	return out
}

func indexToken(locks []storage.LockInfo, token string) int {
	return slices.IndexFunc(locks, func(l storage.LockInfo) bool {
		return l.Token == token
	})
}

func (p *Plugin) afterUnbind(rc *server.RequestContext, path string) error {
	ctx := rc.Context()
	locks, err := p.backend.Locks(ctx, path, true)
	if err != nil {
		return err
	}
	for _, l := range locks {
		if !dav.IsWithin(path, l.URI) {
			continue
		}
		if _, err := p.backend.Unlock(ctx, l.URI, l); err != nil {
			return err
		}
		p.logger.Debug("lock dropped with its resource",
			"path", l.URI,
			"token", l.Token)
	}
	return nil
}
