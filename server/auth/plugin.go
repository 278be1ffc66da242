// Package auth authenticates requests with HTTP Basic credentials and sets
// the request principal.
package auth

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cyp0633/libdav/server"
	"github.com/cyp0633/libdav/server/dav"
)

// PriorityAuthenticate runs before access control.
const PriorityAuthenticate = 10

// Plugin is the authentication plugin.
type Plugin struct {
	srv       *server.Server
	logger    *slog.Logger
	auth      Authenticator
	realm     string
	prefix    string
	anonymous bool
}

var _ server.Plugin = (*Plugin)(nil)

// Option configures the plugin.
type Option func(*Plugin)

// WithRealm sets the Basic realm sent in challenges.
func WithRealm(realm string) Option {
	return func(p *Plugin) {
		if realm != "" {
			p.realm = realm
		}
	}
}

// WithPrincipalPrefix sets the collection principals live in. A user id
// is appended to it to form the principal path.
func WithPrincipalPrefix(prefix string) Option {
	return func(p *Plugin) {
		p.prefix = prefix
	}
}

// WithAnonymous lets requests without credentials through with no
// principal.
func WithAnonymous(allow bool) Option {
	return func(p *Plugin) {
		p.anonymous = allow
	}
}

// New creates the plugin.
func New(authenticator Authenticator, opts ...Option) *Plugin {
	p := &Plugin{
		auth:   authenticator,
		realm:  "libdav",
		prefix: "principals/",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Plugin) Name() string { return "auth" }

func (p *Plugin) Initialize(s *server.Server) error {
	p.srv = s
	p.logger = s.Logger().With("plugin", p.Name())
	s.OnBeforeMethod(PriorityAuthenticate, p.beforeMethod)
	return nil
}

// Challenge is the WWW-Authenticate value of 401 responses.
func (p *Plugin) Challenge() string {
	return `Basic realm="` + p.realm + `"`
}

// PrincipalPath maps a user id to its principal path.
func (p *Plugin) PrincipalPath(id string) string {
	return dav.CleanPath(p.prefix + id)
}

func (p *Plugin) beforeMethod(rc *server.RequestContext) (server.Result, error) {
	// Skip authentication for well-known paths
	if strings.HasPrefix(rc.Path, ".well-known/") {
		return server.Continue, nil
	}

	header := rc.Request.Header.Get("Authorization")
	if header == "" {
		if p.anonymous {
			return server.Continue, nil
		}
		return server.StopChain, dav.NotAuthenticated(p.Challenge(), "authentication required")
	}

	creds, err := parseBasicAuth(header)
	if err != nil {
		p.logger.Info("malformed credentials",
			"path", rc.Path,
			"error", err)
		return server.StopChain, dav.NotAuthenticated(p.Challenge(), "malformed credentials")
	}

	principal, err := p.auth.Authenticate(rc.Context(), creds)
	if err != nil && !IsInvalidCredentials(err) {
		return server.StopChain, fmt.Errorf("authenticate %s: %w", creds.Username, err)
	}
	if err != nil {
		p.logger.Info("authentication failed",
			"username", creds.Username,
			"path", rc.Path)
		return server.StopChain, dav.NotAuthenticated(p.Challenge(), "invalid username or password")
	}

	rc.Principal = p.PrincipalPath(principal.ID)
	p.logger.Debug("authenticated",
		"principal", rc.Principal,
		"method", rc.Method())
	return server.Continue, nil
}

// parseBasicAuth parses an HTTP Basic Authentication string
func parseBasicAuth(auth string) (Credentials, error) {
	const prefix = "Basic "
	if len(auth) < len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return Credentials{}, &Error{
			Type:    ErrInvalidCredentials,
			Message: "invalid authorization header format",
		}
	}

	encoded := auth[len(prefix):]
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Credentials{}, &Error{
			Type:    ErrInvalidCredentials,
			Message: "invalid base64 encoding",
			Err:     err,
		}
	}

	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return Credentials{}, &Error{
			Type:    ErrInvalidCredentials,
			Message: "invalid credentials format",
		}
	}

	return Credentials{
		Username: username,
		Password: password,
	}, nil
}
