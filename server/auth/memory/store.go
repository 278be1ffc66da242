// Package memory is an in-memory user and group directory. It
// authenticates Basic credentials and answers group memberships for
// access control.
package memory

import (
	"context"
	"crypto/subtle"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/cyp0633/libdav/server/acl"
	"github.com/cyp0633/libdav/server/auth"
	"github.com/cyp0633/libdav/server/dav"
	"gopkg.in/yaml.v3"
)

// User represents a user in the memory store
type User struct {
	Username string   `yaml:"username"`
	Password string   `yaml:"password"` // In production this should be hashed
	Groups   []string `yaml:"groups,omitempty"`
}

// Group is a named set of principals. Groups may be members of other
// groups.
type Group struct {
	Name   string   `yaml:"name"`
	Groups []string `yaml:"groups,omitempty"`
}

// File is the YAML layout read by Load.
type File struct {
	Users  []User  `yaml:"users"`
	Groups []Group `yaml:"groups,omitempty"`
}

// Store implements an in-memory authentication store
type Store struct {
	mu     sync.RWMutex
	users  map[string]User  // map[username]User
	groups map[string]Group // map[name]Group
	prefix string
	logger *slog.Logger
}

var (
	_ auth.Authenticator   = (*Store)(nil)
	_ acl.PrincipalBackend = (*Store)(nil)
)

// New creates a new in-memory authentication store
func New(opts ...Option) *Store {
	s := &Store{
		users:  make(map[string]User),
		groups: make(map[string]Group),
		prefix: "principals/",
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	// Apply options
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Option represents a configuration option for the Store
type Option func(*Store)

// WithLogger sets the logger for the store
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPrincipalPrefix must match the prefix of the auth plugin.
func WithPrincipalPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// Load reads users and groups from a YAML file.
func Load(path string, opts ...Option) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read principals: %w", err)
	}
	s := New(opts...)
	if err := s.Decode(data); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return s, nil
}

// Decode adds the users and groups of a YAML document.
func (s *Store) Decode(data []byte) error {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return err
	}
	for _, g := range f.Groups {
		if err := s.AddGroup(g.Name, g.Groups...); err != nil {
			return err
		}
	}
	for _, u := range f.Users {
		if err := s.AddUser(u.Username, u.Password, u.Groups...); err != nil {
			return err
		}
	}
	return nil
}

// AddUser adds a new user to the store
func (s *Store) AddUser(username, password string, groups ...string) error {
	if username == "" || strings.Contains(username, "/") {
		return fmt.Errorf("invalid username: %q", username)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[username]; exists {
		s.logger.Warn("failed to add user: already exists",
			"username", username)
		return fmt.Errorf("user already exists: %s", username)
	}
	if _, exists := s.groups[username]; exists {
		return fmt.Errorf("name taken by a group: %s", username)
	}

	s.users[username] = User{
		Username: username,
		Password: password,
		Groups:   slices.Clone(groups),
	}

	s.logger.Info("user added successfully",
		"username", username)

	return nil
}

// AddGroup adds a group, itself a member of groups.
func (s *Store) AddGroup(name string, groups ...string) error {
	if name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("invalid group name: %q", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.groups[name]; exists {
		return fmt.Errorf("group already exists: %s", name)
	}
	if _, exists := s.users[name]; exists {
		return fmt.Errorf("name taken by a user: %s", name)
	}
	s.groups[name] = Group{Name: name, Groups: slices.Clone(groups)}
	return nil
}

// Authenticate implements auth.Authenticator
func (s *Store) Authenticate(ctx context.Context, creds auth.Credentials) (*auth.Principal, error) {
	s.mu.RLock()
	user, exists := s.users[creds.Username]
	s.mu.RUnlock()

	if !exists {
		s.logger.Info("authentication failed: user not found",
			"username", creds.Username)
		return nil, &auth.Error{
			Type:    auth.ErrInvalidCredentials,
			Message: "invalid username or password",
		}
	}

	// Constant-time comparison to prevent timing attacks
	if subtle.ConstantTimeCompare([]byte(user.Password), []byte(creds.Password)) != 1 {
		s.logger.Info("authentication failed: invalid password",
			"username", creds.Username)
		return nil, &auth.Error{
			Type:    auth.ErrInvalidCredentials,
			Message: "invalid username or password",
		}
	}

	s.logger.Debug("authentication successful",
		"username", creds.Username)

	return &auth.Principal{ID: creds.Username}, nil
}

// GroupMemberships implements acl.PrincipalBackend. It returns the direct
// groups of a user or group principal.
func (s *Store) GroupMemberships(_ context.Context, principal string) ([]string, error) {
	name, ok := strings.CutPrefix(dav.CleanPath(principal), dav.CleanPath(s.prefix)+"/")
	if !ok {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var groups []string
	if u, ok := s.users[name]; ok {
		groups = u.Groups
	} else if g, ok := s.groups[name]; ok {
		groups = g.Groups
	}
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		out = append(out, dav.CleanPath(s.prefix+g))
	}
	return out, nil
}

// Principals lists the names of every user and group.
func (s *Store) Principals() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.users)+len(s.groups))
	for name := range s.users {
		out = append(out, name)
	}
	for name := range s.groups {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}
