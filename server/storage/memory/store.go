// memory based implementation for testing purposes
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/storage"
)

// Store implements the storage contracts using in-memory maps
type Store struct {
	mu      sync.RWMutex
	locks   []storage.LockInfo
	props   map[string]map[dav.Name]dav.DeadValue // key: resource path
	changes map[string][]storage.Change           // key: collection path
	seq     map[string]uint64                     // key: collection path
	floor   map[string]uint64                     // oldest answerable seq after Drop
	now     func() time.Time
}

var (
	_ storage.LockBackend     = (*Store)(nil)
	_ storage.PropertyBackend = (*Store)(nil)
	_ storage.ChangeLog       = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, mostly for lock expiry tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a new in-memory storage
func New(opts ...Option) *Store {
	s := &Store{
		props:   make(map[string]map[dav.Name]dav.DeadValue),
		changes: make(map[string][]storage.Change),
		seq:     make(map[string]uint64),
		floor:   make(map[string]uint64),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Lock operations

func (s *Store) Locks(_ context.Context, uri string, includeChildren bool) ([]storage.LockInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictExpired()
	var out []storage.LockInfo
	for _, l := range s.locks {
		if l.Covers(uri, includeChildren) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *Store) Lock(_ context.Context, uri string, info storage.LockInfo) error {
	if info.Token == "" {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictExpired()
	info.URI = dav.CleanPath(uri)
	if info.Created.IsZero() {
		info.Created = s.now()
	}
	for i, l := range s.locks {
		if l.Token == info.Token {
			s.locks[i] = info
			return nil
		}
	}
	if conflicts := storage.Conflicts(s.locks, info.URI, info); len(conflicts) > 0 {
		return &storage.LockConflictError{Locks: conflicts}
	}
	s.locks = append(s.locks, info)
	return nil
}

func (s *Store) Unlock(_ context.Context, uri string, info storage.LockInfo) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	uri = dav.CleanPath(uri)
	for i, l := range s.locks {
		if l.Token == info.Token && l.URI == uri {
			s.locks = slices.Delete(s.locks, i, i+1)
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) evictExpired() {
	now := s.now()
	s.locks = slices.DeleteFunc(s.locks, func(l storage.LockInfo) bool {
		return l.Expired(now)
	})
}

// Property operations

func (s *Store) Properties(_ context.Context, path string) (map[dav.Name]dav.DeadValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	props, ok := s.props[dav.CleanPath(path)]
	if !ok {
		return map[dav.Name]dav.DeadValue{}, nil
	}
	return maps.Clone(props), nil
}

func (s *Store) PatchProperties(_ context.Context, path string, set map[dav.Name]dav.DeadValue, remove []dav.Name) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path = dav.CleanPath(path)
	props := s.props[path]
	if props == nil {
		props = make(map[dav.Name]dav.DeadValue, len(set))
	}
	maps.Copy(props, set)
	for _, n := range remove {
		delete(props, n)
	}
	if len(props) == 0 {
		delete(s.props, path)
		return nil
	}
	s.props[path] = props
	return nil
}

func (s *Store) DeleteProperties(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for p := range s.props {
		if dav.IsWithin(path, p) {
			delete(s.props, p)
		}
	}
	return nil
}

func (s *Store) MoveProperties(_ context.Context, src, dst string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	moved := make(map[string]map[dav.Name]dav.DeadValue)
	for p, props := range s.props {
		if dav.IsWithin(src, p) {
			moved[dav.Rebase(p, src, dst)] = props
			delete(s.props, p)
		}
	}
	maps.Copy(s.props, moved)
	return nil
}

func (s *Store) CopyProperties(_ context.Context, src, dst string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make(map[string]map[dav.Name]dav.DeadValue)
	for p, props := range s.props {
		if dav.IsWithin(src, p) {
			copied[dav.Rebase(p, src, dst)] = maps.Clone(props)
		}
	}
	maps.Copy(s.props, copied)
	return nil
}

// Change journal operations

func (s *Store) Record(_ context.Context, collection, member string, kind storage.ChangeKind) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	collection = dav.CleanPath(collection)
	s.seq[collection]++
	seq := s.seq[collection]
	s.changes[collection] = append(s.changes[collection], storage.Change{
		Seq:    seq,
		Member: member,
		Kind:   kind,
	})
	return seq, nil
}

func (s *Store) Current(_ context.Context, collection string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.seq[dav.CleanPath(collection)], nil
}

func (s *Store) Since(_ context.Context, collection string, seq uint64) ([]storage.Change, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	collection = dav.CleanPath(collection)
	if seq > s.seq[collection] || seq < s.floor[collection] {
		return nil, storage.ErrInvalidSequence
	}
	var out []storage.Change
	for _, c := range s.changes[collection] {
		if c.Seq > seq {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) Drop(_ context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	collection = dav.CleanPath(collection)
	delete(s.changes, collection)
	s.floor[collection] = s.seq[collection]
	return nil
}
