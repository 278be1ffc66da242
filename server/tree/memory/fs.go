// Package memory is an in-memory node tree, for tests and the example
// server.
package memory

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"maps"
	"mime"
	"path"
	"slices"
	"sync"
	"time"

	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/storage"
	storemem "github.com/cyp0633/libdav/server/storage/memory"
)

// NativeProperties are the properties collections keep themselves. Other
// properties are left for a property storage plugin.
var NativeProperties = []dav.Name{
	dav.PropDisplayName,
	dav.N(dav.NSCalDAV, "calendar-description"),
	dav.N(dav.NSCalDAV, "calendar-timezone"),
	dav.N(dav.NSCalDAV, "supported-calendar-component-set"),
	dav.N(dav.NSAppleICal, "calendar-color"),
	dav.N(dav.NSAppleICal, "calendar-order"),
	dav.N(dav.NSCardDAV, "addressbook-description"),
}

// SupportedResourceTypes are the resource types extended MKCOL accepts
// besides {DAV:}collection.
var SupportedResourceTypes = []dav.Name{
	dav.N(dav.NSCalDAV, "calendar"),
	dav.N(dav.NSCardDAV, "addressbook"),
}

type entry struct {
	name     string
	parent   *entry
	isDir    bool
	children map[string]*entry

	data        []byte
	etag        string
	contentType string

	created      time.Time
	modified     time.Time
	props        map[dav.Name]dav.Value
	resourceType []dav.Name
	owner        string
	acl          []dav.ACE
}

func (e *entry) path() string {
	if e.parent == nil {
		return ""
	}
	return dav.JoinPath(e.parent.path(), e.name)
}

// walk visits e and every descendant, parents first.
func (e *entry) walk(fn func(*entry)) {
	fn(e)
	for _, name := range slices.Sorted(maps.Keys(e.children)) {
		e.children[name].walk(fn)
	}
}

func (e *entry) size() int64 {
	var n int64
	e.walk(func(x *entry) { n += int64(len(x.data)) })
	return n
}

// FS is an in-memory tree. All nodes share one lock.
type FS struct {
	mu       sync.RWMutex
	root     *entry
	changes  storage.ChangeLog
	capacity int64
	now      func() time.Time
}

// Option configures an FS.
type Option func(*FS)

// WithChangeLog records member changes in log instead of a private
// in-memory journal.
func WithChangeLog(log storage.ChangeLog) Option {
	return func(fs *FS) {
		fs.changes = log
	}
}

// WithCapacity bounds the total size of file bodies. 0 means unbounded.
func WithCapacity(bytes int64) Option {
	return func(fs *FS) {
		fs.capacity = bytes
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(fs *FS) {
		fs.now = now
	}
}

// New creates an empty tree.
func New(opts ...Option) *FS {
	fs := &FS{now: time.Now}
	for _, opt := range opts {
		opt(fs)
	}
	if fs.changes == nil {
		fs.changes = storemem.New()
	}
	now := fs.now()
	fs.root = &entry{isDir: true, children: map[string]*entry{}, created: now, modified: now}
	return fs
}

// Root returns the root collection.
func (fs *FS) Root() *Dir {
	return &Dir{node{fs: fs, e: fs.root}}
}

// lookup finds the entry at p. Callers hold fs.mu.
func (fs *FS) lookup(p string) *entry {
	e := fs.root
	for _, seg := range dav.Segments(p) {
		if !e.isDir {
			return nil
		}
		child, ok := e.children[seg]
		if !ok {
			return nil
		}
		e = child
	}
	return e
}

// MkdirAll creates the collection at p and any missing parents. The last
// collection gets the extra resource types.
func (fs *FS) MkdirAll(ctx context.Context, p string, resourceType ...dav.Name) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	e := fs.root
	segments := dav.Segments(p)
	for _, seg := range segments {
		child, ok := e.children[seg]
		if !ok {
			var err error
			child, err = fs.addEntry(ctx, e, seg, true, nil)
			if err != nil {
				return err
			}
		} else if !child.isDir {
			return dav.Conflict("/%s is not a collection", child.path())
		}
		e = child
	}
	if len(resourceType) > 0 {
		e.resourceType = slices.Clone(resourceType)
	}
	return nil
}

// WriteFile creates or replaces the file at p. The parent must exist.
func (fs *FS) WriteFile(ctx context.Context, p string, data []byte) error {
	parent, name := dav.SplitPath(p)
	fs.mu.Lock()
	defer fs.mu.Unlock()

	dir := fs.lookup(parent)
	if dir == nil || !dir.isDir {
		return dav.Conflict("parent collection /%s does not exist", parent)
	}
	if existing, ok := dir.children[name]; ok {
		if existing.isDir {
			return dav.MethodNotAllowed("/" + existing.path() + " is a collection")
		}
		return fs.setData(ctx, existing, data)
	}
	_, err := fs.addEntry(ctx, dir, name, false, data)
	return err
}

// SetOwner sets the owner principal of the node at p.
func (fs *FS) SetOwner(p, owner string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	e := fs.lookup(p)
	if e == nil {
		return dav.NotFound("/%s not found", dav.CleanPath(p))
	}
	e.owner = owner
	return nil
}

// SetACL replaces the access control list of the node at p.
func (fs *FS) SetACL(p string, aces []dav.ACE) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	e := fs.lookup(p)
	if e == nil {
		return dav.NotFound("/%s not found", dav.CleanPath(p))
	}
	e.acl = slices.Clone(aces)
	return nil
}

// addEntry creates a member of dir and journals it. Callers hold fs.mu.
func (fs *FS) addEntry(ctx context.Context, dir *entry, name string, isDir bool, data []byte) (*entry, error) {
	if name == "" || name == "." || name == ".." {
		return nil, dav.BadRequest("invalid member name %q", name)
	}
	if _, exists := dir.children[name]; exists {
		return nil, dav.MethodNotAllowed("/" + dav.JoinPath(dir.path(), name) + " already exists")
	}
	if !isDir {
		if err := fs.checkCapacity(int64(len(data))); err != nil {
			return nil, err
		}
	}
	now := fs.now()
	e := &entry{
		name:     name,
		parent:   dir,
		isDir:    isDir,
		created:  now,
		modified: now,
	}
	if isDir {
		e.children = map[string]*entry{}
	} else {
		e.data = bytes.Clone(data)
		e.etag = etagOf(data)
		e.contentType = contentTypeOf(name)
	}
	dir.children[name] = e
	dir.modified = now
	if err := fs.journal(ctx, e, storage.ChangeAdded); err != nil {
		return nil, err
	}
	return e, nil
}

// setData replaces a file body. Callers hold fs.mu.
func (fs *FS) setData(ctx context.Context, e *entry, data []byte) error {
	if err := fs.checkCapacity(int64(len(data)) - int64(len(e.data))); err != nil {
		return err
	}
	e.data = bytes.Clone(data)
	e.etag = etagOf(data)
	e.modified = fs.now()
	return fs.journal(ctx, e, storage.ChangeModified)
}

// remove detaches e from its parent and journals every removed entry.
// Callers hold fs.mu.
func (fs *FS) remove(ctx context.Context, e *entry) error {
	var removed []*entry
	e.walk(func(x *entry) { removed = append(removed, x) })
	for _, x := range removed {
		if err := fs.journal(ctx, x, storage.ChangeDeleted); err != nil {
			return err
		}
	}
	for _, x := range removed {
		if x.isDir {
			if err := fs.changes.Drop(ctx, x.path()); err != nil {
				return err
			}
		}
	}
	delete(e.parent.children, e.name)
	e.parent.modified = fs.now()
	return nil
}

// attach moves e below dir under name and journals the move as a delete
// of the old members and an addition of the new ones. Callers hold fs.mu.
func (fs *FS) attach(ctx context.Context, e, dir *entry, name string) error {
	if _, exists := dir.children[name]; exists {
		return dav.MethodNotAllowed("/" + dav.JoinPath(dir.path(), name) + " already exists")
	}
	for a := dir; a != nil; a = a.parent {
		if a == e {
			return dav.Conflict("cannot move a collection into itself")
		}
	}
	if err := fs.remove(ctx, e); err != nil {
		return err
	}
	e.name = name
	e.parent = dir
	dir.children[name] = e
	dir.modified = fs.now()
	var added []*entry
	e.walk(func(x *entry) { added = append(added, x) })
	for _, x := range added {
		if err := fs.journal(ctx, x, storage.ChangeAdded); err != nil {
			return err
		}
	}
	return nil
}

// journal records a change of e in every ancestor collection.
func (fs *FS) journal(ctx context.Context, e *entry, kind storage.ChangeKind) error {
	p := e.path()
	for a := e.parent; a != nil; a = a.parent {
		member := p[len(a.path()):]
		if a.parent != nil {
			member = member[1:]
		}
		if _, err := fs.changes.Record(ctx, a.path(), member, kind); err != nil {
			return err
		}
	}
	return nil
}

func (fs *FS) checkCapacity(delta int64) error {
	if fs.capacity <= 0 || delta <= 0 {
		return nil
	}
	if fs.root.size()+delta > fs.capacity {
		return dav.InsufficientStorage("quota of %d bytes exceeded", fs.capacity)
	}
	return nil
}

func etagOf(data []byte) string {
	hash := sha1.Sum(data)
	return `"` + hex.EncodeToString(hash[:]) + `"`
}

var contentTypes = map[string]string{
	".ics":  "text/calendar; charset=utf-8",
	".vcf":  "text/vcard; charset=utf-8",
	".txt":  "text/plain; charset=utf-8",
	".html": "text/html; charset=utf-8",
}

func contentTypeOf(name string) string {
	ext := path.Ext(name)
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
