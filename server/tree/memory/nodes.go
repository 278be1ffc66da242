package memory

import (
	"bytes"
	"context"
	"io"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/tree"
)

var (
	_ tree.Collection         = (*Dir)(nil)
	_ tree.Deletable          = (*Dir)(nil)
	_ tree.Renamable          = (*Dir)(nil)
	_ tree.Modified           = (*Dir)(nil)
	_ tree.Quota              = (*Dir)(nil)
	_ tree.MultiGet           = (*Dir)(nil)
	_ tree.Properties         = (*Dir)(nil)
	_ tree.NativeMover        = (*Dir)(nil)
	_ tree.ExtendedCollection = (*Dir)(nil)
	_ tree.ResourceTyper      = (*Dir)(nil)
	_ tree.SyncCollection     = (*Dir)(nil)

	_ tree.File      = (*File)(nil)
	_ tree.Deletable = (*File)(nil)
	_ tree.Renamable = (*File)(nil)
	_ tree.Modified  = (*File)(nil)
)

// node is the part Dir and File share.
type node struct {
	fs *FS
	e  *entry
}

func (n node) Name() string {
	return n.e.name
}

// Path returns the node's path in the tree.
func (n node) Path() string {
	n.fs.mu.RLock()
	defer n.fs.mu.RUnlock()
	return n.e.path()
}

func (n node) LastModified() time.Time {
	n.fs.mu.RLock()
	defer n.fs.mu.RUnlock()
	return n.e.modified
}

// CreationDate returns when the node was created.
func (n node) CreationDate() time.Time {
	return n.e.created
}

func (n node) Delete(ctx context.Context) error {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()
	if n.e.parent == nil {
		return dav.Forbidden("the root collection cannot be deleted")
	}
	if n.e.parent.children[n.e.name] != n.e {
		return dav.NotFound("/%s no longer exists", n.e.path())
	}
	return n.fs.remove(ctx, n.e)
}

func (n node) SetName(ctx context.Context, name string) error {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()
	if n.e.parent == nil {
		return dav.Forbidden("the root collection cannot be renamed")
	}
	return n.fs.attach(ctx, n.e, n.e.parent, name)
}

// Owner returns the principal owning the node, or "".
func (n node) Owner() string {
	n.fs.mu.RLock()
	defer n.fs.mu.RUnlock()
	return n.e.owner
}

// ACL returns the node's own access control entries.
func (n node) ACL() []dav.ACE {
	n.fs.mu.RLock()
	defer n.fs.mu.RUnlock()
	return slices.Clone(n.e.acl)
}

// SetACL replaces the node's access control entries.
func (n node) SetACL(_ context.Context, aces []dav.ACE) error {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()
	n.e.acl = slices.Clone(aces)
	return nil
}

// Dir is a collection.
type Dir struct {
	node
}

func (d *Dir) wrap(e *entry) tree.Node {
	if e.isDir {
		return &Dir{node{fs: d.fs, e: e}}
	}
	return &File{node{fs: d.fs, e: e}}
}

func (d *Dir) Children(_ context.Context) ([]tree.Node, error) {
	d.fs.mu.RLock()
	defer d.fs.mu.RUnlock()

	names := slices.Sorted(maps.Keys(d.e.children))
	out := make([]tree.Node, 0, len(names))
	for _, name := range names {
		out = append(out, d.wrap(d.e.children[name]))
	}
	return out, nil
}

func (d *Dir) Child(_ context.Context, name string) (tree.Node, error) {
	d.fs.mu.RLock()
	defer d.fs.mu.RUnlock()

	e, ok := d.e.children[name]
	if !ok {
		return nil, dav.NotFound("/%s not found", dav.JoinPath(d.e.path(), name))
	}
	return d.wrap(e), nil
}

func (d *Dir) MultipleChildren(_ context.Context, names []string) ([]tree.Node, error) {
	d.fs.mu.RLock()
	defer d.fs.mu.RUnlock()

	var out []tree.Node
	for _, name := range names {
		if e, ok := d.e.children[name]; ok {
			out = append(out, d.wrap(e))
		}
	}
	return out, nil
}

func (d *Dir) CreateFile(ctx context.Context, name string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()

	e, err := d.fs.addEntry(ctx, d.e, name, false, data)
	if err != nil {
		return "", err
	}
	return e.etag, nil
}

func (d *Dir) CreateCollection(ctx context.Context, name string) error {
	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()

	_, err := d.fs.addEntry(ctx, d.e, name, true, nil)
	return err
}

func (d *Dir) CreateExtendedCollection(ctx context.Context, name string, resourceType []dav.Name, pp *dav.PropPatch) error {
	var extra []dav.Name
	for _, rt := range resourceType {
		if rt == dav.ElemCollection {
			continue
		}
		if !slices.Contains(SupportedResourceTypes, rt) {
			return dav.ForbiddenCondition(dav.CondValidResourceType, "resource type %s is not supported", rt)
		}
		extra = append(extra, rt)
	}

	d.fs.mu.Lock()
	e, err := d.fs.addEntry(ctx, d.e, name, true, nil)
	if err == nil {
		e.resourceType = extra
	}
	d.fs.mu.Unlock()
	if err != nil {
		return err
	}

	created := &Dir{node{fs: d.fs, e: e}}
	created.PatchProperties(ctx, pp)
	return nil
}

func (d *Dir) ResourceType() []dav.Name {
	d.fs.mu.RLock()
	defer d.fs.mu.RUnlock()
	return slices.Clone(d.e.resourceType)
}

func (d *Dir) QuotaInfo(_ context.Context) (used, available int64, err error) {
	d.fs.mu.RLock()
	defer d.fs.mu.RUnlock()

	used = d.e.size()
	if d.fs.capacity <= 0 {
		return used, -1, nil
	}
	return used, max(d.fs.capacity-d.fs.root.size(), 0), nil
}

func (d *Dir) PropertiesOf(_ context.Context, names []dav.Name) (map[dav.Name]dav.Value, error) {
	d.fs.mu.RLock()
	defer d.fs.mu.RUnlock()

	if names == nil {
		return maps.Clone(d.e.props), nil
	}
	out := make(map[dav.Name]dav.Value, len(names))
	for _, n := range names {
		if v, ok := d.e.props[n]; ok {
			out[n] = v
		}
	}
	return out, nil
}

// PatchProperties claims the native collection properties.
func (d *Dir) PatchProperties(_ context.Context, pp *dav.PropPatch) {
	pp.Claim(NativeProperties, func(muts []dav.Mutation) (map[dav.Name]int, error) {
		d.fs.mu.Lock()
		defer d.fs.mu.Unlock()

		if d.e.props == nil {
			d.e.props = make(map[dav.Name]dav.Value)
		}
		statuses := make(map[dav.Name]int, len(muts))
		for _, m := range muts {
			if v, ok := m.Value.Get(); ok {
				d.e.props[m.Name] = v
			} else {
				delete(d.e.props, m.Name)
			}
			statuses[m.Name] = http.StatusOK
		}
		d.e.modified = d.fs.now()
		return statuses, nil
	})
}

// MoveInto moves nodes of the same tree by relinking them.
func (d *Dir) MoveInto(ctx context.Context, name, _ string, source tree.Node) (bool, error) {
	var e *entry
	switch src := source.(type) {
	case *Dir:
		if src.fs != d.fs {
			return false, nil
		}
		e = src.e
	case *File:
		if src.fs != d.fs {
			return false, nil
		}
		e = src.e
	default:
		return false, nil
	}
	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()
	if err := d.fs.attach(ctx, e, d.e, name); err != nil {
		return false, err
	}
	return true, nil
}

// File is a resource with a body.
type File struct {
	node
}

func (f *File) Open(_ context.Context) (io.ReadCloser, error) {
	f.fs.mu.RLock()
	defer f.fs.mu.RUnlock()
	return io.NopCloser(bytes.NewReader(bytes.Clone(f.e.data))), nil
}

func (f *File) Write(ctx context.Context, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	if err := f.fs.setData(ctx, f.e, data); err != nil {
		return "", err
	}
	return f.e.etag, nil
}

func (f *File) Size() int64 {
	f.fs.mu.RLock()
	defer f.fs.mu.RUnlock()
	return int64(len(f.e.data))
}

func (f *File) ETag() string {
	f.fs.mu.RLock()
	defer f.fs.mu.RUnlock()
	return f.e.etag
}

func (f *File) ContentType() string {
	f.fs.mu.RLock()
	defer f.fs.mu.RUnlock()
	return f.e.contentType
}
