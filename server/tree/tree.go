package tree

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/cyp0633/libdav/server/dav"
)

// Tree resolves paths against a root collection and orchestrates the
// structural operations. It does not cache nodes; every call walks from the
// root.
type Tree struct {
	root Collection
}

// New creates a tree over root.
func New(root Collection) *Tree {
	return &Tree{root: root}
}

// Root returns the root collection.
func (t *Tree) Root() Collection {
	return t.root
}

// Resolve returns the node at path. A missing node is dav.ErrNotFound; a
// file used as a collection along the way is dav.ErrMethodNotAllowed.
func (t *Tree) Resolve(ctx context.Context, path string) (Node, error) {
	var node Node = t.root
	segments := dav.Segments(path)
	for i, seg := range segments {
		coll, ok := node.(Collection)
		if !ok {
			return nil, dav.MethodNotAllowed(fmt.Sprintf("/%s is not a collection", dav.JoinPath(segments[:i]...)))
		}
		child, err := coll.Child(ctx, seg)
		if err != nil {
			return nil, err
		}
		node = child
	}
	return node, nil
}

// ResolveCollection resolves path and requires a collection. A missing
// node or a file is dav.ErrConflict, as used for the parent of a new
// member.
func (t *Tree) ResolveCollection(ctx context.Context, path string) (Collection, error) {
	node, err := t.Resolve(ctx, path)
	if errors.Is(err, dav.ErrNotFound) || errors.Is(err, dav.ErrMethodNotAllowed) {
		return nil, dav.Conflict("parent collection /%s does not exist", dav.CleanPath(path))
	}
	if err != nil {
		return nil, err
	}
	coll, ok := node.(Collection)
	if !ok {
		return nil, dav.Conflict("/%s is not a collection", dav.CleanPath(path))
	}
	return coll, nil
}

// Exists reports whether a node lives at path.
func (t *Tree) Exists(ctx context.Context, path string) (bool, error) {
	_, err := t.Resolve(ctx, path)
	if errors.Is(err, dav.ErrNotFound) || errors.Is(err, dav.ErrMethodNotAllowed) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Children returns the members of the collection at path.
func (t *Tree) Children(ctx context.Context, path string) ([]Node, error) {
	node, err := t.Resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	coll, ok := node.(Collection)
	if !ok {
		return nil, nil
	}
	return coll.Children(ctx)
}

// Nodes resolves several paths at once. Paths are grouped per parent and
// resolved with MultiGet when the parent supports it. Missing paths are
// left out of the result.
func (t *Tree) Nodes(ctx context.Context, paths []string) (map[string]Node, error) {
	out := make(map[string]Node, len(paths))
	byParent := make(map[string][]string)
	for _, p := range paths {
		p = dav.CleanPath(p)
		if p == "" {
			out[""] = t.root
			continue
		}
		parent, name := dav.SplitPath(p)
		byParent[parent] = append(byParent[parent], name)
	}

	parents := make([]string, 0, len(byParent))
	for parent := range byParent {
		parents = append(parents, parent)
	}
	sort.Strings(parents)

	for _, parent := range parents {
		names := byParent[parent]
		node, err := t.Resolve(ctx, parent)
		if errors.Is(err, dav.ErrNotFound) || errors.Is(err, dav.ErrMethodNotAllowed) {
			continue
		}
		if err != nil {
			return nil, err
		}
		coll, ok := node.(Collection)
		if !ok {
			continue
		}
		if mg, ok := coll.(MultiGet); ok {
			children, err := mg.MultipleChildren(ctx, names)
			if err != nil {
				return nil, err
			}
			for _, c := range children {
				out[dav.JoinPath(parent, c.Name())] = c
			}
			continue
		}
		for _, name := range names {
			child, err := coll.Child(ctx, name)
			if errors.Is(err, dav.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			out[dav.JoinPath(parent, name)] = child
		}
	}
	return out, nil
}

// Delete removes the node at path. The node must be Deletable.
func (t *Tree) Delete(ctx context.Context, path string) error {
	if dav.CleanPath(path) == "" {
		return dav.Forbidden("the root collection cannot be deleted")
	}
	node, err := t.Resolve(ctx, path)
	if err != nil {
		return err
	}
	d, ok := node.(Deletable)
	if !ok {
		return dav.Forbidden("/%s cannot be deleted", dav.CleanPath(path))
	}
	return d.Delete(ctx)
}

// Move relocates src to dst. The destination must not exist. The
// destination parent's NativeMover is tried first, then a rename when both
// paths share a parent, then a recursive copy followed by a delete.
func (t *Tree) Move(ctx context.Context, src, dst string) error {
	src, dst = dav.CleanPath(src), dav.CleanPath(dst)
	srcParent, _ := dav.SplitPath(src)
	dstParent, dstName := dav.SplitPath(dst)

	node, err := t.Resolve(ctx, src)
	if err != nil {
		return err
	}
	target, err := t.ResolveCollection(ctx, dstParent)
	if err != nil {
		return err
	}

	if mover, ok := target.(NativeMover); ok {
		moved, err := mover.MoveInto(ctx, dstName, src, node)
		if err != nil {
			return err
		}
		if moved {
			return nil
		}
	}
	if r, ok := node.(Renamable); ok && srcParent == dstParent {
		return r.SetName(ctx, dstName)
	}
	if err := t.copyNode(ctx, node, target, dstName, true); err != nil {
		return err
	}
	return t.Delete(ctx, src)
}

// Copy duplicates src, recursively for collections, to dst. The
// destination must not exist.
func (t *Tree) Copy(ctx context.Context, src, dst string) error {
	return t.CopyDepth(ctx, src, dst, dav.DepthInfinity)
}

// CopyDepth is Copy with a depth. DepthZero copies a collection with its
// properties but without members.
func (t *Tree) CopyDepth(ctx context.Context, src, dst string, depth dav.Depth) error {
	src, dst = dav.CleanPath(src), dav.CleanPath(dst)
	dstParent, dstName := dav.SplitPath(dst)

	node, err := t.Resolve(ctx, src)
	if err != nil {
		return err
	}
	target, err := t.ResolveCollection(ctx, dstParent)
	if err != nil {
		return err
	}
	recursive := depth != dav.DepthZero
	if copier, ok := target.(NativeCopier); ok && (recursive || !IsCollection(node)) {
		copied, err := copier.CopyInto(ctx, dstName, src, node)
		if err != nil {
			return err
		}
		if copied {
			return nil
		}
	}
	return t.copyNode(ctx, node, target, dstName, recursive)
}

func (t *Tree) copyNode(ctx context.Context, source Node, parent Collection, name string, recursive bool) error {
	switch src := source.(type) {
	case File:
		body, err := src.Open(ctx)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", src.Name(), err)
		}
		_, err = parent.CreateFile(ctx, name, body)
		body.Close()
		if err != nil {
			return err
		}
	case Collection:
		extra := extraResourceType(src)
		if ext, ok := parent.(ExtendedCollection); ok && len(extra) > 0 {
			pp := dav.NewPropPatch(name, nil)
			if err := ext.CreateExtendedCollection(ctx, name, extra, pp); err != nil {
				return err
			}
			if err := commitCopy(pp); err != nil {
				return err
			}
		} else if err := parent.CreateCollection(ctx, name); err != nil {
			return err
		}
	default:
		return dav.Forbidden("cannot copy %s", source.Name())
	}

	created, err := parent.Child(ctx, name)
	if err != nil {
		return err
	}
	if err := copyProperties(ctx, source, created); err != nil {
		return err
	}

	srcColl, ok := source.(Collection)
	if !ok || !recursive {
		return nil
	}
	dstColl, ok := created.(Collection)
	if !ok {
		return fmt.Errorf("copy of collection %s is not a collection", name)
	}
	children, err := srcColl.Children(ctx)
	if err != nil {
		return err
	}
	for _, c := range children {
		if err := t.copyNode(ctx, c, dstColl, c.Name(), true); err != nil {
			return err
		}
	}
	return nil
}

func extraResourceType(n Node) []dav.Name {
	var out []dav.Name
	for _, name := range ResourceTypeOf(n) {
		if name != dav.ElemCollection {
			out = append(out, name)
		}
	}
	return out
}

// copyProperties carries the stored properties of src over to dst when
// both keep their own properties.
func copyProperties(ctx context.Context, src, dst Node) error {
	from, ok := src.(Properties)
	if !ok {
		return nil
	}
	to, ok := dst.(Properties)
	if !ok {
		return nil
	}
	props, err := from.PropertiesOf(ctx, nil)
	if err != nil {
		return err
	}
	if len(props) == 0 {
		return nil
	}
	names := make([]dav.Name, 0, len(props))
	for n := range props {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i].String() < names[j].String() })
	muts := make([]dav.Mutation, 0, len(names))
	for _, n := range names {
		muts = append(muts, dav.Set(n, props[n]))
	}
	pp := dav.NewPropPatch(dst.Name(), muts)
	to.PatchProperties(ctx, pp)
	return commitCopy(pp)
}

// commitCopy settles a property transaction of a copy and reports the
// properties the destination refused.
func commitCopy(pp *dav.PropPatch) error {
	if pp.Commit() {
		return nil
	}
	var refused []string
	for _, ps := range pp.Results() {
		if ps.Status >= 300 {
			refused = append(refused, ps.Name.String())
		}
	}
	if err := errors.Join(pp.Errors()...); err != nil {
		return fmt.Errorf("failed to copy properties %v to %s: %w", refused, pp.Path(), err)
	}
	return fmt.Errorf("failed to copy properties %v to %s", refused, pp.Path())
}
