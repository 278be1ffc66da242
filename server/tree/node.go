// Package tree defines the node capabilities a storage backend exposes to
// the request engine and the Tree that resolves paths against them.
//
// A node advertises what it can do by implementing the interfaces below;
// the engine discovers capabilities with type assertions. Backends assert
// conformance at compile time:
//
//	var _ tree.Collection = (*Dir)(nil)
package tree

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/cyp0633/libdav/server/dav"
)

// ErrInvalidSyncToken is returned by SyncCollection.Changes for a token the
// collection cannot answer from.
var ErrInvalidSyncToken = errors.New("invalid sync token")

// Node is any resource in the tree.
type Node interface {
	// Name is the last path segment. The root's name is "".
	Name() string
}

// File is a resource with a body.
type File interface {
	Node
	Open(ctx context.Context) (io.ReadCloser, error)
	// Write replaces the body and returns the new entity tag, or "" when
	// the backend cannot tell it without another read.
	Write(ctx context.Context, r io.Reader) (string, error)
	Size() int64
	// ETag returns a quoted entity tag, or "".
	ETag() string
	ContentType() string
}

// Collection is a resource with members.
type Collection interface {
	Node
	Children(ctx context.Context) ([]Node, error)
	// Child returns a *dav.Error matching dav.ErrNotFound for a missing member.
	Child(ctx context.Context, name string) (Node, error)
	// CreateFile creates a member from r and returns its entity tag.
	CreateFile(ctx context.Context, name string, r io.Reader) (string, error)
	CreateCollection(ctx context.Context, name string) error
}

// Deletable nodes can be removed, recursively for collections.
type Deletable interface {
	Delete(ctx context.Context) error
}

// Renamable nodes can change their name within the same parent.
type Renamable interface {
	SetName(ctx context.Context, name string) error
}

// Modified nodes know their last modification time.
type Modified interface {
	LastModified() time.Time
}

// Quota collections report used and available bytes.
type Quota interface {
	QuotaInfo(ctx context.Context) (used, available int64, err error)
}

// MultiGet collections resolve several members in one call. Missing
// members are left out of the result.
type MultiGet interface {
	MultipleChildren(ctx context.Context, names []string) ([]Node, error)
}

// Properties nodes keep their own properties. PropertiesOf with nil names
// returns every stored property; PatchProperties claims the names it
// handles in pp.
type Properties interface {
	PropertiesOf(ctx context.Context, names []dav.Name) (map[dav.Name]dav.Value, error)
	PatchProperties(ctx context.Context, pp *dav.PropPatch)
}

// NativeMover collections can move a node into themselves without a copy.
// They return false to fall back to the generic strategy.
type NativeMover interface {
	MoveInto(ctx context.Context, name, sourcePath string, source Node) (bool, error)
}

// NativeCopier collections can copy a node into themselves. They return
// false to fall back to the generic strategy.
type NativeCopier interface {
	CopyInto(ctx context.Context, name, sourcePath string, source Node) (bool, error)
}

// ExtendedCollection collections create members with a resource type and
// initial properties (RFC 5689). The implementation claims the properties
// it stores in pp.
type ExtendedCollection interface {
	CreateExtendedCollection(ctx context.Context, name string, resourceType []dav.Name, pp *dav.PropPatch) error
}

// ResourceTyper nodes report resource type elements beyond
// {DAV:}collection.
type ResourceTyper interface {
	ResourceType() []dav.Name
}

// SyncCollection collections take part in sync-collection reports.
type SyncCollection interface {
	Collection
	// SyncToken returns the current token, without any URI prefix.
	SyncToken(ctx context.Context) (string, error)
	// Changes returns member changes since token. An empty token returns
	// every current member as added. level is DepthOne or DepthInfinity;
	// limit 0 means unbounded.
	Changes(ctx context.Context, token string, level dav.Depth, limit int) (*ChangeSet, error)
}

// ChangeSet is the answer to SyncCollection.Changes. Member paths are
// relative to the collection.
type ChangeSet struct {
	Token     string
	Added     []string
	Modified  []string
	Deleted   []string
	Truncated bool
}

// IsCollection reports whether n has members.
func IsCollection(n Node) bool {
	_, ok := n.(Collection)
	return ok
}

// ResourceTypeOf returns the resource type elements of n.
func ResourceTypeOf(n Node) dav.ResourceType {
	var rt dav.ResourceType
	if IsCollection(n) {
		rt = append(rt, dav.ElemCollection)
	}
	if t, ok := n.(ResourceTyper); ok {
		for _, name := range t.ResourceType() {
			if !rt.Has(name) {
				rt = append(rt, name)
			}
		}
	}
	return rt
}
