package acl

import (
	"context"

	"github.com/cyp0633/libdav/server/dav"
)

// Node is a node keeping its own access control list. Nodes that do not
// implement it inherit the list of their nearest ancestor that does.
type Node interface {
	// ACL returns the node's own entries, without inherited ones.
	ACL() []dav.ACE
	// SetACL replaces the node's entries.
	SetACL(ctx context.Context, aces []dav.ACE) error
}

// Owned nodes have an owner principal, matched by {DAV:}owner entries.
type Owned interface {
	Owner() string
}

// PrincipalBackend resolves group memberships of principals. Principals
// and groups are principal paths relative to the server base.
type PrincipalBackend interface {
	GroupMemberships(ctx context.Context, principal string) ([]string, error)
}
