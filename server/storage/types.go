package storage

import (
	"fmt"
	"time"

	"github.com/cyp0633/libdav/server/dav"
)

// LockScope is exclusive or shared.
type LockScope int

const (
	LockExclusive LockScope = iota
	LockShared
)

// String returns the element name of the scope.
func (s LockScope) String() string {
	switch s {
	case LockExclusive:
		return "exclusive"
	case LockShared:
		return "shared"
	default:
		return "unknown"
	}
}

// LockInfo describes one lock.
type LockInfo struct {
	// Token is the opaque lock token, e.g. "opaquelocktoken:<uuid>".
	Token string `json:"token"`
	// Owner is the owner the client supplied, as an XML fragment.
	Owner string `json:"owner,omitempty"`
	// Principal is the principal that created the lock, if any.
	Principal string    `json:"principal,omitempty"`
	Scope     LockScope `json:"scope"`
	// Depth is DepthZero or DepthInfinity.
	Depth dav.Depth `json:"depth"`
	// URI is the root of the lock, as a tree path.
	URI     string        `json:"uri"`
	Timeout time.Duration `json:"timeout"`
	Created time.Time     `json:"created"`
}

// Expires returns the moment the lock stops being valid.
func (l LockInfo) Expires() time.Time {
	return l.Created.Add(l.Timeout)
}

// Expired reports whether the lock is no longer valid at now.
func (l LockInfo) Expired(now time.Time) bool {
	return now.After(l.Expires())
}

// Covers reports whether the lock applies to path, with children counting
// when includeChildren is set.
func (l LockInfo) Covers(path string, includeChildren bool) bool {
	switch {
	case dav.CleanPath(l.URI) == dav.CleanPath(path):
		return true
	case l.Depth != dav.DepthZero && dav.IsAncestor(l.URI, path):
		return true
	case includeChildren && dav.IsAncestor(path, l.URI):
		return true
	}
	return false
}

// Conflicts returns the locks of existing that a new lock on uri cannot
// coexist with. Locks covering uri conflict when either side is
// exclusive; a depth-infinity lock also meets the locks below uri. A lock
// with the token of info is a refresh and never conflicts.
func Conflicts(existing []LockInfo, uri string, info LockInfo) []LockInfo {
	var out []LockInfo
	for _, l := range existing {
		if l.Token == info.Token {
			continue
		}
		if !l.Covers(uri, info.Depth == dav.DepthInfinity) {
			continue
		}
		if l.Scope == LockExclusive || info.Scope == LockExclusive {
			out = append(out, l)
		}
	}
	return out
}

func (l LockInfo) String() string {
	return fmt.Sprintf("%s lock %s on /%s (depth %s)", l.Scope, l.Token, l.URI, l.Depth)
}

// ChangeKind classifies a journal entry.
type ChangeKind int

const (
	ChangeAdded ChangeKind = iota + 1
	ChangeModified
	ChangeDeleted
)

// String provides a human-readable representation of the ChangeKind.
func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "added"
	case ChangeModified:
		return "modified"
	case ChangeDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Change is one journal entry. Member is relative to the collection.
type Change struct {
	Seq    uint64     `json:"seq"`
	Member string     `json:"member"`
	Kind   ChangeKind `json:"kind"`
}
