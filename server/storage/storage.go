// Package storage declares the persistence contracts the engine's plugins
// depend on. Backends live in sub-packages; the request engine never
// imports them directly.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/cyp0633/libdav/server/dav"
)

// LockBackend persists WebDAV locks. Please use the error types provided.
type LockBackend interface {
	// Locks returns the locks that apply to uri: locks on uri itself and
	// depth-infinity locks on its ancestors. With includeChildren, locks on
	// descendants of uri are returned too. Expired locks are never
	// returned and may be evicted during the lookup.
	Locks(ctx context.Context, uri string, includeChildren bool) ([]LockInfo, error)
	// Lock inserts a lock, or refreshes the lock with the same token. A
	// new lock is checked against the live locks with Conflicts and
	// refused with a *LockConflictError in the same step as the insert.
	Lock(ctx context.Context, uri string, info LockInfo) error
	// Unlock removes the lock with info.Token on uri. It reports whether a
	// lock was removed.
	Unlock(ctx context.Context, uri string, info LockInfo) (bool, error)
}

// PropertyBackend persists dead properties per path.
type PropertyBackend interface {
	// Properties returns every stored property of path. A path without
	// properties yields an empty map.
	Properties(ctx context.Context, path string) (map[dav.Name]dav.DeadValue, error)
	// PatchProperties stores set and deletes remove in one step.
	PatchProperties(ctx context.Context, path string, set map[dav.Name]dav.DeadValue, remove []dav.Name) error
	// DeleteProperties drops the properties of path and of everything below it.
	DeleteProperties(ctx context.Context, path string) error
	// MoveProperties re-keys the properties of src and its descendants to dst.
	MoveProperties(ctx context.Context, src, dst string) error
	// CopyProperties duplicates the properties of src and its descendants
	// under dst.
	CopyProperties(ctx context.Context, src, dst string) error
}

// ChangeLog is a per-collection journal of member changes, used to answer
// sync-collection reports.
type ChangeLog interface {
	// Record appends a change and returns the collection's new sequence.
	Record(ctx context.Context, collection, member string, kind ChangeKind) (uint64, error)
	// Current returns the collection's latest sequence, 0 when nothing was
	// recorded yet.
	Current(ctx context.Context, collection string) (uint64, error)
	// Since returns the changes after seq in recording order. A seq the
	// journal never issued yields ErrInvalidSequence.
	Since(ctx context.Context, collection string, seq uint64) ([]Change, error)
	// Drop forgets the journal of collection.
	Drop(ctx context.Context, collection string) error
}

var (
	// ErrNotFound is returned when a requested record doesn't exist
	ErrNotFound = errors.New("record not found")
	// ErrInvalidInput is returned when the input parameters are invalid
	ErrInvalidInput = errors.New("invalid input parameters")
	// ErrConflict is returned when there's a conflict with an existing record
	ErrConflict = errors.New("record conflict")
	// ErrInvalidSequence is returned for a change sequence the journal
	// cannot answer from
	ErrInvalidSequence = errors.New("invalid change sequence")
	// ErrStorageUnavailable is returned when the storage backend is unavailable
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// LockConflictError is returned by LockBackend.Lock when live locks keep
// a new lock from being taken. It matches ErrConflict.
type LockConflictError struct {
	Locks []LockInfo
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("%s: %d conflicting lock(s)", ErrConflict, len(e.Locks))
}

func (e *LockConflictError) Is(target error) bool {
	return target == ErrConflict
}
