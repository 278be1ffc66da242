package storage

import (
	"context"

	"github.com/cyp0633/libdav/server/dav"
	"github.com/stretchr/testify/mock"
)

// MockLockBackend implements the LockBackend interface for testing
type MockLockBackend struct {
	mock.Mock
}

var _ LockBackend = (*MockLockBackend)(nil)

func (m *MockLockBackend) Locks(ctx context.Context, uri string, includeChildren bool) ([]LockInfo, error) {
	args := m.Called(ctx, uri, includeChildren)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]LockInfo), args.Error(1)
}

func (m *MockLockBackend) Lock(ctx context.Context, uri string, info LockInfo) error {
	args := m.Called(ctx, uri, info)
	return args.Error(0)
}

func (m *MockLockBackend) Unlock(ctx context.Context, uri string, info LockInfo) (bool, error) {
	args := m.Called(ctx, uri, info)
	return args.Bool(0), args.Error(1)
}

// MockPropertyBackend implements the PropertyBackend interface for testing
type MockPropertyBackend struct {
	mock.Mock
}

var _ PropertyBackend = (*MockPropertyBackend)(nil)

func (m *MockPropertyBackend) Properties(ctx context.Context, path string) (map[dav.Name]dav.DeadValue, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[dav.Name]dav.DeadValue), args.Error(1)
}

func (m *MockPropertyBackend) PatchProperties(ctx context.Context, path string, set map[dav.Name]dav.DeadValue, remove []dav.Name) error {
	args := m.Called(ctx, path, set, remove)
	return args.Error(0)
}

func (m *MockPropertyBackend) DeleteProperties(ctx context.Context, path string) error {
	args := m.Called(ctx, path)
	return args.Error(0)
}

func (m *MockPropertyBackend) MoveProperties(ctx context.Context, src, dst string) error {
	args := m.Called(ctx, src, dst)
	return args.Error(0)
}

func (m *MockPropertyBackend) CopyProperties(ctx context.Context, src, dst string) error {
	args := m.Called(ctx, src, dst)
	return args.Error(0)
}

// MockChangeLog implements the ChangeLog interface for testing
type MockChangeLog struct {
	mock.Mock
}

var _ ChangeLog = (*MockChangeLog)(nil)

func (m *MockChangeLog) Record(ctx context.Context, collection, member string, kind ChangeKind) (uint64, error) {
	args := m.Called(ctx, collection, member, kind)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockChangeLog) Current(ctx context.Context, collection string) (uint64, error) {
	args := m.Called(ctx, collection)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockChangeLog) Since(ctx context.Context, collection string, seq uint64) ([]Change, error) {
	args := m.Called(ctx, collection, seq)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Change), args.Error(1)
}

func (m *MockChangeLog) Drop(ctx context.Context, collection string) error {
	args := m.Called(ctx, collection)
	return args.Error(0)
}
