// Package badger persists locks, dead properties and change journals in
// BadgerDB.
//
// Key namespace:
//
//	Data Type        Prefix  Key Format                     Value
//	Locks            "l:"    l:<token>                      LockInfo (JSON)
//	Lock guard       "lg:"   lg:                            empty, rewritten by every insert
//	Properties       "p:"    p:<path>                       map clark name -> DeadValue (JSON)
//	Change entries   "c:"    c:<collection>\x00<seq>        Change (JSON), seq big-endian
//	Change sequence  "cs:"   cs:<collection>                uint64 (binary)
//	Change floor     "cf:"   cf:<collection>                uint64 (binary)
package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/storage"
	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// Config contains configuration for creating a BadgerDB store.
type Config struct {
	// DBPath is the directory where BadgerDB will store its files
	DBPath string `mapstructure:"db_path" validate:"required_without=InMemory"`
	// InMemory keeps everything in memory, mostly for tests
	InMemory bool `mapstructure:"in_memory"`
	// BlockCacheSizeMB is BadgerDB's block cache size in MB (default: 64)
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb" validate:"gte=0"`
}

// Store implements the storage contracts on top of BadgerDB.
type Store struct {
	db  *badger.DB
	now func() time.Time
}

var (
	_ storage.LockBackend     = (*Store)(nil)
	_ storage.PropertyBackend = (*Store)(nil)
	_ storage.ChangeLog       = (*Store)(nil)
)

// New opens a store with the given configuration.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(cfg.DBPath)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None)
	blockCacheMB := cfg.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 64
	}
	opts = opts.WithBlockCacheSize(blockCacheMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.DBPath, err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SetClock replaces time.Now, mostly for lock expiry tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// keyLockGuard is read and written by every lock insert, so two inserts
// racing on the lock table conflict when the second commits.
var keyLockGuard = []byte("lg:")

// maxTxnRetries bounds the retries of a transaction that lost a commit
// race.
const maxTxnRetries = 16

// update runs fn in a read-write transaction and retries it when badger
// reports a conflicting concurrent commit.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	var err error
	for range maxTxnRetries {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func keyLock(token string) []byte {
	return []byte("l:" + token)
}

func keyProps(path string) []byte {
	return []byte("p:" + dav.CleanPath(path))
}

func keyChangePrefix(collection string) []byte {
	return []byte("c:" + dav.CleanPath(collection) + "\x00")
}

func keyChange(collection string, seq uint64) []byte {
	return binary.BigEndian.AppendUint64(keyChangePrefix(collection), seq)
}

func keySeq(collection string) []byte {
	return []byte("cs:" + dav.CleanPath(collection))
}

func keyFloor(collection string) []byte {
	return []byte("cf:" + dav.CleanPath(collection))
}

// getJSON decodes the value at key into v. It returns storage.ErrNotFound
// for a missing key.
func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return storage.ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

func getUint64(txn *badger.Txn, key []byte) (uint64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var n uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("invalid counter length: %d", len(val))
		}
		n = binary.BigEndian.Uint64(val)
		return nil
	})
	return n, err
}

func setUint64(txn *badger.Txn, key []byte, n uint64) error {
	return txn.Set(key, binary.BigEndian.AppendUint64(nil, n))
}

// scan visits every item under prefix.
func scan(txn *badger.Txn, prefix []byte, fn func(item *badger.Item) error) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = true
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		if err := fn(it.Item()); err != nil {
			return err
		}
	}
	return nil
}

// Lock operations

func (s *Store) Locks(ctx context.Context, uri string, includeChildren bool) ([]storage.LockInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []storage.LockInfo
	err := s.update(func(txn *badger.Txn) error {
		live, err := s.liveLocks(txn)
		if err != nil {
			return err
		}
		out = out[:0]
		for _, info := range live {
			if info.Covers(uri, includeChildren) {
				out = append(out, info)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list locks for %q: %w", uri, err)
	}
	return out, nil
}

// liveLocks reads every lock and deletes the expired ones.
func (s *Store) liveLocks(txn *badger.Txn) ([]storage.LockInfo, error) {
	now := s.now()
	var (
		live    []storage.LockInfo
		expired [][]byte
	)
	err := scan(txn, []byte("l:"), func(item *badger.Item) error {
		var info storage.LockInfo
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &info)
		}); err != nil {
			return err
		}
		if info.Expired(now) {
			expired = append(expired, item.KeyCopy(nil))
			return nil
		}
		live = append(live, info)
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, key := range expired {
		if err := txn.Delete(key); err != nil {
			return nil, err
		}
	}
	return live, nil
}

// Lock checks for conflicts and inserts in one transaction.
func (s *Store) Lock(ctx context.Context, uri string, info storage.LockInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if info.Token == "" {
		return storage.ErrInvalidInput
	}
	info.URI = dav.CleanPath(uri)
	if info.Created.IsZero() {
		info.Created = s.now()
	}
	return s.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(keyLockGuard); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		live, err := s.liveLocks(txn)
		if err != nil {
			return err
		}
		if conflicts := storage.Conflicts(live, info.URI, info); len(conflicts) > 0 {
			return &storage.LockConflictError{Locks: conflicts}
		}
		if err := setJSON(txn, keyLock(info.Token), info); err != nil {
			return err
		}
		return txn.Set(keyLockGuard, nil)
	})
}

func (s *Store) Unlock(ctx context.Context, uri string, info storage.LockInfo) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var removed bool
	err := s.db.Update(func(txn *badger.Txn) error {
		var existing storage.LockInfo
		err := getJSON(txn, keyLock(info.Token), &existing)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if existing.URI != dav.CleanPath(uri) {
			return nil
		}
		removed = true
		return txn.Delete(keyLock(info.Token))
	})
	return removed, err
}

// Property operations

type storedProps map[string]dav.DeadValue

func (p storedProps) decode() (map[dav.Name]dav.DeadValue, error) {
	out := make(map[dav.Name]dav.DeadValue, len(p))
	for k, v := range p {
		name, err := dav.ParseName(k)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

func (s *Store) Properties(ctx context.Context, path string) (map[dav.Name]dav.DeadValue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var stored storedProps
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, keyProps(path), &stored)
	})
	if errors.Is(err, storage.ErrNotFound) {
		return map[dav.Name]dav.DeadValue{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read properties of %q: %w", path, err)
	}
	return stored.decode()
}

func (s *Store) PatchProperties(ctx context.Context, path string, set map[dav.Name]dav.DeadValue, remove []dav.Name) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		stored := storedProps{}
		if err := getJSON(txn, keyProps(path), &stored); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		for n, v := range set {
			stored[n.String()] = v
		}
		for _, n := range remove {
			delete(stored, n.String())
		}
		if len(stored) == 0 {
			return txn.Delete(keyProps(path))
		}
		return setJSON(txn, keyProps(path), stored)
	})
}

// withinProps collects the property records of base and its descendants.
func withinProps(txn *badger.Txn, base string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := scan(txn, []byte("p:"), func(item *badger.Item) error {
		p := string(item.Key()[len("p:"):])
		if !dav.IsWithin(base, p) {
			return nil
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		out[p] = val
		return nil
	})
	return out, err
}

func (s *Store) DeleteProperties(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		records, err := withinProps(txn, path)
		if err != nil {
			return err
		}
		for p := range records {
			if err := txn.Delete(keyProps(p)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) MoveProperties(ctx context.Context, src, dst string) error {
	return s.transferProperties(ctx, src, dst, true)
}

func (s *Store) CopyProperties(ctx context.Context, src, dst string) error {
	return s.transferProperties(ctx, src, dst, false)
}

func (s *Store) transferProperties(ctx context.Context, src, dst string, move bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		records, err := withinProps(txn, src)
		if err != nil {
			return err
		}
		if move {
			for p := range records {
				if err := txn.Delete(keyProps(p)); err != nil {
					return err
				}
			}
		}
		for p, val := range records {
			if err := txn.Set(keyProps(dav.Rebase(p, src, dst)), val); err != nil {
				return err
			}
		}
		return nil
	})
}

// Change journal operations

func (s *Store) Record(ctx context.Context, collection, member string, kind storage.ChangeKind) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var seq uint64
	err := s.db.Update(func(txn *badger.Txn) error {
		cur, err := getUint64(txn, keySeq(collection))
		if err != nil {
			return err
		}
		seq = cur + 1
		if err := setUint64(txn, keySeq(collection), seq); err != nil {
			return err
		}
		return setJSON(txn, keyChange(collection, seq), storage.Change{Seq: seq, Member: member, Kind: kind})
	})
	if err != nil {
		return 0, fmt.Errorf("failed to record change in %q: %w", collection, err)
	}
	return seq, nil
}

func (s *Store) Current(ctx context.Context, collection string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var seq uint64
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		seq, err = getUint64(txn, keySeq(collection))
		return err
	})
	return seq, err
}

func (s *Store) Since(ctx context.Context, collection string, seq uint64) ([]storage.Change, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []storage.Change
	err := s.db.View(func(txn *badger.Txn) error {
		cur, err := getUint64(txn, keySeq(collection))
		if err != nil {
			return err
		}
		floor, err := getUint64(txn, keyFloor(collection))
		if err != nil {
			return err
		}
		if seq > cur || seq < floor {
			return storage.ErrInvalidSequence
		}
		return scan(txn, keyChangePrefix(collection), func(item *badger.Item) error {
			var c storage.Change
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &c)
			}); err != nil {
				return err
			}
			if c.Seq > seq {
				out = append(out, c)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Drop(ctx context.Context, collection string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		var keys [][]byte
		if err := scan(txn, keyChangePrefix(collection), func(item *badger.Item) error {
			keys = append(keys, item.KeyCopy(nil))
			return nil
		}); err != nil {
			return err
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		cur, err := getUint64(txn, keySeq(collection))
		if err != nil {
			return err
		}
		return setUint64(txn, keyFloor(collection), cur)
	})
}
