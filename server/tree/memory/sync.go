package memory

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strconv"
	"strings"

	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/storage"
	"github.com/cyp0633/libdav/server/tree"
)

func (d *Dir) SyncToken(ctx context.Context) (string, error) {
	seq, err := d.fs.changes.Current(ctx, d.Path())
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(seq, 10), nil
}

// Changes answers from the change log. An initial sync lists every current
// member and ignores limit.
func (d *Dir) Changes(ctx context.Context, token string, level dav.Depth, limit int) (*tree.ChangeSet, error) {
	p := d.Path()
	current, err := d.fs.changes.Current(ctx, p)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return d.snapshot(current, level), nil
	}

	since, err := strconv.ParseUint(token, 10, 64)
	if err != nil {
		return nil, tree.ErrInvalidSyncToken
	}
	changes, err := d.fs.changes.Since(ctx, p, since)
	if errors.Is(err, storage.ErrInvalidSequence) {
		return nil, tree.ErrInvalidSyncToken
	}
	if err != nil {
		return nil, err
	}

	type outcome struct {
		first, last storage.ChangeKind
		seq         uint64
	}
	byMember := make(map[string]*outcome)
	for _, c := range changes {
		if level == dav.DepthOne && strings.Contains(c.Member, "/") {
			continue
		}
		o, ok := byMember[c.Member]
		if !ok {
			o = &outcome{first: c.Kind}
			byMember[c.Member] = o
		}
		o.last = c.Kind
		o.seq = c.Seq
	}

	members := make([]string, 0, len(byMember))
	for m := range byMember {
		members = append(members, m)
	}
	slices.SortFunc(members, func(a, b string) int {
		return cmp.Compare(byMember[a].seq, byMember[b].seq)
	})

	cs := &tree.ChangeSet{Token: strconv.FormatUint(current, 10)}
	if limit > 0 && len(members) > limit {
		members = members[:limit]
		cs.Token = strconv.FormatUint(byMember[members[len(members)-1]].seq, 10)
		cs.Truncated = true
	}
	for _, m := range members {
		o := byMember[m]
		switch {
		case o.last == storage.ChangeDeleted:
			cs.Deleted = append(cs.Deleted, m)
		case o.first == storage.ChangeAdded:
			cs.Added = append(cs.Added, m)
		default:
			cs.Modified = append(cs.Modified, m)
		}
	}
	return cs, nil
}

func (d *Dir) snapshot(current uint64, level dav.Depth) *tree.ChangeSet {
	d.fs.mu.RLock()
	defer d.fs.mu.RUnlock()

	cs := &tree.ChangeSet{Token: strconv.FormatUint(current, 10)}
	base := d.e.path()
	d.e.walk(func(x *entry) {
		if x == d.e {
			return
		}
		member := strings.TrimPrefix(x.path()[len(base):], "/")
		if level == dav.DepthOne && strings.Contains(member, "/") {
			return
		}
		cs.Added = append(cs.Added, member)
	})
	return cs
}
