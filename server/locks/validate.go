package locks

import (
	"net/http"

	"github.com/cyp0633/libdav/server"
	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/storage"
)

// requirement is a set of locks of which the request must submit one
// token.
type requirement struct {
	locks []storage.LockInfo
	met   bool
}

// requirements collects what a request must submit. Shared locks rooted
// at the same path form one requirement; every other lock is its own.
type requirements struct {
	groups []*requirement
	shared map[string]*requirement
	seen   map[string]bool
}

func newRequirements() *requirements {
	return &requirements{
		shared: make(map[string]*requirement),
		seen:   make(map[string]bool),
	}
}

// add records the locks found for path. Locks below path, met when
// deleting or moving a subtree, each need their own token.
func (q *requirements) add(path string, locks []storage.LockInfo) {
	for _, l := range locks {
		if q.seen[l.Token] {
			continue
		}
		q.seen[l.Token] = true
		if l.Scope == storage.LockShared && !dav.IsAncestor(path, l.URI) {
			root := dav.CleanPath(l.URI)
			if r, ok := q.shared[root]; ok {
				r.locks = append(r.locks, l)
				continue
			}
			r := &requirement{locks: []storage.LockInfo{l}}
			q.shared[root] = r
			q.groups = append(q.groups, r)
			continue
		}
		q.groups = append(q.groups, &requirement{locks: []storage.LockInfo{l}})
	}
}

// satisfy marks the requirement holding token as met.
func (q *requirements) satisfy(token string) bool {
	for _, r := range q.groups {
		if indexToken(r.locks, token) >= 0 {
			r.met = true
			return true
		}
	}
	return false
}

// unmet returns the locks of every requirement no token satisfied.
func (q *requirements) unmet() []storage.LockInfo {
	var out []storage.LockInfo
	for _, r := range q.groups {
		if !r.met {
			out = append(out, r.locks...)
		}
	}
	return out
}

// validateTokens marks If header tokens of live locks valid and refuses
// the request when a lock it must hold was not submitted.
func (p *Plugin) validateTokens(rc *server.RequestContext, conds []*server.IfCondition) error {
	rc.SetValue(condsKey{}, conds)
	required, err := p.requiredLocks(rc)
	if err != nil {
		return err
	}
	ctx := rc.Context()

	if rc.Method() == "LOCK" {
		// A refresh checks its token itself, and a new lock conflicts
		// regardless of the submitted tokens.
		for _, it := range server.Tokens(conds) {
			it.Valid = true
			required.satisfy(it.Token)
		}
	} else {
		for _, c := range conds {
			if c.External {
				continue
			}
			var present []storage.LockInfo
			for _, l := range c.Lists {
				for _, it := range l.Items {
					if it.Token == "" {
						continue
					}
					if required.satisfy(it.Token) {
						it.Valid = true
						continue
					}
					if present == nil {
						if present, err = p.backend.Locks(ctx, c.Path, false); err != nil {
							return err
						}
					}
					if indexToken(present, it.Token) >= 0 {
						it.Valid = true
					}
				}
			}
		}
	}

	if missing := required.unmet(); len(missing) > 0 {
		p.logger.Info("lock token missing",
			"method", rc.Method(),
			"path", rc.Path,
			"locks", len(missing))
		return dav.Locked(p.hrefs(ctx, missing)...)
	}
	return nil
}

// requiredLocks gathers the locks the request modifies. Adding or
// removing a member also needs the depth-0 lock of its collection
// (RFC 4918 section 7.4).
func (p *Plugin) requiredLocks(rc *server.RequestContext) (*requirements, error) {
	ctx := rc.Context()
	q := newRequirements()
	add := func(path string, includeChildren bool) error {
		locks, err := p.backend.Locks(ctx, path, includeChildren)
		if err != nil {
			return err
		}
		q.add(path, locks)
		return nil
	}
	addParent := func(path string) error {
		if dav.CleanPath(path) == "" {
			return nil
		}
		parent, _ := dav.SplitPath(path)
		locks, err := p.backend.Locks(ctx, parent, false)
		if err != nil {
			return err
		}
		var shallow []storage.LockInfo
		for _, l := range locks {
			if l.Depth == dav.DepthZero && dav.CleanPath(l.URI) == parent {
				shallow = append(shallow, l)
			}
		}
		q.add(parent, shallow)
		return nil
	}
	isNew := func(path string) (bool, error) {
		exists, err := p.srv.Tree().Exists(ctx, path)
		return !exists, err
	}
	member := func(path string, includeChildren bool) error {
		if err := add(path, includeChildren); err != nil {
			return err
		}
		return addParent(path)
	}

	var err error
	switch rc.Method() {
	case http.MethodDelete:
		err = member(rc.Path, true)
	case "MOVE":
		if err = member(rc.Path, true); err == nil {
			if dst, derr := rc.Destination(); derr == nil {
				err = member(dst, false)
			}
		}
	case "COPY":
		if dst, derr := rc.Destination(); derr == nil {
			err = member(dst, false)
		}
	case "PROPPATCH":
		err = add(rc.Path, false)
	case http.MethodPut, "MKCOL", "MKCALENDAR":
		if err = add(rc.Path, false); err != nil {
			break
		}
		var created bool
		if created, err = isNew(rc.Path); err == nil && created {
			err = addParent(rc.Path)
		}
	case "LOCK":
		var created bool
		if created, err = isNew(rc.Path); err == nil && created {
			err = addParent(rc.Path)
		}
	}
	return q, err
}
