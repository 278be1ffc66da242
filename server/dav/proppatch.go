package dav

import (
	"net/http"

	"github.com/samber/mo"
)

// Mutation sets a property to Value, or removes it when Value is None.
type Mutation struct {
	Name  Name
	Value mo.Option[Value]
}

// Set builds a set mutation.
func Set(name Name, v Value) Mutation {
	return Mutation{Name: name, Value: mo.Some(v)}
}

// Remove builds a remove mutation.
func Remove(name Name) Mutation {
	return Mutation{Name: name, Value: mo.None[Value]()}
}

// IsRemove reports whether the mutation removes the property.
func (m Mutation) IsRemove() bool {
	return m.Value.IsAbsent()
}

// CommitFunc applies the mutations a handler claimed. Statuses returned in
// the map override the default: 200 when err is nil, 403 otherwise.
type CommitFunc func(muts []Mutation) (map[Name]int, error)

// statusAccepted marks a claimed property waiting for commit.
const statusAccepted = http.StatusAccepted

type claim struct {
	names  []Name
	commit CommitFunc
}

// PropPatch is a property write transaction organised as a claim-set:
// handlers claim pending properties together with a commit function, and
// Commit reduces the outcome of every claim.
type PropPatch struct {
	path      string
	mutations []Mutation
	status    map[Name]int
	claims    []claim
	errs      []error
	committed bool
	failed    bool
}

// NewPropPatch creates a transaction. Later mutations of the same name
// replace earlier ones, keeping the first position.
func NewPropPatch(path string, muts []Mutation) *PropPatch {
	pp := &PropPatch{path: path, status: make(map[Name]int, len(muts))}
	index := make(map[Name]int, len(muts))
	for _, m := range muts {
		if i, ok := index[m.Name]; ok {
			pp.mutations[i] = m
			continue
		}
		index[m.Name] = len(pp.mutations)
		pp.mutations = append(pp.mutations, m)
	}
	return pp
}

func (p *PropPatch) Path() string {
	return p.path
}

// Mutations returns the mutations in request order.
func (p *PropPatch) Mutations() []Mutation {
	out := make([]Mutation, len(p.mutations))
	copy(out, p.mutations)
	return out
}

// Pending returns the names nobody has claimed or settled yet.
func (p *PropPatch) Pending() []Name {
	var out []Name
	for _, m := range p.mutations {
		if _, ok := p.status[m.Name]; !ok {
			out = append(out, m.Name)
		}
	}
	return out
}

// IsPending reports whether name is part of the patch and unclaimed.
func (p *PropPatch) IsPending(name Name) bool {
	for _, m := range p.mutations {
		if m.Name == name {
			_, settled := p.status[name]
			return !settled
		}
	}
	return false
}

// Claim takes the still-pending properties among names and registers fn
// to commit them. It returns the names actually claimed.
func (p *PropPatch) Claim(names []Name, fn CommitFunc) []Name {
	var claimed []Name
	for _, n := range names {
		if p.IsPending(n) {
			p.status[n] = statusAccepted
			claimed = append(claimed, n)
		}
	}
	if len(claimed) > 0 {
		p.claims = append(p.claims, claim{names: claimed, commit: fn})
	}
	return claimed
}

// ClaimRemaining claims every pending property.
func (p *PropPatch) ClaimRemaining(fn CommitFunc) []Name {
	return p.Claim(p.Pending(), fn)
}

// SetStatus settles a pending property without a commit function, e.g.
// 403 for a protected property.
func (p *PropPatch) SetStatus(name Name, status int) {
	if p.IsPending(name) {
		p.status[name] = status
		if status >= 300 {
			p.failed = true
		}
	}
}

// SetRemainingStatus settles every pending property with status.
func (p *PropPatch) SetRemainingStatus(status int) {
	for _, n := range p.Pending() {
		p.SetStatus(n, status)
	}
}

// Commit settles the transaction. Unclaimed properties become 403. When
// anything failed before commit, no claim runs and every claimed property
// becomes 424. Otherwise claims run in registration order until one fails;
// properties of the claims that did not run become 424. Claims that
// already committed stay committed. Commit is idempotent.
func (p *PropPatch) Commit() bool {
	if p.committed {
		return !p.failed
	}
	p.committed = true
	for _, n := range p.Pending() {
		p.status[n] = http.StatusForbidden
		p.failed = true
	}
	for _, c := range p.claims {
		if p.failed {
			break
		}
		muts := make([]Mutation, 0, len(c.names))
		for _, m := range p.mutations {
			for _, n := range c.names {
				if m.Name == n {
					muts = append(muts, m)
				}
			}
		}
		statuses, err := c.commit(muts)
		if err != nil {
			p.errs = append(p.errs, err)
		}
		for _, n := range c.names {
			st, ok := statuses[n]
			if !ok {
				st = http.StatusOK
				if err != nil {
					st = http.StatusForbidden
				}
			}
			p.status[n] = st
			if st >= 300 {
				p.failed = true
			}
		}
	}
	if p.failed {
		for n, st := range p.status {
			if st == statusAccepted {
				p.status[n] = http.StatusFailedDependency
			}
		}
	}
	return !p.failed
}

// Failed reports whether any property failed.
func (p *PropPatch) Failed() bool {
	return p.failed
}

// Errors returns the errors commit functions reported.
func (p *PropPatch) Errors() []error {
	return p.errs
}

// Results returns the per-property status in request order. Call after
// Commit.
func (p *PropPatch) Results() []PropStatus {
	out := make([]PropStatus, 0, len(p.mutations))
	for _, m := range p.mutations {
		out = append(out, PropStatus{Name: m.Name, Status: p.status[m.Name]})
	}
	return out
}

// PropStatus is the outcome for one property of a PropPatch.
type PropStatus struct {
	Name   Name
	Status int
}

// StatusOf returns the status recorded for name.
func (p *PropPatch) StatusOf(name Name) int {
	return p.status[name]
}

// Groups renders the results as status groups for a multistatus body.
func (p *PropPatch) Groups() []StatusGroup {
	byStatus := map[int][]PropValue{}
	var order []int
	for _, r := range p.Results() {
		if _, ok := byStatus[r.Status]; !ok {
			order = append(order, r.Status)
		}
		byStatus[r.Status] = append(byStatus[r.Status], PropValue{Name: r.Name})
	}
	if len(order) == 0 {
		return []StatusGroup{{Status: http.StatusOK}}
	}
	groups := make([]StatusGroup, 0, len(order))
	for _, s := range order {
		groups = append(groups, StatusGroup{Status: s, Props: byStatus[s]})
	}
	return groups
}
