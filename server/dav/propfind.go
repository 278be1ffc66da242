package dav

import (
	"net/http"
	"slices"

	"github.com/samber/mo"
)

// PropFindType distinguishes the three PROPFIND request bodies.
type PropFindType int

const (
	// PropFindNamed requests an explicit list of properties.
	PropFindNamed PropFindType = iota
	// PropFindAllProps requests every property the server is willing to
	// return, plus an optional include list.
	PropFindAllProps
	// PropFindNames requests property names without values.
	PropFindNames
)

type propResult struct {
	status    int
	value     mo.Option[Value]
	requested bool
}

// PropFind captures a property read for one path and its per-property
// outcome. Requested properties start at 404; handlers move them to 200 or
// to another status.
type PropFind struct {
	path      string
	depth     Depth
	kind      PropFindType
	requested []Name
	results   map[Name]*propResult
	order     []Name
	itemsLeft int
	forbidden bool
}

// NewPropFind creates a transaction. For PropFindAllProps the names are the
// include list.
func NewPropFind(path string, names []Name, depth Depth, kind PropFindType) *PropFind {
	pf := &PropFind{
		path:    path,
		depth:   depth,
		kind:    kind,
		results: make(map[Name]*propResult, len(names)),
	}
	for _, n := range names {
		if _, dup := pf.results[n]; dup {
			continue
		}
		pf.requested = append(pf.requested, n)
		pf.results[n] = &propResult{status: http.StatusNotFound, requested: true}
		pf.order = append(pf.order, n)
		pf.itemsLeft++
	}
	return pf
}

// Clone returns a fresh transaction for another path with the same request.
func (p *PropFind) Clone(path string) *PropFind {
	return NewPropFind(path, p.requested, p.depth, p.kind)
}

func (p *PropFind) Path() string { return p.path }
func (p *PropFind) Depth() Depth { return p.depth }
func (p *PropFind) Type() PropFindType { return p.kind }
func (p *PropFind) Requested() []Name { return slices.Clone(p.requested) }
func (p *PropFind) ItemsLeft() int { return p.itemsLeft }
func (p *PropFind) IsAllProps() bool { return p.kind == PropFindAllProps }
func (p *PropFind) IsNamesOnly() bool { return p.kind == PropFindNames }

// Wants reports whether a handler should supply name: the property is
// requested and still unanswered, or the request is allprop/propname and
// the property has not been answered yet.
func (p *PropFind) Wants(name Name) bool {
	if p.forbidden {
		return false
	}
	r, ok := p.results[name]
	if !ok {
		return p.kind != PropFindNamed
	}
	return r.status == http.StatusNotFound
}

// Handle supplies a property lazily. fn only runs when Wants(name) holds;
// a None result leaves the property unanswered.
func (p *PropFind) Handle(name Name, fn func() mo.Option[Value]) {
	if !p.Wants(name) {
		return
	}
	if v, ok := fn().Get(); ok {
		p.Set(name, v, http.StatusOK)
	}
}

// HandleValue is Handle with an eager value.
func (p *PropFind) HandleValue(name Name, v Value) {
	if p.Wants(name) {
		p.Set(name, v, http.StatusOK)
	}
}

// Set records an outcome. A nil value with status 200 is recorded as an
// empty property.
func (p *PropFind) Set(name Name, v Value, status int) {
	if p.forbidden {
		return
	}
	r, ok := p.results[name]
	if !ok {
		r = &propResult{status: http.StatusNotFound}
		p.results[name] = r
		p.order = append(p.order, name)
	}
	if r.requested {
		if r.status == http.StatusNotFound && status != http.StatusNotFound {
			p.itemsLeft--
		} else if r.status != http.StatusNotFound && status == http.StatusNotFound {
			p.itemsLeft++
		}
	}
	r.status = status
	if v != nil {
		r.value = mo.Some(v)
	} else {
		r.value = mo.None[Value]()
	}
}

// SetStatus changes the status of a property without touching its value.
func (p *PropFind) SetStatus(name Name, status int) {
	v, _ := p.Get(name).Get()
	p.Set(name, v, status)
}

// Get returns the recorded value.
func (p *PropFind) Get(name Name) mo.Option[Value] {
	if r, ok := p.results[name]; ok {
		return r.value
	}
	return mo.None[Value]()
}

// Status returns the recorded status, or 0 when the property was never
// requested nor set.
func (p *PropFind) Status(name Name) int {
	if r, ok := p.results[name]; ok {
		return r.status
	}
	return 0
}

// Pending returns the requested properties that are still 404.
func (p *PropFind) Pending() []Name {
	var out []Name
	for _, n := range p.requested {
		if p.results[n].status == http.StatusNotFound {
			out = append(out, n)
		}
	}
	return out
}

// ForbidAll marks every requested property 403 and drops every value
// supplied so far. Later handlers can no longer supply anything.
func (p *PropFind) ForbidAll() {
	for _, n := range p.order {
		r := p.results[n]
		if !r.requested {
			delete(p.results, n)
			continue
		}
		r.status = http.StatusForbidden
		r.value = mo.None[Value]()
	}
	p.order = slices.DeleteFunc(p.order, func(n Name) bool {
		_, ok := p.results[n]
		return !ok
	})
	p.itemsLeft = 0
	p.forbidden = true
}

// PropValue is one property inside a status group.
type PropValue struct {
	Name  Name
	Value Value
}

// StatusGroup is one <propstat> worth of properties.
type StatusGroup struct {
	Status int
	Props  []PropValue
}

// Groups returns the outcome grouped by status, ascending. Unrequested
// properties are dropped unless the request is allprop or propname;
// allprop drops 404s that were not explicitly included; propname strips
// values. A transaction without properties yields a single empty group,
// 403 once ForbidAll was called and 200 otherwise.
func (p *PropFind) Groups() []StatusGroup {
	byStatus := map[int][]PropValue{}
	for _, n := range p.order {
		r := p.results[n]
		if !r.requested && p.kind == PropFindNamed {
			continue
		}
		if !r.requested && r.status == http.StatusNotFound {
			continue
		}
		pv := PropValue{Name: n}
		if p.kind != PropFindNames {
			pv.Value = r.value.OrEmpty()
		}
		byStatus[r.status] = append(byStatus[r.status], pv)
	}
	if len(byStatus) == 0 {
		if p.forbidden {
			return []StatusGroup{{Status: http.StatusForbidden}}
		}
		return []StatusGroup{{Status: http.StatusOK}}
	}
	statuses := make([]int, 0, len(byStatus))
	for s := range byStatus {
		statuses = append(statuses, s)
	}
	slices.Sort(statuses)
	groups := make([]StatusGroup, 0, len(statuses))
	for _, s := range statuses {
		groups = append(groups, StatusGroup{Status: s, Props: byStatus[s]})
	}
	return groups
}
