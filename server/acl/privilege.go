package acl

import (
	"github.com/cyp0633/libdav/server/dav"
)

// RFC 3744 privileges.
var (
	PrivAll                    = dav.DAVName("all")
	PrivRead                   = dav.DAVName("read")
	PrivReadACL                = dav.DAVName("read-acl")
	PrivReadCurrentUserPrivSet = dav.DAVName("read-current-user-privilege-set")
	PrivWrite                  = dav.DAVName("write")
	PrivWriteProperties        = dav.DAVName("write-properties")
	PrivWriteContent           = dav.DAVName("write-content")
	PrivBind                   = dav.DAVName("bind")
	PrivUnbind                 = dav.DAVName("unbind")
	PrivUnlock                 = dav.DAVName("unlock")
	PrivWriteACL               = dav.DAVName("write-acl")
)

// Privilege is one node of the supported privilege tree. Abstract
// privileges can never be granted on their own.
type Privilege struct {
	Name        dav.Name
	Abstract    bool
	Description string
	Aggregates  []*Privilege
}

// DefaultPrivileges returns the RFC 3744 privilege tree.
func DefaultPrivileges() *Privilege {
	return &Privilege{
		Name:        PrivAll,
		Description: "Any operation",
		Aggregates: []*Privilege{
			{
				Name:        PrivRead,
				Description: "Read resource",
				Aggregates: []*Privilege{
					{Name: PrivReadACL, Description: "Read access control list"},
					{Name: PrivReadCurrentUserPrivSet, Description: "Read current user privileges"},
				},
			},
			{
				Name:        PrivWrite,
				Description: "Write any object",
				Aggregates: []*Privilege{
					{Name: PrivWriteProperties, Description: "Write properties"},
					{Name: PrivWriteContent, Description: "Write resource contents"},
					{Name: PrivBind, Description: "Add new members to collection"},
					{Name: PrivUnbind, Description: "Remove members from collection"},
					{Name: PrivUnlock, Description: "Unlock resource"},
				},
			},
			{Name: PrivWriteACL, Description: "Write access control list"},
		},
	}
}

// privilegeSet indexes a privilege tree.
type privilegeSet struct {
	root   *Privilege
	byName map[dav.Name]*Privilege
}

func newPrivilegeSet(root *Privilege) privilegeSet {
	s := privilegeSet{root: root, byName: make(map[dav.Name]*Privilege)}
	var index func(p *Privilege)
	index = func(p *Privilege) {
		s.byName[p.Name] = p
		for _, c := range p.Aggregates {
			index(c)
		}
	}
	index(root)
	return s
}

func (s privilegeSet) lookup(name dav.Name) (*Privilege, bool) {
	p, ok := s.byName[name]
	return p, ok
}

// expand adds name and everything it aggregates to have.
func (s privilegeSet) expand(name dav.Name, have map[dav.Name]bool) {
	p, ok := s.byName[name]
	if !ok {
		return
	}
	var add func(p *Privilege)
	add = func(p *Privilege) {
		have[p.Name] = true
		for _, c := range p.Aggregates {
			add(c)
		}
	}
	add(p)
}

// close adds every aggregate whose members are all in have.
func (s privilegeSet) close(have map[dav.Name]bool) {
	var visit func(p *Privilege) bool
	visit = func(p *Privilege) bool {
		if len(p.Aggregates) == 0 {
			return have[p.Name]
		}
		all := true
		for _, c := range p.Aggregates {
			if !visit(c) {
				all = false
			}
		}
		if all {
			have[p.Name] = true
		}
		return have[p.Name]
	}
	visit(s.root)
}

// rollup lists have in tree order, naming an aggregate instead of its
// members when all of them are present.
func (s privilegeSet) rollup(have map[dav.Name]bool) []dav.Name {
	var out []dav.Name
	var visit func(p *Privilege)
	visit = func(p *Privilege) {
		if have[p.Name] {
			out = append(out, p.Name)
			return
		}
		for _, c := range p.Aggregates {
			visit(c)
		}
	}
	visit(s.root)
	return out
}
