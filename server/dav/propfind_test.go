package dav

import (
	"net/http"
	"testing"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPropFindEveryRequestedPropertyHasOneStatus(t *testing.T) {
	names := []Name{PropDisplayName, PropGetETag, N("urn:x", "color"), PropDisplayName}
	pf := NewPropFind("a/b", names, DepthZero, PropFindNamed)

	assert.Equal(t, 3, pf.ItemsLeft())
	pf.HandleValue(PropDisplayName, Text("B"))
	pf.Set(PropGetETag, nil, http.StatusForbidden)
	pf.Set(N("urn:x", "unrequested"), Text("dropped"), http.StatusOK)

	groups := pf.Groups()
	seen := map[Name]int{}
	for _, g := range groups {
		for _, p := range g.Props {
			seen[p.Name]++
		}
	}
	assert.Equal(t, map[Name]int{
		PropDisplayName:     1,
		PropGetETag:         1,
		N("urn:x", "color"): 1,
	}, seen)
	assert.Equal(t, http.StatusOK, pf.Status(PropDisplayName))
	assert.Equal(t, http.StatusForbidden, pf.Status(PropGetETag))
	assert.Equal(t, http.StatusNotFound, pf.Status(N("urn:x", "color")))
	assert.Equal(t, []Name{N("urn:x", "color")}, pf.Pending())
	assert.Equal(t, 1, pf.ItemsLeft())
}

func TestPropFindHandleOnlyFillsPending(t *testing.T) {
	pf := NewPropFind("", []Name{PropDisplayName}, DepthZero, PropFindNamed)
	calls := 0
	supply := func() mo.Option[Value] {
		calls++
		return mo.Some[Value](Text("first"))
	}

	pf.Handle(PropDisplayName, supply)
	pf.Handle(PropDisplayName, func() mo.Option[Value] { return mo.Some[Value](Text("second")) })
	pf.Handle(PropGetETag, supply)

	assert.Equal(t, 1, calls)
	v, ok := pf.Get(PropDisplayName).Get()
	require.True(t, ok)
	assert.Equal(t, Text("first"), v)
	assert.Equal(t, 0, pf.Status(PropGetETag))
}

func TestPropFindHandleNoneKeeps404(t *testing.T) {
	pf := NewPropFind("", []Name{PropDisplayName}, DepthZero, PropFindNamed)
	pf.Handle(PropDisplayName, func() mo.Option[Value] { return mo.None[Value]() })
	assert.Equal(t, http.StatusNotFound, pf.Status(PropDisplayName))
}

func TestPropFindGroups(t *testing.T) {
	tests := []struct {
		name  string
		kind  PropFindType
		names []Name
		setup func(pf *PropFind)
		want  []StatusGroup
	}{
		{
			name:  "empty named request yields one empty 200 group",
			kind:  PropFindNamed,
			names: nil,
			setup: func(pf *PropFind) {},
			want:  []StatusGroup{{Status: http.StatusOK}},
		},
		{
			name:  "allprop keeps supplied properties and drops unanswered ones",
			kind:  PropFindAllProps,
			names: []Name{N("urn:x", "included")},
			setup: func(pf *PropFind) {
				pf.HandleValue(PropDisplayName, Text("x"))
				pf.Set(PropGetETag, nil, http.StatusNotFound)
			},
			want: []StatusGroup{
				{Status: http.StatusOK, Props: []PropValue{{Name: PropDisplayName, Value: Text("x")}}},
				{Status: http.StatusNotFound, Props: []PropValue{{Name: N("urn:x", "included")}}},
			},
		},
		{
			name:  "propname strips values",
			kind:  PropFindNames,
			names: nil,
			setup: func(pf *PropFind) {
				pf.HandleValue(PropDisplayName, Text("x"))
			},
			want: []StatusGroup{
				{Status: http.StatusOK, Props: []PropValue{{Name: PropDisplayName}}},
			},
		},
		{
			name:  "statuses are sorted ascending",
			kind:  PropFindNamed,
			names: []Name{PropGetETag, PropDisplayName},
			setup: func(pf *PropFind) {
				pf.HandleValue(PropDisplayName, Text("x"))
			},
			want: []StatusGroup{
				{Status: http.StatusOK, Props: []PropValue{{Name: PropDisplayName, Value: Text("x")}}},
				{Status: http.StatusNotFound, Props: []PropValue{{Name: PropGetETag}}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pf := NewPropFind("", tt.names, DepthZero, tt.kind)
			tt.setup(pf)
			assert.Equal(t, tt.want, pf.Groups())
		})
	}
}

func TestPropFindForbidAll(t *testing.T) {
	pf := NewPropFind("", []Name{PropDisplayName, PropGetETag}, DepthZero, PropFindNamed)
	pf.HandleValue(PropDisplayName, Text("secret"))
	pf.Set(N("urn:x", "extra"), Text("x"), http.StatusOK)

	pf.ForbidAll()
	pf.HandleValue(PropGetETag, Text(`"1"`))
	pf.Set(PropDisplayName, Text("late"), http.StatusOK)

	assert.Equal(t, []StatusGroup{{
		Status: http.StatusForbidden,
		Props:  []PropValue{{Name: PropDisplayName}, {Name: PropGetETag}},
	}}, pf.Groups())
	assert.False(t, pf.Wants(PropGetETag))

	all := NewPropFind("", nil, DepthZero, PropFindAllProps)
	all.ForbidAll()
	all.HandleValue(PropDisplayName, Text("x"))
	assert.Equal(t, []StatusGroup{{Status: http.StatusForbidden}}, all.Groups())
}

func TestPropFindClone(t *testing.T) {
	pf := NewPropFind("cal", []Name{PropDisplayName, PropDisplayName}, DepthOne, PropFindAllProps)
	pf.HandleValue(PropDisplayName, Text("Home"))

	c := pf.Clone("cal/a.ics")
	assert.Equal(t, "cal/a.ics", c.Path())
	assert.Equal(t, DepthOne, c.Depth())
	assert.True(t, c.IsAllProps())
	assert.False(t, c.IsNamesOnly())
	assert.Equal(t, []Name{PropDisplayName}, c.Requested())
	assert.Equal(t, 1, c.ItemsLeft())
	assert.True(t, c.Wants(PropDisplayName))
}
