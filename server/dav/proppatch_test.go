package dav

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

var (
	propColor = N("urn:x", "color")
	propSize  = N("urn:x", "size")
	propOwner = N("urn:y", "owner")
)

func statuses(pp *PropPatch) map[Name]int {
	out := map[Name]int{}
	for _, r := range pp.Results() {
		out[r.Name] = r.Status
	}
	return out
}

func TestPropPatchUnclaimedIsForbidden(t *testing.T) {
	pp := NewPropPatch("doc", []Mutation{Set(propColor, Text("red"))})

	assert.False(t, pp.Commit())
	assert.Equal(t, map[Name]int{propColor: http.StatusForbidden}, statuses(pp))
}

func TestPropPatchClaimSet(t *testing.T) {
	pp := NewPropPatch("doc", []Mutation{
		Set(propColor, Text("red")),
		Remove(propSize),
		Set(propOwner, Text("alice")),
	})

	var first, second []Mutation
	claimed := pp.Claim([]Name{propColor, propSize}, func(muts []Mutation) (map[Name]int, error) {
		first = muts
		return nil, nil
	})
	assert.Equal(t, []Name{propColor, propSize}, claimed)

	// Already claimed names are not handed out twice.
	claimed = pp.Claim([]Name{propColor}, func([]Mutation) (map[Name]int, error) {
		t.Fatal("claim for an already claimed property must not commit")
		return nil, nil
	})
	assert.Empty(t, claimed)

	pp.ClaimRemaining(func(muts []Mutation) (map[Name]int, error) {
		second = muts
		return nil, nil
	})
	assert.Empty(t, pp.Pending())

	assert.True(t, pp.Commit())
	assert.Len(t, first, 2)
	assert.True(t, first[1].IsRemove())
	assert.Equal(t, []Mutation{Set(propOwner, Text("alice"))}, second)
	assert.Equal(t, map[Name]int{
		propColor: http.StatusOK,
		propSize:  http.StatusOK,
		propOwner: http.StatusOK,
	}, statuses(pp))
}

func TestPropPatchFailureMarksDependents(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(pp *PropPatch, ran *[]string)
		want      map[Name]int
		wantRuns  []string
		wantError bool
	}{
		{
			name: "protected property blocks every claim",
			setup: func(pp *PropPatch, ran *[]string) {
				pp.SetStatus(propColor, http.StatusForbidden)
				pp.ClaimRemaining(func([]Mutation) (map[Name]int, error) {
					*ran = append(*ran, "rest")
					return nil, nil
				})
			},
			want: map[Name]int{
				propColor: http.StatusForbidden,
				propSize:  http.StatusFailedDependency,
				propOwner: http.StatusFailedDependency,
			},
		},
		{
			name: "failing claim stops later claims and keeps earlier commits",
			setup: func(pp *PropPatch, ran *[]string) {
				pp.Claim([]Name{propColor}, func([]Mutation) (map[Name]int, error) {
					*ran = append(*ran, "color")
					return nil, nil
				})
				pp.Claim([]Name{propSize}, func([]Mutation) (map[Name]int, error) {
					*ran = append(*ran, "size")
					return nil, errors.New("backend down")
				})
				pp.Claim([]Name{propOwner}, func([]Mutation) (map[Name]int, error) {
					*ran = append(*ran, "owner")
					return nil, nil
				})
			},
			want: map[Name]int{
				propColor: http.StatusOK,
				propSize:  http.StatusForbidden,
				propOwner: http.StatusFailedDependency,
			},
			wantRuns:  []string{"color", "size"},
			wantError: true,
		},
		{
			name: "per property status from a claim",
			setup: func(pp *PropPatch, ran *[]string) {
				pp.ClaimRemaining(func([]Mutation) (map[Name]int, error) {
					*ran = append(*ran, "all")
					return map[Name]int{propSize: http.StatusConflict}, nil
				})
			},
			want: map[Name]int{
				propColor: http.StatusOK,
				propSize:  http.StatusConflict,
				propOwner: http.StatusOK,
			},
			wantRuns: []string{"all"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pp := NewPropPatch("doc", []Mutation{
				Set(propColor, Text("red")),
				Set(propSize, Text("10")),
				Set(propOwner, Text("alice")),
			})
			var ran []string
			tt.setup(pp, &ran)

			assert.False(t, pp.Commit())
			assert.True(t, pp.Failed())
			assert.Equal(t, tt.want, statuses(pp))
			assert.Equal(t, tt.wantRuns, ran)
			assert.Equal(t, tt.wantError, len(pp.Errors()) > 0)
		})
	}
}

func TestPropPatchCommitIsIdempotent(t *testing.T) {
	runs := 0
	pp := NewPropPatch("doc", []Mutation{Set(propColor, Text("red"))})
	pp.ClaimRemaining(func([]Mutation) (map[Name]int, error) {
		runs++
		return nil, nil
	})

	assert.True(t, pp.Commit())
	assert.True(t, pp.Commit())
	assert.Equal(t, 1, runs)
}

func TestPropPatchDuplicateNamesKeepLastValue(t *testing.T) {
	pp := NewPropPatch("doc", []Mutation{
		Set(propColor, Text("red")),
		Set(propColor, Text("blue")),
	})
	assert.Equal(t, []Mutation{Set(propColor, Text("blue"))}, pp.Mutations())
}

func TestPropPatchGroups(t *testing.T) {
	pp := NewPropPatch("doc", []Mutation{Set(propColor, Text("red")), Set(propSize, Text("1"))})
	pp.Claim([]Name{propColor}, func([]Mutation) (map[Name]int, error) { return nil, nil })
	pp.Commit()

	assert.Equal(t, []StatusGroup{
		{Status: http.StatusFailedDependency, Props: []PropValue{{Name: propColor}}},
		{Status: http.StatusForbidden, Props: []PropValue{{Name: propSize}}},
	}, pp.Groups())
}
