// Package propstore keeps client-supplied (dead) properties of any node in
// a storage.PropertyBackend.
package propstore

import (
	"cmp"
	"log/slog"
	"maps"
	"net/http"
	"slices"

	"github.com/cyp0633/libdav/server"
	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/storage"
	"github.com/cyp0633/libdav/server/tree"
)

// Handler priorities. The store answers after the node itself and claims
// whatever nobody else wanted.
const (
	PriorityPropFind  = 130
	PriorityPropPatch = 200
)

// Plugin is the dead property plugin.
type Plugin struct {
	backend storage.PropertyBackend
	logger  *slog.Logger
}

var _ server.Plugin = (*Plugin)(nil)

// New creates the plugin.
func New(backend storage.PropertyBackend) *Plugin {
	return &Plugin{backend: backend}
}

func (p *Plugin) Name() string { return "propstore" }

func (p *Plugin) Initialize(s *server.Server) error {
	p.logger = s.Logger().With("plugin", p.Name())
	s.OnPropFind(PriorityPropFind, p.propFind)
	s.OnPropPatch(PriorityPropPatch, p.propPatch)
	s.OnAfterUnbind(server.DefaultPriority, p.afterUnbind)
	s.OnAfterCopyMove(server.DefaultPriority, p.afterCopyMove)
	return nil
}

func (p *Plugin) propFind(rc *server.RequestContext, pf *dav.PropFind, _ tree.Node) error {
	if pf.Type() == dav.PropFindNamed && len(pf.Pending()) == 0 {
		return nil
	}
	props, err := p.backend.Properties(rc.Context(), pf.Path())
	if err != nil {
		return err
	}
	names := slices.SortedFunc(maps.Keys(props), func(a, b dav.Name) int {
		return cmp.Compare(a.String(), b.String())
	})
	for _, name := range names {
		pf.HandleValue(name, props[name].Value())
	}
	return nil
}

func (p *Plugin) propPatch(rc *server.RequestContext, pp *dav.PropPatch, _ tree.Node) error {
	ctx := rc.Context()
	path := pp.Path()
	pp.ClaimRemaining(func(muts []dav.Mutation) (map[dav.Name]int, error) {
		set := make(map[dav.Name]dav.DeadValue)
		var remove []dav.Name
		var rejected []dav.Name
		for _, m := range muts {
			v, ok := m.Value.Get()
			if !ok {
				remove = append(remove, m.Name)
				continue
			}
			dv, ok := dav.ToDead(v)
			if !ok {
				rejected = append(rejected, m.Name)
				continue
			}
			set[m.Name] = dv
		}
		if len(rejected) > 0 {
			statuses := make(map[dav.Name]int, len(muts))
			for _, m := range muts {
				statuses[m.Name] = http.StatusFailedDependency
			}
			for _, n := range rejected {
				statuses[n] = http.StatusForbidden
			}
			return statuses, nil
		}
		if err := p.backend.PatchProperties(ctx, path, set, remove); err != nil {
			p.logger.Error("failed to store properties",
				"path", path,
				"error", err)
			return nil, err
		}
		p.logger.Debug("properties stored",
			"path", path,
			"set", len(set),
			"removed", len(remove))
		return nil, nil
	})
	return nil
}

func (p *Plugin) afterUnbind(rc *server.RequestContext, path string) error {
	return p.backend.DeleteProperties(rc.Context(), path)
}

func (p *Plugin) afterCopyMove(rc *server.RequestContext, src, dst string, move bool) error {
	if move {
		return p.backend.MoveProperties(rc.Context(), src, dst)
	}
	ctx := rc.Context()
	if depth, err := rc.Depth(dav.DepthInfinity); err == nil && depth == dav.DepthZero {
		// Members of a Depth 0 copy are not copied, so neither are their
		// properties.
		props, err := p.backend.Properties(ctx, src)
		if err != nil || len(props) == 0 {
			return err
		}
		return p.backend.PatchProperties(ctx, dst, props, nil)
	}
	return p.backend.CopyProperties(ctx, src, dst)
}
