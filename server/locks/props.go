package locks

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/beevik/etree"
	"github.com/cyp0633/libdav/server"
	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/storage"
	"github.com/cyp0633/libdav/server/tree"
	"github.com/samber/mo"
)

var supportedLock = dav.EncoderFunc(func(b dav.Builder, parent *etree.Element) {
	for _, scope := range []storage.LockScope{storage.LockExclusive, storage.LockShared} {
		entry := b.Element(dav.DAVName("lockentry"))
		entry.AddChild(wrap(b, "lockscope", scope.String()))
		entry.AddChild(wrap(b, "locktype", "write"))
		parent.AddChild(entry)
	}
})

func (p *Plugin) propFind(rc *server.RequestContext, pf *dav.PropFind, _ tree.Node) error {
	pf.Handle(dav.PropSupportedLock, func() mo.Option[dav.Value] {
		return mo.Some[dav.Value](supportedLock)
	})
	if !pf.Wants(dav.PropLockDiscovery) {
		return nil
	}
	locks, err := p.backend.Locks(rc.Context(), pf.Path(), false)
	if err != nil {
		return err
	}
	pf.HandleValue(dav.PropLockDiscovery, p.discovery(rc.Context(), locks))
	return nil
}

// discovery renders one activelock per lock.
func (p *Plugin) discovery(ctx context.Context, locks []storage.LockInfo) dav.Value {
	now := p.now()
	roots := make([]string, len(locks))
	for i, l := range locks {
		roots[i] = p.href(ctx, l.URI)
	}
	return dav.EncoderFunc(func(b dav.Builder, parent *etree.Element) {
		for i, l := range locks {
			parent.AddChild(activeLock(b, l, roots[i], now))
		}
	})
}

func activeLock(b dav.Builder, l storage.LockInfo, root string, now time.Time) *etree.Element {
	al := b.Element(dav.DAVName("activelock"))
	al.AddChild(wrap(b, "lockscope", l.Scope.String()))
	al.AddChild(wrap(b, "locktype", "write"))
	text(b, al, "depth", l.Depth.String())
	if l.Owner != "" {
		owner := b.Element(dav.PropOwner)
		dav.RawXML(l.Owner).Encode(b, owner)
		al.AddChild(owner)
	}
	remaining := math.Ceil(l.Expires().Sub(now).Seconds())
	text(b, al, "timeout", fmt.Sprintf("Second-%d", int64(max(remaining, 0))))

	token := b.Element(dav.DAVName("locktoken"))
	dav.Href(l.Token).Encode(b, token)
	al.AddChild(token)
	lockRoot := b.Element(dav.DAVName("lockroot"))
	dav.Href(root).Encode(b, lockRoot)
	al.AddChild(lockRoot)
	return al
}

// wrap builds <local><inner/></local> in the DAV: namespace.
func wrap(b dav.Builder, local, inner string) *etree.Element {
	el := b.Element(dav.DAVName(local))
	el.AddChild(b.Element(dav.DAVName(inner)))
	return el
}

func text(b dav.Builder, parent *etree.Element, local, s string) {
	el := b.Element(dav.DAVName(local))
	el.SetText(s)
	parent.AddChild(el)
}
