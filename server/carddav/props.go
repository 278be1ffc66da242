package carddav

import (
	"slices"
	"strconv"

	"github.com/beevik/etree"
	"github.com/cyp0633/libdav/server"
	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/tree"
)

func (p *Plugin) propFind(rc *server.RequestContext, pf *dav.PropFind, node tree.Node) error {
	if rc.Principal != "" && pf.Path() == rc.Principal && pf.Wants(PropAddressBookHomeSet) {
		pf.HandleValue(PropAddressBookHomeSet, dav.Href(p.srv.Href(p.home(rc.Principal), true)))
	}

	if f, ok := node.(tree.File); ok {
		if !slices.Contains(pf.Requested(), PropAddressData) {
			return nil
		}
		parent, _ := dav.SplitPath(pf.Path())
		coll, err := p.srv.Tree().Resolve(rc.Context(), parent)
		if err != nil || !IsAddressBook(coll) {
			return nil
		}
		data, err := readAll(rc.Context(), f)
		if err != nil {
			return err
		}
		pf.HandleValue(PropAddressData, dav.Text(string(data)))
		return nil
	}

	if !IsAddressBook(node) {
		return nil
	}
	pf.HandleValue(PropSupportedAddressData, dav.EncoderFunc(func(b dav.Builder, parent *etree.Element) {
		for _, version := range supportedVersions {
			el := b.Element(tagAddressDataType)
			el.CreateAttr("content-type", "text/vcard")
			el.CreateAttr("version", version)
			parent.AddChild(el)
		}
	}))
	if p.maxSize > 0 {
		pf.HandleValue(PropMaxResourceSize, dav.Text(strconv.FormatInt(p.maxSize, 10)))
	}
	return nil
}
