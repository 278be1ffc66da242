package carddav

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/cyp0633/libdav/server"
	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/tree"
	"github.com/emersion/go-vcard"
)

var supportedVersions = []string{"3.0", "4.0"}

// parseCard checks that data is exactly one vCard with a supported
// VERSION, an FN and a UID, and returns the UID.
func parseCard(data []byte) (string, error) {
	dec := vcard.NewDecoder(bytes.NewReader(data))
	card, err := dec.Decode()
	if err != nil {
		return "", &dav.Error{
			Status:    http.StatusForbidden,
			Condition: CondValidAddressData,
			Message:   "invalid vCard data",
			Err:       err,
		}
	}
	if _, err := dec.Decode(); !errors.Is(err, io.EOF) {
		return "", dav.ForbiddenCondition(CondValidAddressData, "more than one vCard")
	}

	version := card.Value(vcard.FieldVersion)
	supported := false
	for _, v := range supportedVersions {
		supported = supported || v == version
	}
	if !supported {
		return "", dav.ForbiddenCondition(CondValidAddressData, "unsupported vCard version %q", version)
	}
	if card.Value(vcard.FieldFormattedName) == "" {
		return "", dav.ForbiddenCondition(CondValidAddressData, "vCard without FN")
	}
	uid := card.Value(vcard.FieldUID)
	if uid == "" {
		return "", dav.ForbiddenCondition(CondValidAddressData, "vCard without UID")
	}
	return uid, nil
}

func (p *Plugin) beforeCreateFile(rc *server.RequestContext, c *server.Content) (server.Result, error) {
	if !IsAddressBook(c.Parent) {
		return server.Continue, nil
	}
	parent, _ := dav.SplitPath(c.Path)
	return server.Continue, p.validate(rc, c, parent, c.Parent)
}

func (p *Plugin) beforeWriteContent(rc *server.RequestContext, c *server.Content) (server.Result, error) {
	parent, _ := dav.SplitPath(c.Path)
	coll, err := p.srv.Tree().ResolveCollection(rc.Context(), parent)
	if err != nil {
		return server.Continue, err
	}
	if !IsAddressBook(coll) {
		return server.Continue, nil
	}
	return server.Continue, p.validate(rc, c, parent, coll)
}

func (p *Plugin) validate(rc *server.RequestContext, c *server.Content, parentPath string, parent tree.Collection) error {
	if c.ContentType != "" {
		mt, _, err := mime.ParseMediaType(c.ContentType)
		if err != nil || (mt != "text/vcard" && mt != "text/x-vcard") {
			return &dav.Error{
				Status:    http.StatusUnsupportedMediaType,
				Condition: CondSupportedAddressData,
				Message:   "address objects must be text/vcard",
			}
		}
	}
	if p.maxSize > 0 && int64(len(c.Data)) > p.maxSize {
		return dav.ForbiddenCondition(CondMaxResourceSize, "%d bytes exceed the limit of %d", len(c.Data), p.maxSize)
	}
	uid, err := parseCard(c.Data)
	if err != nil {
		p.logger.Info("vcard rejected",
			"path", c.Path,
			"error", err)
		return err
	}
	return p.checkUID(rc.Context(), c.Path, parentPath, parent, uid)
}

func (p *Plugin) checkUID(ctx context.Context, target, parentPath string, parent tree.Collection, uid string) error {
	children, err := parent.Children(ctx)
	if err != nil {
		return err
	}
	for _, child := range children {
		f, ok := child.(tree.File)
		if !ok {
			continue
		}
		childPath := dav.JoinPath(parentPath, child.Name())
		if childPath == target {
			continue
		}
		data, err := readAll(ctx, f)
		if err != nil {
			return err
		}
		if other, err := parseCard(data); err == nil && other == uid {
			return &dav.Error{
				Status:    http.StatusForbidden,
				Condition: CondNoUIDConflict,
				Message:   "UID " + uid + " is already used",
				Detail:    dav.Href(p.srv.Href(childPath, false)),
			}
		}
	}
	return nil
}

func readAll(ctx context.Context, f tree.File) ([]byte, error) {
	r, err := f.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
