package locks

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cyp0633/libdav/internal/xml"
	"github.com/cyp0633/libdav/server"
	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/storage"
	"github.com/google/uuid"
)

type condsKey struct{}

func (p *Plugin) httpLock(rc *server.RequestContext) (server.Result, error) {
	timeout := p.timeout(rc.Request.Header.Get("Timeout"))
	root, err := xml.ReadDocument(rc.Request.Body)
	if err != nil {
		return server.StopChain, err
	}
	if root == nil {
		return server.StopChain, p.refresh(rc, timeout)
	}
	req, err := xml.ParseLockInfo(root)
	if err != nil {
		return server.StopChain, err
	}
	depth, err := rc.Depth(dav.DepthInfinity)
	if err != nil {
		return server.StopChain, err
	}
	if depth == dav.DepthOne {
		return server.StopChain, dav.BadRequest("LOCK takes Depth 0 or infinity")
	}
	scope := storage.LockShared
	if req.Exclusive {
		scope = storage.LockExclusive
	}

	ctx := rc.Context()
	existing, err := p.backend.Locks(ctx, rc.Path, depth == dav.DepthInfinity)
	if err != nil {
		return server.StopChain, err
	}
	wanted := storage.LockInfo{Scope: scope, Depth: depth}
	if conflicts := storage.Conflicts(existing, rc.Path, wanted); len(conflicts) > 0 {
		return server.StopChain, p.conflict(rc, scope, conflicts)
	}

	status := http.StatusOK
	exists, err := p.srv.Tree().Exists(ctx, rc.Path)
	if err != nil {
		return server.StopChain, err
	}
	if !exists {
		if err := p.createEmpty(rc); err != nil {
			return server.StopChain, err
		}
		status = http.StatusCreated
	}

	info := storage.LockInfo{
		Token:     tokenPrefix + uuid.NewString(),
		Owner:     req.Owner,
		Principal: rc.Principal,
		Scope:     scope,
		Depth:     depth,
		URI:       rc.Path,
		Timeout:   timeout,
		Created:   p.now(),
	}
	if err := p.backend.Lock(ctx, rc.Path, info); err != nil {
		var lc *storage.LockConflictError
		if errors.As(err, &lc) {
			return server.StopChain, p.conflict(rc, scope, lc.Locks)
		}
		return server.StopChain, err
	}
	p.logger.Info("lock created",
		"path", rc.Path,
		"token", info.Token,
		"scope", scope.String(),
		"depth", depth.String(),
		"timeout", timeout)
	rc.Response.Header().Set("Lock-Token", "<"+info.Token+">")
	return server.StopChain, p.writeDiscovery(rc, status, info)
}

func (p *Plugin) conflict(rc *server.RequestContext, scope storage.LockScope, conflicts []storage.LockInfo) error {
	p.logger.Info("lock conflict",
		"path", rc.Path,
		"scope", scope.String(),
		"conflicts", len(conflicts))
	return dav.ConflictingLock(p.hrefs(rc.Context(), conflicts)...)
}

// createEmpty maps an unmapped URL with an empty file (RFC 4918 section
// 7.3).
func (p *Plugin) createEmpty(rc *server.RequestContext) error {
	parentPath, name := dav.SplitPath(rc.Path)
	parent, err := p.srv.Tree().ResolveCollection(rc.Context(), parentPath)
	if err != nil {
		return err
	}
	res, err := p.srv.BeforeBind(rc, rc.Path)
	if err != nil {
		return err
	}
	if res == server.StopChain {
		return dav.Forbidden("creating /%s was refused", rc.Path)
	}
	if _, err := parent.CreateFile(rc.Context(), name, bytes.NewReader(nil)); err != nil {
		return err
	}
	return p.srv.AfterBind(rc, rc.Path)
}

// refresh handles a LOCK without body: the If header names the lock to
// extend.
func (p *Plugin) refresh(rc *server.RequestContext, timeout time.Duration) error {
	ctx := rc.Context()
	locks, err := p.backend.Locks(ctx, rc.Path, false)
	if err != nil {
		return err
	}
	if len(locks) == 0 {
		return dav.BadRequest("no lock to refresh on /%s", rc.Path)
	}
	conds, _ := rc.Value(condsKey{}).([]*server.IfCondition)
	for _, it := range server.Tokens(conds) {
		i := indexToken(locks, it.Token)
		if i < 0 {
			continue
		}
		l := locks[i]
		l.Created = p.now()
		l.Timeout = timeout
		if err := p.backend.Lock(ctx, l.URI, l); err != nil {
			return err
		}
		p.logger.Info("lock refreshed",
			"path", l.URI,
			"token", l.Token,
			"timeout", timeout)
		return p.writeDiscovery(rc, http.StatusOK, l)
	}
	return dav.Locked(p.hrefs(ctx, locks)...)
}

func (p *Plugin) writeDiscovery(rc *server.RequestContext, status int, l storage.LockInfo) error {
	doc := xml.PropDocument(dav.PropLockDiscovery, p.discovery(rc.Context(), []storage.LockInfo{l}))
	body, err := doc.WriteToBytes()
	if err != nil {
		return err
	}
	h := rc.Response.Header()
	h.Set("Content-Type", "application/xml; charset=utf-8")
	h.Set("Content-Length", strconv.Itoa(len(body)))
	rc.Response.WriteHeader(status)
	_, err = rc.Response.Write(body)
	return err
}

func (p *Plugin) httpUnlock(rc *server.RequestContext) (server.Result, error) {
	raw := strings.TrimSpace(rc.Request.Header.Get("Lock-Token"))
	token := strings.TrimSuffix(strings.TrimPrefix(raw, "<"), ">")
	if token == "" {
		return server.StopChain, dav.BadRequest("missing Lock-Token header")
	}

	ctx := rc.Context()
	locks, err := p.backend.Locks(ctx, rc.Path, false)
	if err != nil {
		return server.StopChain, err
	}
	if i := indexToken(locks, token); i >= 0 {
		l := locks[i]
		if _, err := p.backend.Unlock(ctx, l.URI, l); err != nil {
			return server.StopChain, err
		}
		p.logger.Info("lock removed",
			"path", l.URI,
			"token", token)
		rc.Response.WriteHeader(http.StatusNoContent)
		return server.StopChain, nil
	}
	return server.StopChain, &dav.Error{
		Status:    http.StatusConflict,
		Condition: dav.CondLockTokenMatchesURI,
		Message:   "lock token does not apply to /" + rc.Path,
	}
}
