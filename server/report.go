package server

import (
	"net/http"

	"github.com/cyp0633/libdav/internal/xml"
	"github.com/cyp0633/libdav/server/dav"
)

func (s *Server) handleReport(rc *RequestContext) error {
	root, err := xml.ReadDocument(rc.Request.Body)
	if err != nil {
		return err
	}
	if root == nil {
		return dav.BadRequest("REPORT requires a body")
	}
	name := xml.NameOf(root)
	res, err := vetoable(&s.events.report, func(fn ReportHandler) (Result, error) {
		return fn(rc, name, root)
	})
	if err != nil {
		return err
	}
	if res == StopChain {
		return nil
	}
	s.logger.Warn("unsupported report",
		"report", name.String(),
		"path", rc.Path)
	return dav.ForbiddenCondition(dav.CondSupportedReport, "report %s is not supported on /%s", name, rc.Path)
}

// Multiget answers a multiget REPORT: one entry per href, 404 for hrefs
// that do not resolve.
func (s *Server) Multiget(rc *RequestContext, req xml.MultigetRequest) error {
	paths := make([]string, 0, len(req.Hrefs))
	for _, href := range req.Hrefs {
		if p, ok := s.RelativePath(href); ok {
			paths = append(paths, p)
		}
	}
	nodes, err := s.tree.Nodes(rc.Context(), paths)
	if err != nil {
		return err
	}

	ms := &xml.MultistatusResponse{}
	found := 0
	for _, href := range req.Hrefs {
		p, ok := s.RelativePath(href)
		n, exists := nodes[dav.CleanPath(p)]
		if !ok || !exists {
			ms.Add(xml.Response{Href: href, Status: http.StatusNotFound})
			continue
		}
		resp, err := s.PropFindResponse(rc, dav.CleanPath(p), n, req.Prop, dav.DepthZero)
		if err != nil {
			return err
		}
		ms.Add(resp)
		found++
	}
	s.logger.Debug("multiget",
		"path", rc.Path,
		"requested", len(req.Hrefs),
		"found", found)
	return s.WriteMultistatus(rc, ms)
}
