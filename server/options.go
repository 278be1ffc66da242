package server

import (
	"net/http"
	"strings"
)

func (s *Server) handleOptions(rc *RequestContext) error {
	allow, err := s.allowedMethods(rc)
	if err != nil {
		return err
	}
	h := rc.Response.Header()
	h.Set("DAV", strings.Join(s.Features(), ", "))
	h.Set("Allow", strings.Join(allow, ", "))
	h.Set("MS-Author-Via", "DAV")
	h.Set("Accept-Ranges", "none")
	h.Set("Content-Length", "0")
	rc.Response.WriteHeader(http.StatusOK)
	return nil
}
