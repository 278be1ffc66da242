package dav

import (
	"fmt"
	"net/http"
	"strings"
)

// Depth is the value of the Depth request header.
type Depth int

const (
	DepthZero     Depth = 0
	DepthOne      Depth = 1
	DepthInfinity Depth = -1
)

// ParseDepth parses a Depth header value. An empty value yields def.
func ParseDepth(s string, def Depth) (Depth, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return def, nil
	case "0":
		return DepthZero, nil
	case "1":
		return DepthOne, nil
	case "infinity":
		return DepthInfinity, nil
	}
	return 0, fmt.Errorf("invalid depth %q", s)
}

func (d Depth) String() string {
	if d == DepthInfinity {
		return "infinity"
	}
	return fmt.Sprintf("%d", int(d))
}

// StatusLine renders a status code the way multistatus bodies carry it.
func StatusLine(code int) string {
	return fmt.Sprintf("HTTP/1.1 %d %s", code, http.StatusText(code))
}
