package dav

import (
	"path"
	"strings"
)

// CleanPath normalises a request path into the tree form: no leading or
// trailing slash, no empty or dot segments. The root is "".
func CleanPath(p string) string {
	p = path.Clean("/" + p)
	return strings.Trim(p, "/")
}

// SplitPath returns the parent path and the last segment.
func SplitPath(p string) (parent, name string) {
	p = CleanPath(p)
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return "", p
	}
	return p[:i], p[i+1:]
}

// JoinPath joins path segments and cleans the result.
func JoinPath(elem ...string) string {
	return CleanPath(strings.Join(elem, "/"))
}

// Segments splits a path into its segments. The root has none.
func Segments(p string) []string {
	p = CleanPath(p)
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// IsAncestor reports whether anc is a strict ancestor of p.
func IsAncestor(anc, p string) bool {
	anc, p = CleanPath(anc), CleanPath(p)
	if anc == p {
		return false
	}
	if anc == "" {
		return true
	}
	return strings.HasPrefix(p, anc+"/")
}

// IsWithin reports whether p is base or lies below it.
func IsWithin(base, p string) bool {
	return CleanPath(base) == CleanPath(p) || IsAncestor(base, p)
}

// Rebase moves p from below src to below dst. p must be within src.
func Rebase(p, src, dst string) string {
	p, src = CleanPath(p), CleanPath(src)
	rest := strings.TrimPrefix(p, src)
	return JoinPath(dst, rest)
}
