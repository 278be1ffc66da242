package dav

// Pseudo principals usable in an ACE instead of a principal path.
const (
	PrincipalAll             = "{DAV:}all"
	PrincipalAuthenticated   = "{DAV:}authenticated"
	PrincipalUnauthenticated = "{DAV:}unauthenticated"
	PrincipalOwner           = "{DAV:}owner"
	PrincipalSelf            = "{DAV:}self"
)

// ACE grants one privilege to one principal. Principal is a principal path
// relative to the server base or one of the pseudo principals.
type ACE struct {
	Principal string
	Privilege Name
	Protected bool
	// Inherited is the href of the node the entry was inherited from, set
	// during evaluation only.
	Inherited string
}

// IsPseudoPrincipal reports whether p is one of the {DAV:} pseudo principals.
func IsPseudoPrincipal(p string) bool {
	switch p {
	case PrincipalAll, PrincipalAuthenticated, PrincipalUnauthenticated, PrincipalOwner, PrincipalSelf:
		return true
	}
	return false
}
