package dav

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error is a protocol-level failure. The server core renders it as a
// single-status response with a <d:error> body naming Condition.
type Error struct {
	Status    int
	Condition Name
	Message   string
	// Detail is encoded inside the condition element.
	Detail Value
	Header http.Header
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(http.StatusText(e.Status))
	if !e.Condition.IsZero() {
		b.WriteString(" (" + e.Condition.String() + ")")
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same status and, when the target
// names one, the same condition.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Status != e.Status {
		return false
	}
	return t.Condition.IsZero() || t.Condition == e.Condition
}

// Sentinels for errors.Is.
var (
	ErrNotFound             = &Error{Status: http.StatusNotFound}
	ErrForbidden            = &Error{Status: http.StatusForbidden}
	ErrConflict             = &Error{Status: http.StatusConflict}
	ErrPreconditionFailed   = &Error{Status: http.StatusPreconditionFailed}
	ErrLocked               = &Error{Status: http.StatusLocked}
	ErrMethodNotAllowed     = &Error{Status: http.StatusMethodNotAllowed}
	ErrUnsupportedMediaType = &Error{Status: http.StatusUnsupportedMediaType}
	ErrBadRequest           = &Error{Status: http.StatusBadRequest}
	ErrNotAuthenticated     = &Error{Status: http.StatusUnauthorized}
)

// Condition element names used by the engine.
var (
	CondLockTokenSubmitted     = DAVName("lock-token-submitted")
	CondNoConflictingLock      = DAVName("no-conflicting-lock")
	CondLockTokenMatchesURI    = DAVName("lock-token-matches-request-uri")
	CondPropfindFiniteDepth    = DAVName("propfind-finite-depth")
	CondSupportedReport        = DAVName("supported-report")
	CondValidSyncToken         = DAVName("valid-sync-token")
	CondNeedPrivileges         = DAVName("need-privileges")
	CondNoAbstract             = DAVName("no-abstract")
	CondNoACEConflict          = DAVName("no-ace-conflict")
	CondGrantOnly              = DAVName("grant-only")
	CondNotSupportedPrivilege  = DAVName("not-supported-privilege")
	CondCannotModifyProtected  = DAVName("cannot-modify-protected-property")
	CondResourceMustBeNull     = DAVName("resource-must-be-null")
	CondValidResourceType      = DAVName("valid-resourcetype")
	CondQuotaNotExceeded       = DAVName("quota-not-exceeded")
	CondNumberOfMatchesInLimit = DAVName("number-of-matches-within-limits")
)

func newError(status int, format string, args []any) *Error {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &Error{Status: status, Message: msg}
}

func NotFound(format string, args ...any) *Error {
	return newError(http.StatusNotFound, format, args)
}

func Forbidden(format string, args ...any) *Error {
	return newError(http.StatusForbidden, format, args)
}

// ForbiddenCondition is a 403 naming the violated precondition.
func ForbiddenCondition(cond Name, format string, args ...any) *Error {
	e := newError(http.StatusForbidden, format, args)
	e.Condition = cond
	return e
}

func Conflict(format string, args ...any) *Error {
	return newError(http.StatusConflict, format, args)
}

// PreconditionFailed names the header whose condition failed.
func PreconditionFailed(header string) *Error {
	return &Error{Status: http.StatusPreconditionFailed, Message: "precondition failed: " + header}
}

// Locked reports that a resource is locked and the request did not submit
// a token for it. hrefs name the roots of the locks in the way.
func Locked(hrefs ...string) *Error {
	return &Error{
		Status:    http.StatusLocked,
		Condition: CondLockTokenSubmitted,
		Message:   "resource is locked",
		Detail:    Hrefs(hrefs),
	}
}

// ConflictingLock reports that a LOCK request collides with existing locks.
func ConflictingLock(hrefs ...string) *Error {
	return &Error{
		Status:    http.StatusLocked,
		Condition: CondNoConflictingLock,
		Message:   "conflicting lock",
		Detail:    Hrefs(hrefs),
	}
}

// MethodNotAllowed carries the Allow header when methods are given.
func MethodNotAllowed(msg string, allow ...string) *Error {
	e := &Error{Status: http.StatusMethodNotAllowed, Message: msg}
	if len(allow) > 0 {
		e.Header = http.Header{"Allow": []string{strings.Join(allow, ", ")}}
	}
	return e
}

func UnsupportedMediaType(format string, args ...any) *Error {
	return newError(http.StatusUnsupportedMediaType, format, args)
}

func BadRequest(format string, args ...any) *Error {
	return newError(http.StatusBadRequest, format, args)
}

// NotAuthenticated carries the WWW-Authenticate challenge.
func NotAuthenticated(challenge, msg string) *Error {
	e := &Error{Status: http.StatusUnauthorized, Message: msg}
	if challenge != "" {
		e.Header = http.Header{"Www-Authenticate": []string{challenge}}
	}
	return e
}

func NotImplemented(format string, args ...any) *Error {
	return newError(http.StatusNotImplemented, format, args)
}

func InsufficientStorage(format string, args ...any) *Error {
	e := newError(http.StatusInsufficientStorage, format, args)
	e.Condition = CondQuotaNotExceeded
	return e
}

func BadGateway(format string, args ...any) *Error {
	return newError(http.StatusBadGateway, format, args)
}

// StatusOf returns the HTTP status an error maps to.
func StatusOf(err error) int {
	var de *Error
	if errors.As(err, &de) {
		return de.Status
	}
	return http.StatusInternalServerError
}
