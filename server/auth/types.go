package auth

import (
	"context"
	"errors"
	"fmt"
)

// Principal is an authenticated user. The plugin maps ID to a principal
// path with its prefix.
type Principal struct {
	ID string
}

// Credentials are what a Basic Authorization header carries.
type Credentials struct {
	Username string
	Password string
}

// ErrorType classifies authentication failures. Only
// ErrInvalidCredentials turns into a 401; the others fail the request.
type ErrorType string

const (
	ErrInvalidCredentials ErrorType = "invalid_credentials"
	ErrUnavailable        ErrorType = "unavailable"
)

type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// IsInvalidCredentials reports whether err rejects the credentials, as
// opposed to the authenticator failing.
func IsInvalidCredentials(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == ErrInvalidCredentials
}

// Authenticator checks credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, creds Credentials) (*Principal, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, creds Credentials) (*Principal, error)

func (f AuthenticatorFunc) Authenticate(ctx context.Context, creds Credentials) (*Principal, error) {
	return f(ctx, creds)
}
