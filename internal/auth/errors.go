package auth

import "errors"

// Credential and token errors.
var (
	ErrCredential    = errors.New("auth: malformed password hash")
	ErrTokenCreation = errors.New("auth: token creation failed")
	ErrInvalidToken  = errors.New("auth: invalid token")
	ErrTokenExpired  = errors.New("auth: token expired")
	ErrTokenParse    = errors.New("auth: token parse error")
	ErrUnknownRole   = errors.New("auth: unknown role")
)

// Authorization errors returned by Guard.Authorize. Each one maps to its own
// response status at the HTTP boundary.
var (
	ErrMissingCredential      = errors.New("auth: missing credential")
	ErrMalformedCredential    = errors.New("auth: malformed credential")
	ErrInvalidCredential      = errors.New("auth: invalid credential")
	ErrInsufficientPermission = errors.New("auth: insufficient permission")
)
