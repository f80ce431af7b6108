package auth

import "errors"

var (
	ErrNotFound        = errors.New("auth: not found")
	ErrConflict        = errors.New("auth: conflict")
	ErrInvalidInput    = errors.New("auth: invalid input")
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	ErrForbidden       = errors.New("auth: forbidden")
	ErrUpstream        = errors.New("auth: upstream failure")
)
