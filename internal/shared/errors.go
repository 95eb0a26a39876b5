package shared

import "errors"

var (
	// ErrInvalidInput indicates malformed or missing caller input.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnauthorized indicates missing, invalid, or unresolvable credentials.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden indicates an authenticated caller lacking permission.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict indicates a uniqueness or reserved-name collision.
	ErrConflict = errors.New("conflict")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
)
