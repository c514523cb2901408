package shared

import "errors"

// Session and credential errors shared by the auth and rbac layers.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNoSessionUser      = errors.New("session has no user")

	ErrCSRFTokenMissing  = errors.New("csrf token missing")
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)
