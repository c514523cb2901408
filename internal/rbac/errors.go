package rbac

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("rbac: not found")
	// ErrStoreUnavailable wraps transport or storage failures.
	ErrStoreUnavailable = errors.New("rbac: store unavailable")
	// ErrInvalidPermissionCode rejects malformed or unrecognised permission codes.
	ErrInvalidPermissionCode = errors.New("rbac: invalid permission code")
	// ErrRoleInUse blocks deletion of a role that is still referenced.
	ErrRoleInUse = errors.New("rbac: role in use")
	// ErrSystemRoleProtected rejects rename or delete of a built-in role.
	ErrSystemRoleProtected = errors.New("rbac: system role protected")
	// ErrSystemPermissionProtected rejects delete or rename of a system permission.
	ErrSystemPermissionProtected = errors.New("rbac: system permission protected")
	// ErrPermissionInUse blocks deletion of a custom permission still linked to roles.
	ErrPermissionInUse = errors.New("rbac: permission in use")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("rbac: validation failed")
	// ErrRoleGrantDenied rejects a role change that would move permissions the
	// actor does not hold.
	ErrRoleGrantDenied = errors.New("rbac: role grant denied")
	// ErrDuplicate indicates a unique constraint violation.
	ErrDuplicate = errors.New("rbac: duplicate")
)

// RoleInUseError reports the dependencies that block a role deletion.
type RoleInUseError struct {
	RoleID      int64
	Assignments int
}

func (e *RoleInUseError) Error() string {
	return fmt.Sprintf("rbac: role %d in use: %d active user assignment(s)", e.RoleID, e.Assignments)
}

// Unwrap lets errors.Is match ErrRoleInUse.
func (e *RoleInUseError) Unwrap() error {
	return ErrRoleInUse
}

// PermissionCodeError is a field-level validation failure for a permission code.
type PermissionCodeError struct {
	Code   string
	Reason string
}

func (e *PermissionCodeError) Error() string {
	return fmt.Sprintf("rbac: invalid permission code %q: %s", e.Code, e.Reason)
}

// Unwrap lets errors.Is match ErrInvalidPermissionCode.
func (e *PermissionCodeError) Unwrap() error {
	return ErrInvalidPermissionCode
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
