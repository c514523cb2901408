package rbac

import "time"

// Built-in role names. These roles cannot be renamed or deleted.
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleEmployee   = "employee"
)

// Permission represents one grantable capability.
type Permission struct {
	ID          int64          `json:"id"`
	Code        string         `json:"code"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Category    string         `json:"category"`
	Resource    string         `json:"resource"`
	Action      string         `json:"action"`
	Conditions  map[string]any `json:"conditions"`
	IsSystem    bool           `json:"is_system"`
	IsActive    bool           `json:"is_active"`
	// ParentID only groups permissions for display; a child never inherits a parent's grant.
	ParentID  *int64    `json:"parent_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Role represents a named, reusable bundle of permissions.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsSystem    bool      `json:"is_system"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RoleAssignment links a user to a role.
type RoleAssignment struct {
	UserID     int64     `json:"user_id"`
	RoleID     int64     `json:"role_id"`
	RoleName   string    `json:"role_name"`
	RoleActive bool      `json:"role_active"`
	AssignedBy *int64    `json:"assigned_by,omitempty"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
}

// Active reports whether both the assignment and its role are active.
func (a RoleAssignment) Active() bool {
	return a.IsActive && a.RoleActive
}

// RoleSummary is the flattened role view returned by resolution.
type RoleSummary struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Principal describes the authenticated actor whose permissions are resolved.
type Principal struct {
	ID int64
	// LegacyRole mirrors the single role column kept for backward compatibility.
	LegacyRole string
	Active     bool
}

// Resolution is the effective permission set of a principal at a point in time.
type Resolution struct {
	Permissions map[string]struct{}
	Roles       []RoleSummary
	// Degraded is true when the set came from the legacy-role fallback table.
	Degraded   bool
	ResolvedAt time.Time
}

// Has reports whether the resolution grants code.
func (r Resolution) Has(code string) bool {
	_, ok := r.Permissions[code]
	return ok
}

// Codes returns the granted codes in sorted order.
func (r Resolution) Codes() []string {
	return sortedCodes(r.Permissions)
}

// RoleNames returns the flattened role-name list.
func (r Resolution) RoleNames() []string {
	names := make([]string, 0, len(r.Roles))
	for _, role := range r.Roles {
		names = append(names, role.Name)
	}
	return names
}

// RoleInput carries role create/update fields.
type RoleInput struct {
	Name        string `json:"name" validate:"required,max=64"`
	Description string `json:"description" validate:"max=500"`
	IsActive    *bool  `json:"is_active"`
}

// PermissionInput carries custom permission create fields.
type PermissionInput struct {
	Code        string         `json:"code" validate:"required,max=128"`
	Name        string         `json:"name" validate:"required,max=128"`
	Description string         `json:"description" validate:"max=500"`
	Category    string         `json:"category" validate:"max=64"`
	Conditions  map[string]any `json:"conditions"`
	ParentID    *int64         `json:"parent_id"`
}

// PermissionUpdate carries the mutable fields of a permission.
type PermissionUpdate struct {
	Name        *string `json:"name" validate:"omitempty,max=128"`
	Description *string `json:"description" validate:"omitempty,max=500"`
	IsActive    *bool   `json:"is_active"`
}

// IsBuiltInRole reports whether name is one of the protected built-in roles.
func IsBuiltInRole(name string) bool {
	switch name {
	case RoleSuperAdmin, RoleAdmin, RoleEmployee:
		return true
	}
	return false
}
