package rbac

import "context"

// Store is the narrow persistence contract behind roles, permissions and
// assignments. Transport failures surface as ErrStoreUnavailable.
type Store interface {
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	GetRoleByName(ctx context.Context, name string) (Role, error)
	CreateRole(ctx context.Context, role Role) (Role, error)
	UpdateRole(ctx context.Context, role Role) (Role, error)
	// DeleteRole removes the role and its permission links in one transaction.
	// It fails with *RoleInUseError while any active user assignment remains.
	DeleteRole(ctx context.Context, id int64) error

	ListPermissions(ctx context.Context) ([]Permission, error)
	GetPermission(ctx context.Context, id int64) (Permission, error)
	GetPermissionsByCode(ctx context.Context, codes []string) ([]Permission, error)
	CreatePermission(ctx context.Context, perm Permission) (Permission, error)
	UpdatePermission(ctx context.Context, perm Permission) (Permission, error)
	// DeletePermission fails with ErrPermissionInUse while role links remain.
	DeletePermission(ctx context.Context, id int64) error
	// UpsertPermission inserts or refreshes a permission keyed by code. An
	// existing row keeps its active and system flags.
	UpsertPermission(ctx context.Context, perm Permission) (Permission, error)

	GetRolePermissions(ctx context.Context, roleID int64) ([]Permission, error)
	// ReplaceRolePermissions swaps the full permission set of a role atomically.
	ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error

	GetUserRoleAssignments(ctx context.Context, userID int64) ([]RoleAssignment, error)
	AssignRole(ctx context.Context, userID, roleID int64, assignedBy *int64) error
	ClearRoles(ctx context.Context, userID int64) error
	// ReplaceUserRoles swaps the full role set of a user in one transaction.
	// Roles kept across the swap retain their original assignment metadata.
	ReplaceUserRoles(ctx context.Context, userID int64, roleIDs []int64, assignedBy *int64) error
	ListRoleUsers(ctx context.Context, roleID int64) ([]int64, error)

	GetPrincipal(ctx context.Context, userID int64) (Principal, error)
	SetLegacyRole(ctx context.Context, userID int64, role string) error
}
