package shared

// Administration permissions.
const (
	PermUserView   = "user.view"
	PermUserCreate = "user.create"
	PermUserEdit   = "user.edit"
	PermUserDelete = "user.delete"
	PermUserManage = "user.manage"

	PermRoleView   = "role.view"
	PermRoleManage = "role.manage"

	PermPermissionView   = "permission.view"
	PermPermissionManage = "permission.manage"

	PermMenuView   = "menu.view"
	PermMenuManage = "menu.manage"

	PermSystemSettings  = "system.settings"
	PermSystemAuditView = "system.audit_view"
)

// CoreScopes lists all permissions related to platform administration.
func CoreScopes() []string {
	return []string{
		PermUserView,
		PermUserCreate,
		PermUserEdit,
		PermUserDelete,
		PermUserManage,
		PermRoleView,
		PermRoleManage,
		PermPermissionView,
		PermPermissionManage,
		PermMenuView,
		PermMenuManage,
		PermSystemSettings,
		PermSystemAuditView,
	}
}
