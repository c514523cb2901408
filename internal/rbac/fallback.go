package rbac

import (
	"strings"

	"github.com/reqtrack/reqtrack/internal/shared"
)

// Fallback tiers keyed by the legacy single-role column. This table is only
// consulted when resolution against the store fails.
const (
	TierElevated = "elevated"
	TierAdmin    = "admin"
	TierEmployee = "employee"
)

var fallbackPermissions = map[string][]string{
	TierElevated: {
		shared.PermRequirementCreate,
		shared.PermRequirementViewAll,
		shared.PermRequirementEditAll,
		shared.PermRequirementDeleteAll,
		shared.PermRequirementStatusUpdate,
		shared.PermRequirementAssign,
		shared.PermCommentCreate,
		shared.PermCommentView,
		shared.PermUserView,
		shared.PermUserManage,
		shared.PermRoleView,
		shared.PermRoleManage,
		shared.PermPermissionView,
		shared.PermPermissionManage,
	},
	TierAdmin: {
		shared.PermRequirementCreate,
		shared.PermRequirementViewAll,
		shared.PermRequirementEditAll,
		shared.PermRequirementStatusUpdate,
		shared.PermRequirementAssign,
		shared.PermCommentCreate,
		shared.PermCommentView,
		shared.PermUserView,
	},
	TierEmployee: {
		shared.PermRequirementCreate,
		shared.PermRequirementViewOwn,
		shared.PermRequirementEditOwn,
		shared.PermRequirementStatusUpdateOwn,
		shared.PermCommentCreate,
	},
}

// LegacyTier maps a legacy role string to its fallback tier. Unknown roles map to "".
func LegacyTier(legacyRole string) string {
	switch strings.ToLower(strings.TrimSpace(legacyRole)) {
	case "super_admin", "superadmin", "super-admin", "owner":
		return TierElevated
	case "admin", "manager":
		return TierAdmin
	case "employee", "user", "staff":
		return TierEmployee
	}
	return ""
}

// FallbackPermissions returns the fixed permission set for a legacy role.
// Unknown roles receive nothing.
func FallbackPermissions(legacyRole string) map[string]struct{} {
	codes := fallbackPermissions[LegacyTier(legacyRole)]
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return set
}
