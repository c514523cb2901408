package shared

// Requirement workflow permissions declared for RBAC.
const (
	// Requirement permissions
	PermRequirementCreate          = "requirement.create"
	PermRequirementViewOwn         = "requirement.view_own"
	PermRequirementViewAll         = "requirement.view_all"
	PermRequirementEditOwn         = "requirement.edit_own"
	PermRequirementEditAll         = "requirement.edit_all"
	PermRequirementDeleteOwn       = "requirement.delete_own"
	PermRequirementDeleteAll       = "requirement.delete_all"
	PermRequirementStatusUpdate    = "requirement.status_update"
	PermRequirementStatusUpdateOwn = "requirement.status_update_own"
	PermRequirementAssign          = "requirement.assign"
	PermRequirementExport          = "requirement.export"

	// Comment permissions
	PermCommentCreate    = "comment.create"
	PermCommentView      = "comment.view"
	PermCommentEditOwn   = "comment.edit_own"
	PermCommentEditAll   = "comment.edit_all"
	PermCommentDeleteOwn = "comment.delete_own"
	PermCommentDeleteAll = "comment.delete_all"

	// Rating permissions
	PermRatingCreate          = "rating.create"
	PermRatingView            = "rating.view"
	PermRatingManageTemplates = "rating.manage_templates"

	// Form schema permissions
	PermFormView   = "form.view"
	PermFormManage = "form.manage"

	// Notification permissions
	PermNotificationView   = "notification.view"
	PermNotificationSend   = "notification.send"
	PermNotificationManage = "notification.manage"
)

// RequirementScopes lists all permissions related to requirement records.
func RequirementScopes() []string {
	return []string{
		PermRequirementCreate,
		PermRequirementViewOwn,
		PermRequirementViewAll,
		PermRequirementEditOwn,
		PermRequirementEditAll,
		PermRequirementDeleteOwn,
		PermRequirementDeleteAll,
		PermRequirementStatusUpdate,
		PermRequirementStatusUpdateOwn,
		PermRequirementAssign,
		PermRequirementExport,
	}
}

// CommentScopes lists all permissions related to requirement comments.
func CommentScopes() []string {
	return []string{
		PermCommentCreate,
		PermCommentView,
		PermCommentEditOwn,
		PermCommentEditAll,
		PermCommentDeleteOwn,
		PermCommentDeleteAll,
	}
}

// EngagementScopes lists rating, form and notification permissions.
func EngagementScopes() []string {
	return []string{
		PermRatingCreate,
		PermRatingView,
		PermRatingManageTemplates,
		PermFormView,
		PermFormManage,
		PermNotificationView,
		PermNotificationSend,
		PermNotificationManage,
	}
}
