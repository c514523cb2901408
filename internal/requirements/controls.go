package requirements

import (
	"github.com/reqtrack/reqtrack/internal/rbac"
	"github.com/reqtrack/reqtrack/internal/shared"
)

var viewRule = rbac.OwnershipRule{
	Global:          []string{shared.PermRequirementViewAll},
	Scoped:          shared.PermRequirementViewOwn,
	IncludeAssignee: true,
}

// CanView reports whether actor may open req. Assignees count as owners.
func CanView(actor rbac.Actor, req Requirement) bool {
	return rbac.OwnershipOrGlobal(actor, req.AuthzResource(), viewRule)
}

// CanComment reports whether actor may add a comment to req.
func CanComment(actor rbac.Actor, req Requirement) bool {
	return actor != nil && CanView(actor, req) && actor.HasPermission(shared.PermCommentCreate)
}

// CanAssign reports whether actor may change the assignee of req.
func CanAssign(actor rbac.Actor) bool {
	return actor != nil && actor.HasPermission(shared.PermRequirementAssign)
}

// RequirementControls is the state of every action control on a requirement.
type RequirementControls struct {
	View         rbac.ButtonState `json:"view"`
	Edit         rbac.ButtonState `json:"edit"`
	Delete       rbac.ButtonState `json:"delete"`
	UpdateStatus rbac.ButtonState `json:"update_status"`
	Assign       rbac.ButtonState `json:"assign"`
	Comment      rbac.ButtonState `json:"comment"`
}

// ControlsFor evaluates every requirement action for actor.
func ControlsFor(actor rbac.Actor, req Requirement) RequirementControls {
	res := req.AuthzResource()
	return RequirementControls{
		View:         button(actor, ruleCodes(viewRule), func(a rbac.Actor) bool { return CanView(a, req) }),
		Edit:         button(actor, ruleCodes(rbac.EditRule(res.Kind)), func(a rbac.Actor) bool { return rbac.CanEdit(a, req) }),
		Delete:       button(actor, ruleCodes(rbac.DeleteRule(res.Kind)), func(a rbac.Actor) bool { return rbac.CanDelete(a, req) }),
		UpdateStatus: button(actor, ruleCodes(rbac.StatusUpdateRule(res.Kind)), func(a rbac.Actor) bool { return rbac.CanUpdateStatus(a, req) }),
		Assign:       button(actor, []string{shared.PermRequirementAssign}, CanAssign),
		Comment:      button(actor, []string{shared.PermCommentCreate}, func(a rbac.Actor) bool { return CanComment(a, req) }),
	}
}

// CommentControls is the state of the action controls on a comment.
type CommentControls struct {
	Edit   rbac.ButtonState `json:"edit"`
	Delete rbac.ButtonState `json:"delete"`
}

// CommentControlsFor evaluates comment actions for actor.
func CommentControlsFor(actor rbac.Actor, c Comment) CommentControls {
	return CommentControls{
		Edit:   button(actor, ruleCodes(rbac.EditRule(KindComment)), func(a rbac.Actor) bool { return rbac.CanEdit(a, c) }),
		Delete: button(actor, ruleCodes(rbac.DeleteRule(KindComment)), func(a rbac.Actor) bool { return rbac.CanDelete(a, c) }),
	}
}

func button(actor rbac.Actor, codes []string, allow func(rbac.Actor) bool) rbac.ButtonState {
	return rbac.ButtonGuard{Guard: rbac.Guard{Permissions: codes, Allow: allow}}.State(actor)
}

func ruleCodes(rule rbac.OwnershipRule) []string {
	codes := append([]string{}, rule.Global...)
	if rule.Scoped != "" {
		codes = append(codes, rule.Scoped)
	}
	return codes
}
