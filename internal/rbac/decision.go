package rbac

// Actor is a Checker bound to a user identity.
type Actor interface {
	Checker
	UserID() int64
	Loading() bool
}

// Resource describes an ownable record for ownership-qualified decisions.
type Resource struct {
	// Kind is the permission resource prefix, e.g. "requirement".
	Kind string
	// OwnerIDs holds every creator field of the record, current and legacy.
	// Zero values are ignored.
	OwnerIDs   []int64
	AssigneeID int64
}

// Ownable is implemented by domain records that can be authorised.
type Ownable interface {
	AuthzResource() Resource
}

// OwnershipRule is the two-tier rule: any global permission, or ownership
// plus the scoped permission.
type OwnershipRule struct {
	Global []string
	Scoped string
	// IncludeAssignee treats the assignee as an owner for the scoped tier.
	IncludeAssignee bool
}

// IsOwner reports whether userID matches any owner field of res.
func (res Resource) IsOwner(userID int64) bool {
	if userID == 0 {
		return false
	}
	for _, id := range res.OwnerIDs {
		if id != 0 && id == userID {
			return true
		}
	}
	return false
}

// IsAssignee reports whether userID is the assignee of res.
func (res Resource) IsAssignee(userID int64) bool {
	return userID != 0 && res.AssigneeID == userID
}

// OwnershipOrGlobal evaluates rule for actor against res.
func OwnershipOrGlobal(actor Actor, res Resource, rule OwnershipRule) bool {
	if actor == nil {
		return false
	}
	if len(rule.Global) > 0 && actor.HasAnyPermission(rule.Global...) {
		return true
	}
	if rule.Scoped == "" {
		return false
	}
	uid := actor.UserID()
	related := res.IsOwner(uid) || (rule.IncludeAssignee && res.IsAssignee(uid))
	return related && actor.HasPermission(rule.Scoped)
}

// Code joins a resource kind and action into a permission code.
func Code(kind, action string) string {
	return kind + "." + action
}

// EditRule returns the edit_all / edit_own rule for kind.
func EditRule(kind string) OwnershipRule {
	return OwnershipRule{Global: []string{Code(kind, "edit_all")}, Scoped: Code(kind, "edit_own")}
}

// DeleteRule returns the delete_all / delete_own rule for kind.
func DeleteRule(kind string) OwnershipRule {
	return OwnershipRule{Global: []string{Code(kind, "delete_all")}, Scoped: Code(kind, "delete_own")}
}

// StatusUpdateRule returns the status_update rule for kind; owners and
// assignees qualify for the scoped tier.
func StatusUpdateRule(kind string) OwnershipRule {
	return OwnershipRule{
		Global:          []string{Code(kind, "status_update"), Code(kind, "edit_all")},
		Scoped:          Code(kind, "status_update_own"),
		IncludeAssignee: true,
	}
}

// CanEdit reports whether actor may edit obj.
func CanEdit(actor Actor, obj Ownable) bool {
	res := obj.AuthzResource()
	return OwnershipOrGlobal(actor, res, EditRule(res.Kind))
}

// CanDelete reports whether actor may delete obj.
func CanDelete(actor Actor, obj Ownable) bool {
	res := obj.AuthzResource()
	return OwnershipOrGlobal(actor, res, DeleteRule(res.Kind))
}

// CanUpdateStatus reports whether actor may change the status of obj.
func CanUpdateStatus(actor Actor, obj Ownable) bool {
	res := obj.AuthzResource()
	return OwnershipOrGlobal(actor, res, StatusUpdateRule(res.Kind))
}

// AuthzResource lets a bare Resource be passed where an Ownable is expected.
func (res Resource) AuthzResource() Resource {
	return res
}
