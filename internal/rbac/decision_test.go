package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reqtrack/reqtrack/internal/shared"
)

func readyActor(t *testing.T, userID int64, codes ...string) *PermissionContext {
	t.Helper()
	pc := NewPermissionContext(newStaticResolver(codes...), nil, ContextOptions{})
	pc.SignIn(context.Background(), Principal{ID: userID, Active: true})
	return pc
}

func TestOwnershipOrGlobal(t *testing.T) {
	owned := Resource{Kind: "requirement", OwnerIDs: []int64{5}}
	foreign := Resource{Kind: "requirement", OwnerIDs: []int64{6}}

	tests := []struct {
		name  string
		actor Actor
		res   Resource
		want  bool
	}{
		{"owner with scoped permission", readyActor(t, 5, shared.PermRequirementEditOwn), owned, true},
		{"non-owner with scoped permission", readyActor(t, 5, shared.PermRequirementEditOwn), foreign, false},
		{"global permission ignores ownership", readyActor(t, 5, shared.PermRequirementEditAll), foreign, true},
		{"owner without permission", readyActor(t, 5), owned, false},
		{"nil actor", nil, owned, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, OwnershipOrGlobal(tc.actor, tc.res, EditRule("requirement")))
		})
	}
}

func TestOwnershipMatchesLegacyOwnerField(t *testing.T) {
	actor := readyActor(t, 5, shared.PermRequirementDeleteOwn)
	legacy := Resource{Kind: "requirement", OwnerIDs: []int64{0, 5}}

	assert.True(t, CanDelete(actor, legacy))
	assert.False(t, CanDelete(actor, Resource{Kind: "requirement", OwnerIDs: []int64{0, 0}}))
}

func TestZeroUserOwnsNothing(t *testing.T) {
	res := Resource{OwnerIDs: []int64{0}, AssigneeID: 0}
	assert.False(t, res.IsOwner(0))
	assert.False(t, res.IsAssignee(0))
}

func TestStatusUpdateIncludesAssignee(t *testing.T) {
	res := Resource{Kind: "requirement", OwnerIDs: []int64{1}, AssigneeID: 5}

	assert.True(t, CanUpdateStatus(readyActor(t, 5, shared.PermRequirementStatusUpdateOwn), res))
	assert.False(t, CanEdit(readyActor(t, 5, shared.PermRequirementEditOwn), res), "assignees do not own for edit")
	assert.True(t, CanUpdateStatus(readyActor(t, 9, shared.PermRequirementEditAll), res))
	assert.True(t, CanUpdateStatus(readyActor(t, 9, shared.PermRequirementStatusUpdate), res))
	assert.False(t, CanUpdateStatus(readyActor(t, 9, shared.PermRequirementStatusUpdateOwn), res))
}

func TestDecisionsFailClosedWhileLoading(t *testing.T) {
	pc := NewPermissionContext(newStaticResolver(shared.PermRequirementEditAll), nil, ContextOptions{})
	res := Resource{Kind: "requirement", OwnerIDs: []int64{5}}

	assert.False(t, CanEdit(pc, res))
}

func TestRuleCodes(t *testing.T) {
	assert.Equal(t, "comment.edit_own", Code("comment", "edit_own"))
	assert.Equal(t, OwnershipRule{Global: []string{"comment.delete_all"}, Scoped: "comment.delete_own"}, DeleteRule("comment"))
	assert.True(t, StatusUpdateRule("requirement").IncludeAssignee)
}
