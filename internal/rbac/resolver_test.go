package rbac

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reqtrack/reqtrack/internal/shared"
)

func newTestResolver(store Store) (*Resolver, *Metrics, *bytes.Buffer) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	metrics := NewMetrics(prometheus.NewRegistry())
	return NewResolver(store, ResolverConfig{Logger: logger, Metrics: metrics, Timeout: time.Second}), metrics, &logs
}

func TestResolveUnionsActiveRoles(t *testing.T) {
	store := newMemStore()
	r1 := store.addRole("r1", false, shared.PermRequirementCreate, shared.PermRequirementViewOwn)
	r2 := store.addRole("r2", false, shared.PermRequirementViewOwn, shared.PermCommentCreate)
	store.addUser(1, "employee", true)
	store.assign(1, r1.ID)
	store.assign(1, r2.ID)

	resolver, metrics, _ := newTestResolver(store)
	res := resolver.Resolve(context.Background(), Principal{ID: 1, LegacyRole: "employee", Active: true})

	assert.Equal(t, []string{shared.PermCommentCreate, shared.PermRequirementCreate, shared.PermRequirementViewOwn}, res.Codes())
	assert.ElementsMatch(t, []string{"r1", "r2"}, res.RoleNames())
	assert.False(t, res.Degraded)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.resolutions.WithLabelValues(OutcomeResolved)))
}

func TestResolveInactiveUserIsEmpty(t *testing.T) {
	store := newMemStore()
	role := store.addRole("reviewer", false, shared.PermRequirementViewAll)
	store.addUser(1, "super_admin", false)
	store.assign(1, role.ID)

	resolver, metrics, _ := newTestResolver(store)
	res := resolver.Resolve(context.Background(), Principal{ID: 1, LegacyRole: "super_admin", Active: true})

	assert.Empty(t, res.Permissions)
	assert.False(t, res.Degraded)
	assert.Zero(t, store.callCount("GetUserRoleAssignments"), "inactive users short-circuit before assignments are read")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.resolutions.WithLabelValues(OutcomeInactive)))
}

func TestResolveUnknownUserIsEmpty(t *testing.T) {
	resolver, _, _ := newTestResolver(newMemStore())
	res := resolver.Resolve(context.Background(), Principal{ID: 404, LegacyRole: "admin", Active: true})
	assert.Empty(t, res.Permissions)
	assert.False(t, res.Degraded)
}

func TestResolveSkipsInactiveRolesAssignmentsAndPermissions(t *testing.T) {
	store := newMemStore()
	live := store.addRole("live", false, shared.PermRequirementCreate, shared.PermRequirementExport)
	dormant := store.addRole("dormant", false, shared.PermUserManage)
	store.addUser(1, "", true)
	store.assign(1, live.ID)
	store.assign(1, dormant.ID)

	store.mu.Lock()
	r := store.roles[dormant.ID]
	r.IsActive = false
	store.roles[dormant.ID] = r
	for id, p := range store.perms {
		if p.Code == shared.PermRequirementExport {
			p.IsActive = false
			store.perms[id] = p
		}
	}
	store.mu.Unlock()

	resolver, _, _ := newTestResolver(store)
	res := resolver.Resolve(context.Background(), Principal{ID: 1, Active: true})

	assert.Equal(t, []string{shared.PermRequirementCreate}, res.Codes())
	assert.Equal(t, []string{"live"}, res.RoleNames())
}

func TestResolveIsIdempotent(t *testing.T) {
	store := newMemStore()
	role := store.addRole("r", false, shared.PermRequirementCreate, shared.PermCommentView)
	store.addUser(1, "employee", true)
	store.assign(1, role.ID)

	resolver, _, _ := newTestResolver(store)
	p := Principal{ID: 1, LegacyRole: "employee", Active: true}
	first := resolver.Resolve(context.Background(), p)
	second := resolver.Resolve(context.Background(), p)

	assert.Equal(t, first.Permissions, second.Permissions)
	assert.Equal(t, first.Roles, second.Roles)
}

func TestResolveReviewerScenario(t *testing.T) {
	store := newMemStore()
	reviewer := store.addRole("reviewer", false, shared.PermRequirementViewAll)
	store.addUser(1, "employee", true)
	store.assign(1, reviewer.ID)

	resolver, _, _ := newTestResolver(store)
	res := resolver.Resolve(context.Background(), Principal{ID: 1, LegacyRole: "employee", Active: true})

	assert.Equal(t, []string{shared.PermRequirementViewAll}, res.Codes())
	assert.False(t, res.Has(shared.PermRequirementEditAll))

	admin := NewAdminService(store, NewMemoryBus(), AdminConfig{})
	err := admin.DeleteRole(context.Background(), 99, reviewer.ID)
	var inUse *RoleInUseError
	require.ErrorAs(t, err, &inUse)
	assert.Equal(t, 1, inUse.Assignments)
	assert.ErrorIs(t, err, ErrRoleInUse)
}

func TestResolveFallsBackWhenStoreUnavailable(t *testing.T) {
	store := newMemStore()
	store.addUser(1, "employee", true)
	store.setFail("GetUserRoleAssignments", unavailable("get user roles", errors.New("connection refused")))

	resolver, metrics, logs := newTestResolver(store)
	res := resolver.Resolve(context.Background(), Principal{ID: 1, LegacyRole: "employee", Active: true})

	assert.True(t, res.Degraded, "fallback must never look like a full resolution")
	assert.Equal(t, []string{
		shared.PermCommentCreate,
		shared.PermRequirementCreate,
		shared.PermRequirementEditOwn,
		shared.PermRequirementStatusUpdateOwn,
		shared.PermRequirementViewOwn,
	}, res.Codes())
	assert.Contains(t, logs.String(), "rbac degraded permission mode")
	assert.Contains(t, logs.String(), "legacy_role=employee")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.resolutions.WithLabelValues(OutcomeDegraded)))
}

func TestResolveFallbackOnRolePermissionFailure(t *testing.T) {
	store := newMemStore()
	role := store.addRole("r", false, shared.PermUserManage)
	store.addUser(1, "admin", true)
	store.assign(1, role.ID)
	store.setFail("GetRolePermissions", ErrStoreUnavailable)

	resolver, _, _ := newTestResolver(store)
	res := resolver.Resolve(context.Background(), Principal{ID: 1, LegacyRole: "admin", Active: true})

	assert.True(t, res.Degraded)
	assert.True(t, res.Has(shared.PermRequirementViewAll))
	assert.False(t, res.Has(shared.PermUserManage))
}

func TestResolveDeadlineTakesFallback(t *testing.T) {
	store := newMemStore()
	store.addUser(1, "employee", true)
	store.setFail("GetPrincipal", context.DeadlineExceeded)

	resolver, _, logs := newTestResolver(store)
	res := resolver.Resolve(context.Background(), Principal{ID: 1, LegacyRole: "employee", Active: true})

	assert.True(t, res.Degraded)
	assert.Equal(t, []RoleSummary{{Name: "employee"}}, res.Roles)
	assert.Contains(t, logs.String(), "rbac degraded permission mode")
}

func TestResolveStoreErrorForInactivePrincipalIsEmpty(t *testing.T) {
	store := newMemStore()
	store.setFail("*", ErrStoreUnavailable)

	resolver, _, logs := newTestResolver(store)
	res := resolver.Resolve(context.Background(), Principal{ID: 1, LegacyRole: "super_admin", Active: false})

	assert.Empty(t, res.Permissions)
	assert.NotContains(t, logs.String(), "degraded")
}
