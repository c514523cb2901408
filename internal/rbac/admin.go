package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/reqtrack/reqtrack/internal/shared"
)

// AuditRecorder persists administrative actions.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// LegacyRoleSyncer schedules a rewrite of a user's legacy role column.
type LegacyRoleSyncer interface {
	EnqueueLegacyRoleSync(ctx context.Context, userID int64) error
}

// AdminConfig carries optional AdminService collaborators.
type AdminConfig struct {
	Logger  *slog.Logger
	Metrics *Metrics
	Audit   AuditRecorder
	Legacy  LegacyRoleSyncer
}

// AdminService validates role and permission mutations, applies them through
// the Store and broadcasts a permissions-changed event after each success.
type AdminService struct {
	store     Store
	bus       Bus
	logger    *slog.Logger
	metrics   *Metrics
	audit     AuditRecorder
	legacy    LegacyRoleSyncer
	validator *validator.Validate
}

// NewAdminService constructs an AdminService.
func NewAdminService(store Store, bus Bus, cfg AdminConfig) *AdminService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminService{
		store:     store,
		bus:       bus,
		logger:    logger,
		metrics:   cfg.Metrics,
		audit:     cfg.Audit,
		legacy:    cfg.Legacy,
		validator: validator.New(),
	}
}

// ListRoles returns all roles.
func (s *AdminService) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

// GetRole fetches a role by ID.
func (s *AdminService) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.store.GetRole(ctx, id)
}

// ListPermissions returns all stored permissions.
func (s *AdminService) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

// GetRolePermissions returns the permissions linked to a role.
func (s *AdminService) GetRolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	if _, err := s.store.GetRole(ctx, roleID); err != nil {
		return nil, err
	}
	return s.store.GetRolePermissions(ctx, roleID)
}

// GetUserRoleAssignments returns the role assignments of a user.
func (s *AdminService) GetUserRoleAssignments(ctx context.Context, userID int64) ([]RoleAssignment, error) {
	return s.store.GetUserRoleAssignments(ctx, userID)
}

// CreateRole inserts a custom role.
func (s *AdminService) CreateRole(ctx context.Context, actorID int64, in RoleInput) (Role, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if err := s.validate(in); err != nil {
		return Role{}, err
	}
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	role, err := s.store.CreateRole(ctx, Role{Name: in.Name, Description: in.Description, IsActive: active})
	if err != nil {
		return Role{}, err
	}
	s.record(ctx, actorID, "role.create", "role", role.ID, map[string]any{"name": role.Name})
	return role, nil
}

// UpdateRole edits a role. Built-in roles keep their name and stay active.
func (s *AdminService) UpdateRole(ctx context.Context, actorID, id int64, in RoleInput) (Role, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if err := s.validate(in); err != nil {
		return Role{}, err
	}
	current, err := s.store.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	next := current
	next.Name = in.Name
	next.Description = in.Description
	if in.IsActive != nil {
		next.IsActive = *in.IsActive
	}
	if isProtectedRole(current) && (next.Name != current.Name || !next.IsActive) {
		return Role{}, ErrSystemRoleProtected
	}
	updated, err := s.store.UpdateRole(ctx, next)
	if err != nil {
		return Role{}, err
	}
	s.record(ctx, actorID, "role.update", "role", id, map[string]any{"name": updated.Name, "is_active": updated.IsActive})
	if current.IsActive != updated.IsActive {
		evt := NewEvent(ChangeRoleUpdated)
		evt.RoleID = id
		s.broadcast(ctx, evt)
	}
	return updated, nil
}

// DeleteRole removes a custom role that no user is assigned to.
func (s *AdminService) DeleteRole(ctx context.Context, actorID, id int64) error {
	role, err := s.store.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if isProtectedRole(role) {
		return ErrSystemRoleProtected
	}
	if err := s.store.DeleteRole(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actorID, "role.delete", "role", id, map[string]any{"name": role.Name})
	evt := NewEvent(ChangeRoleDeleted)
	evt.RoleID = id
	s.broadcast(ctx, evt)
	return nil
}

// ReplaceRolePermissions swaps the full permission set of a role.
func (s *AdminService) ReplaceRolePermissions(ctx context.Context, actorID, roleID int64, permissionIDs []int64) error {
	ids := uniqueIDs(permissionIDs)
	if err := s.store.ReplaceRolePermissions(ctx, roleID, ids); err != nil {
		return err
	}
	s.record(ctx, actorID, "role.permissions.replace", "role", roleID, map[string]any{"permission_ids": ids})
	evt := NewEvent(ChangeRolePermissions)
	evt.RoleID = roleID
	s.broadcast(ctx, evt)
	return nil
}

// ReplaceRolePermissionCodes swaps the permission set of a role by code.
func (s *AdminService) ReplaceRolePermissionCodes(ctx context.Context, actorID, roleID int64, codes []string) error {
	ids, err := s.permissionIDs(ctx, codes)
	if err != nil {
		return err
	}
	return s.ReplaceRolePermissions(ctx, actorID, roleID, ids)
}

// AssignRole grants roleID to userID.
func (s *AdminService) AssignRole(ctx context.Context, actorID, userID, roleID int64) error {
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if !role.IsActive {
		return fmt.Errorf("%w: role %q is inactive", ErrValidation, role.Name)
	}
	var assignedBy *int64
	if actorID != 0 {
		assignedBy = &actorID
	}
	if err := s.store.AssignRole(ctx, userID, roleID, assignedBy); err != nil {
		return err
	}
	s.record(ctx, actorID, "user.role.assign", "user", userID, map[string]any{"role": role.Name})
	s.userRolesChanged(ctx, userID)
	return nil
}

// ClearRoles removes every role from userID.
func (s *AdminService) ClearRoles(ctx context.Context, actorID, userID int64) error {
	if err := s.store.ClearRoles(ctx, userID); err != nil {
		return err
	}
	s.record(ctx, actorID, "user.role.clear", "user", userID, nil)
	s.userRolesChanged(ctx, userID)
	return nil
}

// SetUserRoles replaces the role set of userID with roleIDs atomically. On
// failure the previous assignments stay in place.
func (s *AdminService) SetUserRoles(ctx context.Context, actorID, userID int64, roleIDs []int64) error {
	ids := uniqueIDs(roleIDs)
	roles := make([]Role, 0, len(ids))
	for _, id := range ids {
		role, err := s.store.GetRole(ctx, id)
		if err != nil {
			return err
		}
		if !role.IsActive {
			return fmt.Errorf("%w: role %q is inactive", ErrValidation, role.Name)
		}
		roles = append(roles, role)
	}
	var assignedBy *int64
	if actorID != 0 {
		assignedBy = &actorID
	}
	if err := s.store.ReplaceUserRoles(ctx, userID, ids, assignedBy); err != nil {
		return err
	}
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, role.Name)
	}
	s.record(ctx, actorID, "user.role.set", "user", userID, map[string]any{"roles": names})
	s.userRolesChanged(ctx, userID)
	return nil
}

// AuthorizeRoleChange checks that actor may move userID to roleIDs. Holders of
// role.manage may grant or revoke anything; other actors may only grant or
// revoke roles whose active permissions they hold themselves.
func (s *AdminService) AuthorizeRoleChange(ctx context.Context, actor Checker, userID int64, roleIDs []int64) error {
	if actor == nil {
		return ErrUnauthenticated
	}
	if actor.HasPermission(shared.PermRoleManage) {
		return nil
	}
	current, err := s.store.GetUserRoleAssignments(ctx, userID)
	if err != nil {
		return err
	}
	held := make(map[int64]struct{}, len(current))
	for _, a := range current {
		if a.IsActive {
			held[a.RoleID] = struct{}{}
		}
	}
	target := make(map[int64]struct{}, len(roleIDs))
	changed := make([]int64, 0, len(roleIDs)+len(held))
	for _, id := range uniqueIDs(roleIDs) {
		target[id] = struct{}{}
		if _, ok := held[id]; !ok {
			changed = append(changed, id)
		}
	}
	for id := range held {
		if _, ok := target[id]; !ok {
			changed = append(changed, id)
		}
	}
	for _, id := range changed {
		role, err := s.store.GetRole(ctx, id)
		if err != nil {
			return err
		}
		perms, err := s.store.GetRolePermissions(ctx, id)
		if err != nil {
			return err
		}
		codes := make([]string, 0, len(perms))
		for _, p := range perms {
			if p.IsActive {
				codes = append(codes, p.Code)
			}
		}
		if !actor.HasAllPermissions(codes...) {
			return fmt.Errorf("%w: role %q carries permissions the actor lacks", ErrRoleGrantDenied, role.Name)
		}
	}
	return nil
}

// CreatePermission stores a custom permission whose code is validated
// against the catalog before anything is written. Codes the seed already
// stored conflict with ErrDuplicate; opt-in codes are created this way.
func (s *AdminService) CreatePermission(ctx context.Context, actorID int64, in PermissionInput) (Permission, error) {
	in.Code = strings.TrimSpace(in.Code)
	if err := ValidateCode(in.Code); err != nil {
		return Permission{}, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if err := s.validate(in); err != nil {
		return Permission{}, err
	}
	entry, _ := Lookup(in.Code)
	category := strings.TrimSpace(in.Category)
	if category == "" {
		category = entry.Category
	}
	conditions := in.Conditions
	if conditions == nil {
		conditions = map[string]any{}
	}
	perm, err := s.store.CreatePermission(ctx, Permission{
		Code:        in.Code,
		Name:        in.Name,
		Description: strings.TrimSpace(in.Description),
		Category:    category,
		Resource:    entry.Resource(),
		Action:      entry.Action(),
		Conditions:  conditions,
		IsActive:    true,
		ParentID:    in.ParentID,
	})
	if err != nil {
		return Permission{}, err
	}
	s.record(ctx, actorID, "permission.create", "permission", perm.ID, map[string]any{"code": perm.Code})
	return perm, nil
}

// UpdatePermission edits name, description or active flag. System
// permissions cannot be renamed.
func (s *AdminService) UpdatePermission(ctx context.Context, actorID, id int64, upd PermissionUpdate) (Permission, error) {
	if err := s.validate(upd); err != nil {
		return Permission{}, err
	}
	current, err := s.store.GetPermission(ctx, id)
	if err != nil {
		return Permission{}, err
	}
	next := current
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if current.IsSystem && name != current.Name {
			return Permission{}, ErrSystemPermissionProtected
		}
		if name == "" {
			return Permission{}, fmt.Errorf("%w: name required", ErrValidation)
		}
		next.Name = name
	}
	if upd.Description != nil {
		next.Description = strings.TrimSpace(*upd.Description)
	}
	if upd.IsActive != nil {
		next.IsActive = *upd.IsActive
	}
	updated, err := s.store.UpdatePermission(ctx, next)
	if err != nil {
		return Permission{}, err
	}
	s.record(ctx, actorID, "permission.update", "permission", id, map[string]any{"code": updated.Code, "is_active": updated.IsActive})
	if current.IsActive != updated.IsActive {
		s.broadcast(ctx, NewEvent(ChangePermission))
	}
	return updated, nil
}

// DeletePermission removes an unreferenced custom permission.
func (s *AdminService) DeletePermission(ctx context.Context, actorID, id int64) error {
	perm, err := s.store.GetPermission(ctx, id)
	if err != nil {
		return err
	}
	if perm.IsSystem {
		return ErrSystemPermissionProtected
	}
	if err := s.store.DeletePermission(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actorID, "permission.delete", "permission", id, map[string]any{"code": perm.Code})
	return nil
}

// SeedReport summarises a SeedCatalog run.
type SeedReport struct {
	Permissions  int
	RolesCreated []string
}

// SeedCatalog upserts every non opt-in catalog permission and creates missing
// built-in roles with their default permission sets. Newly inserted rows are
// system permissions; rows an administrator created first stay custom.
func (s *AdminService) SeedCatalog(ctx context.Context) (SeedReport, error) {
	var report SeedReport
	for _, entry := range catalog {
		if entry.OptIn() {
			continue
		}
		_, err := s.store.UpsertPermission(ctx, Permission{
			Code:        entry.Code,
			Name:        entry.Description,
			Description: entry.Description,
			Category:    entry.Category,
			Resource:    entry.Resource(),
			Action:      entry.Action(),
			Conditions:  map[string]any{},
			IsSystem:    true,
			IsActive:    true,
		})
		if err != nil {
			return report, fmt.Errorf("rbac: seed permission %s: %w", entry.Code, err)
		}
		report.Permissions++
	}

	for _, name := range []string{RoleSuperAdmin, RoleAdmin, RoleEmployee} {
		_, err := s.store.GetRoleByName(ctx, name)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return report, err
		}
		role, err := s.store.CreateRole(ctx, Role{Name: name, Description: builtInDescriptions[name], IsSystem: true, IsActive: true})
		if err != nil {
			return report, fmt.Errorf("rbac: seed role %s: %w", name, err)
		}
		ids, err := s.permissionIDs(ctx, DefaultRolePermissions(name))
		if err != nil {
			return report, err
		}
		if err := s.store.ReplaceRolePermissions(ctx, role.ID, ids); err != nil {
			return report, fmt.Errorf("rbac: seed role %s permissions: %w", name, err)
		}
		report.RolesCreated = append(report.RolesCreated, name)
	}
	if len(report.RolesCreated) > 0 {
		s.broadcast(ctx, NewEvent(ChangeRolePermissions))
	}
	return report, nil
}

// SyncLegacyRole writes the highest ranked active built-in role of userID to
// the legacy role column. Users left with no active built-in role get an
// empty legacy role, which maps to no fallback tier.
func (s *AdminService) SyncLegacyRole(ctx context.Context, userID int64) (string, error) {
	assignments, err := s.store.GetUserRoleAssignments(ctx, userID)
	if err != nil {
		return "", err
	}
	best := ""
	for _, a := range assignments {
		if !a.Active() || !IsBuiltInRole(a.RoleName) {
			continue
		}
		if best == "" || builtInRank[a.RoleName] > builtInRank[best] {
			best = a.RoleName
		}
	}
	if err := s.store.SetLegacyRole(ctx, userID, best); err != nil {
		return "", err
	}
	return best, nil
}

// PublishRefresh broadcasts a manual permissions-changed event.
func (s *AdminService) PublishRefresh(ctx context.Context) {
	s.broadcast(ctx, NewEvent(ChangeManual))
}

var builtInRank = map[string]int{RoleEmployee: 1, RoleAdmin: 2, RoleSuperAdmin: 3}

var builtInDescriptions = map[string]string{
	RoleSuperAdmin: "Full access to every feature",
	RoleAdmin:      "Manages requirements and users",
	RoleEmployee:   "Submits and tracks own requirements",
}

// DefaultRolePermissions returns the seeded permission codes of a built-in
// role. Opt-in codes are never part of a default set.
func DefaultRolePermissions(role string) []string {
	switch role {
	case RoleSuperAdmin:
		return SeededCodes()
	case RoleAdmin:
		codes := append([]string{}, shared.RequirementScopes()...)
		codes = append(codes, shared.CommentScopes()...)
		codes = append(codes, shared.EngagementScopes()...)
		codes = append(codes,
			shared.PermUserView, shared.PermUserCreate, shared.PermUserEdit, shared.PermUserManage,
			shared.PermRoleView, shared.PermPermissionView,
			shared.PermMenuView, shared.PermSystemAuditView,
		)
		seeded := codes[:0]
		for _, code := range codes {
			if e, ok := Lookup(code); ok && !e.OptIn() {
				seeded = append(seeded, code)
			}
		}
		return seeded
	case RoleEmployee:
		return []string{
			shared.PermRequirementCreate,
			shared.PermRequirementViewOwn,
			shared.PermRequirementEditOwn,
			shared.PermRequirementDeleteOwn,
			shared.PermRequirementStatusUpdateOwn,
			shared.PermCommentCreate,
			shared.PermCommentView,
			shared.PermCommentEditOwn,
			shared.PermCommentDeleteOwn,
			shared.PermRatingCreate,
			shared.PermRatingView,
			shared.PermFormView,
			shared.PermNotificationView,
			shared.PermMenuView,
		}
	}
	return nil
}

func (s *AdminService) permissionIDs(ctx context.Context, codes []string) ([]int64, error) {
	wanted := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		if !codePattern.MatchString(code) {
			return nil, &PermissionCodeError{Code: code, Reason: "must match resource.action in lowercase letters and underscores"}
		}
		wanted[code] = struct{}{}
	}
	if len(wanted) == 0 {
		return []int64{}, nil
	}
	perms, err := s.store.GetPermissionsByCode(ctx, sortedCodes(wanted))
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(perms))
	for _, p := range perms {
		ids = append(ids, p.ID)
		delete(wanted, p.Code)
	}
	if len(wanted) > 0 {
		return nil, fmt.Errorf("%w: unknown permissions %s", ErrValidation, strings.Join(sortedCodes(wanted), ", "))
	}
	return ids, nil
}

func (s *AdminService) userRolesChanged(ctx context.Context, userID int64) {
	evt := NewEvent(ChangeUserRoles)
	evt.UserID = userID
	s.broadcast(ctx, evt)
	if s.legacy == nil {
		return
	}
	if err := s.legacy.EnqueueLegacyRoleSync(ctx, userID); err != nil {
		s.logger.Warn("rbac enqueue legacy role sync", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

func (s *AdminService) broadcast(ctx context.Context, evt Event) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, evt); err != nil {
		s.logger.Error("rbac broadcast", slog.String("kind", evt.Kind), slog.Any("error", err))
		return
	}
	s.metrics.observeBroadcast(evt.Kind)
}

func (s *AdminService) record(ctx context.Context, actorID int64, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("rbac audit", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *AdminService) validate(v any) error {
	if err := s.validator.Struct(v); err != nil {
		return errors.Join(ErrValidation, err)
	}
	return nil
}

func isProtectedRole(role Role) bool {
	return role.IsSystem || IsBuiltInRole(role.Name)
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
