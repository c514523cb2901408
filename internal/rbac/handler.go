package rbac

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/reqtrack/reqtrack/internal/platform/httpx"
	"github.com/reqtrack/reqtrack/internal/shared"
)

// Handler exposes the RBAC administration and self-service JSON API.
type Handler struct {
	logger *slog.Logger
	admin  *AdminService
	rbac   Middleware
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, admin *AdminService, rbac Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, admin: admin, rbac: rbac}
}

// MountRoutes registers RBAC routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Attach)
		r.Get("/me", h.me)
		r.Post("/me/refresh", h.refreshMe)
		r.Post("/decisions", h.decisions)
		r.Get("/catalog", h.catalog)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermRoleView, shared.PermRoleManage))
		r.Get("/roles", h.listRoles)
		r.Get("/roles/{id}/permissions", h.rolePermissions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermRoleManage))
		r.Post("/roles", h.createRole)
		r.Put("/roles/{id}", h.updateRole)
		r.Delete("/roles/{id}", h.deleteRole)
		r.Put("/roles/{id}/permissions", h.replaceRolePermissions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermPermissionView, shared.PermPermissionManage))
		r.Get("/permissions", h.listPermissions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermPermissionManage))
		r.Post("/permissions", h.createPermission)
		r.Put("/permissions/{id}", h.updatePermission)
		r.Delete("/permissions/{id}", h.deletePermission)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermUserManage))
		r.Get("/users/{id}/roles", h.userRoles)
		r.Put("/users/{id}/roles", h.setUserRoles)
		r.Delete("/users/{id}/roles", h.clearUserRoles)
	})
}

type meResponse struct {
	UserID      int64         `json:"user_id"`
	State       string        `json:"state"`
	Permissions []string      `json:"permissions"`
	Roles       []RoleSummary `json:"roles"`
	Degraded    bool          `json:"degraded"`
	ResolvedAt  *time.Time    `json:"resolved_at,omitempty"`
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	actor := ActorFromContext(r.Context())
	if actor == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "sign in required")
		return
	}
	if err := h.rbac.waitReady(r.Context(), actor); err != nil {
		h.logger.Warn("rbac me not ready", slog.Any("error", err))
	}
	httpx.JSON(w, http.StatusOK, buildMe(actor))
}

func (h *Handler) refreshMe(w http.ResponseWriter, r *http.Request) {
	actor := ActorFromContext(r.Context())
	if actor == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "sign in required")
		return
	}
	if err := actor.Refresh(r.Context()); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, buildMe(actor))
}

func buildMe(actor *PermissionContext) meResponse {
	res, ready := actor.Snapshot()
	out := meResponse{
		UserID:      actor.UserID(),
		State:       actor.State().String(),
		Permissions: []string{},
		Roles:       []RoleSummary{},
	}
	if ready {
		out.Permissions = res.Codes()
		out.Roles = append(out.Roles, res.Roles...)
		out.Degraded = res.Degraded
		resolvedAt := res.ResolvedAt
		out.ResolvedAt = &resolvedAt
	}
	return out
}

type decisionRequest struct {
	Kind       string  `json:"kind" validate:"required,max=64"`
	OwnerIDs   []int64 `json:"owner_ids"`
	AssigneeID int64   `json:"assignee_id"`
}

type decisionResponse struct {
	CanEdit         ButtonState `json:"can_edit"`
	CanDelete       ButtonState `json:"can_delete"`
	CanUpdateStatus ButtonState `json:"can_update_status"`
}

func (h *Handler) decisions(w http.ResponseWriter, r *http.Request) {
	actor := ActorFromContext(r.Context())
	if actor == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "sign in required")
		return
	}
	var req decisionRequest
	if err := h.decode(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if err := h.rbac.waitReady(r.Context(), actor); err != nil {
		h.logger.Warn("rbac decisions not ready", slog.Any("error", err))
	}
	res := Resource{Kind: req.Kind, OwnerIDs: req.OwnerIDs, AssigneeID: req.AssigneeID}
	httpx.JSON(w, http.StatusOK, decisionResponse{
		CanEdit:         decisionButton(actor, res, EditRule(res.Kind), CanEdit),
		CanDelete:       decisionButton(actor, res, DeleteRule(res.Kind), CanDelete),
		CanUpdateStatus: decisionButton(actor, res, StatusUpdateRule(res.Kind), CanUpdateStatus),
	})
}

func decisionButton(actor Actor, res Resource, rule OwnershipRule, predicate func(Actor, Ownable) bool) ButtonState {
	codes := append(append([]string{}, rule.Global...), rule.Scoped)
	return ButtonGuard{Guard: Guard{
		Permissions: codes,
		Allow:       func(a Actor) bool { return predicate(a, res) },
	}}.State(actor)
}

type catalogEntryResponse struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	OptIn       bool   `json:"opt_in"`
}

type catalogGroupResponse struct {
	Category    string                 `json:"category"`
	Label       string                 `json:"label"`
	Permissions []catalogEntryResponse `json:"permissions"`
}

func (h *Handler) catalog(w http.ResponseWriter, r *http.Request) {
	groups := ByCategory()
	out := make([]catalogGroupResponse, 0, len(groups))
	for _, category := range Categories() {
		group := catalogGroupResponse{Category: category, Label: CategoryLabel(category)}
		for _, e := range groups[category] {
			group.Permissions = append(group.Permissions, catalogEntryResponse{Code: e.Code, Description: e.Description, OptIn: e.OptIn()})
		}
		out = append(out, group)
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.admin.ListRoles(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	if roles == nil {
		roles = []Role{}
	}
	httpx.JSON(w, http.StatusOK, roles)
}

func (h *Handler) rolePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	perms, err := h.admin.GetRolePermissions(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if perms == nil {
		perms = []Permission{}
	}
	httpx.JSON(w, http.StatusOK, perms)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var in RoleInput
	if err := h.decode(r, &in); err != nil {
		h.respondError(w, err)
		return
	}
	role, err := h.admin.CreateRole(r.Context(), actorID(r), in)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var in RoleInput
	if err := h.decode(r, &in); err != nil {
		h.respondError(w, err)
		return
	}
	role, err := h.admin.UpdateRole(r.Context(), actorID(r), id, in)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.admin.DeleteRole(r.Context(), actorID(r), id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type replacePermissionsRequest struct {
	PermissionIDs []int64  `json:"permission_ids"`
	Codes         []string `json:"codes"`
}

func (h *Handler) replaceRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req replacePermissionsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, errors.Join(ErrValidation, err))
		return
	}
	var err error
	if req.Codes != nil {
		err = h.admin.ReplaceRolePermissionCodes(r.Context(), actorID(r), id, req.Codes)
	} else {
		err = h.admin.ReplaceRolePermissions(r.Context(), actorID(r), id, req.PermissionIDs)
	}
	if err != nil {
		h.respondError(w, err)
		return
	}
	perms, err := h.admin.GetRolePermissions(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if perms == nil {
		perms = []Permission{}
	}
	httpx.JSON(w, http.StatusOK, perms)
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.admin.ListPermissions(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	if perms == nil {
		perms = []Permission{}
	}
	httpx.JSON(w, http.StatusOK, perms)
}

func (h *Handler) createPermission(w http.ResponseWriter, r *http.Request) {
	var in PermissionInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.respondError(w, errors.Join(ErrValidation, err))
		return
	}
	perm, err := h.admin.CreatePermission(r.Context(), actorID(r), in)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, perm)
}

func (h *Handler) updatePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var upd PermissionUpdate
	if err := httpx.DecodeJSON(r, &upd); err != nil {
		h.respondError(w, errors.Join(ErrValidation, err))
		return
	}
	perm, err := h.admin.UpdatePermission(r.Context(), actorID(r), id, upd)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, perm)
}

func (h *Handler) deletePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.admin.DeletePermission(r.Context(), actorID(r), id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) userRoles(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	assignments, err := h.admin.GetUserRoleAssignments(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if assignments == nil {
		assignments = []RoleAssignment{}
	}
	httpx.JSON(w, http.StatusOK, assignments)
}

type setUserRolesRequest struct {
	RoleIDs []int64 `json:"role_ids"`
}

func (h *Handler) setUserRoles(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req setUserRolesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, errors.Join(ErrValidation, err))
		return
	}
	if err := h.authorizeRoleChange(r, id, req.RoleIDs); err != nil {
		h.respondError(w, err)
		return
	}
	if err := h.admin.SetUserRoles(r.Context(), actorID(r), id, req.RoleIDs); err != nil {
		h.respondError(w, err)
		return
	}
	h.userRoles(w, r)
}

func (h *Handler) clearUserRoles(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.authorizeRoleChange(r, id, nil); err != nil {
		h.respondError(w, err)
		return
	}
	if err := h.admin.ClearRoles(r.Context(), actorID(r), id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(r *http.Request, dest any) error {
	if err := httpx.DecodeJSON(r, dest); err != nil {
		return errors.Join(ErrValidation, err)
	}
	if h.admin != nil {
		return h.admin.validate(dest)
	}
	return nil
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return 0, false
	}
	return id, true
}

func (h *Handler) authorizeRoleChange(r *http.Request, userID int64, roleIDs []int64) error {
	actor := ActorFromContext(r.Context())
	if actor == nil {
		return ErrUnauthenticated
	}
	return h.admin.AuthorizeRoleChange(r.Context(), actor, userID, roleIDs)
}

func actorID(r *http.Request) int64 {
	if actor := ActorFromContext(r.Context()); actor != nil {
		return actor.UserID()
	}
	return 0
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var inUse *RoleInUseError
	var codeErr *PermissionCodeError
	switch {
	case errors.As(err, &inUse):
		httpx.Problem(w, http.StatusConflict, "Role In Use", inUse.Error())
	case errors.As(err, &codeErr):
		httpx.ProblemFields(w, http.StatusUnprocessableEntity, "Invalid Permission Code", codeErr.Error(), map[string]string{"code": codeErr.Reason})
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrRoleInUse), errors.Is(err, ErrPermissionInUse):
		httpx.Problem(w, http.StatusConflict, "In Use", err.Error())
	case errors.Is(err, ErrSystemRoleProtected), errors.Is(err, ErrSystemPermissionProtected):
		httpx.Problem(w, http.StatusForbidden, "Protected", err.Error())
	case errors.Is(err, ErrRoleGrantDenied):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "role change requires permissions you do not hold")
	case errors.Is(err, ErrDuplicate):
		httpx.Problem(w, http.StatusConflict, "Duplicate", "a record with the same name or code already exists")
	case errors.Is(err, ErrValidation):
		if fields := httpx.FieldErrors(err); fields != nil {
			httpx.ProblemFields(w, http.StatusBadRequest, "Validation Failed", "one or more fields are invalid", fields)
			return
		}
		h.logger.Warn("rbac validation", slog.Any("error", err))
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "the request is invalid")
	case errors.Is(err, ErrUnauthenticated):
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case errors.Is(err, ErrStoreUnavailable):
		h.logger.Error("rbac store unavailable", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "please try again")
	default:
		h.logger.Error("rbac handler", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
