package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/reqtrack/reqtrack/internal/platform/httpx"
	"github.com/reqtrack/reqtrack/internal/rbac"
	"github.com/reqtrack/reqtrack/internal/shared"
)

// PermissionSessions binds permission contexts to HTTP sessions.
type PermissionSessions interface {
	SignIn(ctx context.Context, sessionID string, p rbac.Principal) *rbac.PermissionContext
	SignOut(sessionID string)
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	permissions    PermissionSessions
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sessions *shared.SessionManager, csrf *shared.CSRFManager, permissions PermissionSessions) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:         logger,
		service:        service,
		sessionManager: sessions,
		csrfManager:    csrf,
		permissions:    permissions,
		validator:      validator.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/csrf", h.csrfToken)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
}

type loginForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type csrfResponse struct {
	Token string `json:"token"`
}

type loginResponse struct {
	UserID      int64              `json:"user_id"`
	Email       string             `json:"email"`
	FullName    string             `json:"full_name"`
	Permissions []string           `json:"permissions"`
	Roles       []rbac.RoleSummary `json:"roles"`
	Degraded    bool               `json:"degraded"`
	CSRFToken   string             `json:"csrf_token"`
}

func (h *Handler) csrfToken(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	token, err := h.csrfManager.EnsureToken(r.Context(), sess)
	if err != nil {
		h.logger.Error("ensure csrf token", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, csrfResponse{Token: token})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during login")
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}

	var form loginForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.ProblemFields(w, http.StatusBadRequest, "Validation Failed", "invalid login form", httpx.FieldErrors(err))
		return
	}

	user, err := h.service.Authenticate(r.Context(), form.Email, form.Password)
	if err != nil {
		if errors.Is(err, shared.ErrInvalidCredentials) {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid email or password")
			return
		}
		h.logger.Error("authenticate", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "please try again")
		return
	}

	if previous := sess.User(); previous != "" && h.permissions != nil {
		h.permissions.SignOut(sess.ID)
	}
	h.sessionManager.Renew(sess)
	sess.SetUser(strconv.FormatInt(user.ID, 10))
	csrfToken, err := h.csrfManager.RotateToken(sess)
	if err != nil {
		h.logger.Error("rotate csrf token", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	expiresAt := time.Now().Add(h.sessionManager.TTL())
	if err := h.service.RegisterSession(r.Context(), sess.ID, user.ID, expiresAt, r.RemoteAddr, r.UserAgent()); err != nil {
		h.logger.Warn("register session", slog.Any("error", err))
	}

	resp := loginResponse{
		UserID:      user.ID,
		Email:       user.Email,
		FullName:    user.FullName,
		Permissions: []string{},
		Roles:       []rbac.RoleSummary{},
		CSRFToken:   csrfToken,
	}
	if h.permissions != nil {
		pc := h.permissions.SignIn(r.Context(), sess.ID, user.Principal())
		if res, ready := pc.Snapshot(); ready {
			resp.Permissions = res.Codes()
			resp.Roles = append(resp.Roles, res.Roles...)
			resp.Degraded = res.Degraded
		}
	}
	h.logger.Info("user signed in", slog.Int64("user_id", user.ID))
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if h.permissions != nil {
			h.permissions.SignOut(sess.ID)
		}
		if sess.User() != "" {
			if err := h.service.RemoveSession(r.Context(), sess.ID); err != nil {
				h.logger.Warn("remove session", slog.Any("error", err))
			}
		}
		h.sessionManager.Destroy(sess)
	}
	w.WriteHeader(http.StatusNoContent)
}
