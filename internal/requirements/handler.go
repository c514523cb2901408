package requirements

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/reqtrack/reqtrack/internal/platform/httpx"
	"github.com/reqtrack/reqtrack/internal/rbac"
)

// Handler reports which requirement actions the signed-in user may take.
type Handler struct {
	rbac rbac.Middleware
}

// NewHandler builds a Handler instance.
func NewHandler(rbac rbac.Middleware) *Handler {
	return &Handler{rbac: rbac}
}

// MountRoutes registers requirement authorization routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.rbac.Attach)
	r.Post("/controls", h.requirementControls)
	r.Post("/comments/controls", h.commentControls)
}

func (h *Handler) requirementControls(w http.ResponseWriter, r *http.Request) {
	actor := rbac.ActorFromContext(r.Context())
	if actor == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "sign in required")
		return
	}
	var req Requirement
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	httpx.JSON(w, http.StatusOK, ControlsFor(actor, req))
}

func (h *Handler) commentControls(w http.ResponseWriter, r *http.Request) {
	actor := rbac.ActorFromContext(r.Context())
	if actor == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "sign in required")
		return
	}
	var c Comment
	if err := httpx.DecodeJSON(r, &c); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	httpx.JSON(w, http.StatusOK, CommentControlsFor(actor, c))
}
