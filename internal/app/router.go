package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	audithttp "github.com/reqtrack/reqtrack/internal/audit/http"
	"github.com/reqtrack/reqtrack/internal/auth"
	"github.com/reqtrack/reqtrack/internal/observability"
	"github.com/reqtrack/reqtrack/internal/platform/httpx"
	"github.com/reqtrack/reqtrack/internal/rbac"
	"github.com/reqtrack/reqtrack/internal/requirements"
	"github.com/reqtrack/reqtrack/internal/shared"
	"github.com/reqtrack/reqtrack/internal/users"
	"github.com/reqtrack/reqtrack/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger              *slog.Logger
	Config              *Config
	SessionManager      *shared.SessionManager
	CSRFManager         *shared.CSRFManager
	Pool                *pgxpool.Pool
	AuthHandler         *auth.Handler
	RBACHandler         *rbac.Handler
	UsersHandler        *users.Handler
	RequirementsHandler *requirements.Handler
	JobHandler          *jobs.Handler
	AuditHandler        *audithttp.Handler
	Metrics             *observability.Metrics
}

// NewRouter constructs the chi.Router with reqtrack defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}
	r.Use(chimw.Logger)

	r.Get("/healthz", healthHandler(params.Pool))

	if params.AuthHandler != nil {
		r.Route("/auth", params.AuthHandler.MountRoutes)
	}
	if params.RBACHandler != nil {
		r.Route("/rbac", params.RBACHandler.MountRoutes)
	}
	if params.UsersHandler != nil {
		r.Route("/users", params.UsersHandler.MountRoutes)
	}
	if params.RequirementsHandler != nil {
		r.Route("/requirements", params.RequirementsHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.AuditHandler != nil {
		r.Route("/audit", params.AuditHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no route for "+r.URL.Path)
	})
	return r
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
}

func healthHandler(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pool == nil {
			httpx.JSON(w, http.StatusOK, healthResponse{Status: "ok"})
			return
		}
		if err := pool.Ping(r.Context()); err != nil {
			httpx.JSON(w, http.StatusServiceUnavailable, healthResponse{Status: "degraded", Database: "unreachable"})
			return
		}
		httpx.JSON(w, http.StatusOK, healthResponse{Status: "ok", Database: "ok"})
	}
}
