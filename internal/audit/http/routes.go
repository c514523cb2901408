package audithttp

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/reqtrack/reqtrack/internal/platform/httpx"
	"github.com/reqtrack/reqtrack/internal/rbac"
	"github.com/reqtrack/reqtrack/internal/shared"
)

const exportRateLimit = 10
const exportRateWindow = time.Minute

// MountRoutes registers the audit timeline and CSV export.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(exportRateLimit, exportRateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "export rate limit reached")
		}),
	)
	r.Group(func(gr chi.Router) {
		gr.Use(h.rbac.RequireAny(shared.PermSystemAuditView))
		gr.Get("/", h.handleTimeline)
		gr.With(limiter).Get("/export.csv", h.handleExport)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if actor := rbac.ActorFromContext(r.Context()); actor != nil && actor.UserID() > 0 {
		return "user:" + strconv.FormatInt(actor.UserID(), 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
