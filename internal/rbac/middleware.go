package rbac

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/reqtrack/reqtrack/internal/shared"
)

type actorContextKey struct{}

// ContextWithActor stores the request's permission context.
func ContextWithActor(ctx context.Context, actor *PermissionContext) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the permission context stored by Middleware.Attach.
func ActorFromContext(ctx context.Context) *PermissionContext {
	actor, _ := ctx.Value(actorContextKey{}).(*PermissionContext)
	return actor
}

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Registry *Registry
	Logger   *slog.Logger
	// ReadyTimeout bounds how long a request waits for a Loading context.
	ReadyTimeout time.Duration
}

// Attach resolves the session's permission context and stores it on the request.
// Anonymous requests pass through untouched.
func (m Middleware) Attach(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ActorFromContext(r.Context()) != nil {
			next.ServeHTTP(w, r)
			return
		}
		sess := shared.SessionFromContext(r.Context())
		userID, ok := m.currentUserID(sess)
		if !ok || m.Registry == nil {
			next.ServeHTTP(w, r)
			return
		}
		actor := m.Registry.Ensure(r.Context(), sess.ID, userID)
		next.ServeHTTP(w, r.WithContext(ContextWithActor(r.Context(), actor)))
	})
}

// RequireAny ensures the current user has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return m.require(normalized, func(c Checker) bool { return c.HasAnyPermission(normalized...) })
}

// RequireAll ensures the current user has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return m.require(normalized, func(c Checker) bool { return c.HasAllPermissions(normalized...) })
}

func (m Middleware) require(perms []string, allowed func(Checker) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return m.Attach(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(perms) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			actor := ActorFromContext(r.Context())
			if actor == nil {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			if err := m.waitReady(r.Context(), actor); err != nil {
				m.logger().Warn("rbac context not ready", slog.Int64("user_id", actor.UserID()), slog.Any("error", err))
			}
			if allowed(actor) {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		}))
	}
}

func (m Middleware) waitReady(ctx context.Context, actor *PermissionContext) error {
	timeout := m.ReadyTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return actor.WaitReady(ctx)
}

func (m Middleware) currentUserID(sess *shared.Session) (int64, bool) {
	id, err := shared.SessionUserID(sess)
	if err != nil {
		if !errors.Is(err, shared.ErrNoSessionUser) {
			m.logger().Error("rbac parse user id", slog.Any("error", err))
		}
		return 0, false
	}
	return id, true
}

func (m Middleware) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		if _, ok := unique[p]; ok {
			continue
		}
		unique[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}
