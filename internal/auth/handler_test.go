package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/reqtrack/reqtrack/internal/auth"
	"github.com/reqtrack/reqtrack/internal/rbac"
	"github.com/reqtrack/reqtrack/internal/shared"
	_ "github.com/reqtrack/reqtrack/testing"
)

type stubRepo struct {
	user     *auth.User
	sessions map[string]int64
}

func (s *stubRepo) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	if s.user == nil || s.user.Email != email {
		return nil, shared.ErrNotFound
	}
	return s.user, nil
}

func (s *stubRepo) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	if s.sessions == nil {
		s.sessions = make(map[string]int64)
	}
	s.sessions[id] = userID
	return nil
}

func (s *stubRepo) DeleteSession(ctx context.Context, id string) error {
	delete(s.sessions, id)
	return nil
}

type staticResolver struct {
	codes []string
}

func (r staticResolver) Resolve(ctx context.Context, p rbac.Principal) rbac.Resolution {
	set := make(map[string]struct{}, len(r.codes))
	for _, c := range r.codes {
		set[c] = struct{}{}
	}
	return rbac.Resolution{Permissions: set, ResolvedAt: time.Now()}
}

type fixture struct {
	handler  *auth.Handler
	sessions *shared.SessionManager
	registry *rbac.Registry
	repo     *stubRepo
}

func newFixture(t *testing.T, user *auth.User) fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessionManager := shared.NewSessionManager(redisClient, "test_session", "secret", time.Hour, false)
	csrfManager := shared.NewCSRFManager("csrfsecret")
	registry := rbac.NewRegistry(staticResolver{codes: []string{"requirement.create", "requirement.view_own"}}, rbac.NewMemoryBus(), nil, rbac.ContextOptions{})
	t.Cleanup(registry.Close)
	repo := &stubRepo{user: user}
	handler := auth.NewHandler(nil, auth.NewService(repo), sessionManager, csrfManager, registry)
	return fixture{handler: handler, sessions: sessionManager, registry: registry, repo: repo}
}

func (f fixture) serve(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, *shared.Session) {
	t.Helper()
	sess, err := f.sessions.Load(context.Background(), req)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	ctx := shared.ContextWithSession(req.Context(), sess)
	req = req.WithContext(ctx)

	res := httptest.NewRecorder()
	f.mount().ServeHTTP(res, req)
	if err := f.sessions.Commit(ctx, res, req, sess); err != nil {
		t.Fatalf("commit session: %v", err)
	}
	return res, sess
}

func (f fixture) mount() http.Handler {
	r := chi.NewRouter()
	r.Route("/auth", f.handler.MountRoutes)
	return r
}

func hashed(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return string(hash)
}

func TestCSRFTokenIssued(t *testing.T) {
	f := newFixture(t, nil)

	res, sess := f.serve(t, httptest.NewRequest(http.MethodGet, "/auth/csrf", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", res.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["token"] == "" || body["token"] != sess.Get(shared.CSRFSessionKey) {
		t.Fatalf("expected token to match session, got %q", body["token"])
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	f := newFixture(t, &auth.User{ID: 1, Email: "user@test.local", PasswordHash: hashed(t, "correctpass"), IsActive: true})

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"user@test.local","password":"wrongpass"}`))
	res, sess := f.serve(t, req)

	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
	if sess.User() != "" {
		t.Fatalf("session must stay anonymous")
	}
	if f.registry.Len() != 0 {
		t.Fatalf("no permission context expected")
	}
}

func TestLoginValidationErrors(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"nope","password":"short"}`))
	res, _ := f.serve(t, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), `"Email":"email"`) {
		t.Fatalf("expected email field error, got %s", res.Body.String())
	}
}

func TestLoginInactiveUserRejected(t *testing.T) {
	f := newFixture(t, &auth.User{ID: 2, Email: "gone@test.local", PasswordHash: hashed(t, "correctpass"), IsActive: false})

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"gone@test.local","password":"correctpass"}`))
	res, _ := f.serve(t, req)

	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}

func TestLoginBindsPermissionContext(t *testing.T) {
	f := newFixture(t, &auth.User{ID: 7, Email: "user@test.local", PasswordHash: hashed(t, "correctpass"), LegacyRole: "employee", IsActive: true})

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"user@test.local","password":"correctpass"}`))
	res, sess := f.serve(t, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if sess.User() != "7" {
		t.Fatalf("expected session user 7, got %q", sess.User())
	}
	pc, ok := f.registry.Get(sess.ID)
	if !ok {
		t.Fatalf("permission context not registered for session")
	}
	if pc.State() != rbac.StateReady || !pc.HasPermission("requirement.create") {
		t.Fatalf("expected ready context with requirement.create")
	}
	if f.repo.sessions[sess.ID] != 7 {
		t.Fatalf("expected login session to be recorded")
	}

	var body struct {
		UserID      int64    `json:"user_id"`
		Permissions []string `json:"permissions"`
		CSRFToken   string   `json:"csrf_token"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.UserID != 7 || len(body.Permissions) != 2 {
		t.Fatalf("unexpected login body: %+v", body)
	}
	if body.CSRFToken == "" || body.CSRFToken != sess.Get(shared.CSRFSessionKey) {
		t.Fatalf("expected rotated csrf token bound to the renewed session")
	}
}

func TestLogoutClearsPermissionContext(t *testing.T) {
	f := newFixture(t, &auth.User{ID: 7, Email: "user@test.local", PasswordHash: hashed(t, "correctpass"), IsActive: true})

	loginReq := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"user@test.local","password":"correctpass"}`))
	_, sess := f.serve(t, loginReq)
	pc, ok := f.registry.Get(sess.ID)
	if !ok {
		t.Fatalf("expected context after login")
	}

	logoutReq := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	logoutReq.AddCookie(&http.Cookie{Name: f.sessions.CookieName(), Value: f.sessions.CookieValue(sess.ID)})
	res, loggedOut := f.serve(t, logoutReq)

	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.Code)
	}
	if !loggedOut.Destroyed() {
		t.Fatalf("expected session destroyed")
	}
	if _, ok := f.registry.Get(sess.ID); ok {
		t.Fatalf("expected context removed")
	}
	if pc.State() != rbac.StateUnauthenticated || pc.HasPermission("requirement.create") {
		t.Fatalf("signed out context must deny everything")
	}
}
