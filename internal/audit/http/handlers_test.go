package audithttp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reqtrack/reqtrack/internal/audit"
	"github.com/reqtrack/reqtrack/internal/rbac"
	"github.com/reqtrack/reqtrack/internal/shared"
)

type stubTimelineService struct {
	filters audit.TimelineFilters
	rows    []audit.TimelineRow
	err     error
}

func (s *stubTimelineService) Timeline(_ context.Context, filters audit.TimelineFilters) (audit.Result, error) {
	s.filters = filters
	return audit.Result{Rows: s.rows, Paging: audit.PagingInfo{Page: 1, PageSize: 20}}, s.err
}

func (s *stubTimelineService) Export(_ context.Context, filters audit.TimelineFilters) ([]audit.TimelineRow, error) {
	s.filters = filters
	return s.rows, s.err
}

type grantResolver []string

func (g grantResolver) Resolve(context.Context, rbac.Principal) rbac.Resolution {
	res := rbac.Resolution{Permissions: map[string]struct{}{}}
	for _, code := range g {
		res.Permissions[code] = struct{}{}
	}
	return res
}

func newTestRouter(svc TimelineService) chi.Router {
	h := NewHandler(nil, svc, rbac.Middleware{})
	h.now = func() time.Time { return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC) }
	r := chi.NewRouter()
	r.Route("/audit", h.MountRoutes)
	return r
}

func serve(t *testing.T, router http.Handler, target string, codes ...string) *httptest.ResponseRecorder {
	t.Helper()
	pc := rbac.NewPermissionContext(grantResolver(codes), nil, rbac.ContextOptions{})
	pc.SignIn(context.Background(), rbac.Principal{ID: 3, Active: true})
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req = req.WithContext(rbac.ContextWithActor(req.Context(), pc))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestTimelineRequiresAuditPermission(t *testing.T) {
	router := newTestRouter(&stubTimelineService{})
	rec := serve(t, router, "/audit", shared.PermRoleView)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTimelineDefaultsToLastWeek(t *testing.T) {
	svc := &stubTimelineService{}
	rec := serve(t, newTestRouter(svc), "/audit", shared.PermSystemAuditView)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC), svc.filters.From)
	assert.Equal(t, time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC), svc.filters.To)
	assert.JSONEq(t, `{"rows":null,"paging":{"page":1,"page_size":20,"has_next":false}}`, rec.Body.String())
}

func TestTimelineFilters(t *testing.T) {
	svc := &stubTimelineService{}
	rec := serve(t, newTestRouter(svc), "/audit?from=2026-03-01&to=2026-03-02&actor=5&entity=role&action=role.delete&page=2&page_size=10", shared.PermSystemAuditView)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(5), svc.filters.ActorID)
	assert.Equal(t, "role", svc.filters.Entity)
	assert.Equal(t, "role.delete", svc.filters.Action)
	assert.Equal(t, 2, svc.filters.Page)
	assert.Equal(t, 10, svc.filters.PageSize)
}

func TestTimelineRejectsBadFilters(t *testing.T) {
	router := newTestRouter(&stubTimelineService{})
	for _, q := range []string{
		"?from=yesterday",
		"?from=2026-03-10&to=2026-03-01",
		"?from=2025-01-01&to=2026-03-01",
		"?actor=abc",
		"?page=0",
	} {
		rec := serve(t, router, "/audit"+q, shared.PermSystemAuditView)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"), q)
	}
}

func TestTimelineServiceError(t *testing.T) {
	rec := serve(t, newTestRouter(&stubTimelineService{err: errors.New("db down")}), "/audit", shared.PermSystemAuditView)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestExportCSV(t *testing.T) {
	svc := &stubTimelineService{rows: []audit.TimelineRow{{ID: 1, Action: "role.create", Entity: "role", EntityID: "7"}}}
	rec := serve(t, newTestRouter(svc), "/audit/export.csv", shared.PermSystemAuditView)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[1], "role.create")
}
