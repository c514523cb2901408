package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessions(t *testing.T) (*SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionManager(client, "sid", "secret", time.Hour, false), mr
}

func commitNew(t *testing.T, sm *SessionManager, user string) (*Session, *http.Cookie) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(context.Background(), req)
	require.NoError(t, err)
	sess.SetUser(user)
	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(context.Background(), rec, req, sess))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	return sess, cookies[0]
}

func TestSessionRoundTrip(t *testing.T) {
	sm, _ := newTestSessions(t)
	sess, cookie := commitNew(t, sm, "7")
	assert.Equal(t, sm.CookieValue(sess.ID), cookie.Value)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	loaded, err := sm.Load(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, loaded.ID)
	assert.Equal(t, "7", loaded.User())
	assert.False(t, loaded.IssuedAt().IsZero())
}

func TestSessionRejectsForgedCookie(t *testing.T) {
	sm, _ := newTestSessions(t)
	sess, _ := commitNew(t, sm, "7")

	for _, value := range []string{sess.ID, sess.ID + ".forged", "." + sm.sign("")} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: "sid", Value: value})
		loaded, err := sm.Load(context.Background(), req)
		require.NoError(t, err)
		assert.NotEqual(t, sess.ID, loaded.ID, value)
		assert.Empty(t, loaded.User(), value)
	}
}

func TestSessionSlidingExpiry(t *testing.T) {
	sm, mr := newTestSessions(t)
	sess, cookie := commitNew(t, sm, "7")

	mr.FastForward(50 * time.Minute)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	_, err := sm.Load(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, mr.TTL(sessionKeyPrefix+sess.ID))

	mr.FastForward(2 * time.Hour)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	loaded, err := sm.Load(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, sess.ID, loaded.ID)
}

func TestSessionRenewDropsPreviousID(t *testing.T) {
	sm, mr := newTestSessions(t)
	_, cookie := commitNew(t, sm, "7")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	sess, err := sm.Load(context.Background(), req)
	require.NoError(t, err)
	oldID := sess.ID

	sm.Renew(sess)
	require.NotEqual(t, oldID, sess.ID)
	require.NoError(t, sm.Commit(context.Background(), httptest.NewRecorder(), req, sess))
	assert.False(t, mr.Exists(sessionKeyPrefix+oldID))
	assert.True(t, mr.Exists(sessionKeyPrefix+sess.ID))
}

func TestSessionDestroyClearsCookie(t *testing.T) {
	sm, mr := newTestSessions(t)
	sess, _ := commitNew(t, sm, "7")

	sm.Destroy(sess)
	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(context.Background(), rec, httptest.NewRequest(http.MethodGet, "/", nil), sess))
	assert.False(t, mr.Exists(sessionKeyPrefix+sess.ID))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
}
