package shared

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

type sessionContextKey struct{}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// SessionUserID parses the user ID bound to sess. Nil and anonymous
// sessions yield ErrNoSessionUser.
func SessionUserID(sess *Session) (int64, error) {
	if sess == nil {
		return 0, ErrNoSessionUser
	}
	raw := strings.TrimSpace(sess.User())
	if raw == "" {
		return 0, ErrNoSessionUser
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("session user %q: not a valid id", raw)
	}
	return id, nil
}
