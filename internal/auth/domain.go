package auth

import (
	"strings"
	"time"

	"github.com/reqtrack/reqtrack/internal/rbac"
)

// User is a sign-in account as seen by the auth module. LegacyRole is the
// tier column consulted when the permission store is degraded.
type User struct {
	ID           int64
	Email        string
	FullName     string
	PasswordHash string
	LegacyRole   string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Principal converts an authenticated user into the identity used for
// permission resolution.
func (u *User) Principal() rbac.Principal {
	return rbac.Principal{ID: u.ID, LegacyRole: u.LegacyRole, Active: u.IsActive}
}

// NormalizeEmail returns the lookup form of an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
