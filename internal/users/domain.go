package users

import "time"

// User represents a user account for management. Role is the legacy
// single-role column: it mirrors the highest ranked built-in role and is read
// only by the permission fallback.
type User struct {
	ID         int64     `json:"id"`
	Email      string    `json:"email"`
	FullName   string    `json:"full_name"`
	Department string    `json:"department"`
	Position   string    `json:"position"`
	Role       string    `json:"role"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// CreateInput carries the fields accepted when creating a user.
type CreateInput struct {
	Email      string `json:"email" validate:"required,email,max=254"`
	FullName   string `json:"full_name" validate:"required,max=128"`
	Password   string `json:"password" validate:"required,min=8,max=72"`
	Department string `json:"department" validate:"max=128"`
	Position   string `json:"position" validate:"max=128"`
}

// UpdateInput carries optional profile changes.
type UpdateInput struct {
	FullName   *string `json:"full_name" validate:"omitempty,max=128"`
	Department *string `json:"department" validate:"omitempty,max=128"`
	Position   *string `json:"position" validate:"omitempty,max=128"`
	IsActive   *bool   `json:"is_active"`
}

// DefaultLegacyRole is stored for new accounts until roles are assigned.
const DefaultLegacyRole = "employee"
