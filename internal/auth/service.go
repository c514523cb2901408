package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/reqtrack/reqtrack/internal/shared"
)

// Service wraps authentication business rules.
type Service struct {
	repo Repository

	decoyOnce sync.Once
	decoy     []byte
}

// NewService constructs a new Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Authenticate validates email/password credentials. Unknown, inactive and
// mismatched accounts all yield ErrInvalidCredentials; repository failures
// are returned wrapped.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, shared.ErrInvalidCredentials
	}
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			// Unknown accounts still pay for one bcrypt comparison.
			_ = bcrypt.CompareHashAndPassword(s.decoyHash(), []byte(password))
			return nil, shared.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("auth: find user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

func (s *Service) decoyHash() []byte {
	s.decoyOnce.Do(func() {
		s.decoy, _ = bcrypt.GenerateFromPassword([]byte("reqtrack-decoy-password"), bcrypt.DefaultCost)
	})
	return s.decoy
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	return s.repo.CreateSession(ctx, id, userID, expiresAt, ip, ua)
}

// RemoveSession deletes a session record from postgres.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}
