package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/reqtrack/reqtrack/internal/platform/httpx"
	"github.com/reqtrack/reqtrack/internal/rbac"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context) ([]User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	CreateUser(ctx context.Context, in CreateInput, passwordHash string) (User, error)
	UpdateUser(ctx context.Context, id int64, in UpdateInput) (User, error)
}

// Service handles user business logic.
type Service struct {
	repo      RepositoryPort
	bus       rbac.Bus
	logger    *slog.Logger
	validator *validator.Validate
	cost      int
}

// NewService builds Service instance. bus receives an event whenever an
// account's activity flag changes so live sessions re-resolve.
func NewService(repo RepositoryPort, bus rbac.Bus, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, bus: bus, logger: logger, validator: validator.New(), cost: bcrypt.DefaultCost}
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.repo.ListUsers(ctx)
}

// GetUser returns one user.
func (s *Service) GetUser(ctx context.Context, id int64) (User, error) {
	return s.repo.GetUser(ctx, id)
}

// CreateUser validates input and stores a new account.
func (s *Service) CreateUser(ctx context.Context, in CreateInput) (User, error) {
	if err := s.validator.Struct(in); err != nil {
		return User{}, errors.Join(httpx.ErrValidation, err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return User{}, fmt.Errorf("users: hash password: %w", err)
	}
	return s.repo.CreateUser(ctx, in, string(hash))
}

// UpdateUser applies profile changes.
func (s *Service) UpdateUser(ctx context.Context, id int64, in UpdateInput) (User, error) {
	if err := s.validator.Struct(in); err != nil {
		return User{}, errors.Join(httpx.ErrValidation, err)
	}
	before, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return User{}, err
	}
	user, err := s.repo.UpdateUser(ctx, id, in)
	if err != nil {
		return User{}, err
	}
	if before.IsActive != user.IsActive {
		s.notify(ctx, id)
	}
	return user, nil
}

// Deactivate disables an account. Its sessions lose every permission on the
// next refresh.
func (s *Service) Deactivate(ctx context.Context, id int64) (User, error) {
	inactive := false
	return s.UpdateUser(ctx, id, UpdateInput{IsActive: &inactive})
}

func (s *Service) notify(ctx context.Context, userID int64) {
	if s.bus == nil {
		return
	}
	evt := rbac.NewEvent(rbac.ChangeUserStatus)
	evt.UserID = userID
	if err := s.bus.Publish(ctx, evt); err != nil {
		s.logger.Warn("publish user activity change", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}
