package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/reqtrack/reqtrack/internal/jobs"
	"github.com/reqtrack/reqtrack/internal/rbac"
)

// RBACAdmin is the subset of rbac.AdminService the sync jobs drive.
type RBACAdmin interface {
	SeedCatalog(ctx context.Context) (rbac.SeedReport, error)
	SyncLegacyRole(ctx context.Context, userID int64) (string, error)
}

// RBACSyncJob runs permission catalog and legacy role maintenance.
type RBACSyncJob struct {
	admin   RBACAdmin
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewRBACSyncJob wires the sync handlers.
func NewRBACSyncJob(admin RBACAdmin, logger *slog.Logger, metrics *jobmetrics.Metrics) *RBACSyncJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &RBACSyncJob{admin: admin, logger: logger, metrics: metrics}
}

// Handlers lists the task handlers for worker registration.
func (j *RBACSyncJob) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskRBACCatalogSync, Handler: j.HandleCatalogSync},
		{Type: TaskRBACLegacyRoleSync, Handler: j.HandleLegacyRoleSync},
	}
}

// HandleCatalogSync seeds catalog permissions and missing built-in roles.
func (j *RBACSyncJob) HandleCatalogSync(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.admin == nil {
		return errors.New("rbac catalog sync: handler not configured")
	}
	tracker := j.metrics.Track(TaskRBACCatalogSync)
	defer func() { err = tracker.End(err) }()

	report, err := j.admin.SeedCatalog(ctx)
	if err != nil {
		return fmt.Errorf("rbac catalog sync: %w", err)
	}
	j.logger.Info("rbac catalog synced",
		slog.Int("permissions", report.Permissions),
		slog.Any("roles_created", report.RolesCreated),
	)
	return nil
}

// HandleLegacyRoleSync rewrites one user's legacy role column.
func (j *RBACSyncJob) HandleLegacyRoleSync(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.admin == nil {
		return errors.New("rbac legacy role sync: handler not configured")
	}
	var payload LegacyRoleSyncPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.UserID <= 0 {
		j.logger.Warn("rbac legacy role sync: bad payload", slog.Any("error", err))
		return fmt.Errorf("rbac legacy role sync: bad payload: %w", asynq.SkipRetry)
	}
	tracker := j.metrics.Track(TaskRBACLegacyRoleSync)
	defer func() { err = tracker.End(err) }()

	role, err := j.admin.SyncLegacyRole(ctx, payload.UserID)
	if err != nil {
		if errors.Is(err, rbac.ErrNotFound) {
			j.logger.Warn("rbac legacy role sync: user missing", slog.Int64("user_id", payload.UserID))
			return fmt.Errorf("rbac legacy role sync: %w", asynq.SkipRetry)
		}
		return fmt.Errorf("rbac legacy role sync: %w", err)
	}
	j.logger.Debug("rbac legacy role synced", slog.Int64("user_id", payload.UserID), slog.String("role", role))
	return nil
}
