package jobs

import (
	"encoding/json"
	"errors"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRBACCatalogSync upserts the permission catalog and built-in roles.
	TaskRBACCatalogSync = "rbac:catalog_sync"
	// TaskRBACLegacyRoleSync rewrites a user's legacy role column.
	TaskRBACLegacyRoleSync = "rbac:legacy_role_sync"
)

// LegacyRoleSyncPayload identifies the user whose legacy role is rewritten.
type LegacyRoleSyncPayload struct {
	UserID int64 `json:"user_id"`
}

// NewCatalogSyncTask constructs a catalog sync task.
func NewCatalogSyncTask() *asynq.Task {
	return asynq.NewTask(TaskRBACCatalogSync, nil)
}

// NewLegacyRoleSyncTask constructs a legacy role sync task for userID.
func NewLegacyRoleSyncTask(userID int64) (*asynq.Task, error) {
	if userID <= 0 {
		return nil, errors.New("jobs: legacy role sync requires a user id")
	}
	data, err := json.Marshal(LegacyRoleSyncPayload{UserID: userID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRBACLegacyRoleSync, data), nil
}
