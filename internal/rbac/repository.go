package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reqtrack/reqtrack/internal/platform/db"
)

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
	db   dbtx
}

// NewStore constructs a PostgreSQL backed Store.
func NewStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool, db: pool}
}

var _ Store = (*PGStore)(nil)

const roleColumns = `id, name, description, is_system, is_active, created_at, updated_at`

const permissionColumns = `p.id, p.code, p.name, p.description, p.category, p.resource, p.action,
	p.conditions, p.is_system, p.is_active, p.parent_id, p.created_at, p.updated_at`

// ListRoles returns all roles ordered by name.
func (s *PGStore) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.db.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY name`)
	if err != nil {
		return nil, classify("list roles", err)
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, classify("scan role", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list roles", err)
	}
	return roles, nil
}

// GetRole fetches a role by ID.
func (s *PGStore) GetRole(ctx context.Context, id int64) (Role, error) {
	role, err := scanRole(s.db.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
	if err != nil {
		return Role{}, classify("get role", err)
	}
	return role, nil
}

// GetRoleByName fetches a role by its unique name.
func (s *PGStore) GetRoleByName(ctx context.Context, name string) (Role, error) {
	role, err := scanRole(s.db.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE name = $1`, name))
	if err != nil {
		return Role{}, classify("get role by name", err)
	}
	return role, nil
}

// CreateRole inserts a new role.
func (s *PGStore) CreateRole(ctx context.Context, role Role) (Role, error) {
	row := s.db.QueryRow(ctx, `INSERT INTO roles (name, description, is_system, is_active)
		VALUES ($1, $2, $3, $4) RETURNING `+roleColumns,
		role.Name, role.Description, role.IsSystem, role.IsActive)
	created, err := scanRole(row)
	if err != nil {
		return Role{}, classify("create role", err)
	}
	return created, nil
}

// UpdateRole updates name, description and active flag of a role.
func (s *PGStore) UpdateRole(ctx context.Context, role Role) (Role, error) {
	row := s.db.QueryRow(ctx, `UPDATE roles SET name = $2, description = $3, is_active = $4, updated_at = NOW()
		WHERE id = $1 RETURNING `+roleColumns,
		role.ID, role.Name, role.Description, role.IsActive)
	updated, err := scanRole(row)
	if err != nil {
		return Role{}, classify("update role", err)
	}
	return updated, nil
}

// DeleteRole removes a role once no active user assignment references it.
func (s *PGStore) DeleteRole(ctx context.Context, id int64) error {
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT TRUE FROM roles WHERE id = $1 FOR UPDATE`, id).Scan(&exists); err != nil {
			return err
		}
		var assigned int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM user_roles WHERE role_id = $1 AND is_active`, id).Scan(&assigned); err != nil {
			return err
		}
		if assigned > 0 {
			return &RoleInUseError{RoleID: id, Assignments: assigned}
		}
		if _, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE role_id = $1`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, id); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
		return err
	})
	var inUse *RoleInUseError
	if errors.As(err, &inUse) {
		return err
	}
	if err != nil {
		return classify("delete role", err)
	}
	return nil
}

// ListPermissions returns all permissions ordered by category and code.
func (s *PGStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.queryPermissions(ctx, "list permissions",
		`SELECT `+permissionColumns+` FROM permissions p ORDER BY p.category, p.code`)
}

// GetPermission fetches a permission by ID.
func (s *PGStore) GetPermission(ctx context.Context, id int64) (Permission, error) {
	perm, err := scanPermission(s.db.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions p WHERE p.id = $1`, id))
	if err != nil {
		return Permission{}, classify("get permission", err)
	}
	return perm, nil
}

// GetPermissionsByCode fetches the permissions whose code is in codes.
func (s *PGStore) GetPermissionsByCode(ctx context.Context, codes []string) ([]Permission, error) {
	return s.queryPermissions(ctx, "get permissions by code",
		`SELECT `+permissionColumns+` FROM permissions p WHERE p.code = ANY($1) ORDER BY p.code`, codes)
}

// CreatePermission inserts a permission.
func (s *PGStore) CreatePermission(ctx context.Context, perm Permission) (Permission, error) {
	conditions, err := encodeConditions(perm.Conditions)
	if err != nil {
		return Permission{}, err
	}
	row := s.db.QueryRow(ctx, `INSERT INTO permissions AS p
		(code, name, description, category, resource, action, conditions, is_system, is_active, parent_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+permissionColumns,
		perm.Code, perm.Name, perm.Description, perm.Category, perm.Resource, perm.Action,
		conditions, perm.IsSystem, perm.IsActive, perm.ParentID)
	created, err := scanPermission(row)
	if err != nil {
		return Permission{}, classify("create permission", err)
	}
	return created, nil
}

// UpdatePermission updates display fields and the active flag. The code is never rewritten.
func (s *PGStore) UpdatePermission(ctx context.Context, perm Permission) (Permission, error) {
	row := s.db.QueryRow(ctx, `UPDATE permissions AS p
		SET name = $2, description = $3, is_active = $4, updated_at = NOW()
		WHERE p.id = $1 RETURNING `+permissionColumns,
		perm.ID, perm.Name, perm.Description, perm.IsActive)
	updated, err := scanPermission(row)
	if err != nil {
		return Permission{}, classify("update permission", err)
	}
	return updated, nil
}

// DeletePermission removes an unreferenced permission.
func (s *PGStore) DeletePermission(ctx context.Context, id int64) error {
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var links int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM role_permissions WHERE permission_id = $1`, id).Scan(&links); err != nil {
			return err
		}
		if links > 0 {
			return ErrPermissionInUse
		}
		tag, err := tx.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
	if errors.Is(err, ErrPermissionInUse) || errors.Is(err, ErrNotFound) {
		return err
	}
	if err != nil {
		return classify("delete permission", err)
	}
	return nil
}

// UpsertPermission inserts a permission or refreshes its catalog metadata by
// code. An existing row keeps its name, description, active and system flags.
func (s *PGStore) UpsertPermission(ctx context.Context, perm Permission) (Permission, error) {
	conditions, err := encodeConditions(perm.Conditions)
	if err != nil {
		return Permission{}, err
	}
	row := s.db.QueryRow(ctx, `INSERT INTO permissions AS p
		(code, name, description, category, resource, action, conditions, is_system, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE)
		ON CONFLICT (code) DO UPDATE SET
			category = EXCLUDED.category,
			resource = EXCLUDED.resource,
			action = EXCLUDED.action,
			is_system = p.is_system,
			updated_at = NOW()
		RETURNING `+permissionColumns,
		perm.Code, perm.Name, perm.Description, perm.Category, perm.Resource, perm.Action,
		conditions, perm.IsSystem)
	upserted, err := scanPermission(row)
	if err != nil {
		return Permission{}, classify("upsert permission", err)
	}
	return upserted, nil
}

// GetRolePermissions joins a role's permissions through role_permissions.
func (s *PGStore) GetRolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	return s.queryPermissions(ctx, "get role permissions",
		`SELECT `+permissionColumns+` FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id = $1 ORDER BY p.code`, roleID)
}

// ReplaceRolePermissions delegates to the rbac_replace_role_permissions function so the
// delete and insert commit together.
func (s *PGStore) ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if permissionIDs == nil {
		permissionIDs = []int64{}
	}
	if _, err := s.db.Exec(ctx, `SELECT rbac_replace_role_permissions($1, $2)`, roleID, permissionIDs); err != nil {
		return classify("replace role permissions", err)
	}
	return nil
}

// GetUserRoleAssignments returns every role assignment of a user with role status.
func (s *PGStore) GetUserRoleAssignments(ctx context.Context, userID int64) ([]RoleAssignment, error) {
	rows, err := s.db.Query(ctx, `SELECT ur.user_id, ur.role_id, r.name, r.is_active, ur.assigned_by, ur.is_active, ur.created_at
		FROM user_roles ur JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1 ORDER BY r.name`, userID)
	if err != nil {
		return nil, classify("get user role assignments", err)
	}
	defer rows.Close()
	var out []RoleAssignment
	for rows.Next() {
		var a RoleAssignment
		if err := rows.Scan(&a.UserID, &a.RoleID, &a.RoleName, &a.RoleActive, &a.AssignedBy, &a.IsActive, &a.CreatedAt); err != nil {
			return nil, classify("scan role assignment", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("get user role assignments", err)
	}
	return out, nil
}

// AssignRole assigns a role to a user, reactivating an existing assignment.
func (s *PGStore) AssignRole(ctx context.Context, userID, roleID int64, assignedBy *int64) error {
	_, err := s.db.Exec(ctx, `INSERT INTO user_roles (user_id, role_id, assigned_by, is_active)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (user_id, role_id) DO UPDATE SET is_active = TRUE, assigned_by = EXCLUDED.assigned_by, created_at = NOW()`,
		userID, roleID, assignedBy)
	if err != nil {
		return classify("assign role", err)
	}
	return nil
}

// ClearRoles removes every role assignment of a user.
func (s *PGStore) ClearRoles(ctx context.Context, userID int64) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID); err != nil {
		return classify("clear roles", err)
	}
	return nil
}

// ReplaceUserRoles drops the assignments not in roleIDs and upserts the rest
// in one transaction. Missing or inactive roles abort the swap.
func (s *PGStore) ReplaceUserRoles(ctx context.Context, userID int64, roleIDs []int64, assignedBy *int64) error {
	if roleIDs == nil {
		roleIDs = []int64{}
	}
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var usable int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM (
			SELECT id FROM roles WHERE id = ANY($1) AND is_active FOR SHARE) r`, roleIDs).Scan(&usable); err != nil {
			return err
		}
		if usable != len(roleIDs) {
			return fmt.Errorf("%w: unknown or inactive role in %v", ErrValidation, roleIDs)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND NOT (role_id = ANY($2))`, userID, roleIDs); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `INSERT INTO user_roles (user_id, role_id, assigned_by, is_active)
			SELECT $1, rid, $3, TRUE FROM unnest($2::BIGINT[]) AS rid
			ON CONFLICT (user_id, role_id) DO UPDATE SET is_active = TRUE`,
			userID, roleIDs, assignedBy)
		return err
	})
	if errors.Is(err, ErrValidation) {
		return err
	}
	if err != nil {
		return classify("replace user roles", err)
	}
	return nil
}

// ListRoleUsers returns the IDs of users actively assigned to a role.
func (s *PGStore) ListRoleUsers(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := s.db.Query(ctx, `SELECT user_id FROM user_roles WHERE role_id = $1 AND is_active ORDER BY user_id`, roleID)
	if err != nil {
		return nil, classify("list role users", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, classify("list role users", err)
	}
	return ids, nil
}

// GetPrincipal loads the activity flag and legacy role of a user.
func (s *PGStore) GetPrincipal(ctx context.Context, userID int64) (Principal, error) {
	p := Principal{ID: userID}
	err := s.db.QueryRow(ctx, `SELECT COALESCE(role, ''), active FROM users WHERE id = $1`, userID).Scan(&p.LegacyRole, &p.Active)
	if err != nil {
		return Principal{}, classify("get principal", err)
	}
	return p, nil
}

// SetLegacyRole writes the backward compatible single-role column.
func (s *PGStore) SetLegacyRole(ctx context.Context, userID int64, role string) error {
	tag, err := s.db.Exec(ctx, `UPDATE users SET role = $2, updated_at = NOW() WHERE id = $1`, userID, role)
	if err != nil {
		return classify("set legacy role", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) queryPermissions(ctx context.Context, op, query string, args ...interface{}) ([]Permission, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		perm, err := scanPermission(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		perms = append(perms, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return perms, nil
}

func scanRole(row pgx.Row) (Role, error) {
	var r Role
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.IsSystem, &r.IsActive, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func scanPermission(row pgx.Row) (Permission, error) {
	var (
		p          Permission
		conditions []byte
	)
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Description, &p.Category, &p.Resource, &p.Action,
		&conditions, &p.IsSystem, &p.IsActive, &p.ParentID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Permission{}, err
	}
	p.Conditions = map[string]any{}
	if len(conditions) > 0 {
		if err := json.Unmarshal(conditions, &p.Conditions); err != nil {
			return Permission{}, err
		}
	}
	return p, nil
}

func encodeConditions(conditions map[string]any) ([]byte, error) {
	if conditions == nil {
		return []byte(`{}`), nil
	}
	raw, err := json.Marshal(conditions)
	if err != nil {
		return nil, errors.Join(ErrValidation, err)
	}
	return raw, nil
}

// classify maps driver errors onto the rbac taxonomy.
func classify(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return errors.Join(ErrDuplicate, err)
		case pgErr.Code == "23503", pgErr.Code == "23514", pgErr.Code == "22P02":
			return errors.Join(ErrValidation, err)
		case pgErr.Code == "P0002":
			return ErrNotFound
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "57"):
			return unavailable(op, err)
		}
		return err
	}
	return unavailable(op, err)
}
