package rbac

import "github.com/reqtrack/reqtrack/internal/platform/db"

const migrationComponent = "rbac"

// Migrations returns the RBAC schema in apply order.
// The users table must exist first.
func Migrations() []db.Migration {
	return []db.Migration{
		{
			Component:   migrationComponent,
			Version:     1,
			Description: "permissions, roles and link tables",
			SQL: `
CREATE TABLE IF NOT EXISTS permissions (
	id BIGSERIAL PRIMARY KEY,
	code TEXT NOT NULL UNIQUE CHECK (code ~ '^[a-z_]+\.[a-z_]+$'),
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	resource TEXT NOT NULL,
	action TEXT NOT NULL,
	conditions JSONB NOT NULL DEFAULT '{}'::jsonb,
	is_system BOOLEAN NOT NULL DEFAULT FALSE,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	parent_id BIGINT REFERENCES permissions(id) ON DELETE SET NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS roles (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	is_system BOOLEAN NOT NULL DEFAULT FALSE,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS role_permissions (
	role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
	permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE RESTRICT,
	PRIMARY KEY (role_id, permission_id)
);

CREATE TABLE IF NOT EXISTS user_roles (
	user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE RESTRICT,
	assigned_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (user_id, role_id)
);

CREATE INDEX IF NOT EXISTS idx_user_roles_role_id ON user_roles(role_id);
CREATE INDEX IF NOT EXISTS idx_role_permissions_permission_id ON role_permissions(permission_id);
`,
		},
		{
			Component:   migrationComponent,
			Version:     2,
			Description: "atomic role permission replacement",
			SQL: `
CREATE OR REPLACE FUNCTION rbac_replace_role_permissions(p_role_id BIGINT, p_permission_ids BIGINT[])
RETURNS VOID
LANGUAGE plpgsql
AS $$
BEGIN
	PERFORM 1 FROM roles WHERE id = p_role_id FOR UPDATE;
	IF NOT FOUND THEN
		RAISE EXCEPTION 'role % not found', p_role_id USING ERRCODE = 'P0002';
	END IF;

	DELETE FROM role_permissions WHERE role_id = p_role_id;

	INSERT INTO role_permissions (role_id, permission_id)
	SELECT DISTINCT p_role_id, pid
	FROM unnest(COALESCE(p_permission_ids, ARRAY[]::BIGINT[])) AS pid;

	UPDATE roles SET updated_at = NOW() WHERE id = p_role_id;
END;
$$;
`,
		},
	}
}
