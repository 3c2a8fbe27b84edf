package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/lib/pq"

	"github.com/aryan0dhankhar/identitycore/internal/domain"
)

// PostgresRoleRepository implements domain.RoleStore using PostgreSQL
type PostgresRoleRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRoleRepository creates a new role repository
func NewPostgresRoleRepository(db *sql.DB, logger *slog.Logger) *PostgresRoleRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRoleRepository{db: db, logger: logger}
}

// ResolveRolesAndPermissions returns the user's non-deleted roles, each with
// every attached permission. Validity filtering is left to the caller.
func (r *PostgresRoleRepository) ResolveRolesAndPermissions(ctx context.Context, userID string) ([]domain.RoleGrant, error) {
	query := `
		SELECT r.code, p.code, p.status, p.deleted_at IS NOT NULL, rp.data_scope_ids
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id AND r.deleted_at IS NULL
		LEFT JOIN role_permissions rp ON rp.role_id = r.id
		LEFT JOIN permissions p ON p.id = rp.permission_id
		WHERE ur.user_id = $1
		ORDER BY r.code, p.code`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, classify(r.logger, "resolve roles", "role", err)
	}
	defer rows.Close()

	var grants []domain.RoleGrant
	index := make(map[string]int)
	for rows.Next() {
		var (
			roleCode string
			permCode sql.NullString
			status   sql.NullString
			deleted  sql.NullBool
			scopes   []string
		)
		if err := rows.Scan(&roleCode, &permCode, &status, &deleted, pq.Array(&scopes)); err != nil {
			return nil, classify(r.logger, "scan role grant", "role", err)
		}
		i, ok := index[roleCode]
		if !ok {
			i = len(grants)
			index[roleCode] = i
			grants = append(grants, domain.RoleGrant{RoleCode: roleCode})
		}
		// A role without permissions yields one row with NULL permission columns.
		if !permCode.Valid {
			continue
		}
		grants[i].Permissions = append(grants[i].Permissions, domain.PermissionGrant{
			Code:         permCode.String,
			Status:       domain.PermissionStatus(status.String),
			Deleted:      deleted.Bool,
			DataScopeIDs: scopes,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, classify(r.logger, "iterate role grants", "role", err)
	}
	return grants, nil
}

// AssignRoles replaces the user's role memberships. Every code must name a
// non-deleted role.
func (r *PostgresRoleRepository) AssignRoles(ctx context.Context, userID string, roleCodes []string) error {
	codes := distinct(roleCodes)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(r.logger, "begin assign roles", "user", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	err = tx.QueryRowContext(ctx,
		`SELECT true FROM users WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, userID,
	).Scan(&exists)
	if err != nil {
		return classify(r.logger, "lock user for role assignment", "user", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID); err != nil {
		return classify(r.logger, "clear user roles", "user", err)
	}

	if len(codes) > 0 {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO user_roles (user_id, role_id)
			SELECT $1, id FROM roles WHERE code = ANY($2) AND deleted_at IS NULL`,
			userID, pq.Array(codes),
		)
		if err != nil {
			return classify(r.logger, "insert user roles", "role", err)
		}
		if n, err := res.RowsAffected(); err != nil || int(n) != len(codes) {
			return domain.NotFound("role")
		}
	}

	if err := tx.Commit(); err != nil {
		return classify(r.logger, "commit assign roles", "user", err)
	}
	return nil
}

// SetRolePermissions replaces the permission set of a role. Existing data
// scopes are dropped with the old links.
func (r *PostgresRoleRepository) SetRolePermissions(ctx context.Context, roleCode string, permissionCodes []string) error {
	codes := distinct(permissionCodes)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(r.logger, "begin set role permissions", "role", err)
	}
	defer func() { _ = tx.Rollback() }()

	var roleID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM roles WHERE code = $1 AND deleted_at IS NULL FOR UPDATE`, roleCode,
	).Scan(&roleID)
	if err != nil {
		return classify(r.logger, "lock role", "role", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return classify(r.logger, "clear role permissions", "role", err)
	}

	if len(codes) > 0 {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO role_permissions (role_id, permission_id)
			SELECT $1, id FROM permissions WHERE code = ANY($2) AND deleted_at IS NULL`,
			roleID, pq.Array(codes),
		)
		if err != nil {
			return classify(r.logger, "insert role permissions", "permission", err)
		}
		if n, err := res.RowsAffected(); err != nil || int(n) != len(codes) {
			return domain.NotFound("permission")
		}
	}

	if err := tx.Commit(); err != nil {
		return classify(r.logger, "commit set role permissions", "role", err)
	}
	return nil
}

// ListUserIDsByRole returns every non-deleted holder of roleCode.
func (r *PostgresRoleRepository) ListUserIDsByRole(ctx context.Context, roleCode string) ([]string, error) {
	query := `
		SELECT ur.user_id
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		JOIN users u ON u.id = ur.user_id
		WHERE r.code = $1 AND u.deleted_at IS NULL
		ORDER BY ur.user_id`

	rows, err := r.db.QueryContext(ctx, query, roleCode)
	if err != nil {
		return nil, classify(r.logger, "list role holders", "role", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classify(r.logger, "scan role holder", "role", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(r.logger, "iterate role holders", "role", err)
	}
	return ids, nil
}

func distinct(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
