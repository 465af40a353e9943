package rbacinfra

import (
	"context"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/errx"
	"github.com/Abraxas-365/manifesto/pkg/kernel"
	"github.com/Abraxas-365/manifesto/pkg/rbac"
	"github.com/jmoiron/sqlx"
)

type PostgresAssignmentRepository struct {
	db *sqlx.DB
}

func NewPostgresAssignmentRepository(db *sqlx.DB) rbac.AssignmentRepository {
	return &PostgresAssignmentRepository{db: db}
}

func (r *PostgresAssignmentRepository) GrantPermission(ctx context.Context, roleID, permissionID string) error {
	query := `
		INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)
		ON CONFLICT (role_id, permission_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, roleID, permissionID); err != nil {
		return errx.Wrap(err, "failed to grant permission to role", errx.TypeInternal)
	}
	return nil
}

func (r *PostgresAssignmentRepository) RevokePermission(ctx context.Context, roleID, permissionID string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID); err != nil {
		return errx.Wrap(err, "failed to revoke permission from role", errx.TypeInternal)
	}
	return nil
}

func (r *PostgresAssignmentRepository) PermissionsForRole(ctx context.Context, roleID string) ([]*rbac.Permission, error) {
	query := `
		SELECT p.* FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id = $1 AND p.is_active = true`
	var rows []permissionPersistence
	if err := r.db.SelectContext(ctx, &rows, query, roleID); err != nil {
		return nil, errx.Wrap(err, "failed to fetch permissions for role", errx.TypeInternal)
	}
	perms := make([]*rbac.Permission, len(rows))
	for i, row := range rows {
		perms[i] = row.toDomain()
	}
	return perms, nil
}

type userRolePersistence struct {
	UserID     string     `db:"user_id"`
	RoleID     string     `db:"role_id"`
	AssignedBy *string    `db:"assigned_by"`
	AssignedAt time.Time  `db:"assigned_at"`
	ExpiresAt  *time.Time `db:"expires_at"`
}

func (p userRolePersistence) toDomain() *rbac.UserRole {
	var assignedBy *kernel.UserID
	if p.AssignedBy != nil {
		id := kernel.NewUserID(*p.AssignedBy)
		assignedBy = &id
	}
	return &rbac.UserRole{
		UserID: kernel.NewUserID(p.UserID), RoleID: p.RoleID,
		AssignedBy: assignedBy, AssignedAt: p.AssignedAt, ExpiresAt: p.ExpiresAt,
	}
}

func (r *PostgresAssignmentRepository) AssignRole(ctx context.Context, ur *rbac.UserRole) error {
	var assignedBy *string
	if ur.AssignedBy != nil {
		s := ur.AssignedBy.String()
		assignedBy = &s
	}
	query := `
		INSERT INTO user_roles (user_id, role_id, assigned_by, assigned_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, role_id) DO UPDATE SET
			assigned_by = EXCLUDED.assigned_by, assigned_at = EXCLUDED.assigned_at, expires_at = EXCLUDED.expires_at`
	_, err := r.db.ExecContext(ctx, query, ur.UserID.String(), ur.RoleID, assignedBy, ur.AssignedAt, ur.ExpiresAt)
	if err != nil {
		return errx.Wrap(err, "failed to assign role to user", errx.TypeInternal)
	}
	return nil
}

func (r *PostgresAssignmentRepository) UnassignRole(ctx context.Context, userID kernel.UserID, roleID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID.String(), roleID)
	if err != nil {
		return errx.Wrap(err, "failed to unassign role from user", errx.TypeInternal)
	}
	return nil
}

func (r *PostgresAssignmentRepository) RolesForUser(ctx context.Context, userID kernel.UserID) ([]*rbac.UserRole, error) {
	var rows []userRolePersistence
	query := `SELECT * FROM user_roles WHERE user_id = $1`
	if err := r.db.SelectContext(ctx, &rows, query, userID.String()); err != nil {
		return nil, errx.Wrap(err, "failed to fetch roles for user", errx.TypeInternal)
	}
	out := make([]*rbac.UserRole, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

// EffectivePermissions resolves the deduplicated union of active permissions
// reachable from the user's active, non-expired role assignments whose role
// is itself active, in one join rather than N+1 round trips.
func (r *PostgresAssignmentRepository) EffectivePermissions(ctx context.Context, userID kernel.UserID) ([]*rbac.Permission, error) {
	query := `
		SELECT DISTINCT p.* FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		JOIN roles ro ON ro.id = rp.role_id
		JOIN user_roles ur ON ur.role_id = ro.id
		WHERE ur.user_id = $1
		  AND p.is_active = true
		  AND ro.is_active = true
		  AND (ur.expires_at IS NULL OR ur.expires_at > $2)`
	var rows []permissionPersistence
	if err := r.db.SelectContext(ctx, &rows, query, userID.String(), time.Now().UTC()); err != nil {
		return nil, errx.Wrap(err, "failed to resolve effective permissions", errx.TypeInternal)
	}
	perms := make([]*rbac.Permission, len(rows))
	for i, row := range rows {
		perms[i] = row.toDomain()
	}
	return perms, nil
}
