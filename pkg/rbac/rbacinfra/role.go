// Package rbacinfra implements the rbac repository ports (roles,
// permissions, role/user assignments) against PostgreSQL.
package rbacinfra

import (
	"context"
	"database/sql"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/errx"
	"github.com/Abraxas-365/manifesto/pkg/kernel"
	"github.com/Abraxas-365/manifesto/pkg/rbac"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type PostgresRoleRepository struct {
	db *sqlx.DB
}

func NewPostgresRoleRepository(db *sqlx.DB) rbac.RoleRepository {
	return &PostgresRoleRepository{db: db}
}

type rolePersistence struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	DisplayName string    `db:"display_name"`
	IsActive    bool      `db:"is_active"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (p rolePersistence) toDomain() *rbac.Role {
	return &rbac.Role{
		ID: p.ID, Name: p.Name, DisplayName: p.DisplayName,
		IsActive: p.IsActive, CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt,
	}
}

func roleToPersistence(r *rbac.Role) rolePersistence {
	return rolePersistence{
		ID: r.ID, Name: r.Name, DisplayName: r.DisplayName,
		IsActive: r.IsActive, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

func (r *PostgresRoleRepository) Save(ctx context.Context, role *rbac.Role) error {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM roles WHERE id = $1)`, role.ID); err != nil {
		return errx.Wrap(err, "failed to check role existence", errx.TypeInternal)
	}
	p := roleToPersistence(role)
	if exists {
		if !role.IsActive {
			current, err := r.FindByID(ctx, role.ID)
			if err != nil {
				return err
			}
			if current.Name == rbac.SystemAdminRole {
				return rbac.ErrRoleReserved()
			}
		}
		query := `UPDATE roles SET display_name = :display_name, is_active = :is_active, updated_at = :updated_at WHERE id = :id`
		if _, err := r.db.NamedExecContext(ctx, query, p); err != nil {
			return errx.Wrap(err, "failed to update role", errx.TypeInternal)
		}
		return nil
	}
	query := `
		INSERT INTO roles (id, name, display_name, is_active, created_at, updated_at)
		VALUES (:id, :name, :display_name, :is_active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, p); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return rbac.ErrRoleNameTaken()
		}
		return errx.Wrap(err, "failed to create role", errx.TypeInternal)
	}
	return nil
}

func (r *PostgresRoleRepository) FindByID(ctx context.Context, id string) (*rbac.Role, error) {
	var p rolePersistence
	err := r.db.GetContext(ctx, &p, `SELECT * FROM roles WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, rbac.ErrRoleNotFound()
		}
		return nil, errx.Wrap(err, "failed to find role by id", errx.TypeInternal)
	}
	return p.toDomain(), nil
}

func (r *PostgresRoleRepository) FindByName(ctx context.Context, name string) (*rbac.Role, error) {
	var p rolePersistence
	err := r.db.GetContext(ctx, &p, `SELECT * FROM roles WHERE name = $1`, name)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, rbac.ErrRoleNotFound()
		}
		return nil, errx.Wrap(err, "failed to find role by name", errx.TypeInternal)
	}
	return p.toDomain(), nil
}

func (r *PostgresRoleRepository) List(ctx context.Context, opts kernel.PaginationOptions) (kernel.Paginated[*rbac.Role], error) {
	page, size := opts.Page, opts.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM roles`); err != nil {
		return kernel.Paginated[*rbac.Role]{}, errx.Wrap(err, "failed to count roles", errx.TypeInternal)
	}
	var rows []rolePersistence
	query := `SELECT * FROM roles ORDER BY name LIMIT $1 OFFSET $2`
	if err := r.db.SelectContext(ctx, &rows, query, size, (page-1)*size); err != nil {
		return kernel.Paginated[*rbac.Role]{}, errx.Wrap(err, "failed to list roles", errx.TypeInternal)
	}
	roles := make([]*rbac.Role, len(rows))
	for i, row := range rows {
		roles[i] = row.toDomain()
	}
	return kernel.NewPaginated(roles, page, size, total), nil
}

func (r *PostgresRoleRepository) Delete(ctx context.Context, id string) error {
	role, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if role.IsReserved() {
		return rbac.ErrRoleReserved()
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, id); err != nil {
		return errx.Wrap(err, "failed to delete role", errx.TypeInternal)
	}
	return nil
}
