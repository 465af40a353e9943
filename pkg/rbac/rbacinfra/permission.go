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

type PostgresPermissionRepository struct {
	db *sqlx.DB
}

func NewPostgresPermissionRepository(db *sqlx.DB) rbac.PermissionRepository {
	return &PostgresPermissionRepository{db: db}
}

type permissionPersistence struct {
	ID         string         `db:"id"`
	Name       string         `db:"name"`
	Type       string         `db:"type"`
	HTTPMethod sql.NullString `db:"api_http_method"`
	Endpoint   sql.NullString `db:"api_endpoint"`
	MenuID     sql.NullString `db:"menu_id"`
	IsActive   bool           `db:"is_active"`
	CreatedAt  time.Time      `db:"created_at"`
}

func (p permissionPersistence) toDomain() *rbac.Permission {
	perm := &rbac.Permission{
		ID: p.ID, Name: p.Name, Type: rbac.PermissionType(p.Type),
		IsActive: p.IsActive, CreatedAt: p.CreatedAt,
	}
	if p.Type == string(rbac.PermissionTypeAPI) {
		perm.APIDetails = &rbac.APIDetails{HTTPMethod: p.HTTPMethod.String, Endpoint: p.Endpoint.String}
	}
	if p.Type == string(rbac.PermissionTypeMenu) {
		perm.MenuDetails = &rbac.MenuDetails{MenuID: p.MenuID.String}
	}
	return perm
}

func permissionToPersistence(perm *rbac.Permission) permissionPersistence {
	p := permissionPersistence{
		ID: perm.ID, Name: perm.Name, Type: string(perm.Type),
		IsActive: perm.IsActive, CreatedAt: perm.CreatedAt,
	}
	if perm.APIDetails != nil {
		p.HTTPMethod = sql.NullString{String: perm.APIDetails.HTTPMethod, Valid: true}
		p.Endpoint = sql.NullString{String: perm.APIDetails.Endpoint, Valid: true}
	}
	if perm.MenuDetails != nil {
		p.MenuID = sql.NullString{String: perm.MenuDetails.MenuID, Valid: true}
	}
	return p
}

func (r *PostgresPermissionRepository) Save(ctx context.Context, perm *rbac.Permission) error {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM permissions WHERE id = $1)`, perm.ID); err != nil {
		return errx.Wrap(err, "failed to check permission existence", errx.TypeInternal)
	}
	p := permissionToPersistence(perm)
	if exists {
		query := `UPDATE permissions SET is_active = :is_active WHERE id = :id`
		if _, err := r.db.NamedExecContext(ctx, query, p); err != nil {
			return errx.Wrap(err, "failed to update permission", errx.TypeInternal)
		}
		return nil
	}
	query := `
		INSERT INTO permissions (id, name, type, api_http_method, api_endpoint, menu_id, is_active, created_at)
		VALUES (:id, :name, :type, :api_http_method, :api_endpoint, :menu_id, :is_active, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, p); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return rbac.ErrPermissionImmutable()
		}
		return errx.Wrap(err, "failed to create permission", errx.TypeInternal)
	}
	return nil
}

func (r *PostgresPermissionRepository) FindByID(ctx context.Context, id string) (*rbac.Permission, error) {
	var p permissionPersistence
	err := r.db.GetContext(ctx, &p, `SELECT * FROM permissions WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, rbac.ErrPermissionNotFound()
		}
		return nil, errx.Wrap(err, "failed to find permission by id", errx.TypeInternal)
	}
	return p.toDomain(), nil
}

func (r *PostgresPermissionRepository) FindByName(ctx context.Context, name string) (*rbac.Permission, error) {
	var p permissionPersistence
	err := r.db.GetContext(ctx, &p, `SELECT * FROM permissions WHERE name = $1`, name)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, rbac.ErrPermissionNotFound()
		}
		return nil, errx.Wrap(err, "failed to find permission by name", errx.TypeInternal)
	}
	return p.toDomain(), nil
}

func (r *PostgresPermissionRepository) List(ctx context.Context, opts kernel.PaginationOptions) (kernel.Paginated[*rbac.Permission], error) {
	page, size := opts.Page, opts.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM permissions`); err != nil {
		return kernel.Paginated[*rbac.Permission]{}, errx.Wrap(err, "failed to count permissions", errx.TypeInternal)
	}
	var rows []permissionPersistence
	query := `SELECT * FROM permissions ORDER BY name LIMIT $1 OFFSET $2`
	if err := r.db.SelectContext(ctx, &rows, query, size, (page-1)*size); err != nil {
		return kernel.Paginated[*rbac.Permission]{}, errx.Wrap(err, "failed to list permissions", errx.TypeInternal)
	}
	perms := make([]*rbac.Permission, len(rows))
	for i, row := range rows {
		perms[i] = row.toDomain()
	}
	return kernel.NewPaginated(perms, page, size, total), nil
}

func (r *PostgresPermissionRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return errx.Wrap(err, "failed to delete permission", errx.TypeInternal)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errx.Wrap(err, "failed to get rows affected", errx.TypeInternal)
	}
	if n == 0 {
		return rbac.ErrPermissionNotFound()
	}
	return nil
}
