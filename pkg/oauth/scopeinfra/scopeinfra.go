// Package scopeinfra implements oauth.ScopeRepository against PostgreSQL.
package scopeinfra

import (
	"context"
	"database/sql"

	"github.com/Abraxas-365/manifesto/pkg/errx"
	"github.com/Abraxas-365/manifesto/pkg/oauth"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type PostgresScopeRepository struct {
	db *sqlx.DB
}

func NewPostgresScopeRepository(db *sqlx.DB) oauth.ScopeRepository {
	return &PostgresScopeRepository{db: db}
}

type scopePersistence struct {
	Name        string `db:"name"`
	Description string `db:"description"`
	IsPublic    bool   `db:"is_public"`
	IsActive    bool   `db:"is_active"`
}

func toDomain(p scopePersistence) *oauth.Scope {
	return &oauth.Scope{Name: p.Name, Description: p.Description, IsPublic: p.IsPublic, IsActive: p.IsActive}
}

func (r *PostgresScopeRepository) Save(ctx context.Context, s *oauth.Scope) error {
	query := `
		INSERT INTO oauth_scopes (name, description, is_public, is_active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET
			description = EXCLUDED.description,
			is_public = EXCLUDED.is_public,
			is_active = EXCLUDED.is_active`
	_, err := r.db.ExecContext(ctx, query, s.Name, s.Description, s.IsPublic, s.IsActive)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return oauth.ErrInvalidRequest("scope already exists")
		}
		return errx.Wrap(err, "failed to save scope", errx.TypeInternal).WithDetail("name", s.Name)
	}
	return nil
}

func (r *PostgresScopeRepository) FindByName(ctx context.Context, name string) (*oauth.Scope, error) {
	var p scopePersistence
	err := r.db.GetContext(ctx, &p, `SELECT * FROM oauth_scopes WHERE name = $1`, name)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, oauth.ErrInvalidScope("scope " + name + " is not registered")
		}
		return nil, errx.Wrap(err, "failed to find scope", errx.TypeInternal)
	}
	return toDomain(p), nil
}

func (r *PostgresScopeRepository) List(ctx context.Context) ([]*oauth.Scope, error) {
	var rows []scopePersistence
	err := r.db.SelectContext(ctx, &rows, `SELECT * FROM oauth_scopes ORDER BY name`)
	if err != nil {
		return nil, errx.Wrap(err, "failed to list scopes", errx.TypeInternal)
	}
	scopes := make([]*oauth.Scope, len(rows))
	for i, row := range rows {
		scopes[i] = toDomain(row)
	}
	return scopes, nil
}

func (r *PostgresScopeRepository) Delete(ctx context.Context, name string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM oauth_scopes WHERE name = $1`, name)
	if err != nil {
		return errx.Wrap(err, "failed to delete scope", errx.TypeInternal)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errx.Wrap(err, "failed to get rows affected", errx.TypeInternal)
	}
	if n == 0 {
		return oauth.ErrInvalidScope("scope " + name + " is not registered")
	}
	return nil
}
