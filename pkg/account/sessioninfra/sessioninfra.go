// Package sessioninfra implements account.SessionRepository against
// PostgreSQL.
package sessioninfra

import (
	"context"
	"database/sql"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/account"
	"github.com/Abraxas-365/manifesto/pkg/errx"
	"github.com/Abraxas-365/manifesto/pkg/kernel"
	"github.com/jmoiron/sqlx"
)

type PostgresSessionRepository struct {
	db *sqlx.DB
}

func NewPostgresSessionRepository(db *sqlx.DB) account.SessionRepository {
	return &PostgresSessionRepository{db: db}
}

type sessionPersistence struct {
	ID         string    `db:"id"`
	UserID     string    `db:"user_id"`
	CreatedAt  time.Time `db:"created_at"`
	ExpiresAt  time.Time `db:"expires_at"`
	LastSeenAt time.Time `db:"last_seen_at"`
}

func (r *PostgresSessionRepository) Save(ctx context.Context, s *account.UserSession) error {
	query := `
		INSERT INTO user_sessions (id, user_id, created_at, expires_at, last_seen_at)
		VALUES (:id, :user_id, :created_at, :expires_at, :last_seen_at)
		ON CONFLICT (id) DO UPDATE SET expires_at = EXCLUDED.expires_at, last_seen_at = EXCLUDED.last_seen_at`
	p := sessionPersistence{
		ID: s.ID, UserID: s.UserID.String(), CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt, LastSeenAt: s.LastSeenAt,
	}
	if _, err := r.db.NamedExecContext(ctx, query, p); err != nil {
		return errx.Wrap(err, "failed to save session", errx.TypeInternal)
	}
	return nil
}

func (r *PostgresSessionRepository) FindByID(ctx context.Context, id string) (*account.UserSession, error) {
	var p sessionPersistence
	err := r.db.GetContext(ctx, &p, `SELECT * FROM user_sessions WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, account.ErrInvalidCredentials()
		}
		return nil, errx.Wrap(err, "failed to find session", errx.TypeInternal)
	}
	return &account.UserSession{
		ID: p.ID, UserID: kernel.NewUserID(p.UserID), CreatedAt: p.CreatedAt,
		ExpiresAt: p.ExpiresAt, LastSeenAt: p.LastSeenAt,
	}, nil
}

func (r *PostgresSessionRepository) Touch(ctx context.Context, id string, lastSeenAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE user_sessions SET last_seen_at = $1 WHERE id = $2`, lastSeenAt, id)
	if err != nil {
		return errx.Wrap(err, "failed to touch session", errx.TypeInternal)
	}
	return nil
}

func (r *PostgresSessionRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE id = $1`, id)
	if err != nil {
		return errx.Wrap(err, "failed to delete session", errx.TypeInternal)
	}
	return nil
}

func (r *PostgresSessionRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE expires_at < $1`, before)
	if err != nil {
		return 0, errx.Wrap(err, "failed to delete expired sessions", errx.TypeInternal)
	}
	return result.RowsAffected()
}
