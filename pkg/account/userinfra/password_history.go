package userinfra

import (
	"context"

	"github.com/Abraxas-365/manifesto/pkg/account"
	"github.com/Abraxas-365/manifesto/pkg/errx"
	"github.com/Abraxas-365/manifesto/pkg/kernel"
	"github.com/jmoiron/sqlx"
)

type PostgresPasswordHistoryRepository struct {
	db *sqlx.DB
}

func NewPostgresPasswordHistoryRepository(db *sqlx.DB) account.PasswordHistoryRepository {
	return &PostgresPasswordHistoryRepository{db: db}
}

type passwordHistoryPersistence struct {
	UserID       string `db:"user_id"`
	PasswordHash string `db:"password_hash"`
}

// Insert appends the new hash and prunes to the retain most-recent entries
// in one transaction, so history never grows unbounded.
func (r *PostgresPasswordHistoryRepository) Insert(ctx context.Context, entry account.PasswordHistoryEntry, retain int) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errx.Wrap(err, "failed to begin password history transaction", errx.TypeInternal)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO password_history (user_id, password_hash, created_at) VALUES ($1, $2, $3)`,
		entry.UserID.String(), entry.PasswordHash, entry.CreatedAt)
	if err != nil {
		return errx.Wrap(err, "failed to insert password history entry", errx.TypeInternal)
	}

	query := `
		DELETE FROM password_history
		WHERE user_id = $1 AND id NOT IN (
			SELECT id FROM password_history WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2
		)`
	if _, err := tx.ExecContext(ctx, query, entry.UserID.String(), retain); err != nil {
		return errx.Wrap(err, "failed to prune password history", errx.TypeInternal)
	}

	if err := tx.Commit(); err != nil {
		return errx.Wrap(err, "failed to commit password history insert", errx.TypeInternal)
	}
	return nil
}

func (r *PostgresPasswordHistoryRepository) Recent(ctx context.Context, userID kernel.UserID, n int) ([]account.PasswordHistoryEntry, error) {
	var rows []passwordHistoryPersistence
	query := `SELECT user_id, password_hash FROM password_history WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
	if err := r.db.SelectContext(ctx, &rows, query, userID.String(), n); err != nil {
		return nil, errx.Wrap(err, "failed to fetch recent password history", errx.TypeInternal)
	}
	out := make([]account.PasswordHistoryEntry, len(rows))
	for i, row := range rows {
		out[i] = account.PasswordHistoryEntry{UserID: kernel.NewUserID(row.UserID), PasswordHash: row.PasswordHash}
	}
	return out, nil
}
