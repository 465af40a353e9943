package userinfra

import (
	"context"
	"database/sql"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/account"
	"github.com/Abraxas-365/manifesto/pkg/errx"
	"github.com/Abraxas-365/manifesto/pkg/kernel"
	"github.com/jmoiron/sqlx"
)

type PostgresPasswordResetRepository struct {
	db *sqlx.DB
}

func NewPostgresPasswordResetRepository(db *sqlx.DB) account.PasswordResetRepository {
	return &PostgresPasswordResetRepository{db: db}
}

type passwordResetPersistence struct {
	Token     string    `db:"token"`
	UserID    string    `db:"user_id"`
	ExpiresAt time.Time `db:"expires_at"`
	IsUsed    bool      `db:"is_used"`
	CreatedAt time.Time `db:"created_at"`
}

// IssueInvalidatingPrior invalidates every unused token for the user and
// inserts the new one within the same transaction, so a stale reset link
// can never be redeemed once a newer one has been issued.
func (r *PostgresPasswordResetRepository) IssueInvalidatingPrior(ctx context.Context, req *account.PasswordResetRequest) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errx.Wrap(err, "failed to begin password reset transaction", errx.TypeInternal)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE password_reset_requests SET is_used = true WHERE user_id = $1 AND is_used = false`,
		req.UserID.String()); err != nil {
		return errx.Wrap(err, "failed to invalidate prior reset tokens", errx.TypeInternal)
	}

	query := `
		INSERT INTO password_reset_requests (token, user_id, expires_at, is_used, created_at)
		VALUES (:token, :user_id, :expires_at, :is_used, :created_at)`
	p := passwordResetPersistence{
		Token: req.Token, UserID: req.UserID.String(), ExpiresAt: req.ExpiresAt,
		IsUsed: req.IsUsed, CreatedAt: req.CreatedAt,
	}
	if _, err := tx.NamedExecContext(ctx, query, p); err != nil {
		return errx.Wrap(err, "failed to insert password reset token", errx.TypeInternal)
	}

	if err := tx.Commit(); err != nil {
		return errx.Wrap(err, "failed to commit password reset issue", errx.TypeInternal)
	}
	return nil
}

func (r *PostgresPasswordResetRepository) FindByToken(ctx context.Context, token string) (*account.PasswordResetRequest, error) {
	var p passwordResetPersistence
	err := r.db.GetContext(ctx, &p, `SELECT * FROM password_reset_requests WHERE token = $1`, token)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, account.ErrInvalidResetToken()
		}
		return nil, errx.Wrap(err, "failed to find password reset token", errx.TypeInternal)
	}
	return &account.PasswordResetRequest{
		Token: p.Token, UserID: kernel.NewUserID(p.UserID), ExpiresAt: p.ExpiresAt,
		IsUsed: p.IsUsed, CreatedAt: p.CreatedAt,
	}, nil
}

// ConsumeAtomically marks the token used with a row lock plus a conditional
// UPDATE, so concurrent resets of the same link cannot both succeed.
func (r *PostgresPasswordResetRepository) ConsumeAtomically(ctx context.Context, token string) (*account.PasswordResetRequest, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errx.Wrap(err, "failed to begin consume transaction", errx.TypeInternal)
	}
	defer tx.Rollback()

	var p passwordResetPersistence
	err = tx.GetContext(ctx, &p, `SELECT * FROM password_reset_requests WHERE token = $1 FOR UPDATE`, token)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, account.ErrInvalidResetToken()
		}
		return nil, errx.Wrap(err, "failed to lock password reset token", errx.TypeInternal)
	}
	if p.IsUsed || time.Now().UTC().After(p.ExpiresAt) {
		return nil, account.ErrInvalidResetToken()
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE password_reset_requests SET is_used = true WHERE token = $1 AND is_used = false`, token)
	if err != nil {
		return nil, errx.Wrap(err, "failed to consume password reset token", errx.TypeInternal)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, errx.Wrap(err, "failed to get rows affected", errx.TypeInternal)
	}
	if n == 0 {
		return nil, account.ErrInvalidResetToken()
	}

	if err := tx.Commit(); err != nil {
		return nil, errx.Wrap(err, "failed to commit consume", errx.TypeInternal)
	}
	return &account.PasswordResetRequest{
		Token: p.Token, UserID: kernel.NewUserID(p.UserID), ExpiresAt: p.ExpiresAt,
		IsUsed: true, CreatedAt: p.CreatedAt,
	}, nil
}
