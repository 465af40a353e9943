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

type PostgresEmailVerificationRepository struct {
	db *sqlx.DB
}

func NewPostgresEmailVerificationRepository(db *sqlx.DB) account.EmailVerificationRepository {
	return &PostgresEmailVerificationRepository{db: db}
}

type emailVerificationPersistence struct {
	Token     string    `db:"token"`
	UserID    string    `db:"user_id"`
	Email     string    `db:"email"`
	ExpiresAt time.Time `db:"expires_at"`
	IsUsed    bool      `db:"is_used"`
	CreatedAt time.Time `db:"created_at"`
}

func (p emailVerificationPersistence) toDomain() *account.EmailVerificationRequest {
	return &account.EmailVerificationRequest{
		Token: p.Token, UserID: kernel.NewUserID(p.UserID), Email: p.Email,
		ExpiresAt: p.ExpiresAt, IsUsed: p.IsUsed, CreatedAt: p.CreatedAt,
	}
}

func (r *PostgresEmailVerificationRepository) IssueInvalidatingPrior(ctx context.Context, req *account.EmailVerificationRequest) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errx.Wrap(err, "failed to begin email verification transaction", errx.TypeInternal)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE email_verification_requests SET is_used = true WHERE user_id = $1 AND is_used = false`,
		req.UserID.String()); err != nil {
		return errx.Wrap(err, "failed to invalidate prior verification tokens", errx.TypeInternal)
	}

	query := `
		INSERT INTO email_verification_requests (token, user_id, email, expires_at, is_used, created_at)
		VALUES (:token, :user_id, :email, :expires_at, :is_used, :created_at)`
	p := emailVerificationPersistence{
		Token: req.Token, UserID: req.UserID.String(), Email: req.Email,
		ExpiresAt: req.ExpiresAt, IsUsed: req.IsUsed, CreatedAt: req.CreatedAt,
	}
	if _, err := tx.NamedExecContext(ctx, query, p); err != nil {
		return errx.Wrap(err, "failed to insert email verification token", errx.TypeInternal)
	}

	if err := tx.Commit(); err != nil {
		return errx.Wrap(err, "failed to commit email verification issue", errx.TypeInternal)
	}
	return nil
}

func (r *PostgresEmailVerificationRepository) FindByToken(ctx context.Context, token string) (*account.EmailVerificationRequest, error) {
	var p emailVerificationPersistence
	err := r.db.GetContext(ctx, &p, `SELECT * FROM email_verification_requests WHERE token = $1`, token)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, account.ErrInvalidVerifyToken()
		}
		return nil, errx.Wrap(err, "failed to find email verification token", errx.TypeInternal)
	}
	return p.toDomain(), nil
}

// ConsumeAtomically marks the token used with a conditional UPDATE, so
// concurrent confirmations of the same link cannot both succeed.
func (r *PostgresEmailVerificationRepository) ConsumeAtomically(ctx context.Context, token string) (*account.EmailVerificationRequest, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errx.Wrap(err, "failed to begin consume transaction", errx.TypeInternal)
	}
	defer tx.Rollback()

	var p emailVerificationPersistence
	err = tx.GetContext(ctx, &p, `SELECT * FROM email_verification_requests WHERE token = $1 FOR UPDATE`, token)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, account.ErrInvalidVerifyToken()
		}
		return nil, errx.Wrap(err, "failed to lock email verification token", errx.TypeInternal)
	}
	if p.IsUsed || time.Now().UTC().After(p.ExpiresAt) {
		return nil, account.ErrInvalidVerifyToken()
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE email_verification_requests SET is_used = true WHERE token = $1 AND is_used = false`, token)
	if err != nil {
		return nil, errx.Wrap(err, "failed to consume email verification token", errx.TypeInternal)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, errx.Wrap(err, "failed to get rows affected", errx.TypeInternal)
	}
	if n == 0 {
		return nil, account.ErrInvalidVerifyToken()
	}

	if err := tx.Commit(); err != nil {
		return nil, errx.Wrap(err, "failed to commit consume", errx.TypeInternal)
	}
	return p.toDomain(), nil
}
