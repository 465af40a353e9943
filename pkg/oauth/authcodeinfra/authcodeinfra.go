// Package authcodeinfra implements oauth.AuthorizationCodeRepository against
// PostgreSQL, with ConsumeAtomically expressed as a single conditional
// UPDATE so two concurrent redemptions of the same code cannot both win.
package authcodeinfra

import (
	"context"
	"database/sql"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/errx"
	"github.com/Abraxas-365/manifesto/pkg/kernel"
	"github.com/Abraxas-365/manifesto/pkg/oauth"
	"github.com/jmoiron/sqlx"
)

type PostgresAuthorizationCodeRepository struct {
	db *sqlx.DB
}

func NewPostgresAuthorizationCodeRepository(db *sqlx.DB) oauth.AuthorizationCodeRepository {
	return &PostgresAuthorizationCodeRepository{db: db}
}

type authCodePersistence struct {
	Code                string     `db:"code"`
	UserID              string     `db:"user_id"`
	ClientID            string     `db:"client_id"`
	RedirectURI         string     `db:"redirect_uri"`
	Scope               string     `db:"scope"`
	CodeChallenge       string     `db:"code_challenge"`
	CodeChallengeMethod string     `db:"code_challenge_method"`
	Nonce               string     `db:"nonce"`
	ExpiresAt           time.Time  `db:"expires_at"`
	ConsumedAt          *time.Time `db:"consumed_at"`
	CreatedAt           time.Time  `db:"created_at"`
}

func toDomain(p authCodePersistence) *oauth.AuthorizationCode {
	return &oauth.AuthorizationCode{
		Code:                p.Code,
		UserID:              kernel.NewUserID(p.UserID),
		ClientID:            kernel.NewClientID(p.ClientID),
		RedirectURI:         p.RedirectURI,
		Scope:               p.Scope,
		CodeChallenge:       p.CodeChallenge,
		CodeChallengeMethod: oauth.CodeChallengeMethod(p.CodeChallengeMethod),
		Nonce:               p.Nonce,
		ExpiresAt:           p.ExpiresAt,
		ConsumedAt:          p.ConsumedAt,
		CreatedAt:           p.CreatedAt,
	}
}

func (r *PostgresAuthorizationCodeRepository) Save(ctx context.Context, c *oauth.AuthorizationCode) error {
	query := `
		INSERT INTO oauth_authorization_codes (
			code, user_id, client_id, redirect_uri, scope, code_challenge,
			code_challenge_method, nonce, expires_at, consumed_at, created_at
		) VALUES (
			:code, :user_id, :client_id, :redirect_uri, :scope, :code_challenge,
			:code_challenge_method, :nonce, :expires_at, :consumed_at, :created_at
		)`
	p := authCodePersistence{
		Code:                c.Code,
		UserID:              c.UserID.String(),
		ClientID:            c.ClientID.String(),
		RedirectURI:         c.RedirectURI,
		Scope:               c.Scope,
		CodeChallenge:       c.CodeChallenge,
		CodeChallengeMethod: string(c.CodeChallengeMethod),
		Nonce:               c.Nonce,
		ExpiresAt:           c.ExpiresAt,
		ConsumedAt:          c.ConsumedAt,
		CreatedAt:           c.CreatedAt,
	}
	if _, err := r.db.NamedExecContext(ctx, query, p); err != nil {
		return errx.Wrap(err, "failed to save authorization code", errx.TypeInternal)
	}
	return nil
}

func (r *PostgresAuthorizationCodeRepository) FindByCode(ctx context.Context, code string) (*oauth.AuthorizationCode, error) {
	var p authCodePersistence
	err := r.db.GetContext(ctx, &p, `SELECT * FROM oauth_authorization_codes WHERE code = $1`, code)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, oauth.ErrInvalidGrant("authorization code not found")
		}
		return nil, errx.Wrap(err, "failed to find authorization code", errx.TypeInternal)
	}
	return toDomain(p), nil
}

// ConsumeAtomically marks the code consumed with one UPDATE ... WHERE
// consumed_at IS NULL statement, returning the row as it stood before the
// update by reading it back inside the same transaction.
func (r *PostgresAuthorizationCodeRepository) ConsumeAtomically(ctx context.Context, code string) (*oauth.AuthorizationCode, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errx.Wrap(err, "failed to begin transaction", errx.TypeInternal)
	}
	defer tx.Rollback()

	var p authCodePersistence
	err = tx.GetContext(ctx, &p, `SELECT * FROM oauth_authorization_codes WHERE code = $1 FOR UPDATE`, code)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, oauth.ErrInvalidGrant("authorization code not found")
		}
		return nil, errx.Wrap(err, "failed to lock authorization code", errx.TypeInternal)
	}
	if p.ConsumedAt != nil {
		return nil, oauth.ErrInvalidGrant("authorization code already used")
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE oauth_authorization_codes SET consumed_at = $1 WHERE code = $2 AND consumed_at IS NULL`,
		time.Now().UTC(), code)
	if err != nil {
		return nil, errx.Wrap(err, "failed to consume authorization code", errx.TypeInternal)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, errx.Wrap(err, "failed to get rows affected", errx.TypeInternal)
	}
	if n == 0 {
		return nil, oauth.ErrInvalidGrant("authorization code already used")
	}

	if err := tx.Commit(); err != nil {
		return nil, errx.Wrap(err, "failed to commit consume", errx.TypeInternal)
	}
	return toDomain(p), nil
}

func (r *PostgresAuthorizationCodeRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM oauth_authorization_codes WHERE expires_at < $1`, before)
	if err != nil {
		return 0, errx.Wrap(err, "failed to delete expired authorization codes", errx.TypeInternal)
	}
	return result.RowsAffected()
}
