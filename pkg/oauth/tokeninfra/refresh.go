package tokeninfra

import (
	"context"
	"database/sql"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/errx"
	"github.com/Abraxas-365/manifesto/pkg/kernel"
	"github.com/Abraxas-365/manifesto/pkg/oauth"
	"github.com/jmoiron/sqlx"
)

type PostgresRefreshTokenRepository struct {
	db *sqlx.DB
}

func NewPostgresRefreshTokenRepository(db *sqlx.DB) oauth.RefreshTokenRepository {
	return &PostgresRefreshTokenRepository{db: db}
}

type refreshTokenPersistence struct {
	JTI             string     `db:"jti"`
	TokenHash       string     `db:"token_hash"`
	UserID          *string    `db:"user_id"`
	ClientID        string     `db:"client_id"`
	Scope           string     `db:"scope"`
	ExpiresAt       time.Time  `db:"expires_at"`
	IsRevoked       bool       `db:"is_revoked"`
	RevokedAt       *time.Time `db:"revoked_at"`
	PreviousTokenID *string    `db:"previous_token_id"`
	CreatedAt       time.Time  `db:"created_at"`
}

func refreshToDomain(p refreshTokenPersistence) *oauth.RefreshTokenRecord {
	var userID *kernel.UserID
	if p.UserID != nil {
		id := kernel.NewUserID(*p.UserID)
		userID = &id
	}
	return &oauth.RefreshTokenRecord{
		JTI:             p.JTI,
		TokenHash:       p.TokenHash,
		UserID:          userID,
		ClientID:        kernel.NewClientID(p.ClientID),
		Scope:           p.Scope,
		ExpiresAt:       p.ExpiresAt,
		IsRevoked:       p.IsRevoked,
		RevokedAt:       p.RevokedAt,
		PreviousTokenID: p.PreviousTokenID,
		CreatedAt:       p.CreatedAt,
	}
}

func (r *PostgresRefreshTokenRepository) Save(ctx context.Context, t *oauth.RefreshTokenRecord) error {
	query := `
		INSERT INTO oauth_refresh_tokens (
			jti, token_hash, user_id, client_id, scope, expires_at,
			is_revoked, revoked_at, previous_token_id, created_at
		) VALUES (
			:jti, :token_hash, :user_id, :client_id, :scope, :expires_at,
			:is_revoked, :revoked_at, :previous_token_id, :created_at
		)`
	p := refreshTokenPersistence{
		JTI: t.JTI, TokenHash: t.TokenHash, UserID: userIDPtr(t.UserID), ClientID: t.ClientID.String(),
		Scope: t.Scope, ExpiresAt: t.ExpiresAt, IsRevoked: t.IsRevoked, RevokedAt: t.RevokedAt,
		PreviousTokenID: t.PreviousTokenID, CreatedAt: t.CreatedAt,
	}
	if _, err := r.db.NamedExecContext(ctx, query, p); err != nil {
		return errx.Wrap(err, "failed to save refresh token", errx.TypeInternal)
	}
	return nil
}

func (r *PostgresRefreshTokenRepository) FindByJTI(ctx context.Context, jti string) (*oauth.RefreshTokenRecord, error) {
	var p refreshTokenPersistence
	err := r.db.GetContext(ctx, &p, `SELECT * FROM oauth_refresh_tokens WHERE jti = $1`, jti)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, oauth.ErrInvalidGrant("refresh token not found")
		}
		return nil, errx.Wrap(err, "failed to find refresh token", errx.TypeInternal)
	}
	return refreshToDomain(p), nil
}

func (r *PostgresRefreshTokenRepository) FindByPreviousTokenID(ctx context.Context, previousJTI string) (*oauth.RefreshTokenRecord, error) {
	var p refreshTokenPersistence
	err := r.db.GetContext(ctx, &p, `SELECT * FROM oauth_refresh_tokens WHERE previous_token_id = $1`, previousJTI)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errx.Wrap(err, "failed to find descendant refresh token", errx.TypeInternal)
	}
	return refreshToDomain(p), nil
}

// Rotate inserts the new record, marks the old one revoked, and links
// previousTokenId, all inside one transaction, so a crash between the two
// writes can never leave both tokens simultaneously valid.
func (r *PostgresRefreshTokenRepository) Rotate(ctx context.Context, oldJTI string, next *oauth.RefreshTokenRecord) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errx.Wrap(err, "failed to begin rotate transaction", errx.TypeInternal)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE oauth_refresh_tokens SET is_revoked = true, revoked_at = $1 WHERE jti = $2 AND is_revoked = false`,
		time.Now().UTC(), oldJTI)
	if err != nil {
		return errx.Wrap(err, "failed to revoke prior refresh token", errx.TypeInternal)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errx.Wrap(err, "failed to get rows affected on rotate", errx.TypeInternal)
	}
	if n == 0 {
		return oauth.ErrInvalidGrant("refresh token already rotated or revoked")
	}

	query := `
		INSERT INTO oauth_refresh_tokens (
			jti, token_hash, user_id, client_id, scope, expires_at,
			is_revoked, revoked_at, previous_token_id, created_at
		) VALUES (
			:jti, :token_hash, :user_id, :client_id, :scope, :expires_at,
			:is_revoked, :revoked_at, :previous_token_id, :created_at
		)`
	p := refreshTokenPersistence{
		JTI: next.JTI, TokenHash: next.TokenHash, UserID: userIDPtr(next.UserID), ClientID: next.ClientID.String(),
		Scope: next.Scope, ExpiresAt: next.ExpiresAt, IsRevoked: next.IsRevoked, RevokedAt: next.RevokedAt,
		PreviousTokenID: &oldJTI, CreatedAt: next.CreatedAt,
	}
	if _, err := tx.NamedExecContext(ctx, query, p); err != nil {
		return errx.Wrap(err, "failed to insert rotated refresh token", errx.TypeInternal)
	}

	if err := tx.Commit(); err != nil {
		return errx.Wrap(err, "failed to commit rotate", errx.TypeInternal)
	}
	return nil
}

func (r *PostgresRefreshTokenRepository) Revoke(ctx context.Context, jti string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE oauth_refresh_tokens SET is_revoked = true, revoked_at = $1 WHERE jti = $2`,
		time.Now().UTC(), jti)
	if err != nil {
		return errx.Wrap(err, "failed to revoke refresh token", errx.TypeInternal)
	}
	return nil
}

func (r *PostgresRefreshTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM oauth_refresh_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, errx.Wrap(err, "failed to delete expired refresh tokens", errx.TypeInternal)
	}
	return result.RowsAffected()
}
