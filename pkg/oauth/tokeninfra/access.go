// Package tokeninfra implements the token-lifecycle repository ports
// (access tokens, refresh tokens, blacklist) against PostgreSQL, plus a
// Redis-backed cache in front of the blacklist so the hot-path
// IsBlacklisted check the resource-server gate makes on every request
// rarely touches Postgres.
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

type PostgresAccessTokenRepository struct {
	db *sqlx.DB
}

func NewPostgresAccessTokenRepository(db *sqlx.DB) oauth.AccessTokenRepository {
	return &PostgresAccessTokenRepository{db: db}
}

type accessTokenPersistence struct {
	JTI       string    `db:"jti"`
	TokenHash string    `db:"token_hash"`
	UserID    *string   `db:"user_id"`
	ClientID  string    `db:"client_id"`
	Scope     string    `db:"scope"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
}

func accessToDomain(p accessTokenPersistence) *oauth.AccessTokenRecord {
	var userID *kernel.UserID
	if p.UserID != nil {
		id := kernel.NewUserID(*p.UserID)
		userID = &id
	}
	return &oauth.AccessTokenRecord{
		JTI:       p.JTI,
		TokenHash: p.TokenHash,
		UserID:    userID,
		ClientID:  kernel.NewClientID(p.ClientID),
		Scope:     p.Scope,
		ExpiresAt: p.ExpiresAt,
		CreatedAt: p.CreatedAt,
	}
}

func userIDPtr(u *kernel.UserID) *string {
	if u == nil {
		return nil
	}
	s := u.String()
	return &s
}

func (r *PostgresAccessTokenRepository) Save(ctx context.Context, t *oauth.AccessTokenRecord) error {
	query := `
		INSERT INTO oauth_access_tokens (jti, token_hash, user_id, client_id, scope, expires_at, created_at)
		VALUES (:jti, :token_hash, :user_id, :client_id, :scope, :expires_at, :created_at)`
	p := accessTokenPersistence{
		JTI: t.JTI, TokenHash: t.TokenHash, UserID: userIDPtr(t.UserID),
		ClientID: t.ClientID.String(), Scope: t.Scope, ExpiresAt: t.ExpiresAt, CreatedAt: t.CreatedAt,
	}
	if _, err := r.db.NamedExecContext(ctx, query, p); err != nil {
		return errx.Wrap(err, "failed to save access token", errx.TypeInternal)
	}
	return nil
}

func (r *PostgresAccessTokenRepository) FindByJTI(ctx context.Context, jti string) (*oauth.AccessTokenRecord, error) {
	var p accessTokenPersistence
	err := r.db.GetContext(ctx, &p, `SELECT * FROM oauth_access_tokens WHERE jti = $1`, jti)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, oauth.ErrInvalidGrant("access token not found")
		}
		return nil, errx.Wrap(err, "failed to find access token", errx.TypeInternal)
	}
	return accessToDomain(p), nil
}

func (r *PostgresAccessTokenRepository) FindActiveByUserClient(ctx context.Context, userID *kernel.UserID, clientID kernel.ClientID) ([]*oauth.AccessTokenRecord, error) {
	var rows []accessTokenPersistence
	query := `
		SELECT * FROM oauth_access_tokens
		WHERE client_id = $1 AND expires_at > $2 AND user_id IS NOT DISTINCT FROM $3`
	err := r.db.SelectContext(ctx, &rows, query, clientID.String(), time.Now().UTC(), userIDPtr(userID))
	if err != nil {
		return nil, errx.Wrap(err, "failed to find active access tokens", errx.TypeInternal)
	}
	out := make([]*oauth.AccessTokenRecord, len(rows))
	for i, row := range rows {
		out[i] = accessToDomain(row)
	}
	return out, nil
}

func (r *PostgresAccessTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM oauth_access_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, errx.Wrap(err, "failed to delete expired access tokens", errx.TypeInternal)
	}
	return result.RowsAffected()
}
