// Package consentinfra implements oauth.ConsentRepository against PostgreSQL.
package consentinfra

import (
	"context"
	"database/sql"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/errx"
	"github.com/Abraxas-365/manifesto/pkg/kernel"
	"github.com/Abraxas-365/manifesto/pkg/oauth"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type PostgresConsentRepository struct {
	db *sqlx.DB
}

func NewPostgresConsentRepository(db *sqlx.DB) oauth.ConsentRepository {
	return &PostgresConsentRepository{db: db}
}

type consentPersistence struct {
	UserID    string         `db:"user_id"`
	ClientID  string         `db:"client_id"`
	Scopes    pq.StringArray `db:"scopes"`
	IssuedAt  time.Time      `db:"issued_at"`
	ExpiresAt *time.Time     `db:"expires_at"`
}

func (r *PostgresConsentRepository) Find(ctx context.Context, userID kernel.UserID, clientID kernel.ClientID) (*oauth.ConsentGrant, error) {
	var p consentPersistence
	err := r.db.GetContext(ctx, &p,
		`SELECT * FROM oauth_consent_grants WHERE user_id = $1 AND client_id = $2`,
		userID.String(), clientID.String())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errx.Wrap(err, "failed to find consent grant", errx.TypeInternal)
	}
	return &oauth.ConsentGrant{
		UserID:    kernel.NewUserID(p.UserID),
		ClientID:  kernel.NewClientID(p.ClientID),
		Scopes:    p.Scopes,
		IssuedAt:  p.IssuedAt,
		ExpiresAt: p.ExpiresAt,
	}, nil
}

func (r *PostgresConsentRepository) Upsert(ctx context.Context, grant *oauth.ConsentGrant) error {
	query := `
		INSERT INTO oauth_consent_grants (user_id, client_id, scopes, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, client_id) DO UPDATE SET
			scopes = EXCLUDED.scopes,
			issued_at = EXCLUDED.issued_at,
			expires_at = EXCLUDED.expires_at`
	_, err := r.db.ExecContext(ctx, query,
		grant.UserID.String(), grant.ClientID.String(), pq.StringArray(grant.Scopes), grant.IssuedAt, grant.ExpiresAt)
	if err != nil {
		return errx.Wrap(err, "failed to upsert consent grant", errx.TypeInternal)
	}
	return nil
}

func (r *PostgresConsentRepository) Delete(ctx context.Context, userID kernel.UserID, clientID kernel.ClientID) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM oauth_consent_grants WHERE user_id = $1 AND client_id = $2`,
		userID.String(), clientID.String())
	if err != nil {
		return errx.Wrap(err, "failed to delete consent grant", errx.TypeInternal)
	}
	return nil
}
