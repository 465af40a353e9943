package tokeninfra

import (
	"context"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/errx"
	"github.com/Abraxas-365/manifesto/pkg/oauth"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type PostgresBlacklistRepository struct {
	db *sqlx.DB
}

func NewPostgresBlacklistRepository(db *sqlx.DB) oauth.BlacklistRepository {
	return &PostgresBlacklistRepository{db: db}
}

func (r *PostgresBlacklistRepository) Add(ctx context.Context, entry oauth.BlacklistEntry) error {
	query := `
		INSERT INTO oauth_token_blacklist (jti, token_type, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (jti) DO NOTHING`
	_, err := r.db.ExecContext(ctx, query, entry.JTI, string(entry.TokenType), entry.ExpiresAt)
	if err != nil {
		return errx.Wrap(err, "failed to add blacklist entry", errx.TypeInternal)
	}
	return nil
}

// BulkAdd inserts every entry in one round trip using pq.CopyIn, so
// cascading revocation of a user's whole token family costs one statement
// instead of N.
func (r *PostgresBlacklistRepository) BulkAdd(ctx context.Context, entries []oauth.BlacklistEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errx.Wrap(err, "failed to begin bulk blacklist transaction", errx.TypeInternal)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("oauth_token_blacklist", "jti", "token_type", "expires_at"))
	if err != nil {
		return errx.Wrap(err, "failed to prepare bulk blacklist copy", errx.TypeInternal)
	}
	for _, entry := range entries {
		if _, err := stmt.ExecContext(ctx, entry.JTI, string(entry.TokenType), entry.ExpiresAt); err != nil {
			stmt.Close()
			return errx.Wrap(err, "failed to stage blacklist entry", errx.TypeInternal)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return errx.Wrap(err, "failed to flush bulk blacklist copy", errx.TypeInternal)
	}
	if err := stmt.Close(); err != nil {
		return errx.Wrap(err, "failed to close bulk blacklist copy", errx.TypeInternal)
	}
	if err := tx.Commit(); err != nil {
		return errx.Wrap(err, "failed to commit bulk blacklist", errx.TypeInternal)
	}
	return nil
}

func (r *PostgresBlacklistRepository) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM oauth_token_blacklist WHERE jti = $1)`, jti)
	if err != nil {
		return false, errx.Wrap(err, "failed to check blacklist", errx.TypeInternal)
	}
	return exists, nil
}

func (r *PostgresBlacklistRepository) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM oauth_token_blacklist WHERE expires_at < $1`, before)
	if err != nil {
		return 0, errx.Wrap(err, "failed to purge expired blacklist entries", errx.TypeInternal)
	}
	return result.RowsAffected()
}
