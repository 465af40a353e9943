package oauth

import (
	"context"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/kernel"
)

// AccessTokenRecord is the persisted side of a minted access token. Only the
// hash is stored; the literal JWT is never kept at rest.
type AccessTokenRecord struct {
	JTI       string
	TokenHash string
	UserID    *kernel.UserID
	ClientID  kernel.ClientID
	Scope     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

func (r *AccessTokenRecord) IsExpired() bool {
	return time.Now().UTC().After(r.ExpiresAt)
}

// RefreshTokenRecord is the persisted side of a minted refresh token,
// including its place in the rotation chain.
type RefreshTokenRecord struct {
	JTI             string
	TokenHash       string
	UserID          *kernel.UserID
	ClientID        kernel.ClientID
	Scope           string
	ExpiresAt       time.Time
	IsRevoked       bool
	RevokedAt       *time.Time
	PreviousTokenID *string
	CreatedAt       time.Time
}

func (r *RefreshTokenRecord) IsExpired() bool {
	return time.Now().UTC().After(r.ExpiresAt)
}

func (r *RefreshTokenRecord) IsUsable() bool {
	return !r.IsRevoked && !r.IsExpired()
}

// BlacklistEntry marks a jti as deny-listed regardless of what its token
// record says; the blacklist overrides an otherwise-valid token.
type BlacklistEntry struct {
	JTI       string
	TokenType TokenType
	ExpiresAt time.Time
}

// AccessTokenRepository is the abstract persistence contract for access
// token records.
type AccessTokenRepository interface {
	Save(ctx context.Context, t *AccessTokenRecord) error
	FindByJTI(ctx context.Context, jti string) (*AccessTokenRecord, error)
	// FindActiveByUserClient fetches candidate access tokens for cascade
	// revocation by (userId, clientId, expiresAt>now), avoiding an N+1 fetch
	// pattern per the design notes on cascading revocation.
	FindActiveByUserClient(ctx context.Context, userID *kernel.UserID, clientID kernel.ClientID) ([]*AccessTokenRecord, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// RefreshTokenRepository is the abstract persistence contract for refresh
// token records. Rotate MUST execute atomically: insert the new record,
// mark the old one revoked, and link previousTokenId, all within one
// transaction.
type RefreshTokenRepository interface {
	Save(ctx context.Context, t *RefreshTokenRecord) error
	FindByJTI(ctx context.Context, jti string) (*RefreshTokenRecord, error)
	// FindByPreviousTokenID locates the record that rotation produced from
	// previousJTI, letting replay detection revoke the live end of a chain
	// when an already-rotated-away token is presented again.
	FindByPreviousTokenID(ctx context.Context, previousJTI string) (*RefreshTokenRecord, error)
	Rotate(ctx context.Context, oldJTI string, next *RefreshTokenRecord) error
	Revoke(ctx context.Context, jti string) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// BlacklistRepository is the abstract persistence contract for the deny
// list. The repository is authoritative; any in-memory/Redis cache in front
// of it is best-effort only (see concurrency model).
type BlacklistRepository interface {
	Add(ctx context.Context, entry BlacklistEntry) error
	// BulkAdd inserts many entries in one round trip, used by cascading
	// revocation to avoid N+1 writes.
	BulkAdd(ctx context.Context, entries []BlacklistEntry) error
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}
