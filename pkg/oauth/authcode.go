package oauth

import (
	"context"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/kernel"
)

// DefaultAuthorizationCodeLifetime is used when a client does not override it.
const DefaultAuthorizationCodeLifetime = 600 * time.Second

// AuthorizationCode is a short-lived, single-use credential binding a user
// session to a client and a PKCE challenge.
type AuthorizationCode struct {
	Code                string
	UserID              kernel.UserID
	ClientID            kernel.ClientID
	RedirectURI         string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod CodeChallengeMethod
	Nonce               string
	ExpiresAt           time.Time
	ConsumedAt          *time.Time
	CreatedAt           time.Time
}

// IsExpired reports whether the code has passed its expiry.
func (c *AuthorizationCode) IsExpired() bool {
	return time.Now().UTC().After(c.ExpiresAt)
}

// IsConsumed reports whether the code has already been redeemed. Per the
// single-use invariant: a consumed code must not be redeemable again.
func (c *AuthorizationCode) IsConsumed() bool {
	return c.ConsumedAt != nil
}

// AuthorizationCodeRepository is the abstract persistence contract for
// authorization codes. ConsumeAtomically MUST be implemented so that two
// concurrent callers racing on the same code observe exactly one success -
// typically a single UPDATE ... WHERE consumed_at IS NULL statement inside a
// transaction, or an equivalent compare-and-swap.
type AuthorizationCodeRepository interface {
	Save(ctx context.Context, c *AuthorizationCode) error
	FindByCode(ctx context.Context, code string) (*AuthorizationCode, error)
	// ConsumeAtomically marks the code consumed and returns the code as it
	// stood immediately before consumption. It returns ErrAlreadyConsumed-
	// shaped errors (via the oauth error registry) if another caller won the
	// race or the code does not exist.
	ConsumeAtomically(ctx context.Context, code string) (*AuthorizationCode, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
