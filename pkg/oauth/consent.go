package oauth

import (
	"context"
	"strings"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/kernel"
)

// ConsentGrant records a user's approval of a set of scopes for a client.
type ConsentGrant struct {
	UserID    kernel.UserID
	ClientID  kernel.ClientID
	Scopes    []string
	IssuedAt  time.Time
	ExpiresAt *time.Time
}

// Covers reports whether the grant already covers every requested scope.
func (g *ConsentGrant) Covers(requested []string) bool {
	if g == nil {
		return len(requested) == 0
	}
	if g.ExpiresAt != nil && g.ExpiresAt.Before(time.Now().UTC()) {
		return false
	}
	held := make(map[string]struct{}, len(g.Scopes))
	for _, s := range g.Scopes {
		held[s] = struct{}{}
	}
	for _, r := range requested {
		if _, ok := held[r]; !ok {
			return false
		}
	}
	return true
}

// ParseScope splits a space-joined scope string into its components,
// dropping empty fields from repeated separators.
func ParseScope(scope string) []string {
	fields := strings.Fields(scope)
	return fields
}

// JoinScope joins scope components back into the space-joined wire form.
func JoinScope(scopes []string) string {
	return strings.Join(scopes, " ")
}

// ConsentRepository is the abstract persistence contract for consent grants.
type ConsentRepository interface {
	Find(ctx context.Context, userID kernel.UserID, clientID kernel.ClientID) (*ConsentGrant, error)
	Upsert(ctx context.Context, grant *ConsentGrant) error
	Delete(ctx context.Context, userID kernel.UserID, clientID kernel.ClientID) error
}
